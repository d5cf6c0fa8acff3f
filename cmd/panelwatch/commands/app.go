package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"panelwatch/internal/components/chrono"
	"panelwatch/internal/components/telemetry"
	"panelwatch/internal/driver"
	"panelwatch/internal/notify"
	"panelwatch/internal/panelapi"
	"panelwatch/internal/scan"
	"panelwatch/internal/scrapers/panel"
	"panelwatch/internal/store"
)

// openStore opens the configured store and applies the session seed.
func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	s, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	_, err = seedCredentials(ctx, s, cfg.SessionSeed, cfg.Origin())
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func newApiClient(cfg Config, creds store.CredentialStore, tel telemetry.API) (*panelapi.Client, error) {
	client := panelapi.NewClient(cfg.ApiUrl(), creds, tel)
	if cfg.Panel.ApiDumpDir != "" {
		err := client.DumpTo(cfg.Panel.ApiDumpDir)
		if err != nil {
			return nil, err
		}
	}
	return client, nil
}

// app is every long lived component wired together.
type app struct {
	cfg   Config
	tel   telemetry.API
	clock chrono.API
	store store.Store

	browser   *driver.Chrome
	bypass    *panel.ChallengeHandler
	session   *panel.Session
	filter    *panel.FilterController
	extractor *panel.Extractor
	api       *panelapi.Client
	alerter   scan.Alerter
}

func newApp(ctx context.Context, cfg Config, headed bool) (*app, error) {
	tel := telemetry.SlogAPI{}
	clock := chrono.NewStandardImpl()

	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	startCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	browser, err := driver.NewChrome(startCtx, driver.ChromeOptions{
		Headless:    !headed,
		UserDataDir: cfg.Browser.ProfileDir,
		ExecPath:    cfg.Browser.ExecPath,
		Lang:        cfg.Browser.Lang,
		UserAgent:   cfg.Browser.UserAgent,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	origin := cfg.Origin()
	classifier := panel.DefaultClassifier()
	bypass := panel.NewChallengeHandler(browser, classifier, clock, tel, origin)
	session := panel.NewSession(browser, bypass, s, clock, tel, panel.SessionOptions{
		Origin:             origin,
		OptimisticFallback: cfg.Panel.OptimisticSession,
		Classifier:         classifier,
	})
	filter := panel.NewFilterController(
		browser,
		panel.VueStateHandle{Driver: browser},
		panel.DOMStateHandle{Driver: browser},
		clock,
		tel,
		origin,
		panel.FilterTimings{},
	)

	api, err := newApiClient(cfg, s, tel)
	if err != nil {
		browser.Close()
		s.Close()
		return nil, err
	}

	var alerter scan.Alerter = notify.Nop{}
	if cfg.Smtp.Enabled() {
		alerter = notify.NewMailer(cfg.Smtp, tel)
	} else {
		slog.Info("smtp not configured, alerts are only logged")
	}

	return &app{
		cfg:       cfg,
		tel:       tel,
		clock:     clock,
		store:     s,
		browser:   browser,
		bypass:    bypass,
		session:   session,
		filter:    filter,
		extractor: panel.NewExtractor(browser, tel),
		api:       api,
		alerter:   alerter,
	}, nil
}

func (a *app) orchestrator(publisher scan.Publisher) (*scan.Orchestrator, error) {
	return scan.New(scan.Deps{
		Session:   a.session,
		Bypass:    a.bypass,
		Filter:    a.filter,
		Extractor: a.extractor,
		Publisher: publisher,
		Alerter:   a.alerter,
		Clock:     a.clock,
		Telemetry: a.tel,
	}, a.cfg.ScanOptions())
}

func (a *app) Close() {
	a.browser.Close()
	err := a.store.Close()
	if err != nil {
		slog.Warn("close store", "err", err)
	}
}
