package commands

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"panelwatch/internal/notify"
	"panelwatch/internal/scan"
	"panelwatch/internal/store"
	"panelwatch/lib/configutil"
)

type PanelConfig struct {
	BaseUrl string `json:"base_url" env:"PANEL_BASE_URL"`
	// ApiUrl defaults to <base_url>/_api.
	ApiUrl string `json:"api_url" env:"PANEL_API_URL"`
	// OptimisticSession treats a session as active when the login page
	// never showed up while polling.
	OptimisticSession bool `json:"optimistic_session" env:"PANEL_OPTIMISTIC_SESSION"`
	// ApiDumpDir receives every exchange with the api when set.
	ApiDumpDir string `json:"api_dump_dir" env:"PANEL_API_DUMP_DIR"`
}

type BrowserConfig struct {
	Headed     bool   `json:"headed" env:"BROWSER_HEADED"`
	ProfileDir string `json:"profile_dir" env:"BROWSER_PROFILE_DIR"`
	ExecPath   string `json:"exec_path" env:"CHROME_BIN"`
	Lang       string `json:"lang" env:"BROWSER_LANG"`
	UserAgent  string `json:"user_agent" env:"BROWSER_USER_AGENT"`
}

// ScanConfig holds durations in seconds.
type ScanConfig struct {
	Interval            int `json:"interval" env:"PANEL_SCAN_INTERVAL"`
	CycleTimeout        int `json:"cycle_timeout" env:"PANEL_CYCLE_TIMEOUT"`
	LoginTimeout        int `json:"login_timeout" env:"PANEL_LOGIN_TIMEOUT"`
	MaxRecoveryFailures int `json:"max_recovery_failures" env:"PANEL_MAX_RECOVERY_FAILURES"`
	BackoffStep         int `json:"backoff_step" env:"PANEL_BACKOFF_STEP"`
	BackoffMax          int `json:"backoff_max" env:"PANEL_BACKOFF_MAX"`
}

type HttpConfig struct {
	Addr string `json:"addr" env:"PANELWATCH_HTTP_ADDR"`
}

type Config struct {
	Panel   PanelConfig       `json:"panel"`
	Browser BrowserConfig     `json:"browser"`
	Scan    ScanConfig        `json:"scan"`
	Http    HttpConfig        `json:"http"`
	Store   store.Config      `json:"store"`
	Smtp    notify.SmtpConfig `json:"smtp"`

	// SessionSeed is a persisted session to start from when the
	// credential store is still empty.
	SessionSeed string `json:"-" env:"AUTH_SESSION_JSON"`
}

func Defaults() Config {
	opts := scan.DefaultOptions()
	return Config{
		Panel: PanelConfig{
			BaseUrl: "https://cronos.redlanegaming.com",
		},
		Browser: BrowserConfig{
			ProfileDir: ".panelwatch/profile",
			Lang:       "tr-TR",
		},
		Scan: ScanConfig{
			Interval:            int(opts.Interval / time.Second),
			CycleTimeout:        int(opts.CycleTimeout / time.Second),
			LoginTimeout:        int(opts.LoginTimeout / time.Second),
			MaxRecoveryFailures: opts.MaxRecoveryFailures,
			BackoffStep:         int(opts.BackoffStep / time.Second),
			BackoffMax:          int(opts.BackoffMax / time.Second),
		},
		Http: HttpConfig{
			Addr: ":8000",
		},
		Store: store.Config{
			Path: ".panelwatch/panelwatch.db",
		},
	}
}

// LoadConfig reads path (and its .local override) on top of Defaults,
// then applies the environment.
func LoadConfig(path string) (Config, error) {
	cfg, err := configutil.ReadWithDefaults(path, Defaults())
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	u, err := url.Parse(c.Panel.BaseUrl)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("panel.base_url %q is not an absolute url", c.Panel.BaseUrl)
	}
	if c.Scan.Interval <= 0 {
		return fmt.Errorf("scan.interval must be positive, got %d", c.Scan.Interval)
	}
	if c.Scan.MaxRecoveryFailures <= 0 {
		return fmt.Errorf("scan.max_recovery_failures must be positive, got %d", c.Scan.MaxRecoveryFailures)
	}
	return nil
}

// Origin is the base url without a trailing slash.
func (c Config) Origin() string {
	return strings.TrimSuffix(c.Panel.BaseUrl, "/")
}

func (c Config) ApiUrl() string {
	if c.Panel.ApiUrl != "" {
		return c.Panel.ApiUrl
	}
	return c.Origin() + "/_api"
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// ScanOptions converts the configuration into orchestrator options,
// keeping defaults for anything left at zero.
func (c Config) ScanOptions() scan.Options {
	opts := scan.DefaultOptions()
	if c.Scan.Interval > 0 {
		opts.Interval = seconds(c.Scan.Interval)
	}
	if c.Scan.CycleTimeout > 0 {
		opts.CycleTimeout = seconds(c.Scan.CycleTimeout)
	}
	if c.Scan.LoginTimeout > 0 {
		opts.LoginTimeout = seconds(c.Scan.LoginTimeout)
	}
	if c.Scan.MaxRecoveryFailures > 0 {
		opts.MaxRecoveryFailures = c.Scan.MaxRecoveryFailures
	}
	if c.Scan.BackoffStep > 0 {
		opts.BackoffStep = seconds(c.Scan.BackoffStep)
	}
	if c.Scan.BackoffMax > 0 {
		opts.BackoffMax = seconds(c.Scan.BackoffMax)
	}
	return opts
}
