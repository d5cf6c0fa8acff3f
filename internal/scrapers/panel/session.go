package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"panelwatch/internal/components/assert"
	"panelwatch/internal/components/chrono"
	"panelwatch/internal/components/telemetry"
	"panelwatch/internal/driver"
	"panelwatch/internal/store"
)

const (
	report_session_validate = "session.validate-or-restore"
	report_session_restore  = "session.restore"
	report_session_persist  = "session.persist"
	report_session_login    = "session.wait-for-interactive-login"
	report_session_active   = "session.is-active"
)

type SessionState string

const (
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionChallenged      SessionState = "challenged"
	SessionAuthenticating  SessionState = "authenticating"
	SessionActive          SessionState = "active"
	SessionExpired         SessionState = "expired"
)

// TokenKey is the localStorage key a usable session must carry.
const TokenKey = "access_token"

type SessionTimings struct {
	// Settle is waited after navigating to the origin.
	Settle time.Duration
	// ChallengeSettle is waited after bypassing a challenge.
	ChallengeSettle time.Duration
	PollInterval    time.Duration
	PollAttempts    int
	// RestoreSettle is waited after restoring a persisted session.
	RestoreSettle time.Duration
	LoginPoll     time.Duration
	// LoginSettle is waited once an interactive login reached the panel.
	LoginSettle   time.Duration
	BypassTimeout time.Duration
}

func DefaultSessionTimings() SessionTimings {
	return SessionTimings{
		Settle:          time.Second * 5,
		ChallengeSettle: time.Second * 3,
		PollInterval:    time.Second * 2,
		PollAttempts:    5,
		RestoreSettle:   time.Second * 8,
		LoginPoll:       time.Second * 3,
		LoginSettle:     time.Second * 2,
		BypassTimeout:   time.Second * 60,
	}
}

type SessionOptions struct {
	Origin string
	// OptimisticFallback treats a session as active when polling ran out
	// without ever seeing the login page.
	OptimisticFallback bool
	Timings            SessionTimings
	Classifier         PageClassifier
}

// Session owns the authentication state of the browser tab.
type Session struct {
	driver driver.Driver
	bypass Bypasser
	creds  store.CredentialStore
	clock  chrono.API
	tel    telemetry.API
	opts   SessionOptions

	mu    sync.Mutex
	state SessionState
}

func NewSession(
	d driver.Driver,
	bypass Bypasser,
	creds store.CredentialStore,
	clock chrono.API,
	tel telemetry.API,
	opts SessionOptions,
) *Session {
	assert.NotNil(d)
	assert.NotNil(bypass)
	assert.NotNil(creds)
	assert.NotNil(clock)
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.Origin)

	if opts.Classifier == nil {
		opts.Classifier = DefaultClassifier()
	}
	if opts.Timings == (SessionTimings{}) {
		opts.Timings = DefaultSessionTimings()
	}

	return &Session{
		driver: d,
		bypass: bypass,
		creds:  creds,
		clock:  clock,
		tel:    telemetry.NewScopedAPI("session", tel),
		opts:   opts,
		state:  SessionUnauthenticated,
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if prev != state {
		s.tel.ReportDebug("session state changed", telemetry.KV{Key: "from", Value: prev}, telemetry.KV{Key: "to", Value: state})
	}
}

func (s *Session) activate(ctx context.Context) {
	s.setState(SessionActive)
	err := s.Persist(ctx)
	if err != nil {
		s.tel.ReportWarning(report_session_persist, err)
	}
}

// ValidateOrRestore checks whether the browser profile still holds a valid
// session and otherwise tries the persisted credentials.
func (s *Session) ValidateOrRestore(ctx context.Context) SessionState {
	t := s.opts.Timings

	err := s.driver.Navigate(ctx, s.opts.Origin)
	if err != nil {
		s.tel.ReportWarning(report_session_validate, err)
	}
	if s.clock.Sleep(ctx, t.Settle) != nil {
		return s.State()
	}

	page, err := readPage(ctx, s.driver, s.opts.Classifier)
	if err == nil && page.Kind == PageChallenge {
		s.setState(SessionChallenged)
		if !s.bypass.Bypass(ctx, t.BypassTimeout) {
			s.tel.ReportWarning(report_session_validate, "challenge was not bypassed")
		}
		if s.clock.Sleep(ctx, t.ChallengeSettle) != nil {
			return s.State()
		}
	}

	var last Page
	seen := false
	sawLogin := false
	for i := 0; i < t.PollAttempts; i++ {
		if s.clock.Sleep(ctx, t.PollInterval) != nil {
			return s.State()
		}
		page, err := readPage(ctx, s.driver, s.opts.Classifier)
		if err != nil {
			s.tel.ReportDebug("session check unreadable", i+1, err)
			continue
		}
		last = page
		seen = true
		s.tel.ReportDebug("session check", i+1, page.Title, page.URL)

		if page.Kind == PageLogin {
			sawLogin = true
			s.setState(SessionUnauthenticated)
			break
		}
		if page.Kind == PageAuthenticated {
			s.activate(ctx)
			return SessionActive
		}
	}

	if !sawLogin && s.opts.OptimisticFallback && seen &&
		last.Kind != PageLogin && last.Kind != PageChallenge {
		s.tel.ReportDebug("assuming active session, login page never shown", last.Title)
		s.activate(ctx)
		return SessionActive
	}

	if s.restore(ctx) {
		return SessionActive
	}

	s.setState(SessionUnauthenticated)
	return SessionUnauthenticated
}

func injectStorageScript(items map[string]string) (string, error) {
	encoded, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"var items = %s; var n = 0; for (var k in items) { localStorage.setItem(k, items[k]); n++; } return n;",
		encoded,
	), nil
}

const readStorageScript = `
var out = {};
for (var i = 0; i < localStorage.length; i++) {
	var k = localStorage.key(i);
	out[k] = localStorage.getItem(k);
}
return out;
`

func (s *Session) restore(ctx context.Context) bool {
	creds, err := s.creds.LoadCredentials(ctx)
	if errors.Is(err, store.ErrNotFound) {
		s.tel.ReportDebug("no persisted session to restore")
		return false
	}
	if err != nil {
		s.tel.ReportWarning(report_session_restore, err)
		return false
	}
	if creds.Get(TokenKey) == "" {
		s.tel.ReportDebug("persisted session has no token")
		return false
	}

	s.setState(SessionAuthenticating)

	script, err := injectStorageScript(creds.LocalStorage)
	if err != nil {
		s.tel.ReportWarning(report_session_restore, err)
		return false
	}
	err = s.driver.Evaluate(ctx, script, nil)
	if err != nil {
		s.tel.ReportWarning(report_session_restore, err)
		return false
	}

	if jar, ok := s.driver.(driver.CookieJar); ok && len(creds.Cookies) > 0 {
		err = jar.SetCookies(ctx, creds.Cookies)
		if err != nil {
			s.tel.ReportWarning(report_session_restore, err)
		}
	}

	err = s.driver.Navigate(ctx, s.opts.Origin)
	if err != nil {
		s.tel.ReportWarning(report_session_restore, err)
	}
	if s.clock.Sleep(ctx, s.opts.Timings.RestoreSettle) != nil {
		return false
	}

	page, err := readPage(ctx, s.driver, s.opts.Classifier)
	if err != nil {
		s.tel.ReportWarning(report_session_restore, err)
		return false
	}
	if page.Kind == PageLogin || page.Kind == PageChallenge {
		s.tel.ReportDebug("restored session rejected", page.Title, page.URL)
		return false
	}

	s.tel.ReportDebug("session restored from persisted credentials", creds.SavedAt)
	s.activate(ctx)
	return true
}

// WaitForInteractiveLogin waits up to maxWait for a human to log in through
// the browser window.
func (s *Session) WaitForInteractiveLogin(ctx context.Context, maxWait time.Duration) bool {
	t := s.opts.Timings
	s.setState(SessionAuthenticating)

	start := s.clock.Now()
	for {
		elapsed := s.clock.Now().Sub(start)
		if elapsed >= maxWait {
			break
		}
		err := s.clock.Sleep(ctx, min(t.LoginPoll, maxWait-elapsed))
		if err != nil {
			s.setState(SessionUnauthenticated)
			return false
		}

		page, err := readPage(ctx, s.driver, s.opts.Classifier)
		if err != nil {
			s.tel.ReportDebug("page unreadable while waiting for login", err)
			continue
		}
		if page.Kind == PageChallenge || page.Kind == PageLogin {
			s.tel.ReportDebug("waiting for login", s.clock.Now().Sub(start).String(), page.Title)
			continue
		}

		s.tel.ReportDebug("panel reached after login", page.Title)
		if s.clock.Sleep(ctx, t.LoginSettle) != nil {
			s.setState(SessionUnauthenticated)
			return false
		}
		s.activate(ctx)
		return true
	}

	s.tel.ReportWarning(report_session_login, "timed out after", maxWait.String())
	s.setState(SessionUnauthenticated)
	return false
}

// IsActive re-checks the current page without navigating. Becoming active
// persists the session.
func (s *Session) IsActive(ctx context.Context) bool {
	page, err := readPage(ctx, s.driver, s.opts.Classifier)
	active := err == nil && page.Kind != PageLogin && page.Kind != PageChallenge
	if err != nil {
		s.tel.ReportWarning(report_session_active, err)
	}

	s.mu.Lock()
	prev := s.state
	s.mu.Unlock()

	switch {
	case active && prev != SessionActive:
		s.activate(ctx)
	case active:
	case prev == SessionActive:
		s.setState(SessionExpired)
	}
	return active
}

// Persist saves localStorage (and cookies when the driver has a cookie jar)
// of the current page. An empty localStorage is not saved.
func (s *Session) Persist(ctx context.Context) error {
	var items map[string]string
	err := s.driver.Evaluate(ctx, readStorageScript, &items)
	if err != nil {
		return fmt.Errorf("read local storage: %w", err)
	}
	if len(items) == 0 {
		s.tel.ReportDebug("local storage is empty, not persisting")
		return nil
	}

	creds := store.Credentials{
		LocalStorage: items,
		SavedAt:      s.clock.Now(),
	}
	if jar, ok := s.driver.(driver.CookieJar); ok {
		cookies, err := jar.Cookies(ctx, s.opts.Origin)
		if err != nil {
			s.tel.ReportWarning(report_session_persist, err)
		} else {
			creds.Cookies = cookies
		}
	}

	err = s.creds.SaveCredentials(ctx, creds)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}
