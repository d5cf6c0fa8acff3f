package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"panelwatch/internal/components/chrono/chronotest"
	"panelwatch/internal/components/telemetry/telemetrytest"
	"panelwatch/internal/publish"
	"panelwatch/internal/scrapers/panel"
	"panelwatch/internal/withdrawal"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu         sync.Mutex
	validate   panel.SessionState
	login      bool
	active     []bool
	state      panel.SessionState
	persists   int
	loginWaits []time.Duration
	checks     int
}

func (s *fakeSession) State() panel.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) ValidateOrRestore(ctx context.Context) panel.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.validate
	return s.validate
}

func (s *fakeSession) WaitForInteractiveLogin(ctx context.Context, maxWait time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginWaits = append(s.loginWaits, maxWait)
	if s.login {
		s.state = panel.SessionActive
	}
	return s.login
}

// IsActive consumes the next scripted answer, the last one repeats.
func (s *fakeSession) IsActive(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := min(s.checks, len(s.active)-1)
	s.checks++
	active := idx >= 0 && s.active[idx]
	if active {
		s.state = panel.SessionActive
	} else if s.state == panel.SessionActive {
		s.state = panel.SessionExpired
	}
	return active
}

func (s *fakeSession) Persist(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persists++
	return nil
}

type fakeBypass struct {
	calls int
}

func (b *fakeBypass) Bypass(ctx context.Context, timeout time.Duration) bool {
	b.calls++
	return false
}

type fakeFilter struct {
	visited  []withdrawal.Status
	fail     map[withdrawal.Status]error
	declared map[withdrawal.Status]int
	current  withdrawal.Status
	resets   int
}

func (f *fakeFilter) SelectStatus(ctx context.Context, status withdrawal.Status) error {
	f.visited = append(f.visited, status)
	f.current = status
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.fail[status]
}

func (f *fakeFilter) DeclaredCount(ctx context.Context) (int, bool) {
	n, ok := f.declared[f.current]
	return n, ok
}

func (f *fakeFilter) Reset() {
	f.resets++
}

type fakeExtractor struct {
	filter  *fakeFilter
	rows    map[withdrawal.Status][]withdrawal.Record
	caption map[withdrawal.Status]int
}

func (e *fakeExtractor) ReadVisibleRows(ctx context.Context, status withdrawal.Status) ([]withdrawal.Record, error) {
	return e.rows[status], nil
}

func (e *fakeExtractor) ReadDeclaredCount(ctx context.Context) (int, bool) {
	n, ok := e.caption[e.filter.current]
	return n, ok
}

type published struct {
	Tag     publish.Tag
	Message string
	Result  *withdrawal.ScanResult
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []published
	phases    []string
	onPublish func(p published)
}

func (p *recordingPublisher) Publish(ctx context.Context, result *withdrawal.ScanResult, tag publish.Tag, message string) {
	entry := published{Tag: tag, Message: message, Result: result}
	p.mu.Lock()
	p.published = append(p.published, entry)
	hook := p.onPublish
	p.mu.Unlock()
	if hook != nil {
		hook(entry)
	}
}

func (p *recordingPublisher) SetPhase(phase string, failures int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phases = append(p.phases, phase)
}

func (p *recordingPublisher) tags() []publish.Tag {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publish.Tag
	for _, entry := range p.published {
		out = append(out, entry.Tag)
	}
	return out
}

type recordingAlerter struct {
	subjects []string
}

func (a *recordingAlerter) Alert(ctx context.Context, subject, body string) error {
	a.subjects = append(a.subjects, subject)
	return nil
}

// hangingAlerter never finishes sending until its context ends.
type hangingAlerter struct {
	calls int
}

func (a *hangingAlerter) Alert(ctx context.Context, subject, body string) error {
	a.calls++
	<-ctx.Done()
	return ctx.Err()
}

type fixture struct {
	session   *fakeSession
	bypass    *fakeBypass
	filter    *fakeFilter
	extractor *fakeExtractor
	publisher *recordingPublisher
	alerter   *recordingAlerter
	clock     *chronotest.Clock
	tel       *telemetrytest.Recorder
	opts      Options
}

func newFixture() *fixture {
	filter := &fakeFilter{
		fail:     map[withdrawal.Status]error{},
		declared: map[withdrawal.Status]int{},
	}
	return &fixture{
		session: &fakeSession{
			validate: panel.SessionActive,
			active:   []bool{true},
		},
		bypass: &fakeBypass{},
		filter: filter,
		extractor: &fakeExtractor{
			filter:  filter,
			rows:    map[withdrawal.Status][]withdrawal.Record{},
			caption: map[withdrawal.Status]int{},
		},
		publisher: &recordingPublisher{},
		alerter:   &recordingAlerter{},
		clock:     chronotest.NewClock(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)),
		tel:       &telemetrytest.Recorder{},
		opts:      DefaultOptions(),
	}
}

func (f *fixture) build(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(Deps{
		Session:   f.session,
		Bypass:    f.bypass,
		Filter:    f.filter,
		Extractor: f.extractor,
		Publisher: f.publisher,
		Alerter:   f.alerter,
		Clock:     f.clock,
		Telemetry: f.tel,
	}, f.opts)
	require.NoError(t, err)
	return o
}

func rec(id, amount string) withdrawal.Record {
	parsed, _ := withdrawal.ParseAmount(amount)
	return withdrawal.Record{ID: id, AmountText: amount, Amount: parsed}
}

func TestBackoff(t *testing.T) {
	opts := DefaultOptions()
	cases := []struct {
		failures int
		expect   time.Duration
	}{
		{failures: 1, expect: time.Second * 30},
		{failures: 4, expect: time.Second * 120},
		{failures: 10, expect: time.Second * 300},
		{failures: 50, expect: time.Second * 300},
	}
	for _, testCase := range cases {
		require.Equal(t, testCase.expect, opts.Backoff(testCase.failures), "failures=%d", testCase.failures)
	}
}

func TestCycleVisitsEveryStatusOnce(t *testing.T) {
	f := newFixture()
	f.filter.fail[withdrawal.StatusReserved] = errors.New("evaluate: timeout")
	f.filter.fail[withdrawal.StatusProcessing] = fmt.Errorf("select processing: %w", panel.ErrStructural)
	f.filter.declared[withdrawal.StatusPending] = 7
	f.extractor.rows[withdrawal.StatusPending] = []withdrawal.Record{rec("1", "1.234,50 TRY"), rec("2", "500")}
	o := f.build(t)

	result := o.cycle(context.Background())

	require.Equal(t, withdrawal.Statuses, f.filter.visited)
	require.Len(t, result.Buckets, 3)
	require.NotEmpty(t, result.ID)

	pending := result.Buckets[0]
	require.False(t, pending.Failed)
	require.Equal(t, 7, pending.DeclaredCount)
	require.Equal(t, "1734.5", pending.SumAmount.String())

	require.True(t, result.Buckets[1].Failed)
	require.Contains(t, result.Buckets[1].Error, "timeout")
	require.Empty(t, result.Buckets[1].Records)
	require.True(t, result.Buckets[2].Failed)

	require.Equal(t, 1, f.filter.resets)
	require.Len(t, f.tel.Reports("broken", report_orchestrator_cycle), 1)
	require.Len(t, f.tel.Reports("warning", report_orchestrator_cycle), 1)

	stats := o.Status()
	require.Equal(t, 1, stats.Cycles)
	require.Equal(t, 2, stats.LastRecords)
}

func TestCycleDeclaredCountFallbacks(t *testing.T) {
	f := newFixture()
	f.extractor.rows[withdrawal.StatusPending] = []withdrawal.Record{rec("1", "10")}
	f.extractor.rows[withdrawal.StatusReserved] = []withdrawal.Record{rec("2", "10"), rec("3", "10")}
	f.extractor.caption[withdrawal.StatusPending] = 40
	f.filter.declared[withdrawal.StatusProcessing] = 0
	f.extractor.rows[withdrawal.StatusProcessing] = []withdrawal.Record{rec("4", "10")}
	o := f.build(t)

	result := o.cycle(context.Background())

	counts := map[withdrawal.Status]int{}
	mismatch := map[withdrawal.Status]bool{}
	for _, b := range result.Buckets {
		counts[b.Status] = b.DeclaredCount
		mismatch[b.Status] = b.CountMismatch
	}
	require.Empty(t, cmp.Diff(map[withdrawal.Status]int{
		withdrawal.StatusPending:    40,
		withdrawal.StatusReserved:   2,
		withdrawal.StatusProcessing: 0,
	}, counts))
	require.True(t, mismatch[withdrawal.StatusProcessing])
	require.False(t, mismatch[withdrawal.StatusReserved])
}

func TestRunPublishesErrorWhenEveryStatusFails(t *testing.T) {
	f := newFixture()
	for _, status := range withdrawal.Statuses {
		f.filter.fail[status] = errors.New("driver gone")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.publisher.onPublish = func(p published) {
		if p.Result != nil {
			cancel()
		}
	}
	o := f.build(t)

	err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []publish.Tag{publish.TagStarting, publish.TagError, publish.TagStopped}, f.publisher.tags())
	require.True(t, f.publisher.published[1].Result.AllFailed())
}

func TestRecoveryEscalatesToLogin(t *testing.T) {
	f := newFixture()
	f.session.active = []bool{false}
	f.session.login = false
	o := f.build(t)

	err := o.Run(context.Background())
	require.ErrorIs(t, err, ErrStopped)

	require.Equal(t, 5, f.bypass.calls)
	require.Equal(t, []time.Duration{f.opts.LoginTimeout}, f.session.loginWaits)
	require.Equal(t, []string{
		"starting", "session_check", "scanning",
		"recovering", "degraded",
		"recovering", "degraded",
		"recovering", "degraded",
		"recovering", "degraded",
		"recovering",
		"awaiting_login", "stopped",
	}, f.publisher.phases)

	expectSlept := f.opts.Interval +
		5*f.opts.RecoverySettle +
		(30+60+90+120)*time.Second
	require.Equal(t, expectSlept, f.clock.Slept())

	tags := f.publisher.tags()
	require.Equal(t, publish.TagScanning, tags[1])
	require.Equal(t, publish.TagDegraded, tags[2])
	require.Equal(t, publish.TagAwaitingLogin, tags[len(tags)-2])
	require.Equal(t, publish.TagStopped, tags[len(tags)-1])
	require.Equal(t, []string{"panelwatch needs a login", "panelwatch stopped"}, f.alerter.subjects)
	require.Equal(t, 5, o.Status().ConsecutiveFailures)
	require.Equal(t, PhaseStopped, o.Status().Phase)
}

func TestRecoverySucceeds(t *testing.T) {
	f := newFixture()
	f.session.active = []bool{false, false, true}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scans := 0
	f.publisher.onPublish = func(p published) {
		if p.Result == nil {
			return
		}
		scans++
		if scans == 2 {
			cancel()
		}
	}
	o := f.build(t)

	err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, f.bypass.calls)
	require.Equal(t, []string{
		"starting", "session_check", "scanning",
		"recovering", "degraded", "recovering",
		"scanning", "stopped",
	}, f.publisher.phases)
	require.Equal(t, 0, o.Status().ConsecutiveFailures)
	require.Equal(t, 2, o.Status().Cycles)
	require.Equal(t, 1, f.filter.resets)
}

func TestLoginTimeoutStops(t *testing.T) {
	f := newFixture()
	f.session.validate = panel.SessionUnauthenticated
	o := f.build(t)

	err := o.Run(context.Background())
	require.ErrorIs(t, err, ErrStopped)
	require.Equal(t, []publish.Tag{publish.TagStarting, publish.TagAwaitingLogin, publish.TagStopped}, f.publisher.tags())
	require.Empty(t, f.filter.visited)
	require.Equal(t, 0, f.session.persists)
}

func TestHangingAlertDoesNotBlockLogin(t *testing.T) {
	f := newFixture()
	f.session.validate = panel.SessionUnauthenticated
	f.opts.AlertTimeout = time.Millisecond * 20
	alerter := &hangingAlerter{}
	o, err := New(Deps{
		Session:   f.session,
		Bypass:    f.bypass,
		Filter:    f.filter,
		Extractor: f.extractor,
		Publisher: f.publisher,
		Alerter:   alerter,
		Clock:     f.clock,
		Telemetry: f.tel,
	}, f.opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	err = o.Run(ctx)
	require.ErrorIs(t, err, ErrStopped)
	require.Equal(t, 2, alerter.calls)
	require.Equal(t, []time.Duration{f.opts.LoginTimeout}, f.session.loginWaits)
	require.Len(t, f.tel.Reports("warning", report_orchestrator_alert), 2)
}

func TestLoginThenScan(t *testing.T) {
	f := newFixture()
	f.session.validate = panel.SessionUnauthenticated
	f.session.login = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.publisher.onPublish = func(p published) {
		if p.Result != nil {
			cancel()
		}
	}
	o := f.build(t)

	err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, withdrawal.Statuses, f.filter.visited)
	require.Equal(t, 1, f.filter.resets)
}

func TestCancelPersistsSession(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.clock.OnSleep = func(now time.Time) {
		if f.clock.Slept() >= f.opts.Interval {
			cancel()
		}
	}
	o := f.build(t)

	err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// once after the cycle and once on shutdown
	require.Equal(t, 2, f.session.persists)
	last := f.publisher.published[len(f.publisher.published)-1]
	require.Equal(t, publish.TagStopped, last.Tag)
	require.Equal(t, "shutting down", last.Message)
	require.Empty(t, f.alerter.subjects)
}

func TestRunOnce(t *testing.T) {
	f := newFixture()
	f.filter.declared[withdrawal.StatusReserved] = 3
	o := f.build(t)

	result, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	bucket, ok := result.Bucket(withdrawal.StatusReserved)
	require.True(t, ok)
	require.Equal(t, 3, bucket.DeclaredCount)
	require.Empty(t, f.publisher.published)

	f.session.validate = panel.SessionUnauthenticated
	_, err = o.RunOnce(context.Background())
	require.Error(t, err)
}
