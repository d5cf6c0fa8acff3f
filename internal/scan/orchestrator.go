// Package scan drives the browser session through the scan loop: session
// check, interactive login, periodic scan cycles and recovery.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"panelwatch/internal/components/assert"
	"panelwatch/internal/components/chrono"
	"panelwatch/internal/components/telemetry"
	"panelwatch/internal/publish"
	"panelwatch/internal/scrapers/panel"
	"panelwatch/internal/withdrawal"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("panelwatch.internal.scan")
var meter = otel.Meter("panelwatch.internal.scan")

const (
	report_orchestrator_cycle    = "orchestrator.cycle"
	report_orchestrator_persist  = "orchestrator.persist"
	report_orchestrator_alert    = "orchestrator.alert"
	report_orchestrator_recover  = "orchestrator.recover"
	report_orchestrator_shutdown = "orchestrator.shutdown"
)

// ErrStopped is returned by Run when an interactive login timed out. The
// loop does not restart on its own after this.
var ErrStopped = errors.New("scan loop stopped: interactive login timed out")

type Phase string

const (
	PhaseStarting      Phase = "starting"
	PhaseSessionCheck  Phase = "session_check"
	PhaseAwaitingLogin Phase = "awaiting_login"
	PhaseScanning      Phase = "scanning"
	PhaseRecovering    Phase = "recovering"
	// PhaseDegraded is the backoff wait between two recovery attempts.
	PhaseDegraded Phase = "degraded"
	PhaseStopped  Phase = "stopped"
)

type Session interface {
	State() panel.SessionState
	ValidateOrRestore(ctx context.Context) panel.SessionState
	WaitForInteractiveLogin(ctx context.Context, maxWait time.Duration) bool
	IsActive(ctx context.Context) bool
	Persist(ctx context.Context) error
}

type Bypasser interface {
	Bypass(ctx context.Context, timeout time.Duration) bool
}

type Filter interface {
	SelectStatus(ctx context.Context, status withdrawal.Status) error
	DeclaredCount(ctx context.Context) (int, bool)
	Reset()
}

type Extractor interface {
	ReadVisibleRows(ctx context.Context, status withdrawal.Status) ([]withdrawal.Record, error)
	ReadDeclaredCount(ctx context.Context) (int, bool)
}

type Publisher interface {
	Publish(ctx context.Context, result *withdrawal.ScanResult, tag publish.Tag, message string)
	SetPhase(phase string, failures int)
}

// Alerter notifies an operator that the loop needs attention.
type Alerter interface {
	Alert(ctx context.Context, subject, body string) error
}

type Options struct {
	// Interval is slept between two scan cycles.
	Interval time.Duration
	// CycleTimeout bounds a single scan cycle.
	CycleTimeout time.Duration
	// LoginTimeout is how long a human has to complete login.
	LoginTimeout        time.Duration
	MaxRecoveryFailures int
	// BackoffStep is multiplied by the number of consecutive recovery
	// failures, capped at BackoffMax.
	BackoffStep     time.Duration
	BackoffMax      time.Duration
	RecoverySettle  time.Duration
	BypassTimeout   time.Duration
	ShutdownTimeout time.Duration
	// AlertTimeout bounds a single operator alert.
	AlertTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Interval:            time.Second * 300,
		CycleTimeout:        time.Minute * 5,
		LoginTimeout:        time.Minute * 10,
		MaxRecoveryFailures: 5,
		BackoffStep:         time.Second * 30,
		BackoffMax:          time.Second * 300,
		RecoverySettle:      time.Second * 3,
		BypassTimeout:       time.Second * 60,
		ShutdownTimeout:     time.Second * 10,
		AlertTimeout:        time.Second * 30,
	}
}

// Backoff is the wait after the given number of consecutive recovery
// failures.
func (o Options) Backoff(failures int) time.Duration {
	return min(o.BackoffStep*time.Duration(failures), o.BackoffMax)
}

type Deps struct {
	Session   Session
	Bypass    Bypasser
	Filter    Filter
	Extractor Extractor
	Publisher Publisher
	// Alerter is optional.
	Alerter   Alerter
	Clock     chrono.API
	Telemetry telemetry.API
}

// Stats is a point in time view of the orchestrator.
type Stats struct {
	Phase               Phase
	LastCycle           time.Time
	Cycles              int
	LastRecords         int
	ConsecutiveFailures int
}

type Orchestrator struct {
	session   Session
	bypass    Bypasser
	filter    Filter
	extractor Extractor
	publisher Publisher
	alerter   Alerter
	clock     chrono.API
	tel       telemetry.API
	opts      Options

	mu       sync.Mutex
	phase    Phase
	failures int
	stats    Stats

	declaredGauge metric.Int64Gauge
	sumGauge      metric.Float64Gauge
	cycleDuration metric.Float64Histogram
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	assert.NotNil(deps.Session)
	assert.NotNil(deps.Bypass)
	assert.NotNil(deps.Filter)
	assert.NotNil(deps.Extractor)
	assert.NotNil(deps.Publisher)
	assert.NotNil(deps.Clock)
	assert.NotNil(deps.Telemetry)
	assert.Positive(opts.MaxRecoveryFailures)

	declaredGauge, err := meter.Int64Gauge(
		"scan_declared_count",
		metric.WithDescription("The number of withdrawals the panel declares per status."),
	)
	if err != nil {
		return nil, err
	}
	sumGauge, err := meter.Float64Gauge(
		"scan_sum_amount",
		metric.WithDescription("The sum of the visible withdrawal amounts per status."),
	)
	if err != nil {
		return nil, err
	}
	cycleDuration, err := meter.Float64Histogram(
		"scan_cycle_duration",
		metric.WithDescription("How long a scan cycle over every status took."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		session:       deps.Session,
		bypass:        deps.Bypass,
		filter:        deps.Filter,
		extractor:     deps.Extractor,
		publisher:     deps.Publisher,
		alerter:       deps.Alerter,
		clock:         deps.Clock,
		tel:           telemetry.NewScopedAPI("scan", deps.Telemetry),
		opts:          opts,
		phase:         PhaseStarting,
		declaredGauge: declaredGauge,
		sumGauge:      sumGauge,
		cycleDuration: cycleDuration,
	}, nil
}

func (o *Orchestrator) Status() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	stats := o.stats
	stats.Phase = o.phase
	stats.ConsecutiveFailures = o.failures
	return stats
}

func (o *Orchestrator) setPhase(phase Phase) {
	o.mu.Lock()
	o.phase = phase
	failures := o.failures
	o.mu.Unlock()

	o.tel.ReportDebug("phase", telemetry.KV{Key: "phase", Value: phase}, telemetry.KV{Key: "failures", Value: failures})
	o.publisher.SetPhase(string(phase), failures)
}

func (o *Orchestrator) setFailures(n int) {
	o.mu.Lock()
	o.failures = n
	o.mu.Unlock()
}

func (o *Orchestrator) consecutiveFailures() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures
}

func (o *Orchestrator) alert(ctx context.Context, subject, body string) {
	if o.alerter == nil {
		return
	}
	if o.opts.AlertTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.AlertTimeout)
		defer cancel()
	}
	err := o.alerter.Alert(ctx, subject, body)
	if err != nil {
		o.tel.ReportWarning(report_orchestrator_alert, err)
	}
}

// Run drives the scan loop until the interactive login times out, in which
// case it returns ErrStopped, or until ctx is cancelled, in which case it
// returns the context's error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.setPhase(PhaseStarting)
	o.publisher.Publish(ctx, nil, publish.TagStarting, "")

	next := PhaseSessionCheck
	for {
		if ctx.Err() != nil {
			return o.shutdown(ctx)
		}
		o.setPhase(next)

		switch next {
		case PhaseSessionCheck:
			next = o.sessionCheck(ctx)
		case PhaseAwaitingLogin:
			next = o.awaitLogin(ctx)
		case PhaseScanning:
			next = o.scanning(ctx)
		case PhaseRecovering:
			next = o.recovering(ctx)
		case PhaseDegraded:
			next = o.degraded(ctx)
		case PhaseStopped:
			o.publisher.Publish(ctx, nil, publish.TagStopped, "interactive login timed out")
			o.alert(ctx, "panelwatch stopped", "Nobody logged in to the panel in time, the scan loop has stopped and needs a restart.")
			return ErrStopped
		default:
			panic(fmt.Sprintf("unknown phase %q", next))
		}
	}
}

// RunOnce checks the session and runs a single scan cycle without
// publishing it.
func (o *Orchestrator) RunOnce(ctx context.Context) (withdrawal.ScanResult, error) {
	state := o.session.ValidateOrRestore(ctx)
	if state != panel.SessionActive {
		return withdrawal.ScanResult{}, fmt.Errorf("session is %s", state)
	}
	result := o.cycle(ctx)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (o *Orchestrator) shutdown(ctx context.Context) error {
	cause := ctx.Err()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.ShutdownTimeout)
	defer cancel()

	if o.session.State() == panel.SessionActive {
		err := o.session.Persist(ctx)
		if err != nil {
			o.tel.ReportWarning(report_orchestrator_shutdown, err)
		}
	}
	o.setPhase(PhaseStopped)
	o.publisher.Publish(ctx, nil, publish.TagStopped, "shutting down")
	return cause
}

func (o *Orchestrator) sessionCheck(ctx context.Context) Phase {
	state := o.session.ValidateOrRestore(ctx)
	if state == panel.SessionActive {
		return PhaseScanning
	}
	o.tel.ReportDebug("session is not active", telemetry.KV{Key: "state", Value: state})
	return PhaseAwaitingLogin
}

func (o *Orchestrator) awaitLogin(ctx context.Context) Phase {
	o.publisher.Publish(ctx, nil, publish.TagAwaitingLogin, "waiting for an operator to log in to the panel")
	o.alert(
		ctx,
		"panelwatch needs a login",
		fmt.Sprintf("The panel session is gone, log in through the browser within %s.", o.opts.LoginTimeout),
	)

	if !o.session.WaitForInteractiveLogin(ctx, o.opts.LoginTimeout) {
		return PhaseStopped
	}
	o.setFailures(0)
	o.filter.Reset()
	return PhaseScanning
}

func (o *Orchestrator) scanning(ctx context.Context) Phase {
	result := o.cycle(ctx)
	if ctx.Err() != nil {
		return PhaseScanning
	}

	if result.AllFailed() {
		o.publisher.Publish(ctx, &result, publish.TagError, "every status failed to scan")
	} else {
		o.publisher.Publish(ctx, &result, publish.TagScanning, "")
	}

	err := o.session.Persist(ctx)
	if err != nil {
		o.tel.ReportWarning(report_orchestrator_persist, err)
	}

	err = o.clock.Sleep(ctx, o.opts.Interval)
	if err != nil {
		return PhaseScanning
	}
	if o.session.IsActive(ctx) {
		return PhaseScanning
	}
	return PhaseRecovering
}

func (o *Orchestrator) recovering(ctx context.Context) Phase {
	failures := o.consecutiveFailures()
	o.publisher.Publish(ctx, nil, publish.TagDegraded, fmt.Sprintf("recovering session, attempt %d", failures+1))

	o.bypass.Bypass(ctx, o.opts.BypassTimeout)
	err := o.clock.Sleep(ctx, o.opts.RecoverySettle)
	if err != nil {
		return PhaseRecovering
	}

	if o.session.IsActive(ctx) {
		o.setFailures(0)
		o.filter.Reset()
		return PhaseScanning
	}

	failures++
	o.setFailures(failures)
	o.tel.ReportWarning(
		report_orchestrator_recover,
		errors.New("session still inactive after bypass"),
		telemetry.KV{Key: "failures", Value: failures},
	)
	if failures >= o.opts.MaxRecoveryFailures {
		return PhaseAwaitingLogin
	}
	return PhaseDegraded
}

func (o *Orchestrator) degraded(ctx context.Context) Phase {
	err := o.clock.Sleep(ctx, o.opts.Backoff(o.consecutiveFailures()))
	if err != nil {
		return PhaseDegraded
	}
	return PhaseRecovering
}

func newCycleID() string {
	id, err := random.String(8)
	if err != nil {
		return fmt.Sprint(time.Now().UnixNano())
	}
	return id
}

// cycle visits every status exactly once. A failing status is recorded as
// a failed bucket and does not stop the cycle.
func (o *Orchestrator) cycle(ctx context.Context) withdrawal.ScanResult {
	ctx, cancel := context.WithTimeout(ctx, o.opts.CycleTimeout)
	defer cancel()

	result := withdrawal.ScanResult{
		ID:        newCycleID(),
		StartedAt: o.clock.Now(),
	}

	ctx, span := tracer.Start(ctx, "scan:cycle")
	defer span.End()
	span.SetAttributes(attribute.String("scan.id", result.ID))

	structural := false
	for _, status := range withdrawal.Statuses {
		bucket, err := o.scanStatus(ctx, status)
		if err != nil {
			span.RecordError(err)
			if errors.Is(err, panel.ErrStructural) {
				structural = true
				o.tel.ReportBroken(report_orchestrator_cycle, err, telemetry.KV{Key: "status", Value: status})
			} else {
				o.tel.ReportWarning(report_orchestrator_cycle, err, telemetry.KV{Key: "status", Value: status})
			}
			bucket = withdrawal.FailedBucket(status, err)
		}
		result.Buckets = append(result.Buckets, bucket)
	}
	if structural {
		o.filter.Reset()
	}
	if result.AllFailed() {
		span.SetStatus(codes.Error, "every status failed")
	}

	result.FinishedAt = o.clock.Now()
	o.record(ctx, result)
	return result
}

func (o *Orchestrator) scanStatus(ctx context.Context, status withdrawal.Status) (withdrawal.Bucket, error) {
	err := o.filter.SelectStatus(ctx, status)
	if err != nil {
		return withdrawal.Bucket{}, fmt.Errorf("select %s: %w", status, err)
	}
	records, err := o.extractor.ReadVisibleRows(ctx, status)
	if err != nil {
		return withdrawal.Bucket{}, fmt.Errorf("read %s rows: %w", status, err)
	}

	declared, ok := o.filter.DeclaredCount(ctx)
	if !ok {
		declared, ok = o.extractor.ReadDeclaredCount(ctx)
	}
	if !ok {
		declared = len(records)
	}

	bucket := withdrawal.NewBucket(status, records, declared)
	if bucket.CountMismatch {
		o.tel.ReportWarning(
			report_orchestrator_cycle,
			fmt.Errorf("%s declares %d rows but %d are visible", status, declared, len(records)),
		)
	}
	return bucket, nil
}

func (o *Orchestrator) record(ctx context.Context, result withdrawal.ScanResult) {
	o.mu.Lock()
	o.stats.Cycles++
	o.stats.LastCycle = result.FinishedAt
	o.stats.LastRecords = result.TotalRecords()
	o.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	o.cycleDuration.Record(ctx, result.FinishedAt.Sub(result.StartedAt).Seconds())
	for _, b := range result.Buckets {
		if b.Failed {
			continue
		}
		attrs := metric.WithAttributes(attribute.String("status", string(b.Status)))
		sum, _ := b.SumAmount.Float64()
		o.declaredGauge.Record(ctx, int64(b.DeclaredCount), attrs)
		o.sumGauge.Record(ctx, sum, attrs)
		o.tel.ReportCount(fmt.Sprintf("%s.%s", report_orchestrator_cycle, b.Status), int64(b.DeclaredCount))
	}
}
