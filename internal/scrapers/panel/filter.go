package panel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"panelwatch/internal/components/assert"
	"panelwatch/internal/components/chrono"
	"panelwatch/internal/components/telemetry"
	"panelwatch/internal/driver"
	"panelwatch/internal/withdrawal"
)

const (
	report_filter_select_status  = "filter.select-status"
	report_filter_navigate       = "filter.navigate"
	report_filter_wait_loading   = "filter.wait-loading"
	report_filter_initial_filter = "filter.initial-filter"
)

// ErrStructural means the page no longer has the structure the scraper
// relies on, reloading the page is the only recovery.
var ErrStructural = errors.New("unexpected page structure")

// ListingPath is the path of the financial transactions listing.
const ListingPath = "/financial/financial-transactions"

const (
	FilterTypeWithdrawal = "2"
	FilterBonusExcluded  = "2"
	rowSelector          = "table tbody tr"
	footerSelector       = ".v-data-footer"
	listingTableSelector = ".v-data-table table"
)

type FilterTimings struct {
	RowWaitAttempts  int
	RowWaitInterval  time.Duration
	LoadStartPolls   int
	LoadStartPoll    time.Duration
	LoadFinishPolls  int
	LoadFinishPoll   time.Duration
	InitialFilterGap time.Duration
}

func DefaultFilterTimings() FilterTimings {
	return FilterTimings{
		RowWaitAttempts:  20,
		RowWaitInterval:  time.Second,
		LoadStartPolls:   10,
		LoadStartPoll:    time.Millisecond * 200,
		LoadFinishPolls:  30,
		LoadFinishPoll:   time.Millisecond * 300,
		InitialFilterGap: time.Millisecond * 500,
	}
}

// FilterController puts the listing page into the state showing the
// withdrawals of one status.
type FilterController struct {
	driver   driver.Driver
	handle   StateHandle
	fallback StateHandle
	clock    chrono.API
	tel      telemetry.API
	listing  string
	timings  FilterTimings

	mu       sync.Mutex
	reset    bool
	located  bool
	navCount int
}

// NewFilterController creates a controller driving handle, with fallback
// used to apply the initial filter through native controls after each
// page load. fallback may be nil.
func NewFilterController(
	d driver.Driver,
	handle StateHandle,
	fallback StateHandle,
	clock chrono.API,
	tel telemetry.API,
	origin string,
	timings FilterTimings,
) *FilterController {
	assert.NotNil(d)
	assert.NotNil(handle)
	assert.NotNil(clock)
	assert.NotNil(tel)
	assert.NotEmptyStr(origin)

	if timings == (FilterTimings{}) {
		timings = DefaultFilterTimings()
	}

	return &FilterController{
		driver:   d,
		handle:   handle,
		fallback: fallback,
		clock:    clock,
		tel:      telemetry.NewScopedAPI("filter", tel),
		listing:  strings.TrimSuffix(origin, "/") + ListingPath,
		timings:  timings,
	}
}

// Reset forces the next SelectStatus to reload the listing page.
func (c *FilterController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset = true
	c.located = false
}

// Navigations is the number of times the listing page has been loaded.
func (c *FilterController) Navigations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navCount
}

func onListing(current string) bool {
	parsed, err := url.Parse(current)
	if err != nil {
		return strings.Contains(current, ListingPath)
	}
	return strings.HasPrefix(parsed.Path, ListingPath)
}

func (c *FilterController) SelectStatus(ctx context.Context, status withdrawal.Status) error {
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}

	c.mu.Lock()
	needsNav := c.reset
	c.mu.Unlock()

	if !needsNav {
		current, err := c.driver.URL(ctx)
		if err != nil {
			return fmt.Errorf("select %s: %w", status, err)
		}
		needsNav = !onListing(current)
	}
	if needsNav {
		err := c.loadListing(ctx, status)
		if err != nil {
			return fmt.Errorf("select %s: %w", status, err)
		}
	}

	c.mu.Lock()
	located := c.located
	c.mu.Unlock()
	if !located {
		found, err := c.handle.Locate(ctx)
		if err != nil {
			return fmt.Errorf("select %s: locate state: %w", status, err)
		}
		if !found {
			err = fmt.Errorf("select %s: state handle not found: %w", status, ErrStructural)
			c.tel.ReportBroken(report_filter_select_status, err)
			return err
		}
		c.mu.Lock()
		c.located = true
		c.mu.Unlock()
	}

	filter := Filter{
		Type:   FilterTypeWithdrawal,
		Bonus:  FilterBonusExcluded,
		Status: status.FilterValue(),
	}
	err := c.handle.SetFilter(ctx, filter)
	if err == nil {
		err = c.handle.TriggerFetch(ctx)
	}
	if err != nil {
		if errors.Is(err, ErrStructural) {
			c.mu.Lock()
			c.located = false
			c.mu.Unlock()
			c.tel.ReportBroken(report_filter_select_status, err)
		}
		return fmt.Errorf("select %s: %w", status, err)
	}

	return c.waitLoaded(ctx)
}

func (c *FilterController) loadListing(ctx context.Context, status withdrawal.Status) error {
	err := c.driver.Navigate(ctx, c.listing)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.reset = false
	c.located = false
	c.navCount++
	c.mu.Unlock()

	found := false
	for i := 0; i < c.timings.RowWaitAttempts; i++ {
		_, err := c.driver.Query(ctx, rowSelector, c.timings.RowWaitInterval)
		if err == nil {
			found = true
			break
		}
		if !driver.IsNotFound(err) {
			c.tel.ReportWarning(report_filter_navigate, err)
		}
		if err := c.clock.Sleep(ctx, c.timings.RowWaitInterval); err != nil {
			return err
		}
	}
	if !found {
		// an empty listing renders no rows, keep going
		c.tel.ReportWarning(report_filter_navigate, "no table rows after loading listing")
	}

	if c.fallback != nil {
		c.applyInitialFilter(ctx, status)
	}
	return nil
}

// applyInitialFilter sets the native controls so the page is already
// filtered to withdrawals before the state handle takes over.
func (c *FilterController) applyInitialFilter(ctx context.Context, status withdrawal.Status) {
	ok, err := c.fallback.Locate(ctx)
	if err != nil || !ok {
		c.tel.ReportWarning(report_filter_initial_filter, "native filter controls not found", err)
		return
	}
	err = c.fallback.SetFilter(ctx, Filter{
		Type:   FilterTypeWithdrawal,
		Bonus:  FilterBonusExcluded,
		Status: status.FilterValue(),
	})
	if err != nil {
		c.tel.ReportWarning(report_filter_initial_filter, err)
		return
	}
	if err := c.clock.Sleep(ctx, c.timings.InitialFilterGap); err != nil {
		return
	}
	err = c.fallback.TriggerFetch(ctx)
	if err != nil {
		c.tel.ReportWarning(report_filter_initial_filter, err)
	}
}

// waitLoaded waits for the fetch to start and then to finish. Running out
// of either wait is not an error, the table is read as it is.
func (c *FilterController) waitLoaded(ctx context.Context) error {
	started := false
	for i := 0; i < c.timings.LoadStartPolls; i++ {
		if err := c.clock.Sleep(ctx, c.timings.LoadStartPoll); err != nil {
			return err
		}
		loading, err := c.handle.IsLoading(ctx)
		if err != nil {
			c.tel.ReportWarning(report_filter_wait_loading, err)
			continue
		}
		if loading {
			started = true
			break
		}
	}
	if !started {
		c.tel.ReportDebug("fetch never reported loading, it may have finished already")
	}

	for i := 0; i < c.timings.LoadFinishPolls; i++ {
		if err := c.clock.Sleep(ctx, c.timings.LoadFinishPoll); err != nil {
			return err
		}
		loading, err := c.handle.IsLoading(ctx)
		if err != nil {
			c.tel.ReportWarning(report_filter_wait_loading, err)
			continue
		}
		if !loading {
			return nil
		}
	}
	c.tel.ReportWarning(report_filter_wait_loading, "still loading after", c.timings.LoadFinishPolls, "polls")
	return nil
}

// DeclaredCount is the total the state handle reports for the current
// filter.
func (c *FilterController) DeclaredCount(ctx context.Context) (int, bool) {
	total, ok, err := c.handle.Total(ctx)
	if err != nil {
		c.tel.ReportWarning(report_filter_select_status, err)
		return 0, false
	}
	return total, ok
}
