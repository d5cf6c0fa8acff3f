package panel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"panelwatch/internal/driver"
)

// Filter is the set of listing filters the scanner controls.
type Filter struct {
	Type   string
	Bonus  string
	Status string
}

// StateHandle is the capability of driving the listing page's filters.
type StateHandle interface {
	// Locate finds the handle on the current page, false means the page
	// does not have the expected structure.
	Locate(ctx context.Context) (bool, error)
	// SetFilter writes f into the page state, it fails with ErrStructural
	// when the located handle disappeared.
	SetFilter(ctx context.Context, f Filter) error
	TriggerFetch(ctx context.Context) error
	IsLoading(ctx context.Context) (bool, error)
	// Total is the number of records the provider reports for the
	// current filter.
	Total(ctx context.Context) (int, bool, error)
}

// VueStateHandle writes filters straight into the listing component's
// reactive data.
type VueStateHandle struct {
	Driver driver.Driver
}

type componentState struct {
	Status string `json:"status"`
	Total  *int   `json:"total"`
}

func (h VueStateHandle) Locate(ctx context.Context) (bool, error) {
	var state *componentState
	err := h.Driver.Evaluate(ctx, locateComponentScript, &state)
	if err != nil {
		return false, err
	}
	return state != nil, nil
}

func (h VueStateHandle) SetFilter(ctx context.Context, f Filter) error {
	var applied *Filter
	err := h.Driver.Evaluate(ctx, setComponentFilterScript(f), &applied)
	if err != nil {
		return err
	}
	if applied == nil {
		return fmt.Errorf("listing component is gone: %w", ErrStructural)
	}
	return nil
}

func (h VueStateHandle) TriggerFetch(ctx context.Context) error {
	var ok bool
	err := h.Driver.Evaluate(ctx, fetchScript, &ok)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("listing component has no data fetch: %w", ErrStructural)
	}
	return nil
}

func (h VueStateHandle) IsLoading(ctx context.Context) (bool, error) {
	var state *struct {
		Loading bool `json:"loading"`
	}
	err := h.Driver.Evaluate(ctx, loadingScript, &state)
	if err != nil {
		return false, err
	}
	if state == nil {
		return false, fmt.Errorf("listing component is gone: %w", ErrStructural)
	}
	return state.Loading, nil
}

func (h VueStateHandle) Total(ctx context.Context) (int, bool, error) {
	var state *componentState
	err := h.Driver.Evaluate(ctx, totalScript, &state)
	if err != nil {
		return 0, false, err
	}
	if state == nil || state.Total == nil {
		return 0, false, nil
	}
	return *state.Total, true, nil
}

// DOMStateHandle drives the native filter controls like a user would.
type DOMStateHandle struct {
	Driver driver.Driver
}

func (h DOMStateHandle) Locate(ctx context.Context) (bool, error) {
	var count int
	err := h.Driver.Evaluate(ctx, countSelectsScript, &count)
	if err != nil {
		return false, err
	}
	return count > selectStatus, nil
}

func (h DOMStateHandle) SetFilter(ctx context.Context, f Filter) error {
	selects := []struct {
		index int
		value string
	}{
		{selectType, f.Type},
		{selectBonus, f.Bonus},
		{selectStatus, f.Status},
	}
	for _, s := range selects {
		var value *string
		err := h.Driver.Evaluate(ctx, setSelectScript(s.index, s.value), &value)
		if err != nil {
			return err
		}
		if value == nil {
			return fmt.Errorf("select %d not found: %w", s.index, ErrStructural)
		}
	}
	return nil
}

var searchLabels = []string{"Arama", "ARAMA", "Ara"}

func (h DOMStateHandle) TriggerFetch(ctx context.Context) error {
	links, err := h.Driver.QueryAll(ctx, "a", time.Second*5)
	if err == nil {
		for _, link := range links {
			text, err := h.Driver.Text(ctx, link)
			if err != nil {
				continue
			}
			for _, label := range searchLabels {
				if strings.TrimSpace(text) == label {
					return h.Driver.Click(ctx, link)
				}
			}
		}
	}

	var clicked bool
	err = h.Driver.Evaluate(ctx, clickSearchScript, &clicked)
	if err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("search control not found: %w", ErrStructural)
	}
	return nil
}

func (h DOMStateHandle) IsLoading(ctx context.Context) (bool, error) {
	var loading bool
	err := h.Driver.Evaluate(ctx, domLoadingScript, &loading)
	return loading, err
}

func (h DOMStateHandle) Total(ctx context.Context) (int, bool, error) {
	el, err := h.Driver.Query(ctx, footerSelector, time.Second*2)
	if driver.IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	text, err := h.Driver.Text(ctx, el)
	if err != nil {
		return 0, false, err
	}
	total, ok := ParseDeclaredCount(text)
	return total, ok, nil
}
