package panel

import (
	"context"
	"strings"
	"testing"

	"panelwatch/internal/driver/drivertest"

	"github.com/stretchr/testify/require"
)

// vueListing imitates the listing component for the scripts the Vue state
// handle evaluates.
type vueListing struct {
	present bool
	loading bool
	total   any
	status  string
}

func (v *vueListing) eval(script string) (any, error) {
	if !v.present {
		return nil, nil
	}
	switch {
	case strings.Contains(script, "financial_list"):
		return map[string]any{"status": v.status, "total": v.total}, nil
	case strings.Contains(script, "$set"):
		v.status = "4"
		return map[string]any{"type": "2", "bonus": "2", "status": v.status}, nil
	case strings.Contains(script, "getData"):
		v.loading = true
		return true, nil
	case strings.Contains(script, "loading"):
		return map[string]any{"loading": v.loading, "total": v.total}, nil
	case strings.Contains(script, "total"):
		return map[string]any{"total": v.total}, nil
	}
	return nil, nil
}

func TestVueStateHandle(t *testing.T) {
	listing := &vueListing{present: true, total: 62, status: "0"}
	fake := &drivertest.Fake{Eval: listing.eval}
	handle := VueStateHandle{Driver: fake}
	ctx := context.Background()

	found, err := handle.Locate(ctx)
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, handle.SetFilter(ctx, Filter{Type: "2", Bonus: "2", Status: "4"}))
	require.NoError(t, handle.TriggerFetch(ctx))

	loading, err := handle.IsLoading(ctx)
	require.NoError(t, err)
	require.True(t, loading)

	total, ok, err := handle.Total(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 62, total)

	scripts := fake.Scripts()
	require.Contains(t, scripts[1], `c.$set(c.$data, 'status', "4")`)
	require.Contains(t, scripts[1], `selects[3].value = "4"`)
}

func TestVueStateHandleMissing(t *testing.T) {
	listing := &vueListing{present: false}
	handle := VueStateHandle{Driver: &drivertest.Fake{Eval: listing.eval}}
	ctx := context.Background()

	found, err := handle.Locate(ctx)
	require.NoError(t, err)
	require.False(t, found)

	require.ErrorIs(t, handle.SetFilter(ctx, Filter{Status: "0"}), ErrStructural)
	require.ErrorIs(t, handle.TriggerFetch(ctx), ErrStructural)
	_, err = handle.IsLoading(ctx)
	require.ErrorIs(t, err, ErrStructural)

	_, ok, err := handle.Total(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVueStateHandleNullTotal(t *testing.T) {
	listing := &vueListing{present: true, total: nil}
	handle := VueStateHandle{Driver: &drivertest.Fake{Eval: listing.eval}}

	_, ok, err := handle.Total(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDOMStateHandle(t *testing.T) {
	var selected []string
	fake := &drivertest.Fake{
		Eval: func(script string) (any, error) {
			switch {
			case strings.Contains(script, "querySelectorAll('select').length"):
				return 4, nil
			case strings.Contains(script, "dispatchEvent"):
				selected = append(selected, script)
				return "ok", nil
			}
			return false, nil
		},
		Elements: func(selector string) []string {
			switch selector {
			case "a":
				return []string{"Çıkış", " Arama "}
			case footerSelector:
				return []string{"1-50 of 62"}
			}
			return nil
		},
	}
	handle := DOMStateHandle{Driver: fake}
	ctx := context.Background()

	found, err := handle.Locate(ctx)
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, handle.SetFilter(ctx, Filter{Type: "2", Bonus: "2", Status: "0"}))
	require.Len(t, selected, 3)
	require.Contains(t, selected[2], "querySelectorAll('select')[3]")

	require.NoError(t, handle.TriggerFetch(ctx))
	require.Equal(t, []string{"a"}, fake.Clicks())

	total, ok, err := handle.Total(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 62, total)
}

func TestDOMStateHandleSearchFallback(t *testing.T) {
	fake := &drivertest.Fake{
		Eval: func(script string) (any, error) {
			if strings.Contains(script, "'Arama'") {
				return false, nil
			}
			return nil, nil
		},
	}
	handle := DOMStateHandle{Driver: fake}

	require.ErrorIs(t, handle.TriggerFetch(context.Background()), ErrStructural)
	require.ErrorIs(t, handle.SetFilter(context.Background(), Filter{}), ErrStructural)
}
