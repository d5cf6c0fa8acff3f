package panel

import (
	"context"
	"errors"
	"testing"
	"time"

	"panelwatch/internal/components/chrono/chronotest"
	"panelwatch/internal/components/telemetry/telemetrytest"
	"panelwatch/internal/driver/drivertest"

	"github.com/stretchr/testify/require"
)

func newChallengeFixture(pages ...drivertest.Page) (*ChallengeHandler, *drivertest.Fake, *chronotest.Clock, *telemetrytest.Recorder) {
	fake := &drivertest.Fake{}
	fake.SetPages(pages...)
	clock := chronotest.NewClock(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))
	tel := &telemetrytest.Recorder{}
	return NewChallengeHandler(fake, DefaultClassifier(), clock, tel, testOrigin), fake, clock, tel
}

func TestBypassPasses(t *testing.T) {
	handler, fake, clock, _ := newChallengeFixture(challengePage, challengePage, dashboardPage)

	require.True(t, handler.Bypass(context.Background(), time.Minute))
	require.Equal(t, []string{testOrigin}, fake.Navigations())
	require.Equal(t, time.Second*2, clock.Slept())
}

func TestBypassTimesOut(t *testing.T) {
	handler, fake, clock, tel := newChallengeFixture(challengePage)
	fake.Elements = func(selector string) []string {
		if selector == challengeControls[0] {
			return []string{""}
		}
		return nil
	}

	require.False(t, handler.Bypass(context.Background(), time.Second*10))
	require.Equal(t, time.Second*10, clock.Slept())
	// navigated once to start and once more after giving up
	require.Equal(t, []string{testOrigin, testOrigin}, fake.Navigations())
	require.Equal(t, []string{challengeControls[0], challengeControls[0]}, fake.Clicks())
	require.Len(t, tel.Reports("warning", report_challenge_bypass), 1)
}

func TestBypassUnreadablePage(t *testing.T) {
	handler, fake, _, _ := newChallengeFixture(dashboardPage)
	fake.Fail = map[string]error{"title": errors.New("target crashed")}

	require.False(t, handler.Bypass(context.Background(), time.Second*3))
}

func TestBypassCancelled(t *testing.T) {
	handler, _, _, _ := newChallengeFixture(challengePage)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.False(t, handler.Bypass(ctx, time.Minute))
}
