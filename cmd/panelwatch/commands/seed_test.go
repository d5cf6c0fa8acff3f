package commands

import (
	"context"
	"testing"
	"time"

	"panelwatch/internal/driver"
	"panelwatch/internal/store"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const seedOrigin = "https://panel.example.com"

func TestParseSessionSeed(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		expected store.Credentials
		err      bool
	}{
		{
			name: "credential blob",
			raw:  `{"localStorage":{"access_token":"tok"},"cookies":[{"name":"sid","value":"1","domain":"panel.example.com","path":"/"}]}`,
			expected: store.Credentials{
				LocalStorage: map[string]string{"access_token": "tok"},
				Cookies:      []driver.Cookie{{Name: "sid", Value: "1", Domain: "panel.example.com", Path: "/"}},
			},
		},
		{
			name: "storage state",
			raw: `{
				"cookies": [{"name":"cf_clearance","value":"abc","domain":".example.com","path":"/","expires":1.5,"httpOnly":true,"secure":true}],
				"origins": [
					{"origin":"https://panel.example.com","localStorage":[{"name":"access_token","value":"tok"},{"name":"lang","value":"tr"}]},
					{"origin":"https://other.example.com","localStorage":[{"name":"access_token","value":"other"}]}
				]
			}`,
			expected: store.Credentials{
				LocalStorage: map[string]string{"access_token": "tok", "lang": "tr"},
				Cookies: []driver.Cookie{{
					Name:     "cf_clearance",
					Value:    "abc",
					Domain:   ".example.com",
					Path:     "/",
					Expires:  1.5,
					Secure:   true,
					HTTPOnly: true,
				}},
			},
		},
		{name: "not json", raw: `access_token=tok`, err: true},
		{name: "empty blob", raw: `{"localStorage":{}}`, err: true},
		{name: "storage state for another origin", raw: `{"cookies":[],"origins":[{"origin":"https://other.example.com","localStorage":[]}]}`, err: true},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			creds, err := parseSessionSeed(test.raw, seedOrigin)
			if test.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(test.expected, creds); diff != "" {
				t.Fatalf("credentials differ (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSeedCredentials(t *testing.T) {
	ctx := context.Background()
	raw := `{"localStorage":{"access_token":"seeded"}}`

	mem := store.NewMemory()
	seeded, err := seedCredentials(ctx, mem, "", seedOrigin)
	require.NoError(t, err)
	require.False(t, seeded)

	seeded, err = seedCredentials(ctx, mem, raw, seedOrigin)
	require.NoError(t, err)
	require.True(t, seeded)
	creds, err := mem.LoadCredentials(ctx)
	require.NoError(t, err)
	require.Equal(t, "seeded", creds.Get("access_token"))

	// a persisted session always wins over the seed
	require.NoError(t, mem.SaveCredentials(ctx, store.Credentials{
		LocalStorage: map[string]string{"access_token": "fresh"},
		SavedAt:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	seeded, err = seedCredentials(ctx, mem, raw, seedOrigin)
	require.NoError(t, err)
	require.False(t, seeded)
	creds, err = mem.LoadCredentials(ctx)
	require.NoError(t, err)
	require.Equal(t, "fresh", creds.Get("access_token"))
}
