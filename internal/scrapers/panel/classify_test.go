package panel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkerClassifier(t *testing.T) {
	classifier := DefaultClassifier()

	cases := []struct {
		name     string
		title    string
		url      string
		expected PageKind
	}{
		{name: "challenge english", title: "Just a moment...", url: "https://panel.example/", expected: PageChallenge},
		{name: "challenge turkish", title: "Bir dakika lütfen...", url: "https://panel.example/", expected: PageChallenge},
		{name: "checking browser", title: "Checking your browser", expected: PageChallenge},
		{name: "login title", title: "Giriş Yap", url: "https://panel.example/", expected: PageLogin},
		{name: "login ascii", title: "Giris", expected: PageLogin},
		{name: "login url", title: "Cronos", url: "https://panel.example/login?next=/", expected: PageLogin},
		{name: "login uppercase", title: "LOGIN", expected: PageLogin},
		{name: "dashboard", title: "Dashboard | Cronos", url: "https://panel.example/dashboard", expected: PageAuthenticated},
		{name: "challenge beats login", title: "Just a moment", url: "https://panel.example/login", expected: PageChallenge},
		{name: "unknown", title: "Financial transactions", url: "https://panel.example/financial", expected: PageUnknown},
		{name: "empty", expected: PageUnknown},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, classifier.Classify(test.title, test.url))
		})
	}
}
