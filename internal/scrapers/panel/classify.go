package panel

import (
	"panelwatch/lib/textutil"
)

// PageKind is what the page currently shown by the browser is.
type PageKind string

const (
	PageUnknown       PageKind = "unknown"
	PageLogin         PageKind = "login"
	PageChallenge     PageKind = "challenge"
	PageAuthenticated PageKind = "authenticated"
)

// PageClassifier maps the title and URL of the current page to a PageKind.
type PageClassifier interface {
	Classify(title, url string) PageKind
}

// MarkerClassifier classifies pages by substrings, compared after folding
// case, turkish letters and whitespace.
// A challenge marker wins over a login marker which wins over an
// authenticated marker.
type MarkerClassifier struct {
	ChallengeMarkers     []string
	LoginTitleMarkers    []string
	LoginURLMarkers      []string
	AuthenticatedMarkers []string
}

// DefaultClassifier knows the markers of the panel and its bot challenge
// in both english and turkish.
func DefaultClassifier() MarkerClassifier {
	return MarkerClassifier{
		ChallengeMarkers:     []string{"checking", "just a moment", "dakika"},
		LoginTitleMarkers:    []string{"login", "giriş", "giris"},
		LoginURLMarkers:      []string{"/login"},
		AuthenticatedMarkers: []string{"dashboard", "cronos"},
	}
}

func (c MarkerClassifier) Classify(title, url string) PageKind {
	switch {
	case textutil.MatchName(title, c.ChallengeMarkers):
		return PageChallenge
	case textutil.MatchName(title, c.LoginTitleMarkers), textutil.MatchName(url, c.LoginURLMarkers):
		return PageLogin
	case textutil.MatchName(title, c.AuthenticatedMarkers):
		return PageAuthenticated
	}
	return PageUnknown
}
