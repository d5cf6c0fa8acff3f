package timezone

import "time"

// Location is the time zone the operator panel renders its timestamps in.
var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Europe/Istanbul")
	if err != nil {
		// Istanbul has been fixed at UTC+3 without DST since 2016.
		Location = time.FixedZone("TRT", 3*60*60)
	}
}

var panelLayouts = []string{
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006 15:04:05",
}

// ParsePanelTime parses a timestamp as rendered by the panel, returning
// false when none of the known layouts match.
func ParsePanelTime(text string) (time.Time, bool) {
	for _, layout := range panelLayouts {
		t, err := time.ParseInLocation(layout, text, Location)
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
