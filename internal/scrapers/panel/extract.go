package panel

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"panelwatch/internal/components/assert"
	"panelwatch/internal/components/telemetry"
	"panelwatch/internal/driver"
	"panelwatch/internal/withdrawal"
	"panelwatch/lib/htmlutil"
	"panelwatch/lib/textutil"
	"panelwatch/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
)

const (
	report_extractor_read_rows  = "extractor.read-visible-rows"
	report_extractor_read_count = "extractor.read-declared-count"
)

const minRowCells = 10

// Extractor reads the withdrawal table as currently rendered.
type Extractor struct {
	driver driver.Driver
	tel    telemetry.API
}

func NewExtractor(d driver.Driver, tel telemetry.API) *Extractor {
	assert.NotNil(d)
	assert.NotNil(tel)
	return &Extractor{
		driver: d,
		tel:    telemetry.NewScopedAPI("extractor", tel),
	}
}

// ReadVisibleRows parses every visible row of the table, rows whose
// label does not map to a status keep the scanned status.
func (e *Extractor) ReadVisibleRows(ctx context.Context, status withdrawal.Status) ([]withdrawal.Record, error) {
	html, err := e.tableHtml(ctx)
	if err != nil {
		if errors.Is(err, ErrStructural) {
			e.tel.ReportBroken(report_extractor_read_rows, err)
		}
		return nil, err
	}

	records, err := ParseRows(ctx, html, status)
	if err != nil {
		e.tel.ReportBroken(report_extractor_read_rows, err)
		return nil, err
	}

	unparsed := 0
	for _, r := range records {
		if _, ok := withdrawal.ParseAmount(r.AmountText); !ok {
			unparsed++
		}
	}
	if unparsed > 0 {
		e.tel.ReportWarning(report_extractor_read_rows, "amounts could not be parsed", unparsed)
	}
	e.tel.ReportCount(report_extractor_read_rows, int64(len(records)))
	return records, nil
}

// tableHtml returns the listing table, or the whole page when the listing
// wrapper is missing. Rows of other tables on the page are too short to
// pass as withdrawals and are skipped while parsing.
func (e *Extractor) tableHtml(ctx context.Context) (string, error) {
	html, err := e.driver.OuterHTML(ctx, listingTableSelector)
	if err == nil {
		return html, nil
	}
	if !driver.IsNotFound(err) {
		return "", err
	}

	e.tel.ReportWarning(report_extractor_read_rows, "listing table wrapper not found, reading the whole page")
	html, err = e.driver.OuterHTML(ctx, "body")
	if driver.IsNotFound(err) || (err == nil && !strings.Contains(html, "<table")) {
		return "", fmt.Errorf("withdrawal table not found: %w", ErrStructural)
	}
	return html, err
}

// ReadDeclaredCount reads the total from the pagination caption.
func (e *Extractor) ReadDeclaredCount(ctx context.Context) (int, bool) {
	el, err := e.driver.Query(ctx, footerSelector, time.Second*2)
	if err != nil {
		if !driver.IsNotFound(err) {
			e.tel.ReportWarning(report_extractor_read_count, err)
		}
		return 0, false
	}
	text, err := e.driver.Text(ctx, el)
	if err != nil {
		e.tel.ReportWarning(report_extractor_read_count, err)
		return 0, false
	}
	return ParseDeclaredCount(text)
}

var captionPattern = regexp.MustCompile(`(\d+)\s*-\s*(\d+)\s*(?:of|/)\s*(\d+)`)

// ParseDeclaredCount extracts the total of a pagination caption like
// "1-50 of 62" or "1-50/62".
func ParseDeclaredCount(caption string) (int, bool) {
	m := captionPattern.FindStringSubmatch(caption)
	if m == nil {
		return 0, false
	}
	total, err := strconv.Atoi(m[3])
	if err != nil {
		return 0, false
	}
	return total, true
}

var playerIDPattern = regexp.MustCompile(`customer-detail/(\d+)`)

var (
	acceptLabels = []string{"Kabul et", "Accept"}
	rejectLabels = []string{"Reddet", "Reject"}
)

func containsLabel(html string, labels []string) bool {
	for _, l := range labels {
		if strings.Contains(html, l) {
			return true
		}
	}
	return false
}

// ParseRows parses the rendered table html, status is the status the table
// was filtered by.
func ParseRows(ctx context.Context, html string, status withdrawal.Status) ([]withdrawal.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse table: %w", err)
	}

	records := []withdrawal.Record{}
	doc.Find("table tbody tr").Each(func(_ int, row *goquery.Selection) {
		tds := row.ChildrenFiltered("td")
		if tds.Length() < minRowCells {
			return
		}
		cells := make([]string, tds.Length())
		tds.Each(func(i int, td *goquery.Selection) {
			cells[i] = htmlutil.Text(td)
		})
		cell := func(i int) string {
			if i < len(cells) {
				return cells[i]
			}
			return ""
		}

		playerID := ""
		for _, a := range htmlutil.GetAnchors(ctx, row.Find(`a[href*="customer-detail"]`)) {
			m := playerIDPattern.FindStringSubmatch(a.Href)
			if m != nil {
				playerID = m[1]
				break
			}
		}
		if playerID == "" {
			playerID = cell(2)
		}
		if playerID == "" {
			playerID = cell(3)
		}

		label := cell(9)
		if span := tds.Eq(9).Find("span").First(); span.Length() > 0 {
			label = htmlutil.Text(span)
		}

		rowHtml, _ := row.Html()
		amount, _ := withdrawal.ParseAmount(cell(5))
		created, _ := timezone.ParsePanelTime(cell(11))
		updated, _ := timezone.ParsePanelTime(cell(12))

		records = append(records, withdrawal.Record{
			ID:              cell(0),
			Type:            cell(1),
			PlayerID:        playerID,
			Username:        cell(3),
			FullName:        cell(4),
			AmountText:      cell(5),
			Amount:          amount,
			Extra:           cell(6),
			PaymentMethod:   textutil.CollapseSpace(strings.Replace(cell(7), "edit", "", 1)),
			Note:            cell(8),
			StatusLabel:     label,
			Status:          NormalizeStatus(label, status),
			ManagerNote:     cell(10),
			CreatedAt:       cell(11),
			UpdatedAt:       cell(12),
			CreatedTime:     created,
			UpdatedTime:     updated,
			Manager:         cell(13),
			HasAcceptAction: containsLabel(rowHtml, acceptLabels),
			HasRejectAction: containsLabel(rowHtml, rejectLabels),
		})
	})

	return records, nil
}

var statusLabels = map[withdrawal.Status][]string{
	withdrawal.StatusPending:    {"beklemede", "pending"},
	withdrawal.StatusReserved:   {"reserve edildi", "rezerve edildi", "reserved"},
	withdrawal.StatusProcessing: {"islemde", "processing", "in process"},
}

// labels scoring below this are not considered a match
const labelSimilarityThreshold = 0.88

// NormalizeStatus maps a status label to its status, falling back to
// fallback when nothing is similar enough.
func NormalizeStatus(label string, fallback withdrawal.Status) withdrawal.Status {
	folded := textutil.Fold(label)
	if folded == "" {
		return fallback
	}

	best := fallback
	bestScore := 0.0
	for _, status := range withdrawal.Statuses {
		for _, candidate := range statusLabels[status] {
			if folded == candidate {
				return status
			}
			score := matchr.JaroWinkler(folded, candidate, false)
			if score > bestScore {
				best = status
				bestScore = score
			}
		}
	}
	if bestScore < labelSimilarityThreshold {
		return fallback
	}
	return best
}
