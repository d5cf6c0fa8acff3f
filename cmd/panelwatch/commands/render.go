package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"panelwatch/internal/store"
	"panelwatch/internal/withdrawal"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func renderBuckets(w io.Writer, result withdrawal.ScanResult) {
	t := newTable(w)
	t.SetTitle(fmt.Sprintf("scan %s (%s)", result.ID, result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond)))
	t.AppendHeader(table.Row{"Status", "Declared", "Visible", "Sum", "Note"})
	for _, b := range result.Buckets {
		note := ""
		switch {
		case b.Failed:
			note = "failed: " + b.Error
		case b.CountMismatch:
			note = "fewer declared than visible"
		}
		t.AppendRow(table.Row{b.Status, b.DeclaredCount, len(b.Records), b.SumAmount.StringFixed(2), note})
	}
	t.AppendFooter(table.Row{"", result.TotalDeclared(), result.TotalRecords(), "", ""})
	t.Render()
}

func renderRecords(w io.Writer, result withdrawal.ScanResult) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Status", "Username", "Amount", "Method", "Created"})
	for _, b := range result.Buckets {
		for _, r := range b.Records {
			t.AppendRow(table.Row{r.ID, r.Status, r.Username, r.AmountText, r.PaymentMethod, r.CreatedAt})
		}
	}
	t.Render()
}

func renderCredentials(w io.Writer, creds store.Credentials) {
	t := newTable(w)
	t.SetTitle(fmt.Sprintf("saved %s", creds.SavedAt.Format(time.DateTime)))
	t.AppendHeader(table.Row{"Kind", "Name", "Value"})

	keys := make([]string, 0, len(creds.LocalStorage))
	for k := range creds.LocalStorage {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t.AppendRow(table.Row{"localStorage", k, truncate(creds.LocalStorage[k], 24)})
	}
	for _, c := range creds.Cookies {
		t.AppendRow(table.Row{"cookie", fmt.Sprintf("%s (%s)", c.Name, c.Domain), truncate(c.Value, 24)})
	}
	t.Render()
}

func renderDecisions(w io.Writer, decisions []store.Decision) {
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Withdrawal", "Action", "Username", "Amount", "Result", "At"})
	for _, d := range decisions {
		outcome := "ok"
		if !d.Success {
			outcome = truncate(d.Error, 40)
		}
		if d.Reason != "" {
			outcome = fmt.Sprintf("%s (%s)", outcome, d.Reason)
		}
		t.AppendRow(table.Row{d.ID, d.WithdrawalID, d.Action, d.Username, d.Amount, outcome, d.CreatedAt.Format(time.DateTime)})
	}
	t.Render()
}
