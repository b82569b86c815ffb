// Package report renders enriched spendings as flat rows for CSV and
// spreadsheet export.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"coinvest/internal/core"
)

// Meta is the header block written above the spending rows.
type Meta struct {
	ProjectID   string
	ProjectName string
	GeneratedBy string
	GeneratedAt time.Time
	// Filter describes the list filter in a human readable form.
	Filter string
	Totals core.StatusBreakdown
}

// Header names the columns of Row.
var Header = []string{
	"ID",
	"Spent on",
	"Category",
	"Item",
	"Place",
	"Ledger",
	"Sub-ledger",
	"Amount",
	"Status",
	"Initiator",
	"Funded by",
	"Tracked owner",
	"Approvals",
	"Waiting for",
	"Description",
	"Created at",
}

// Summarize builds Meta totals from the views being exported.
func Summarize(m Meta, views []core.SpendingView) Meta {
	m.Totals = core.StatusBreakdown{}
	for _, v := range views {
		m.Totals.Add(v.Status, v.Amount)
	}
	return m
}

// MetaRows renders the header block, one key/value pair per row.
func MetaRows(m Meta) [][]string {
	total := m.Totals.Total()
	rows := [][]string{
		{"Project", m.ProjectName},
		{"Project ID", m.ProjectID},
		{"Generated by", m.GeneratedBy},
		{"Generated at", m.GeneratedAt.UTC().Format(time.RFC3339)},
	}
	if m.Filter != "" {
		rows = append(rows, []string{"Filter", m.Filter})
	}
	rows = append(rows,
		[]string{"Approved", countAmount(m.Totals.Approved)},
		[]string{"Pending", countAmount(m.Totals.Pending)},
		[]string{"Rejected", countAmount(m.Totals.Rejected)},
		[]string{"Total", countAmount(total)},
	)
	return rows
}

// Row flattens one spending view.
func Row(v core.SpendingView) []string {
	item, place := v.ProductName, ""
	if v.Category == core.CategoryService {
		item, place = v.PayeeName, v.PayeePlace
	}
	return []string{
		v.ID,
		v.SpentOn.Format("2006-01-02"),
		string(v.Category),
		item,
		place,
		v.LedgerID,
		v.SubLedger,
		v.Amount.String(),
		string(v.Status),
		v.Initiator.Name,
		v.FundedBy.Name,
		v.TrackedOwner.Name,
		fmt.Sprintf("%d/%d", v.Approval.ApprovedCount, v.Approval.RequiredCount),
		names(v.Approval.WaitingFor),
		v.Description,
		v.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Rows flattens every view, preserving order.
func Rows(views []core.SpendingView) [][]string {
	out := make([][]string, 0, len(views))
	for _, v := range views {
		out = append(out, Row(v))
	}
	return out
}

// Table is the full export: meta block, a blank separator, header and rows.
func Table(m Meta, views []core.SpendingView) [][]string {
	out := MetaRows(m)
	out = append(out, []string{}, Header)
	return append(out, Rows(views)...)
}

// WriteCSV writes Table(m, views) as CSV.
func WriteCSV(w io.Writer, m Meta, views []core.SpendingView) error {
	cw := csv.NewWriter(w)
	for _, rec := range Table(m, views) {
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Filename is the suggested download name for a project export.
func Filename(projectName string, at time.Time) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, strings.TrimSpace(projectName))
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "project"
	}
	return slug + "-" + at.UTC().Format("20060102") + ".csv"
}

func countAmount(t core.StatusTotal) string {
	return strconv.Itoa(t.Count) + " / " + t.Amount.String()
}

func names(people []core.Person) string {
	parts := make([]string, len(people))
	for i, p := range people {
		parts[i] = p.Name
	}
	return strings.Join(parts, "; ")
}
