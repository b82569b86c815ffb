package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"coinvest/internal/core"
	"coinvest/internal/report"
	ports "coinvest/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const defaultRowCacheTTL = 2 * time.Minute

// Exporter appends project reports to a sheet, one block per export.
type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string

	// Row count cache, so back-to-back exports skip the dimension read.
	mu                 sync.Mutex
	cachedRowCount     int
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
}

var _ ports.ReportExporter = (*Exporter)(nil)

// New creates an exporter using service account credentials. The sheet
// name is prefixed with the current year unless it already carries one.
func New(ctx context.Context, spreadsheetID, sheetBase string, credentialsJSON []byte, opts ...goption.ClientOption) (*Exporter, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	svc, err := newSheetsService(ctx, credentialsJSON, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, spreadsheetID, yearPrefixedName(sheetBase, time.Now().Year())), nil
}

// NewWithService wraps an existing service; sheetName is used as is.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheetName string) *Exporter {
	return &Exporter{
		svc:                svc,
		spreadsheetID:      spreadsheetID,
		sheetName:          sheetName,
		cacheValidDuration: defaultRowCacheTTL,
	}
}

func newSheetsService(ctx context.Context, credentialsJSON []byte, extra ...goption.ClientOption) (*gsheet.Service, error) {
	if len(credentialsJSON) == 0 && len(extra) == 0 {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	opts := make([]goption.ClientOption, 0, len(extra)+2)
	if len(credentialsJSON) > 0 {
		opts = append(opts,
			goption.WithCredentialsJSON(credentialsJSON),
			goption.WithScopes(gsheet.SpreadsheetsScope))
	}
	opts = append(opts, extra...)

	slog.InfoContext(ctx, "Creating Google Sheets service",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// SheetName is the resolved target sheet.
func (e *Exporter) SheetName() string { return e.sheetName }

// Export writes the meta block, header and rows below the last used row,
// separated from earlier exports by a blank row.
func (e *Exporter) Export(ctx context.Context, meta report.Meta, views []core.SpendingView) (string, error) {
	if e.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	used, err := e.usedRows(ctx)
	if err != nil {
		return "", err
	}
	start := used + 1
	if used > 0 {
		start++
	}

	table := report.Table(meta, views)
	values := make([][]any, len(table))
	for i, rec := range table {
		row := make([]any, len(rec))
		for j, v := range rec {
			row[j] = v
		}
		values[i] = row
	}
	end := start + len(values) - 1
	rng := fmt.Sprintf("%s!A%d:%s%d", e.sheetName, start, columnName(len(report.Header)), end)

	_, err = e.svc.Spreadsheets.Values.Update(e.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		e.invalidateRowCache()
		return "", fmt.Errorf("failed to update %s: %w", rng, err)
	}

	e.mu.Lock()
	e.cachedRowCount = end
	e.cacheExpiresAt = time.Now().Add(e.cacheValidDuration)
	e.mu.Unlock()

	slog.InfoContext(ctx, "Exported report to sheet",
		"sheet", e.sheetName,
		"range", rng,
		"rows", len(views))
	return rng, nil
}

func (e *Exporter) usedRows(ctx context.Context) (int, error) {
	e.mu.Lock()
	if time.Now().Before(e.cacheExpiresAt) {
		n := e.cachedRowCount
		e.mu.Unlock()
		return n, nil
	}
	e.mu.Unlock()

	rng := fmt.Sprintf("%s!A:A", e.sheetName)
	resp, err := e.svc.Spreadsheets.Values.Get(e.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to get sheet dimensions for %s: %w", e.sheetName, err)
	}
	return len(resp.Values), nil
}

func (e *Exporter) invalidateRowCache() {
	e.mu.Lock()
	e.cacheExpiresAt = time.Time{}
	e.mu.Unlock()
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

// columnName converts a 1-based column index to A1 letters.
func columnName(n int) string {
	var s []byte
	for n > 0 {
		n--
		s = append([]byte{byte('A' + n%26)}, s...)
		n /= 26
	}
	return string(s)
}
