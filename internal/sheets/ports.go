package sheets

import (
	"context"

	"coinvest/internal/core"
	"coinvest/internal/report"
)

// ReportExporter writes a project report to an external spreadsheet.
type ReportExporter interface {
	// Export writes meta and rows and returns a reference to the written range.
	Export(ctx context.Context, meta report.Meta, views []core.SpendingView) (ref string, err error)
}
