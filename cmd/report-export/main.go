// Command report-export writes a project's spending report to CSV or appends
// it to the configured Google spreadsheet.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"coinvest/internal/backend"
	"coinvest/internal/cli"
	"coinvest/internal/config"
	"coinvest/internal/core"
	apphttp "coinvest/internal/http"
	applog "coinvest/internal/log"
	"coinvest/internal/report"
	"coinvest/internal/services"
	gsheet "coinvest/internal/sheets/google"
)

func main() {
	var (
		projectID = flag.String("project", "", "project id to export (required)")
		actor     = flag.String("actor", "", "user id the report is generated as (required)")
		status    = flag.String("status", "", "only spendings in this status")
		from      = flag.String("from", "", "earliest spend date, YYYY-MM-DD")
		to        = flag.String("to", "", "latest spend date, YYYY-MM-DD")
		owner     = flag.String("owner", "", "only spendings tracked to this user id")
		out       = flag.String("out", "", "CSV output file (default: stdout)")
		toSheets  = flag.Bool("sheets", false, "append to the Google spreadsheet instead of writing CSV")
	)
	flag.Parse()

	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentReport)
	if *projectID == "" || *actor == "" {
		fmt.Fprintln(os.Stderr, "report-export: -project and -actor are required")
		flag.Usage()
		os.Exit(2)
	}

	query := url.Values{}
	for k, v := range map[string]string{"status": *status, "from": *from, "to": *to, "owner": *owner} {
		if v != "" {
			query.Set(k, v)
		}
	}
	filter, err := apphttp.ParseListFilter(query)
	if err != nil {
		logger.Error("Invalid filter", applog.FieldError, err)
		os.Exit(2)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	// Reading a report must not emit notifications through the broker.
	backendCfg.AMQPURL = ""

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	be, err := backend.NewFactory(logger).Create(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err)
		os.Exit(1)
	}
	defer be.Cleanup()

	svc := services.NewSpendingService(be.Deps(), services.Options{
		NotifyTimeout:   cfg.NotifyTimeout,
		BulkConcurrency: cfg.BulkConcurrency,
		AnalyticsWindow: cfg.AnalyticsWindow(),
		Logger:          logger,
	})

	now := time.Now().UTC()
	meta, views, err := report.Build(ctx, svc, *actor, *projectID, filter, query.Encode(), now)
	if err != nil {
		logger.Error("Failed to build report", applog.FieldError, err,
			"project_id", *projectID, "kind", kindOf(err))
		os.Exit(1)
	}

	if *toSheets {
		if err := exportToSheets(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName, credentials(cfg, logger), meta, views, logger); err != nil {
			logger.Error("Sheets export failed", applog.FieldError, err)
			os.Exit(1)
		}
		return
	}

	if err := writeCSV(*out, meta, views); err != nil {
		logger.Error("CSV export failed", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Report written", "project_id", meta.ProjectID, "rows", len(views),
		"file", fileOrStdout(*out, meta.ProjectName, now))
}

func credentials(cfg *config.Config, logger *applog.Logger) []byte {
	if err := cfg.ValidateSheets(); err != nil {
		logger.Error("Sheets configuration invalid", applog.FieldError, err)
		os.Exit(1)
	}
	b, err := cfg.ServiceAccountCredentials()
	if err != nil {
		logger.Error("Failed to read service account credentials", applog.FieldError, err)
		os.Exit(1)
	}
	return b
}

func exportToSheets(ctx context.Context, spreadsheetID, sheetName string, creds []byte, meta report.Meta, views []core.SpendingView, logger *applog.Logger) error {
	exp, err := gsheet.New(ctx, spreadsheetID, sheetName, creds)
	if err != nil {
		return fmt.Errorf("create exporter: %w", err)
	}
	ref, err := exp.Export(ctx, meta, views)
	if err != nil {
		return err
	}
	logger.Info("Report appended to spreadsheet", "sheet", exp.SheetName(), "range", ref, "rows", len(views))
	return nil
}

func writeCSV(path string, meta report.Meta, views []core.SpendingView) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		if err := report.WriteCSV(f, meta, views); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return report.WriteCSV(w, meta, views)
}

func fileOrStdout(path, projectName string, at time.Time) string {
	if path == "" {
		return "stdout (suggested name " + report.Filename(projectName, at) + ")"
	}
	return path
}

func kindOf(err error) string {
	if k := core.Kind(err); k != nil {
		return k.Error()
	}
	return "internal"
}
