package http

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	applog "coinvest/internal/log"
	"coinvest/internal/report"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			NewJSONResponse().
				Status(http.StatusServiceUnavailable).
				Body(map[string]string{"status": "not_ready", "error": err.Error()}).
				Write(w)
			return
		}
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}

func (s *Server) handleCreateSpending(w http.ResponseWriter, r *http.Request) {
	in, err := ParseNewSpending(NewRequestBodyParser(r), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeError(w, r, err, applog.OpCreate)
		return
	}
	view, err := s.api.CreateSpending(r.Context(), actorID(r), in)
	if err != nil {
		s.writeError(w, r, err, applog.OpCreate)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/projects/"+view.ProjectID+"/spendings").
		Body(view).
		Write(w)
}

func (s *Server) handleListSpendings(w http.ResponseWriter, r *http.Request) {
	f, err := ParseListFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err, applog.OpList)
		return
	}
	list, err := s.api.ListSpendings(r.Context(), actorID(r), chi.URLParam(r, "projectID"), f)
	if err != nil {
		s.writeError(w, r, err, applog.OpList)
		return
	}
	NewJSONResponse().Body(map[string]any{"spendings": list}).Write(w)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	vote, err := ParseVote(NewRequestBodyParser(r))
	if err != nil {
		s.writeError(w, r, err, applog.OpVote)
		return
	}
	view, err := s.api.CastVote(r.Context(), actorID(r), chi.URLParam(r, "spendingID"), vote.VoterID, vote.Decision)
	if err != nil {
		s.writeError(w, r, err, applog.OpVote)
		return
	}
	NewJSONResponse().Body(view).Write(w)
}

// handleReconcile runs the sweep on demand, e.g. right after tooling edits
// memberships, instead of waiting for the next read.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	n, err := s.api.Reconcile(r.Context(), actorID(r), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeError(w, r, err, applog.OpSweep)
		return
	}
	NewJSONResponse().Body(map[string]int{"finalized": n}).Write(w)
}

func (s *Server) handleProjectSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.api.ProjectSummary(r.Context(), actorID(r), chi.URLParam(r, "projectID"))
	if err != nil {
		s.writeError(w, r, err, applog.OpSummarize)
		return
	}
	NewJSONResponse().Body(sum).Write(w)
}

func (s *Server) handleBulkSummaries(w http.ResponseWriter, r *http.Request) {
	sums, err := s.api.BulkSummaries(r.Context(), actorID(r), ParseProjectIDs(r.URL.Query()))
	if err != nil {
		s.writeError(w, r, err, applog.OpSummarize)
		return
	}
	NewJSONResponse().Body(map[string]any{"summaries": sums}).Write(w)
}

func (s *Server) handleUserExpenses(w http.ResponseWriter, r *http.Request) {
	f, err := ParseSpendingFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err, applog.OpList)
		return
	}
	res, err := s.api.UserExpenses(r.Context(), actorID(r), f)
	if err != nil {
		s.writeError(w, r, err, applog.OpList)
		return
	}
	NewJSONResponse().Body(res).Write(w)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDate(q.Get("from"))
	if err != nil {
		s.writeError(w, r, err, applog.OpSummarize)
		return
	}
	to, err := parseDate(q.Get("to"))
	if err != nil {
		s.writeError(w, r, err, applog.OpSummarize)
		return
	}
	res, err := s.api.Analytics(r.Context(), actorID(r), from, to)
	if err != nil {
		s.writeError(w, r, err, applog.OpSummarize)
		return
	}
	NewJSONResponse().Body(res).Write(w)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit := ParseLimit(r.URL.Query(), defaultNotificationLimit, maxNotificationLimit)
	list, err := s.api.Notifications(r.Context(), actorID(r), limit)
	if err != nil {
		s.writeError(w, r, err, applog.OpList)
		return
	}
	NewJSONResponse().Body(map[string]any{"notifications": list}).Write(w)
}

// handleExportCSV streams the filtered spending list of a project as CSV.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	f, err := ParseListFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err, applog.OpExport)
		return
	}
	now := s.now()
	meta, list, err := report.Build(r.Context(), s.api, actorID(r), projectID, f, r.URL.RawQuery, now)
	if err != nil {
		s.writeError(w, r, err, applog.OpExport)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, meta, list); err != nil {
		s.writeError(w, r, err, applog.OpExport)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.Filename(meta.ProjectName, now)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// writeError renders err by kind; anything outside the taxonomy is logged
// and reported as a bare 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, op string) {
	if errors.Is(err, errMalformedBody) {
		BadRequestError(err.Error()).Write(w)
		return
	}
	resp, known := DomainError(err)
	if !known {
		applog.NewStructuredLogger(applog.FromContext(r.Context())).LogError(r.Context(),
			"Request failed", err, op,
			applog.NewFields().WithActor(actorID(r)).WithErrorType(applog.ErrorTypeInternal))
	}
	resp.Write(w)
}
