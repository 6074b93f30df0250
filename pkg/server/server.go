// Package server exposes the reconciliation flow over HTTP: upload ledger
// files, trigger the crossing, download the finished workbooks. It is a thin
// skin over pkg/pipeline; all domain rules live there.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/liradata/concilia/pkg/config"
	"github.com/liradata/concilia/pkg/pipeline"
	"github.com/liradata/concilia/pkg/report"
	"github.com/liradata/concilia/pkg/store"
	"github.com/liradata/concilia/pkg/tabular"
)

// Server handles HTTP requests for ledger imports and report downloads.
type Server struct {
	config *config.Config
	logger *log.Logger
	runner *pipeline.Runner
	store  *store.Store
	mux    *http.ServeMux
}

func New(cfg *config.Config, logger *log.Logger, runner *pipeline.Runner, s *store.Store) *Server {
	srv := &Server{
		config: cfg,
		logger: logger,
		runner: runner,
		store:  s,
		mux:    http.NewServeMux(),
	}
	srv.setupRoutes()
	return srv
}

// Start blocks serving on addr.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.mux)
}

// Handler returns the wired route mux.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/import", s.withLogging(s.handleImport))
	s.mux.HandleFunc("/api/run", s.withLogging(s.handleRun))
	s.mux.HandleFunc("/api/reconcile", s.withLogging(s.handleReconcile))
	s.mux.HandleFunc("/api/export", s.withLogging(s.handleExport))
	s.mux.HandleFunc("/api/reports/", s.withLogging(s.handleReports))
	s.mux.HandleFunc("/api/status", s.withLogging(s.handleStatus))
}

// handleImport receives one ledger file as multipart form data. The kind is
// inferred from the uploaded filename, same as the directory import does.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, r, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	file, header, err := r.FormFile("ledger")
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, "ledger file required", err)
		return
	}
	defer file.Close()

	kind, ok := tabular.DetectKind(header.Filename)
	if !ok {
		s.respondError(w, r, http.StatusBadRequest,
			fmt.Sprintf("unrecognized file name %q", header.Filename), nil)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, "failed to read upload", err)
		return
	}

	// The readers dispatch on extension, so the temp file keeps the
	// uploaded name.
	tmp := filepath.Join(os.TempDir(), filepath.Base(header.Filename))
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		s.respondError(w, r, http.StatusInternalServerError, "failed to write temp file", err)
		return
	}
	defer os.Remove(tmp)

	rows, err := s.runner.ImportFile(tmp, kind)
	if err != nil {
		s.respondError(w, r, http.StatusUnprocessableEntity, "import failed", err)
		return
	}

	s.logger.Info("file imported", "file", header.Filename, "kind", kind, "rows", rows)
	if err := s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"kind":   string(kind),
		"rows":   rows,
	}); err != nil {
		s.logger.Warn("failed to write json response", "err", err)
	}
}

// handleRun executes the full flow against the configured input directory
// and returns the per-step outcomes.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, r, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	outcomes, err := s.runner.Run()
	status := "success"
	code := http.StatusOK
	if err != nil {
		status = "error"
		code = http.StatusUnprocessableEntity
	}
	if err := s.writeJSON(w, code, map[string]any{
		"status":   status,
		"summary":  pipeline.Summary(outcomes),
		"outcomes": outcomes,
	}); err != nil {
		s.logger.Warn("failed to write json response", "err", err)
	}
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, r, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}
	if err := s.runner.Reconcile(); err != nil {
		s.respondError(w, r, http.StatusUnprocessableEntity, "reconciliation failed", err)
		return
	}
	if err := s.writeJSON(w, http.StatusOK, map[string]string{"status": "success"}); err != nil {
		s.logger.Warn("failed to write json response", "err", err)
	}
}

// handleExport writes the workbook for the requested view and returns its
// filename, ready for a follow-up download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, r, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	view := report.View(r.FormValue("view"))
	if view == "" {
		view = report.ViewVendors
	}
	if view != report.ViewVendors && view != report.ViewAdvances {
		s.respondError(w, r, http.StatusBadRequest,
			fmt.Sprintf("unknown view %q", view), nil)
		return
	}

	path, err := s.runner.Export(view)
	if err != nil {
		s.respondError(w, r, http.StatusUnprocessableEntity, "export failed", err)
		return
	}
	if err := s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"file":   filepath.Base(path),
	}); err != nil {
		s.logger.Warn("failed to write json response", "err", err)
	}
}

// handleReports serves a previously exported workbook from the results
// directory.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	if name == "" {
		s.respondError(w, r, http.StatusBadRequest, "filename required", nil)
		return
	}
	// Downloads stay inside the results directory.
	if name != filepath.Base(name) {
		s.respondError(w, r, http.StatusBadRequest, "invalid filename", nil)
		return
	}

	path := filepath.Join(s.config.ResultsDir, name)
	if _, err := os.Stat(path); err != nil {
		s.respondError(w, r, http.StatusNotFound, "report not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

// handleStatus reports the row counts of every ledger and result table.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, r, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	counts := map[string]int{}
	for _, table := range []string{
		store.TableFinancial, store.TableAccountingSummary,
		store.TableAccountingItems, store.TableAdvance,
		store.TableResult, store.TableAdvanceResult,
	} {
		n, err := s.store.Count(table)
		if err != nil {
			s.respondError(w, r, http.StatusInternalServerError, "failed to count rows", err)
			return
		}
		counts[table] = n
	}
	if err := s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"tables": counts,
	}); err != nil {
		s.logger.Warn("failed to write json response", "err", err)
	}
}

// --- helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// respondError logs the error and returns a minimal JSON error body.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	if err != nil {
		s.logger.Warn("request error", "status", status, "msg", message, "err", err, "method", r.Method, "path", r.URL.Path)
	} else {
		s.logger.Warn("request error", "status", status, "msg", message, "method", r.Method, "path", r.URL.Path)
	}
	_ = s.writeJSON(w, status, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// withLogging wraps a handler to log the request and recover panics.
func (s *Server) withLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "panic", rec, "method", r.Method, "path", r.URL.Path)
				s.respondError(w, r, http.StatusInternalServerError, "internal server error", fmt.Errorf("panic: %v", rec))
			}
		}()
		next(w, r)
	}
}
