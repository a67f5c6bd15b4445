package web

import (
	"net/http"

	"github.com/JonMunkholm/sheetingest/internal/core"
	"github.com/JonMunkholm/sheetingest/internal/logging"
)

// handleIngest stores an uploaded workbook. Form fields: file, and the
// optional mode and templateId.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	data, name, err := readUpload(w, r, s.cfg.Ingest.MaxFileSize)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	opts := core.IngestOptions{
		Mode:       core.StorageMode(r.FormValue("mode")),
		TemplateID: r.FormValue("templateId"),
	}

	result, err := s.service.Ingest(r.Context(), data, name, opts)
	if err != nil {
		if result == nil {
			s.respondError(w, r, err)
			return
		}
		status := statusFor(err)
		logging.FromContext(r.Context()).Warn("ingest failed",
			"file", name,
			"status", status,
			"error", err.Error(),
		)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "5")
		}
		writeJSONStatus(w, status, result)
		return
	}

	writeJSONStatus(w, http.StatusCreated, result)
}

// handlePreview analyzes an uploaded workbook without storing it.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	data, name, err := readUpload(w, r, s.cfg.Ingest.MaxFileSize)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp, err := s.service.Preview(r.Context(), data, name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleListWorkbooks(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	workbooks, err := s.service.ListWorkbooks(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, workbooks)
}

func (s *Server) handleGetWorkbook(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	wb, err := s.service.GetWorkbook(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, wb)
}

// handleDeleteWorkbook removes a workbook with its sheets, rows and tables.
func (s *Server) handleDeleteWorkbook(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.service.DeleteWorkbook(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth reports the ingest slots.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"ingests": s.service.IngestLimiterStatus(),
	})
}
