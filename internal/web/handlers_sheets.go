package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetingest/internal/ingest"
)

func (s *Server) handleGetSheet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	sheet, err := s.service.GetSheet(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, sheet)
}

type reprocessRequest struct {
	HeaderRowIndex *int `json:"headerRowIndex"`
}

// handleReprocess re-reads a sheet with an explicit 0-based header row.
func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var req reprocessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.HeaderRowIndex == nil || *req.HeaderRowIndex < 0 {
		s.respondError(w, r, badRequest("headerRowIndex must be a non-negative integer"))
		return
	}

	result, err := s.service.Reprocess(r.Context(), id, *req.HeaderRowIndex)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleListRows(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	limit, offset := page(r)
	rows, err := s.service.ListRows(r.Context(), id, limit, offset)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, rows)
}

// handleTableData pages through the typed table of a table-mode sheet.
func (s *Server) handleTableData(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	limit, offset := page(r)
	data, err := s.service.TableData(r.Context(), id, limit, offset)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, data)
}

func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	def, err := s.service.GetMapping(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, def)
}

func (s *Server) handleSetMapping(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var def ingest.MappingDefinition
	if err := decodeJSON(w, r, &def); err != nil {
		s.respondError(w, r, err)
		return
	}

	saved, err := s.service.SetMapping(r.Context(), id, def)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, saved)
}

// handleApplyTemplate copies a template's rules onto a sheet.
func (s *Server) handleApplyTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	def, err := s.service.ApplyTemplate(r.Context(), id, chi.URLParam(r, "templateId"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, def)
}
