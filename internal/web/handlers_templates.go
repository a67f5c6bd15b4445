package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetingest/internal/core"
)

// handleListTemplates returns all mapping templates.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.service.ListTemplates(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, templates)
}

// handleMatchTemplates finds templates matching the given header labels.
func (s *Server) handleMatchTemplates(w http.ResponseWriter, r *http.Request) {
	headers := splitList(r.URL.Query().Get("headers"))
	if len(headers) == 0 {
		s.respondError(w, r, badRequest("missing headers parameter"))
		return
	}

	matches, err := s.service.MatchTemplates(r.Context(), headers)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, matches)
}

// handleGetTemplate returns a single template by ID.
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	template, err := s.service.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, template)
}

// handleCreateTemplate creates a new template.
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in core.TemplateInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}

	template, err := s.service.CreateTemplate(r.Context(), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, template)
}

// handleUpdateTemplate replaces the writable fields of a template.
func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var in core.TemplateInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}

	template, err := s.service.UpdateTemplate(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, template)
}

// handleDeleteTemplate deletes a template.
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
