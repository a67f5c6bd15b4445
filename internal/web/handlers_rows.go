package web

import "net/http"

type updateRowRequest struct {
	Fields map[string]string `json:"fields"`
}

func (s *Server) handleGetRow(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	row, err := s.service.GetRow(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, row)
}

// handleCreateRow appends a row to a rows-mode sheet.
func (s *Server) handleCreateRow(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var req updateRowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if len(req.Fields) == 0 {
		s.respondError(w, r, badRequest("fields must not be empty"))
		return
	}

	row, err := s.service.CreateRow(r.Context(), id, req.Fields)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, row)
}

// handleUpdateRow edits fields of a stored row and records the history entry.
func (s *Server) handleUpdateRow(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var req updateRowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if len(req.Fields) == 0 {
		s.respondError(w, r, badRequest("fields must not be empty"))
		return
	}

	row, err := s.service.UpdateRow(r.Context(), id, req.Fields)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, row)
}

func (s *Server) handleRowHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	history, err := s.service.RowHistory(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, history)
}

// handleDeleteRow removes a row. Its history, ending in a DELETE entry, stays
// readable.
func (s *Server) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.service.DeleteRow(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
