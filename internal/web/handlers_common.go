package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetingest/internal/core"
)

// maxJSONBody caps JSON request bodies (1MB).
const maxJSONBody = 1 << 20

// multipartMemory is the in-memory part of a parsed multipart form; the
// rest spills to temporary files.
const multipartMemory = 32 << 20

// parseID reads a positive int64 URL parameter.
func parseID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, badRequest("invalid " + name + " " + strconv.Quote(raw))
	}
	return id, nil
}

// parseIntParam parses a non-negative integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}

// page reads the limit and offset query parameters. Bounds are applied by
// the service.
func page(r *http.Request) (limit, offset int) {
	return parseIntParam(r, "limit", core.DefaultPageSize), parseIntParam(r, "offset", 0)
}

// readUpload returns the bytes and name of the multipart "file" field.
func readUpload(w http.ResponseWriter, r *http.Request, maxSize int64) ([]byte, string, error) {
	// Leave room for the other form fields and the multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", core.ErrFileTooLarge
		}
		return nil, "", badRequest("invalid multipart form")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", badRequest("no file provided")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return nil, "", badRequest("failed to read file")
	}
	if int64(len(data)) > maxSize {
		return nil, "", core.ErrFileTooLarge
	}
	return data, header.Filename, nil
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// splitList splits a comma-separated query value, trimming blanks.
func splitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
