package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheetingest/internal/config"
	"github.com/JonMunkholm/sheetingest/internal/core"
	"github.com/JonMunkholm/sheetingest/internal/ingest"
	"github.com/JonMunkholm/sheetingest/internal/schema"
)

// fakeService records the calls the handlers make.
type fakeService struct {
	ingest     func(data []byte, name string, opts core.IngestOptions) (*core.IngestResult, error)
	reprocess  func(sheetID int64, header int) (*core.ReprocessResult, error)
	getWB      func(id int64) (*core.WorkbookDetail, error)
	updateRow  func(id int64, fields map[string]string) (*core.Row, error)
	createRow  func(sheetID int64, fields map[string]string) (*core.Row, error)
	export     *core.SheetExport
	deletedRow []int64
	create     func(in core.TemplateInput) (*core.Template, error)
	matched    []string
	listLimit  int
	listOffset int
	deleted    []int64
}

func (f *fakeService) Ingest(_ context.Context, data []byte, name string, opts core.IngestOptions) (*core.IngestResult, error) {
	return f.ingest(data, name, opts)
}

func (f *fakeService) Preview(_ context.Context, _ []byte, name string) (*core.PreviewResponse, error) {
	return &core.PreviewResponse{FileName: name, Sheets: []core.SheetPreview{}}, nil
}

func (f *fakeService) Reprocess(_ context.Context, sheetID int64, header int) (*core.ReprocessResult, error) {
	return f.reprocess(sheetID, header)
}

func (f *fakeService) ListWorkbooks(_ context.Context, limit, offset int) ([]core.Workbook, error) {
	f.listLimit, f.listOffset = limit, offset
	return []core.Workbook{{ID: 1, FileName: "a.xlsx"}}, nil
}

func (f *fakeService) GetWorkbook(_ context.Context, id int64) (*core.WorkbookDetail, error) {
	return f.getWB(id)
}

func (f *fakeService) DeleteWorkbook(_ context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeService) GetSheet(_ context.Context, id int64) (*core.Sheet, error) {
	if id != 3 {
		return nil, core.ErrSheetNotFound
	}
	return &core.Sheet{ID: 3, WorkbookID: 1, Name: "Orders", Status: core.StatusIngested}, nil
}

func (f *fakeService) ExportSheet(_ context.Context, id int64) (*core.SheetExport, error) {
	if f.export == nil || f.export.Sheet.ID != id {
		return nil, core.ErrSheetNotFound
	}
	return f.export, nil
}

func (f *fakeService) ListRows(context.Context, int64, int, int) (*core.RowPage, error) {
	return &core.RowPage{}, nil
}

func (f *fakeService) TableData(context.Context, int64, int, int) (*schema.TableData, error) {
	return nil, core.ErrNotTableMode
}

func (f *fakeService) UpdateRow(_ context.Context, id int64, fields map[string]string) (*core.Row, error) {
	return f.updateRow(id, fields)
}

func (f *fakeService) GetRow(_ context.Context, id int64) (*core.Row, error) {
	if id != 4 {
		return nil, core.ErrRowNotFound
	}
	return &core.Row{ID: 4, SheetID: 3, RowNumber: 2, Data: json.RawMessage(`{"name":"Al"}`)}, nil
}

func (f *fakeService) CreateRow(_ context.Context, sheetID int64, fields map[string]string) (*core.Row, error) {
	return f.createRow(sheetID, fields)
}

func (f *fakeService) DeleteRow(_ context.Context, id int64) error {
	if id != 4 {
		return core.ErrRowNotFound
	}
	f.deletedRow = append(f.deletedRow, id)
	return nil
}

func (f *fakeService) RowHistory(context.Context, int64) ([]core.HistoryEntry, error) {
	return []core.HistoryEntry{}, nil
}

func (f *fakeService) GetMapping(context.Context, int64) (*ingest.MappingDefinition, error) {
	return nil, core.ErrMappingNotFound
}

func (f *fakeService) SetMapping(_ context.Context, _ int64, def ingest.MappingDefinition) (*ingest.MappingDefinition, error) {
	return &def, nil
}

func (f *fakeService) ApplyTemplate(context.Context, int64, string) (*ingest.MappingDefinition, error) {
	return nil, core.ErrTemplateNotFound
}

func (f *fakeService) ListTemplates(context.Context) ([]core.Template, error) {
	return []core.Template{}, nil
}

func (f *fakeService) GetTemplate(context.Context, string) (*core.Template, error) {
	return nil, core.ErrTemplateNotFound
}

func (f *fakeService) CreateTemplate(_ context.Context, in core.TemplateInput) (*core.Template, error) {
	return f.create(in)
}

func (f *fakeService) UpdateTemplate(context.Context, string, core.TemplateInput) (*core.Template, error) {
	return nil, core.ErrTemplateExists
}

func (f *fakeService) DeleteTemplate(context.Context, string) error {
	return nil
}

func (f *fakeService) MatchTemplates(_ context.Context, headers []string) ([]core.TemplateMatch, error) {
	f.matched = headers
	return []core.TemplateMatch{}, nil
}

func (f *fakeService) IngestLimiterStatus() core.IngestLimiterStatus {
	return core.IngestLimiterStatus{Active: 1, Available: 4, MaxConcurrent: 5}
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Ingest.MaxFileSize = 1 << 20
	cfg.Security.EnableCSP = true
	return cfg
}

func newTestServer(svc *fakeService) *Server {
	return NewServer(svc, testConfig())
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, path, name string, data []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestIngest_Created(t *testing.T) {
	var gotOpts core.IngestOptions
	svc := &fakeService{ingest: func(data []byte, name string, opts core.IngestOptions) (*core.IngestResult, error) {
		gotOpts = opts
		assert.Equal(t, "a,b\n1,2\n", string(data))
		return &core.IngestResult{WorkbookID: 9, FileName: name, Outcome: core.OutcomeSuccess}, nil
	}}

	req := uploadRequest(t, "/api/workbooks", "data.csv", []byte("a,b\n1,2\n"), map[string]string{"mode": "table", "templateId": "t1"})
	rec := do(t, newTestServer(svc), req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, core.ModeTable, gotOpts.Mode)
	assert.Equal(t, "t1", gotOpts.TemplateID)

	var result core.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, int64(9), result.WorkbookID)
	assert.Equal(t, "data.csv", result.FileName)
}

func TestIngest_HardFailureReturnsResult(t *testing.T) {
	svc := &fakeService{ingest: func(_ []byte, name string, _ core.IngestOptions) (*core.IngestResult, error) {
		err := ingest.NewError(ingest.KindFileFormat, "", 0, fmt.Errorf("zip: not a valid zip file"))
		msg := core.MapError(err)
		return &core.IngestResult{FileName: name, Outcome: core.OutcomeFailed, Error: &msg}, err
	}}

	rec := do(t, newTestServer(svc), uploadRequest(t, "/api/workbooks", "bad.xlsx", []byte("nope"), nil))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var result core.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, core.OutcomeFailed, result.Outcome)
	require.NotNil(t, result.Error)
	assert.NotEmpty(t, result.Error.Code)
}

func TestIngest_Busy(t *testing.T) {
	svc := &fakeService{ingest: func(_ []byte, name string, _ core.IngestOptions) (*core.IngestResult, error) {
		return &core.IngestResult{FileName: name, Outcome: core.OutcomeFailed}, core.ErrTooManyIngests
	}}

	rec := do(t, newTestServer(svc), uploadRequest(t, "/api/workbooks", "a.csv", []byte("a\n1\n"), nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestIngest_MissingFile(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/workbooks", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")

	rec := do(t, newTestServer(&fakeService{}), req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "REQ001", decodeError(t, rec).Code)
}

func TestIngest_TooLarge(t *testing.T) {
	s := newTestServer(&fakeService{})
	s.cfg.Ingest.MaxFileSize = 4

	rec := do(t, s, uploadRequest(t, "/api/workbooks", "a.csv", []byte("0123456789"), nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestReprocess(t *testing.T) {
	svc := &fakeService{reprocess: func(sheetID int64, header int) (*core.ReprocessResult, error) {
		if header == 7 {
			return nil, core.ErrInvalidHeaderRow
		}
		return &core.ReprocessResult{WorkbookID: 3, Sheet: core.SheetResult{SheetID: sheetID, HeaderRowIndex: header}}, nil
	}}
	s := newTestServer(svc)

	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/api/sheets/12/reprocess", strings.NewReader(`{"headerRowIndex":2}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var result core.ReprocessResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, int64(12), result.Sheet.SheetID)
	assert.Equal(t, 2, result.Sheet.HeaderRowIndex)

	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/api/sheets/12/reprocess", strings.NewReader(`{"headerRowIndex":7}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VAL003", decodeError(t, rec).Code)

	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/api/sheets/12/reprocess", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/api/sheets/abc/reprocess", strings.NewReader(`{"headerRowIndex":0}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetWorkbook_NotFound(t *testing.T) {
	svc := &fakeService{getWB: func(int64) (*core.WorkbookDetail, error) {
		return nil, core.ErrWorkbookNotFound
	}}

	rec := do(t, newTestServer(svc), httptest.NewRequest(http.MethodGet, "/api/workbooks/5", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, decodeError(t, rec).Message)
}

func TestGetWorkbook_HTMXRendersFragment(t *testing.T) {
	svc := &fakeService{getWB: func(int64) (*core.WorkbookDetail, error) {
		return nil, core.ErrWorkbookNotFound
	}}
	req := httptest.NewRequest(http.MethodGet, "/api/workbooks/5", nil)
	req.Header.Set("HX-Request", "true")

	rec := do(t, newTestServer(svc), req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `class="alert alert-error"`)
}

func TestListWorkbooks_Paging(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newTestServer(svc), httptest.NewRequest(http.MethodGet, "/api/workbooks?limit=20&offset=40", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, svc.listLimit)
	assert.Equal(t, 40, svc.listOffset)

	do(t, newTestServer(svc), httptest.NewRequest(http.MethodGet, "/api/workbooks?limit=x", nil))
	assert.Equal(t, core.DefaultPageSize, svc.listLimit)
	assert.Equal(t, 0, svc.listOffset)
}

func TestDeleteWorkbook(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newTestServer(svc), httptest.NewRequest(http.MethodDelete, "/api/workbooks/8", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []int64{8}, svc.deleted)
}

func TestUpdateRow(t *testing.T) {
	svc := &fakeService{updateRow: func(id int64, fields map[string]string) (*core.Row, error) {
		return &core.Row{ID: id, Data: json.RawMessage(`{"name":"` + fields["name"] + `"}`)}, nil
	}}
	s := newTestServer(svc)

	req := httptest.NewRequest(http.MethodPatch, "/api/rows/4", strings.NewReader(`{"fields":{"name":"Bo"}}`))
	rec := do(t, s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"Bo"}`, rowData(t, rec.Body.Bytes()))

	req = httptest.NewRequest(http.MethodPatch, "/api/rows/4", strings.NewReader(`{"fields":{}}`))
	assert.Equal(t, http.StatusBadRequest, do(t, s, req).Code)

	req = httptest.NewRequest(http.MethodPatch, "/api/rows/4", strings.NewReader(`{"bogus":1}`))
	assert.Equal(t, http.StatusBadRequest, do(t, s, req).Code)
}

func TestCreateRow(t *testing.T) {
	svc := &fakeService{createRow: func(sheetID int64, fields map[string]string) (*core.Row, error) {
		if sheetID == 9 {
			return nil, core.ErrNotRowsMode
		}
		return &core.Row{ID: 77, SheetID: sheetID, RowNumber: 5, Data: json.RawMessage(`{"name":"` + fields["name"] + `"}`)}, nil
	}}
	s := newTestServer(svc)

	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/api/sheets/3/rows", strings.NewReader(`{"fields":{"name":"Cy"}}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"name":"Cy"}`, rowData(t, rec.Body.Bytes()))

	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/api/sheets/3/rows", strings.NewReader(`{"fields":{}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/api/sheets/9/rows", strings.NewReader(`{"fields":{"name":"Cy"}}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ING012", decodeError(t, rec).Code)
}

func TestGetAndDeleteRow(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(svc)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/rows/4", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"Al"}`, rowData(t, rec.Body.Bytes()))

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/rows/5", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodDelete, "/api/rows/4", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []int64{4}, svc.deletedRow)

	rec = do(t, s, httptest.NewRequest(http.MethodDelete, "/api/rows/5", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSheet(t *testing.T) {
	s := newTestServer(&fakeService{})

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/sheets/3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var sheet core.Sheet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sheet))
	assert.Equal(t, "Orders", sheet.Name)
	assert.Equal(t, core.StatusIngested, sheet.Status)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/sheets/4", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func rowData(t *testing.T, body []byte) string {
	t.Helper()
	var row struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &row))
	return string(row.Data)
}

func TestTemplates(t *testing.T) {
	svc := &fakeService{create: func(in core.TemplateInput) (*core.Template, error) {
		if in.Name == "dup" {
			return nil, core.ErrTemplateExists
		}
		return &core.Template{ID: "abc", Name: in.Name, Mappings: in.Mappings}, nil
	}}
	s := newTestServer(svc)

	body := `{"name":"invoices","mappings":[{"source":"Inv #","destination":"invoice"}]}`
	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/api/templates", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/api/templates", strings.NewReader(`{"name":"dup"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/templates/match?headers=Inv%20%23,%20Customer,,", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Inv #", "Customer"}, svc.matched)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/templates/match", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/templates/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodDelete, "/api/templates/abc", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestTableData_NotTableMode(t *testing.T) {
	rec := do(t, newTestServer(&fakeService{}), httptest.NewRequest(http.MethodGet, "/api/sheets/3/table", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&fakeService{}), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))

	var body struct {
		Status  string                   `json:"status"`
		Ingests core.IngestLimiterStatus `json:"ingests"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 5, body.Ingests.MaxConcurrent)
}

func TestAPIKeyRequiredExceptHealth(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}
	s := NewServer(&fakeService{}, cfg)

	assert.Equal(t, http.StatusOK, do(t, s, httptest.NewRequest(http.MethodGet, "/api/health", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, s, httptest.NewRequest(http.MethodGet, "/api/workbooks", nil)).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/workbooks", nil)
	req.Header.Set("X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, do(t, s, req).Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate.Enabled = true
	cfg.Rate.RequestsPerMinute = 2
	cfg.Rate.IngestLimit = 10
	s := NewServer(&fakeService{}, cfg)
	defer func() { _ = s.Shutdown(context.Background()) }()

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, s, httptest.NewRequest(http.MethodGet, "/api/health", nil)).Code)
	}
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE001", decodeError(t, rec).Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrSheetNotFound, http.StatusNotFound},
		{core.ErrTemplateExists, http.StatusConflict},
		{core.ErrInvalidStorageMode, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", core.ErrFileTooLarge), http.StatusRequestEntityTooLarge},
		{ingest.NewError(ingest.KindLayoutDetection, "S", 0, ingest.ErrInvalidHeaderRow), http.StatusBadRequest},
		{ingest.NewError(ingest.KindPersistence, "S", 0, fmt.Errorf("copy")), http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
