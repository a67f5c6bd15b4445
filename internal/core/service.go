package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/sheetingest/internal/config"
	"github.com/JonMunkholm/sheetingest/internal/database"
	"github.com/JonMunkholm/sheetingest/internal/ingest"
	"github.com/JonMunkholm/sheetingest/internal/schema"
)

// DefaultIngestTimeout bounds one Ingest or Reprocess call.
const DefaultIngestTimeout = 10 * time.Minute

// DefaultMaxFileSize is the upload cap (100MB).
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// PreviewSampleSize is the number of records returned per sheet by Preview.
const PreviewSampleSize = 10

// Options are the service tunables, usually built from config.
type Options struct {
	MaxFileSize   int64
	MaxConcurrent int
	MaxWaitTime   time.Duration
	BatchSize     int
	MaxRows       int64
	Timeout       time.Duration
	StorageMode   StorageMode
	Reader        ingest.ReaderKind
	Weights       ingest.Weights
}

// DefaultOptions returns the stock tunables.
func DefaultOptions() Options {
	return Options{
		MaxFileSize:   DefaultMaxFileSize,
		MaxConcurrent: DefaultMaxConcurrentIngests,
		MaxWaitTime:   DefaultMaxWaitTime,
		BatchSize:     ingest.DefaultBatchSize,
		MaxRows:       ingest.DefaultMaxRows,
		Timeout:       DefaultIngestTimeout,
		StorageMode:   ModeRows,
		Reader:        ingest.ReaderExcelize,
		Weights:       ingest.DefaultWeights(),
	}
}

// OptionsFromConfig maps the ingest and layout sections of cfg.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	mode, err := ParseStorageMode(cfg.Ingest.StorageMode, ModeRows)
	if err != nil {
		return Options{}, err
	}
	return Options{
		MaxFileSize:   cfg.Ingest.MaxFileSize,
		MaxConcurrent: cfg.Ingest.MaxConcurrent,
		MaxWaitTime:   cfg.Ingest.MaxWaitTime,
		BatchSize:     cfg.Ingest.BatchSize,
		MaxRows:       cfg.Ingest.MaxRows,
		Timeout:       cfg.Ingest.Timeout,
		StorageMode:   mode,
		Reader:        ingest.ReaderKind(cfg.Ingest.Reader),
		Weights: ingest.Weights{
			ScanRows:       cfg.Layout.ScanRows,
			LookAhead:      cfg.Layout.LookAheadRows,
			MinNonEmpty:    cfg.Layout.MinNonEmpty,
			SparsePenalty:  cfg.Layout.SparsePenalty,
			UniqueBonus:    cfg.Layout.UniqueBonus,
			NumericPenalty: cfg.Layout.NumericPenalty,
			TextBonus:      cfg.Layout.TextBonus,
			DisjointBonus:  cfg.Layout.DisjointBonus,
		},
	}, nil
}

// TableReader reads typed sheet tables. Satisfied by *schema.TableReader.
type TableReader interface {
	Rows(ctx context.Context, table string, limit, offset int) (*schema.TableData, error)
}

// Service provides the ingestion operations. It has no transport
// dependencies and is shared by the HTTP server and the CLI.
type Service struct {
	pool     *pgxpool.Pool
	queries  *database.Queries
	opts     Options
	pipeline *ingest.Pipeline
	schema   *schema.Manager
	tables   TableReader
	limiter  *IngestLimiter
	locks    *sheetLocks
}

// NewService creates a Service over pool. tables may be nil, in which case
// TableData is unavailable.
func NewService(pool *pgxpool.Pool, opts Options, tables TableReader) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultIngestTimeout
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.StorageMode == "" {
		opts.StorageMode = ModeRows
	}
	if opts.Reader == "" {
		opts.Reader = ingest.ReaderExcelize
	}
	return &Service{
		pool:     pool,
		queries:  database.New(pool),
		opts:     opts,
		pipeline: ingest.NewPipeline(opts.Weights, opts.BatchSize),
		schema:   schema.NewManager(),
		tables:   tables,
		limiter:  NewIngestLimiter(opts.MaxConcurrent, opts.MaxWaitTime),
		locks:    newSheetLocks(),
	}
}

// Options returns the effective tunables.
func (s *Service) Options() Options {
	return s.opts
}

// IngestLimiterStatus reports the ingest slots for health checks.
func (s *Service) IngestLimiterStatus() IngestLimiterStatus {
	return s.limiter.Status()
}

// WaitForIngests blocks until running ingests finish or ctx is done.
func (s *Service) WaitForIngests(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// sheetLocks hands out one mutex per sheet id, so delete-then-reingest
// sequences on a sheet never interleave within this process. Entries are
// dropped once nobody holds or waits for them.
type sheetLocks struct {
	mu    sync.Mutex
	locks map[int64]*sheetLock
}

type sheetLock struct {
	mu   sync.Mutex
	refs int
}

func newSheetLocks() *sheetLocks {
	return &sheetLocks{locks: make(map[int64]*sheetLock)}
}

// lock blocks until the sheet is free and returns the unlock function.
func (l *sheetLocks) lock(id int64) func() {
	l.mu.Lock()
	sl, ok := l.locks[id]
	if !ok {
		sl = &sheetLock{}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *sheetLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// savepoint runs fn inside a named savepoint of tx. When fn fails the
// savepoint is rolled back, leaving the rest of the transaction usable.
func savepoint(ctx context.Context, tx pgx.Tx, name string, fn func() error) error {
	if _, err := tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback savepoint: %w", rbErr))
		}
		return err
	}
	if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// notFound translates pgx.ErrNoRows into target.
func notFound(err, target error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return target
	}
	return err
}

func toWorkbook(w database.Workbook) Workbook {
	return Workbook{
		ID:          w.ID,
		FileName:    w.FileName,
		ContentType: w.ContentType,
		SizeBytes:   w.SizeBytes,
		SheetCount:  int(w.SheetCount),
		TotalRows:   w.TotalRows,
		Status:      w.Status,
		StorageMode: w.StorageMode,
		UploadedAt:  timeOf(w.UploadedAt),
	}
}

func toSheet(sh database.Sheet) Sheet {
	out := Sheet{
		ID:         sh.ID,
		WorkbookID: sh.WorkbookID,
		Index:      int(sh.SheetIndex),
		Name:       sh.Name,
		Reliable:   sh.Reliable,
		Headers:    decodeHeaders(sh.Headers),
		RowCount:   sh.RowCount,
		Status:     sh.Status,
		TableName:  sh.TableName.String,
		UpdatedAt:  timeOf(sh.UpdatedAt),
	}
	if sh.HeaderRowIndex.Valid {
		idx := int(sh.HeaderRowIndex.Int32)
		out.HeaderRowIndex = &idx
	}
	return out
}

func toRow(r database.SheetRow) Row {
	return Row{
		ID:        r.ID,
		SheetID:   r.SheetID,
		RowNumber: int(r.RowNumber),
		Data:      json.RawMessage(r.Data),
		CreatedAt: timeOf(r.CreatedAt),
	}
}

func toHistory(h database.RowHistory) HistoryEntry {
	return HistoryEntry{
		ID:        h.ID,
		RowID:     h.RowID,
		SheetID:   h.SheetID,
		Operation: h.Operation,
		OldData:   rawOrNil(h.OldData),
		NewData:   rawOrNil(h.NewData),
		CreatedAt: timeOf(h.CreatedAt),
	}
}

func timeOf(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

// encodeHeaders stores header labels as a JSON array; unlabelled columns are "".
func encodeHeaders(headers []*string) []byte {
	b, err := json.Marshal(ingest.Labels(headers))
	if err != nil {
		return []byte("[]")
	}
	return b
}

func decodeHeaders(b []byte) []string {
	var out []string
	if len(b) == 0 || json.Unmarshal(b, &out) != nil {
		return []string{}
	}
	return out
}
