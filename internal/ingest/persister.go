package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
)

// DefaultBatchSize is the number of records buffered before a flush.
const DefaultBatchSize = 1000

// DefaultMaxRows is the workbook-wide row cap.
const DefaultMaxRows = 1_000_000

// Sink receives full batches. The batch slice is reused after Flush returns.
type Sink interface {
	Flush(ctx context.Context, batch []Record) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, batch []Record) error

func (f SinkFunc) Flush(ctx context.Context, batch []Record) error { return f(ctx, batch) }

// RowBudget is the workbook-wide row counter shared by all sheets of one
// ingest. A max of zero or less means unlimited.
type RowBudget struct {
	max      int64
	used     atomic.Int64
	exceeded atomic.Bool
}

// NewRowBudget returns a budget with used rows already consumed.
func NewRowBudget(max, used int64) *RowBudget {
	b := &RowBudget{max: max}
	b.used.Store(used)
	return b
}

// Take reserves one row. It returns false once the cap is reached.
func (b *RowBudget) Take() bool {
	if b.max <= 0 {
		b.used.Add(1)
		return true
	}
	for {
		u := b.used.Load()
		if u >= b.max {
			return false
		}
		if b.used.CompareAndSwap(u, u+1) {
			return true
		}
	}
}

// Release returns n reserved rows, used when a batch is rolled back.
func (b *RowBudget) Release(n int) {
	b.used.Add(-int64(n))
}

// Used returns the rows consumed so far.
func (b *RowBudget) Used() int64 { return b.used.Load() }

// Max returns the cap.
func (b *RowBudget) Max() int64 { return b.max }

// Exceeded reports whether the cap has been hit.
func (b *RowBudget) Exceeded() bool { return b.exceeded.Load() }

// markExceeded returns true only for the first caller.
func (b *RowBudget) markExceeded() bool {
	return b.exceeded.CompareAndSwap(false, true)
}

// Persister buffers records and flushes them to a sink in bounded batches.
type Persister struct {
	sink    Sink
	size    int
	budget  *RowBudget
	report  *Report
	sheet   string
	batch   []Record
	written int
	flushes int
}

// NewPersister returns a persister for one sheet pass.
func NewPersister(sink Sink, size int, budget *RowBudget, report *Report, sheet string) *Persister {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if budget == nil {
		budget = NewRowBudget(0, 0)
	}
	if report == nil {
		report = &Report{}
	}
	return &Persister{
		sink:   sink,
		size:   size,
		budget: budget,
		report: report,
		sheet:  sheet,
		batch:  make([]Record, 0, size),
	}
}

// Add buffers rec and flushes when the batch is full. Once the workbook cap
// is reached it returns ErrRowLimitExceeded, and the first such refusal in
// the workbook records a single warning in the report.
func (p *Persister) Add(ctx context.Context, rec Record) error {
	if !p.budget.Take() {
		if p.budget.markExceeded() {
			p.report.Add(Issue{
				Kind:     KindRowLimitExceeded,
				Severity: SeverityWarning,
				Sheet:    p.sheet,
				Row:      rec.Row,
				Message:  fmt.Sprintf("row limit exceeded: %d rows per workbook", p.budget.Max()),
			})
		}
		return ErrRowLimitExceeded
	}

	p.batch = append(p.batch, rec)
	if len(p.batch) >= p.size {
		return p.flush(ctx)
	}
	return nil
}

// Close flushes any buffered records.
func (p *Persister) Close(ctx context.Context) error {
	if len(p.batch) == 0 {
		return nil
	}
	return p.flush(ctx)
}

// Written returns the number of records flushed successfully.
func (p *Persister) Written() int { return p.written }

// Flushes returns the number of successful flushes.
func (p *Persister) Flushes() int { return p.flushes }

func (p *Persister) flush(ctx context.Context) error {
	n := len(p.batch)
	err := p.sink.Flush(ctx, p.batch)
	p.batch = p.batch[:0]
	if err != nil {
		p.budget.Release(n)
		return NewError(KindPersistence, p.sheet, 0, fmt.Errorf("flush %d rows: %w", n, err))
	}
	p.written += n
	p.flushes++
	return nil
}
