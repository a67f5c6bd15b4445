// Package core provides the ingestion service.
//
// This package holds the business logic on top of the ingest engine,
// independent of any transport. The HTTP server and the sheetctl CLI both
// drive it.
//
// # Architecture
//
//   - [Service]: entry point for ingest, reprocess, preview, mappings,
//     templates, workbooks and rows.
//   - [ingest.Pipeline]: the per-sheet engine; core supplies its sinks.
//   - [database.Queries]: metadata and row storage in PostgreSQL.
//   - [schema.Manager]: typed tables for the "table" storage mode.
//
// # Ingest
//
// A workbook is ingested in one transaction:
//
//  1. The format is detected before anything is written
//  2. The workbook row and its original bytes are stored (reprocess re-opens them)
//  3. Each sheet runs inside a savepoint through the pipeline, writing to
//     sheet_rows with COPY or to its typed table with batched inserts
//  4. Sheet and workbook states and totals are updated, then the transaction commits
//
// At most [Options.MaxConcurrent] ingests run at once, see [IngestLimiter].
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError].
// Each category has a code for support reference:
//
//   - DB001-DB008: Database errors
//   - VAL001-VAL005: Validation errors
//   - FILE001-FILE005: File errors
//   - ING001-ING011: Ingestion errors
//   - MAP001-MAP002, TPL001-TPL003: Mapping and template errors
package core
