// Package ingest turns spreadsheets of unknown layout into named-field records.
//
// The package has no database dependencies. It is driven by the core service,
// the CLI, and tests alike.
//
// # Pipeline
//
// Every sheet goes through the same sequence of passes over a re-opened
// [Reader]:
//
//  1. [Analyzer] scores the first rows and picks the most header-like one
//  2. [ExtractHeaders] reads the chosen row into ordered column labels
//  3. Each data row is folded through [FillState] (merged-cell approximation)
//     and a [Mapper] (optional source-to-destination renaming)
//  4. Non-empty records are handed to a [Persister], which flushes them to a
//     [Sink] in bounded batches and enforces the workbook-wide [RowBudget]
//
// The source is opened once per pass because spreadsheet readers consume
// their input destructively. [Detect] returns an [Opener] that can be called
// any number of times against the same bytes.
//
// # Errors
//
// Fatal problems are returned as *[Error] values tagged with a [Kind]. Problems
// that must not stop ingestion (a malformed row, the row cap, an undetected
// header) are collected in a [Report] as [Issue] entries instead.
package ingest
