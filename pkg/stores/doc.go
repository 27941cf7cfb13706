// Package stores keeps the history of compilations in SQLite: one row per
// compilation with its summary and output, plus the skipped steps and
// policy violations it produced. The schema is applied with embedded
// migrations.
package stores
