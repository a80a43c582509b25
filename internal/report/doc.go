// Package report renders crawl summaries.
//
// This package contains writers for different output formats:
//   - MarkdownWriter: summary.md stored inside every run directory
//   - JSONWriter: summary.json for tooling
//   - TextWriter: a short block printed after each site crawl
//
// WriteRuns renders the run ledger for the runs command.
package report
