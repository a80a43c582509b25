package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// maxPageRows caps the page table of a summary.
const maxPageRows = 1000

// MarkdownWriter outputs summaries in Markdown format.
// The file lands next to the crawled pages and travels inside the archive.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Tables and GitHub-flavored alerts without string juggling
// 2. Mermaid pie charts for the page outcome split
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs s in Markdown format.
func (w *MarkdownWriter) Write(s *Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, s)
	w.writeCounters(md, s)
	w.writePages(md, s)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the run information table.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, s *Summary) {
	md.H1("Crawl of " + s.Site)
	md.PlainText("")

	rows := [][]string{
		{"Site", s.Site},
		{"Base URL", "`" + s.BaseURL + "`"},
		{"Location", s.Location},
		{"Started", formatTime(s.StartedAt)},
		{"Finished", formatTime(s.FinishedAt)},
		{"Duration", s.Duration().Round(time.Second).String()},
		{"Status", statusText(s)},
	}
	if s.RunID > 0 {
		rows = append(rows, []string{"Run", strconv.FormatInt(s.RunID, 10)})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

// statusText returns the status cell.
func statusText(s *Summary) string {
	if s.Failed() {
		return "❌ Failed - " + s.Error
	}
	return "✅ Completed"
}

// writeCounters writes the crawl counters, the outcome chart and an alert.
func (w *MarkdownWriter) writeCounters(md *markdown.Markdown, s *Summary) {
	md.H2("Counters")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Counter", "Value"},
		Rows: [][]string{
			{"Pages fetched", strconv.Itoa(s.Fetched)},
			{"Pages written", strconv.Itoa(s.Persisted)},
			{"Pages filtered", strconv.Itoa(s.Filtered)},
			{"Pages dropped", strconv.Itoa(s.Dropped)},
			{"URLs discovered", strconv.Itoa(s.Discovered)},
			{"Retries", strconv.Itoa(s.Retries)},
			{"Redirects followed", strconv.Itoa(s.Redirects)},
			{"Logins", strconv.Itoa(s.Logins)},
			{"Failed logins", strconv.Itoa(s.LoginFailures)},
		},
	})
	md.PlainText("")

	if s.Persisted+s.Filtered+s.Dropped > 0 {
		w.writePieChart(md, s)
	}
	w.writeAlert(md, s)
}

// writePieChart writes a mermaid pie chart of page outcomes.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, s *Summary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Page Outcomes"),
		piechart.WithShowData(true),
	)

	if s.Persisted > 0 {
		chart.LabelAndIntValue("Written", uint64(s.Persisted))
	}
	if s.Filtered > 0 {
		chart.LabelAndIntValue("Filtered", uint64(s.Filtered))
	}
	if s.Dropped > 0 {
		chart.LabelAndIntValue("Dropped", uint64(s.Dropped))
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes one alert describing how the crawl went.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, s *Summary) {
	switch {
	case s.Failed():
		md.Cautionf("The crawl was aborted: %s", s.Error)
	case s.Dropped > 0:
		md.Warningf("%d page(s) were abandoned after exhausting their interrupts.", s.Dropped)
	case s.LoginFailures > 0:
		md.Note(fmt.Sprintf("%d login attempt(s) failed before the crawl completed.", s.LoginFailures))
	default:
		md.Tip("Every reachable page was archived.")
	}
	md.PlainText("")
}

// writePages writes the table of written pages.
func (w *MarkdownWriter) writePages(md *markdown.Markdown, s *Summary) {
	md.H2("Pages")
	md.PlainText("")

	if len(s.Pages) == 0 {
		md.PlainText("No pages were written.")
		md.PlainText("")
		return
	}

	pages := s.Pages
	if len(pages) > maxPageRows {
		pages = pages[:maxPageRows]
	}
	rows := make([][]string, len(pages))
	for i, p := range pages {
		rows[i] = []string{
			truncateString(p.TagURL, 80),
			strconv.Itoa(p.Depth),
			strconv.Itoa(p.StatusCode),
			strconv.Itoa(p.Size),
			truncateString(p.File, 60),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Depth", "Status", "Bytes", "File"},
		Rows:   rows,
	})
	md.PlainText("")

	if len(s.Pages) > maxPageRows {
		md.PlainTextf("%d more page(s) are listed in %s.", len(s.Pages)-maxPageRows, JSONFileName)
		md.PlainText("")
	}
}

// writeFooter writes the summary footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Summary generated by [narchiver](https://github.com/nao1215/narchiver)*")
}

// formatTime renders t or a dash for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05 MST")
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
