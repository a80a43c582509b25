package report

import (
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/narchiver/internal/database"
)

// WriteRuns writes the ledger history as a Markdown table.
func WriteRuns(output io.Writer, runs []*database.Run) error {
	md := markdown.NewMarkdown(output)

	if len(runs) == 0 {
		md.PlainText("No runs recorded.")
		return md.Build()
	}

	rows := make([][]string, len(runs))
	for i, r := range runs {
		result := r.Archive
		if result == "" {
			result = r.Dir
		}
		if r.Error != "" {
			result = truncateString(r.Error, 60)
		}
		rows[i] = []string{
			strconv.FormatInt(r.ID, 10),
			r.Site,
			formatTime(r.StartedAt),
			r.Duration().Round(time.Second).String(),
			r.Status,
			strconv.Itoa(r.Persisted),
			strconv.Itoa(r.Dropped),
			result,
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"ID", "Site", "Started", "Duration", "Status", "Written", "Dropped", "Result"},
		Rows:   rows,
	})
	return md.Build()
}
