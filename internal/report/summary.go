package report

import (
	"time"

	"github.com/nao1215/narchiver/internal/crawler"
	"github.com/nao1215/narchiver/internal/storage"
)

// Summary describes one finished site crawl.
type Summary struct {
	Site       string    `json:"site"`
	Location   string    `json:"location"`
	BaseURL    string    `json:"base_url"`
	RunID      int64     `json:"run_id,omitempty"`
	Dir        string    `json:"dir"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Fetched       int `json:"fetched"`
	Persisted     int `json:"persisted"`
	Filtered      int `json:"filtered"`
	Dropped       int `json:"dropped"`
	Retries       int `json:"retries"`
	Redirects     int `json:"redirects"`
	Logins        int `json:"logins"`
	LoginFailures int `json:"login_failures"`
	Discovered    int `json:"discovered"`

	// Error is the crawl-fatal error message, empty on success.
	Error string `json:"error,omitempty"`

	Pages []storage.Record `json:"pages,omitempty"`
}

// NewSummary builds a Summary from a crawl result and the pages written
// during the crawl. A nil result yields an empty summary.
func NewSummary(res *crawler.Result, pages []storage.Record) *Summary {
	s := &Summary{Pages: pages}
	if res == nil {
		return s
	}
	s.Site = res.Site
	s.StartedAt = res.StartedAt
	s.FinishedAt = res.FinishedAt
	s.Fetched = res.Fetched
	s.Persisted = res.Persisted
	s.Dropped = res.Dropped
	s.Retries = res.Retries
	s.Redirects = res.Redirects
	s.Logins = res.Logins
	s.LoginFailures = res.LoginFailures
	s.Discovered = res.Discovered
	if res.Err != nil {
		s.Error = res.Err.Error()
	}
	return s
}

// Failed reports whether the crawl ended with a crawl-fatal error.
func (s *Summary) Failed() bool {
	return s.Error != ""
}

// Duration returns how long the crawl ran.
func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.Before(s.StartedAt) {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// status returns a one-word status.
func (s *Summary) status() string {
	if s.Failed() {
		return "failed"
	}
	return "completed"
}
