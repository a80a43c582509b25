package crawler

import "fmt"

// OutcomeKind classifies the result of fetching one page.
type OutcomeKind int

const (
	// OutcomeFetched means the body was fetched and can be expanded and persisted.
	OutcomeFetched OutcomeKind = iota

	// OutcomeNeedLogin means the session is not authenticated.
	OutcomeNeedLogin

	// OutcomeRedirect means the page moved to an unvisited in-site URL.
	OutcomeRedirect

	// OutcomeRetry means a recoverable failure. The page's interrupt budget pays for it.
	OutcomeRetry

	// OutcomeDrop means the page is abandoned permanently.
	OutcomeDrop

	// OutcomeCancelled means the crawl context ended during the fetch.
	OutcomeCancelled
)

// String returns the outcome name used in logs.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFetched:
		return "fetched"
	case OutcomeNeedLogin:
		return "need_login"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeRetry:
		return "retry"
	case OutcomeDrop:
		return "drop"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the classified result of one fetch.
type Outcome struct {
	Kind OutcomeKind

	// StatusCode is the HTTP status, 0 when none was obtained.
	StatusCode int

	// Target is the tag URL of a redirect.
	Target string

	// Reason explains drops and retries in logs.
	Reason string

	// Err is the underlying exchange error, if any.
	Err error
}

// State is a Spider state.
type State int

const (
	// StateNeedLogin means the next step is a login attempt.
	StateNeedLogin State = iota

	// StateVisiting means the next step is fetching the frontier head.
	StateVisiting

	// StateBackoff means the next step is the fixed error backoff.
	StateBackoff

	// StateDone means the crawl has finished.
	StateDone
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateNeedLogin:
		return "NEED_LOGIN"
	case StateVisiting:
		return "VISITING"
	case StateBackoff:
		return "BACKOFF"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
