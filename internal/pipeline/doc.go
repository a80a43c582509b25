// Package pipeline carries each configured site through its crawl.
//
// A site becomes a Job that passes through a Pipeline of steps: the crawl
// itself, then finalizers that always run (summary, archive, ledger).
// BatchRunner crawls several sites concurrently with errgroup.
//
// Design decision: We use a pipeline pattern instead of direct function calls
// because:
// 1. It allows easy addition/removal of steps (for example --no-archive)
// 2. It provides consistent error handling and logging across steps
// 3. It supports cancellation via context for long-running crawls
package pipeline
