// Package crawler implements the crawl orchestration engine.
//
// # Architecture
//
// A crawl of one site is driven by a Spider, a small state machine with four
// states (NeedLogin, Visiting, Backoff, Done). Each loop iteration fetches at
// most one page, classifies the result into an Outcome and applies the
// matching transition. There is no exception-style control flow: every
// retry, redirect and session expiry is an explicit Outcome value.
//
// # Components
//
//   - Spider: the state machine and the only scheduling point of a crawl
//   - Frontier: FIFO queue of pages, with PushFront for immediate retries
//   - Visited: write-once set of tag URLs, filled at extraction time
//   - Extractor: anchor extraction plus stop/exclude/must-include rules
//   - Pacer: randomized politeness delay and optional request-rate ceiling
//
// # Politeness
//
// A crawl is strictly sequential. The Pacer inserts a random delay before
// every page fetch and every login attempt, and errors are followed by a
// fixed backoff. Sleeps only end early when the context is cancelled.
//
// # Usage
//
//	spider, err := crawler.NewSpider(site, client, buffer,
//		crawler.WithAuthenticator(authenticator),
//		crawler.WithPacer(crawler.NewPacer(2*time.Second, 6*time.Second, 0)),
//	)
//	result, err := spider.Run(ctx)
package crawler
