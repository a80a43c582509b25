// Package model defines the core data structures shared by the crawler,
// the authenticator and the persistence layer.
//
// This package contains the following main types:
//   - Page: A crawl frontier entry that becomes a crawl result once fetched
//   - Header: A single HTTP header name/value pair
//   - Headers: An ordered list of headers with replace-by-name semantics
//
// Design decision: We separate models into their own package to avoid circular
// dependencies. The crawler, auth, exchange and storage packages all need these
// types, so centralizing them prevents import cycles.
package model
