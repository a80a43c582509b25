// Package main provides the entry point for the narchiver CLI.
//
// narchiver archives websites that sit behind a login: it signs in
// (solving CAPTCHAs when needed), crawls politely within configured link
// rules and stores every page in a timestamped, optionally compressed,
// directory per run.
//
// Usage:
//
//	narchiver init
//	narchiver crawl [site-name...]
//	narchiver runs [site-name]
//
// See --help for all available options.
package main

// main is the entry point for narchiver.
func main() {
	Execute()
}
