// Package storage persists crawled pages.
//
// Buffer collects fetched pages and writes them in batches to a run
// directory, one file per page. TarGzArchiver packs a finished run
// directory into a single .tar.gz file.
package storage
