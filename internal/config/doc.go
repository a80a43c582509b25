// Package config provides configuration structures and utilities for narchiver.
// It defines the global options set from CLI flags and the per-site crawl
// settings read from the YAML configuration file.
package config
