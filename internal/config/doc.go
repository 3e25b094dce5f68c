// Package config provides configuration structures and utilities for politecrawl.
// It defines the crawl engine options, politeness settings, per-host overrides
// loaded from the YAML configuration file, and the XDG directories used for
// persisted output.
package config
