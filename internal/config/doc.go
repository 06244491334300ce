// Package config loads coordinator settings from built-in defaults, an
// optional YAML file, and STRATA_-prefixed environment variable overrides.
package config
