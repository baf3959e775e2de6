// Package config loads service settings from defaults, an optional
// config.yaml and ANALYSIS_-prefixed environment variables, and validates
// them before any component is built.
package config
