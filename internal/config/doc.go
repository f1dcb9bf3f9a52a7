// Package config loads runtime configuration from JSON or YAML files with
// KEEL_* environment overrides, on top of OS-appropriate defaults.
package config
