// Package config provides configuration loading and validation for the
// live conversation client. It handles YAML-based configuration with
// per-section validation and environment fallback for the API key.
package config
