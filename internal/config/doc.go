// Package config loads, normalizes, and validates skiff's TOML
// configuration.
package config
