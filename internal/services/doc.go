// Package services provides shared error classification and context
// annotation helpers used by every external-facing component.
package services
