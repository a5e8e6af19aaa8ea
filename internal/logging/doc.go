// Package logging centralizes slog construction and the structured field
// vocabulary shared across skiff components. It provides a console handler
// for interactive runs and a JSON handler for piped or archived output.
package logging
