// Package main hosts the skiff CLI entrypoint and command graph.
//
// The Cobra-based command tree covers remote signer pairing, queue
// management, content intake, and the migration run itself. It centralizes
// configuration resolution and structured logging setup so subcommands can
// focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
