// Package testsupport provides shared helpers for package tests: temp-dir
// configs and queue store setup.
package testsupport
