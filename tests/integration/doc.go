// Package integration provides integration tests that check monthly series
// against real databases started with testcontainers.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration
