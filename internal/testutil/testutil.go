// Package testutil provides test helpers for goatmail tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings, Diff, etc.)
//   - store_helpers.go: database test setup (NewTestStore, NewTestUser)
//   - email/: MIME message builders for adapter and normalizer tests
package testutil
