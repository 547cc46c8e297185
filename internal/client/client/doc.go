// Package client contains the sync client's building blocks for talking to
// the metadata service and bootstrapping local storage.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic API contract (see the Client interface) covering
//     file creation and confirmation, download resolution, the sync poll,
//     and folder/file location updates.
//  2. A concrete JSON-over-HTTP implementation (see HTTPClient) that bounds
//     every call with the http.Client timeout and a capped retry policy
//     (netx.RetryPolicy), and maps replies to sentinel errors.
//  3. Local persistence bootstrap utilities (InitDatabase, RunMigrations),
//     wiring an SQLite database and applying embedded goose migrations.
//
// # Error Handling
//
// Common conditions are exposed as sentinel errors that callers can match with
// errors.Is: ErrUnavailable, ErrNotFound, ErrRejected.
//
// Concurrency & Contexts
//
// HTTPClient is safe for concurrent use. All operations accept
// context.Context and honor cancellation.
package client
