// Package client contains the transport building blocks of the donorsync client.
//
// # Overview
//
// The package provides:
//  1. HTTPClient, the request executor: it resolves paths against the server
//     URL, sends JSON, attaches "Authorization: Bearer <access>" for
//     authenticated calls, and on a 401 asks the registered Refresher for one
//     renewal before retrying the request once.
//  2. A failure taxonomy (ErrNetwork, ErrServer, ErrClient, ErrUnauthenticated,
//     ErrSessionExpired) carried by *HTTPError and matched with errors.Is.
//  3. Local persistence bootstrap (InitDatabase, RunMigrations) wiring an
//     SQLite database and applying embedded goose migrations.
//
// # Behavior
//
// An authenticated request with no stored token fails with ErrUnauthenticated
// without touching the network. Timeouts and transport failures are
// ErrNetwork. There are no automatic retries besides the single
// refresh-and-retry; mutating requests are never replayed otherwise.
//
// HTTPClient is safe for concurrent use. All operations honor context
// cancellation.
package client
