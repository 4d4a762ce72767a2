// Package query is the client's domain query cache.
//
// Server reads are cached under string keys such as "donor/list" or
// "patient/id/42". Each entry is stale, fresh or fetching:
//
//   - a fresh entry is served from memory;
//   - a stale entry with a value is served immediately while one background
//     load refreshes it (stale-while-revalidate);
//   - an entry without a value blocks the caller until the load completes.
//
// Concurrent fetches of one key share a single in-flight load. Mutations are
// serialized per key and atomically replace or invalidate the key and
// invalidate related prefixes; a load that started before a mutation never
// overwrites the mutation's result.
//
// Every load remembers the session epoch it started in. A result that arrives
// after the session changed is discarded with ErrStaleSession, and Reset
// cancels everything still in flight.
package query
