// Package tokens persists the session's access/refresh token pair.
//
// # Overview
//
// TokenStore is the only writer of the pair. It keeps an in-memory snapshot
// after the first load and writes through to a durable Slot while holding its
// write lock, so readers never observe a half-written pair.
//
// Slots:
//
//   - MetadataSlot: a row of the SQLite metadata table (default)
//   - BadgerSlot:   a key in a Badger database
//   - MemorySlot:   process-local, for tests and ephemeral runs
//
// When a secret is configured the serialized pair is sealed with AES-GCM
// under an Argon2id key (see internal/cryptox) before it reaches the slot.
//
// Typical Usage
//
//	store := tokens.NewTokenStore(tokens.NewMetadataSlot(db), tokens.WithSecret(secret))
//	_ = store.Set(ctx, models.TokenPair{AccessToken: a, RefreshToken: r})
//	pair, _ := store.Get(ctx) // nil when nothing is stored
//	_ = store.Clear(ctx)
package tokens
