// Package docstore defines the document store contract tasktrax is built on
// and the pieces shared by every backend.
//
// A store holds JSON-shaped documents addressed by (collection, id). Writes
// go through Mutate, an atomic read-modify-write of a single document; Set,
// Update, Create and AppendToArray are helpers on top of it. Readers either
// poll with Get/List or subscribe to a collection or a single document and
// receive a fresh full snapshot after every change.
//
// # Backends
//
//   - NewMemoryStore: in-process, used by tests and single node demos
//   - redisstore: documents in Redis, change feed over PUBLISH/PSUBSCRIBE
//   - sqlstore: documents in Postgres or SQLite, change feed over LISTEN/NOTIFY
//
// # Subscriptions
//
// Deliveries are ordered per subscription and coalesced: a burst of writes
// may produce a single snapshot, but the last snapshot a subscriber sees
// always reflects the last write. Unsubscribe is idempotent and never
// blocks. A transport failure is reported once through onError, after which
// the subscription is closed and the caller decides whether to resubscribe.
package docstore
