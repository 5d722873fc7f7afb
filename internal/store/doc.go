// Package store records what happened to each relayed message.
//
// A SessionOutcome holds the message ID, the sender, the message kind, the
// outcome label, the reply length and how long the session took. Message
// text is never stored. The stats API aggregates these rows and operators
// use them to spot backend timeouts or outages.
//
// SQLiteStore persists outcomes with modernc.org/sqlite (pure Go, no cgo).
// MockStore keeps them in memory for tests.
package store
