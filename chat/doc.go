// Package chat contains the Live Chat Engine of a book-club room and its satellites.
//
// An Engine owns the ordered, append-only message sequence of one session. It merges
// genuine user messages with synthesized ones, drives the synthetic viewer count and
// decides when to ask the synthesis client for a new batch. Batches are not inserted
// directly: a Stagger drip-feeds them through AppendScheduled so they look like organic
// arrivals.
//
// Consumers (floating ticker, persistence sink, event hub) attach with Subscribe and are
// told about exactly the newest message. Only OriginUser messages ever reach storage,
// through the sink returned by NewPersistenceSink.
//
// StartTwitchRelay mirrors the chat of a simulcast Twitch channel into a room as user
// messages. The IRC client requires a bot username and an OAuth token with chat:read scope.
package chat
