// Package models defines the domain types shared by the coordinator, its transport, and its persistence.
//
// The package contains two categories of types:
//
// 1. Job coordination types, held in the shared state store and pushed to clients
//   - [Job] : snapshot of one background operation (kind, owner, resource key, state, progress)
//   - [Event] : a single state or progress change for a job
//   - [Envelope] : the wire message sent over a notification connection ("initial" or "update")
//
// 2. Persistent entities backed by SQL
//   - [Podcast] : a feed a user is subscribed to
//   - [Episode] : an item from a podcast feed
//
// [State] transitions are monotonic: queued → running → one of succeeded, failed, cancelled.
// [State.CanTransition] is the single source of truth for what moves are legal.
package models
