// Package repositories implements SQL persistence for the podcast library and job history.
//
// Key Implementations:
//   - [PodcastRepository] : per-user subscriptions, unique by feed URL
//   - [EpisodeRepository] : feed items, unique per podcast by GUID
//   - [JobHistoryRepository] : terminal job outcomes kept past the state store's retention window
//
// Queries are written with "?" placeholders and rebound for the connected driver, so the same code runs on
// sqlite3 and postgres. Missing rows surface as shared.ErrNotFound.
package repositories
