// Package services talks to a running podtasks server on behalf of the CLI.
//
// [Client] implements [JobsAPI] over the JSON endpoints and maps error statuses back onto the sentinels in
// package shared, so callers can use [errors.Is] on either side of the wire:
//   - 409 : [shared.ErrAlreadyRunning]
//   - 404 : [shared.ErrNotFound]
//   - 503 : [shared.ErrServiceUnavailable]
//   - 401 : [shared.ErrAuthFailed]
//
// [Client.Watch] opens the websocket stream. The first envelope is always the "initial" snapshot.
package services
