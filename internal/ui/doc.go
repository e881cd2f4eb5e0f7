// Package ui implements the `podtasks watch` terminal view using bubbletea's Elm architecture.
//
// The [Model] reads envelopes from a [Source] (the websocket stream) one at a time through a tea.Cmd, so the
// update loop never blocks. The first envelope replaces the job list; each update folds one event in.
// Queued jobs show a spinner, running jobs a progress bar.
//
// With [Options.JobID] set the view follows a single job and exits when it reaches a terminal state, which is
// how `podtasks jobs submit --watch` waits for completion.
//
// Keyboard navigation uses vim-style bindings (j/k, c to cancel, x to clear finished, q) with contextual help
// displayed via charmbracelet/bubbles/help.
package ui
