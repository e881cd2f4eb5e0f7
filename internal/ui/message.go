package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/podtasks/internal/models"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgEnvelope MsgKind = iota
	MsgStreamClosed
	MsgCancelSent
	MsgHeartbeat
)

// envelopeMsg is the constructor for [MsgEnvelope]
func envelopeMsg(env models.Envelope) Msg {
	return Msg{kind: MsgEnvelope, data: env}
}

// streamClosedMsg is the constructor for [MsgStreamClosed]
func streamClosedMsg(err error) Msg {
	return Msg{kind: MsgStreamClosed, data: err}
}

type cancelResult struct {
	jobID string
	err   error
}

// cancelSentMsg is the constructor for [MsgCancelSent]
func cancelSentMsg(jobID string, err error) Msg {
	return Msg{kind: MsgCancelSent, data: cancelResult{jobID, err}}
}

// heartbeatMsg is the constructor for [MsgHeartbeat]
func heartbeatMsg() Msg {
	return Msg{kind: MsgHeartbeat}
}
