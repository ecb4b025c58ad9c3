package stream

import (
	"fmt"
	"time"
)

// StateKind enumerates the connection lifecycle phases.
type StateKind int

const (
	// StateIdle means no connection exists and none is being attempted.
	StateIdle StateKind = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateOpen means the socket is up but no market data has arrived yet.
	StateOpen
	// StateStreaming means live data is flowing.
	StateStreaming
	// StateReconnecting means a dial failed or the socket dropped and a
	// retry is scheduled.
	StateReconnecting
)

func (k StateKind) String() string {
	switch k {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(k))
	}
}

// State is the full connection state. Attempt and Delay are meaningful
// only while Kind is StateReconnecting.
type State struct {
	Kind    StateKind
	Attempt int
	Delay   time.Duration
}

func (s State) String() string {
	if s.Kind == StateReconnecting {
		return fmt.Sprintf("reconnecting (attempt %d, next in %s)", s.Attempt, s.Delay)
	}
	return s.Kind.String()
}
