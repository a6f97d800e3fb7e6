package orchestrator

import (
	"fmt"
	"strings"
)

// State is the per-session backend state.
type State int32

const (
	Unselected State = iota
	LocalReady
	LocalFailed
	RemoteConnecting
	RemoteOpen
	RemoteClosed
	Fallback
)

var stateNames = [...]string{
	Unselected:       "unselected",
	LocalReady:       "local_ready",
	LocalFailed:      "local_failed",
	RemoteConnecting: "remote_connecting",
	RemoteOpen:       "remote_open",
	RemoteClosed:     "remote_closed",
	Fallback:         "fallback",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int32(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Mode selects the execution strategy for a session.
type Mode string

const (
	ModeLocal     Mode = "local"
	ModeRemote    Mode = "remote"
	ModeSynthetic Mode = "synthetic"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeLocal, ModeRemote, ModeSynthetic:
		return m, nil
	default:
		return "", fmt.Errorf("unknown detection mode %q (want local, remote or synthetic)", s)
	}
}
