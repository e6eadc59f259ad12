package session

import (
	"errors"
	"time"
)

// State is the lifecycle state of the dashboard's single session
type State int

const (
	Uninitialized State = iota
	Initializing
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// MarshalText lets snapshots serialize the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrInitTimeout   = errors.New("identity provider did not answer in time")
	ErrInitFailed    = errors.New("identity provider initialization failed")
	ErrRefreshFailed = errors.New("session refresh failed")
	ErrLoginFailed   = errors.New("login failed")
)

// Snapshot is an immutable view of the session.
// Credential is non-empty exactly when State is Authenticated.
type Snapshot struct {
	State      State     `json:"state"`
	Credential string    `json:"-"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	Err        error     `json:"-"`
	Seq        uint64    `json:"seq"`
}

// Authenticated reports whether the snapshot carries a usable credential
func (s Snapshot) Authenticated() bool {
	return s.State == Authenticated && s.Credential != ""
}

// Settled reports whether the initial session check has finished
func (s Snapshot) Settled() bool {
	return s.State == Authenticated || s.State == Unauthenticated
}

// ErrorMessage is Err as text, "" when nil
func (s Snapshot) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Listener receives snapshots in Seq order
type Listener func(Snapshot)
