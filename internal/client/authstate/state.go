// Package authstate drives the client's authentication lifecycle. Transitions go
// through a pure reducer over immutable State snapshots; a generation counter
// discards results of operations that were superseded while in flight. Refresh
// results are kept unless the session itself was replaced or dropped.
package authstate

import "github.com/and161185/arena-auth/internal/model"

// Status is the coarse lifecycle position.
type Status uint8

const (
	StatusIdle Status = iota
	StatusAuthenticating
	StatusAuthenticated
	StatusUnauthenticated
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusAuthenticating:
		return "authenticating"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// State is an immutable snapshot. Session is only meaningful while
// Session.Complete() is true. Err is the reason attached to the last transition.
type State struct {
	Status  Status
	Session model.Session
	Err     error
	Gen     uint64
}

// Authenticated reports whether the snapshot carries a usable session.
func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Session.Complete()
}

type actionType uint8

const (
	actBegin actionType = iota
	actSucceed
	actFail
	actInvalidate
	actTransient
	actLogout
	actRefreshed
)

type action struct {
	typ     actionType
	gen     uint64
	session model.Session
	err     error
}

// stale reports whether a completion action belongs to an older generation.
func stale(s State, a action) bool {
	switch a.typ {
	case actBegin, actLogout, actRefreshed:
		return false
	}
	return a.gen != s.Gen
}

func reduce(s State, a action) State {
	if stale(s, a) {
		return s
	}
	switch a.typ {
	case actBegin:
		return State{Status: StatusAuthenticating, Session: s.Session, Gen: s.Gen + 1}
	case actLogout:
		return State{Status: StatusUnauthenticated, Gen: s.Gen + 1}
	case actSucceed:
		return State{Status: StatusAuthenticated, Session: a.session, Gen: s.Gen}
	case actFail:
		// a failed login keeps a session that was already established
		if s.Session.Complete() {
			return State{Status: StatusAuthenticated, Session: s.Session, Err: a.err, Gen: s.Gen}
		}
		return State{Status: StatusUnauthenticated, Err: a.err, Gen: s.Gen}
	case actRefreshed:
		// an operation in flight keeps running with the rotated pair as its fallback
		if s.Status == StatusAuthenticating {
			return State{Status: StatusAuthenticating, Session: a.session, Gen: s.Gen}
		}
		return State{Status: StatusAuthenticated, Session: a.session, Gen: s.Gen}
	case actInvalidate:
		return State{Status: StatusUnauthenticated, Err: a.err, Gen: s.Gen}
	case actTransient:
		return State{Status: StatusError, Session: s.Session, Err: a.err, Gen: s.Gen}
	}
	return s
}
