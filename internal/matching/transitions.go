// Package matching runs the live instant-matching protocol: the worker queue,
// the match sessions it spawns and the accept/reject/expiry lifecycle.
//
// Session status graph:
//
//	PENDING ──► ACCEPTED
//	   │
//	   ├──────► REJECTED
//	   │
//	   └──────► EXPIRED
//
// ACCEPTED, REJECTED and EXPIRED are terminal states.
package matching

import "fmt"

// SessionStatus is the lifecycle state of a MatchSession.
type SessionStatus string

const (
	StatusPending  SessionStatus = "PENDING"
	StatusAccepted SessionStatus = "ACCEPTED"
	StatusRejected SessionStatus = "REJECTED"
	StatusExpired  SessionStatus = "EXPIRED"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[SessionStatus][]SessionStatus{
	StatusPending: {StatusAccepted, StatusRejected, StatusExpired},
	// terminal states have no outgoing transitions
}

// ParseStatus converts a raw string to a SessionStatus.
func ParseStatus(s string) (SessionStatus, error) {
	st := SessionStatus(s)
	switch st {
	case StatusPending, StatusAccepted, StatusRejected, StatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown session status %q", s)
}

// IsTransitionAllowed reports whether moving from → to is permitted.
func IsTransitionAllowed(from, to SessionStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s SessionStatus) bool {
	_, ok := validTransitions[s]
	return !ok
}

// Response is a worker's answer to a match proposal.
type Response string

const (
	ResponseAccept Response = "accept"
	ResponseReject Response = "reject"
)

// ParseResponse accepts exactly "accept" or "reject".
func ParseResponse(s string) (Response, error) {
	switch r := Response(s); r {
	case ResponseAccept, ResponseReject:
		return r, nil
	}
	return "", fmt.Errorf("unknown response %q", s)
}

// target is the status a response moves a PENDING session to.
func (r Response) target() SessionStatus {
	if r == ResponseAccept {
		return StatusAccepted
	}
	return StatusRejected
}

// QueueState is the worker-level view of the queue.
type QueueState string

const (
	StateIdle    QueueState = "IDLE"
	StateQueued  QueueState = "QUEUED"
	StateMatched QueueState = "MATCHED"
)
