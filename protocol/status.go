package protocol

import "fmt"

// NodeStatus is the authorization state of a node identity.
//
// The only legal transitions are:
//
//	Unknown --register--> Pending --approve--> Authorized --revoke--> Revoked
//	                            \--reject-------------------------->/
//
// Re-registration of a Pending or Authorized node updates descriptive fields
// but never changes the status.
type NodeStatus string

const (
	StatusUnknown    NodeStatus = "unknown"
	StatusPending    NodeStatus = "pending"
	StatusAuthorized NodeStatus = "authorized"
	StatusRevoked    NodeStatus = "revoked"
)

// Valid returns true if the status is one of the recognized states.
func (s NodeStatus) Valid() bool {
	switch s {
	case StatusUnknown, StatusPending, StatusAuthorized, StatusRevoked:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s to
// target. It encodes the one-directional lifecycle; callers that receive
// false must surface a state conflict, not silently ignore the request.
func (s NodeStatus) CanTransitionTo(target NodeStatus) bool {
	switch s {
	case StatusUnknown:
		return target == StatusPending
	case StatusPending:
		return target == StatusAuthorized || target == StatusRevoked
	case StatusAuthorized:
		return target == StatusRevoked
	}
	return false
}

// ParseNodeStatus converts a wire string into a NodeStatus.
func ParseNodeStatus(s string) (NodeStatus, error) {
	status := NodeStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unrecognized node status %q", s)
	}
	return status, nil
}

// AccessLevel is an ordered capability grant attached to a node and copied
// into its sessions at authentication time.
type AccessLevel string

const (
	LevelReadOnly  AccessLevel = "read_only"
	LevelReadWrite AccessLevel = "read_write"
	LevelAdmin     AccessLevel = "admin"
)

// levelRank makes the total order ReadOnly < ReadWrite < Admin explicit.
var levelRank = map[AccessLevel]int{
	LevelReadOnly:  1,
	LevelReadWrite: 2,
	LevelAdmin:     3,
}

// Valid returns true if the level is one of the recognized grants.
func (l AccessLevel) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Compare returns -1, 0 or 1 as l is ordered before, equal to, or after
// other. Unrecognized levels order before every valid level.
func (l AccessLevel) Compare(other AccessLevel) int {
	lr, or := levelRank[l], levelRank[other]
	switch {
	case lr < or:
		return -1
	case lr > or:
		return 1
	}
	return 0
}

// AtLeast reports whether l grants at minimum the capabilities of min.
func (l AccessLevel) AtLeast(min AccessLevel) bool {
	return l.Valid() && l.Compare(min) >= 0
}

// ParseAccessLevel converts a wire string into an AccessLevel.
func ParseAccessLevel(s string) (AccessLevel, error) {
	level := AccessLevel(s)
	if !level.Valid() {
		return "", fmt.Errorf("unrecognized access level %q", s)
	}
	return level, nil
}
