package rollback

import "fmt"

// ViolationCode classifies a contract violation so a host's recover() can
// branch on it instead of string-matching a panic.
type ViolationCode int

const (
	// ViolationBadHandle indicates an operation was called with a handle
	// unknown to the session, or of the wrong PlayerType for the API.
	ViolationBadHandle ViolationCode = iota
	// ViolationNonSequentialInput indicates add_input was called with a
	// step that skips ahead of last_added_step + 1.
	ViolationNonSequentialInput
	// ViolationPingOverCap indicates SetPing was called above
	// max_remote_ping_ms.
	ViolationPingOverCap
	// ViolationEvictedSnapshot indicates a rollback target has aged out
	// of the snapshot ring.
	ViolationEvictedSnapshot
	// ViolationAgedInput indicates GetInput's clamped step no longer
	// matches what's stored at that ring slot.
	ViolationAgedInput
)

func (c ViolationCode) String() string {
	switch c {
	case ViolationBadHandle:
		return "bad_handle"
	case ViolationNonSequentialInput:
		return "non_sequential_input"
	case ViolationPingOverCap:
		return "ping_over_cap"
	case ViolationEvictedSnapshot:
		return "evicted_snapshot"
	case ViolationAgedInput:
		return "aged_input"
	default:
		return "unknown"
	}
}

// ContractViolation is the error panicked by the default violation sink.
// It implements error so a host's recover() can type-assert it and inspect
// Code, rather than pattern-matching on a message string.
type ContractViolation struct {
	Code ViolationCode
	Msg  string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("rollback: contract violation (%s): %s", e.Code, e.Msg)
}

// violate is the contract-violation sink. It's a package-level var, not a
// plain function, so tests can swap it out to capture violations instead
// of recovering from a panic — mirroring the teacher's panic-on-invariant-
// break style while keeping it observable.
var violate = func(code ViolationCode, format string, args ...any) {
	panic(&ContractViolation{Code: code, Msg: fmt.Sprintf(format, args...)})
}
