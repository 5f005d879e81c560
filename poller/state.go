// Package poller reconciles a submitted payment with the gateway by querying
// its status on a fixed interval until it reaches a terminal state.
package poller

import "strings"

// State is the local payment state machine. Pending is the only
// non-terminal state.
type State string

const (
	Pending  State = "pending"
	Success  State = "success"
	Failed   State = "failed"
	Canceled State = "canceled"
	Timeout  State = "timeout"
)

func (s State) Terminal() bool { return s != Pending && s != "" }

// NormalizeStatus maps the gateway's status vocabulary onto State. Anything
// unrecognised is still pending.
func NormalizeStatus(raw string) State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "successful", "completed", "success":
		return Success
	case "failed", "error", "failure":
		return Failed
	case "cancelled", "canceled", "cancel":
		return Canceled
	default:
		return Pending
	}
}

func defaultMessage(s State) string {
	switch s {
	case Success:
		return "Payment successful"
	case Failed:
		return "Payment failed"
	case Canceled:
		return "Payment cancelled"
	case Timeout:
		return TimeoutMessage
	default:
		return "Payment pending"
	}
}
