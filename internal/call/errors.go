package call

import "errors"

var (
	// ErrBusy is returned when a call is started while another session is
	// in progress.
	ErrBusy = errors.New("call already in progress")
	// ErrInvalidTarget is returned for an empty target or the local id.
	ErrInvalidTarget = errors.New("invalid call target")
	// ErrNoIncomingCall is returned by Accept and Reject when nothing is ringing.
	ErrNoIncomingCall = errors.New("no incoming call")
)
