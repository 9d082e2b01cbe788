package broadcast

import "github.com/pkg/errors"

// State is the lifecycle state of one controller instance. At most one
// broadcast session is active per controller.
type State string

const (
	StateIdle       State = "idle"
	StatePreviewing State = "previewing"
	StateStarting   State = "starting"
	StateLive       State = "live"
	StateEnding     State = "ending"
)

var (
	// ErrBusy is returned when a transition is requested while another one
	// is still in flight. There is no mid-flight cancellation of Starting.
	ErrBusy = errors.New("broadcast transition already in progress")

	// ErrNotLive guards the operations that only make sense while live.
	ErrNotLive = errors.New("broadcast is not live")

	// ErrEmptyMessage rejects whitespace-only outbound chat before any
	// network call.
	ErrEmptyMessage = errors.New("chat message is empty")
)
