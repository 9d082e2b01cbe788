package channel

import "fmt"

// AuthError reports that the channel cannot connect because no usable
// credential is available.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("event channel auth failed: %s", e.Reason)
}

// ChannelError wraps a server-pushed error event.
type ChannelError struct {
	Message string
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("event channel error: %s", e.Message)
}

// ErrNotConnected is returned by room and send operations before Connect.
var ErrNotConnected = fmt.Errorf("event channel not connected")
