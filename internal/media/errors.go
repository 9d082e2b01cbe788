package media

import "fmt"

// DeviceError reports that the camera or microphone could not be acquired,
// typically because permission was denied or no device is present.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("media device unavailable: %v", e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// TransportError reports a failed room connect or publish.
type TransportError struct {
	Op  string // dial, publish, signal
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport room %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
