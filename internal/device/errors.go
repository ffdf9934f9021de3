package device

import (
	"errors"
	"fmt"
	"strings"
)

// Category sentinels. Typed errors below match them through Is, so callers
// only ever need errors.Is(err, device.ErrXxx).
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNoMemory        = errors.New("no memory")
	ErrTimeout         = errors.New("timeout")
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrNotSupported    = errors.New("not supported")
	ErrCommunication   = errors.New("communication failure")
	ErrInternal        = errors.New("internal error")

	// ErrNotFinished is returned by a CoC send on a credit-stalled channel.
	// It is backpressure, not a failure: retry after a TxUnstalled event.
	ErrNotFinished = errors.New("not finished")
)

// NotFoundError represents an error when a GATT resource or PSM is unknown
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor", "handle", "psm", "channel"
	UUIDs    []string // One or more identifiers (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	// For BLE hierarchy: characteristic is in service, descriptor is in characteristic
	parentResource := "service"
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[0])
}

// Is makes NotFoundError match ErrNotFound
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// LifecycleState names the specific kind of lifecycle misuse
type LifecycleState string

const (
	NotInitialized     LifecycleState = "not_initialized"
	AlreadyInitialized LifecycleState = "already_initialized"
	NotStarted         LifecycleState = "not_started"
	NotStopped         LifecycleState = "not_stopped"
	NotConnected       LifecycleState = "not_connected"
	AlreadyConnected   LifecycleState = "already_connected"
	Busy               LifecycleState = "busy"
	ResourcesActive    LifecycleState = "resources_active"
)

// StateError represents any lifecycle-related problem
type StateError struct {
	State LifecycleState
	Msg   string
}

// Error implements the error interface
func (e *StateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare StateError values by State, and matches ErrInvalidState
func (e *StateError) Is(target error) bool {
	if e == nil {
		return false
	}
	if target == ErrInvalidState {
		return true
	}
	t, ok := target.(*StateError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for lifecycle states
var (
	ErrNotInitialized     = &StateError{State: NotInitialized}
	ErrAlreadyInitialized = &StateError{State: AlreadyInitialized}
	ErrNotStarted         = &StateError{State: NotStarted}
	ErrNotStopped         = &StateError{State: NotStopped}
	ErrNotConnected       = &StateError{State: NotConnected}
	ErrAlreadyConnected   = &StateError{State: AlreadyConnected}
	ErrBusy               = &StateError{State: Busy}
	ErrResourcesActive    = &StateError{State: ResourcesActive}
)

// IsLifecycleState reports whether err is a StateError with the given state
func IsLifecycleState(err error, state LifecycleState) bool {
	var serr *StateError
	if errors.As(err, &serr) {
		return serr.State == state
	}
	return false
}

// HostError carries a non-zero status reported by the host stack
type HostError struct {
	Op     string
	Status int
}

func (e *HostError) Error() string {
	return fmt.Sprintf("%s failed: host status 0x%02x", e.Op, e.Status)
}

// Is makes HostError match ErrCommunication
func (e *HostError) Is(target error) bool {
	return target == ErrCommunication
}

// StatusError converts a host completion status into an error; zero is success.
func StatusError(op string, status int) error {
	if status == 0 {
		return nil
	}
	return &HostError{Op: op, Status: status}
}

// InvalidArgf formats a validation error wrapping ErrInvalidArgument
func InvalidArgf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidArgument)
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// NormalizeError maps known host error strings to the error taxonomy.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "timeout"), containsIgnoreCase(msg, "timed out"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case containsIgnoreCase(msg, "not supported"), containsIgnoreCase(msg, "unsupported"):
		return fmt.Errorf("%w: %v", ErrNotSupported, err)
	default:
		return fmt.Errorf("%w: %v", ErrCommunication, err)
	}
}
