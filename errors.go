package pluginbus

import "fmt"

// ErrorType discriminates the bus error taxonomy (spec §7).
type ErrorType int

const (
	ErrTransport ErrorType = iota
	ErrTimeout
	ErrRemote
	ErrPolicy
	ErrUsage
)

func (t ErrorType) String() string {
	switch t {
	case ErrTransport:
		return "transport"
	case ErrTimeout:
		return "timeout"
	case ErrRemote:
		return "remote"
	case ErrPolicy:
		return "policy"
	case ErrUsage:
		return "usage"
	default:
		return "unknown"
	}
}

// BusError is the typed sentinel error used throughout the bus, mirroring
// the host's HostError/HostErrorType pattern.
type BusError struct {
	Type    ErrorType
	Message string
	Code    string
}

func (e *BusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error [%s]: %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func newTransportError(msg string) *BusError { return &BusError{Type: ErrTransport, Message: msg} }
func newTimeoutError(msg string) *BusError    { return &BusError{Type: ErrTimeout, Message: msg} }
func newRemoteError(msg string) *BusError     { return &BusError{Type: ErrRemote, Message: msg} }
func newPolicyError(msg string) *BusError     { return &BusError{Type: ErrPolicy, Message: msg} }
func newUsageError(msg string) *BusError      { return &BusError{Type: ErrUsage, Message: msg} }

// Is lets errors.Is match on Type+Code, the same shape comparisons used
// against HostError in the original host code.
func (e *BusError) Is(target error) bool {
	other, ok := target.(*BusError)
	if !ok {
		return false
	}
	if other.Code != "" {
		return e.Type == other.Type && e.Code == other.Code
	}
	return e.Type == other.Type
}
