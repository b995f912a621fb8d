package compositor

import (
	"errors"
	"fmt"

	"deedles.dev/wlcomp/internal/objstore"
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/surface"
)

// Kinds of protocol violation. A *ProtocolError's Kind is one of
// these.
var (
	ErrDuplicateID      = errors.New("duplicate object id")
	ErrUnknownObject    = errors.New("unknown object")
	ErrInvalidReference = errors.New("invalid object reference")
	ErrRoleConflict     = errors.New("role conflict")
	ErrInvalidMethod    = errors.New("invalid method")
	ErrProtocol         = errors.New("protocol violation")
)

// ProtocolError is a violation of the protocol by a client. Object and
// Code are sent to the client in a wl_display.error event.
type ProtocolError struct {
	Object  uint32
	Code    uint32
	Kind    error
	Message string
	Err     error
}

func protocolError(object, code uint32, kind error, err error, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Object:  object,
		Code:    code,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func (err *ProtocolError) Error() string {
	if err.Err == nil {
		return fmt.Sprintf("object %v: %v: %v", err.Object, err.Kind, err.Message)
	}
	return fmt.Sprintf("object %v: %v: %v: %v", err.Object, err.Kind, err.Message, err.Err)
}

func (err *ProtocolError) Is(target error) bool {
	return target == err.Kind
}

func (err *ProtocolError) Unwrap() error {
	return err.Err
}

// Fatal reports whether the connection has to be closed. The only
// violation that is not fatal is a reference to an object that the
// client has already destroyed. The request fails and the connection
// stays up.
func (err *ProtocolError) Fatal() bool {
	if !errors.Is(err.Kind, ErrInvalidReference) {
		return true
	}
	return !errors.Is(err.Err, objstore.ErrDestroyed) && !errors.Is(err.Err, surface.ErrBufferDestroyed)
}

// ResourceError is a request that failed for lack of a resource, such
// as a buffer in a format that can't be displayed. Only the request
// fails.
type ResourceError struct {
	Object uint32
	Err    error
}

func (err *ResourceError) Error() string {
	return fmt.Sprintf("object %v: %v", err.Object, err.Err)
}

func (err *ResourceError) Unwrap() error {
	return err.Err
}

func unknownObject(id uint32) *ProtocolError {
	return protocolError(1, protocol.DisplayErrorInvalidObject, ErrUnknownObject, nil, "invalid object %v", id)
}

func invalidMethod(object uint32, err error, format string, args ...any) *ProtocolError {
	return protocolError(object, protocol.DisplayErrorInvalidMethod, ErrInvalidMethod, err, format, args...)
}

func implementationError(err error) *ProtocolError {
	return protocolError(1, protocol.DisplayErrorImplementation, ErrProtocol, err, "internal error")
}
