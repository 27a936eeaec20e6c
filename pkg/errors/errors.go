package errors

import (
	goerrs "errors"
	"fmt"
)

// Underflow is raised when a read asks for more bytes than the buffer holds.
// It is fatal for the message being decoded.
type Underflow struct {
	MessageName string
	MsgSize     int
	MinimumSize int
}

func (e *Underflow) Error() string {
	return fmt.Sprintf("Message parsing underflowed (type=%s), provided %d bytes, needed at least %d", e.MessageName, e.MsgSize, e.MinimumSize)
}

// SpaceExhausted is raised when a write does not fit in the remaining capacity.
// The write is dropped and the buffer is left untouched, so callers may retry.
type SpaceExhausted struct {
	Operation string
	Needed    int
	Available int
}

func (e *SpaceExhausted) Error() string {
	return fmt.Sprintf("No space for write (op=%s), needed %d bytes, %d available", e.Operation, e.Needed, e.Available)
}

type InvalidEnumValue struct {
	EnumName string
	IntValue uint8
}

func (e *InvalidEnumValue) Error() string {
	return fmt.Sprintf("Invalid enum value=%d (enum: %s)", e.IntValue, e.EnumName)
}

type VersionMismatch struct {
	IsScriptVersion bool
	ClientVersion   string
	ServerVersion   string
}

func (e *VersionMismatch) Error() string {
	kind := "engine"
	if e.IsScriptVersion {
		kind = "script"
	}
	return fmt.Sprintf("Protocol %s version mismatch: client=%s, server=%s", kind, e.ClientVersion, e.ServerVersion)
}

type MissingFieldError struct {
	MessageName string
	FieldName   string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("Missing field %s in message type %s", e.FieldName, e.MessageName)
}

type NameCollision struct {
	CollisionContext string
	Name             string
}

func (e *NameCollision) Error() string {
	return fmt.Sprintf("Name collision for name '%s' in context '%s'", e.Name, e.CollisionContext)
}

type UnknownMessage struct {
	Id   uint16
	Name string
}

func (e *UnknownMessage) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("Unknown message name=%s", e.Name)
	}
	return fmt.Sprintf("Unknown message id=%d", e.Id)
}

type InvalidState struct {
	Operation string
	State     string
}

func (e *InvalidState) Error() string {
	return fmt.Sprintf("Operation %s not allowed in state %s", e.Operation, e.State)
}

type AlreadyOwned struct {
	Resource string
}

func (e *AlreadyOwned) Error() string {
	return fmt.Sprintf("Resource %s is already owned by another client", e.Resource)
}

func IsDecodeOverflow(err error) bool {
	var underflow *Underflow
	return goerrs.As(err, &underflow)
}

func IsSpaceExhausted(err error) bool {
	var exhausted *SpaceExhausted
	return goerrs.As(err, &exhausted)
}

type ArgumentMismatch struct {
	MessageName string
	Index       int
	Expected    string
}

func (e *ArgumentMismatch) Error() string {
	return fmt.Sprintf("Argument %d of message %s does not hold a %s value", e.Index, e.MessageName, e.Expected)
}

type ArgumentCount struct {
	MessageName string
	Expected    int
	Provided    int
}

func (e *ArgumentCount) Error() string {
	return fmt.Sprintf("Message %s takes %d arguments, %d provided", e.MessageName, e.Expected, e.Provided)
}

type FixedLengthMismatch struct {
	MessageName string
	Declared    int
	Written     int
}

func (e *FixedLengthMismatch) Error() string {
	return fmt.Sprintf("Message %s declares a %d byte body, %d bytes written", e.MessageName, e.Declared, e.Written)
}

type ConnectionClosed struct {
	Address string
	Opened  bool
}

func (e *ConnectionClosed) Error() string {
	if !e.Opened {
		return fmt.Sprintf("Connection to %s closed before it opened", e.Address)
	}
	return fmt.Sprintf("Connection to %s closed", e.Address)
}
