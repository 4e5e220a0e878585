package domain

import "errors"

// Sentinel errors for the domain layer. These provide consistent, checkable
// errors for the failures the messaging client can observe.
var (
	ErrNotFound          = errors.New("requested resource not found")
	ErrNoIdentity        = errors.New("no member identity available")
	ErrTransportNotReady = errors.New("realtime transport is not open")
	ErrNotSubscribed     = errors.New("topic is not subscribed")
	ErrDisconnected      = errors.New("realtime transport is disconnected")
	ErrEmptyMessage      = errors.New("message body is empty")
	ErrNoChannel         = errors.New("no channel selected")
)
