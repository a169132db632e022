package types

import "fmt"

// Kind is the stable, wire-visible error taxonomy. Values are used inside
// DISCONNECT messages, so the integer representation must never be
// renumbered once shipped.
type Kind int

const (
	KindOK Kind = iota
	KindInvalidParam
	KindNoMemory
	KindNotInitialized
	KindAlreadyInitialized
	KindInvalidState
	KindNotSupported
	KindNetwork
	KindTimeout
	KindConnectionRefused
	KindConnectionClosed
	KindNoNetwork
	KindNotConnected
	KindWouldBlock
	KindBufferFull
	KindQueueEmpty
	KindMessageTooLarge
	KindBackpressure
	KindPeerNotFound
	KindDiscoveryActive
	KindCRC
	KindMagic
	KindTruncated
	KindVersion
	KindNotPowerOfTwo
	KindPlatform
	KindResource
	KindInternal
	KindBusy
	KindCancelled
)

var kindLabels = map[Kind]string{
	KindOK:                  "ok",
	KindInvalidParam:        "invalid parameter",
	KindNoMemory:            "no memory",
	KindNotInitialized:      "not initialized",
	KindAlreadyInitialized:  "already initialized",
	KindInvalidState:        "invalid state",
	KindNotSupported:        "not supported",
	KindNetwork:             "network error",
	KindTimeout:             "timeout",
	KindConnectionRefused:   "connection refused",
	KindConnectionClosed:    "connection closed",
	KindNoNetwork:           "no network",
	KindNotConnected:        "not connected",
	KindWouldBlock:          "would block",
	KindBufferFull:          "buffer full",
	KindQueueEmpty:          "queue empty",
	KindMessageTooLarge:     "message too large",
	KindBackpressure:        "backpressure",
	KindPeerNotFound:        "peer not found",
	KindDiscoveryActive:     "discovery active",
	KindCRC:                 "crc mismatch",
	KindMagic:               "bad magic",
	KindTruncated:           "truncated",
	KindVersion:             "unsupported version",
	KindNotPowerOfTwo:       "capacity not a power of two",
	KindPlatform:            "platform error",
	KindResource:            "resource exhausted",
	KindInternal:            "internal error",
	KindBusy:                "busy",
	KindCancelled:           "cancelled",
}

// ErrorString implements the public error_string entry point: a stable
// human-readable label for every defined error, and "Unknown error" for
// anything out of range.
func ErrorString(k Kind) string {
	if label, ok := kindLabels[k]; ok {
		return label
	}
	return "Unknown error"
}

// Error is the concrete type every fallible core operation returns.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return ErrorString(e.Kind)
	}
	return fmt.Sprintf("%s: %s", ErrorString(e.Kind), e.Message)
}

// NewError builds an *Error the way the teacher builds its sentinel
// errors.New(...) values, but carrying the stable Kind needed by the
// public API and the wire-visible disconnect reason.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from any error produced by this module,
// normalizing anything else to KindInternal so callers never have to
// type-switch on raw errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	if pe, ok := err.(*Error); ok {
		return pe.Kind
	}
	return KindInternal
}
