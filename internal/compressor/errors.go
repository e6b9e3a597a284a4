package compressor

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a single file (or a whole request) failed.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindDecode
	KindResize
	KindEncode
	KindIO
	KindEncoderPanic
	KindInvalidRequest
)

// String returns the name used in reports and logs.
func (k ErrorKind) String() string {
	switch k {
	case KindDecode:
		return "DecodeError"
	case KindResize:
		return "ResizeError"
	case KindEncode:
		return "EncodeError"
	case KindIO:
		return "IoError"
	case KindEncoderPanic:
		return "EncoderPanic"
	case KindInvalidRequest:
		return "InvalidRequest"
	default:
		return "UnknownError"
	}
}

// Error is the error type returned by every operation in this package.
type Error struct {
	Kind ErrorKind
	Path string // file the error relates to, if any
	Op   string // step that failed, e.g. "decode", "write"
	Err  error
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrDecode         = &Error{Kind: KindDecode}
	ErrResize         = &Error{Kind: KindResize}
	ErrEncode         = &Error{Kind: KindEncode}
	ErrIO             = &Error{Kind: KindIO}
	ErrEncoderPanic   = &Error{Kind: KindEncoderPanic}
	ErrInvalidRequest = &Error{Kind: KindInvalidRequest}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Path == "" && t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

func newError(kind ErrorKind, path, op string, err error) *Error {
	return &Error{Kind: kind, Path: path, Op: op, Err: err}
}

// InvalidRequest returns a request-level error with a formatted message.
func InvalidRequest(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Err: fmt.Errorf(format, args...)}
}

// AsError converts err into *Error, classifying anything foreign under
// fallback.
func AsError(path string, err error, fallback ErrorKind) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Path == "" {
			cp := *e
			cp.Path = path
			return &cp
		}
		return e
	}
	return &Error{Kind: fallback, Path: path, Err: err}
}
