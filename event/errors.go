package event

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a unit could not be parsed.
type ErrorKind uint8

const (
	// Malformed means the DNS header or question could not be decoded.
	Malformed ErrorKind = iota + 1
	// Unsupported means the unit does not carry a DNS query message.
	Unsupported
	// NoQuestion means the question section is empty.
	NoQuestion
	// Truncated means the answer count is set but no answer record decodes.
	Truncated
	// NoExtractableName means a response log line names no domain.
	NoExtractableName
)

// Kinds lists every ErrorKind in reporting order.
var Kinds = []ErrorKind{Malformed, Unsupported, NoQuestion, Truncated, NoExtractableName}

func (k ErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case Unsupported:
		return "unsupported"
	case NoQuestion:
		return "no_question"
	case Truncated:
		return "truncated"
	case NoExtractableName:
		return "no_extractable_name"
	}
	return "unknown"
}

// Sentinels matched by errors.Is against a *ParseError of the same kind.
var (
	ErrMalformed         = &ParseError{Kind: Malformed}
	ErrUnsupported       = &ParseError{Kind: Unsupported}
	ErrNoQuestion        = &ParseError{Kind: NoQuestion}
	ErrTruncated         = &ParseError{Kind: Truncated}
	ErrNoExtractableName = &ParseError{Kind: NoExtractableName}
)

// ErrNotApplicable is returned for units a parser deliberately ignores,
// such as log lines without the response marker. It is not a parse failure.
var ErrNotApplicable = errors.New("unit not applicable")

// ParseError is a recoverable per-unit failure. The unit is skipped and counted.
type ParseError struct {
	Kind ErrorKind
	Ref  string
	Err  error
}

// NewParseError returns a ParseError for the unit at ref.
func NewParseError(kind ErrorKind, ref string, err error) *ParseError {
	return &ParseError{Kind: kind, Ref: ref, Err: err}
}

func (e *ParseError) Error() string {
	msg := "parse " + e.Kind.String()
	if e.Ref != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Ref)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is matches any *ParseError with the same Kind.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && t.Kind == e.Kind
}

// KindOf returns the ErrorKind of err, or zero when err is not a ParseError.
func KindOf(err error) ErrorKind {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
