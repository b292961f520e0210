package oracle

import (
	"errors"
	"fmt"
	"strings"
)

// GenericFailureMessage is the only failure text shown to visitors.
const GenericFailureMessage = "The cosmic connection was interrupted. Please try again."

// MalformedResponseMessage describes replies without a recoverable JSON object.
const MalformedResponseMessage = "The Oracle spoke in riddles (Invalid JSON response)."

// Kind classifies where a reading failed.
type Kind string

const (
	KindInput     Kind = "input"
	KindTransport Kind = "transport"
	KindMalformed Kind = "malformed"
	KindSchema    Kind = "schema"
)

var (
	ErrInputRead         = errors.New("oracle: unable to read image")
	ErrTransport         = errors.New("oracle: model request failed")
	ErrMalformedResponse = errors.New("oracle: malformed response")
	ErrSchemaMismatch    = errors.New("oracle: response does not match schema")
)

// Error is the tagged failure of one reading. Its Error text is detailed and meant for logs;
// visitors only ever see GenericFailureMessage.
type Error struct {
	Kind   Kind
	Detail string
	Fields []string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Detail)
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := []error{kindSentinel(e.Kind)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// PublicMessage returns the visitor-facing text, identical for every kind.
func (e *Error) PublicMessage() string { return GenericFailureMessage }

// KindOf returns the failure kind carried by err, or "" when err is not a reading error.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}

func kindSentinel(kind Kind) error {
	switch kind {
	case KindInput:
		return ErrInputRead
	case KindMalformed:
		return ErrMalformedResponse
	case KindSchema:
		return ErrSchemaMismatch
	default:
		return ErrTransport
	}
}

func inputError(detail string, err error) *Error {
	return &Error{Kind: KindInput, Detail: detail, Err: err}
}

func transportError(err error) *Error {
	return &Error{Kind: KindTransport, Detail: "model request failed", Err: err}
}

func malformedError(err error) *Error {
	return &Error{Kind: KindMalformed, Detail: MalformedResponseMessage, Err: err}
}

func schemaError(fields []string, err error) *Error {
	return &Error{Kind: KindSchema, Detail: "response does not match reading schema", Fields: fields, Err: err}
}
