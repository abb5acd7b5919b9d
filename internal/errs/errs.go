// Package errs defines the error-kind taxonomy shared by every protocol
// peer in uswire. Kinds are compared with errors.Is against the sentinel
// values below; callers that need the human-readable details can type-assert
// to *Fail.
package errs

import (
	"errors"
	"fmt"
)

// Kind tags a Fail with one of the taxonomy entries from spec.md §7.
type Kind int

const (
	_ Kind = iota
	KindMalformed
	KindResourceNotFound
	KindResourceBusy
	KindResourceExhausted
	KindTimeout
	KindTryAgain
	KindConnectionRefused
	KindConnectionAborted
	KindIgnored
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "Malformed"
	case KindResourceNotFound:
		return "ResourceNotFound"
	case KindResourceBusy:
		return "ResourceBusy"
	case KindResourceExhausted:
		return "ResourceExhausted"
	case KindTimeout:
		return "Timeout"
	case KindTryAgain:
		return "TryAgain"
	case KindConnectionRefused:
		return "ConnectionRefused"
	case KindConnectionAborted:
		return "ConnectionAborted"
	case KindIgnored:
		return "Ignored"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Fail is the concrete error type carried through every fallible operation.
type Fail struct {
	Kind    Kind
	Details string
}

func (f *Fail) Error() string {
	if f.Details == "" {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Details)
}

// Is supports errors.Is(err, errs.Timeout) style comparisons against the
// sentinel values below, matching on Kind alone.
func (f *Fail) Is(target error) bool {
	t, ok := target.(*Fail)
	if !ok {
		return false
	}
	return f.Kind == t.Kind
}

// New constructs a Fail of the given kind with details.
func New(kind Kind, details string) *Fail {
	return &Fail{Kind: kind, Details: details}
}

// Newf is New with fmt.Sprintf-style details formatting.
func Newf(kind Kind, format string, args ...any) *Fail {
	return &Fail{Kind: kind, Details: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is comparisons where no details are needed.
var (
	Malformed          = &Fail{Kind: KindMalformed}
	ResourceNotFound   = &Fail{Kind: KindResourceNotFound}
	ResourceBusy       = &Fail{Kind: KindResourceBusy}
	ResourceExhausted  = &Fail{Kind: KindResourceExhausted}
	Timeout            = &Fail{Kind: KindTimeout}
	TryAgain           = &Fail{Kind: KindTryAgain}
	ConnectionRefused  = &Fail{Kind: KindConnectionRefused}
	ConnectionAborted  = &Fail{Kind: KindConnectionAborted}
	Ignored            = &Fail{Kind: KindIgnored}
)

// Is reports whether err's Kind matches kind, walking the error chain.
func Is(err error, kind Kind) bool {
	var f *Fail
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}
