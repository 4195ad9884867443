package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a failure at the place where it happens. Callers branch on Kind,
// never on error text.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindCredential
	KindDuplicateEmail
	KindDuplicateUsername
	KindMalformed
	KindExpired
	KindSignatureInvalid
	KindUserNotFound
	KindUserInactive
	KindRefreshReused
	KindForbidden
	KindDirectory
	KindTransport
	KindInternal
)

var kindCodes = map[Kind]string{
	KindUnknown:           "unknown",
	KindValidation:        "validation_failed",
	KindCredential:        "invalid_credentials",
	KindDuplicateEmail:    "duplicate_email",
	KindDuplicateUsername: "duplicate_username",
	KindMalformed:         "token_malformed",
	KindExpired:           "token_expired",
	KindSignatureInvalid:  "token_signature_invalid",
	KindUserNotFound:      "user_not_found",
	KindUserInactive:      "user_inactive",
	KindRefreshReused:     "refresh_reused",
	KindForbidden:         "forbidden",
	KindDirectory:         "directory_unavailable",
	KindTransport:         "transport",
	KindInternal:          "internal",
}

// Code is the stable machine code carried in the "error" field of HTTP responses.
func (k Kind) Code() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return kindCodes[KindUnknown]
}

func (k Kind) String() string { return k.Code() }

// KindFromCode maps a machine code back to its Kind. Unknown codes map to KindUnknown.
func KindFromCode(code string) Kind {
	for k, c := range kindCodes {
		if c == code {
			return k
		}
	}
	return KindUnknown
}

// IsToken reports whether the kind says the presented token itself is unusable.
func (k Kind) IsToken() bool {
	switch k {
	case KindMalformed, KindExpired, KindSignatureInvalid, KindRefreshReused:
		return true
	}
	return false
}

// IsTransient reports whether the failure may go away on retry and must not be
// read as "the session is invalid".
func (k Kind) IsTransient() bool {
	return k == KindDirectory || k == KindTransport
}

// Error is a classified error. Fields is only set for KindValidation.
type Error struct {
	Kind   Kind
	Op     string
	Err    error
	Fields map[string]string
}

// E builds a classified error for op.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation builds a KindValidation error carrying field-level reasons.
func Validation(op string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Op: op, Fields: fields}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Code())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " [%s: %s]", k, e.Fields[k])
		}
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the outermost classified error in err's chain,
// or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// FieldsOf returns validation reasons attached to err, if any.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
