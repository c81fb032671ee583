// Package zockererr defines the error taxonomy shared across the build
// engine, stores, and CLI. Every failure path that should produce a
// distinguishable [ERR] diagnostic wraps its cause in one of these kinds.
package zockererr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for diagnostic and exit-code purposes.
type Kind string

const (
	KindConfig   Kind = "config"
	KindParse    Kind = "parse"
	KindResolve  Kind = "resolve"
	KindIO       Kind = "io"
	KindMount    Kind = "mount"
	KindChild    Kind = "child"
	KindStore    Kind = "store"
)

// Error wraps an underlying error with a taxonomy Kind and optional
// human-readable context, e.g. a buildfile line number or a stage name.
type Error struct {
	Kind    Kind
	Context string
	Err     error
}

func (e *Error) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, context string, err error) *Error {
	return &Error{Kind: kind, Context: context, Err: err}
}

func Config(context string, err error) *Error  { return newErr(KindConfig, context, err) }
func Parse(context string, err error) *Error   { return newErr(KindParse, context, err) }
func Resolve(context string, err error) *Error { return newErr(KindResolve, context, err) }
func IO(context string, err error) *Error      { return newErr(KindIO, context, err) }
func Mount(context string, err error) *Error   { return newErr(KindMount, context, err) }
func Child(context string, err error) *Error   { return newErr(KindChild, context, err) }
func Store(context string, err error) *Error   { return newErr(KindStore, context, err) }

// Parsef/Resolvef are convenience wrappers for the common case of formatting
// a fresh message rather than wrapping an existing error.
func Parsef(context, format string, args ...any) *Error {
	return newErr(KindParse, context, fmt.Errorf(format, args...))
}

func Resolvef(context, format string, args ...any) *Error {
	return newErr(KindResolve, context, fmt.Errorf(format, args...))
}

func Storef(context, format string, args ...any) *Error {
	return newErr(KindStore, context, fmt.Errorf(format, args...))
}

// Of reports whether err (or any error it wraps) carries the given Kind.
func Of(err error, kind Kind) bool {
	var ze *Error
	if errors.As(err, &ze) {
		return ze.Kind == kind
	}
	return false
}
