// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed, wrappable errors used throughout uasc
// in place of opaque status strings.
package errors

import "encoding/json"

// Error is a wrappable error that carries a message and an optional
// nested cause, and can be compared against a sentinel with Contains
// without resorting to string matching.
type Error interface {
	error

	// Msg returns the error's own message, without any wrapped cause.
	Msg() string

	// Err returns the wrapped cause, or nil.
	Err() Error
}

var _ Error = (*customError)(nil)

type customError struct {
	msg string
	err Error
}

func (ce *customError) Error() string {
	if ce == nil {
		return ""
	}
	if ce.err != nil {
		return ce.msg + ": " + ce.err.Error()
	}
	return ce.msg
}

func (ce *customError) Msg() string {
	return ce.msg
}

func (ce *customError) Err() Error {
	return ce.err
}

// MarshalJSON renders the error as {"error": <cause>, "message": <msg>}.
func (ce *customError) MarshalJSON() ([]byte, error) {
	var causeMsg string
	if ce.err != nil {
		causeMsg = ce.err.Msg()
	}
	return json.Marshal(struct {
		Cause   string `json:"error"`
		Message string `json:"message"`
	}{Cause: causeMsg, Message: ce.msg})
}

// New returns an Error carrying the given message, with no wrapped cause.
func New(msg string) Error {
	return &customError{msg: msg}
}

// Wrap returns an Error identified by wrapper's message, with err as its
// wrapped cause. If either argument is nil, Wrap returns nil.
func Wrap(wrapper Error, err error) Error {
	if wrapper == nil || err == nil {
		return nil
	}
	return &customError{msg: wrapper.Msg(), err: cast(err)}
}

func cast(err error) Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(Error); ok {
		return e
	}
	return &customError{msg: err.Error()}
}

// Contains reports whether err or any error it wraps has the same
// message as target.
func Contains(err error, target error) bool {
	if err == nil || target == nil {
		return err == nil && target == nil
	}
	if err.Error() == target.Error() {
		return true
	}
	ce, ok := err.(Error)
	if !ok {
		return err.Error() == target.Error()
	}
	if ce.Msg() == target.Error() {
		return true
	}
	if ce.Err() == nil {
		return false
	}
	return Contains(ce.Err(), target)
}

// Unwrap splits err into its own (unwrapped) form and the cause it wraps.
// If err does not implement Error, or wraps nothing, wrapped is nil.
func Unwrap(err error) (wrapper, wrapped Error) {
	ce, ok := err.(Error)
	if !ok || ce == nil {
		return nil, nil
	}
	return New(ce.Msg()), ce.Err()
}
