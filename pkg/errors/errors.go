/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package errors

import (
	"errors"
	"fmt"
)

var (
	transientType     = &transient{}     //nolint:gochecknoglobals
	badRequestType    = &badRequest{}    //nolint:gochecknoglobals
	unauthorizedType  = &unauthorized{}  //nolint:gochecknoglobals
	policyBlockedType = &policyBlocked{} //nolint:gochecknoglobals

	// ErrContentNotFound is used to indicate that content at a given address could not be found.
	ErrContentNotFound = errors.New("content not found")

	// ErrGone indicates that the referenced object has been tombstoned.
	ErrGone = errors.New("gone")
)

// NewTransient returns a transient error that wraps the given error in order to indicate to the
// caller that a retry may resolve the problem, whereas a non-transient (persistent) error will
// always fail with the same outcome if retried.
func NewTransient(err error) error {
	return &transient{err: err}
}

// NewTransientf returns a transient error in order to indicate to the caller that a retry may
// resolve the problem.
func NewTransientf(format string, a ...interface{}) error {
	return &transient{err: fmt.Errorf(format, a...)}
}

// IsTransient returns true if the given error is a 'transient' error.
func IsTransient(err error) bool {
	return errors.As(err, &transientType)
}

// NewBadRequest returns a 'bad request' error that wraps the given error in order to indicate
// to the caller that the request was invalid.
func NewBadRequest(err error) error {
	return &badRequest{err: err}
}

// NewBadRequestf returns a 'bad request' error in order to indicate to the caller that the
// request was invalid.
func NewBadRequestf(format string, a ...interface{}) error {
	return &badRequest{err: fmt.Errorf(format, a...)}
}

// IsBadRequest returns true if the given error is a 'bad request' error.
func IsBadRequest(err error) bool {
	return errors.As(err, &badRequestType)
}

// NewUnauthorized returns an 'unauthorized' error. Requests failing signature verification or
// privilege checks are rejected with this kind.
func NewUnauthorized(err error) error {
	return &unauthorized{err: err}
}

// NewUnauthorizedf returns an 'unauthorized' error.
func NewUnauthorizedf(format string, a ...interface{}) error {
	return &unauthorized{err: fmt.Errorf(format, a...)}
}

// IsUnauthorized returns true if the given error is an 'unauthorized' error.
func IsUnauthorized(err error) bool {
	return errors.As(err, &unauthorizedType)
}

// NewPolicyBlocked returns a 'policy blocked' error, indicating that the request was dropped
// by local policy (blocked domain, blocked actor). Such errors are audited but never retried.
func NewPolicyBlocked(err error) error {
	return &policyBlocked{err: err}
}

// NewPolicyBlockedf returns a 'policy blocked' error.
func NewPolicyBlockedf(format string, a ...interface{}) error {
	return &policyBlocked{err: fmt.Errorf(format, a...)}
}

// IsPolicyBlocked returns true if the given error is a 'policy blocked' error.
func IsPolicyBlocked(err error) bool {
	return errors.As(err, &policyBlockedType)
}

type transient struct {
	err error
}

func (e *transient) Error() string {
	return e.err.Error()
}

func (e *transient) Unwrap() error {
	return e.err
}

type badRequest struct {
	err error
}

func (e *badRequest) Error() string {
	return e.err.Error()
}

func (e *badRequest) Unwrap() error {
	return e.err
}

type unauthorized struct {
	err error
}

func (e *unauthorized) Error() string {
	return e.err.Error()
}

func (e *unauthorized) Unwrap() error {
	return e.err
}

type policyBlocked struct {
	err error
}

func (e *policyBlocked) Error() string {
	return e.err.Error()
}

func (e *policyBlocked) Unwrap() error {
	return e.err
}
