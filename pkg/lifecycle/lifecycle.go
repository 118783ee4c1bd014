/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package lifecycle

import (
	"errors"
	"sync/atomic"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
)

var logger = log.New("lifecycle")

// ErrNotStarted indicates that an attempt was made to invoke a service that has
// not been started or is still in the process of starting.
var ErrNotStarted = errors.New("service has not started")

// State is the state of the service.
type State = uint32

const (
	// StateNotStarted indicates that the service has not been started.
	StateNotStarted State = 0
	// StateStarting indicates that the service is in the process of starting.
	StateStarting State = 1
	// StateStarted indicates that the service has been started.
	StateStarted State = 2
	// StateStopped indicates that the service has been stopped.
	StateStopped State = 3
)

// Lifecycle implements the lifecycle of a service, i.e. Start and Stop.
type Lifecycle struct {
	name  string
	state uint32
	start func()
	stop  func()
}

// Opt sets a Lifecycle option.
type Opt func(l *Lifecycle)

// WithStart sets the start function which is invoked when Start() is called.
func WithStart(start func()) Opt {
	return func(l *Lifecycle) {
		l.start = start
	}
}

// WithStop sets the stop function which is invoked when Stop() is called.
func WithStop(stop func()) Opt {
	return func(l *Lifecycle) {
		l.stop = stop
	}
}

// New returns a new Lifecycle.
func New(name string, opts ...Opt) *Lifecycle {
	l := &Lifecycle{
		name:  name,
		start: func() {},
		stop:  func() {},
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Start starts the service.
func (l *Lifecycle) Start() {
	if !atomic.CompareAndSwapUint32(&l.state, StateNotStarted, StateStarting) {
		logger.Debug("Service already started", logfields.WithServiceName(l.name))

		return
	}

	l.start()

	atomic.StoreUint32(&l.state, StateStarted)
}

// Stop stops the service.
func (l *Lifecycle) Stop() {
	if !atomic.CompareAndSwapUint32(&l.state, StateStarted, StateStopped) {
		logger.Debug("Service already stopped", logfields.WithServiceName(l.name))

		return
	}

	l.stop()
}

// State returns the state of the service.
func (l *Lifecycle) State() State {
	return atomic.LoadUint32(&l.state)
}
