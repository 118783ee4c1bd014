/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package taskmgr runs registered housekeeping tasks at their own intervals:
// suspense-record expiry, dead-letter trimming, tracker purging and similar
// periodic maintenance.
package taskmgr

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	"github.com/agorafed/agora/pkg/lifecycle"
)

const (
	loggerModule = "task-manager"

	defaultCheckInterval = 10 * time.Second
)

// Manager runs registered tasks periodically. A task that is still running
// when its next interval elapses is skipped for that round.
type Manager struct {
	*lifecycle.Lifecycle

	interval   time.Duration
	instanceID string
	tasks      map[string]*registration
	done       chan struct{}
	logger     *log.Log
	mutex      sync.RWMutex
}

// New returns a new task manager that checks all registered tasks at the
// given interval. A non-positive interval applies the default.
func New(interval time.Duration) *Manager {
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	instanceID := uuid.New().String()

	m := &Manager{
		interval:   interval,
		instanceID: instanceID,
		tasks:      make(map[string]*registration),
		done:       make(chan struct{}),
		logger:     log.New(loggerModule, log.WithFields(logfields.WithServiceName(instanceID))),
	}

	m.Lifecycle = lifecycle.New("task-manager",
		lifecycle.WithStart(m.start),
		lifecycle.WithStop(m.stop))

	return m
}

// InstanceID returns the unique ID of this server instance.
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// RegisterTask registers a task to be run at the given interval. Registering
// a task with an existing ID replaces it.
func (m *Manager) RegisterTask(id string, interval time.Duration, task func()) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.tasks[id] = &registration{
		handle:   task,
		id:       id,
		interval: interval,
	}

	m.logger.Info("Registered task", logfields.WithTaskID(id),
		logfields.WithExpiration(interval))
}

func (m *Manager) getTasks() []*registration {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	tasks := make([]*registration, 0, len(m.tasks))

	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}

	return tasks
}

func (m *Manager) start() {
	go func() {
		m.logger.Info("Started task manager")

		for {
			select {
			case <-time.After(m.interval):
				for _, t := range m.getTasks() {
					m.run(t)
				}
			case <-m.done:
				m.logger.Debug("Stopped task manager")

				return
			}
		}
	}()
}

func (m *Manager) stop() {
	close(m.done)
}

func (m *Manager) run(t *registration) {
	if t.isRunning() {
		m.logger.Debug("Task is still running from a previous round", logfields.WithTaskID(t.id))

		return
	}

	if time.Since(t.lastRun()) < t.interval {
		return
	}

	go func() {
		if !t.run() {
			return
		}

		m.logger.Debug("Finished running task", logfields.WithTaskID(t.id))
	}()
}

type registration struct {
	handle      func()
	running     uint32
	lastRunNano int64
	id          string
	interval    time.Duration
}

func (r *registration) run() bool {
	if !atomic.CompareAndSwapUint32(&r.running, 0, 1) {
		return false
	}

	defer atomic.StoreUint32(&r.running, 0)

	atomic.StoreInt64(&r.lastRunNano, time.Now().UnixNano())

	r.handle()

	return true
}

func (r *registration) isRunning() bool {
	return atomic.LoadUint32(&r.running) == 1
}

func (r *registration) lastRun() time.Time {
	nano := atomic.LoadInt64(&r.lastRunNano)
	if nano == 0 {
		return time.Time{}
	}

	return time.Unix(0, nano)
}
