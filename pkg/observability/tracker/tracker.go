/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package tracker records per-request processing checkpoints for post-mortem
// debugging. Tracking is disabled by default and is only active when the
// debug flag is set.
package tracker

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
)

var logger = log.New("tracker")

// Checkpoint names emitted by the inbox pipeline.
const (
	CheckpointInitialReceipt         = "initial_receipt"
	CheckpointJSONParse              = "json_parse"
	CheckpointRequestInfoExtracted   = "request_info_extracted"
	CheckpointDuplicateCheck         = "duplicate_check"
	CheckpointActorLookup            = "actor_lookup"
	CheckpointSignatureVerify        = "signature_verify"
	CheckpointFieldValidation        = "field_validation"
	CheckpointMainProcessingDispatch = "main_processing_dispatch"
)

// Status is the outcome of a checkpoint.
type Status string

const (
	// StatusOK indicates that the stage completed successfully.
	StatusOK Status = "ok"
	// StatusError indicates that the stage failed.
	StatusError Status = "error"
	// StatusWarning indicates that the stage completed with a warning.
	StatusWarning Status = "warning"
	// StatusIgnored indicates that the request was ignored at this stage.
	StatusIgnored Status = "ignored"
)

const (
	defaultCompletedRetention  = 24 * time.Hour
	defaultIncompleteRetention = 7 * 24 * time.Hour
)

// Record is a single checkpoint record.
type Record struct {
	RequestID  string    `json:"requestId"`
	Timestamp  time.Time `json:"timestamp"`
	Checkpoint string    `json:"checkpoint"`
	Status     Status    `json:"status"`
	ActivityID string    `json:"activityId,omitempty"`
	Details    string    `json:"details,omitempty"`
}

// Trace is the set of records for a single request.
type Trace struct {
	RequestID string        `json:"requestId"`
	Started   time.Time     `json:"started"`
	Completed bool          `json:"completed"`
	Ended     time.Time     `json:"ended,omitempty"`
	Records   []*Record     `json:"records"`
	Body      []byte        `json:"body,omitempty"`
	Headers   http.Header   `json:"headers,omitempty"`
}

// Config holds the tracker parameters.
type Config struct {
	// Enabled turns checkpoint tracking on.
	Enabled bool
	// CaptureBody also stores the raw request body and filtered headers.
	CaptureBody bool
	// CompletedRetention is how long the trace of a successfully completed
	// request is kept.
	CompletedRetention time.Duration
	// IncompleteRetention is how long the trace of an incomplete or failed
	// request is kept.
	IncompleteRetention time.Duration
}

// Tracker records checkpoint traces in memory.
type Tracker struct {
	Config

	mutex  sync.RWMutex
	traces map[string]*Trace
	now    func() time.Time
}

// New returns a new Tracker.
func New(cfg Config) *Tracker {
	if cfg.CompletedRetention == 0 {
		cfg.CompletedRetention = defaultCompletedRetention
	}

	if cfg.IncompleteRetention == 0 {
		cfg.IncompleteRetention = defaultIncompleteRetention
	}

	return &Tracker{
		Config: cfg,
		traces: make(map[string]*Trace),
		now:    time.Now,
	}
}

// StartRequest assigns a request ID and begins a new trace.
// A request ID is returned even when tracking is disabled.
func (t *Tracker) StartRequest() string {
	requestID := uuid.NewString()

	if !t.Enabled {
		return requestID
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.traces[requestID] = &Trace{
		RequestID: requestID,
		Started:   t.now(),
	}

	return requestID
}

// CaptureRequest stores the raw body and headers for the given request.
// Cookie and authorization headers are never stored.
func (t *Tracker) CaptureRequest(requestID string, body []byte, headers http.Header) {
	if !t.Enabled || !t.CaptureBody {
		return
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	trace, ok := t.traces[requestID]
	if !ok {
		return
	}

	trace.Body = body
	trace.Headers = filterHeaders(headers)
}

// Option sets an optional field on a checkpoint record.
type Option func(*Record)

// WithActivityID sets the activity ID on the record.
func WithActivityID(activityID string) Option {
	return func(r *Record) {
		r.ActivityID = activityID
	}
}

// WithDetails sets the details on the record.
func WithDetails(details string) Option {
	return func(r *Record) {
		r.Details = details
	}
}

// Checkpoint appends a checkpoint record to the trace for the given request.
func (t *Tracker) Checkpoint(requestID, checkpoint string, status Status, opts ...Option) {
	if !t.Enabled {
		return
	}

	record := &Record{
		RequestID:  requestID,
		Timestamp:  t.now(),
		Checkpoint: checkpoint,
		Status:     status,
	}

	for _, opt := range opts {
		opt(record)
	}

	logger.Debug("Checkpoint", logfields.WithCheckpoint(checkpoint),
		logfields.WithRequestID(requestID))

	t.mutex.Lock()
	defer t.mutex.Unlock()

	trace, ok := t.traces[requestID]
	if !ok {
		return
	}

	trace.Records = append(trace.Records, record)
}

// Complete marks the trace for the given request as successfully completed.
func (t *Tracker) Complete(requestID string) {
	if !t.Enabled {
		return
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	trace, ok := t.traces[requestID]
	if !ok {
		return
	}

	trace.Completed = true
	trace.Ended = t.now()
}

// Timeline returns the checkpoint records for the given request in order.
func (t *Tracker) Timeline(requestID string) []*Record {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	trace, ok := t.traces[requestID]
	if !ok {
		return nil
	}

	return append([]*Record{}, trace.Records...)
}

// Incomplete returns the traces of all requests that have not completed.
func (t *Tracker) Incomplete() []*Trace {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	var traces []*Trace

	for _, trace := range t.traces {
		if !trace.Completed {
			traces = append(traces, trace)
		}
	}

	return traces
}

// ByActivityID returns the records that reference the given activity ID.
func (t *Tracker) ByActivityID(activityID string) []*Record {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	var records []*Record

	for _, trace := range t.traces {
		for _, record := range trace.Records {
			if record.ActivityID == activityID {
				records = append(records, record)
			}
		}
	}

	return records
}

// FailedSince returns the traces that recorded an error within the given duration.
func (t *Tracker) FailedSince(d time.Duration) []*Trace {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	cutoff := t.now().Add(-d)

	var traces []*Trace

	for _, trace := range t.traces {
		for _, record := range trace.Records {
			if record.Status == StatusError && record.Timestamp.After(cutoff) {
				traces = append(traces, trace)

				break
			}
		}
	}

	return traces
}

// Purge removes traces past their retention period and returns the number removed.
func (t *Tracker) Purge() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	now := t.now()

	var removed int

	for requestID, trace := range t.traces {
		var expired bool

		if trace.Completed {
			expired = now.Sub(trace.Ended) >= t.CompletedRetention
		} else {
			expired = now.Sub(trace.Started) >= t.IncompleteRetention
		}

		if expired {
			delete(t.traces, requestID)

			removed++
		}
	}

	if removed > 0 {
		logger.Debug("Purged expired traces", logfields.WithTotal(removed))
	}

	return removed
}

func filterHeaders(headers http.Header) http.Header {
	filtered := make(http.Header)

	for name, values := range headers {
		if http.CanonicalHeaderKey(name) == "Cookie" ||
			http.CanonicalHeaderKey(name) == "Authorization" {
			continue
		}

		filtered[name] = values
	}

	return filtered
}
