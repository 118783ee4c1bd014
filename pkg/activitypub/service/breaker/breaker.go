/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package breaker gates outbound delivery per peer instance. Each peer
// moves through closed, open, half-open and dead states based on recent
// delivery results.
package breaker

import (
	"sync"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
)

var logger = log.New("breaker")

// State is the health state of a peer.
type State string

const (
	// StateClosed indicates that the peer is healthy and deliveries are admitted.
	StateClosed State = "closed"
	// StateOpen indicates that the peer is unhealthy and deliveries are blocked
	// until the recovery timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen indicates that a limited number of probe deliveries are admitted.
	StateHalfOpen State = "half-open"
	// StateDead indicates that the peer has been unreachable for an extended
	// period. Only an occasional background probe is admitted.
	StateDead State = "dead"
)

const (
	defaultFailureThreshold = 5
	defaultRecoveryTimeout  = 5 * time.Minute
	defaultHalfOpenProbes   = 3
	defaultSuccessThreshold = 3
	defaultDeadThreshold    = 24 * time.Hour
	defaultDeadFailureCount = 10
	defaultDeadProbePeriod  = 24 * time.Hour
	responseTimeSamples     = 100
)

// Config holds the breaker parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker from closed to open.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before admitting probes.
	RecoveryTimeout time.Duration
	// HalfOpenProbes is the maximum number of concurrent probes admitted in half-open.
	HalfOpenProbes int
	// SuccessThreshold is the number of probe successes that closes the breaker.
	SuccessThreshold int
	// DeadThreshold is how long a peer may go without a successful contact
	// before being declared dead.
	DeadThreshold time.Duration
	// DeadFailureCount is the minimum number of failures required to declare
	// a peer dead.
	DeadFailureCount int
	// DeadProbePeriod is how often a probe is admitted to a dead peer.
	DeadProbePeriod time.Duration
}

// Status is a snapshot of a peer's health.
type Status struct {
	Domain              string        `json:"domain"`
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	TotalFailures       int           `json:"totalFailures"`
	LastSuccess         time.Time     `json:"lastSuccess,omitempty"`
	LastFailure         time.Time     `json:"lastFailure,omitempty"`
	SuccessRate         float64       `json:"successRate"`
	AvgResponseTime     time.Duration `json:"avgResponseTime"`
}

type peerState struct {
	state               State
	consecutiveFailures int
	totalFailures       int
	openedAt            time.Time
	lastSuccess         time.Time
	lastFailure         time.Time
	lastDeadProbe       time.Time
	probesInFlight      int
	halfOpenSuccesses   int
	successes           int
	attempts            int
	responseTimes       []time.Duration
}

// Breaker tracks per-peer delivery health and admits or blocks sends.
type Breaker struct {
	Config

	mutex sync.RWMutex
	peers map[string]*peerState
	now   func() time.Time
}

// New returns a new Breaker.
func New(cfg Config) *Breaker {
	b := &Breaker{
		Config: cfg,
		peers:  make(map[string]*peerState),
		now:    time.Now,
	}

	b.initConfig()

	return b
}

func (b *Breaker) initConfig() {
	if b.FailureThreshold == 0 {
		b.FailureThreshold = defaultFailureThreshold
	}

	if b.RecoveryTimeout == 0 {
		b.RecoveryTimeout = defaultRecoveryTimeout
	}

	if b.HalfOpenProbes == 0 {
		b.HalfOpenProbes = defaultHalfOpenProbes
	}

	if b.SuccessThreshold == 0 {
		b.SuccessThreshold = defaultSuccessThreshold
	}

	if b.DeadThreshold == 0 {
		b.DeadThreshold = defaultDeadThreshold
	}

	if b.DeadFailureCount == 0 {
		b.DeadFailureCount = defaultDeadFailureCount
	}

	if b.DeadProbePeriod == 0 {
		b.DeadProbePeriod = defaultDeadProbePeriod
	}
}

// MayDeliver indicates whether a delivery to the given domain is currently
// admitted. If blocked, the returned duration is the suggested retry delay.
func (b *Breaker) MayDeliver(domain string) (bool, time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	p := b.peer(domain)

	now := b.now()

	switch p.state {
	case StateClosed:
		return true, 0

	case StateOpen:
		if now.Sub(p.openedAt) < b.RecoveryTimeout {
			return false, b.RecoveryTimeout - now.Sub(p.openedAt)
		}

		logger.Info("Breaker transitioning to half-open", logfields.WithAddress(domain))

		p.state = StateHalfOpen
		p.probesInFlight = 0
		p.halfOpenSuccesses = 0

		fallthrough

	case StateHalfOpen:
		if p.probesInFlight >= b.HalfOpenProbes {
			return false, b.RecoveryTimeout
		}

		p.probesInFlight++

		return true, 0

	case StateDead:
		if now.Sub(p.lastDeadProbe) >= b.DeadProbePeriod {
			p.lastDeadProbe = now

			return true, 0
		}

		return false, b.DeadProbePeriod - now.Sub(p.lastDeadProbe)

	default:
		return false, b.RecoveryTimeout
	}
}

// RecordSuccess records a successful delivery along with the observed
// response time.
func (b *Breaker) RecordSuccess(domain string, responseTime time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	p := b.peer(domain)

	p.lastSuccess = b.now()
	p.consecutiveFailures = 0
	p.totalFailures = 0
	p.attempts++
	p.successes++

	p.responseTimes = append(p.responseTimes, responseTime)
	if len(p.responseTimes) > responseTimeSamples {
		p.responseTimes = p.responseTimes[1:]
	}

	switch p.state {
	case StateHalfOpen:
		p.halfOpenSuccesses++

		if p.halfOpenSuccesses >= b.SuccessThreshold {
			logger.Info("Breaker closed", logfields.WithAddress(domain))

			p.state = StateClosed
			p.probesInFlight = 0
			p.halfOpenSuccesses = 0
		}

	case StateOpen, StateDead:
		logger.Info("Breaker closed after successful contact", logfields.WithAddress(domain),
			logfields.WithBreakerState(string(p.state)))

		p.state = StateClosed
		p.probesInFlight = 0
		p.halfOpenSuccesses = 0

	case StateClosed:
	}
}

// RecordFailure records a failed delivery.
func (b *Breaker) RecordFailure(domain string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	p := b.peer(domain)

	now := b.now()

	p.lastFailure = now
	p.consecutiveFailures++
	p.totalFailures++
	p.attempts++

	switch p.state {
	case StateClosed:
		if p.consecutiveFailures >= b.FailureThreshold {
			logger.Warn("Breaker opened", logfields.WithAddress(domain),
				logfields.WithAttempts(p.consecutiveFailures))

			p.state = StateOpen
			p.openedAt = now
		}

	case StateHalfOpen:
		logger.Warn("Probe failed, breaker re-opened", logfields.WithAddress(domain))

		p.state = StateOpen
		p.openedAt = now
		p.probesInFlight = 0
		p.halfOpenSuccesses = 0

	case StateOpen, StateDead:
	}

	if p.state == StateOpen && b.isDead(p, now) {
		logger.Warn("Peer declared dead", logfields.WithAddress(domain),
			logfields.WithAttempts(p.totalFailures))

		p.state = StateDead
		p.lastDeadProbe = now
	}
}

func (b *Breaker) isDead(p *peerState, now time.Time) bool {
	if p.totalFailures <= b.DeadFailureCount {
		return false
	}

	if !p.lastSuccess.IsZero() {
		return now.Sub(p.lastSuccess) >= b.DeadThreshold
	}

	return now.Sub(p.openedAt) >= b.DeadThreshold
}

// Reset restores the given domain to the closed state and clears its counters.
func (b *Breaker) Reset(domain string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	logger.Info("Breaker reset", logfields.WithAddress(domain))

	delete(b.peers, domain)
}

// Status returns a snapshot of the given domain's health.
func (b *Breaker) Status(domain string) Status {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	p, ok := b.peers[domain]
	if !ok {
		return Status{Domain: domain, State: StateClosed}
	}

	return Status{
		Domain:              domain,
		State:               p.state,
		ConsecutiveFailures: p.consecutiveFailures,
		TotalFailures:       p.totalFailures,
		LastSuccess:         p.lastSuccess,
		LastFailure:         p.lastFailure,
		SuccessRate:         successRate(p),
		AvgResponseTime:     avgResponseTime(p),
	}
}

// Statuses returns a snapshot of all tracked domains.
func (b *Breaker) Statuses() []Status {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	statuses := make([]Status, 0, len(b.peers))

	for domain := range b.peers {
		p := b.peers[domain]

		statuses = append(statuses, Status{
			Domain:              domain,
			State:               p.state,
			ConsecutiveFailures: p.consecutiveFailures,
			TotalFailures:       p.totalFailures,
			LastSuccess:         p.lastSuccess,
			LastFailure:         p.lastFailure,
			SuccessRate:         successRate(p),
			AvgResponseTime:     avgResponseTime(p),
		})
	}

	return statuses
}

func (b *Breaker) peer(domain string) *peerState {
	p, ok := b.peers[domain]
	if !ok {
		p = &peerState{state: StateClosed}
		b.peers[domain] = p
	}

	return p
}

func successRate(p *peerState) float64 {
	if p.attempts == 0 {
		return 0
	}

	return float64(p.successes) / float64(p.attempts)
}

func avgResponseTime(p *peerState) time.Duration {
	if len(p.responseTimes) == 0 {
		return 0
	}

	var total time.Duration

	for _, rt := range p.responseTimes {
		total += rt
	}

	return total / time.Duration(len(p.responseTimes))
}
