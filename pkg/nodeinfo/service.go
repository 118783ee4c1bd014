/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package nodeinfo serves the NodeInfo 2.0 and 2.1 documents along with the
// /.well-known/nodeinfo pointer. Usage statistics are refreshed periodically
// from the outbox activity store.
package nodeinfo

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	store "github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
	"github.com/agorafed/agora/pkg/lifecycle"
)

var logger = log.New("nodeinfo")

const defaultRefreshInterval = 15 * time.Second

type stats struct {
	Users    int
	Posts    int
	Comments int
}

func (s *stats) String() string {
	return fmt.Sprintf("Users: %d, Posts: %d, Comments: %d", s.Users, s.Posts, s.Comments)
}

// Service periodically scans the outbox store and produces NodeInfo data.
type Service struct {
	*lifecycle.Lifecycle

	serviceName   string
	activityStore store.Store
	interval      time.Duration
	done          chan struct{}
	mutex         sync.RWMutex
	stats         *stats
}

// NewService returns a new NodeInfo service. A zero refresh interval applies
// the default.
func NewService(serviceName string, activityStore store.Store, refreshInterval time.Duration) *Service {
	if refreshInterval == 0 {
		refreshInterval = defaultRefreshInterval
	}

	s := &Service{
		serviceName:   serviceName,
		activityStore: activityStore,
		interval:      refreshInterval,
		done:          make(chan struct{}),
		stats:         &stats{},
	}

	s.Lifecycle = lifecycle.New("nodeinfo",
		lifecycle.WithStart(s.start),
		lifecycle.WithStop(s.stop))

	return s
}

// GetNodeInfo returns a NodeInfo document compatible with the given version.
func (s *Service) GetNodeInfo(version Version) *NodeInfo {
	var repository string

	if version == V2_1 {
		repository = agoraRepository
	}

	s.mutex.RLock()

	stats := s.stats

	s.mutex.RUnlock()

	return &NodeInfo{
		Version:   version,
		Protocols: []string{activityPubProtocol},
		Software: Software{
			Name:       "Agora",
			Version:    AgoraVersion,
			Repository: repository,
		},
		Services: Services{
			Inbound:  []string{},
			Outbound: []string{},
		},
		OpenRegistrations: false,
		Usage: Usage{
			Users: Users{
				Total: stats.Users,
			},
			LocalPosts:    stats.Posts,
			LocalComments: stats.Comments,
		},
	}
}

func (s *Service) start() {
	go s.refresh()

	logger.Info("Started NodeInfo service")
}

func (s *Service) stop() {
	close(s.done)

	logger.Info("Stopped NodeInfo service")
}

func (s *Service) refresh() {
	for {
		select {
		case <-time.After(s.interval):
			if err := s.retrieve(); err != nil {
				logger.Warn("Error updating NodeInfo stats", log.WithError(err))
			}
		case <-s.done:
			logger.Debug("Exiting NodeInfo stats retriever")

			return
		}
	}
}

// retrieve walks the outbox store and counts published posts and comments
// along with the distinct local actors that produced them. A Create whose
// object is a reply counts as a comment, any other Create counts as a post.
func (s *Service) retrieve() error {
	it, err := s.activityStore.QueryActivities(store.Outbox,
		store.NewCriteria(store.WithType(vocab.TypeCreate)))
	if err != nil {
		return fmt.Errorf("query outbox: %w", err)
	}

	defer func() {
		if err := it.Close(); err != nil {
			logger.Warn("Error closing iterator", log.WithError(err))
		}
	}()

	newStats := &stats{}

	actors := make(map[string]struct{})

	for {
		activity, err := it.Next()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				break
			}

			return fmt.Errorf("next outbox activity: %w", err)
		}

		if actorIRI := activity.Actor().URL(); actorIRI != nil {
			actors[actorIRI.String()] = struct{}{}
		}

		obj := activity.Object().Object()
		if obj != nil && obj.InReplyTo().URL() != nil {
			newStats.Comments++
		} else {
			newStats.Posts++
		}
	}

	newStats.Users = len(actors)

	logger.Debug("Updated NodeInfo stats", logfields.WithServiceName(s.serviceName),
		logfields.WithMetadata(newStats))

	s.mutex.Lock()

	s.stats = newStats

	s.mutex.Unlock()

	return nil
}
