/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package domainpolicy decides whether activities from a remote domain are
// accepted by this instance. Two modes are supported: open federation with a
// deny list, and allow-list federation where only named domains are accepted.
// The deny list is persisted as Blocked references on the service IRI so that
// it survives restarts; decisions are cached with a short TTL.
package domainpolicy

import (
	stderrors "errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bluele/gcache"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	store "github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/errors"
)

var logger = log.New("domain_policy")

const (
	defaultCacheSize       = 1000
	defaultCacheExpiration = time.Minute
)

// Config holds the configuration parameters for the domain policy manager.
type Config struct {
	ServiceIRI *url.URL

	// AllowedDomains, when non-empty, switches the policy to allow-list
	// federation: only the named domains are accepted.
	AllowedDomains []string

	CacheSize       int
	CacheExpiration time.Duration
}

// Manager makes domain-level federation decisions.
type Manager struct {
	serviceIRI    *url.URL
	allowed       map[string]struct{}
	activityStore store.Store
	cache         gcache.Cache
}

// New returns a new domain policy manager.
func New(cfg Config, activityStore store.Store) *Manager {
	if cfg.CacheSize == 0 {
		cfg.CacheSize = defaultCacheSize
	}

	if cfg.CacheExpiration == 0 {
		cfg.CacheExpiration = defaultCacheExpiration
	}

	var allowed map[string]struct{}

	if len(cfg.AllowedDomains) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedDomains))

		for _, domain := range cfg.AllowedDomains {
			allowed[domain] = struct{}{}
		}
	}

	m := &Manager{
		serviceIRI:    cfg.ServiceIRI,
		allowed:       allowed,
		activityStore: activityStore,
	}

	m.cache = gcache.New(cfg.CacheSize).ARC().
		Expiration(cfg.CacheExpiration).
		LoaderFunc(func(key interface{}) (interface{}, error) {
			return m.load(key.(string))
		}).Build()

	return m
}

// Accepts returns true if activities originating from the given domain are
// accepted by this instance.
func (m *Manager) Accepts(domain string) (bool, error) {
	if m.allowed != nil {
		_, ok := m.allowed[domain]

		return ok, nil
	}

	accepted, err := m.cache.Get(domain)
	if err != nil {
		return false, fmt.Errorf("get domain decision [%s]: %w", domain, err)
	}

	return accepted.(bool), nil
}

// Block adds the given domain to the deny list.
func (m *Manager) Block(domain string) error {
	domainIRI, err := domainIRI(domain)
	if err != nil {
		return err
	}

	if err := m.activityStore.AddReference(store.Blocked, m.serviceIRI, domainIRI); err != nil {
		return errors.NewTransientf("store blocked domain [%s]: %w", domain, err)
	}

	m.cache.Remove(domain)

	logger.Info("Blocked domain", logfields.WithDomain(domain))

	return nil
}

// Unblock removes the given domain from the deny list.
func (m *Manager) Unblock(domain string) error {
	domainIRI, err := domainIRI(domain)
	if err != nil {
		return err
	}

	if err := m.activityStore.DeleteReference(store.Blocked, m.serviceIRI, domainIRI); err != nil {
		return errors.NewTransientf("delete blocked domain [%s]: %w", domain, err)
	}

	m.cache.Remove(domain)

	logger.Info("Unblocked domain", logfields.WithDomain(domain))

	return nil
}

// Blocked returns the domains in the deny list.
func (m *Manager) Blocked() ([]string, error) {
	it, err := m.activityStore.QueryReferences(store.Blocked, m.serviceIRI)
	if err != nil {
		return nil, errors.NewTransientf("query blocked domains: %w", err)
	}

	defer func() {
		if err := it.Close(); err != nil {
			logger.Warn("Error closing iterator", log.WithError(err))
		}
	}()

	var domains []string

	for {
		ref, err := it.Next()
		if err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				break
			}

			return nil, errors.NewTransientf("next blocked domain: %w", err)
		}

		domains = append(domains, ref.Host)
	}

	return domains, nil
}

func (m *Manager) load(domain string) (bool, error) {
	domainIRI, err := domainIRI(domain)
	if err != nil {
		return false, err
	}

	it, err := m.activityStore.QueryReferences(store.Blocked, m.serviceIRI)
	if err != nil {
		return false, errors.NewTransientf("query blocked domains: %w", err)
	}

	defer func() {
		if err := it.Close(); err != nil {
			logger.Warn("Error closing iterator", log.WithError(err))
		}
	}()

	for {
		ref, err := it.Next()
		if err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				break
			}

			return false, errors.NewTransientf("next blocked domain: %w", err)
		}

		if ref.String() == domainIRI.String() {
			return false, nil
		}
	}

	return true, nil
}

func domainIRI(domain string) (*url.URL, error) {
	iri, err := url.Parse("https://" + domain)
	if err != nil {
		return nil, fmt.Errorf("parse domain [%s]: %w", domain, err)
	}

	return iri, nil
}
