/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	"github.com/agorafed/agora/pkg/activitypub/client/transport"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
	errs "github.com/agorafed/agora/pkg/errors"
)

var logger = log.New("activitypub_client")

const (
	defaultCacheSize       = 1000
	defaultCacheExpiration = 10 * time.Minute
)

// ErrNotFound is returned when the object is not found or the iterator has reached the end.
var ErrNotFound = fmt.Errorf("not found")

// ErrInvalidActor is returned when a retrieved actor document fails validation.
var ErrInvalidActor = fmt.Errorf("invalid actor document")

// ReferenceIterator iterates over the references in a result set.
type ReferenceIterator interface {
	Next() (*url.URL, error)
	TotalItems() int
}

type httpTransport interface {
	Get(ctx context.Context, req *transport.Request) (*http.Response, error)
}

type handleResolver interface {
	// ResolveActorIRI resolves a 'name@domain' handle to an actor IRI.
	ResolveActorIRI(ctx context.Context, handle string) (*url.URL, error)
}

// Config contains configuration parameters for the client.
type Config struct {
	CacheSize       int
	CacheExpiration time.Duration
	BlockedDomains  []string
}

// Client retrieves and caches ActivityPub actors, public keys, and reference
// collections from remote sources. Actor documents are validated before they
// are admitted to the cache. A cached entry that fails a refresh is kept and
// served stale, which is preferred over thrashing on a flaky peer.
type Client struct {
	httpTransport

	blockedDomains map[string]struct{}
	handleResolver handleResolver

	actorCache     gcache.Cache
	publicKeyCache gcache.Cache

	staleMu         sync.RWMutex
	staleActors     map[string]*vocab.ActorType
	stalePublicKeys map[string]*vocab.PublicKeyType
}

// New returns a new ActivityPub client.
func New(cfg Config, t httpTransport, handles handleResolver) *Client {
	c := &Client{
		httpTransport:   t,
		handleResolver:  handles,
		blockedDomains:  make(map[string]struct{}),
		staleActors:     make(map[string]*vocab.ActorType),
		stalePublicKeys: make(map[string]*vocab.PublicKeyType),
	}

	for _, domain := range cfg.BlockedDomains {
		c.blockedDomains[strings.ToLower(domain)] = struct{}{}
	}

	cacheSize := cfg.CacheSize

	if cacheSize == 0 {
		cacheSize = defaultCacheSize
	}

	cacheExpiration := cfg.CacheExpiration

	if cacheExpiration == 0 {
		cacheExpiration = defaultCacheExpiration
	}

	logger.Debug("Creating actor cache", logfields.WithSize(cacheSize),
		logfields.WithExpiration(cacheExpiration))

	c.actorCache = gcache.New(cacheSize).ARC().
		Expiration(cacheExpiration).
		LoaderFunc(func(i interface{}) (interface{}, error) {
			return c.getActor(i.(*url.URL))
		}).Build()

	c.publicKeyCache = gcache.New(cacheSize).ARC().
		Expiration(cacheExpiration).
		LoaderFunc(func(i interface{}) (interface{}, error) {
			return c.getPublicKey(i.(*url.URL))
		}).Build()

	return c
}

// ResolveActor resolves an actor from either an IRI string or a 'name@domain'
// handle.
func (c *Client) ResolveActor(ctx context.Context, ref string) (*vocab.ActorType, error) {
	if strings.Contains(ref, "@") && !strings.HasPrefix(ref, "http") {
		if c.handleResolver == nil {
			return nil, fmt.Errorf("no handle resolver configured for [%s]", ref)
		}

		iri, err := c.handleResolver.ResolveActorIRI(ctx, strings.TrimPrefix(ref, "@"))
		if err != nil {
			return nil, fmt.Errorf("resolve handle [%s]: %w", ref, err)
		}

		return c.GetActor(iri)
	}

	iri, err := url.Parse(ref)
	if err != nil || !iri.IsAbs() {
		return nil, fmt.Errorf("%w: invalid actor reference [%s]", ErrInvalidActor, ref)
	}

	return c.GetActor(iri)
}

// GetActor retrieves the actor at the given IRI. A stale cached copy is
// returned if a refresh fails.
func (c *Client) GetActor(actorIRI *url.URL) (*vocab.ActorType, error) {
	result, err := c.actorCache.Get(actorIRI)
	if err != nil {
		c.staleMu.RLock()
		stale, ok := c.staleActors[actorIRI.String()]
		c.staleMu.RUnlock()

		if ok {
			logger.Debug("Returning stale actor after refresh failure",
				logfields.WithActorIRI(actorIRI), log.WithError(err))

			return stale, nil
		}

		return nil, err
	}

	return result.(*vocab.ActorType), nil
}

// Refresh re-fetches the actor at the given IRI, bypassing the cache.
func (c *Client) Refresh(actorIRI *url.URL) (*vocab.ActorType, error) {
	actor, err := c.getActor(actorIRI)
	if err != nil {
		return nil, err
	}

	if err := c.actorCache.Set(actorIRI, actor); err != nil {
		logger.Warn("Error caching refreshed actor", logfields.WithActorIRI(actorIRI), log.WithError(err))
	}

	return actor, nil
}

// GetObject retrieves the object at the given IRI. Objects are not cached
// since a fetch is only issued when an activity references content that is
// not yet known locally.
func (c *Client) GetObject(objIRI *url.URL) (*vocab.ObjectType, error) {
	if err := c.checkDomain(objIRI); err != nil {
		return nil, err
	}

	respBytes, err := c.get(objIRI)
	if err != nil {
		return nil, fmt.Errorf("error reading response from %s: %w", objIRI, err)
	}

	obj := &vocab.ObjectType{}

	err = json.Unmarshal(respBytes, obj)
	if err != nil {
		return nil, fmt.Errorf("invalid object in response from %s: %w", objIRI, err)
	}

	if obj.ID().URL() == nil {
		return nil, fmt.Errorf("object in response from %s has no ID", objIRI)
	}

	if obj.ID().URL().Host != objIRI.Host {
		return nil, fmt.Errorf("object ID [%s] is not on the requested host [%s]", obj.ID(), objIRI.Host)
	}

	return obj, nil
}

func (c *Client) getActor(actorIRI *url.URL) (*vocab.ActorType, error) {
	if err := c.checkDomain(actorIRI); err != nil {
		return nil, err
	}

	respBytes, err := c.get(actorIRI)
	if err != nil {
		return nil, fmt.Errorf("error reading response from %s: %w", actorIRI, err)
	}

	actor := &vocab.ActorType{}

	err = json.Unmarshal(respBytes, actor)
	if err != nil {
		return nil, fmt.Errorf("invalid actor in response from %s: %w", actorIRI, err)
	}

	if err := c.validateActor(actorIRI, actor); err != nil {
		return nil, err
	}

	c.staleMu.Lock()
	c.staleActors[actorIRI.String()] = actor
	c.staleMu.Unlock()

	return actor, nil
}

// validateActor applies the admission checks for a remote actor document.
func (c *Client) validateActor(actorIRI *url.URL, actor *vocab.ActorType) error {
	id := actor.ID().URL()
	if id == nil {
		return fmt.Errorf("%w: missing ID", ErrInvalidActor)
	}

	if id.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme [%s]", ErrInvalidActor, id.Scheme)
	}

	if id.String() != actorIRI.String() {
		return fmt.Errorf("%w: document ID [%s] does not match requested IRI [%s]",
			ErrInvalidActor, id, actorIRI)
	}

	if !actor.Type().IsAny(vocab.ActorTypes()...) {
		return fmt.Errorf("%w: unsupported actor type %s", ErrInvalidActor, actor.Type())
	}

	if actor.PublicKey() == nil || actor.PublicKey().PublicKeyPem == "" {
		return fmt.Errorf("%w: missing public key", ErrInvalidActor)
	}

	inbox := actor.Inbox()
	if inbox == nil {
		return fmt.Errorf("%w: missing inbox", ErrInvalidActor)
	}

	// The inbox must live on the actor's own host unless the actor advertises
	// a shared inbox on that host.
	if inbox.Host != id.Host {
		sharedInbox := actor.SharedInbox()
		if sharedInbox == nil || sharedInbox.Host != inbox.Host {
			return fmt.Errorf("%w: inbox host [%s] not authorized for actor [%s]",
				ErrInvalidActor, inbox.Host, id)
		}
	}

	return nil
}

func (c *Client) checkDomain(iri *url.URL) error {
	if _, blocked := c.blockedDomains[strings.ToLower(iri.Hostname())]; blocked {
		return errs.NewPolicyBlockedf("domain [%s] is blocked", iri.Hostname())
	}

	return nil
}

// GetPublicKey retrieves the public key at the given IRI. A stale cached copy
// is returned if a refresh fails.
func (c *Client) GetPublicKey(keyIRI *url.URL) (*vocab.PublicKeyType, error) {
	result, err := c.publicKeyCache.Get(keyIRI)
	if err != nil {
		c.staleMu.RLock()
		stale, ok := c.stalePublicKeys[keyIRI.String()]
		c.staleMu.RUnlock()

		if ok {
			logger.Debug("Returning stale public key after refresh failure",
				logfields.WithKeyID(keyIRI.String()), log.WithError(err))

			return stale, nil
		}

		return nil, err
	}

	return result.(*vocab.PublicKeyType), nil
}

func (c *Client) getPublicKey(keyIRI *url.URL) (*vocab.PublicKeyType, error) {
	if err := c.checkDomain(keyIRI); err != nil {
		return nil, err
	}

	respBytes, err := c.get(keyIRI)
	if err != nil {
		return nil, fmt.Errorf("error reading response from %s: %w", keyIRI, err)
	}

	// The key IRI usually resolves to the owning actor document with the key
	// embedded, but some servers serve the key object directly.
	actor := &vocab.ActorType{}

	if err := json.Unmarshal(respBytes, actor); err == nil && actor.PublicKey() != nil &&
		actor.PublicKey().PublicKeyPem != "" {
		pubKey := actor.PublicKey()

		c.staleMu.Lock()
		c.stalePublicKeys[keyIRI.String()] = pubKey
		c.staleMu.Unlock()

		return pubKey, nil
	}

	pubKey := &vocab.PublicKeyType{}

	err = json.Unmarshal(respBytes, pubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid public key in response from %s: %w", keyIRI, err)
	}

	if pubKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("%w: missing public key PEM from %s", ErrInvalidActor, keyIRI)
	}

	c.staleMu.Lock()
	c.stalePublicKeys[keyIRI.String()] = pubKey
	c.staleMu.Unlock()

	return pubKey, nil
}

// GetReferences returns an iterator that reads all references at the given IRI. The IRI either
// resolves to an ActivityPub actor, collection or ordered collection.
func (c *Client) GetReferences(iri *url.URL) (ReferenceIterator, error) {
	respBytes, err := c.get(iri)
	if err != nil {
		return nil, fmt.Errorf("error reading response from %s: %w", iri, err)
	}

	items, firstPage, totalItems, err := unmarshalCollection(respBytes)
	if err != nil {
		return nil, fmt.Errorf("error unmarshalling response from %s: %w", iri, err)
	}

	return newReferenceIterator(items, firstPage, totalItems, c.get), nil
}

func (c *Client) get(iri *url.URL) ([]byte, error) {
	resp, err := c.Get(context.Background(), transport.NewRequest(iri,
		transport.WithHeader(transport.AcceptHeader, transport.ActivityStreamsContentType)))
	if err != nil {
		return nil, errs.NewTransientf("request to %s failed: %w", iri, err)
	}

	defer func() {
		if e := resp.Body.Close(); e != nil {
			logger.Warn("Error closing response body", logfields.WithRequestURL(iri), log.WithError(e))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusGone:
		return nil, errs.ErrGone
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= http.StatusInternalServerError ||
		resp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.NewTransientf("status code %d from %s", resp.StatusCode, iri)
	default:
		return nil, fmt.Errorf("request to %s returned status code %d", iri, resp.StatusCode)
	}

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.NewTransientf("read response body from %s: %w", iri, err)
	}

	return respBytes, nil
}

type getFunc func(iri *url.URL) ([]byte, error)

type referenceIterator struct {
	totalItems   int
	currentItems []*url.URL
	currentIndex int
	nextPage     *url.URL
	get          getFunc
}

func newReferenceIterator(items []*url.URL, nextPage *url.URL, totalItems int, retrieve getFunc) *referenceIterator {
	return &referenceIterator{
		currentItems: items,
		totalItems:   totalItems,
		nextPage:     nextPage,
		get:          retrieve,
		currentIndex: 0,
	}
}

func (it *referenceIterator) Next() (*url.URL, error) {
	if it.currentIndex >= len(it.currentItems) {
		err := it.getNextPage()
		if err != nil {
			return nil, err
		}
	}

	item := it.currentItems[it.currentIndex]

	it.currentIndex++

	return item, nil
}

func (it *referenceIterator) TotalItems() int {
	return it.totalItems
}

func (it *referenceIterator) getNextPage() error {
	if it.nextPage == nil {
		return ErrNotFound
	}

	respBytes, err := it.get(it.nextPage)
	if err != nil {
		return fmt.Errorf("get references from %s: %w", it.nextPage, err)
	}

	page, err := unmarshalCollectionPage(respBytes)
	if err != nil {
		return err
	}

	var refs []*url.URL

	for _, item := range page.items {
		if item.IRI() != nil {
			refs = append(refs, item.IRI().URL())
		} else {
			logger.Warn("Expecting IRI item for collection page", logfields.WithRequestURL(it.nextPage))
		}
	}

	it.currentItems = refs
	it.currentIndex = 0
	it.nextPage = page.next

	if len(it.currentItems) == 0 {
		return ErrNotFound
	}

	return nil
}

func unmarshalCollection(respBytes []byte) (items []*url.URL, firstPage *url.URL, totalCount int, err error) {
	obj := &vocab.ObjectType{}

	if err := json.Unmarshal(respBytes, &obj); err != nil {
		return nil, nil, 0, err
	}

	switch {
	case obj.Type().IsAny(vocab.ActorTypes()...):
		actor := &vocab.ActorType{}
		if err := json.Unmarshal(respBytes, actor); err != nil {
			return nil, nil, 0, fmt.Errorf("invalid actor in response: %w", err)
		}

		return []*url.URL{actor.ID().URL()}, nil, 1, nil

	case obj.Type().Is(vocab.TypeCollection):
		coll := &vocab.CollectionType{}
		if err := json.Unmarshal(respBytes, coll); err != nil {
			return nil, nil, 0, fmt.Errorf("invalid collection in response: %w", err)
		}

		return iris(coll.Items()), coll.First(), coll.TotalItems(), nil

	case obj.Type().Is(vocab.TypeOrderedCollection):
		coll := &vocab.OrderedCollectionType{}
		if err := json.Unmarshal(respBytes, coll); err != nil {
			return nil, nil, 0, fmt.Errorf("invalid ordered collection in response: %w", err)
		}

		return iris(coll.Items()), coll.First(), coll.TotalItems(), nil

	default:
		return nil, nil, 0,
			fmt.Errorf("expecting actor, Collection or OrderedCollection in response payload")
	}
}

type page struct {
	items      []*vocab.ObjectProperty
	next       *url.URL
	totalItems int
}

func unmarshalCollectionPage(respBytes []byte) (*page, error) {
	obj := &vocab.ObjectType{}

	if err := json.Unmarshal(respBytes, &obj); err != nil {
		return nil, err
	}

	if !obj.Type().Is(vocab.TypeOrderedCollectionPage) {
		return nil, fmt.Errorf("expecting OrderedCollectionPage in response payload")
	}

	coll := &vocab.OrderedCollectionPageType{}

	if err := json.Unmarshal(respBytes, coll); err != nil {
		return nil, fmt.Errorf("invalid ordered collection page in response: %w", err)
	}

	return &page{
		items:      coll.Items(),
		next:       coll.Next(),
		totalItems: coll.TotalItems(),
	}, nil
}

func iris(items []*vocab.ObjectProperty) []*url.URL {
	var refs []*url.URL

	for _, item := range items {
		if item.IRI() != nil {
			refs = append(refs, item.IRI().URL())
		}
	}

	return refs
}
