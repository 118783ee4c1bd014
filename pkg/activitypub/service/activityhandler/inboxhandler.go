/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package activityhandler

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	service "github.com/agorafed/agora/pkg/activitypub/service/spi"
	store "github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
	"github.com/agorafed/agora/pkg/errors"
	"github.com/agorafed/agora/pkg/lifecycle"
)

// errSuspended indicates that the activity was parked in the suspense buffer
// pending the arrival of its prerequisite. It is not an error condition.
var errSuspended = stderrors.New("activity suspended")

type suspenseStore interface {
	store.Store
	store.SuspenseStore
}

// Inbox handles activities posted to the inbox.
type Inbox struct {
	*handler
	*service.Handlers

	store  suspenseStore
	outbox service.Outbox
	client activityPubClient
}

// NewInbox returns a new inbox activity handler.
func NewInbox(cfg *Config, s suspenseStore, outbox service.Outbox,
	activityPubClient activityPubClient, opts ...service.HandlerOpt) *Inbox {
	options := defaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	h := &Inbox{
		Handlers: options,
		store:    s,
		outbox:   outbox,
		client:   activityPubClient,
	}

	h.handler = newHandler(cfg.ServiceName+"-inbox-handler", cfg)

	h.register()

	return h
}

func (h *Inbox) register() {
	for _, contentType := range vocab.ContentTypes() {
		h.registry.Register(vocab.TypeCreate, contentType, h.handleCreate)
	}

	h.registry.Register(vocab.TypeUpdate, AnyType, h.handleUpdate)
	h.registry.Register(vocab.TypeDelete, AnyType, h.handleDelete)
	h.registry.Register(vocab.TypeFollow, AnyType, h.handleFollow)
	h.registry.Register(vocab.TypeAccept, AnyType, h.handleAccept)
	h.registry.Register(vocab.TypeReject, AnyType, h.handleReject)
	h.registry.Register(vocab.TypeAnnounce, AnyType, h.handleAnnounce)
	h.registry.Register(vocab.TypeLike, AnyType, h.handleLike)
	h.registry.Register(vocab.TypeDislike, AnyType, h.handleDislike)
	h.registry.Register(vocab.TypeUndo, AnyType, h.handleUndo)
	h.registry.Register(vocab.TypeFlag, AnyType, h.handleFlag)
	h.registry.Register(vocab.TypeAdd, AnyType, h.handleAdd)
	h.registry.Register(vocab.TypeRemove, AnyType, h.handleRemove)
	h.registry.Register(vocab.TypeBlock, AnyType, h.handleBlock)
}

// HandleActivity dispatches the given activity to its verb handler.
// Handling is idempotent on the activity ID.
func (h *Inbox) HandleActivity(activity *vocab.ActivityType) error {
	if h.State() != lifecycle.StateStarted {
		return errors.NewTransient(lifecycle.ErrNotStarted)
	}

	if activity.ID() == nil {
		return errors.NewBadRequestf("no ID specified in activity")
	}

	if _, err := h.store.GetActivity(store.Inbox, activity.ID().String()); err == nil {
		h.logger.Debug("Ignoring duplicate activity", logfields.WithActivityID(activity.ID()))

		return nil
	} else if !stderrors.Is(err, store.ErrNotFound) {
		return errors.NewTransient(fmt.Errorf("query activity [%s]: %w", activity.ID(), err))
	}

	handlerFunc, err := h.registry.Resolve(activity)
	if err != nil {
		return err
	}

	err = handlerFunc(activity)
	if err != nil {
		if stderrors.Is(err, errSuspended) {
			return nil
		}

		return err
	}

	if err := h.store.AddActivity(store.Inbox, activity); err != nil {
		return errors.NewTransient(fmt.Errorf("store activity [%s]: %w", activity.ID(), err))
	}

	h.notify(activity)

	h.replaySuspended(activity)

	return nil
}

// suspend parks the activity, keyed by the IRI of its missing prerequisite.
func (h *Inbox) suspend(prerequisiteIRI fmt.Stringer, activity *vocab.ActivityType) error {
	count, err := h.store.SuspenseCount()
	if err != nil {
		return errors.NewTransient(fmt.Errorf("suspense count: %w", err))
	}

	if count >= h.MaxSuspense {
		h.logger.Warn("Suspense buffer is full. Dropping activity.",
			logfields.WithActivityID(activity.ID()))

		return errSuspended
	}

	payload, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("marshal activity [%s]: %w", activity.ID(), err)
	}

	now := time.Now()

	err = h.store.PutSuspense(&store.SuspenseRecord{
		ID:              uuid.NewString(),
		PrerequisiteIRI: prerequisiteIRI.String(),
		Activity:        payload,
		Received:        now,
		ExpiresAt:       now.Add(h.SuspenseTTL),
	})
	if err != nil {
		return errors.NewTransient(fmt.Errorf("store suspense record [%s]: %w", activity.ID(), err))
	}

	h.logger.Debug("Parked activity pending prerequisite", logfields.WithActivityID(activity.ID()),
		logfields.WithSuspenseKey(prerequisiteIRI.String()))

	return errSuspended
}

// suspendAndFetch parks the activity and attempts to retrieve the missing
// object from its origin. On success the object is ingested and the parked
// activity replays immediately. On failure the activity stays parked until
// the object arrives by push or the suspense record expires.
func (h *Inbox) suspendAndFetch(objIRI *url.URL, activity *vocab.ActivityType) error {
	suspendErr := h.suspend(objIRI, activity)
	if !stderrors.Is(suspendErr, errSuspended) {
		return suspendErr
	}

	obj, err := h.client.GetObject(objIRI)
	if err != nil {
		h.logger.Info("Unable to retrieve object referenced by parked activity",
			logfields.WithObjectIRI(objIRI), logfields.WithActivityID(activity.ID()), log.WithError(err))

		return suspendErr
	}

	if err := h.ingestContent(obj); err != nil {
		h.logger.Warn("Error ingesting retrieved object", logfields.WithObjectIRI(objIRI),
			log.WithError(err))

		return suspendErr
	}

	h.replaySuspendedFor(objIRI.String())

	return suspendErr
}

// replaySuspended re-dispatches any activities that were parked waiting for
// the given activity or the object it makes known.
func (h *Inbox) replaySuspended(activity *vocab.ActivityType) {
	keys := []string{activity.ID().String()}

	if obj := activity.Object().Object(); obj != nil && obj.ID() != nil {
		keys = append(keys, obj.ID().String())
	}

	if iri := activity.Object().IRI(); iri != nil {
		keys = append(keys, iri.String())
	}

	for _, key := range keys {
		h.replaySuspendedFor(key)
	}
}

func (h *Inbox) replaySuspendedFor(key string) {
	records, err := h.store.GetSuspense(key)
	if err != nil {
		h.logger.Error("Error querying suspense records", logfields.WithSuspenseKey(key),
			log.WithError(err))

		return
	}

	for _, record := range records {
		if err := h.store.DeleteSuspense(record.ID); err != nil {
			h.logger.Warn("Error deleting suspense record", logfields.WithSuspenseKey(key),
				log.WithError(err))

			continue
		}

		suspended := &vocab.ActivityType{}

		if err := json.Unmarshal(record.Activity, suspended); err != nil {
			h.logger.Error("Error unmarshalling suspended activity",
				logfields.WithSuspenseKey(key), log.WithError(err))

			continue
		}

		h.logger.Debug("Replaying suspended activity", logfields.WithActivityID(suspended.ID()),
			logfields.WithSuspenseKey(key))

		if err := h.HandleActivity(suspended); err != nil {
			h.logger.Warn("Error replaying suspended activity",
				logfields.WithActivityID(suspended.ID()), log.WithError(err))
		}
	}
}

func (h *Inbox) handleCreate(create *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Create' activity", logfields.WithActivityID(create.ID()))

	obj := create.Object().Object()
	if obj == nil {
		return errors.NewBadRequestf("no object specified in 'Create' activity [%s]", create.ID())
	}

	if obj.ID() == nil {
		return errors.NewBadRequestf("no object ID specified in 'Create' activity [%s]", create.ID())
	}

	// A reply whose parent is unknown waits for the parent to arrive.
	if parent := obj.InReplyTo(); parent != nil {
		known, err := h.isKnownContent(parent.URL())
		if err != nil {
			return err
		}

		if !known {
			return h.suspend(parent, create)
		}
	}

	if err := h.ingestContent(obj); err != nil {
		return err
	}

	// Content addressed to a local community is re-announced to its followers.
	if community := h.localCommunity(obj); community != nil {
		if err := h.announceToFollowers(community, obj.ID().URL()); err != nil {
			return err
		}
	}

	return nil
}

func (h *Inbox) handleUpdate(update *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Update' activity", logfields.WithActivityID(update.ID()))

	if update.Actor() == nil {
		return errors.NewBadRequestf("no actor specified in 'Update' activity [%s]", update.ID())
	}

	obj := update.Object().Object()
	if obj != nil && obj.ID() != nil {
		tombstoned, err := h.isTombstoned(obj.ID().URL())
		if err != nil {
			return err
		}

		if tombstoned {
			h.logger.Info("Ignoring 'Update' of tombstoned object", logfields.WithActivityID(update.ID()),
				logfields.WithObjectIRI(obj.ID()))

			return nil
		}

		// A profile update invalidates the cached actor document.
		if obj.Type() != nil && obj.Type().IsAny(vocab.ActorTypes()...) {
			if _, err := h.client.Refresh(obj.ID().URL()); err != nil {
				h.logger.Warn("Error refreshing updated actor", logfields.WithActorIRI(obj.ID()),
					log.WithError(err))
			}

			return nil
		}

		// An update for an object we have never seen carries the full object,
		// so it is ingested the same way as a Create.
		return h.ingestContent(obj)
	}

	objIRI := update.Object().IRI()
	if objIRI == nil {
		return errors.NewBadRequestf("no object specified in 'Update' activity [%s]", update.ID())
	}

	known, err := h.isKnownContent(objIRI.URL())
	if err != nil {
		return err
	}

	if !known {
		return h.suspendAndFetch(objIRI.URL(), update)
	}

	return nil
}

func (h *Inbox) handleDelete(delete_ *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Delete' activity", logfields.WithActivityID(delete_.ID()))

	if delete_.Actor() == nil {
		return errors.NewBadRequestf("no actor specified in 'Delete' activity [%s]", delete_.ID())
	}

	objIRI := objectIRI(delete_)
	if objIRI == nil {
		return errors.NewBadRequestf("no object specified in 'Delete' activity [%s]", delete_.ID())
	}

	actorIRI := delete_.Actor().URL()

	// Only the origin host may delete an object. A self-delete tombstones the actor.
	if objIRI.Host != actorIRI.Host {
		return errors.NewUnauthorizedf("actor [%s] is not authorized to delete object [%s]",
			actorIRI, objIRI)
	}

	if err := h.store.AddReference(store.Tombstone, objIRI, actorIRI); err != nil {
		return errors.NewTransient(fmt.Errorf("tombstone object [%s]: %w", objIRI, err))
	}

	// The content reference is removed but replies are left in place.
	if err := h.deleteAllReferences(store.Content, objIRI); err != nil {
		return err
	}

	if objIRI.String() == actorIRI.String() {
		h.logger.Info("Actor deleted itself", logfields.WithActorIRI(delete_.Actor()))
	}

	return nil
}

func (h *Inbox) handleFollow(follow *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Follow' activity", logfields.WithActivityID(follow.ID()))

	if follow.Actor() == nil {
		return errors.NewBadRequestf("no actor specified in 'Follow' activity [%s]", follow.ID())
	}

	targetIRI := objectIRI(follow)
	if targetIRI == nil {
		return errors.NewBadRequestf("no object specified in 'Follow' activity [%s]", follow.ID())
	}

	if !h.isLocalIRI(targetIRI) {
		return errors.NewBadRequestf("object [%s] of 'Follow' activity [%s] is not a local actor",
			targetIRI, follow.ID())
	}

	actorIRI := follow.Actor().URL()

	blocked, err := h.hasReference(store.Blocked, targetIRI, actorIRI)
	if err != nil {
		return err
	}

	if blocked {
		return errors.NewUnauthorizedf("actor [%s] is blocked by [%s]", actorIRI, targetIRI)
	}

	actor, err := h.client.GetActor(actorIRI)
	if err != nil {
		return errors.NewTransient(fmt.Errorf("resolve actor [%s]: %w", actorIRI, err))
	}

	accepted, err := h.FollowerAuth.AuthorizeActor(actor)
	if err != nil {
		return fmt.Errorf("authorize actor [%s]: %w", actorIRI, err)
	}

	if !accepted {
		if err := h.store.AddReference(store.PendingFollower, targetIRI, actorIRI); err != nil {
			return errors.NewTransient(fmt.Errorf("store pending follower: %w", err))
		}

		h.logger.Info("Follow request is pending approval", logfields.WithActorIRI(follow.Actor()),
			logfields.WithObjectIRI(follow.Object().IRI()))

		return nil
	}

	if err := h.store.AddReference(store.Follower, targetIRI, actorIRI); err != nil {
		return errors.NewTransient(fmt.Errorf("store follower: %w", err))
	}

	accept := vocab.NewAcceptActivity(
		vocab.NewObjectProperty(vocab.WithActivity(follow)),
		vocab.WithTo(actorIRI),
	)

	if _, err := h.outbox.Post(accept); err != nil {
		return fmt.Errorf("post 'Accept' to outbox: %w", err)
	}

	return nil
}

func (h *Inbox) handleAccept(accept *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Accept' activity", logfields.WithActivityID(accept.ID()))

	follow, err := h.validateFollowResponse(accept)
	if err != nil {
		return err
	}

	localActorIRI := follow.Actor().URL()

	if err := h.store.AddReference(store.Following, localActorIRI, accept.Actor().URL()); err != nil {
		return errors.NewTransient(fmt.Errorf("store following: %w", err))
	}

	return nil
}

func (h *Inbox) handleReject(reject *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Reject' activity", logfields.WithActivityID(reject.ID()))

	follow, err := h.validateFollowResponse(reject)
	if err != nil {
		return err
	}

	err = h.store.DeleteReference(store.Following, follow.Actor().URL(), reject.Actor().URL())
	if err != nil && !stderrors.Is(err, store.ErrNotFound) {
		return errors.NewTransient(fmt.Errorf("delete following: %w", err))
	}

	return nil
}

// validateFollowResponse validates an Accept or Reject of a Follow that this
// instance previously sent.
func (h *Inbox) validateFollowResponse(activity *vocab.ActivityType) (*vocab.ActivityType, error) {
	if activity.Actor() == nil {
		return nil, errors.NewBadRequestf("no actor specified in '%s' activity [%s]",
			activity.Type(), activity.ID())
	}

	follow := activity.Object().Activity()
	if follow == nil || !follow.Type().Is(vocab.TypeFollow) {
		return nil, errors.NewBadRequestf("no 'Follow' activity specified in the object of the '%s' activity [%s]",
			activity.Type(), activity.ID())
	}

	if follow.ID() == nil || follow.Actor() == nil {
		return nil, errors.NewBadRequestf("invalid 'Follow' activity in the object of the '%s' activity [%s]",
			activity.Type(), activity.ID())
	}

	if !h.isLocalIRI(follow.Actor().URL()) {
		return nil, errors.NewBadRequestf("actor of the 'Follow' activity in the '%s' activity [%s] is not local",
			activity.Type(), activity.ID())
	}

	// The response must reference a Follow that was actually sent.
	if _, err := h.store.GetActivity(store.Outbox, follow.ID().String()); err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, errors.NewBadRequestf("'%s' activity [%s] references a 'Follow' [%s] that was never sent",
				activity.Type(), activity.ID(), follow.ID())
		}

		return nil, errors.NewTransient(fmt.Errorf("query outbox activity [%s]: %w", follow.ID(), err))
	}

	return follow, nil
}

func (h *Inbox) handleAnnounce(announce *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Announce' activity", logfields.WithActivityID(announce.ID()))

	if announce.Actor() == nil {
		return errors.NewBadRequestf("no actor specified in 'Announce' activity [%s]", announce.ID())
	}

	// Batched announce: the object is an array of activities that are
	// processed serially, in order, with per-entry idempotency.
	if activities := announce.Object().Activities(); len(activities) > 0 {
		return h.handleBatchedAnnounce(announce, activities)
	}

	actorIRI := announce.Actor().URL()

	// Only a community (Group) actor may announce content to its followers.
	actor, err := h.client.GetActor(actorIRI)
	if err != nil {
		return errors.NewTransient(fmt.Errorf("resolve actor [%s]: %w", actorIRI, err))
	}

	if !actor.Type().Is(vocab.TypeGroup) {
		return errors.NewUnauthorizedf("actor [%s] of 'Announce' activity [%s] is not a community",
			actorIRI, announce.ID())
	}

	objIRI := objectIRI(announce)
	if objIRI == nil {
		return errors.NewBadRequestf("no object specified in 'Announce' activity [%s]", announce.ID())
	}

	if err := h.store.AddReference(store.Share, objIRI, actorIRI); err != nil {
		return errors.NewTransient(fmt.Errorf("store share: %w", err))
	}

	if err := h.store.AddReference(store.Content, objIRI, actorIRI); err != nil {
		return errors.NewTransient(fmt.Errorf("store content reference: %w", err))
	}

	return nil
}

func (h *Inbox) handleBatchedAnnounce(announce *vocab.ActivityType, activities []*vocab.ActivityType) error {
	h.logger.Debug("Handling batched 'Announce' activity", logfields.WithActivityID(announce.ID()),
		logfields.WithTotal(len(activities)))

	for i, inner := range activities {
		if inner.ID() == nil {
			return errors.NewBadRequestf("no ID specified in entry %d of batched 'Announce' activity [%s]",
				i, announce.ID())
		}

		if err := h.HandleActivity(inner); err != nil {
			return fmt.Errorf("handle entry %d [%s] of batched 'Announce' activity [%s]: %w",
				i, inner.ID(), announce.ID(), err)
		}
	}

	return nil
}

func (h *Inbox) handleLike(like *vocab.ActivityType) error {
	return h.handleVote(like, store.Like, store.Dislike)
}

func (h *Inbox) handleDislike(dislike *vocab.ActivityType) error {
	return h.handleVote(dislike, store.Dislike, store.Like)
}

// handleVote upserts a vote. A new vote replaces the actor's opposite vote
// on the same object.
func (h *Inbox) handleVote(vote *vocab.ActivityType, refType, oppositeType store.ReferenceType) error {
	h.logger.Debug("Handling vote activity", logfields.WithActivityID(vote.ID()),
		logfields.WithActivityType(vote.Type().String()))

	if vote.Actor() == nil {
		return errors.NewBadRequestf("no actor specified in '%s' activity [%s]", vote.Type(), vote.ID())
	}

	objIRI := objectIRI(vote)
	if objIRI == nil {
		return errors.NewBadRequestf("no object specified in '%s' activity [%s]", vote.Type(), vote.ID())
	}

	tombstoned, err := h.isTombstoned(objIRI)
	if err != nil {
		return err
	}

	if tombstoned {
		h.logger.Info("Ignoring vote on tombstoned object", logfields.WithActivityID(vote.ID()),
			logfields.WithObjectIRI(vote.Object().IRI()))

		return nil
	}

	known, err := h.isKnownContent(objIRI)
	if err != nil {
		return err
	}

	if !known {
		return h.suspendAndFetch(objIRI, vote)
	}

	actorIRI := vote.Actor().URL()

	err = h.store.DeleteReference(oppositeType, objIRI, actorIRI)
	if err != nil && !stderrors.Is(err, store.ErrNotFound) {
		return errors.NewTransient(fmt.Errorf("delete opposite vote: %w", err))
	}

	if err := h.store.AddReference(refType, objIRI, actorIRI); err != nil {
		return errors.NewTransient(fmt.Errorf("store vote: %w", err))
	}

	return nil
}

func (h *Inbox) handleUndo(undo *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Undo' activity", logfields.WithActivityID(undo.ID()))

	if undo.Actor() == nil {
		return errors.NewBadRequestf("no actor specified in 'Undo' activity [%s]", undo.ID())
	}

	inner := undo.Object().Activity()
	if inner == nil || inner.ID() == nil {
		return errors.NewBadRequestf("no activity specified in the object of the 'Undo' activity [%s]", undo.ID())
	}

	original, err := h.store.GetActivity(store.Inbox, inner.ID().String())
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			// Undo arrived before the activity it refers to.
			return h.suspend(inner.ID(), undo)
		}

		return errors.NewTransient(fmt.Errorf("query activity [%s]: %w", inner.ID(), err))
	}

	if original.Actor() == nil {
		return fmt.Errorf("no actor in stored '%s' activity [%s]", original.Type(), original.ID())
	}

	if original.Actor().String() != undo.Actor().String() {
		return errors.NewUnauthorizedf("the actor of the 'Undo' activity [%s] is not the actor of "+
			"the original activity [%s]", undo.ID(), original.ID())
	}

	return h.undoActivity(original)
}

func (h *Inbox) undoActivity(original *vocab.ActivityType) error {
	actorIRI := original.Actor().URL()

	objIRI := objectIRI(original)
	if objIRI == nil {
		return errors.NewBadRequestf("no object in stored '%s' activity [%s]", original.Type(), original.ID())
	}

	switch {
	case original.Type().Is(vocab.TypeFollow):
		if err := h.deleteReference(store.Follower, objIRI, actorIRI); err != nil {
			return err
		}

		// Undoing a Follow also clears any pending entry.
		return h.deleteReference(store.PendingFollower, objIRI, actorIRI)

	case original.Type().Is(vocab.TypeLike):
		return h.deleteReference(store.Like, objIRI, actorIRI)

	case original.Type().Is(vocab.TypeDislike):
		return h.deleteReference(store.Dislike, objIRI, actorIRI)

	case original.Type().Is(vocab.TypeAnnounce):
		return h.deleteReference(store.Share, objIRI, actorIRI)

	case original.Type().Is(vocab.TypeBlock):
		// The object of a Block is the blocked actor.
		return h.deleteReference(store.Blocked, actorIRI, objIRI)

	default:
		return errors.NewBadRequestf("undo of type %s is not supported", original.Type())
	}
}

func (h *Inbox) handleFlag(flag *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Flag' activity", logfields.WithActivityID(flag.ID()))

	if flag.Actor() == nil {
		return errors.NewBadRequestf("no actor specified in 'Flag' activity [%s]", flag.ID())
	}

	objIRI := objectIRI(flag)
	if objIRI == nil {
		return errors.NewBadRequestf("no object specified in 'Flag' activity [%s]", flag.ID())
	}

	if err := h.store.AddReference(store.Report, objIRI, flag.Actor().URL()); err != nil {
		return errors.NewTransient(fmt.Errorf("store report: %w", err))
	}

	h.logger.Info("Object was flagged for moderation", logfields.WithObjectIRI(flag.Object().IRI()),
		logfields.WithActorIRI(flag.Actor()))

	return nil
}

func (h *Inbox) handleAdd(add *vocab.ActivityType) error {
	return h.handleCollectionUpdate(add, true)
}

func (h *Inbox) handleRemove(remove *vocab.ActivityType) error {
	return h.handleCollectionUpdate(remove, false)
}

// handleCollectionUpdate adds to or removes from a community's featured or
// moderators collection. Only the community owner or a moderator may do so.
func (h *Inbox) handleCollectionUpdate(activity *vocab.ActivityType, add bool) error {
	h.logger.Debug("Handling collection update", logfields.WithActivityID(activity.ID()),
		logfields.WithActivityType(activity.Type().String()))

	if activity.Actor() == nil {
		return errors.NewBadRequestf("no actor specified in '%s' activity [%s]", activity.Type(), activity.ID())
	}

	objIRI := objectIRI(activity)
	if objIRI == nil {
		return errors.NewBadRequestf("no object specified in '%s' activity [%s]", activity.Type(), activity.ID())
	}

	targetIRI := activity.Target().IRI()
	if targetIRI == nil {
		return errors.NewBadRequestf("no target specified in '%s' activity [%s]", activity.Type(), activity.ID())
	}

	communityIRI, refType, err := parseCollectionIRI(targetIRI.URL())
	if err != nil {
		return err
	}

	if err := h.authorizeCommunityActor(communityIRI, activity.Actor().URL()); err != nil {
		return err
	}

	if add {
		if err := h.store.AddReference(refType, communityIRI, objIRI); err != nil {
			return errors.NewTransient(fmt.Errorf("add to collection [%s]: %w", targetIRI, err))
		}

		return nil
	}

	err = h.store.DeleteReference(refType, communityIRI, objIRI)
	if err != nil && !stderrors.Is(err, store.ErrNotFound) {
		return errors.NewTransient(fmt.Errorf("remove from collection [%s]: %w", targetIRI, err))
	}

	return nil
}

func (h *Inbox) handleBlock(block *vocab.ActivityType) error {
	h.logger.Debug("Handling 'Block' activity", logfields.WithActivityID(block.ID()))

	if block.Actor() == nil {
		return errors.NewBadRequestf("no actor specified in 'Block' activity [%s]", block.ID())
	}

	objIRI := objectIRI(block)
	if objIRI == nil {
		return errors.NewBadRequestf("no object specified in 'Block' activity [%s]", block.ID())
	}

	if err := h.store.AddReference(store.Blocked, block.Actor().URL(), objIRI); err != nil {
		return errors.NewTransient(fmt.Errorf("store block: %w", err))
	}

	return nil
}

// authorizeCommunityActor verifies that the actor is the community itself or
// one of its moderators.
func (h *Inbox) authorizeCommunityActor(communityIRI, actorIRI *url.URL) error {
	if communityIRI.String() == actorIRI.String() {
		return nil
	}

	moderator, err := h.hasReference(store.Moderator, communityIRI, actorIRI)
	if err != nil {
		return err
	}

	if !moderator {
		return errors.NewUnauthorizedf("actor [%s] is not a moderator of community [%s]",
			actorIRI, communityIRI)
	}

	return nil
}

func (h *Inbox) ingestContent(obj *vocab.ObjectType) error {
	attributedTo := obj.AttributedTo()
	if attributedTo == nil {
		return errors.NewBadRequestf("no attributedTo specified in object [%s]", obj.ID())
	}

	if err := h.store.AddReference(store.Content, obj.ID().URL(), attributedTo.URL()); err != nil {
		return errors.NewTransient(fmt.Errorf("store content reference [%s]: %w", obj.ID(), err))
	}

	return nil
}

// localCommunity returns the IRI of the local community the object is
// addressed to, or nil.
func (h *Inbox) localCommunity(obj *vocab.ObjectType) *url.URL {
	if audience := obj.Audience(); audience != nil && h.isLocalCommunityIRI(audience.URL()) {
		return audience.URL()
	}

	if to := obj.To(); to != nil {
		for _, iri := range to.URLs() {
			if h.isLocalCommunityIRI(iri) {
				return iri
			}
		}
	}

	return nil
}

func (h *Inbox) announceToFollowers(community, objIRI *url.URL) error {
	announce := vocab.NewAnnounceActivity(
		vocab.NewObjectProperty(vocab.WithIRI(objIRI)),
		vocab.WithActor(community),
		vocab.WithTo(vocab.PublicIRI),
	)

	if _, err := h.outbox.Post(announce); err != nil {
		return fmt.Errorf("post 'Announce' to outbox: %w", err)
	}

	return nil
}

func (h *Inbox) isKnownContent(iri *url.URL) (bool, error) {
	// Locally hosted objects are always known.
	if h.isLocalIRI(iri) {
		return true, nil
	}

	return h.hasReference(store.Content, iri, nil)
}

func (h *Inbox) isTombstoned(iri *url.URL) (bool, error) {
	return h.hasReference(store.Tombstone, iri, nil)
}

// hasReference indicates whether the given key has any reference of the
// given type or, if refIRI is not nil, that specific reference.
func (h *Inbox) hasReference(refType store.ReferenceType, keyIRI, refIRI *url.URL) (bool, error) {
	it, err := h.store.QueryReferences(refType, keyIRI)
	if err != nil {
		return false, errors.NewTransient(fmt.Errorf("query %s references: %w", refType, err))
	}

	defer func() {
		if err := it.Close(); err != nil {
			h.logger.Warn("Error closing iterator", log.WithError(err))
		}
	}()

	if refIRI == nil {
		total, err := it.TotalItems()
		if err != nil {
			return false, errors.NewTransient(fmt.Errorf("total %s references: %w", refType, err))
		}

		return total > 0, nil
	}

	for {
		ref, err := it.Next()
		if err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				return false, nil
			}

			return false, errors.NewTransient(fmt.Errorf("next %s reference: %w", refType, err))
		}

		if ref.String() == refIRI.String() {
			return true, nil
		}
	}
}

func (h *Inbox) deleteReference(refType store.ReferenceType, keyIRI, refIRI *url.URL) error {
	err := h.store.DeleteReference(refType, keyIRI, refIRI)
	if err != nil && !stderrors.Is(err, store.ErrNotFound) {
		return errors.NewTransient(fmt.Errorf("delete %s reference: %w", refType, err))
	}

	return nil
}

func (h *Inbox) deleteAllReferences(refType store.ReferenceType, keyIRI *url.URL) error {
	it, err := h.store.QueryReferences(refType, keyIRI)
	if err != nil {
		return errors.NewTransient(fmt.Errorf("query %s references: %w", refType, err))
	}

	defer func() {
		if err := it.Close(); err != nil {
			h.logger.Warn("Error closing iterator", log.WithError(err))
		}
	}()

	for {
		ref, err := it.Next()
		if err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				return nil
			}

			return errors.NewTransient(fmt.Errorf("next %s reference: %w", refType, err))
		}

		if err := h.deleteReference(refType, keyIRI, ref); err != nil {
			return err
		}
	}
}

func (h *Inbox) isLocalIRI(iri *url.URL) bool {
	return iri.Host == h.ServiceIRI.Host
}

func (h *Inbox) isLocalCommunityIRI(iri *url.URL) bool {
	return h.isLocalIRI(iri) && strings.HasPrefix(iri.Path, "/c/")
}

func objectIRI(activity *vocab.ActivityType) *url.URL {
	if iri := activity.Object().IRI(); iri != nil {
		return iri.URL()
	}

	if obj := activity.Object().Object(); obj != nil && obj.ID() != nil {
		return obj.ID().URL()
	}

	if inner := activity.Object().Activity(); inner != nil && inner.ID() != nil {
		return inner.ID().URL()
	}

	return nil
}

func parseCollectionIRI(iri *url.URL) (*url.URL, store.ReferenceType, error) {
	var refType store.ReferenceType

	var base string

	switch {
	case strings.HasSuffix(iri.Path, "/featured"):
		refType = store.Featured
		base = strings.TrimSuffix(iri.Path, "/featured")

	case strings.HasSuffix(iri.Path, "/moderators"):
		refType = store.Moderator
		base = strings.TrimSuffix(iri.Path, "/moderators")

	default:
		return nil, "", errors.NewBadRequestf("unsupported collection [%s]", iri)
	}

	communityIRI := *iri
	communityIRI.Path = base
	communityIRI.RawQuery = ""

	return &communityIRI, refType, nil
}

func defaultOptions() *service.Handlers {
	return &service.Handlers{
		FollowerAuth: &service.AcceptAllActorsAuth{},
	}
}
