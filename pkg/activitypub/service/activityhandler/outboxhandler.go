/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package activityhandler

import (
	stderrors "errors"
	"fmt"
	"net/url"

	logfields "github.com/agorafed/agora/internal/pkg/log"
	store "github.com/agorafed/agora/pkg/activitypub/store/spi"
	"github.com/agorafed/agora/pkg/activitypub/vocab"
	"github.com/agorafed/agora/pkg/errors"
	"github.com/agorafed/agora/pkg/lifecycle"
)

// Outbox applies the local side effects of activities that are posted to
// the outbox, before they are delivered to the destination inboxes.
type Outbox struct {
	*handler

	store store.Store
}

// NewOutbox returns a new outbox activity handler.
func NewOutbox(cfg *Config, s store.Store) *Outbox {
	h := &Outbox{
		store: s,
	}

	h.handler = newHandler(cfg.ServiceName+"-outbox-handler", cfg)

	return h
}

// HandleActivity applies the local side effects of the given outgoing activity.
func (h *Outbox) HandleActivity(activity *vocab.ActivityType) error {
	if h.State() != lifecycle.StateStarted {
		return errors.NewTransient(lifecycle.ErrNotStarted)
	}

	var err error

	switch {
	case activity.Type().Is(vocab.TypeAccept):
		err = h.handleAccept(activity)

	case activity.Type().Is(vocab.TypeReject):
		err = h.handleReject(activity)

	case activity.Type().Is(vocab.TypeUndo):
		err = h.handleUndo(activity)

	case activity.Type().Is(vocab.TypeBlock):
		err = h.handleBlock(activity)

	default:
		// Most outgoing activities have no local side effects.
	}

	if err != nil {
		return err
	}

	h.notify(activity)

	return nil
}

// handleAccept promotes a pending follower when a local actor accepts a
// follow request.
func (h *Outbox) handleAccept(accept *vocab.ActivityType) error {
	follow := accept.Object().Activity()
	if follow == nil || !follow.Type().Is(vocab.TypeFollow) {
		// Accepts of other activity types have no local side effects.
		return nil
	}

	if follow.Actor() == nil {
		return errors.NewBadRequestf("no actor specified in the 'Follow' activity of the 'Accept' [%s]",
			accept.ID())
	}

	targetIRI := objectIRI(follow)
	if targetIRI == nil {
		return errors.NewBadRequestf("no object specified in the 'Follow' activity of the 'Accept' [%s]",
			accept.ID())
	}

	actorIRI := follow.Actor().URL()

	if err := h.store.AddReference(store.Follower, targetIRI, actorIRI); err != nil {
		return errors.NewTransient(fmt.Errorf("store follower: %w", err))
	}

	err := h.store.DeleteReference(store.PendingFollower, targetIRI, actorIRI)
	if err != nil && !stderrors.Is(err, store.ErrNotFound) {
		return errors.NewTransient(fmt.Errorf("delete pending follower: %w", err))
	}

	h.logger.Debug("Accepted follow request", logfields.WithActorIRI(follow.Actor()),
		logfields.WithObjectIRI(follow.Object().IRI()))

	return nil
}

// handleReject clears a pending follower when a local actor rejects a
// follow request.
func (h *Outbox) handleReject(reject *vocab.ActivityType) error {
	follow := reject.Object().Activity()
	if follow == nil || !follow.Type().Is(vocab.TypeFollow) {
		return nil
	}

	if follow.Actor() == nil {
		return errors.NewBadRequestf("no actor specified in the 'Follow' activity of the 'Reject' [%s]",
			reject.ID())
	}

	targetIRI := objectIRI(follow)
	if targetIRI == nil {
		return errors.NewBadRequestf("no object specified in the 'Follow' activity of the 'Reject' [%s]",
			reject.ID())
	}

	err := h.store.DeleteReference(store.PendingFollower, targetIRI, follow.Actor().URL())
	if err != nil && !stderrors.Is(err, store.ErrNotFound) {
		return errors.NewTransient(fmt.Errorf("delete pending follower: %w", err))
	}

	return nil
}

// handleUndo reverses the local side effects of an activity that a local
// actor previously sent.
func (h *Outbox) handleUndo(undo *vocab.ActivityType) error {
	if undo.Actor() == nil {
		return errors.NewBadRequestf("no actor specified in 'Undo' activity [%s]", undo.ID())
	}

	inner := undo.Object().Activity()
	if inner == nil {
		return errors.NewBadRequestf("no activity specified in the object of the 'Undo' activity [%s]",
			undo.ID())
	}

	objIRI := objectIRI(inner)
	if objIRI == nil {
		return errors.NewBadRequestf("no object in the activity of the 'Undo' activity [%s]", undo.ID())
	}

	actorIRI := undo.Actor().URL()

	switch {
	case inner.Type().Is(vocab.TypeFollow):
		err := h.store.DeleteReference(store.Following, actorIRI, objIRI)
		if err != nil && !stderrors.Is(err, store.ErrNotFound) {
			return errors.NewTransient(fmt.Errorf("delete following: %w", err))
		}

		return nil

	case inner.Type().Is(vocab.TypeLike):
		return h.deleteVote(store.Like, objIRI, actorIRI)

	case inner.Type().Is(vocab.TypeDislike):
		return h.deleteVote(store.Dislike, objIRI, actorIRI)

	case inner.Type().Is(vocab.TypeBlock):
		err := h.store.DeleteReference(store.Blocked, actorIRI, objIRI)
		if err != nil && !stderrors.Is(err, store.ErrNotFound) {
			return errors.NewTransient(fmt.Errorf("delete block: %w", err))
		}

		return nil

	default:
		return errors.NewBadRequestf("undo of type %s is not supported", inner.Type())
	}
}

func (h *Outbox) deleteVote(refType store.ReferenceType, objIRI, actorIRI *url.URL) error {
	err := h.store.DeleteReference(refType, objIRI, actorIRI)
	if err != nil && !stderrors.Is(err, store.ErrNotFound) {
		return errors.NewTransient(fmt.Errorf("delete vote: %w", err))
	}

	return nil
}

func (h *Outbox) handleBlock(block *vocab.ActivityType) error {
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
