package document

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ajha-96/markdoc/internal/broadcast"
	"github.com/ajha-96/markdoc/internal/ot"
	"github.com/ajha-96/markdoc/internal/presence"
	"github.com/ajha-96/markdoc/internal/storage"
)

// Registry hands out document actors, creating them on first touch and
// recreating them transparently after idle retirement. Requests that race a
// retirement are retried once on a fresh actor.
type Registry struct {
	store  storage.Store
	bus    broadcast.Broadcaster
	logger zerolog.Logger
	opts   Options

	mu     sync.Mutex
	actors map[string]*Actor
}

func NewRegistry(store storage.Store, bus broadcast.Broadcaster, logger zerolog.Logger, opts Options) *Registry {
	return &Registry{
		store:  store,
		bus:    bus,
		logger: logger,
		opts:   opts,
		actors: make(map[string]*Actor),
	}
}

func (r *Registry) acquire(id string) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.actors[id]; ok {
		select {
		case <-a.done:
			// Raced a retirement that has not unregistered yet.
			delete(r.actors, id)
		default:
			return a
		}
	}

	a := StartActor(id, r.store, r.bus, r.logger, r.opts, r.remove)
	r.actors[id] = a
	return a
}

// lookup returns the live actor for id, or nil. Nothing is created.
func (r *Registry) lookup(id string) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.actors[id]; ok {
		select {
		case <-a.done:
		default:
			return a
		}
	}
	return nil
}

func (r *Registry) remove(a *Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.actors[a.id]; ok && current == a {
		delete(r.actors, a.id)
	}
}

func (r *Registry) withRetry(id string, fn func(*Actor) error) error {
	err := fn(r.acquire(id))
	if errors.Is(err, ErrTerminated) {
		err = fn(r.acquire(id))
	}
	return err
}

// Join attaches a session to a document, creating the document on first
// touch.
func (r *Registry) Join(ctx context.Context, documentID, sessionID, name string) (presence.Session, State, error) {
	var (
		session presence.Session
		state   State
	)
	err := r.withRetry(documentID, func(a *Actor) error {
		var err error
		session, state, err = a.Join(ctx, sessionID, name)
		return err
	})
	if err != nil {
		return presence.Session{}, State{}, err
	}
	return session, state, nil
}

// Leave detaches a session. A document with no live actor has no roster to
// update, so nothing is created.
func (r *Registry) Leave(ctx context.Context, documentID, sessionID string) error {
	a := r.lookup(documentID)
	if a == nil {
		return nil
	}
	err := a.Leave(ctx, sessionID)
	if errors.Is(err, ErrTerminated) {
		return nil
	}
	return err
}

// ApplyOperation applies op to a document, recreating the actor when it
// retired in the meantime.
func (r *Registry) ApplyOperation(ctx context.Context, documentID, sessionID string, op ot.Operation) (int64, ot.Operation, error) {
	var (
		version int64
		applied ot.Operation
	)
	err := r.withRetry(documentID, func(a *Actor) error {
		var err error
		version, applied, err = a.ApplyOperation(ctx, sessionID, op)
		return err
	})
	return version, applied, err
}

// UpdateCursor forwards a cursor move to the live actor, if any.
func (r *Registry) UpdateCursor(documentID, sessionID string, cursor int, selection *presence.Selection) {
	if a := r.lookup(documentID); a != nil {
		a.UpdateCursor(sessionID, cursor, selection)
	}
}

// UpdateTyping forwards a typing flag change to the live actor, if any.
func (r *Registry) UpdateTyping(documentID, sessionID string, typing bool) {
	if a := r.lookup(documentID); a != nil {
		a.UpdateTyping(sessionID, typing)
	}
}

// GetState snapshots a document. Unlike Join it does not create: a document
// with no live actor and no saved content reports ErrNotFound.
func (r *Registry) GetState(ctx context.Context, documentID string) (State, error) {
	if r.lookup(documentID) == nil {
		exists, err := r.store.Exists(ctx, documentID)
		if err != nil {
			return State{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		if !exists {
			return State{}, fmt.Errorf("%w: %s", ErrNotFound, documentID)
		}
	}

	var state State
	err := r.withRetry(documentID, func(a *Actor) error {
		var err error
		state, err = a.GetState(ctx)
		return err
	})
	return state, err
}

// SaveNow flushes a document to storage and reports the persisted version.
func (r *Registry) SaveNow(ctx context.Context, documentID string) (int64, error) {
	var version int64
	err := r.withRetry(documentID, func(a *Actor) error {
		var err error
		version, err = a.SaveNow(ctx)
		return err
	})
	return version, err
}

// SyncFromDisk reloads a document from storage, discarding unsaved changes.
func (r *Registry) SyncFromDisk(ctx context.Context, documentID string) (State, error) {
	var state State
	err := r.withRetry(documentID, func(a *Actor) error {
		var err error
		state, err = a.SyncFromDisk(ctx)
		return err
	})
	return state, err
}

// Documents lists ids with live actors, sorted for stable iteration.
func (r *Registry) Documents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.actors))
	for id := range r.actors {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SaveAll flushes every dirty live document and reports the first failure.
func (r *Registry) SaveAll(ctx context.Context) error {
	var firstErr error
	for _, a := range r.liveActors() {
		if err := a.Flush(ctx); err != nil && !errors.Is(err, ErrTerminated) {
			r.logger.Error().Err(err).Str("document", a.id).Msg("flush failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Shutdown flushes and stops every live actor. Used on process exit.
func (r *Registry) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, a := range r.liveActors() {
		if err := a.Stop(ctx); err != nil {
			r.logger.Error().Err(err).Str("document", a.id).Msg("shutdown flush failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Registry) liveActors() []*Actor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Actor, 0, len(r.actors))
	for _, a := range r.actors {
		out = append(out, a)
	}
	return out
}
