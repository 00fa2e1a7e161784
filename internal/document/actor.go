package document

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajha-96/markdoc/internal/broadcast"
	"github.com/ajha-96/markdoc/internal/ot"
	"github.com/ajha-96/markdoc/internal/presence"
	"github.com/ajha-96/markdoc/internal/storage"
)

const (
	defaultAutoSaveInterval        = 10 * time.Second
	defaultInactivityWindow        = 30 * time.Minute
	defaultInactivityCheckInterval = time.Minute

	storageTimeout = 10 * time.Second
)

// Options tune a document actor. Zero values fall back to the defaults.
type Options struct {
	AutoSaveInterval        time.Duration
	InactivityWindow        time.Duration
	InactivityCheckInterval time.Duration
	DefaultContent          string
	Palette                 presence.Palette
	NewSessionID            func() string
}

func (o Options) withDefaults() Options {
	if o.AutoSaveInterval <= 0 {
		o.AutoSaveInterval = defaultAutoSaveInterval
	}
	if o.InactivityWindow <= 0 {
		o.InactivityWindow = defaultInactivityWindow
	}
	if o.InactivityCheckInterval <= 0 {
		o.InactivityCheckInterval = defaultInactivityCheckInterval
	}
	if len(o.Palette) == 0 {
		o.Palette = presence.DefaultPalette
	}
	if o.NewSessionID == nil {
		o.NewSessionID = uuid.NewString
	}
	return o
}

// Actor owns one document. Content, version and the roster live on the
// actor's goroutine and every request runs as a closure through the mailbox,
// so each operation reads and mutates a consistent snapshot without locks.
//
// Operations apply in arrival order against the authoritative content; the
// server never transforms an incoming operation against concurrent history.
// Clients reconcile remote operations themselves via ot.Transform.
type Actor struct {
	id     string
	store  storage.Store
	bus    broadcast.Broadcaster
	logger zerolog.Logger
	opts   Options

	mailbox chan func()
	done    chan struct{}

	onTerminate func(*Actor)

	// Owned by the run goroutine. termErr is written before done closes and
	// must only be read after done is observed closed.
	termErr      error
	stopping     bool
	content      string
	version      int64
	dirty        bool
	sessions     map[string]*presence.Session
	lastActivity time.Time
	lastSaved    time.Time
}

// StartActor spawns the actor goroutine. onTerminate runs exactly once,
// before requests start failing with ErrTerminated, so the registry can
// unregister the actor first and recreate on retry.
func StartActor(id string, store storage.Store, bus broadcast.Broadcaster, logger zerolog.Logger, opts Options, onTerminate func(*Actor)) *Actor {
	a := &Actor{
		id:          id,
		store:       store,
		bus:         bus,
		logger:      logger.With().Str("component", "document").Str("document", id).Logger(),
		opts:        opts.withDefaults(),
		mailbox:     make(chan func(), 64),
		done:        make(chan struct{}),
		onTerminate: onTerminate,
		sessions:    make(map[string]*presence.Session),
	}
	go a.run()
	return a
}

// ID returns the document id the actor owns.
func (a *Actor) ID() string { return a.id }

func (a *Actor) run() {
	defer close(a.done)

	if err := a.loadInitial(); err != nil {
		a.terminate(err)
		return
	}
	defer documentsOpen.Dec()

	autosave := time.NewTicker(a.opts.AutoSaveInterval)
	defer autosave.Stop()
	idle := time.NewTicker(a.opts.InactivityCheckInterval)
	defer idle.Stop()

	for {
		select {
		case fn := <-a.mailbox:
			fn()
			if a.stopping {
				a.terminate(ErrTerminated)
				return
			}
		case <-autosave.C:
			a.autoSave()
		case <-idle.C:
			if !a.shouldRetire() {
				continue
			}
			if a.dirty {
				ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
				err := a.save(ctx)
				cancel()
				if err != nil {
					a.logger.Error().Err(err).Msg("final flush failed, keeping document resident")
					continue
				}
			}
			a.logger.Info().
				Time("last_activity", a.latestActivity()).
				Time("last_saved", a.lastSaved).
				Msg("retiring idle document")
			a.terminate(ErrTerminated)
			return
		}
	}
}

func (a *Actor) loadInitial() error {
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	content, err := a.store.Load(ctx, a.id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// First touch creates the document. Mark it dirty so the next
		// autosave persists it and Exists starts reporting true.
		a.content = a.opts.DefaultContent
		a.dirty = true
		a.logger.Info().Msg("created new document")
	case err != nil:
		a.logger.Error().Err(err).Msg("failed to load document")
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	default:
		a.content = content
	}
	a.lastActivity = time.Now()
	documentsOpen.Inc()
	return nil
}

func (a *Actor) terminate(err error) {
	a.termErr = err
	if a.onTerminate != nil {
		a.onTerminate(a)
	}
}

func (a *Actor) terminationError() error {
	if a.termErr != nil {
		return a.termErr
	}
	return ErrTerminated
}

// call runs fn on the actor goroutine and waits for it to finish. A closed
// done channel means the run goroutine has exited, so a pending reply can be
// checked non-blocking: either fn already ran or it never will.
func (a *Actor) call(ctx context.Context, fn func()) error {
	reply := make(chan struct{})
	wrapped := func() {
		fn()
		close(reply)
	}

	select {
	case a.mailbox <- wrapped:
	case <-a.done:
		return a.terminationError()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-reply:
		return nil
	case <-a.done:
		select {
		case <-reply:
			return nil
		default:
			return a.terminationError()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// do runs fn on the actor goroutine without waiting.
func (a *Actor) do(fn func()) {
	select {
	case a.mailbox <- fn:
	case <-a.done:
	}
}

// Join registers a session, assigns it a color and an id when the caller
// supplies none, and returns the session plus a state snapshot taken in the
// same mailbox turn.
func (a *Actor) Join(ctx context.Context, sessionID, name string) (presence.Session, State, error) {
	var (
		session presence.Session
		state   State
	)
	err := a.call(ctx, func() {
		if sessionID == "" {
			sessionID = a.opts.NewSessionID()
		}
		now := time.Now()
		inUse := make(map[string]bool, len(a.sessions))
		for _, s := range a.sessions {
			inUse[s.Color] = true
		}
		s := &presence.Session{
			ID:           sessionID,
			Name:         name,
			Color:        a.opts.Palette.Assign(inUse),
			LastActivity: now,
			JoinedAt:     now,
		}
		a.sessions[sessionID] = s
		a.lastActivity = now
		session = s.Clone()
		state = a.snapshot()
		sessionsJoined.Inc()
		a.bus.Publish(context.Background(), broadcast.UserJoinedEvent(a.id, session))
	})
	if err != nil {
		return presence.Session{}, State{}, err
	}
	return session, state, nil
}

// Leave removes a session. Unknown sessions are a no-op.
func (a *Actor) Leave(ctx context.Context, sessionID string) error {
	return a.call(ctx, func() {
		if _, ok := a.sessions[sessionID]; !ok {
			return
		}
		delete(a.sessions, sessionID)
		a.bus.Publish(context.Background(), broadcast.UserLeftEvent(a.id, sessionID))
	})
}

// ApplyOperation validates op against the current content, applies it,
// remaps every other session's cursor and selection, and broadcasts the
// operation at the version it produced. The returned operation is the one
// that was applied and broadcast, with a timestamp stamped when the client
// sent none.
func (a *Actor) ApplyOperation(ctx context.Context, sessionID string, op ot.Operation) (int64, ot.Operation, error) {
	var (
		version  int64
		applied  ot.Operation
		applyErr error
	)
	err := a.call(ctx, func() {
		if op.Timestamp.IsZero() {
			op.Timestamp = time.Now().UTC()
		}
		next, err := ot.Apply(a.content, op)
		if err != nil {
			operationsRejected.Inc()
			applyErr = err
			return
		}
		a.content = next
		a.version++
		a.dirty = true
		now := time.Now()
		a.lastActivity = now

		length := utf8.RuneCountInString(a.content)
		for id, s := range a.sessions {
			if id == sessionID {
				s.LastActivity = now
				continue
			}
			s.Cursor = clamp(ot.AdjustCursor(s.Cursor, op), length)
			if s.Selection != nil {
				start, end := ot.AdjustSelection(s.Selection.Start, s.Selection.End, op)
				s.Selection.Start = clamp(start, length)
				s.Selection.End = clamp(end, length)
			}
		}

		version = a.version
		applied = op
		operationsApplied.WithLabelValues(string(op.Kind)).Inc()
		a.bus.Publish(context.Background(), broadcast.OperationEvent(a.id, sessionID, a.version, op))
	})
	if err != nil {
		return 0, ot.Operation{}, err
	}
	if applyErr != nil {
		return 0, ot.Operation{}, applyErr
	}
	return version, applied, nil
}

// UpdateCursor records a session's cursor and optional selection, clamped to
// the current content. Fire-and-forget; unknown sessions are dropped.
func (a *Actor) UpdateCursor(sessionID string, cursor int, selection *presence.Selection) {
	a.do(func() {
		s, ok := a.sessions[sessionID]
		if !ok {
			return
		}
		length := utf8.RuneCountInString(a.content)
		s.Cursor = clamp(cursor, length)
		if selection != nil {
			s.Selection = &presence.Selection{
				Start: clamp(selection.Start, length),
				End:   clamp(selection.End, length),
			}
		} else {
			s.Selection = nil
		}
		now := time.Now()
		s.LastActivity = now
		a.lastActivity = now

		var sel *presence.Selection
		if s.Selection != nil {
			c := *s.Selection
			sel = &c
		}
		a.bus.Publish(context.Background(), broadcast.CursorEvent(a.id, sessionID, s.Cursor, sel))
	})
}

// UpdateTyping records a session's typing flag. Fire-and-forget.
func (a *Actor) UpdateTyping(sessionID string, typing bool) {
	a.do(func() {
		s, ok := a.sessions[sessionID]
		if !ok {
			return
		}
		s.Typing = typing
		now := time.Now()
		s.LastActivity = now
		a.lastActivity = now
		a.bus.Publish(context.Background(), broadcast.TypingEvent(a.id, sessionID, typing))
	})
}

// GetState returns an atomic snapshot of content, version and roster.
func (a *Actor) GetState(ctx context.Context) (State, error) {
	var state State
	if err := a.call(ctx, func() { state = a.snapshot() }); err != nil {
		return State{}, err
	}
	return state, nil
}

// SaveNow flushes to storage regardless of the dirty flag and reports the
// persisted version.
func (a *Actor) SaveNow(ctx context.Context) (int64, error) {
	var (
		version int64
		saveErr error
	)
	err := a.call(ctx, func() {
		saveErr = a.save(ctx)
		version = a.version
	})
	if err != nil {
		return 0, err
	}
	if saveErr != nil {
		return 0, saveErr
	}
	return version, nil
}

// SyncFromDisk replaces in-memory content with the saved copy, bumps the
// version and rebroadcasts the full content so clients rebase. Unsaved
// changes are lost. When storage holds no copy the actor keeps its state
// and reports ErrNotFound.
func (a *Actor) SyncFromDisk(ctx context.Context) (State, error) {
	var (
		state   State
		syncErr error
	)
	err := a.call(ctx, func() {
		content, err := a.store.Load(ctx, a.id)
		if errors.Is(err, storage.ErrNotFound) {
			syncErr = fmt.Errorf("%w: no saved copy of %s", ErrNotFound, a.id)
			return
		}
		if err != nil {
			syncErr = fmt.Errorf("%w: %v", ErrStorageFailure, err)
			return
		}
		a.content = content
		a.version++
		a.dirty = false
		a.lastActivity = time.Now()

		length := utf8.RuneCountInString(a.content)
		for _, s := range a.sessions {
			s.Cursor = clamp(s.Cursor, length)
			if s.Selection != nil {
				s.Selection.Start = clamp(s.Selection.Start, length)
				s.Selection.End = clamp(s.Selection.End, length)
			}
		}
		state = a.snapshot()
		a.bus.Publish(context.Background(), broadcast.SyncedEvent(a.id, a.content, a.version))
	})
	if err != nil {
		return State{}, err
	}
	if syncErr != nil {
		return State{}, syncErr
	}
	return state, nil
}

// Flush persists dirty content. Clean documents are a no-op.
func (a *Actor) Flush(ctx context.Context) error {
	var saveErr error
	err := a.call(ctx, func() {
		if !a.dirty {
			return
		}
		saveErr = a.save(ctx)
	})
	if err != nil {
		return err
	}
	return saveErr
}

// Stop flushes dirty content and terminates the actor. The actor goes away
// even when the flush fails; the error is returned so callers can log it.
// Stopping an already terminated actor is a no-op.
func (a *Actor) Stop(ctx context.Context) error {
	var saveErr error
	err := a.call(ctx, func() {
		if a.dirty {
			saveErr = a.save(ctx)
		}
		a.stopping = true
	})
	if err != nil {
		if errors.Is(err, ErrTerminated) {
			return nil
		}
		return err
	}
	return saveErr
}

func (a *Actor) snapshot() State {
	users := make([]presence.Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		users = append(users, s.Clone())
	}
	presence.SortSessions(users)
	return State{Content: a.content, Version: a.version, Users: users}
}

func (a *Actor) save(ctx context.Context) error {
	if err := a.store.Save(ctx, a.id, a.content); err != nil {
		saveFailures.Inc()
		a.logger.Error().Err(err).Msg("failed to save document")
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	a.dirty = false
	now := time.Now()
	a.lastSaved = now
	a.bus.Publish(context.Background(), broadcast.SavedEvent(a.id, a.version, now))
	a.logger.Debug().Int64("version", a.version).Msg("document saved")
	return nil
}

func (a *Actor) autoSave() {
	if !a.dirty {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	if err := a.save(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("autosave failed, retrying next tick")
	}
}

func (a *Actor) latestActivity() time.Time {
	latest := a.lastActivity
	for _, s := range a.sessions {
		if s.LastActivity.After(latest) {
			latest = s.LastActivity
		}
	}
	return latest
}

func (a *Actor) shouldRetire() bool {
	return time.Since(a.latestActivity()) >= a.opts.InactivityWindow
}

func clamp(pos, limit int) int {
	if pos < 0 {
		return 0
	}
	if pos > limit {
		return limit
	}
	return pos
}
