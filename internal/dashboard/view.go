// Package dashboard holds the per-session bookmark list and keeps it in sync
// with the store.
//
// A View is activated once, resolves who is signed in, fetches that
// identity's bookmarks and listens to the change feed. User actions mutate
// the list optimistically and then write to the store; feed events and write
// completions are merged into whatever the list looks like when they land.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

var (
	ErrSignedOut  = errors.New("not signed in")
	ErrIncomplete = errors.New("url and title are required")
	ErrClosed     = errors.New("view is closed")
)

// DefaultPublicEntry is where Logout sends the client.
const DefaultPublicEntry = "/"

// resyncTimeout bounds the refetch triggered by a feed resync.
const resyncTimeout = 15 * time.Second

// Options tunes a View.
type Options struct {
	Reconciliation Reconciliation
	PublicEntry    string
	// Name tags log lines (usually the request id of the connection).
	Name string
}

// Snapshot is the read model handed to the presentation layer.
type Snapshot struct {
	SignedIn   bool              `json:"signed_in"`
	Identity   *domain.Identity  `json:"identity,omitempty"`
	Bookmarks  []domain.Bookmark `json:"bookmarks"`
	DraftURL   string            `json:"draft_url"`
	DraftTitle string            `json:"draft_title"`
	Submitting bool              `json:"submitting"`
}

// removal remembers where an optimistically deleted bookmark was,
// so strict reconciliation can put it back if the store refuses.
type removal struct {
	record domain.Bookmark
	index  int
}

// View is one activation of the dashboard.
//
// All state lives behind mu. Remote calls are made without holding it, and
// every completion re-checks epoch: a completion that started before a
// sign-out or a Deactivate is dropped.
type View struct {
	auth   backend.Auth
	store  backend.Store
	feed   backend.Feed
	logger logger.Logger
	opts   Options

	mu         sync.Mutex
	activated  bool
	closed     bool
	epoch      uint64
	identity   *domain.Identity
	bookmarks  []domain.Bookmark
	draftURL   string
	draftTitle string
	draftRev   uint64 // bumped by SetDraft
	pending    int
	sub        backend.Subscription
	removed    map[string]*removal
	onChange   func()
}

// New builds an inactive view. Nothing is fetched until Activate.
func New(auth backend.Auth, store backend.Store, feed backend.Feed, log logger.Logger, opts Options) *View {
	if opts.Reconciliation == "" {
		opts.Reconciliation = ReconcileReference
	}
	if opts.PublicEntry == "" {
		opts.PublicEntry = DefaultPublicEntry
	}
	return &View{
		auth:      auth,
		store:     store,
		feed:      feed,
		logger:    log.With(logger.String("view", opts.Name)),
		opts:      opts,
		bookmarks: []domain.Bookmark{},
		removed:   make(map[string]*removal),
	}
}

// OnChange registers fn to be called after every state change.
// fn runs on whichever goroutine made the change and must not block;
// read the new state with Snapshot.
func (v *View) OnChange(fn func()) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := Snapshot{
		SignedIn:   v.identity != nil,
		Bookmarks:  append([]domain.Bookmark{}, v.bookmarks...),
		DraftURL:   v.draftURL,
		DraftTitle: v.draftTitle,
		Submitting: v.pending > 0,
	}
	if v.identity != nil {
		id := *v.identity
		s.Identity = &id
	}
	return s
}

func (v *View) changed() {
	v.mu.Lock()
	fn := v.onChange
	v.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (v *View) strict() bool {
	return v.opts.Reconciliation == ReconcileStrict
}

// Activate resolves the identity, opens the change feed and runs the
// initial fetch. Only the first call does anything. Without an identity the
// view stays signed out: no fetch, no subscription.
func (v *View) Activate(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if v.activated {
		v.mu.Unlock()
		return nil
	}
	v.activated = true
	epoch := v.epoch
	v.mu.Unlock()

	id, err := v.auth.CurrentIdentity(ctx)
	if err != nil {
		v.logger.Warn("identity resolution failed, view stays signed out",
			logger.Error(err))
		id = nil
	}

	v.mu.Lock()
	if v.epoch != epoch {
		v.mu.Unlock()
		return ErrClosed
	}
	if id == nil {
		v.mu.Unlock()
		v.logger.Debug("view activated signed out")
		v.changed()
		return nil
	}
	v.identity = id
	v.mu.Unlock()
	v.changed()

	v.logger.Debug("view activated",
		logger.String("user_id", id.ID))

	if err := v.subscribe(ctx, epoch, id.ID); err != nil {
		return err
	}
	v.fetch(ctx, epoch, id.ID)
	return nil
}

func (v *View) subscribe(ctx context.Context, epoch uint64, owner string) error {
	sub, err := v.feed.Subscribe(ctx, owner, v.handler(epoch))
	if err != nil {
		// The list still loads, it just will not update live.
		v.logger.Warn("change feed unavailable",
			logger.Error(err))
		return nil
	}

	v.mu.Lock()
	if v.epoch != epoch {
		v.mu.Unlock()
		_ = sub.Unsubscribe()
		return ErrClosed
	}
	v.sub = sub
	v.mu.Unlock()
	return nil
}

// fetch replaces the whole list with the store's view of it.
// A failed fetch leaves the list untouched.
func (v *View) fetch(ctx context.Context, epoch uint64, owner string) {
	list, err := v.store.List(ctx, owner)

	v.mu.Lock()
	if v.epoch != epoch {
		v.mu.Unlock()
		return
	}
	if err != nil {
		v.mu.Unlock()
		v.logger.Warn("bookmark fetch failed",
			logger.Error(err))
		return
	}
	if list == nil {
		list = []domain.Bookmark{}
	}
	v.bookmarks = append([]domain.Bookmark{}, list...)
	v.mu.Unlock()

	v.changed()
}

// Refresh runs the fetch again, discarding local drift.
func (v *View) Refresh(ctx context.Context) error {
	done, err := v.BeginRefresh()
	if err != nil {
		return err
	}
	return done(ctx)
}

// BeginRefresh pins the refetch to the current activation.
func (v *View) BeginRefresh() (Completion, error) {
	v.mu.Lock()
	if v.identity == nil {
		v.mu.Unlock()
		return nil, ErrSignedOut
	}
	epoch, owner := v.epoch, v.identity.ID
	v.mu.Unlock()

	return func(ctx context.Context) error {
		v.fetch(ctx, epoch, owner)
		return nil
	}, nil
}

// handler applies feed events for the activation identified by epoch.
func (v *View) handler(epoch uint64) backend.Handler {
	return func(ev domain.ChangeEvent) {
		if ev.Kind == domain.EventResync {
			v.resync(epoch)
			return
		}
		if !v.apply(epoch, ev) {
			return
		}
		v.changed()
	}
}

// resync refetches in the background: the feed may have dropped events.
func (v *View) resync(epoch uint64) {
	v.mu.Lock()
	if v.epoch != epoch || v.identity == nil {
		v.mu.Unlock()
		return
	}
	owner := v.identity.ID
	v.mu.Unlock()

	v.logger.Info("change feed resynced, refetching")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
		defer cancel()
		v.fetch(ctx, epoch, owner)
	}()
}

func (v *View) apply(epoch uint64, ev domain.ChangeEvent) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.epoch != epoch || v.identity == nil {
		return false
	}

	id := ev.Record.ID
	switch ev.Kind {
	case domain.EventInsert:
		if ev.Record.Owner != v.identity.ID {
			return false
		}
		if v.strict() {
			if domain.IndexOf(v.bookmarks, id) >= 0 {
				return false
			}
			if _, gone := v.removed[id]; gone {
				return false
			}
		}
		v.bookmarks = domain.Prepend(v.bookmarks, ev.Record)
		return true

	case domain.EventDelete:
		// The store confirmed it: nothing left to roll back.
		delete(v.removed, id)
		if domain.IndexOf(v.bookmarks, id) < 0 {
			return false
		}
		v.bookmarks = domain.Without(v.bookmarks, id)
		return true

	default:
		return false
	}
}

// Completion is the remote half of a user action. The local half has
// already been applied when a Begin method returns it.
type Completion func(ctx context.Context) error

// SetDraft updates the create form fields.
func (v *View) SetDraft(url, title string) {
	v.mu.Lock()
	v.draftURL, v.draftTitle = url, title
	v.draftRev++
	v.mu.Unlock()
	v.changed()
}

// Submit creates a bookmark from the current draft.
func (v *View) Submit(ctx context.Context) error {
	done, err := v.BeginSubmit()
	if err != nil {
		return err
	}
	return done(ctx)
}

// BeginSubmit captures the current draft and starts creating it.
func (v *View) BeginSubmit() (Completion, error) {
	v.mu.Lock()
	url, title := v.draftURL, v.draftTitle
	v.mu.Unlock()
	return v.BeginCreate(url, title)
}

// Create inserts a bookmark and prepends the stored row once the store
// confirms it. The draft fields are cleared whatever the outcome, unless
// they were edited while the insert was outstanding.
// Missing fields, an invalid url or a signed out view make it a no-op.
func (v *View) Create(ctx context.Context, url, title string) error {
	done, err := v.BeginCreate(url, title)
	if err != nil {
		return err
	}
	return done(ctx)
}

// BeginCreate validates the input and marks the view as submitting.
// The returned Completion performs the insert.
func (v *View) BeginCreate(url, title string) (Completion, error) {
	v.mu.Lock()
	if v.identity == nil {
		v.mu.Unlock()
		return nil, ErrSignedOut
	}
	if strings.TrimSpace(url) == "" || strings.TrimSpace(title) == "" {
		v.mu.Unlock()
		return nil, ErrIncomplete
	}
	nb := domain.NewBookmark{URL: url, Title: title, Owner: v.identity.ID}
	if err := nb.Validate(); err != nil {
		v.mu.Unlock()
		return nil, err
	}
	epoch, rev := v.epoch, v.draftRev
	v.pending++
	v.mu.Unlock()
	v.changed()

	return func(ctx context.Context) error {
		b, err := v.store.Insert(ctx, nb)

		v.mu.Lock()
		if v.epoch != epoch {
			v.mu.Unlock()
			return ErrClosed
		}
		v.pending--
		// A draft typed after this create started is kept.
		if v.draftRev == rev {
			v.draftURL, v.draftTitle = "", ""
		}
		if err == nil && !(v.strict() && domain.IndexOf(v.bookmarks, b.ID) >= 0) {
			v.bookmarks = domain.Prepend(v.bookmarks, b)
		}
		v.mu.Unlock()
		v.changed()

		if err != nil {
			v.logger.Warn("bookmark create failed",
				logger.Error(err))
			return fmt.Errorf("failed to create bookmark: %w", err)
		}
		return nil
	}, nil
}

// Delete removes id from the list immediately, then from the store.
//
// Reference reconciliation never undoes the local removal. Strict
// reconciliation puts the bookmark back where it was if the store fails.
func (v *View) Delete(ctx context.Context, id string) error {
	done, err := v.BeginDelete(id)
	if err != nil {
		return err
	}
	return done(ctx)
}

// BeginDelete applies the optimistic removal. The returned Completion
// deletes from the store and, in strict mode, rolls back on failure.
func (v *View) BeginDelete(id string) (Completion, error) {
	v.mu.Lock()
	if v.identity == nil {
		v.mu.Unlock()
		return nil, ErrSignedOut
	}
	// Only the call that removed the entry owns its rollback record.
	var mine *removal
	idx := domain.IndexOf(v.bookmarks, id)
	if _, pending := v.removed[id]; idx >= 0 && v.strict() && !pending {
		mine = &removal{record: v.bookmarks[idx], index: idx}
		v.removed[id] = mine
	}
	v.bookmarks = domain.Without(v.bookmarks, id)
	epoch, owner := v.epoch, v.identity.ID
	v.mu.Unlock()
	v.changed()

	return func(ctx context.Context) error {
		err := v.store.Delete(ctx, owner, id)

		v.mu.Lock()
		if v.epoch != epoch {
			v.mu.Unlock()
			return err
		}
		owned := mine != nil && v.removed[id] == mine
		if owned {
			delete(v.removed, id)
		}
		restored := false
		if err != nil && owned && domain.IndexOf(v.bookmarks, id) < 0 {
			at := min(mine.index, len(v.bookmarks))
			restored = true
			v.bookmarks = slices.Insert(v.bookmarks, at, mine.record)
		}
		v.mu.Unlock()

		if err != nil {
			v.logger.Warn("bookmark delete failed",
				logger.String("bookmark_id", id),
				logger.Bool("restored", restored),
				logger.Error(err))
			if restored {
				v.changed()
			}
			return fmt.Errorf("failed to delete bookmark: %w", err)
		}
		return nil
	}, nil
}

// Logout ends the session and returns where the client should go next.
// The identity is dropped right away, which releases the change feed.
func (v *View) Logout(ctx context.Context) string {
	to, done := v.BeginLogout()
	_ = done(ctx)
	return to
}

// BeginLogout signs the view out locally and returns the public entry
// point. The returned Completion ends the session with the auth provider.
func (v *View) BeginLogout() (string, Completion) {
	v.mu.Lock()
	v.epoch++
	v.identity = nil
	v.bookmarks = []domain.Bookmark{}
	v.draftURL, v.draftTitle = "", ""
	v.pending = 0
	clear(v.removed)
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	v.release(sub)
	v.changed()

	return v.opts.PublicEntry, func(ctx context.Context) error {
		if err := v.auth.EndSession(ctx); err != nil {
			v.logger.Warn("failed to end session",
				logger.Error(err))
			return err
		}
		return nil
	}
}

// Deactivate tears the view down. Late completions are ignored from now on.
func (v *View) Deactivate() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.epoch++
	v.onChange = nil
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	v.release(sub)
	v.logger.Debug("view deactivated")
}

// release must be called without mu: Unsubscribe waits for an in-flight
// handler, and handlers take mu.
func (v *View) release(sub backend.Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		v.logger.Warn("failed to release change feed",
			logger.Error(err))
	}
}
