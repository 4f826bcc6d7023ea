package dashboard

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// ─────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────

type fakeAuth struct {
	mu       sync.Mutex
	identity *domain.Identity
	err      error
	ended    int
}

func (f *fakeAuth) CurrentIdentity(context.Context) (*domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identity, f.err
}

func (f *fakeAuth) EndSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended++
	return nil
}

type fakeStore struct {
	mu        sync.Mutex
	list      []domain.Bookmark
	listErr   error
	listCalls int
	listGate  chan struct{}

	insertResult domain.Bookmark
	insertErr    error
	insertGate   chan struct{}
	inserted     []domain.NewBookmark

	deleteErr     error
	deleteStarted chan struct{}
	deleteGate    chan struct{}
	deleted       []string
}

func (f *fakeStore) List(context.Context, string) ([]domain.Bookmark, error) {
	f.mu.Lock()
	f.listCalls++
	gate := f.listGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Bookmark(nil), f.list...), f.listErr
}

func (f *fakeStore) Insert(_ context.Context, nb domain.NewBookmark) (domain.Bookmark, error) {
	f.mu.Lock()
	f.inserted = append(f.inserted, nb)
	gate := f.insertGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return domain.Bookmark{}, f.insertErr
	}
	b := f.insertResult
	b.URL, b.Title, b.Owner = nb.URL, nb.Title, nb.Owner
	return b, nil
}

func (f *fakeStore) Delete(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	started, gate := f.deleteStarted, f.deleteGate
	f.mu.Unlock()
	if started != nil {
		close(started)
	}
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteErr
}

type fakeFeed struct {
	mu           sync.Mutex
	handler      backend.Handler
	owner        string
	subscribeErr error
	unsubscribed int
}

func (f *fakeFeed) Subscribe(_ context.Context, owner string, h backend.Handler) (backend.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.owner, f.handler = owner, h
	return f, nil
}

func (f *fakeFeed) Unsubscribe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed++
	return nil
}

// emit calls the registered handler even after Unsubscribe, to exercise the
// view's own teardown guard.
func (f *fakeFeed) emit(ev domain.ChangeEvent) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// ─────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────

const owner = "u1"

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func bm(id string, minutes int) domain.Bookmark {
	return domain.Bookmark{
		ID:        id,
		URL:       "https://" + id + ".example",
		Title:     "Bookmark " + id,
		Owner:     owner,
		CreatedAt: t0.Add(time.Duration(minutes) * time.Minute),
	}
}

type harness struct {
	auth  *fakeAuth
	store *fakeStore
	feed  *fakeFeed
	view  *View
}

func newHarness(mode Reconciliation, list ...domain.Bookmark) *harness {
	h := &harness{
		auth:  &fakeAuth{identity: &domain.Identity{ID: owner, Email: "u1@example.com"}},
		store: &fakeStore{list: list},
		feed:  &fakeFeed{},
	}
	h.view = New(h.auth, h.store, h.feed, logger.New("error", false), Options{Reconciliation: mode, Name: "test"})
	return h
}

func (h *harness) activate(t *testing.T) {
	t.Helper()
	if err := h.view.Activate(context.Background()); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
}

func ids(s Snapshot) []string {
	out := make([]string, len(s.Bookmarks))
	for i, b := range s.Bookmarks {
		out[i] = b.ID
	}
	return out
}

func assertIDs(t *testing.T, v *View, want ...string) {
	t.Helper()
	got := ids(v.Snapshot())
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("bookmarks = %v, want %v", got, want)
	}
}

func insertEvent(b domain.Bookmark) domain.ChangeEvent {
	return domain.ChangeEvent{Kind: domain.EventInsert, Record: b}
}

func deleteEvent(id string) domain.ChangeEvent {
	return domain.ChangeEvent{Kind: domain.EventDelete, Record: domain.Bookmark{ID: id, Owner: owner}}
}

// ─────────────────────────────────────────────────────────────────
// Session bootstrap & fetch
// ─────────────────────────────────────────────────────────────────

func TestActivateFetchesAndSubscribes(t *testing.T) {
	h := newHarness(ReconcileReference, bm("1", 1))
	h.activate(t)

	s := h.view.Snapshot()
	if !s.SignedIn || s.Identity == nil || s.Identity.Email != "u1@example.com" {
		t.Errorf("Snapshot() identity = %+v, want signed in as u1", s.Identity)
	}
	assertIDs(t, h.view, "1")
	if h.feed.owner != owner {
		t.Errorf("subscribed owner = %q, want %q", h.feed.owner, owner)
	}
}

func TestActivateRunsOnce(t *testing.T) {
	h := newHarness(ReconcileReference, bm("1", 1))
	h.activate(t)
	h.activate(t)

	if h.store.listCalls != 1 {
		t.Errorf("List() called %d times, want 1", h.store.listCalls)
	}
}

func TestActivateSignedOut(t *testing.T) {
	tests := []struct {
		name string
		auth *fakeAuth
	}{
		{name: "no identity", auth: &fakeAuth{}},
		{name: "auth failure", auth: &fakeAuth{err: errors.New("auth down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, feed := &fakeStore{list: []domain.Bookmark{bm("1", 1)}}, &fakeFeed{}
			v := New(tt.auth, store, feed, logger.New("error", false), Options{})

			if err := v.Activate(context.Background()); err != nil {
				t.Fatalf("Activate() error = %v", err)
			}
			s := v.Snapshot()
			if s.SignedIn || s.Identity != nil || len(s.Bookmarks) != 0 {
				t.Errorf("Snapshot() = %+v, want signed out and empty", s)
			}
			if store.listCalls != 0 {
				t.Error("signed out view must not fetch")
			}
			if feed.handler != nil {
				t.Error("signed out view must not subscribe")
			}
			if err := v.Create(context.Background(), "https://x.com", "X"); !errors.Is(err, ErrSignedOut) {
				t.Errorf("Create() error = %v, want ErrSignedOut", err)
			}
			if err := v.Delete(context.Background(), "1"); !errors.Is(err, ErrSignedOut) {
				t.Errorf("Delete() error = %v, want ErrSignedOut", err)
			}
		})
	}
}

func TestFetchFailureLeavesEmptyList(t *testing.T) {
	h := newHarness(ReconcileReference)
	h.store.listErr = errors.New("boom")
	h.activate(t)

	s := h.view.Snapshot()
	if s.Bookmarks == nil || len(s.Bookmarks) != 0 {
		t.Errorf("bookmarks = %v, want empty", s.Bookmarks)
	}
	if !s.SignedIn {
		t.Error("fetch failure must not sign the view out")
	}
}

func TestFeedUnavailableStillFetches(t *testing.T) {
	h := newHarness(ReconcileReference, bm("1", 1))
	h.feed.subscribeErr = errors.New("no realtime")
	h.activate(t)

	assertIDs(t, h.view, "1")
}

func TestFetchIsFullReplace(t *testing.T) {
	h := newHarness(ReconcileReference, bm("1", 1))
	h.activate(t)
	h.feed.emit(insertEvent(bm("9", 9)))
	assertIDs(t, h.view, "9", "1")

	h.store.mu.Lock()
	h.store.list = []domain.Bookmark{bm("3", 3), bm("2", 2)}
	h.store.mu.Unlock()

	if err := h.view.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	assertIDs(t, h.view, "3", "2")
}

// ─────────────────────────────────────────────────────────────────
// Reference scenarios
// ─────────────────────────────────────────────────────────────────

func TestReferenceLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(ReconcileReference, bm("1", 1))
	h.store.insertResult = domain.Bookmark{ID: "2", CreatedAt: t0.Add(2 * time.Minute)}

	// Fetch populates the list
	h.activate(t)
	assertIDs(t, h.view, "1")

	// Create prepends the canonical row and clears the form
	h.view.SetDraft("https://x.com", "X")
	if err := h.view.Submit(ctx); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	assertIDs(t, h.view, "2", "1")
	s := h.view.Snapshot()
	if s.DraftURL != "" || s.DraftTitle != "" {
		t.Errorf("drafts = %q/%q, want cleared", s.DraftURL, s.DraftTitle)
	}
	if s.Bookmarks[0].URL != "https://x.com" || s.Bookmarks[0].Title != "X" {
		t.Errorf("created bookmark = %+v", s.Bookmarks[0])
	}
	if s.Submitting {
		t.Error("Submitting should be false once the insert completed")
	}

	// The confirmation event of our own insert duplicates it
	created := s.Bookmarks[0]
	h.feed.emit(insertEvent(created))
	assertIDs(t, h.view, "2", "2", "1")

	// Remote delete removes every entry with that id
	h.feed.emit(deleteEvent("1"))
	assertIDs(t, h.view, "2", "2")

	// Local delete is applied before the store answers
	h.store.deleteStarted = make(chan struct{})
	h.store.deleteGate = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- h.view.Delete(ctx, "2") }()

	<-h.store.deleteStarted
	assertIDs(t, h.view)
	close(h.store.deleteGate)
	if err := <-done; err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	assertIDs(t, h.view)
}

func TestDeleteEventIsIdempotent(t *testing.T) {
	h := newHarness(ReconcileReference, bm("2", 2), bm("1", 1))
	h.activate(t)

	notified := 0
	h.view.OnChange(func() { notified++ })
	h.feed.emit(deleteEvent("42"))

	assertIDs(t, h.view, "2", "1")
	if notified != 0 {
		t.Errorf("OnChange called %d times for a no-op delete", notified)
	}
}

func TestOtherEventsIgnored(t *testing.T) {
	h := newHarness(ReconcileReference, bm("1", 1))
	h.activate(t)

	h.feed.emit(domain.ChangeEvent{Kind: domain.EventOther, Record: bm("1", 1)})
	assertIDs(t, h.view, "1")
}

func TestInsertEventForAnotherOwnerIgnored(t *testing.T) {
	h := newHarness(ReconcileReference)
	h.activate(t)

	foreign := bm("7", 7)
	foreign.Owner = "someone-else"
	h.feed.emit(insertEvent(foreign))
	assertIDs(t, h.view)
}

func TestEventsAfterFetchMatchSetModel(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		initial := []domain.Bookmark{bm("f1", 1), bm("f2", 2), bm("f3", 3)}
		h := newHarness(ReconcileReference, initial...)
		h.activate(t)

		model := map[string]bool{"f1": true, "f2": true, "f3": true}
		next := 0
		for step := 0; step < 50; step++ {
			if rng.Intn(2) == 0 {
				next++
				id := fmt.Sprintf("n%d", next)
				h.feed.emit(insertEvent(bm(id, 10+next)))
				model[id] = true
				continue
			}
			// Delete a known or an unknown id
			id := fmt.Sprintf("n%d", rng.Intn(next+2))
			if rng.Intn(4) == 0 {
				id = fmt.Sprintf("f%d", 1+rng.Intn(3))
			}
			h.feed.emit(deleteEvent(id))
			delete(model, id)
		}

		got := ids(h.view.Snapshot())
		want := make([]string, 0, len(model))
		for id := range model {
			want = append(want, id)
		}
		sort.Strings(got)
		sort.Strings(want)
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("round %d: bookmarks = %v, want %v", round, got, want)
		}
	}
}

// ─────────────────────────────────────────────────────────────────
// Create
// ─────────────────────────────────────────────────────────────────

func TestCreateFailure(t *testing.T) {
	h := newHarness(ReconcileReference, bm("1", 1))
	h.store.insertErr = errors.New("insert rejected")
	h.activate(t)

	h.view.SetDraft("https://x.com", "X")
	if err := h.view.Submit(context.Background()); err == nil {
		t.Fatal("Submit() should return the store error")
	}

	assertIDs(t, h.view, "1")
	s := h.view.Snapshot()
	if s.DraftURL != "" || s.DraftTitle != "" {
		t.Error("drafts must be cleared even when the insert fails")
	}
	if s.Submitting {
		t.Error("Submitting must be reset after a failed insert")
	}
}

func TestCreateRequiresFields(t *testing.T) {
	tests := []struct {
		name, url, title string
		wantErr          error
	}{
		{name: "no url", title: "X", wantErr: ErrIncomplete},
		{name: "no title", url: "https://x.com", wantErr: ErrIncomplete},
		{name: "not a url", url: "x.com", title: "X", wantErr: domain.ErrInvalidURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(ReconcileReference)
			h.activate(t)
			h.view.SetDraft(tt.url, tt.title)

			if err := h.view.Submit(context.Background()); !errors.Is(err, tt.wantErr) {
				t.Errorf("Submit() error = %v, want %v", err, tt.wantErr)
			}
			if len(h.store.inserted) != 0 {
				t.Error("no insert should be issued")
			}
			if s := h.view.Snapshot(); s.DraftURL != tt.url || s.DraftTitle != tt.title {
				t.Error("drafts must be kept when nothing was submitted")
			}
		})
	}
}

func TestCreateSetsSubmittingWhileOutstanding(t *testing.T) {
	h := newHarness(ReconcileReference)
	h.store.insertResult = domain.Bookmark{ID: "2"}
	h.store.insertGate = make(chan struct{})
	h.activate(t)

	submitting := make(chan struct{}, 1)
	h.view.OnChange(func() {
		if h.view.Snapshot().Submitting {
			select {
			case submitting <- struct{}{}:
			default:
			}
		}
	})

	done := make(chan error, 1)
	go func() { done <- h.view.Create(context.Background(), "https://x.com", "X") }()

	select {
	case <-submitting:
	case <-time.After(2 * time.Second):
		t.Fatal("Submitting never became true")
	}
	close(h.store.insertGate)
	if err := <-done; err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if h.view.Snapshot().Submitting {
		t.Error("Submitting should be false after completion")
	}
}

// ─────────────────────────────────────────────────────────────────
// Delete
// ─────────────────────────────────────────────────────────────────

func TestReferenceDeleteFailureIsNotRolledBack(t *testing.T) {
	h := newHarness(ReconcileReference, bm("2", 2), bm("1", 1))
	h.store.deleteErr = errors.New("delete rejected")
	h.activate(t)

	if err := h.view.Delete(context.Background(), "2"); err == nil {
		t.Fatal("Delete() should return the store error")
	}
	assertIDs(t, h.view, "1")
}

func TestDeleteUnknownIDStillCallsStore(t *testing.T) {
	h := newHarness(ReconcileReference, bm("1", 1))
	h.activate(t)

	if err := h.view.Delete(context.Background(), "nope"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	assertIDs(t, h.view, "1")
	if len(h.store.deleted) != 1 || h.store.deleted[0] != "nope" {
		t.Errorf("store deletes = %v", h.store.deleted)
	}
}

// ─────────────────────────────────────────────────────────────────
// Strict reconciliation
// ─────────────────────────────────────────────────────────────────

func TestStrictCreateThenConfirmationEvent(t *testing.T) {
	h := newHarness(ReconcileStrict, bm("1", 1))
	h.store.insertResult = domain.Bookmark{ID: "2"}
	h.activate(t)

	if err := h.view.Create(context.Background(), "https://x.com", "X"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	created := h.view.Snapshot().Bookmarks[0]
	h.feed.emit(insertEvent(created))

	assertIDs(t, h.view, "2", "1")
}

func TestStrictConfirmationEventBeforeInsertReturns(t *testing.T) {
	h := newHarness(ReconcileStrict, bm("1", 1))
	h.store.insertResult = domain.Bookmark{ID: "2"}
	h.store.insertGate = make(chan struct{})
	h.activate(t)

	done := make(chan error, 1)
	go func() { done <- h.view.Create(context.Background(), "https://x.com", "X") }()

	// The feed wins the race
	ev := bm("2", 2)
	h.feed.emit(insertEvent(ev))
	close(h.store.insertGate)
	if err := <-done; err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	assertIDs(t, h.view, "2", "1")
}

func TestStrictDeleteFailureRestoresPosition(t *testing.T) {
	h := newHarness(ReconcileStrict, bm("3", 3), bm("2", 2), bm("1", 1))
	h.store.deleteErr = errors.New("delete rejected")
	h.activate(t)

	if err := h.view.Delete(context.Background(), "2"); err == nil {
		t.Fatal("Delete() should return the store error")
	}
	assertIDs(t, h.view, "3", "2", "1")
}

func TestStrictPendingDeleteNotReinstatedByFeed(t *testing.T) {
	h := newHarness(ReconcileStrict, bm("2", 2), bm("1", 1))
	h.store.deleteStarted = make(chan struct{})
	h.store.deleteGate = make(chan struct{})
	h.activate(t)

	done := make(chan error, 1)
	go func() { done <- h.view.Delete(context.Background(), "2") }()
	<-h.store.deleteStarted

	// A stale insert echo arrives while the delete is in flight
	h.feed.emit(insertEvent(bm("2", 2)))
	assertIDs(t, h.view, "1")

	close(h.store.deleteGate)
	if err := <-done; err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	assertIDs(t, h.view, "1")
}

func TestStrictConfirmedDeleteIsNotRestored(t *testing.T) {
	h := newHarness(ReconcileStrict, bm("2", 2), bm("1", 1))
	h.store.deleteStarted = make(chan struct{})
	h.store.deleteGate = make(chan struct{})
	h.store.deleteErr = errors.New("timeout after commit")
	h.activate(t)

	done := make(chan error, 1)
	go func() { done <- h.view.Delete(context.Background(), "2") }()
	<-h.store.deleteStarted

	// The feed confirms the delete before the call fails
	h.feed.emit(deleteEvent("2"))
	close(h.store.deleteGate)
	<-done

	assertIDs(t, h.view, "1")
}

func TestStrictOverlappingDeletesKeepRollback(t *testing.T) {
	h := newHarness(ReconcileStrict, bm("2", 2), bm("1", 1))
	h.activate(t)
	ctx := context.Background()

	first, err := h.view.BeginDelete("2")
	if err != nil {
		t.Fatalf("BeginDelete() error = %v", err)
	}
	second, err := h.view.BeginDelete("2")
	if err != nil {
		t.Fatalf("BeginDelete() error = %v", err)
	}
	assertIDs(t, h.view, "1")

	// The later call lands first and succeeds
	if err := second(ctx); err != nil {
		t.Fatalf("second delete error = %v", err)
	}

	h.store.mu.Lock()
	h.store.deleteErr = errors.New("delete rejected")
	h.store.mu.Unlock()
	if err := first(ctx); err == nil {
		t.Fatal("first delete should return the store error")
	}
	assertIDs(t, h.view, "2", "1")
}

// ─────────────────────────────────────────────────────────────────
// Split actions
// ─────────────────────────────────────────────────────────────────

func TestBeginSubmitCapturesDraft(t *testing.T) {
	h := newHarness(ReconcileReference)
	h.store.insertResult = bm("9", 9)
	h.activate(t)

	h.view.SetDraft("https://go.dev", "Go")
	done, err := h.view.BeginSubmit()
	if err != nil {
		t.Fatalf("BeginSubmit() error = %v", err)
	}
	// The user keeps typing before the insert runs
	h.view.SetDraft("https://pkg.go.dev", "Pkg")

	if !h.view.Snapshot().Submitting {
		t.Error("Submitting should be set once BeginSubmit returns")
	}
	if err := done(context.Background()); err != nil {
		t.Fatalf("completion error = %v", err)
	}

	if len(h.store.inserted) != 1 || h.store.inserted[0].URL != "https://go.dev" {
		t.Errorf("inserted = %+v, want the draft captured at submit", h.store.inserted)
	}
	assertIDs(t, h.view, "9")

	if s := h.view.Snapshot(); s.DraftURL != "https://pkg.go.dev" || s.DraftTitle != "Pkg" {
		t.Errorf("draft = %q/%q, the newer draft should survive the completion", s.DraftURL, s.DraftTitle)
	}
}

func TestBeginSubmitEmptyDraft(t *testing.T) {
	h := newHarness(ReconcileReference)
	h.activate(t)

	if _, err := h.view.BeginSubmit(); !errors.Is(err, ErrIncomplete) {
		t.Errorf("BeginSubmit() error = %v, want ErrIncomplete", err)
	}
	if len(h.store.inserted) != 0 {
		t.Errorf("Insert called with an empty draft: %+v", h.store.inserted)
	}
}

func TestBeginDeleteRemovesBeforeStoreCall(t *testing.T) {
	h := newHarness(ReconcileReference, bm("2", 2), bm("1", 1))
	h.activate(t)

	done, err := h.view.BeginDelete("2")
	if err != nil {
		t.Fatalf("BeginDelete() error = %v", err)
	}
	assertIDs(t, h.view, "1")
	if len(h.store.deleted) != 0 {
		t.Errorf("store called before the completion ran: %v", h.store.deleted)
	}

	if err := done(context.Background()); err != nil {
		t.Fatalf("completion error = %v", err)
	}
	if fmt.Sprint(h.store.deleted) != "[2]" {
		t.Errorf("deleted = %v, want [2]", h.store.deleted)
	}
}

func TestBeginLogoutSignsOutBeforeEndingSession(t *testing.T) {
	h := newHarness(ReconcileReference, bm("1", 1))
	h.activate(t)

	to, done := h.view.BeginLogout()
	if to != DefaultPublicEntry {
		t.Errorf("BeginLogout() = %q, want %q", to, DefaultPublicEntry)
	}
	if h.view.Snapshot().SignedIn {
		t.Error("view should be signed out once BeginLogout returns")
	}
	if h.auth.ended != 0 {
		t.Errorf("EndSession called %d times before the completion ran", h.auth.ended)
	}
	if _, err := h.view.BeginCreate("https://go.dev", "Go"); !errors.Is(err, ErrSignedOut) {
		t.Errorf("BeginCreate() after logout error = %v, want ErrSignedOut", err)
	}

	if err := done(context.Background()); err != nil {
		t.Fatalf("completion error = %v", err)
	}
	if h.auth.ended != 1 {
		t.Errorf("EndSession called %d times, want 1", h.auth.ended)
	}
}

func TestBeginRefreshSignedOut(t *testing.T) {
	h := newHarness(ReconcileReference)
	if _, err := h.view.BeginRefresh(); !errors.Is(err, ErrSignedOut) {
		t.Errorf("BeginRefresh() error = %v, want ErrSignedOut", err)
	}
}

// ─────────────────────────────────────────────────────────────────
// Resync
// ─────────────────────────────────────────────────────────────────

func resyncEvent() domain.ChangeEvent {
	return domain.ChangeEvent{Kind: domain.EventResync, Record: domain.Bookmark{Owner: owner}}
}

func TestResyncRefetches(t *testing.T) {
	h := newHarness(ReconcileReference, bm("1", 1))
	h.activate(t)

	// Written while the feed was down
	h.store.mu.Lock()
	h.store.list = []domain.Bookmark{bm("2", 2), bm("1", 1)}
	h.store.mu.Unlock()

	h.feed.emit(resyncEvent())

	deadline := time.Now().Add(2 * time.Second)
	for fmt.Sprint(ids(h.view.Snapshot())) != "[2 1]" {
		if time.Now().After(deadline) {
			t.Fatalf("bookmarks = %v after resync, want [2 1]", ids(h.view.Snapshot()))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResyncAfterDeactivateIgnored(t *testing.T) {
	h := newHarness(ReconcileReference, bm("1", 1))
	h.activate(t)
	h.view.Deactivate()

	h.feed.emit(resyncEvent())
	time.Sleep(20 * time.Millisecond)

	h.store.mu.Lock()
	calls := h.store.listCalls
	h.store.mu.Unlock()
	if calls != 1 {
		t.Errorf("List called %d times, want only the initial fetch", calls)
	}
}

// ─────────────────────────────────────────────────────────────────
// Teardown
// ─────────────────────────────────────────────────────────────────

func TestLateFetchAfterDeactivateIgnored(t *testing.T) {
	h := newHarness(ReconcileReference, bm("1", 1))
	h.store.listGate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.view.Activate(context.Background()) }()

	// Wait for the subscription so Deactivate has something to release
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.feed.mu.Lock()
		subscribed := h.feed.handler != nil
		h.feed.mu.Unlock()
		if subscribed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("view never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	h.view.Deactivate()
	close(h.store.listGate)
	<-done

	assertIDs(t, h.view)
	if h.feed.unsubscribed != 1 {
		t.Errorf("Unsubscribe called %d times, want 1", h.feed.unsubscribed)
	}

	h.feed.emit(insertEvent(bm("5", 5)))
	assertIDs(t, h.view)

	if err := h.view.Activate(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Activate() after Deactivate() error = %v, want ErrClosed", err)
	}
}

func TestLateInsertAfterDeactivateIgnored(t *testing.T) {
	h := newHarness(ReconcileReference)
	h.store.insertResult = domain.Bookmark{ID: "2"}
	h.store.insertGate = make(chan struct{})
	h.activate(t)

	done := make(chan error, 1)
	go func() { done <- h.view.Create(context.Background(), "https://x.com", "X") }()

	// Make sure the insert is in flight
	for {
		h.store.mu.Lock()
		n := len(h.store.inserted)
		h.store.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	h.view.Deactivate()
	close(h.store.insertGate)
	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Errorf("Create() error = %v, want ErrClosed", err)
	}
	assertIDs(t, h.view)
}

func TestLogout(t *testing.T) {
	h := newHarness(ReconcileReference, bm("1", 1))
	h.activate(t)

	if to := h.view.Logout(context.Background()); to != DefaultPublicEntry {
		t.Errorf("Logout() = %q, want %q", to, DefaultPublicEntry)
	}
	if h.auth.ended != 1 {
		t.Errorf("EndSession called %d times, want 1", h.auth.ended)
	}
	if h.feed.unsubscribed != 1 {
		t.Errorf("Unsubscribe called %d times, want 1", h.feed.unsubscribed)
	}

	s := h.view.Snapshot()
	if s.SignedIn || len(s.Bookmarks) != 0 {
		t.Errorf("Snapshot() after Logout() = %+v, want signed out and empty", s)
	}

	// Events for the old identity no longer apply
	h.feed.emit(insertEvent(bm("3", 3)))
	assertIDs(t, h.view)
}

func TestLogoutCustomEntry(t *testing.T) {
	v := New(&fakeAuth{}, &fakeStore{}, &fakeFeed{}, logger.New("error", false), Options{PublicEntry: "/welcome"})
	if to := v.Logout(context.Background()); to != "/welcome" {
		t.Errorf("Logout() = %q, want /welcome", to)
	}
}

func TestParseReconciliation(t *testing.T) {
	tests := []struct {
		in      string
		want    Reconciliation
		wantErr bool
	}{
		{in: "", want: ReconcileReference},
		{in: "reference", want: ReconcileReference},
		{in: "strict", want: ReconcileStrict},
		{in: "lenient", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseReconciliation(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseReconciliation(%q) = %q, %v", tt.in, got, err)
		}
	}
}
