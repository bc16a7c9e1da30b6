package provider

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// fakeMessage is one message seeded into a FakeProvider.
type fakeMessage struct {
	ref     MessageRef
	raw     RawMessage
	deleted bool
	seq     int
}

// FakeProvider is a deterministic in-memory Provider used by pipeline and
// sync-controller tests in place of a real Gmail account. Seed(...) adds
// messages; Delete(...), InvalidateCursor(...) and FailNext(...) let
// tests script incremental-sync scenarios without a live API.
type FakeProvider struct {
	mu            sync.Mutex
	profile       Profile
	messages      map[string]*fakeMessage
	seq           int
	history       []HistoryEvent
	cursors       map[int]string // seq -> cursor snapshot after that event
	badCursor     string
	failNext      int
	failNextErr   error
}

// NewFakeProvider builds an empty FakeProvider reporting profile as its
// mailbox identity.
func NewFakeProvider(profile Profile) *FakeProvider {
	return &FakeProvider{
		profile:  profile,
		messages: make(map[string]*fakeMessage),
		cursors:  make(map[int]string),
	}
}

// Seed adds a message as though it always existed, available to both
// ListMessages (backfill) and HistoryDelta (as an "added" event).
func (f *FakeProvider) Seed(raw RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.messages[raw.ProviderMessageID] = &fakeMessage{
		ref:  MessageRef{ProviderMessageID: raw.ProviderMessageID, ProviderThreadID: raw.ProviderThreadID},
		raw:  raw,
		seq:  f.seq,
	}
	f.history = append(f.history, HistoryEvent{Type: "added", ProviderMessageID: raw.ProviderMessageID})
	f.cursors[f.seq] = strconv.Itoa(f.seq)
}

// Delete marks a message removed, surfacing a "removed" HistoryDelta event.
func (f *FakeProvider) Delete(providerMessageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[providerMessageID]; ok {
		m.deleted = true
	}
	f.seq++
	f.history = append(f.history, HistoryEvent{Type: "removed", ProviderMessageID: providerMessageID})
	f.cursors[f.seq] = strconv.Itoa(f.seq)
}

// InvalidateCursor makes every HistoryDelta call using cursor fail with
// ErrCursorInvalid, simulating an aged-out Gmail historyId.
func (f *FakeProvider) InvalidateCursor(cursor string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.badCursor = cursor
}

func (f *FakeProvider) Profile(context.Context) (Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profile
	p.HistoryID = strconv.Itoa(f.seq)
	return p, nil
}

func (f *FakeProvider) ListMessages(_ context.Context, pageToken string) ([]MessageRef, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*fakeMessage
	for _, m := range f.messages {
		if !m.deleted {
			all = append(all, m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	const pageSize = 2
	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("provider: bad fake page token %q", pageToken)
		}
		start = n
	}
	if start >= len(all) {
		return nil, "", nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	refs := make([]MessageRef, 0, end-start)
	for _, m := range all[start:end] {
		refs = append(refs, m.ref)
	}
	next := ""
	if end < len(all) {
		next = strconv.Itoa(end)
	}
	return refs, next, nil
}

// FailNext makes the next n HistoryDelta calls return err, simulating a run
// of transient provider failures for circuit-breaker tests.
func (f *FakeProvider) FailNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
	f.failNextErr = err
}

func (f *FakeProvider) HistoryDelta(_ context.Context, cursor string) ([]HistoryEvent, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return nil, "", f.failNextErr
	}
	if cursor != "" && cursor == f.badCursor {
		return nil, "", ErrCursorInvalid
	}
	from := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrCursorInvalid, err)
		}
		from = n
	}
	if from > len(f.history) {
		return nil, "", ErrCursorInvalid
	}
	events := append([]HistoryEvent(nil), f.history[from:]...)
	return events, strconv.Itoa(f.seq), nil
}

func (f *FakeProvider) FetchRaw(_ context.Context, providerMessageID string) (RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[providerMessageID]
	if !ok || m.deleted {
		return RawMessage{}, ErrMessageGone
	}
	return m.raw, nil
}
