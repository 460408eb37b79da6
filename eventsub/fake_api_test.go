package eventsub

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// fakeAPI is an in-memory SubscriptionAPI that records the order of calls.
type fakeAPI struct {
	mu        sync.Mutex
	subs      map[string]Subscription
	nextID    int
	pageSize  int
	calls     []string
	createErr error
	deleteErr error
	created   chan Subscription

	// blockCreate holds creates of a type until its channel closes.
	blockCreate map[string]chan struct{}
	blockDelete chan struct{}
}

func newFakeAPI(existing int) *fakeAPI {
	f := &fakeAPI{subs: map[string]Subscription{}, pageSize: 2, created: make(chan Subscription, 64)}
	for i := 0; i < existing; i++ {
		f.nextID++
		id := fmt.Sprintf("stale-%d", f.nextID)
		f.subs[id] = Subscription{ID: id, Type: TypeChannelChatMessage, Status: "enabled"}
	}
	return f
}

func (f *fakeAPI) CreateSubscription(ctx context.Context, req CreateRequest) (Subscription, error) {
	f.mu.Lock()
	wait := f.blockCreate[req.Type]
	f.mu.Unlock()
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return Subscription{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "create "+req.Type)
	if f.createErr != nil {
		return Subscription{}, f.createErr
	}
	f.nextID++
	sub := Subscription{
		ID:        fmt.Sprintf("sub-%d", f.nextID),
		Type:      req.Type,
		Version:   req.Version,
		Status:    "webhook_callback_verification_pending",
		Condition: req.Condition,
		Transport: Transport{Method: req.Transport.Method, Callback: req.Transport.Callback},
	}
	f.subs[sub.ID] = sub
	f.created <- sub
	return sub, nil
}

func (f *fakeAPI) ListSubscriptions(_ context.Context, cursor string) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "list")
	ids := make([]string, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	start := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &start)
	}
	end := start + f.pageSize
	if end > len(ids) {
		end = len(ids)
	}
	var page Page
	for _, id := range ids[start:end] {
		page.Subscriptions = append(page.Subscriptions, f.subs[id])
	}
	if end < len(ids) {
		page.Cursor = fmt.Sprintf("%d", end)
	}
	return page, nil
}

func (f *fakeAPI) DeleteSubscription(ctx context.Context, id string) error {
	f.mu.Lock()
	wait := f.blockDelete
	f.mu.Unlock()
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete "+id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.subs, id)
	return nil
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeAPI) deletesOf(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == "delete "+id {
			n++
		}
	}
	return n
}

func (f *fakeAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
