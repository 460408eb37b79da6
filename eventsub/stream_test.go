package eventsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	api  *fakeAPI
	disp *Dispatcher
}

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()
	api := newFakeAPI(0)
	reg := NewRegistry(api, "https://example.com/cb", "s3cr3t-s3cr3t", nil)
	require.NoError(t, reg.Reconcile(context.Background()))
	return &harness{api: api, disp: NewDispatcher(NewBus[Message](8), NewGate(online), reg, nil)}
}

type recorder struct {
	mu   sync.Mutex
	got  []string
	seen chan string
}

func newRecorder() *recorder { return &recorder{seen: make(chan string, 32)} }

func (r *recorder) handle(_ context.Context, ev ChannelChatMessageEvent) error {
	r.mu.Lock()
	r.got = append(r.got, ev.Message.Text)
	r.mu.Unlock()
	r.seen <- ev.Message.Text
	return nil
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func chat(text string) Notification {
	return note(TypeChannelChatMessage, ChannelChatMessageEvent{Message: ChatMessage{Text: text}})
}

func (h *harness) start(t *testing.T, typ string, handler Handler) (Subscription, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	l := h.disp.Listen(typ, "1", Condition{"broadcaster_user_id": "1337"})
	go func() { done <- l.Run(ctx, handler) }()
	select {
	case sub := <-h.api.created:
		return sub, cancel, done
	case <-time.After(time.Second):
		cancel()
		t.Fatal("listener did not create its subscription")
		return Subscription{}, nil, nil
	}
}

func TestListenIsLazy(t *testing.T) {
	h := newHarness(t, true)
	h.disp.Listen(TypeChannelChatMessage, "1", nil)
	assert.Equal(t, 0, h.api.count())
}

func TestListenerDeliversOnlyItsType(t *testing.T) {
	h := newHarness(t, true)
	rec := newRecorder()
	_, cancel, done := h.start(t, TypeChannelChatMessage, Handle(rec.handle))
	defer cancel()

	ctx := context.Background()
	require.NoError(t, h.disp.Publish(ctx, note(TypeChannelPointsRedemption, ChannelPointsRedemptionEvent{UserInput: "ignored"})))
	require.NoError(t, h.disp.Publish(ctx, chat("hello")))

	assert.Equal(t, "hello", <-rec.seen)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"hello"}, rec.texts())
}

func TestOfflineThenOnlineChat(t *testing.T) {
	h := newHarness(t, false)
	rec := newRecorder()
	_, cancel, done := h.start(t, TypeChannelChatMessage, Handle(rec.handle))
	defer cancel()

	ctx := context.Background()
	require.NoError(t, h.disp.Publish(ctx, chat("while offline")))
	require.NoError(t, h.disp.Publish(ctx, note(TypeStreamOnline, StreamOnlineEvent{Type: "live"})))
	require.NoError(t, h.disp.Publish(ctx, chat("while online")))
	require.NoError(t, h.disp.Publish(ctx, note(TypeStreamOffline, StreamOfflineEvent{})))
	require.NoError(t, h.disp.Publish(ctx, chat("offline again")))
	require.NoError(t, h.disp.Publish(ctx, note(TypeStreamOnline, StreamOnlineEvent{Type: "live"})))
	require.NoError(t, h.disp.Publish(ctx, chat("back")))

	assert.Equal(t, "while online", <-rec.seen)
	assert.Equal(t, "back", <-rec.seen)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"while online", "back"}, rec.texts())
}

func TestLivenessNotificationsAlwaysReachListeners(t *testing.T) {
	h := newHarness(t, false)
	got := make(chan string, 4)
	_, cancel, done := h.start(t, TypeStreamOffline, func(_ context.Context, n Notification) error {
		got <- n.Subscription.Type
		return nil
	})
	defer cancel()

	require.NoError(t, h.disp.Publish(context.Background(), note(TypeStreamOffline, StreamOfflineEvent{})))
	assert.Equal(t, TypeStreamOffline, <-got)
	cancel()
	require.NoError(t, <-done)
}

func TestCancelDeletesExactlyOnceAndStopsDelivery(t *testing.T) {
	h := newHarness(t, true)
	rec := newRecorder()
	sub, cancel, done := h.start(t, TypeChannelChatMessage, Handle(rec.handle))

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.api.deletesOf(sub.ID))
	assert.Equal(t, 0, h.api.count())

	require.NoError(t, h.disp.Publish(context.Background(), chat("after cancel")))
	assert.Empty(t, rec.texts())
	assert.Equal(t, 0, h.disp.bus.Len())
}

func TestHandlerErrorDoesNotStopListener(t *testing.T) {
	h := newHarness(t, true)
	calls := make(chan string, 4)
	_, cancel, done := h.start(t, TypeChannelChatMessage, Handle(func(_ context.Context, ev ChannelChatMessageEvent) error {
		calls <- ev.Message.Text
		return errors.New("handler failed")
	}))
	defer cancel()

	require.NoError(t, h.disp.Publish(context.Background(), chat("one")))
	require.NoError(t, h.disp.Publish(context.Background(), chat("two")))
	assert.Equal(t, "one", <-calls)
	assert.Equal(t, "two", <-calls)
	cancel()
	require.NoError(t, <-done)
}

func TestRunReturnsCreateError(t *testing.T) {
	h := newHarness(t, true)
	h.api.mu.Lock()
	h.api.createErr = errors.New("403 subscription limit")
	h.api.mu.Unlock()

	err := h.disp.Listen(TypeChannelChatMessage, "1", nil).Run(context.Background(), func(context.Context, Notification) error { return nil })
	require.Error(t, err)
	assert.Equal(t, 0, h.disp.bus.Len(), "bus subscription released")
}

func TestPendingCreateDoesNotStallOtherListeners(t *testing.T) {
	api := newFakeAPI(0)
	release := make(chan struct{})
	api.blockCreate = map[string]chan struct{}{TypeStreamOffline: release}
	reg := NewRegistry(api, "https://example.com/cb", "s3cr3t-s3cr3t", nil)
	require.NoError(t, reg.Reconcile(context.Background()))
	h := &harness{api: api, disp: NewDispatcher(NewBus[Message](4), NewGate(true), reg, nil)}

	rec := newRecorder()
	_, cancelChat, chatDone := h.start(t, TypeChannelChatMessage, Handle(rec.handle))
	defer cancelChat()

	offline := make(chan string, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	offDone := make(chan error, 1)
	go func() {
		offDone <- h.disp.Listen(TypeStreamOffline, "1", Condition{"broadcaster_user_id": "1337"}).Run(ctx, func(_ context.Context, n Notification) error {
			offline <- n.Subscription.Type
			return nil
		})
	}()
	require.Eventually(t, func() bool { return h.disp.bus.Len() == 2 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 10; i++ {
		pctx, pcancel := context.WithTimeout(context.Background(), time.Second)
		require.NoError(t, h.disp.Publish(pctx, chat(fmt.Sprintf("msg-%d", i))), "publish %d", i)
		pcancel()
	}
	for i := 0; i < 10; i++ {
		select {
		case got := <-rec.seen:
			assert.Equal(t, fmt.Sprintf("msg-%d", i), got)
		case <-time.After(time.Second):
			t.Fatalf("chat message %d not delivered", i)
		}
	}

	// Held until the create completes, then delivered.
	require.NoError(t, h.disp.Publish(context.Background(), note(TypeStreamOffline, StreamOfflineEvent{})))
	close(release)
	select {
	case got := <-offline:
		assert.Equal(t, TypeStreamOffline, got)
	case <-time.After(time.Second):
		t.Fatal("offline notification published during create was not delivered")
	}

	cancel()
	require.NoError(t, <-offDone)
	cancelChat()
	require.NoError(t, <-chatDone)
}

func TestCancelDuringPendingCreateReleasesBus(t *testing.T) {
	api := newFakeAPI(0)
	api.blockCreate = map[string]chan struct{}{TypeStreamOffline: make(chan struct{})}
	reg := NewRegistry(api, "https://example.com/cb", "s3cr3t-s3cr3t", nil)
	require.NoError(t, reg.Reconcile(context.Background()))
	disp := NewDispatcher(NewBus[Message](1), NewGate(true), reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- disp.Listen(TypeStreamOffline, "1", nil).Run(ctx, func(context.Context, Notification) error { return nil })
	}()
	require.Eventually(t, func() bool { return disp.bus.Len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, disp.bus.Len())
	assert.Equal(t, 0, api.count())
}

func TestSlowDeleteDoesNotStallPublish(t *testing.T) {
	h := newHarness(t, true)
	release := make(chan struct{})
	h.api.mu.Lock()
	h.api.blockDelete = release
	h.api.mu.Unlock()

	rec := newRecorder()
	sub, cancel, done := h.start(t, TypeChannelChatMessage, Handle(rec.handle))
	cancel()
	require.Eventually(t, func() bool { return h.disp.bus.Len() == 0 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 20; i++ {
		pctx, pcancel := context.WithTimeout(context.Background(), time.Second)
		require.NoError(t, h.disp.Publish(pctx, chat("while deleting")))
		pcancel()
	}

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.api.deletesOf(sub.ID))
	assert.Empty(t, rec.texts())
}
