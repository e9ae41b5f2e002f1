package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type received struct {
	name string
	data interface{}
}

type fakeSubscriber struct {
	id    string
	mu    sync.Mutex
	got   []received
	block chan struct{}
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) SendEvent(name string, data interface{}) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.got = append(f.got, received{name, data})
	f.mu.Unlock()
	return nil
}

func (f *fakeSubscriber) events() []received {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]received(nil), f.got...)
}

func newTestHub(size int) *Hub {
	return NewHub(size, zap.NewNop().Sugar())
}

func TestParseIsCaseInsensitive(t *testing.T) {
	n, ok := Parse("DOC_Insert")
	require.True(t, ok)
	assert.Equal(t, DocInsert, n)

	_, ok = Parse("doc_upsert")
	assert.False(t, ok)
}

func TestSubscribeAndEmit(t *testing.T) {
	h := newTestHub(8)
	defer h.Close()

	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b"}
	h.Register(a)
	h.Register(b)

	require.NoError(t, h.Subscribe(a, []string{"db_create", "DOC_INSERT", "bogus"}))
	require.NoError(t, h.Subscribe(b, []string{"db_delete"}))
	assert.ElementsMatch(t, []Name{DBCreate, DocInsert}, h.Subscriptions(a))

	h.Emit(DBCreate, DatabasePayload{Name: "shop"})
	h.Emit(DocInsert, InsertPayload{DB: "shop", Collection: "orders"})
	h.Emit(Name("bogus"), nil)

	require.Eventually(t, func() bool { return len(a.events()) == 2 }, time.Second, 5*time.Millisecond)
	got := a.events()
	assert.Equal(t, "db_create", got[0].name)
	assert.Equal(t, DatabasePayload{Name: "shop"}, got[0].data)
	assert.Equal(t, "doc_insert", got[1].name)
	assert.Empty(t, b.events())
}

func TestUnsubscribe(t *testing.T) {
	h := newTestHub(8)
	defer h.Close()

	a := &fakeSubscriber{id: "a"}
	h.Register(a)
	require.NoError(t, h.Subscribe(a, []string{"db_create", "db_delete"}))
	require.NoError(t, h.Unsubscribe(a, []string{"Db_Create"}))

	assert.Equal(t, []Name{DBDelete}, h.Subscriptions(a))
}

func TestSubscribeUnregistered(t *testing.T) {
	h := newTestHub(8)
	defer h.Close()

	err := h.Subscribe(&fakeSubscriber{id: "ghost"}, []string{"db_create"})
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestPerSubscriberOrder(t *testing.T) {
	h := newTestHub(64)
	defer h.Close()

	a := &fakeSubscriber{id: "a"}
	h.Register(a)
	require.NoError(t, h.Subscribe(a, []string{"db_create"}))

	for i := 0; i < 20; i++ {
		h.Emit(DBCreate, i)
	}

	require.Eventually(t, func() bool { return len(a.events()) == 20 }, time.Second, 5*time.Millisecond)
	for i, ev := range a.events() {
		assert.Equal(t, i, ev.data)
	}
}

func TestFullMailboxDropsWithoutBlocking(t *testing.T) {
	h := newTestHub(1)

	slow := &fakeSubscriber{id: "slow", block: make(chan struct{})}
	h.Register(slow)
	require.NoError(t, h.Subscribe(slow, []string{"db_create"}))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Emit(DBCreate, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full mailbox")
	}

	close(slow.block)
	h.Close()
	assert.Less(t, len(slow.events()), 10)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	h := newTestHub(8)
	defer h.Close()

	a := &fakeSubscriber{id: "a"}
	h.Register(a)
	require.NoError(t, h.Subscribe(a, []string{"db_create"}))
	h.Unregister(a)

	h.Emit(DBCreate, "x")
	assert.Nil(t, h.Subscriptions(a))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, a.events())
}
