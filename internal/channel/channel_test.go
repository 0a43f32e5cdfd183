package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/fieldsync/internal/config"
	"github.com/xelth-com/fieldsync/internal/models"
)

// recorder collects invalidations delivered to one subscriber
type recorder struct {
	mu   sync.Mutex
	keys [][]string
}

func (r *recorder) fn(keys []string) {
	r.mu.Lock()
	r.keys = append(r.keys, keys)
	r.mu.Unlock()
}

func (r *recorder) got() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.keys...)
}

func TestLocalBusOrderedAndSkipsSelf(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	a := bus.Join(nil)
	b := bus.Join(nil)
	defer a.Close()
	defer b.Close()

	var atA, atB recorder
	a.OnInvalidate(atA.fn)
	b.OnInvalidate(atB.fn)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Broadcast(ctx, []string{RecordKey(models.CollectionWorkOrders, string(rune('0'+i)))}))
	}

	require.Eventually(t, func() bool { return len(atB.got()) == 5 }, time.Second, 5*time.Millisecond)
	for i, keys := range atB.got() {
		assert.Equal(t, []string{"work_orders/" + string(rune('0'+i))}, keys)
	}
	assert.Empty(t, atA.got())
}

func TestDeliverDropsStaleAndDuplicate(t *testing.T) {
	e := newEndpoint(nil)
	var rec recorder
	e.OnInvalidate(rec.fn)

	assert.True(t, e.deliver(Message{Sender: "other", Seq: 2, Keys: []string{"a"}}))
	assert.False(t, e.deliver(Message{Sender: "other", Seq: 2, Keys: []string{"a"}}))
	assert.False(t, e.deliver(Message{Sender: "other", Seq: 1, Keys: []string{"old"}}))
	assert.False(t, e.deliver(Message{Sender: e.sender, Seq: 99, Keys: []string{"self"}}))
	assert.True(t, e.deliver(Message{Sender: "third", Seq: 1, Keys: []string{"b"}}))

	assert.Equal(t, [][]string{{"a"}, {"b"}}, rec.got())
}

func TestUnsubscribeAndPanickingSubscriber(t *testing.T) {
	e := newEndpoint(nil)
	var first, last recorder

	unsubscribe := e.OnInvalidate(first.fn)
	e.OnInvalidate(func([]string) { panic("boom") })
	e.OnInvalidate(last.fn)

	e.deliver(Message{Sender: "x", Seq: 1, Keys: []string{"k1"}})
	unsubscribe()
	unsubscribe()
	e.deliver(Message{Sender: "x", Seq: 2, Keys: []string{"k2"}})

	assert.Equal(t, [][]string{{"k1"}}, first.got())
	assert.Equal(t, [][]string{{"k1"}, {"k2"}}, last.got())
}

func TestHubRelaysWithinTenant(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	a, err := DialWS(ctx, wsURL, "acme", nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := DialWS(ctx, wsURL, "acme", nil)
	require.NoError(t, err)
	defer b.Close()
	other, err := DialWS(ctx, wsURL, "globex", nil)
	require.NoError(t, err)
	defer other.Close()

	local := hub.Attach("acme", nil)
	defer local.Close()

	require.Eventually(t, func() bool { return hub.Clients("acme") == 3 }, time.Second, 5*time.Millisecond)

	var atA, atB, atOther, atLocal recorder
	a.OnInvalidate(atA.fn)
	b.OnInvalidate(atB.fn)
	other.OnInvalidate(atOther.fn)
	local.OnInvalidate(atLocal.fn)

	require.NoError(t, a.Broadcast(ctx, []string{"expenses"}))
	require.NoError(t, local.Broadcast(ctx, []string{"work_orders/42"}))

	require.Eventually(t, func() bool { return len(atB.got()) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(atLocal.got()) == 1 && len(atA.got()) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.ElementsMatch(t, [][]string{{"expenses"}, {"work_orders/42"}}, atB.got())
	assert.Equal(t, [][]string{{"expenses"}}, atLocal.got())
	assert.Equal(t, [][]string{{"work_orders/42"}}, atA.got())
	assert.Empty(t, atOther.got())
}

func TestHubKeepsBusyLocalParticipant(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)

	local := hub.Attach("acme", nil)
	defer local.Close()
	sender := hub.Attach("acme", nil)
	defer sender.Close()

	gate := make(chan struct{})
	var rec recorder
	local.OnInvalidate(func(keys []string) {
		<-gate
		rec.fn(keys)
	})

	// The first message stalls the subscriber; the rest overflow the inbox
	for i := 0; i < inboxSize+10; i++ {
		require.NoError(t, sender.Broadcast(ctx, []string{"work_orders"}))
	}
	assert.Equal(t, 2, hub.Clients("acme"))

	close(gate)
	require.Eventually(t, func() bool {
		for _, keys := range rec.got() {
			if len(keys) == 1 && keys[0] == AllKeys {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// Still attached: later invalidations arrive
	before := len(rec.got())
	require.NoError(t, sender.Broadcast(ctx, []string{"expenses"}))
	require.Eventually(t, func() bool { return len(rec.got()) > before }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, hub.Clients("acme"))
}

func TestFocusFallback(t *testing.T) {
	f := NewFocusFallback(nil)
	var rec recorder
	f.OnInvalidate(rec.fn)

	require.NoError(t, f.Broadcast(context.Background(), []string{"work_orders"}))
	assert.Empty(t, rec.got())

	f.Revalidate()
	assert.Equal(t, [][]string{{AllKeys}}, rec.got())
}

func TestOpenDegradesSilently(t *testing.T) {
	ctx := context.Background()

	ch := Open(ctx, config.ChannelConfig{Backend: "ws"}, "acme", nil, nil)
	_, ok := ch.(*FocusFallback)
	assert.True(t, ok)

	ch = Open(ctx, config.ChannelConfig{Backend: "carrier-pigeon"}, "acme", nil, nil)
	_, ok = ch.(*FocusFallback)
	assert.True(t, ok)

	ch = Open(ctx, config.ChannelConfig{Backend: "local"}, "acme", NewBus(), nil)
	_, ok = ch.(*LocalChannel)
	assert.True(t, ok)
	require.NoError(t, ch.Close())
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "fieldsync.acme.invalidate", Subject("acme"))
}
