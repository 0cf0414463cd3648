package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/hearth/pkg/entity"
)

// fakeChannel is a scripted transport connection.
type fakeChannel struct {
	batches     chan Batch
	disconnects chan error
	closeOnce   sync.Once
	closed      atomic.Bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		batches:     make(chan Batch, 16),
		disconnects: make(chan error, 1),
	}
}

func (f *fakeChannel) Batches() <-chan Batch     { return f.batches }
func (f *fakeChannel) Disconnects() <-chan error { return f.disconnects }

func (f *fakeChannel) Close() error {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		close(f.batches)
		close(f.disconnects)
	})
	return nil
}

func (f *fakeChannel) drop(err error) {
	f.disconnects <- err
}

// fakeDialer hands out scripted connections and counts dials.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeChannel
	errs  []error
	dials int
}

func (d *fakeDialer) dial(context.Context) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++

	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}

	ch := newFakeChannel()
	d.conns = append(d.conns, ch)

	return ch, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.conns[i]
}

func batchOf(ids ...string) Batch {
	b := make(Batch, len(ids))
	for i, id := range ids {
		b[i] = entity.Entity{ID: id, State: "on"}
	}
	return b
}

func collect(t *testing.T) (Handler, func() []Batch) {
	t.Helper()

	var mu sync.Mutex
	var got []Batch

	h := func(b Batch) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, b)
	}

	return h, func() []Batch {
		mu.Lock()
		defer mu.Unlock()
		return append([]Batch(nil), got...)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}

	t.Fatal("condition never became true")
}

func TestAdapterConnectAndDeliver(t *testing.T) {
	dialer := &fakeDialer{}
	a := NewAdapter(dialer.dial, AdapterConfig{})
	defer a.Close()

	h, got := collect(t)
	a.OnBatch(h)

	require.NoError(t, a.Connect(context.Background()))
	assert.Equal(t, StateConnected, a.State())

	dialer.conn(0).batches <- batchOf("light.a")
	dialer.conn(0).batches <- batchOf("light.b")

	waitFor(t, func() bool { return len(got()) == 2 })

	batches := got()
	assert.Equal(t, "light.a", batches[0][0].ID)
	assert.Equal(t, "light.b", batches[1][0].ID)
}

func TestAdapterConnectWhileConnectedIsNoop(t *testing.T) {
	dialer := &fakeDialer{}
	a := NewAdapter(dialer.dial, AdapterConfig{})
	defer a.Close()

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Connect(context.Background()))

	assert.Equal(t, 1, dialer.dialCount())
}

func TestAdapterConcurrentConnectShareOneAttempt(t *testing.T) {
	release := make(chan struct{})
	var dials atomic.Int32

	dial := func(context.Context) (Channel, error) {
		dials.Add(1)
		<-release
		return newFakeChannel(), nil
	}

	a := NewAdapter(dial, AdapterConfig{})
	defer a.Close()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, a.Connect(context.Background()))
		}()
	}

	waitFor(t, func() bool { return dials.Load() == 1 })
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), dials.Load())
}

func TestAdapterConnectFailureReturnsError(t *testing.T) {
	dialer := &fakeDialer{errs: []error{errors.New("refused")}}
	a := NewAdapter(dialer.dial, AdapterConfig{ReconnectInterval: time.Hour})
	defer a.Close()

	err := a.Connect(context.Background())

	require.Error(t, err)
	assert.Equal(t, StateReconnecting, a.State())
}

func TestAdapterReconnectsAfterDisconnect(t *testing.T) {
	dialer := &fakeDialer{}
	a := NewAdapter(dialer.dial, AdapterConfig{ReconnectInterval: 5 * time.Millisecond})
	defer a.Close()

	h, got := collect(t)
	a.OnBatch(h)

	require.NoError(t, a.Connect(context.Background()))

	dialer.conn(0).drop(errors.New("transport reset"))

	waitFor(t, func() bool { return dialer.dialCount() == 2 })
	waitFor(t, func() bool { return a.State() == StateConnected })

	// The new connection delivers to the same handler.
	dialer.conn(1).batches <- batchOf("light.a")
	waitFor(t, func() bool { return len(got()) == 1 })
}

func TestAdapterKeepsRetryingUntilSuccess(t *testing.T) {
	dialer := &fakeDialer{errs: []error{
		nil, // initial connect succeeds
		errors.New("down"),
		errors.New("still down"),
	}}
	a := NewAdapter(dialer.dial, AdapterConfig{ReconnectInterval: 5 * time.Millisecond})
	defer a.Close()

	require.NoError(t, a.Connect(context.Background()))

	dialer.conn(0).drop(nil)

	// Two failed retries, then a successful third.
	waitFor(t, func() bool { return dialer.dialCount() == 4 })
	waitFor(t, func() bool { return a.State() == StateConnected })
}

func TestAdapterCloseCancelsReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	a := NewAdapter(dialer.dial, AdapterConfig{ReconnectInterval: 10 * time.Millisecond})

	require.NoError(t, a.Connect(context.Background()))

	dialer.conn(0).drop(errors.New("gone"))
	waitFor(t, func() bool { return a.State() != StateConnected })

	require.NoError(t, a.Close())

	dials := dialer.dialCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, dials, dialer.dialCount(), "no reconnect attempts after Close")
	assert.Equal(t, StateDisconnected, a.State())
}

func TestAdapterCloseIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	a := NewAdapter(dialer.dial, AdapterConfig{})

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.True(t, dialer.conn(0).closed.Load())
}

func TestAdapterConnectAfterClose(t *testing.T) {
	a := NewAdapter((&fakeDialer{}).dial, AdapterConfig{})

	require.NoError(t, a.Close())

	assert.ErrorIs(t, a.Connect(context.Background()), ErrClosed)
}

func TestAdapterNoHandlerDropsBatch(t *testing.T) {
	// With no handler registered the pump discards batches instead of
	// blocking or crashing.
	dialer := &fakeDialer{}
	a := NewAdapter(dialer.dial, AdapterConfig{})
	defer a.Close()

	require.NoError(t, a.Connect(context.Background()))

	dialer.conn(0).batches <- batchOf("light.a")

	// Nothing to assert beyond "no crash": give the pump a moment.
	time.Sleep(10 * time.Millisecond)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
}
