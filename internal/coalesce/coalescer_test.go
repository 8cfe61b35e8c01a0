package coalesce

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weeklet/internal/kv"
	"weeklet/internal/testutil"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestCoalescer_LastWriteWins(t *testing.T) {
	backend := testutil.NewFakeBackend(kv.AreaSync)
	c := New(backend, WithQuietPeriod(time.Hour))

	c.Enqueue("k", raw(`"v1"`))
	c.Enqueue("k", raw(`"v2"`))
	assert.Equal(t, 1, c.Pending())

	require.NoError(t, c.Flush(context.Background()))

	calls := backend.SetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]json.RawMessage{"k": raw(`"v2"`)}, calls[0])
}

func TestCoalescer_DistinctKeysShareOneSet(t *testing.T) {
	backend := testutil.NewFakeBackend(kv.AreaSync)
	c := New(backend, WithQuietPeriod(20*time.Millisecond))

	c.Enqueue("tasks_2024-01-01", raw(`[]`))
	c.Enqueue("tasks_2024-01-02", raw(`[]`))
	ticket := c.Enqueue("settings", raw(`{}`))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ticket.Wait(ctx))

	calls := backend.SetCalls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0], 3)
}

func TestCoalescer_TimerResetsOnEnqueue(t *testing.T) {
	backend := testutil.NewFakeBackend(kv.AreaSync)
	c := New(backend, WithQuietPeriod(80*time.Millisecond))

	for i := 0; i < 4; i++ {
		c.Enqueue("k", raw(`1`))
		time.Sleep(30 * time.Millisecond)
	}
	// 120ms elapsed since the first enqueue but never 80ms of quiet.
	assert.Empty(t, backend.SetCalls())

	require.Eventually(t, func() bool { return len(backend.SetCalls()) == 1 },
		time.Second, 10*time.Millisecond)

	time.Sleep(120 * time.Millisecond)
	assert.Len(t, backend.SetCalls(), 1, "exactly one timer was live")
}

func TestCoalescer_FlushEmptyIsNoop(t *testing.T) {
	backend := testutil.NewFakeBackend(kv.AreaSync)
	c := New(backend)

	require.NoError(t, c.Flush(context.Background()))
	assert.Empty(t, backend.SetCalls())
}

func TestCoalescer_TimerAfterExternalFlushIsNoop(t *testing.T) {
	backend := testutil.NewFakeBackend(kv.AreaSync)
	c := New(backend, WithQuietPeriod(30*time.Millisecond))

	c.Enqueue("k", raw(`1`))
	require.NoError(t, c.Flush(context.Background()))

	time.Sleep(80 * time.Millisecond)
	assert.Len(t, backend.SetCalls(), 1)
}

func TestCoalescer_FailureResolvesEveryTicket(t *testing.T) {
	backend := testutil.NewFakeBackend(kv.AreaSync)
	backend.SetErr = kv.ErrQuotaExceeded
	c := New(backend, WithQuietPeriod(time.Hour))

	first := c.Enqueue("k", raw(`1`))
	second := c.Enqueue("k", raw(`2`))
	other := c.Enqueue("j", raw(`3`))

	err := c.Flush(context.Background())
	assert.ErrorIs(t, err, kv.ErrQuotaExceeded)

	for _, ticket := range []*Ticket{first, second, other} {
		<-ticket.Done()
		assert.ErrorIs(t, ticket.Err(), kv.ErrQuotaExceeded)
	}

	// Lost writes are not retried.
	require.NoError(t, c.Flush(context.Background()))
	assert.Len(t, backend.SetCalls(), 1)
}

func TestCoalescer_PartialWriteFailsOnlyUnstoredKeys(t *testing.T) {
	backend := testutil.NewFakeBackend(kv.AreaSync)
	backend.SetErr = &kv.PartialWriteError{Failed: map[string]error{"j": testutil.ErrInjected}}
	c := New(backend, WithQuietPeriod(time.Hour))

	stored := c.Enqueue("k", raw(`1`))
	lost := c.Enqueue("j", raw(`2`))

	err := c.Flush(context.Background())
	assert.ErrorIs(t, err, testutil.ErrInjected)

	<-stored.Done()
	<-lost.Done()
	assert.NoError(t, stored.Err())
	assert.ErrorIs(t, lost.Err(), testutil.ErrInjected)
}

func TestCoalescer_EnqueueDuringFlushGoesToNextBatch(t *testing.T) {
	backend := testutil.NewFakeBackend(kv.AreaSync)
	c := New(backend, WithQuietPeriod(time.Hour))

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	backend.SetHook = func(map[string]json.RawMessage) {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	c.Enqueue("k", raw(`1`))
	done := make(chan error, 1)
	go func() { done <- c.Flush(context.Background()) }()

	<-started
	late := c.Enqueue("k", raw(`2`))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, 1, c.Pending())
	require.NoError(t, c.Flush(context.Background()))
	require.NoError(t, late.Wait(context.Background()))

	calls := backend.SetCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, raw(`1`), calls[0]["k"])
	assert.Equal(t, raw(`2`), calls[1]["k"])
}

func TestCoalescer_CloseFlushesAndRejects(t *testing.T) {
	backend := testutil.NewFakeBackend(kv.AreaSync)
	c := New(backend, WithQuietPeriod(time.Hour))

	ticket := c.Enqueue("k", raw(`1`))
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, ticket.Wait(context.Background()))
	assert.Len(t, backend.SetCalls(), 1)

	after := c.Enqueue("k", raw(`2`))
	assert.ErrorIs(t, after.Wait(context.Background()), ErrClosed)
	assert.NoError(t, c.Close(context.Background()))
}

func TestTicket_WaitHonoursContext(t *testing.T) {
	c := New(testutil.NewFakeBackend(kv.AreaSync), WithQuietPeriod(time.Hour))
	ticket := c.Enqueue("k", raw(`1`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ticket.Wait(ctx), context.Canceled)
	assert.NoError(t, ticket.Err(), "unresolved ticket has no error yet")
}
