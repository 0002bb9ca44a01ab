package simpleasset

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInflightSharesOneRun(t *testing.T) {
	r := newInflight()
	key := claimKey{AssetID: uuid.New(), Provider: "sora"}
	release := make(chan struct{})
	var runs atomic.Int32

	fn := func(ctx context.Context) (string, error) {
		runs.Add(1)
		<-release
		return "sora_1", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := r.do(context.Background(), key, fn)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		f := r.flights[key]
		return f != nil && f.waiters == len(results)
	}, time.Second, time.Millisecond)
	assert.True(t, r.claimed(key.AssetID))
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
	for _, v := range results {
		assert.Equal(t, "sora_1", v)
	}
	assert.Equal(t, 0, r.size())
	assert.False(t, r.claimed(key.AssetID))
}

func TestInflightErrorIsNotCached(t *testing.T) {
	r := newInflight()
	key := claimKey{AssetID: uuid.New(), Provider: "sora"}
	boom := errors.New("boom")

	_, err := r.do(context.Background(), key, func(ctx context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)

	v, err := r.do(context.Background(), key, func(ctx context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestInflightWaiterDetachKeepsFlightForOthers(t *testing.T) {
	r := newInflight()
	key := claimKey{AssetID: uuid.New(), Provider: "sora"}
	release := make(chan struct{})
	var cancelled atomic.Bool

	fn := func(ctx context.Context) (string, error) {
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			cancelled.Store(true)
			return "", ctx.Err()
		}
	}

	stay := make(chan string, 1)
	go func() {
		v, _ := r.do(context.Background(), key, fn)
		stay <- v
	}()
	require.Eventually(t, func() bool { return r.size() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	leave := make(chan error, 1)
	go func() {
		_, err := r.do(ctx, key, fn)
		leave <- err
	}()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		f := r.flights[key]
		return f != nil && f.waiters == 2
	}, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-leave, context.Canceled)

	close(release)
	assert.Equal(t, "done", <-stay)
	assert.False(t, cancelled.Load())
}

func TestInflightLastWaiterCancelsRun(t *testing.T) {
	r := newInflight()
	key := claimKey{AssetID: uuid.New()}
	stopped := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := r.do(ctx, key, func(ctx context.Context) (string, error) {
			<-ctx.Done()
			close(stopped)
			return "", ctx.Err()
		})
		errc <- err
	}()
	require.Eventually(t, func() bool { return r.size() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("abandoned run was not cancelled")
	}

	v, err := r.do(context.Background(), key, func(ctx context.Context) (string, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestWhenUnclaimed(t *testing.T) {
	r := newInflight()
	id := uuid.New()
	release := make(chan struct{})
	go func() {
		_, _ = r.do(context.Background(), claimKey{AssetID: id, Provider: "sora"}, func(ctx context.Context) (string, error) {
			<-release
			return "x", nil
		})
	}()
	require.Eventually(t, func() bool { return r.claimed(id) }, time.Second, time.Millisecond)

	ran := false
	ok, err := r.whenUnclaimed(id, func() error { ran = true; return nil })
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, ran)

	close(release)
	require.Eventually(t, func() bool { return !r.claimed(id) }, time.Second, time.Millisecond)
	ok, err = r.whenUnclaimed(id, func() error { ran = true; return nil })
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, ran)
}
