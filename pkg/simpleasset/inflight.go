package simpleasset

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// claimKey identifies one in-flight transfer. An empty Provider denotes the
// byte population (fetch) of the asset itself.
type claimKey struct {
	AssetID  uuid.UUID
	Provider ProviderID
}

// flight is a shared future for one claimKey.
type flight struct {
	done      chan struct{}
	value     string
	err       error
	waiters   int
	finished  bool
	abandoned bool
	cancel    context.CancelFunc
}

// inflight is the process-wide claim table. The first caller for a key starts
// the work on a context detached from its own cancellation; later callers
// attach to the same flight. A flight stays claimed until its work returns,
// so eviction never sees an asset as unclaimed while bytes are in use.
type inflight struct {
	mu       sync.Mutex
	flights  map[claimKey]*flight
	perAsset map[uuid.UUID]int
	deferred map[uuid.UUID][]func()
}

func newInflight() *inflight {
	return &inflight{
		flights:  make(map[claimKey]*flight),
		perAsset: make(map[uuid.UUID]int),
		deferred: make(map[uuid.UUID][]func()),
	}
}

// do runs fn at most once at a time per key and returns its result to every
// attached caller. When the last attached caller detaches before fn returns,
// fn's context is cancelled; callers arriving in the meantime wait for the
// abandoned flight to wind down and then start a fresh one.
func (r *inflight) do(ctx context.Context, key claimKey, fn func(ctx context.Context) (string, error)) (string, error) {
	for {
		r.mu.Lock()
		f, ok := r.flights[key]
		if ok && f.abandoned {
			r.mu.Unlock()
			select {
			case <-f.done:
				continue
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if ok {
			f.waiters++
			r.mu.Unlock()
			return r.wait(ctx, f)
		}

		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{done: make(chan struct{}), waiters: 1, cancel: cancel}
		r.flights[key] = f
		r.perAsset[key.AssetID]++
		r.mu.Unlock()

		go r.run(runCtx, key, f, fn)
		return r.wait(ctx, f)
	}
}

func (r *inflight) run(ctx context.Context, key claimKey, f *flight, fn func(ctx context.Context) (string, error)) {
	defer f.cancel()
	value, err := fn(ctx)

	var cleanups []func()
	r.mu.Lock()
	f.value, f.err = value, err
	f.finished = true
	delete(r.flights, key)
	if n := r.perAsset[key.AssetID] - 1; n > 0 {
		r.perAsset[key.AssetID] = n
	} else {
		delete(r.perAsset, key.AssetID)
		cleanups = r.deferred[key.AssetID]
		delete(r.deferred, key.AssetID)
	}
	r.mu.Unlock()

	for _, fn := range cleanups {
		fn()
	}
	close(f.done)
}

func (r *inflight) wait(ctx context.Context, f *flight) (string, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		r.mu.Lock()
		f.waiters--
		if f.waiters == 0 && !f.finished {
			f.abandoned = true
			f.cancel()
		}
		r.mu.Unlock()
		return "", ctx.Err()
	}
}

// claimed reports whether any flight for the asset is running.
func (r *inflight) claimed(assetID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perAsset[assetID] > 0
}

// whenUnclaimed runs fn while holding the claim table lock, provided no flight
// for the asset is running. fn must be short: new claims block until it returns.
func (r *inflight) whenUnclaimed(assetID uuid.UUID, fn func() error) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.perAsset[assetID] > 0 {
		return false, nil
	}
	return true, fn()
}

// afterUnclaimed runs fn once no flight for the asset is running. Called from
// inside a flight, fn runs when the last flight for the asset returns, before
// its waiters are released.
func (r *inflight) afterUnclaimed(assetID uuid.UUID, fn func()) {
	r.mu.Lock()
	if r.perAsset[assetID] > 0 {
		r.deferred[assetID] = append(r.deferred[assetID], fn)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	fn()
}

// size returns the number of running flights.
func (r *inflight) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flights)
}
