// Package fake provides an in-process provider uploader for development and
// tests. It reads the bytes it is given, counts calls and hands out
// deterministic identifiers.
package fake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// Upload records one call to Upload.
type Upload struct {
	AssetID         uuid.UUID
	ProviderAssetID string
	Hash            string
	Size            int64
	At              time.Time
}

// Provider simulates a generation provider's ingest endpoint.
type Provider struct {
	id       simpleasset.ProviderID
	prefix   string
	accepts  map[simpleasset.MediaType]struct{}
	fixedID  string
	delay    time.Duration
	now      func() time.Time
	started  chan struct{}
	mu       sync.Mutex
	calls    int
	uploads  []Upload
	failNext []error
	gate     chan struct{}
}

// Option configures a Provider
type Option func(*Provider)

// WithMediaTypes restricts the media types the provider accepts; all types are
// accepted by default.
func WithMediaTypes(types ...simpleasset.MediaType) Option {
	return func(p *Provider) {
		for _, t := range types {
			p.accepts[t] = struct{}{}
		}
	}
}

// WithIDPrefix sets the prefix of generated identifiers
func WithIDPrefix(prefix string) Option {
	return func(p *Provider) {
		p.prefix = prefix
	}
}

// WithFixedID makes every upload return id
func WithFixedID(id string) Option {
	return func(p *Provider) {
		p.fixedID = id
	}
}

// WithDelay makes every upload take at least d
func WithDelay(d time.Duration) Option {
	return func(p *Provider) {
		p.delay = d
	}
}

// NewProvider constructs a fake uploader for provider id.
func NewProvider(id simpleasset.ProviderID, opts ...Option) *Provider {
	p := &Provider{
		id:      id,
		prefix:  string(id),
		accepts: make(map[simpleasset.MediaType]struct{}),
		now:     time.Now,
		started: make(chan struct{}, 64),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithClock overrides the clock used for generating timestamps.
func (p *Provider) WithClock(fn func() time.Time) {
	if fn != nil {
		p.now = fn
	}
}

var _ simpleasset.ProviderUploader = (*Provider)(nil)

func (p *Provider) Provider() simpleasset.ProviderID { return p.id }

func (p *Provider) Accepts(mediaType simpleasset.MediaType) bool {
	if len(p.accepts) == 0 {
		return true
	}
	_, ok := p.accepts[mediaType]
	return ok
}

// Hold makes subsequent uploads block until Release is called or their
// context ends.
func (p *Provider) Hold() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate == nil {
		p.gate = make(chan struct{})
	}
}

// Release unblocks uploads waiting after Hold.
func (p *Provider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate != nil {
		close(p.gate)
		p.gate = nil
	}
}

// Started receives once per upload as soon as it begins.
func (p *Provider) Started() <-chan struct{} { return p.started }

// FailNext makes the next upload return err.
func (p *Provider) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = append(p.failNext, err)
}

// Calls returns how many times Upload was invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Uploads returns the successful uploads in order.
func (p *Provider) Uploads() []Upload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Upload(nil), p.uploads...)
}

// Upload reads the request's bytes and returns a provider asset id.
func (p *Provider) Upload(ctx context.Context, req simpleasset.UploadRequest) (string, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	gate := p.gate
	var fail error
	if len(p.failNext) > 0 {
		fail, p.failNext = p.failNext[0], p.failNext[1:]
	}
	p.mu.Unlock()

	select {
	case p.started <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.delay > 0 {
		t := time.NewTimer(p.delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		}
	}
	if fail != nil {
		return "", fail
	}

	rc, err := req.Open(ctx)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	h := sha256.New()
	size, err := io.Copy(h, rc)
	if err != nil {
		return "", err
	}

	id := p.fixedID
	if id == "" {
		id = fmt.Sprintf("%s_%06d", p.prefix, n)
	}

	p.mu.Lock()
	p.uploads = append(p.uploads, Upload{
		AssetID:         req.AssetID,
		ProviderAssetID: id,
		Hash:            hex.EncodeToString(h.Sum(nil)),
		Size:            size,
		At:              p.now().UTC(),
	})
	p.mu.Unlock()
	return id, nil
}
