package simpleasset

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// ProviderID identifies a generation provider (e.g. "pixverse", "sora").
type ProviderID string

var providerIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)

// Validate checks the identifier shape.
func (p ProviderID) Validate() error {
	if !providerIDPattern.MatchString(string(p)) {
		return fmt.Errorf("%w: %q", ErrInvalidProviderID, string(p))
	}
	return nil
}

// ProviderUploads maps a provider to that provider's own identifier for an asset.
type ProviderUploads map[ProviderID]string

// Get returns the identifier recorded for provider.
func (u ProviderUploads) Get(provider ProviderID) (string, bool) {
	id, ok := u[provider]
	return id, ok
}

// Clone returns a copy of the map.
func (u ProviderUploads) Clone() ProviderUploads {
	if u == nil {
		return nil
	}
	c := make(ProviderUploads, len(u))
	for k, v := range u {
		c[k] = v
	}
	return c
}

// Providers returns the provider ids in sorted order.
func (u ProviderUploads) Providers() []ProviderID {
	out := make([]ProviderID, 0, len(u))
	for k := range u {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks every key is a well-formed provider id with a non-empty value.
func (u ProviderUploads) Validate() error {
	for provider, id := range u {
		if err := provider.Validate(); err != nil {
			return err
		}
		if id == "" {
			return fmt.Errorf("%w: empty identifier for provider %s", ErrInconsistentCache, provider)
		}
	}
	return nil
}

// Merge records provider -> id, returning ErrInconsistentCache when a
// different identifier is already present. The boolean reports whether the
// map changed.
func (u ProviderUploads) Merge(provider ProviderID, id string) (bool, error) {
	if existing, ok := u[provider]; ok {
		if existing != id {
			return false, fmt.Errorf("%w: provider %s has %q, refusing %q", ErrInconsistentCache, provider, existing, id)
		}
		return false, nil
	}
	u[provider] = id
	return true, nil
}

// Uploaders is the lookup table of provider uploaders keyed by provider id.
type Uploaders struct {
	mu        sync.RWMutex
	uploaders map[ProviderID]ProviderUploader
}

// NewUploaders builds a table from the given uploaders.
func NewUploaders(uploaders ...ProviderUploader) *Uploaders {
	u := &Uploaders{uploaders: make(map[ProviderID]ProviderUploader)}
	for _, up := range uploaders {
		u.Register(up)
	}
	return u
}

// Register adds or replaces the uploader for its provider.
func (u *Uploaders) Register(up ProviderUploader) {
	if up == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploaders[up.Provider()] = up
}

// Get returns the uploader for provider.
func (u *Uploaders) Get(provider ProviderID) (ProviderUploader, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	up, ok := u.uploaders[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUploaderNotFound, provider)
	}
	return up, nil
}

// Providers lists registered provider ids in sorted order.
func (u *Uploaders) Providers() []ProviderID {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]ProviderID, 0, len(u.uploaders))
	for p := range u.uploaders {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
