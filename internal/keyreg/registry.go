// Package keyreg maintains the hub's source→public-key registry. Keys
// come from a YAML file or an HTTP endpoint and are cached in memory;
// the cache refreshes periodically and keeps serving the last-known
// good mapping when a refresh fails. Startup is the one place a
// failure is fatal: with no key material the hub cannot authenticate
// anyone.
package keyreg

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pulsewatch/pulsewatch/internal/sign"
)

// startupAttempts bounds the initial population retries.
const startupAttempts = 5

// startupDelay is the first retry delay; it doubles per attempt.
const startupDelay = time.Second

// Loader fetches the raw source→base64-key mapping from an
// authoritative store.
type Loader interface {
	Load(ctx context.Context) (map[string]string, error)
}

// FileLoader reads a YAML file of the form:
//
//	sources:
//	  monitor-1: <base64 ed25519 public key>
type FileLoader struct {
	Path string
}

// Load implements Loader.
func (l FileLoader) Load(ctx context.Context) (map[string]string, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("keyreg: read sources file: %w", err)
	}
	var doc struct {
		Sources map[string]string `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("keyreg: parse sources file: %w", err)
	}
	if len(doc.Sources) == 0 {
		return nil, fmt.Errorf("keyreg: sources file %s defines no sources", l.Path)
	}
	return doc.Sources, nil
}

// HTTPLoader fetches a JSON object {"sources": {id: key}} from a
// registry endpoint.
type HTTPLoader struct {
	URL    string
	Client *http.Client
}

// Load implements Loader.
func (l HTTPLoader) Load(ctx context.Context) (map[string]string, error) {
	client := l.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("keyreg: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keyreg: fetch sources: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keyreg: registry returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("keyreg: read response: %w", err)
	}
	var doc struct {
		Sources map[string]string `json:"sources"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("keyreg: parse response: %w", err)
	}
	if len(doc.Sources) == 0 {
		return nil, fmt.Errorf("keyreg: registry returned no sources")
	}
	return doc.Sources, nil
}

// Registry is the in-memory key cache.
type Registry struct {
	loader   Loader
	interval time.Duration
	log      *zap.Logger

	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// New creates a registry refreshing from loader every interval.
func New(loader Loader, interval time.Duration, log *zap.Logger) *Registry {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Registry{
		loader:   loader,
		interval: interval,
		log:      log,
	}
}

// Start populates the cache, retrying with exponential backoff up to
// the attempt ceiling, and then launches the background refresh loop.
// An error from Start means the hub must not serve traffic.
func (r *Registry) Start(ctx context.Context) error {
	delay := startupDelay
	var lastErr error
	for attempt := 1; attempt <= startupAttempts; attempt++ {
		lastErr = r.refresh(ctx)
		if lastErr == nil {
			go r.refreshLoop(ctx)
			return nil
		}
		r.log.Warn("key registry population failed",
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if attempt == startupAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("keyreg: no key material after %d attempts: %w", startupAttempts, lastErr)
}

// Lookup returns the registered key for a source from the current
// cache snapshot.
func (r *Registry) Lookup(source string) (ed25519.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[source]
	return key, ok
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// refresh replaces the cache with a fresh load. Entries with
// malformed keys are skipped with a warning; revoked sources vanish on
// the refresh that no longer lists them.
func (r *Registry) refresh(ctx context.Context) error {
	raw, err := r.loader.Load(ctx)
	if err != nil {
		return err
	}
	keys := make(map[string]ed25519.PublicKey, len(raw))
	for source, b64 := range raw {
		key, err := sign.ParsePublicKey(b64)
		if err != nil {
			r.log.Warn("skipping source with malformed public key",
				zap.String("source", source), zap.Error(err))
			continue
		}
		keys[source] = key
	}
	if len(keys) == 0 {
		return fmt.Errorf("keyreg: no usable keys in registry")
	}

	r.mu.Lock()
	r.keys = keys
	r.mu.Unlock()
	return nil
}

// refreshLoop keeps the cache fresh; failures keep the last-known-good
// mapping and log a warning.
func (r *Registry) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.refresh(ctx); err != nil {
				r.log.Warn("key registry refresh failed, serving last known good",
					zap.Error(err))
			}
		}
	}
}
