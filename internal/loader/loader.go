// Package loader implements the single-flight lazy module/model loader: a
// cache entry that transitions NOT_LOADED -> LOADING -> LOADED, or back to
// NOT_LOADED when the fetch fails (the Error status is declared but Load
// never enters it; the failure is kept for LastError instead), with
// concurrent callers requesting the same key coalesced onto one in-flight
// fetch via golang.org/x/sync/singleflight (the same primitive the
// MrWong99-glyphoxa agent stack pulls golang.org/x/sync in for).
package loader

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/singleflight"

	"bken/noisedsp/internal/logging"
)

// Status is the loader cache entry's state machine position.
type Status int

const (
	NotLoaded Status = iota
	Loading
	Loaded
	Error
)

func (s Status) String() string {
	switch s {
	case NotLoaded:
		return "NOT_LOADED"
	case Loading:
		return "LOADING"
	case Loaded:
		return "LOADED"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Fetcher produces the module for a given key — an HTTP GET of a kernel
// glue script plus model blob in production, a test double in tests. It may
// block and should respect ctx cancellation.
type Fetcher[K comparable, M any] func(ctx context.Context, key K) (M, error)

// Loader is a generic single-flight cache for exactly one logical key at a
// time: a denoiser config asks for its module by a key (e.g. a model
// variant name); concurrent requests for the same key share one fetch;
// a request for a different key while nothing is in flight invalidates the
// old entry and starts fresh.
type Loader[K comparable, M any] struct {
	fetch  Fetcher[K, M]
	logger *logging.Logger

	mu     sync.Mutex
	status Status
	key    K
	hasKey bool
	module M
	err    error

	group singleflight.Group
}

// New builds a Loader backed by fetch.
func New[K comparable, M any](fetch Fetcher[K, M], logger *logging.Logger) *Loader[K, M] {
	return &Loader[K, M]{fetch: fetch, logger: logger}
}

// Status returns the loader's current state.
func (l *Loader[K, M]) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Load returns the module for key, fetching it if necessary. Concurrent
// calls for the same key while a fetch is already in flight block on that
// one fetch rather than issuing their own (testable property: the fetch
// closure runs exactly once for N concurrent callers requesting the same
// key). A call for a different key while the cache holds LOADED data for an
// old key discards the old entry and fetches fresh; a call for a different
// key while LOADING is rejected with ErrLoadInProgress, since the loader
// tracks at most one in-flight fetch at a time.
func (l *Loader[K, M]) Load(ctx context.Context, key K) (M, error) {
	l.mu.Lock()
	if l.status == Loaded && l.hasKey && l.key == key {
		m := l.module
		l.mu.Unlock()
		return m, nil
	}
	if l.status == Loading && l.hasKey && l.key != key {
		l.mu.Unlock()
		var zero M
		return zero, ErrLoadInProgress
	}
	l.status = Loading
	l.key = key
	l.hasKey = true
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.Debug("loader fetch starting", "key", fmt.Sprint(key))
	}

	sfKey := fmt.Sprint(key)
	v, err, shared := l.group.Do(sfKey, func() (any, error) {
		return l.fetch(ctx, key)
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.status = NotLoaded
		l.err = err
		if l.logger != nil {
			l.logger.Warn("loader fetch failed", "key", fmt.Sprint(key), "error", err, "shared", shared)
		}
		var zero M
		return zero, &LoadErrorDetail{Key: fmt.Sprint(key), Cause: err}
	}

	module := v.(M)
	l.status = Loaded
	l.module = module
	l.err = nil
	if l.logger != nil {
		l.logger.Debug("loader fetch complete", "key", fmt.Sprint(key), "shared", shared)
	}
	return module, nil
}

// Invalidate drops any cached module, returning the loader to NOT_LOADED.
// A no-op while a fetch is LOADING.
func (l *Loader[K, M]) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == Loading {
		return
	}
	var zeroM M
	var zeroK K
	l.status = NotLoaded
	l.module = zeroM
	l.key = zeroK
	l.hasKey = false
	l.err = nil
}

// LastError returns the error from the most recent failed fetch, or nil.
func (l *Loader[K, M]) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// gzipMagic is the two leading bytes of every gzip stream (RFC 1952 §2.3.1).
var gzipMagic = [2]byte{0x1f, 0x8b}

// EnsureGzip returns data re-framed as a gzip stream if it isn't one
// already. Model blobs fetched over HTTP sometimes arrive already
// gzip-compressed (server-side Content-Encoding stripped by an
// intermediary, leaving the raw gzip bytes in the body) and sometimes
// arrive as the raw uncompressed blob; downstream cache storage always
// wants the gzip-framed form, so this normalizes either case. Mirrors the
// gzip-correction pattern the protocol layer uses to guarantee a consistent
// wire encoding regardless of what the transport handed it.
func EnsureGzip(data []byte) ([]byte, error) {
	if len(data) >= 2 && data[0] == gzipMagic[0] && data[1] == gzipMagic[1] {
		return data, nil
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("loader: gzip re-frame: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("loader: gzip re-frame: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressGzip reverses EnsureGzip's framing for callers (e.g. a kernel)
// that need the raw model bytes.
func DecompressGzip(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != gzipMagic[0] || data[1] != gzipMagic[1] {
		return data, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("loader: gzip decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("loader: gzip decompress: %w", err)
	}
	return out, nil
}
