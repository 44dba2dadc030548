package cache

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/bytedance/sonic"
	"golang.org/x/sync/singleflight"
)

// Codec converts wrapped results to and from their cached representation.
type Codec[R any] interface {
	Encode(value R) ([]byte, error)
	Decode(data []byte) (R, error)
}

// JSONCodec stores values as JSON.
type JSONCodec[R any] struct{}

// Encode implements Codec.
func (JSONCodec[R]) Encode(value R) ([]byte, error) {
	return sonic.Marshal(value)
}

// Decode implements Codec.
func (JSONCodec[R]) Decode(data []byte) (R, error) {
	var value R

	err := sonic.Unmarshal(data, &value)

	return value, err
}

// BinaryCodec stores binary payloads base64-encoded.
type BinaryCodec struct{}

// Encode implements Codec.
func (BinaryCodec) Encode(value []byte) ([]byte, error) {
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(value)))
	base64.StdEncoding.Encode(encoded, value)

	return encoded, nil
}

// Decode implements Codec.
func (BinaryCodec) Decode(data []byte) ([]byte, error) {
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(data)))

	n, err := base64.StdEncoding.Decode(decoded, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cached binary: %w", err)
	}

	return decoded[:n], nil
}

// WrapperConfig configures a cache-aside wrapper.
type WrapperConfig struct {
	// Name labels the wrapper's metrics and log lines.
	Name string

	// TTL applies to every value written by the wrapper.
	TTL time.Duration

	// Coalesce routes concurrent misses for the same key through one call.
	Coalesce bool

	// FillTimeout bounds a coalesced call, which runs detached from any single
	// caller's context. Defaults to two minutes.
	FillTimeout time.Duration
}

const defaultFillTimeout = 2 * time.Minute

// Wrapper is a cache-aside wrapper around an operation taking A and producing R.
type Wrapper[A, R any] struct {
	cache   *HotCache
	cfg     WrapperConfig
	keyFn   func(A) string
	codec   Codec[R]
	metrics *Metrics
	group   singleflight.Group
	log     *logger.Logger
}

// NewWrapper creates a Wrapper. keyFn maps the operation's arguments to a cache key.
func NewWrapper[A, R any](
	hotCache *HotCache,
	cfg WrapperConfig,
	keyFn func(A) string,
	codec Codec[R],
	log *logger.Logger,
) *Wrapper[A, R] {
	return &Wrapper[A, R]{
		cache:   hotCache,
		cfg:     cfg,
		keyFn:   keyFn,
		codec:   codec,
		metrics: NewMetrics(cfg.Name),
		log:     log,
	}
}

// Do returns the cached result for arg, or calls fn and caches its result.
// The boolean reports whether the result came from the cache. Errors from fn are
// returned unchanged and nothing is cached. A coalesced caller whose ctx ends
// returns ctx.Err() while the shared call keeps running for the others.
func (w *Wrapper[A, R]) Do(ctx context.Context, arg A, fn func(context.Context, A) (R, error)) (R, bool, error) {
	key := w.keyFn(arg)

	cached, ok := w.lookup(ctx, key)
	if ok {
		w.metrics.Hit()

		return cached, true, nil
	}

	w.metrics.Miss()

	if !w.cfg.Coalesce {
		result, err := w.fill(ctx, key, arg, fn)

		return result, false, err
	}

	resultCh := w.group.DoChan(key, func() (any, error) {
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.fillTimeout())
		defer cancel()

		return w.fill(fillCtx, key, arg, fn)
	})

	select {
	case <-ctx.Done():
		var zero R

		return zero, false, ctx.Err()
	case shared := <-resultCh:
		if shared.Err != nil {
			var zero R

			return zero, false, shared.Err
		}

		result, _ := shared.Val.(R)

		return result, false, nil
	}
}

// Peek returns cached results for args without calling the wrapped operation.
// Missing and undecodable entries are absent from the result.
func (w *Wrapper[A, R]) Peek(ctx context.Context, args []A) map[string]R {
	keys := make([]string, len(args))
	for i, arg := range args {
		keys[i] = w.keyFn(arg)
	}

	raw := w.cache.GetMulti(ctx, keys)
	result := make(map[string]R, len(raw))

	for key, data := range raw {
		value, err := w.codec.Decode(data)
		if err != nil {
			w.log.Warn("Hot cache %s: dropping undecodable entry %s: %v", w.cfg.Name, key, err)

			continue
		}

		result[key] = value
	}

	return result
}

// Invalidate removes the cached result for arg.
func (w *Wrapper[A, R]) Invalidate(ctx context.Context, arg A) {
	w.cache.Delete(ctx, w.keyFn(arg))
}

// Key returns the cache key used for arg.
func (w *Wrapper[A, R]) Key(arg A) string {
	return w.keyFn(arg)
}

// Metrics returns the wrapper's hit/miss counters.
func (w *Wrapper[A, R]) Metrics() MetricsSnapshot {
	return w.metrics.Snapshot()
}

func (w *Wrapper[A, R]) fillTimeout() time.Duration {
	if w.cfg.FillTimeout > 0 {
		return w.cfg.FillTimeout
	}

	return defaultFillTimeout
}

func (w *Wrapper[A, R]) lookup(ctx context.Context, key string) (R, bool) {
	var zero R

	data, ok := w.cache.Get(ctx, key)
	if !ok {
		return zero, false
	}

	value, err := w.codec.Decode(data)
	if err != nil {
		w.log.Warn("Hot cache %s: treating undecodable entry %s as a miss: %v", w.cfg.Name, key, err)

		return zero, false
	}

	return value, true
}

func (w *Wrapper[A, R]) fill(ctx context.Context, key string, arg A, fn func(context.Context, A) (R, error)) (R, error) {
	result, err := fn(ctx, arg)
	if err != nil {
		return result, err
	}

	data, encodeErr := w.codec.Encode(result)
	if encodeErr != nil {
		w.log.Warn("Hot cache %s: failed to encode result for %s: %v", w.cfg.Name, key, encodeErr)

		return result, nil
	}

	w.cache.Set(ctx, key, data, w.cfg.TTL)

	return result, nil
}
