package tagger

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultConcurrency bounds in-flight tag requests
const DefaultConcurrency = 8

// Batch fans tag requests for many texts out over a bounded worker pool
type Batch struct {
	gen         Generator
	pool        *ants.Pool
	limiter     *rate.Limiter
	callTimeout time.Duration
	logger      zerolog.Logger
}

// Option configures a Batch.
type Option func(*Batch) error

// WithConcurrency sets the maximum number of concurrent tag requests.
func WithConcurrency(size int) Option {
	return func(b *Batch) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if b.pool != nil {
			b.pool.Release()
		}
		b.pool = pool
		return nil
	}
}

// WithRateLimit caps requests per second; rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(b *Batch) error {
		if rps <= 0 {
			b.limiter = nil
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithCallTimeout bounds each individual tag request.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Batch) error {
		b.callTimeout = d
		return nil
	}
}

// WithLogger sets the logger used for per-chunk failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Batch) error {
		b.logger = logger
		return nil
	}
}

// NewBatch creates a Batch around gen
func NewBatch(gen Generator, opts ...Option) (*Batch, error) {
	b := &Batch{
		gen:    gen,
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		if err := opt(b); err != nil {
			b.Release()
			return nil, err
		}
	}

	if b.pool == nil {
		size := min(DefaultConcurrency, max(runtime.NumCPU(), 1))
		pool, err := ants.NewPool(size)
		if err != nil {
			return nil, err
		}
		b.pool = pool
	}
	return b, nil
}

// Tag generates tags for every text and waits for all of them.
// The result is aligned with texts; a nil entry means that text failed and
// was logged. Failures never abort the batch.
func (b *Batch) Tag(ctx context.Context, texts []string) (tags []*string, failures int) {
	tags = make([]*string, len(texts))
	errs := make([]error, len(texts))

	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			result, err := b.tagOne(ctx, text)
			if err != nil {
				errs[i] = err
				return
			}
			tags[i] = &result
		}
		if err := b.pool.Submit(task); err != nil {
			errs[i] = err
			wg.Done()
		}
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			failures++
			b.logger.Warn().Err(err).Int("index", i).Msg("tag generation failed")
		}
	}
	return tags, failures
}

func (b *Batch) tagOne(ctx context.Context, text string) (string, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	if b.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}
	return b.gen.GenerateTags(ctx, text)
}

// Release stops the worker pool
func (b *Batch) Release() {
	if b.pool != nil {
		b.pool.Release()
	}
}
