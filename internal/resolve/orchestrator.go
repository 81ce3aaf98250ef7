// Package resolve turns resolve requests into redirects. Identical requests
// share one provider attempt, and pending downloads are retried by
// redirecting the player back to the same endpoint until a deadline passes.
package resolve

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/byoiap/byoiap/internal/provider"
)

// Cache lifetimes of the redirects handed out.
const (
	MaxAgeSuccess     = time.Hour
	MaxAgePendingBase = 2 * time.Minute
	MaxAgeFailure     = time.Second
)

const (
	// DefaultCacheSize bounds the attempts remembered at once.
	DefaultCacheSize = 10000

	maxPendingWait = 30 * time.Second
	attemptBudget  = time.Minute
	attemptTimeout = 3 * time.Minute
)

// Query parameters the orchestrator reads or writes besides the download
// source.
const (
	ParamRetryEnd   = "retryEnd"
	ParamBust       = "_bust"
	ParamAsyncChain = "asyncChain"
)

// Request is one call of the resolve endpoint.
type Request struct {
	// URL is the full request URL. It identifies the attempt.
	URL          *url.URL
	Source       provider.DownloadSource
	Provider     provider.Provider
	Config       provider.Config
	RetrySeconds int
}

// Outcome is where to send the caller and for how long the redirect may be
// cached.
type Outcome struct {
	RedirectURL string
	MaxAge      time.Duration
}

// CacheControl renders the Cache-Control header value of o.
func (o Outcome) CacheControl() string {
	return fmt.Sprintf("private, max-age=%d", int(o.MaxAge/time.Second))
}

// Options configure an Orchestrator. Zero values select the defaults.
type Options struct {
	FailureURL string
	CacheSize  int
	Now        func() time.Time
	Sleep      func(ctx context.Context, d time.Duration)
	// FollowUp is called with the asyncChain URL of successful requests. It
	// must not block.
	FollowUp func(rawURL string)
}

// Orchestrator resolves download sources through their provider.
type Orchestrator struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *attempt]

	failureURL string
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration)
	followUp   func(rawURL string)
	logger     zerolog.Logger
}

type attempt struct {
	done    chan struct{}
	outcome Outcome
}

// New creates an orchestrator.
func New(opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.FollowUp == nil {
		opts.FollowUp = func(string) {}
	}

	return &Orchestrator{
		cache:      expirable.NewLRU[string, *attempt](opts.CacheSize, nil, MaxAgePendingBase),
		failureURL: opts.FailureURL,
		now:        opts.Now,
		sleep:      opts.Sleep,
		followUp:   opts.FollowUp,
		logger:     logger.With().Str("component", "resolve").Logger(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Resolve returns the redirect for req. Concurrent and repeated requests for
// the same URL share one attempt until it fails or expires. The attempt
// outlives ctx so other waiters still get its outcome.
func (o *Orchestrator) Resolve(ctx context.Context, req Request) Outcome {
	key := req.URL.String()

	o.mu.Lock()
	a, ok := o.cache.Get(key)
	if !ok {
		a = &attempt{done: make(chan struct{})}
		o.cache.Add(key, a)
		go o.run(context.WithoutCancel(ctx), key, a, req)
	}
	o.mu.Unlock()

	select {
	case <-a.done:
		return a.outcome
	case <-ctx.Done():
		return o.failure()
	}
}

// Len returns the number of remembered attempts.
func (o *Orchestrator) Len() int {
	return o.cache.Len()
}

func (o *Orchestrator) run(ctx context.Context, key string, a *attempt, req Request) {
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	var ok bool
	a.outcome, ok = o.attempt(ctx, req)
	if !ok {
		o.forget(key, a)
	}
	close(a.done)

	o.logger.Info().
		Str("url", key).
		Str("redirect", a.outcome.RedirectURL).
		Dur("maxAge", a.outcome.MaxAge).
		Msg("Resolved")
}

// attempt reports false when the outcome is the failure video.
func (o *Orchestrator) attempt(ctx context.Context, req Request) (Outcome, bool) {
	start := o.now()
	result, err := req.Provider.Resolve(ctx, req.Config, req.Source)
	if err != nil {
		o.logger.Error().Err(err).Str("title", req.Source.Title).Msg("Provider resolve failed")
		return o.failure(), false
	}

	if result.Status == provider.Succeeded {
		if chain := req.URL.Query().Get(ParamAsyncChain); chain != "" {
			o.followUp(chain)
		}
		return Outcome{RedirectURL: result.URL, MaxAge: MaxAgeSuccess}, true
	}

	now := o.now()
	retryEnd, ok := retryDeadline(req.URL, now, req.RetrySeconds)
	remaining := retryEnd.Sub(now)
	if result.Status != provider.Pending || !ok || remaining <= 0 {
		o.logger.Warn().
			Str("title", req.Source.Title).
			Stringer("status", result.Status).
			Msg("Resolve did not succeed")
		return o.failure(), false
	}

	// Keep the total time of one request under the budget so the player
	// does not give up before the redirect arrives.
	wait := min(maxPendingWait, remaining, max(0, attemptBudget-now.Sub(start)))
	o.sleep(ctx, wait)

	retry := *req.URL
	q := retry.Query()
	if result.Payload != "" {
		q.Set(provider.ParamPendingPayload, result.Payload)
	}
	q.Set(ParamRetryEnd, strconv.FormatInt(retryEnd.UnixMilli(), 10))
	q.Set(ParamBust, strconv.FormatInt(now.UnixMilli(), 10))
	retry.RawQuery = q.Encode()

	return Outcome{
		RedirectURL: retry.String(),
		MaxAge:      MaxAgePendingBase + time.Duration(req.RetrySeconds)*time.Second,
	}, true
}

// retryDeadline reads the deadline carried by a retried request, or starts a
// new one. An unreadable deadline counts as passed.
func retryDeadline(u *url.URL, now time.Time, retrySeconds int) (time.Time, bool) {
	raw := u.Query().Get(ParamRetryEnd)
	if raw == "" {
		return now.Add(time.Duration(retrySeconds) * time.Second), true
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (o *Orchestrator) failure() Outcome {
	return Outcome{RedirectURL: o.failureURL, MaxAge: MaxAgeFailure}
}

// forget drops a failed attempt so the next request tries again.
func (o *Orchestrator) forget(key string, a *attempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.cache.Peek(key); ok && cur == a {
		o.cache.Remove(key)
	}
}
