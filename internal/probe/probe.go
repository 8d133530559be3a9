// Package probe checks internet reachability with cheap HEAD requests to
// well-known generate_204 style endpoints.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/portal-autologin/internal/metrics"
	"github.com/Rorqualx/portal-autologin/internal/security"
	"github.com/Rorqualx/portal-autologin/internal/types"
	"github.com/Rorqualx/portal-autologin/pkg/version"
)

// TargetResult is the outcome of probing one URL.
type TargetResult struct {
	URL        string
	OK         bool
	StatusCode int
	Latency    time.Duration
	Err        error
}

// Result is the outcome of one probe round.
// Up is true if any target answered and false only if every target failed.
type Result struct {
	Up      bool
	Targets []TargetResult
}

// Options configures a Prober.
type Options struct {
	Scheme          string // metrics label
	URLs            []string
	Timeout         time.Duration
	RejectRedirects bool
	Transport       http.RoundTripper
}

// Prober probes a fixed URL set.
type Prober struct {
	scheme          string
	urls            []string
	timeout         time.Duration
	rejectRedirects bool
	client          *http.Client
}

// New creates a Prober. The underlying client never follows redirects so
// that an intercepted request can be told apart from a real answer.
func New(opts Options) *Prober {
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:             http.ProxyFromEnvironment,
			DisableKeepAlives: true,
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}

	return &Prober{
		scheme:          opts.Scheme,
		urls:            append([]string(nil), opts.URLs...),
		timeout:         timeout,
		rejectRedirects: opts.RejectRedirects,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// URLs returns the probed URL set.
func (p *Prober) URLs() []string {
	return p.urls
}

// Probe runs one round against every target concurrently. Per-target
// failures are recorded in the result, never returned.
func (p *Prober) Probe(ctx context.Context) Result {
	start := time.Now()
	targets := make([]TargetResult, len(p.urls))

	// Each goroutine writes only its own slot; errgroup is used for the join.
	var g errgroup.Group
	for i, u := range p.urls {
		i, u := i, u
		g.Go(func() error {
			targets[i] = p.probeOne(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Targets: targets}
	for _, t := range targets {
		if t.OK {
			res.Up = true
			break
		}
	}

	metrics.RecordProbe(p.scheme, res.Up, time.Since(start))

	log.Debug().
		Str("scheme", p.scheme).
		Bool("up", res.Up).
		Int("targets", len(targets)).
		Dur("elapsed", time.Since(start)).
		Msg("Probe round finished")

	return res
}

func (p *Prober) probeOne(ctx context.Context, target string) TargetResult {
	res := TargetResult{URL: target}
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, target, nil)
	if err != nil {
		res.Err = fmt.Errorf("build request: %w", err)
		return res
	}
	req.Header.Set("User-Agent", version.UserAgent)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	res.Latency = time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			res.Err = types.ErrProbeTimeout
		} else {
			res.Err = err
		}
		log.Trace().
			Str("url", security.RedactURL(target)).
			Err(res.Err).
			Msg("Probe target failed")
		return res
	}
	resp.Body.Close()

	res.StatusCode = resp.StatusCode
	if p.rejectRedirects && resp.StatusCode >= 300 && resp.StatusCode < 400 {
		res.Err = fmt.Errorf("%w: %d to %s", types.ErrProbeRedirect, resp.StatusCode,
			security.RedactURL(resp.Header.Get("Location")))
		return res
	}

	res.OK = true
	return res
}
