// Package modelrouter dispatches model requests to vendor adapters by model
// name prefix and guards each vendor with a rate limiter and a circuit breaker.
package modelrouter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	cfotel "github.com/Strob0t/CoachForge/internal/adapter/otel"
	"github.com/Strob0t/CoachForge/internal/port/llm"
	"github.com/Strob0t/CoachForge/internal/resilience"
)

// ErrUnknownVendor is returned for a model whose vendor has no adapter.
var ErrUnknownVendor = errors.New("no adapter for model vendor")

type route struct {
	model   llm.Model
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// Router implements llm.Model over several vendor adapters. Model names take
// the form "vendor/model"; names without a prefix use the default vendor.
type Router struct {
	routes        map[string]*route
	defaultVendor string
	metrics       *cfotel.Metrics
}

var _ llm.Model = (*Router)(nil)

// Limits configures the per-vendor guards. A zero RequestsPerSecond disables
// rate limiting; a zero MaxFailures uses the breaker default.
type Limits struct {
	RequestsPerSecond float64
	Burst             int
	MaxFailures       int
	BreakerTimeout    time.Duration
}

// New creates an empty router.
func New(defaultVendor string, metrics *cfotel.Metrics) *Router {
	return &Router{
		routes:        make(map[string]*route),
		defaultVendor: defaultVendor,
		metrics:       metrics,
	}
}

// Register adds a vendor adapter.
func (r *Router) Register(vendor string, m llm.Model, lim Limits) {
	rt := &route{
		model: m,
		breaker: resilience.NewBreaker(vendor, lim.MaxFailures, lim.BreakerTimeout,
			resilience.WithFailurePredicate(countsAsOutage)),
	}
	if lim.RequestsPerSecond > 0 {
		burst := lim.Burst
		if burst <= 0 {
			burst = 1
		}
		rt.limiter = rate.NewLimiter(rate.Limit(lim.RequestsPerSecond), burst)
	}
	r.routes[vendor] = rt
}

// Vendors lists the registered vendor names.
func (r *Router) Vendors() []string {
	out := make([]string, 0, len(r.routes))
	for v := range r.routes {
		out = append(out, v)
	}
	return out
}

// BreakerStates reports the circuit state per vendor.
func (r *Router) BreakerStates() map[string]string {
	out := make(map[string]string, len(r.routes))
	for v, rt := range r.routes {
		out[v] = rt.breaker.State()
	}
	return out
}

// Invoke routes req to its vendor with the prefix stripped from the model name.
func (r *Router) Invoke(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	vendor, model := r.split(req.Model)
	rt, ok := r.routes[vendor]
	if !ok {
		return nil, fmt.Errorf("%w: %s (model %q)", ErrUnknownVendor, vendor, req.Model)
	}
	if rt.limiter != nil {
		if err := rt.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s rate limit: %w", vendor, err)
		}
	}

	fwd := *req
	fwd.Model = model

	var resp *llm.Response
	err := rt.breaker.Execute(func() error {
		var err error
		resp, err = rt.model.Invoke(ctx, &fwd)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		slog.WarnContext(ctx, "model call rejected by open circuit", "vendor", vendor, "model", model)
		if r.metrics != nil {
			r.metrics.BreakerRejects.Add(ctx, 1,
				metric.WithAttributes(attribute.String("llm.vendor", vendor)))
		}
		return nil, fmt.Errorf("%s: %w", vendor, err)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *Router) split(name string) (vendor, model string) {
	if v, m, ok := strings.Cut(name, "/"); ok {
		if _, known := r.routes[v]; known {
			return v, m
		}
	}
	return r.defaultVendor, name
}

// countsAsOutage counts transport failures, throttling and server errors
// toward opening the circuit. Client errors such as a bad request do not.
func countsAsOutage(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	return true
}
