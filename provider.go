package organizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks github.com/thrawn01/file-organizer Provider

type RawResponse string

// Provider proposes an organization for a PlanRequest. Implementations return
// *ProviderUnavailableError or *ProviderTimeoutError on failure.
type Provider interface {
	Name() string
	Send(ctx context.Context, req PlanRequest) (RawResponse, error)
}

// RetryingProvider retries transient failures of the wrapped provider with
// exponential backoff. Every attempt is bounded by Timeout.
type RetryingProvider struct {
	Provider   Provider
	MaxRetries int
	Backoff    time.Duration
	Timeout    time.Duration
	Logger     *slog.Logger
}

func NewRetryingProvider(p Provider, config *Config, logger *slog.Logger) *RetryingProvider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RetryingProvider{
		Provider:   p,
		MaxRetries: config.MaxRetries,
		Backoff:    config.RetryBackoff,
		Timeout:    config.Timeout,
		Logger:     logger,
	}
}

func (r *RetryingProvider) Name() string { return r.Provider.Name() }

func (r *RetryingProvider) Send(ctx context.Context, req PlanRequest) (RawResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := r.Backoff << (attempt - 1)
			r.logger().Warn("retrying provider", "provider", r.Name(), "attempt", attempt+1, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", &ProviderUnavailableError{Provider: r.Name(), Err: ctx.Err()}
			case <-time.After(wait):
			}
		}

		resp, err := r.sendOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsTransient(err) || ctx.Err() != nil {
			return "", err
		}
	}
	return "", lastErr
}

func (r *RetryingProvider) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

func (r *RetryingProvider) sendOnce(ctx context.Context, req PlanRequest) (RawResponse, error) {
	attemptCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	resp, err := r.Provider.Send(attemptCtx, req)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		var timeout *ProviderTimeoutError
		if !errors.As(err, &timeout) {
			err = &ProviderTimeoutError{Provider: r.Name(), Err: err}
		}
	}
	return resp, err
}

// IsTransient reports whether a provider error is worth retrying.
func IsTransient(err error) bool {
	var timeout *ProviderTimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	var unavailable *ProviderUnavailableError
	if errors.As(err, &unavailable) {
		return unavailable.Transient
	}
	return false
}

// NewProvider builds the provider named by the config, wrapped for retries.
// Missing credentials are reported here and nowhere earlier.
func NewProvider(config *Config, logger *slog.Logger) (Provider, error) {
	if issues := config.ValidateProvider(); len(issues) > 0 {
		return nil, fmt.Errorf("configuration issues detected:\n- %s", strings.Join(issues, "\n- "))
	}

	var p Provider
	switch config.Provider {
	case ProviderHeuristic:
		return NewHeuristicProvider(), nil
	case ProviderOpenAI:
		p = NewOpenAIProvider(config.Endpoint, config.OpenAIAPIKey, config.ModelName(), http.DefaultClient)
	case ProviderAnthropic:
		p = NewAnthropicProvider(config.Endpoint, config.AnthropicAPIKey, config.ModelName(), http.DefaultClient)
	default:
		return nil, fmt.Errorf("unknown provider %q", config.Provider)
	}
	return NewRetryingProvider(p, config, logger), nil
}
