package organizer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ProviderPlanFile names the source of a plan read from a file instead of a provider.
const ProviderPlanFile = "plan-file"

type Organizer interface {
	Scan(ctx context.Context, root string) (*Inventory, error)
	BuildRequest(inv *Inventory) (PlanRequest, error)
	Plan(ctx context.Context, root string) (*Run, error)
	PlanFromResponse(ctx context.Context, root string, raw RawResponse) (*Run, error)
	Apply(ctx context.Context, run *Run, confirmed bool) (*ApplyResult, error)
}

// Run carries everything produced while planning one organization of a
// directory, from the inventory to the validated plan.
type Run struct {
	ID          string
	Started     time.Time
	Root        string
	Inventory   *Inventory
	Request     PlanRequest
	Fingerprint string
	Provider    string
	Response    RawResponse
	Plan        *Plan
}

// ProviderFactory builds the provider on first use, so missing credentials
// only matter for runs that actually contact it.
type ProviderFactory func() (Provider, error)

type DefaultOrganizer struct {
	scanner     Scanner
	validator   Validator
	applier     *Applier
	prompts     Prompts
	newProvider ProviderFactory
	provider    Provider
	logger      *slog.Logger
}

type Option func(*DefaultOrganizer)

// WithProvider replaces the configured provider.
func WithProvider(p Provider) Option {
	return func(o *DefaultOrganizer) {
		o.newProvider = func() (Provider, error) { return p, nil }
	}
}

func WithProviderFactory(f ProviderFactory) Option {
	return func(o *DefaultOrganizer) { o.newProvider = f }
}

func WithApplier(a *Applier) Option {
	return func(o *DefaultOrganizer) { o.applier = a }
}

func WithPrompts(p Prompts) Option {
	return func(o *DefaultOrganizer) { o.prompts = p }
}

func NewDefaultOrganizer(config *Config, logger *slog.Logger, opts ...Option) (*DefaultOrganizer, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	scanner, err := NewFilesystemScanner(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}

	prompts, err := LoadPrompts(config)
	if err != nil {
		return nil, err
	}

	o := &DefaultOrganizer{
		scanner:   scanner,
		validator: NewDefaultValidator(),
		applier:   NewApplier(logger),
		prompts:   prompts,
		newProvider: func() (Provider, error) {
			return NewProvider(config, logger)
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *DefaultOrganizer) Prompts() Prompts {
	return o.prompts
}

func (o *DefaultOrganizer) Scan(ctx context.Context, root string) (*Inventory, error) {
	return o.scanner.Scan(ctx, root)
}

func (o *DefaultOrganizer) BuildRequest(inv *Inventory) (PlanRequest, error) {
	return BuildPlanRequest(inv, o.prompts.System, o.prompts.Organize)
}

// Plan scans root, asks the provider for an organization and validates the
// answer. A run is returned alongside a *PlanValidationError so the caller
// can report what was rejected.
func (o *DefaultOrganizer) Plan(ctx context.Context, root string) (*Run, error) {
	run, err := o.prepare(ctx, root)
	if err != nil {
		return nil, err
	}

	req, err := o.BuildRequest(run.Inventory)
	if err != nil {
		return nil, err
	}
	run.Request = req
	run.Fingerprint = req.Fingerprint()

	provider, err := o.resolveProvider()
	if err != nil {
		return nil, err
	}
	run.Provider = provider.Name()

	o.logger.Info("requesting plan", "run", run.ID, "provider", run.Provider,
		"files", run.Inventory.Len(), "fingerprint", run.Fingerprint)

	raw, err := provider.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	run.Response = raw

	return o.validate(run)
}

// PlanFromResponse validates a response obtained earlier, such as a plan file
// written by a previous run, against a fresh scan of root.
func (o *DefaultOrganizer) PlanFromResponse(ctx context.Context, root string, raw RawResponse) (*Run, error) {
	run, err := o.prepare(ctx, root)
	if err != nil {
		return nil, err
	}
	req, err := o.BuildRequest(run.Inventory)
	if err != nil {
		return nil, err
	}
	run.Provider = ProviderPlanFile
	run.Request = req
	run.Fingerprint = req.Fingerprint()
	run.Response = raw
	return o.validate(run)
}

func (o *DefaultOrganizer) Apply(ctx context.Context, run *Run, confirmed bool) (*ApplyResult, error) {
	if run == nil || run.Plan == nil {
		return nil, &PlanValidationError{Reason: "no plan to apply"}
	}
	o.logger.Info("applying plan", "run", run.ID, "moves", len(run.Plan.Moves))
	return o.applier.Apply(ctx, run.Root, run.Plan, confirmed)
}

func (o *DefaultOrganizer) prepare(ctx context.Context, root string) (*Run, error) {
	inv, err := o.Scan(ctx, root)
	if err != nil {
		return nil, err
	}
	return &Run{
		ID:        uuid.NewString(),
		Started:   time.Now(),
		Root:      inv.Root,
		Inventory: inv,
	}, nil
}

func (o *DefaultOrganizer) validate(run *Run) (*Run, error) {
	plan, err := o.validator.Validate(run.Response, run.Inventory)
	run.Plan = plan
	if err != nil {
		o.logger.Warn("plan rejected", "run", run.ID, "error", err)
		return run, err
	}
	summary := plan.Summary()
	o.logger.Info("plan validated", "run", run.ID, "moves", summary.Moves,
		"skipped", summary.Skipped, "no_ops", summary.NoOps)
	return run, nil
}

func (o *DefaultOrganizer) resolveProvider() (Provider, error) {
	if o.provider != nil {
		return o.provider, nil
	}
	p, err := o.newProvider()
	if err != nil {
		return nil, err
	}
	o.provider = p
	return p, nil
}
