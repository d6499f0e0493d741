package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/lumen-studio/booking/internal/domain"
	"github.com/lumen-studio/booking/internal/payments"
	"github.com/lumen-studio/booking/internal/platform/config"
	"github.com/lumen-studio/booking/internal/repositories"
	"github.com/lumen-studio/booking/internal/services"
)

const readinessCacheTTL = 2 * time.Second

// PaymentGateway creates checkout preferences and re-reads provider payments.
type PaymentGateway interface {
	services.PreferenceCreator
	services.PaymentLookup
}

// Infrastructure carries the external adapters built by the process entrypoint.
// Nil adapters disable the features that depend on them.
type Infrastructure struct {
	Payments    PaymentGateway
	Calendar    services.CalendarScheduler
	Renderer    services.ContractRenderer
	Uploader    services.ContractUploader
	Events      services.BookingEventPublisher
	Build       services.BuildInfo
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	IDGenerator func() string
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Catalog   services.CatalogService
	Reviews   services.ReviewService
	Sessions  services.BookingSessionService
	Finalizer services.ContractFinalizer
	Contracts services.ContractAdminService
	// Webhooks is nil when no payment gateway is configured.
	Webhooks services.PaymentWebhookService
	System   services.SystemService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring passes the
// Firestore registry; tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog: reg.Catalog(),
		Logger:  infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	reviewSvc, err := services.NewReviewService(services.ReviewServiceDeps{
		Reviews: reg.Reviews(),
		Logger:  infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build review service: %w", err)
	}
	svc.Reviews = reviewSvc

	contracts := reg.Contracts()
	if contracts == nil {
		return Services{}, errors.New("contract repository is required")
	}

	finalizer, err := services.NewContractFinalizer(services.ContractFinalizerDeps{
		Contracts:   contracts,
		Orders:      reg.Orders(),
		Renderer:    infra.Renderer,
		Uploader:    infra.Uploader,
		Events:      infra.Events,
		Clock:       infra.Clock,
		Logger:      infra.Logger,
		IDGenerator: infra.IDGenerator,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build contract finalizer: %w", err)
	}
	svc.Finalizer = finalizer

	travel, err := parseTravelCost(cfg.Booking.DefaultTravelCost)
	if err != nil {
		return Services{}, err
	}

	location, err := time.LoadLocation(strings.TrimSpace(cfg.Calendar.TimeZone))
	if err != nil {
		return Services{}, fmt.Errorf("load calendar time zone: %w", err)
	}

	checkout := services.CheckoutOrchestratorDeps{
		Calendar:        infra.Calendar,
		Finalizer:       finalizer,
		PaymentsEnabled: cfg.Features.Payments && infra.Payments != nil,
		CalendarEnabled: cfg.Features.Calendar && infra.Calendar != nil,
		ReturnURLs: payments.ReturnURLs{
			Success: cfg.PSP.SuccessURL,
			Failure: cfg.PSP.FailureURL,
			Pending: cfg.PSP.PendingURL,
		},
		Location:      location,
		EventDuration: cfg.Calendar.EventDuration,
	}
	if infra.Payments != nil {
		checkout.Payments = infra.Payments
	}

	sessions, err := services.NewBookingSessionService(services.BookingSessionServiceDeps{
		Catalog:           catalogSvc,
		Settings:          reg.Settings(),
		Checkout:          checkout,
		DefaultTravelCost: travel,
		TTL:               cfg.Booking.SessionTTL,
		Clock:             infra.Clock,
		Logger:            infra.Logger,
		IDGenerator:       infra.IDGenerator,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build booking session service: %w", err)
	}
	svc.Sessions = sessions

	contractSvc, err := services.NewContractAdminService(services.ContractAdminServiceDeps{
		Contracts: contracts,
		Events:    infra.Events,
		Clock:     infra.Clock,
		Logger:    infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build contract admin service: %w", err)
	}
	svc.Contracts = contractSvc

	if infra.Payments != nil {
		webhookSvc, err := services.NewPaymentWebhookService(services.PaymentWebhookServiceDeps{
			Payments:  infra.Payments,
			Contracts: contracts,
			Orders:    reg.Orders(),
			Events:    infra.Events,
			Clock:     infra.Clock,
			Logger:    infra.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment webhook service: %w", err)
		}
		svc.Webhooks = webhookSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = infra.Clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            infra.Clock,
			Build:            build,
			Critical:         []string{"firestore"},
			CacheTTL:         readinessCacheTTL,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// parseTravelCost accepts the same loose amount formats as catalog prices.
func parseTravelCost(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	amount := domain.ParseAmount(trimmed)
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("default travel cost %q must not be negative", raw)
	}
	return amount, nil
}
