package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/campus-brew/api/internal/platform/config"
	"github.com/campus-brew/api/internal/repositories"
	"github.com/campus-brew/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog    services.CatalogService
	Orders     services.OrderService
	Quota      services.QuotaService
	Settings   services.SettingsService
	Users      services.UserService
	Statistics services.StatisticsService
	Exports    services.ExportService
	Audit      services.AuditLogService
	System     services.SystemService

	// Schedule is nil when the automatic open/close scheduler is disabled.
	Schedule *services.ShopSchedule
}

// ContainerDeps carries the externally constructed collaborators the service
// layer depends on. Registry is mandatory; the rest degrade gracefully.
type ContainerDeps struct {
	Config   config.Config
	Registry repositories.Registry
	Logger   *zap.Logger

	// Events publishes order lifecycle messages; nil disables publishing.
	Events services.OrderEventPublisher
	// Uploader and URLSigner back the statistics export pipeline.
	Uploader  services.ExportUploader
	URLSigner services.ExportURLSigner
	// Health feeds readiness probes; nil leaves Services.System unset.
	Health repositories.HealthRepository
	Build  services.BuildInfo

	Clock func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides Firestore-backed
// repositories, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, deps ContainerDeps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, deps ContainerDeps) (Services, error) {
	var svc Services

	cfg := deps.Config
	reg := deps.Registry
	location := cfg.Shop.Location()

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository:  reg.AuditLogs(),
		Clock:       clock,
		IDGenerator: newULID,
		Logger:      logger.Named("audit").Sugar(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build audit log service: %w", err)
	}
	svc.Audit = auditSvc

	settingsSvc, err := services.NewSettingsService(services.SettingsServiceDeps{
		Settings: reg.Settings(),
		Audit:    auditSvc,
		Clock:    clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build settings service: %w", err)
	}
	svc.Settings = settingsSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog: reg.Catalog(),
		Audit:   auditSvc,
		Clock:   clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	quotaSvc, err := services.NewQuotaService(services.QuotaServiceDeps{
		Orders:               reg.Orders(),
		Users:                reg.Users(),
		Settings:             reg.Settings(),
		Catalog:              reg.Catalog(),
		Location:             location,
		DefaultOrderQuota:    cfg.Shop.DefaultOrderQuota,
		UnpaidDoneIsTerminal: cfg.Shop.UnpaidDoneIsTerminal,
		Clock:                clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build quota service: %w", err)
	}
	svc.Quota = quotaSvc

	numbering, err := services.NewNumberingService(services.NumberingServiceDeps{
		Counters:  reg.Counters(),
		Location:  location,
		PadLength: cfg.Shop.NumberPadding,
		Clock:     clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build numbering service: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:               reg.Orders(),
		Catalog:              reg.Catalog(),
		Quota:                quotaSvc,
		Numbering:            numbering,
		Pricing:              services.NewPricingEngine(),
		Location:             location,
		MinutesPerCup:        cfg.Shop.MinutesPerCup,
		UnpaidDoneIsTerminal: cfg.Shop.UnpaidDoneIsTerminal,
		UnitOfWork:           reg,
		Events:               deps.Events,
		Audit:                auditSvc,
		Clock:                clock,
		IDGenerator:          newULID,
		Logger:               newEventLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	userSvc, err := services.NewUserService(services.UserServiceDeps{
		Users:                reg.Users(),
		Orders:               reg.Orders(),
		Audit:                auditSvc,
		UnpaidDoneIsTerminal: cfg.Shop.UnpaidDoneIsTerminal,
		Clock:                clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build user service: %w", err)
	}
	svc.Users = userSvc

	statsSvc, err := services.NewStatisticsService(services.StatisticsServiceDeps{
		Orders:               reg.Orders(),
		Location:             location,
		CacheTTL:             cfg.Shop.StatsCacheTTL,
		UnpaidDoneIsTerminal: cfg.Shop.UnpaidDoneIsTerminal,
		Clock:                clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build statistics service: %w", err)
	}
	svc.Statistics = statsSvc

	if deps.Uploader != nil && deps.URLSigner != nil && cfg.Exports.TokenSecret != "" {
		exportSvc, err := services.NewExportService(services.ExportServiceDeps{
			Statistics:  statsSvc,
			Uploader:    deps.Uploader,
			URLSigner:   deps.URLSigner,
			Bucket:      cfg.Storage.ExportsBucket,
			TokenSecret: cfg.Exports.TokenSecret,
			TokenTTL:    cfg.Exports.TokenTTL,
			Audit:       auditSvc,
			Clock:       clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build export service: %w", err)
		}
		svc.Exports = exportSvc
	}

	if deps.Health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: deps.Health,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	if cfg.Shop.SchedulerEnabled {
		schedule, err := services.NewShopSchedule(services.ShopScheduleDeps{
			Settings:  settingsSvc,
			Location:  location,
			OpenHour:  cfg.Shop.OpenHour,
			CloseHour: cfg.Shop.CloseHour,
			Clock:     clock,
			Logger:    newEventLogger(logger.Named("schedule")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build shop schedule: %w", err)
		}
		svc.Schedule = schedule
	}

	return svc, nil
}

func newULID() string {
	return ulid.Make().String()
}

func newEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info("event", zFields...)
	}
}
