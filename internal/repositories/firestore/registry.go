package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	pfirestore "github.com/campus-brew/api/internal/platform/firestore"
	"github.com/campus-brew/api/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind a single accessor
// and implements the unit-of-work boundary on top of Firestore transactions.
type Registry struct {
	provider *pfirestore.Provider

	catalog   *CatalogRepository
	orders    *OrderRepository
	users     *UserRepository
	settings  *SettingsRepository
	auditLogs *AuditLogRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build catalog repository: %w", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build user repository: %w", err)
	}
	settings, err := NewSettingsRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build settings repository: %w", err)
	}
	auditLogs, err := NewAuditLogRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build audit log repository: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build counter repository: %w", err)
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "firestore", Check: firestorePing(provider)},
	})
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	return &Registry{
		provider:  provider,
		catalog:   catalog,
		orders:    orders,
		users:     users,
		settings:  settings,
		auditLogs: auditLogs,
		counters:  counters,
		health:    health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Catalog returns the catalog repository.
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Users returns the user repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// Settings returns the settings repository.
func (r *Registry) Settings() repositories.SettingsRepository { return r.settings }

// AuditLogs returns the audit trail repository.
func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.auditLogs }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the dependency health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a Firestore transaction. The transaction rides
// the context, so repository reads and writes made through the registry
// inside fn go through it; Firestore retries fn on contention.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}

func firestorePing(provider *pfirestore.Provider) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		iter := client.Collections(ctx)
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}
