package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/campus-brew/api/internal/domain"
	pfirestore "github.com/campus-brew/api/internal/platform/firestore"
	"github.com/campus-brew/api/internal/repositories"
)

const settingsCollection = "settings"

type settingDocument struct {
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// SettingsRepository stores runtime-tunable key/value settings, one document
// per key.
type SettingsRepository struct {
	base *pfirestore.BaseRepository[settingDocument]
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

// NewSettingsRepository constructs a Firestore-backed settings repository.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{
		base: pfirestore.NewBaseRepository[settingDocument](provider, settingsCollection, nil, nil),
	}, nil
}

// Get loads a single setting by key.
func (r *SettingsRepository) Get(ctx context.Context, key string) (domain.SettingItem, error) {
	if r == nil || r.base == nil {
		return domain.SettingItem{}, errors.New("settings repository not initialised")
	}
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return domain.SettingItem{}, errors.New("setting key is required")
	}
	doc, err := r.base.Get(ctx, trimmed)
	if err != nil {
		return domain.SettingItem{}, err
	}
	return domain.SettingItem{Key: doc.ID, Value: doc.Data.Value, UpdatedAt: doc.Data.UpdatedAt}, nil
}

// Set upserts the setting document.
func (r *SettingsRepository) Set(ctx context.Context, item domain.SettingItem) error {
	if r == nil || r.base == nil {
		return errors.New("settings repository not initialised")
	}
	key := strings.TrimSpace(item.Key)
	if key == "" {
		return errors.New("setting key is required")
	}
	updatedAt := item.UpdatedAt.UTC()
	if item.UpdatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := r.base.Set(ctx, key, settingDocument{Value: item.Value, UpdatedAt: updatedAt})
	return err
}

// List returns every setting document.
func (r *SettingsRepository) List(ctx context.Context) ([]domain.SettingItem, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("settings repository not initialised")
	}
	docs, err := r.base.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	items := make([]domain.SettingItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, domain.SettingItem{Key: doc.ID, Value: doc.Data.Value, UpdatedAt: doc.Data.UpdatedAt})
	}
	return items, nil
}
