package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/campus-brew/api/internal/domain"
	pfirestore "github.com/campus-brew/api/internal/platform/firestore"
	"github.com/campus-brew/api/internal/platform/textutil"
	"github.com/campus-brew/api/internal/repositories"
)

const usersCollection = "users"

type userDocument struct {
	Name               string    `firestore:"name"`
	NameNormalized     string    `firestore:"nameNormalized"`
	PhoneticName       string    `firestore:"phoneticName"`
	PhoneticNormalized string    `firestore:"phoneticNormalized"`
	Phone              string    `firestore:"phone"`
	Permissions        []string  `firestore:"permissions"`
	Blocked            bool      `firestore:"blocked"`
	CreatedAt          time.Time `firestore:"createdAt"`
	UpdatedAt          time.Time `firestore:"updatedAt"`
}

// UserRepository stores campus account projections keyed by the SSO subject.
// Names are additionally stored width-normalised so walk-in orders can be
// matched against accounts regardless of input width.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		base: pfirestore.NewBaseRepository[userDocument](provider, usersCollection, nil, nil),
	}, nil
}

// FindByID loads the user by SSO subject.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	id := strings.TrimSpace(userID)
	if id == "" {
		return domain.User{}, errors.New("user id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	return toDomainUser(doc.ID, doc.Data), nil
}

// FindByName returns every user whose normalised name or phonetic name
// matches exactly. Walk-in customers often give the reading of their name, so
// both spellings count.
func (r *UserRepository) FindByName(ctx context.Context, name string) ([]domain.User, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("user repository not initialised")
	}
	normalized := textutil.NormalizeName(name)
	if normalized == "" {
		return nil, nil
	}

	byName, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("nameNormalized", "==", normalized)
	})
	if err != nil {
		return nil, err
	}
	byPhonetic, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("phoneticNormalized", "==", normalized)
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(byName)+len(byPhonetic))
	users := make([]domain.User, 0, len(byName)+len(byPhonetic))
	for _, doc := range append(byName, byPhonetic...) {
		if _, ok := seen[doc.ID]; ok {
			continue
		}
		seen[doc.ID] = struct{}{}
		users = append(users, toDomainUser(doc.ID, doc.Data))
	}
	return users, nil
}

// Upsert writes the user document, refreshing the normalised name.
func (r *UserRepository) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	id := strings.TrimSpace(user.ID)
	if id == "" {
		return domain.User{}, errors.New("user id is required")
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	if _, err := r.base.Set(ctx, id, fromDomainUser(user)); err != nil {
		return domain.User{}, err
	}
	user.ID = id
	return user, nil
}

// Delete removes the user document.
func (r *UserRepository) Delete(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	id := strings.TrimSpace(userID)
	if id == "" {
		return errors.New("user id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("users.delete", err)
	}
	return nil
}

// SetBlocked flips the blocked flag without touching the rest of the document.
func (r *UserRepository) SetBlocked(ctx context.Context, userID string, blocked bool, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	id := strings.TrimSpace(userID)
	if id == "" {
		return errors.New("user id is required")
	}
	_, err := r.base.Update(ctx, id, []firestore.Update{
		{Path: "blocked", Value: blocked},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
	return err
}

func toDomainUser(id string, doc userDocument) domain.User {
	return domain.User{
		ID:           id,
		Name:         doc.Name,
		PhoneticName: doc.PhoneticName,
		Phone:        doc.Phone,
		Permissions:  append([]string(nil), doc.Permissions...),
		Blocked:      doc.Blocked,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}

func fromDomainUser(user domain.User) userDocument {
	return userDocument{
		Name:               strings.TrimSpace(user.Name),
		NameNormalized:     textutil.NormalizeName(user.Name),
		PhoneticName:       strings.TrimSpace(user.PhoneticName),
		PhoneticNormalized: textutil.NormalizeName(user.PhoneticName),
		Phone:              strings.TrimSpace(user.Phone),
		Permissions:        append([]string(nil), user.Permissions...),
		Blocked:            user.Blocked,
		CreatedAt:          user.CreatedAt.UTC(),
		UpdatedAt:          user.UpdatedAt.UTC(),
	}
}
