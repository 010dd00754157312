// Package user manages user atomes: registration, login and the
// directory other components resolve share targets against.
package user

import (
	"context"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"
	"atome-store/internal/store"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Profile is the public projection of a user atome.
type Profile struct {
	ID         string `json:"id"`
	Phone      string `json:"phone"`
	Name       string `json:"name"`
	Visibility string `json:"visibility"`
}

// Service defines the interface for user business logic
type Service interface {
	Register(ctx context.Context, phone, name, password string) (*Profile, error)
	Login(ctx context.Context, phone, password string) (*Profile, error)
	GetByID(ctx context.Context, id string) (*Profile, error)
	Search(ctx context.Context, callerID, query string) ([]Profile, error)
	SetVisibility(ctx context.Context, userID, visibility string) error
}

// DefaultService implements Service over the atome ledger.
type DefaultService struct {
	ledger store.Ledger
}

func NewService(ledger store.Ledger) Service {
	return &DefaultService{ledger: ledger}
}

// Register creates a user atome. The phone number is the login handle and
// must be unique.
func (s *DefaultService) Register(ctx context.Context, phone, name, password string) (*Profile, error) {
	if phone == "" || password == "" {
		return nil, apierrors.Invalid("Phone and password are required", nil)
	}

	existing, err := s.findByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apierrors.AlreadyExists("User already registered", nil)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apierrors.Internal("Failed to hash password", err)
	}

	id := uuid.NewString()
	atome := &domain.Atome{
		ID:        id,
		Type:      domain.TypeUser,
		OwnerID:   id,
		CreatorID: id,
		Particles: map[string]any{
			"phone":         phone,
			"name":          name,
			"password_hash": string(hashed),
			"visibility":    "public",
		},
	}
	if err := s.ledger.Create(ctx, atome); err != nil {
		return nil, err
	}
	return profileOf(atome), nil
}

// Login authenticates by phone and password.
func (s *DefaultService) Login(ctx context.Context, phone, password string) (*Profile, error) {
	atome, err := s.findByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if atome == nil {
		return nil, apierrors.Unauthenticated("User not found", nil)
	}

	hash, _ := atome.Particles["password_hash"].(string)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, apierrors.Unauthenticated("Wrong password", err)
	}
	return profileOf(atome), nil
}

// GetByID returns the profile of one user atome.
func (s *DefaultService) GetByID(ctx context.Context, id string) (*Profile, error) {
	atome, err := s.ledger.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if atome.Type != domain.TypeUser {
		return nil, apierrors.NotFound("User not found", nil)
	}
	return profileOf(atome), nil
}

// Search lists directory matches on phone or name. Private profiles never
// appear for anyone but themselves.
func (s *DefaultService) Search(ctx context.Context, callerID, query string) ([]Profile, error) {
	users, err := s.ledger.List(ctx, store.Query{Type: domain.TypeUser})
	if err != nil {
		return nil, err
	}

	var matches []Profile
	for i := range users {
		profile := profileOf(&users[i])
		if profile.Visibility == "private" && profile.ID != callerID {
			continue
		}
		if query != "" && profile.Phone != query && profile.Name != query {
			continue
		}
		matches = append(matches, *profile)
	}
	return matches, nil
}

// SetVisibility flips the directory visibility particle.
func (s *DefaultService) SetVisibility(ctx context.Context, userID, visibility string) error {
	if visibility != "public" && visibility != "private" {
		return apierrors.Invalid("Visibility must be public or private", nil)
	}
	_, err := s.ledger.Update(ctx, userID, map[string]any{"visibility": visibility}, userID)
	return err
}

func (s *DefaultService) findByPhone(ctx context.Context, phone string) (*domain.Atome, error) {
	users, err := s.ledger.List(ctx, store.Query{Type: domain.TypeUser})
	if err != nil {
		return nil, err
	}
	for i := range users {
		if p, ok := users[i].Particles["phone"].(string); ok && p == phone {
			return &users[i], nil
		}
	}
	return nil, nil
}

func profileOf(atome *domain.Atome) *Profile {
	profile := &Profile{ID: atome.ID}
	profile.Phone, _ = atome.Particles["phone"].(string)
	profile.Name, _ = atome.Particles["name"].(string)
	profile.Visibility, _ = atome.Particles["visibility"].(string)
	if profile.Visibility == "" {
		profile.Visibility = "public"
	}
	return profile
}
