package settings

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Service reads and edits store settings.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a settings Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Get returns the current settings, storing defaults on first use.
func (s *Service) Get(ctx context.Context) (*Store, error) {
	st, err := s.repo.Get(ctx)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "load settings")
	}

	defaults := Defaults(uuid.NewString(), s.now().UTC())
	if err := s.repo.Save(ctx, &defaults); err != nil {
		return nil, errors.Wrap(err, "store default settings")
	}
	return &defaults, nil
}

// Update applies p to the current settings.
func (s *Service) Update(ctx context.Context, p Patch) (*Store, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	updated, err := Apply(*current, p, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, &updated); err != nil {
		return nil, errors.Wrap(err, "save settings")
	}
	return &updated, nil
}
