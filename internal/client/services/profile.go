package services

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/donorsync/internal/client/models"
	"github.com/dmitrijs2005/donorsync/internal/client/query"
)

const profilePath = "/api/profile"

// ProfileService reads and edits the signed-in user's profile.
type ProfileService interface {
	Get(ctx context.Context) (*models.Profile, bool, error)
	Update(ctx context.Context, upd models.ProfileUpdate) (*models.Profile, error)
}

type profileService struct{ resource }

func NewProfileService(exec Executor, cache *query.Cache) ProfileService {
	return &profileService{resource{exec: exec, cache: cache}}
}

// Get returns the profile; refreshing reports a stale value being reloaded.
func (s *profileService) Get(ctx context.Context) (*models.Profile, bool, error) {
	return query.Fetch(ctx, s.cache, KeyProfile, func(ctx context.Context) (*models.Profile, error) {
		p, err := getJSON[models.Profile](ctx, s.exec, profilePath)
		if err != nil {
			return nil, err
		}
		return &p, nil
	})
}

// Update saves the edit and replaces the cached profile with the server's copy.
func (s *profileService) Update(ctx context.Context, upd models.ProfileUpdate) (*models.Profile, error) {
	return query.Mutate(ctx, s.cache, KeyProfile, func(ctx context.Context) (*models.Profile, error) {
		return sendJSON[models.Profile](ctx, s.exec, http.MethodPut, profilePath, upd)
	})
}
