package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/donorsync/internal/client/models"
	"github.com/dmitrijs2005/donorsync/internal/client/query"
	"github.com/dmitrijs2005/donorsync/internal/common"
)

const donorsPath = "/api/donors"

type DonorService interface {
	List(ctx context.Context) ([]models.Donor, bool, error)
	Get(ctx context.Context, id string) (*models.Donor, bool, error)
	Register(ctx context.Context, app models.DonorApplication) (*models.Donor, error)
}

type donorService struct{ resource }

func NewDonorService(exec Executor, cache *query.Cache) DonorService {
	return &donorService{resource{exec: exec, cache: cache}}
}

func (s *donorService) List(ctx context.Context) ([]models.Donor, bool, error) {
	return query.Fetch(ctx, s.cache, KeyDonorList, func(ctx context.Context) ([]models.Donor, error) {
		return getJSON[[]models.Donor](ctx, s.exec, donorsPath)
	})
}

func (s *donorService) Get(ctx context.Context, id string) (*models.Donor, bool, error) {
	if err := requireID("donor id", id); err != nil {
		return nil, false, err
	}
	return query.Fetch(ctx, s.cache, KeyDonor(id), func(ctx context.Context) (*models.Donor, error) {
		d, err := getJSON[models.Donor](ctx, s.exec, donorsPath+"/"+escape(id))
		if err != nil {
			return nil, err
		}
		return &d, nil
	})
}

// Register signs the current user up as a donor. The donor lists and the
// profile (which carries the blood type) are invalidated.
func (s *donorService) Register(ctx context.Context, app models.DonorApplication) (*models.Donor, error) {
	if app.BloodType == "" {
		return nil, fmt.Errorf("%w: blood type is required", common.ErrorValidation)
	}
	return query.Mutate(ctx, s.cache, KeyDonorMe, func(ctx context.Context) (*models.Donor, error) {
		return sendJSON[models.Donor](ctx, s.exec, http.MethodPost, donorsPath, app)
	}, PrefixDonor, PrefixProfile)
}
