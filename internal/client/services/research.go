package services

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/donorsync/internal/client/models"
	"github.com/dmitrijs2005/donorsync/internal/client/query"
)

const researchPath = "/api/research"

type ResearchService interface {
	List(ctx context.Context) ([]models.ResearchRecord, bool, error)
	Enroll(ctx context.Context, studyID string) (*models.ResearchRecord, error)
	Withdraw(ctx context.Context, studyID string) (*models.ResearchRecord, error)
}

type researchService struct{ resource }

func NewResearchService(exec Executor, cache *query.Cache) ResearchService {
	return &researchService{resource{exec: exec, cache: cache}}
}

func (s *researchService) List(ctx context.Context) ([]models.ResearchRecord, bool, error) {
	return query.Fetch(ctx, s.cache, KeyResearchList, func(ctx context.Context) ([]models.ResearchRecord, error) {
		return getJSON[[]models.ResearchRecord](ctx, s.exec, researchPath)
	})
}

func (s *researchService) Enroll(ctx context.Context, studyID string) (*models.ResearchRecord, error) {
	return s.change(ctx, studyID, "enroll")
}

func (s *researchService) Withdraw(ctx context.Context, studyID string) (*models.ResearchRecord, error) {
	return s.change(ctx, studyID, "withdraw")
}

func (s *researchService) change(ctx context.Context, studyID, action string) (*models.ResearchRecord, error) {
	if err := requireID("study id", studyID); err != nil {
		return nil, err
	}

	var rec *models.ResearchRecord
	_, err := s.cache.Mutate(ctx, keyStudy(studyID), func(ctx context.Context) (any, error) {
		var err error
		rec, err = sendJSON[models.ResearchRecord](ctx, s.exec, http.MethodPost,
			researchPath+"/"+escape(studyID)+"/"+action, nil)
		return nil, err
	}, PrefixResearch)
	return rec, err
}
