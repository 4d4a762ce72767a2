package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/donorsync/internal/client/models"
	"github.com/dmitrijs2005/donorsync/internal/client/query"
	"github.com/dmitrijs2005/donorsync/internal/common"
)

const (
	patientsPath = "/api/patients"
	requestsPath = "/api/requests"
)

type PatientService interface {
	List(ctx context.Context) ([]models.Patient, bool, error)
	Get(ctx context.Context, id string) (*models.Patient, bool, error)
	OpenRequest(ctx context.Context, patientID string, req models.NewDonationRequest) (*models.DonationRequest, error)
	UpdateRequestStatus(ctx context.Context, requestID string, upd models.StatusUpdate) (*models.DonationRequest, error)
}

type patientService struct{ resource }

func NewPatientService(exec Executor, cache *query.Cache) PatientService {
	return &patientService{resource{exec: exec, cache: cache}}
}

func (s *patientService) List(ctx context.Context) ([]models.Patient, bool, error) {
	return query.Fetch(ctx, s.cache, KeyPatientList, func(ctx context.Context) ([]models.Patient, error) {
		return getJSON[[]models.Patient](ctx, s.exec, patientsPath)
	})
}

func (s *patientService) Get(ctx context.Context, id string) (*models.Patient, bool, error) {
	if err := requireID("patient id", id); err != nil {
		return nil, false, err
	}
	return query.Fetch(ctx, s.cache, KeyPatient(id), func(ctx context.Context) (*models.Patient, error) {
		p, err := getJSON[models.Patient](ctx, s.exec, patientsPath+"/"+escape(id))
		if err != nil {
			return nil, err
		}
		return &p, nil
	})
}

// OpenRequest creates a donation request for a patient. Every patient view
// is invalidated, since the aggregate embeds its requests.
func (s *patientService) OpenRequest(ctx context.Context, patientID string, req models.NewDonationRequest) (*models.DonationRequest, error) {
	if err := requireID("patient id", patientID); err != nil {
		return nil, err
	}
	if req.Units <= 0 {
		return nil, fmt.Errorf("%w: units must be positive", common.ErrorValidation)
	}

	var created *models.DonationRequest
	_, err := s.cache.Mutate(ctx, KeyPatient(patientID), func(ctx context.Context) (any, error) {
		var err error
		created, err = sendJSON[models.DonationRequest](ctx, s.exec, http.MethodPost,
			patientsPath+"/"+escape(patientID)+"/requests", req)
		return nil, err
	}, PrefixPatient)
	return created, err
}

// UpdateRequestStatus appends a status update to a donation request.
// Updates of one request are serialized.
func (s *patientService) UpdateRequestStatus(ctx context.Context, requestID string, upd models.StatusUpdate) (*models.DonationRequest, error) {
	if err := requireID("request id", requestID); err != nil {
		return nil, err
	}
	if _, err := models.ParseRequestStatus(string(upd.Status)); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}

	var updated *models.DonationRequest
	_, err := s.cache.Mutate(ctx, keyRequest(requestID), func(ctx context.Context) (any, error) {
		var err error
		updated, err = sendJSON[models.DonationRequest](ctx, s.exec, http.MethodPut,
			requestsPath+"/"+escape(requestID)+"/status", upd)
		return nil, err
	}, PrefixPatient)
	return updated, err
}
