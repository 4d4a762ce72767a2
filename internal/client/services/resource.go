package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dmitrijs2005/donorsync/internal/client/client"
	"github.com/dmitrijs2005/donorsync/internal/client/query"
	"github.com/dmitrijs2005/donorsync/internal/common"
)

// Cache keys and invalidation prefixes of the domain families.
const (
	KeyProfile      = "profile/me"
	KeyDonorList    = "donor/list"
	KeyDonorMe      = "donor/me"
	KeyPatientList  = "patient/list"
	KeyResearchList = "research/list"

	PrefixProfile  = "profile/"
	PrefixDonor    = "donor/"
	PrefixPatient  = "patient/"
	PrefixResearch = "research/"
)

// Entity keys live under "id/" so an id never collides with a fixed key.
func KeyDonor(id string) string { return PrefixDonor + "id/" + id }
func KeyPatient(id string) string { return PrefixPatient + "id/" + id }
func keyRequest(id string) string { return "request/" + id }
func keyStudy(id string) string { return PrefixResearch + "study/" + id }
func escape(segment string) string { return url.PathEscape(segment) }

// resource bundles what every domain service needs.
type resource struct {
	exec  Executor
	cache *query.Cache
}

func getJSON[T any](ctx context.Context, exec Executor, path string) (T, error) {
	var zero T
	resp, err := exec.Execute(ctx, client.Request{Method: http.MethodGet, Path: path, Auth: true})
	if err != nil {
		return zero, err
	}
	out, err := client.DecodeJSON[T](resp)
	if err != nil {
		return zero, fmt.Errorf("GET %s: %w", path, err)
	}
	return out.Data, nil
}

// sendJSON performs a mutating request. A response without a body yields nil.
func sendJSON[T any](ctx context.Context, exec Executor, method, path string, body any) (*T, error) {
	resp, err := exec.Execute(ctx, client.Request{Method: method, Path: path, Body: body, Auth: true})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent || len(resp.Body) == 0 {
		return nil, nil
	}
	out, err := client.DecodeJSON[T](resp)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return &out.Data, nil
}

func requireID(name, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s is required", common.ErrorValidation, name)
	}
	return nil
}
