package services

import (
	"context"

	"github.com/dmitrijs2005/donorsync/internal/client/models"
	"golang.org/x/sync/errgroup"
)

// DashboardService assembles the landing view of the research dashboard.
type DashboardService struct {
	Profile  ProfileService
	Donors   DonorService
	Research ResearchService
}

// Load fetches profile, donors and research records concurrently; the first
// failure cancels the rest.
func (d *DashboardService) Load(ctx context.Context) (*models.Dashboard, error) {
	var out models.Dashboard
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p, _, err := d.Profile.Get(ctx)
		out.Profile = p
		return err
	})
	g.Go(func() error {
		l, _, err := d.Donors.List(ctx)
		out.Donors = l
		return err
	})
	g.Go(func() error {
		r, _, err := d.Research.List(ctx)
		out.Research = r
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}
