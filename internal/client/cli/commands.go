package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/donorsync/internal/client/client"
	"github.com/dmitrijs2005/donorsync/internal/client/models"
	"github.com/dmitrijs2005/donorsync/internal/client/services"
	"github.com/dmitrijs2005/donorsync/internal/common"
	"github.com/prometheus/common/expfmt"
)

// Screens the commands navigate to.
const (
	screenSignIn      = "/signin"
	screenSignUp      = "/signup"
	screenOverview    = "/researchdashboard/overview"
	screenResearch    = "/researchdashboard/research"
	screenProfile     = "/profile"
	screenEditProfile = "/profile/edit"
	screenDonors      = "/dashboard/donors"
	screenNewDonor    = "/dashboard/donors/new"
	screenPatients    = "/dashboard/patients"
	screenRequests    = "/dashboard/requests"
)

func noArgs(run func(ctx context.Context) error) func(context.Context, []string) error {
	return func(ctx context.Context, _ []string) error { return run(ctx) }
}

func (a *App) commands() []command {
	return []command{
		{name: "register", screen: screenSignUp, run: noArgs(a.Register)},
		{name: "login", screen: screenSignIn, run: noArgs(a.Login)},
		{name: "logout", run: noArgs(a.Logout)},
		{name: "status", run: noArgs(a.ShowStatus)},
		{name: "dashboard", alias: "d", screen: screenOverview, run: noArgs(a.Dashboard)},
		{name: "profile", screen: screenProfile, run: noArgs(a.Profile)},
		{name: "editprofile", screen: screenEditProfile, run: noArgs(a.EditProfile)},
		{name: "donors", screen: screenDonors, run: noArgs(a.Donors)},
		{name: "becomedonor", screen: screenNewDonor, run: noArgs(a.BecomeDonor)},
		{name: "patients", screen: screenPatients, run: noArgs(a.Patients)},
		{name: "patient", usage: "<patient-id>", screen: screenPatients, run: a.Patient},
		{name: "request", usage: "<patient-id>", screen: screenPatients, run: a.OpenRequest},
		{name: "setstatus", usage: "<request-id> <status> [note]", screen: screenRequests, run: a.SetStatus},
		{name: "research", screen: screenResearch, run: noArgs(a.Research)},
		{name: "enroll", usage: "<study-id>", screen: screenResearch, run: a.Enroll},
		{name: "withdraw", usage: "<study-id>", screen: screenResearch, run: a.Withdraw},
		{name: "stats", run: noArgs(a.Stats)},
	}
}

// describe turns a command error into a line for the user.
func describe(err error) string {
	var he *client.HTTPError
	switch {
	case errors.Is(err, errUsage):
		return "Usage: " + strings.TrimPrefix(err.Error(), errUsage.Error()+": ")
	case errors.Is(err, client.ErrSessionExpired):
		return "Session expired, please login again"
	case errors.Is(err, client.ErrUnauthenticated):
		if errors.As(err, &he) && he.Message() != "" {
			return "Not authorized: " + he.Message()
		}
		return "Please login first"
	case errors.Is(err, client.ErrNetwork):
		return "Server unavailable, try again later"
	case errors.Is(err, services.ErrAlreadyAuthenticated):
		return "Already logged in"
	case errors.As(err, &he):
		if msg := he.Message(); msg != "" {
			return fmt.Sprintf("Request failed (%d): %s", he.StatusCode, msg)
		}
		return fmt.Sprintf("Request failed (%d)", he.StatusCode)
	case errors.Is(err, common.ErrorValidation):
		return "Invalid input: " + strings.TrimPrefix(err.Error(), common.ErrorValidation.Error()+": ")
	}
	return "Error: " + err.Error()
}

func (a *App) refreshingNote(refreshing bool) {
	if refreshing {
		fmt.Fprintln(a.writer(), "(showing cached data, updating in background)")
	}
}

func (a *App) printProfile(p *models.Profile) {
	w := a.writer()
	fmt.Fprintf(w, "%s %s <%s>\n", p.FirstName, p.LastName, p.Email)
	if p.BloodType != "" {
		fmt.Fprintf(w, "  blood type: %s\n", p.BloodType)
	}
	if p.City != "" {
		fmt.Fprintf(w, "  city: %s\n", p.City)
	}
	if p.Phone != "" {
		fmt.Fprintf(w, "  phone: %s\n", p.Phone)
	}
}

func (a *App) printDonors(list []models.Donor) {
	if len(list) == 0 {
		fmt.Fprintln(a.writer(), "No donors")
		return
	}
	for _, d := range list {
		eligible := "eligible"
		if !d.Eligible {
			eligible = "not eligible"
		}
		fmt.Fprintf(a.writer(), "%-10s %-4s %-16s %s\n", d.ID, d.BloodType, d.City, eligible)
	}
}

func (a *App) printResearch(list []models.ResearchRecord) {
	if len(list) == 0 {
		fmt.Fprintln(a.writer(), "No studies")
		return
	}
	for _, r := range list {
		fmt.Fprintf(a.writer(), "%-10s %-10s %s\n", r.StudyID, r.Status, r.Title)
	}
}

func (a *App) printRequest(r *models.DonationRequest) {
	fmt.Fprintf(a.writer(), "%-10s %-4s %3d unit(s) %s\n", r.ID, r.BloodType, r.Units, r.Status)
}

// Dashboard prints the overview screen.
func (a *App) Dashboard(ctx context.Context) error {
	d, err := a.dashboard.Load(ctx)
	if err != nil {
		return err
	}
	w := a.writer()
	fmt.Fprintln(w, "== Profile")
	a.printProfile(d.Profile)
	fmt.Fprintln(w, "== Donors")
	a.printDonors(d.Donors)
	fmt.Fprintln(w, "== Research")
	a.printResearch(d.Research)
	return nil
}

func (a *App) Profile(ctx context.Context) error {
	p, refreshing, err := a.profile.Get(ctx)
	if err != nil {
		return err
	}
	a.printProfile(p)
	a.refreshingNote(refreshing)
	return nil
}

// EditProfile prompts for each editable field; empty answers keep the value.
func (a *App) EditProfile(ctx context.Context) error {
	var upd models.ProfileUpdate
	fields := []struct {
		prompt string
		dst    *string
	}{
		{"First name (empty to keep)", &upd.FirstName},
		{"Last name (empty to keep)", &upd.LastName},
		{"Phone (empty to keep)", &upd.Phone},
		{"City (empty to keep)", &upd.City},
	}
	for _, f := range fields {
		v, err := getSimpleText(a.reader, f.prompt, a.writer())
		if err != nil {
			return err
		}
		*f.dst = v
	}

	p, err := a.profile.Update(ctx, upd)
	if err != nil {
		return err
	}
	if p != nil {
		a.printProfile(p)
	}
	fmt.Fprintln(a.writer(), "Profile saved")
	return nil
}

func (a *App) Donors(ctx context.Context) error {
	list, refreshing, err := a.donors.List(ctx)
	if err != nil {
		return err
	}
	a.printDonors(list)
	a.refreshingNote(refreshing)
	return nil
}

// BecomeDonor registers the signed-in user as a donor.
func (a *App) BecomeDonor(ctx context.Context) error {
	bt, err := getSimpleText(a.reader, "Blood type (e.g. A+, O-)", a.writer())
	if err != nil {
		return err
	}
	city, err := getSimpleText(a.reader, "City", a.writer())
	if err != nil {
		return err
	}

	d, err := a.donors.Register(ctx, models.DonorApplication{BloodType: models.BloodType(strings.ToUpper(bt)), City: city})
	if err != nil {
		return err
	}
	if d != nil {
		fmt.Fprintf(a.writer(), "Registered as donor %s\n", d.ID)
	} else {
		fmt.Fprintln(a.writer(), "Registered as donor")
	}
	return nil
}

func (a *App) Patients(ctx context.Context) error {
	list, refreshing, err := a.patients.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.writer(), "No patients")
	}
	for _, p := range list {
		fmt.Fprintf(a.writer(), "%-10s %-4s %-20s %s (%d request(s))\n", p.ID, p.BloodType, p.Name, p.Hospital, len(p.Requests))
	}
	a.refreshingNote(refreshing)
	return nil
}

func (a *App) Patient(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("patient <patient-id>")
	}
	p, refreshing, err := a.patients.Get(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.writer(), "%s %s, %s at %s\n", p.ID, p.Name, p.BloodType, p.Hospital)
	for i := range p.Requests {
		a.printRequest(&p.Requests[i])
	}
	a.refreshingNote(refreshing)
	return nil
}

// OpenRequest opens a donation request for a patient.
func (a *App) OpenRequest(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("request <patient-id>")
	}
	bt, err := getSimpleText(a.reader, "Blood type", a.writer())
	if err != nil {
		return err
	}
	units, err := GetInt(a.reader, "Units (default 1)", a.writer(), 1)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}
	urgency, err := getSimpleText(a.reader, "Urgency (optional)", a.writer())
	if err != nil {
		return err
	}

	r, err := a.patients.OpenRequest(ctx, args[0], models.NewDonationRequest{
		BloodType: models.BloodType(strings.ToUpper(bt)),
		Units:     units,
		Urgency:   urgency,
	})
	if err != nil {
		return err
	}
	if r != nil {
		a.printRequest(r)
	}
	fmt.Fprintln(a.writer(), "Request opened")
	return nil
}

func (a *App) SetStatus(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usageError("setstatus <request-id> <status> [note]")
	}
	upd := models.StatusUpdate{
		Status: models.RequestStatus(args[1]),
		Note:   strings.Join(args[2:], " "),
	}
	r, err := a.patients.UpdateRequestStatus(ctx, args[0], upd)
	if err != nil {
		return err
	}
	if r != nil {
		a.printRequest(r)
	}
	return nil
}

func (a *App) Research(ctx context.Context) error {
	list, refreshing, err := a.research.List(ctx)
	if err != nil {
		return err
	}
	a.printResearch(list)
	a.refreshingNote(refreshing)
	return nil
}

func (a *App) Enroll(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("enroll <study-id>")
	}
	if _, err := a.research.Enroll(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.writer(), "Enrolled in %s\n", args[0])
	return nil
}

func (a *App) Withdraw(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("withdraw <study-id>")
	}
	if _, err := a.research.Withdraw(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.writer(), "Withdrawn from %s\n", args[0])
	return nil
}

// Stats prints the client's collectors in the prometheus text format.
func (a *App) Stats(context.Context) error {
	if a.gatherer == nil {
		return nil
	}
	families, err := a.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(a.writer(), expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return nil
}
