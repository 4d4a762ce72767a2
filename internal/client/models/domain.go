package models

import (
	"errors"
	"fmt"
	"time"
)

var ErrUnknownRequestStatus = errors.New("unknown request status")

// BloodType is an ABO/Rh group such as "A+" or "O-".
type BloodType string

type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Phone     string    `json:"phone,omitempty"`
	BloodType BloodType `json:"bloodType,omitempty"`
	City      string    `json:"city,omitempty"`
	Role      string    `json:"role,omitempty"`
}

// ProfileUpdate is the body of a profile edit; empty fields are left unchanged.
type ProfileUpdate struct {
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	BloodType BloodType `json:"bloodType,omitempty"`
	City      string    `json:"city,omitempty"`
}

type Donor struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	BloodType      BloodType  `json:"bloodType"`
	City           string     `json:"city"`
	LastDonationAt *time.Time `json:"lastDonationAt,omitempty"`
	Eligible       bool       `json:"eligible"`
}

// DonorApplication registers the current user as a donor.
type DonorApplication struct {
	BloodType      BloodType  `json:"bloodType"`
	City           string     `json:"city"`
	LastDonationAt *time.Time `json:"lastDonationAt,omitempty"`
}

// Patient aggregates the donation requests opened for it.
type Patient struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	BloodType BloodType         `json:"bloodType"`
	Hospital  string            `json:"hospital"`
	Requests  []DonationRequest `json:"requests,omitempty"`
}

// RequestStatus is the state of a donation request.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestMatched    RequestStatus = "matched"
	RequestInProgress RequestStatus = "in-progress"
	RequestFulfilled  RequestStatus = "fulfilled"
	RequestCancelled  RequestStatus = "cancelled"
)

// ParseRequestStatus validates s against the known request states.
func ParseRequestStatus(s string) (RequestStatus, error) {
	switch st := RequestStatus(s); st {
	case RequestPending, RequestMatched, RequestInProgress, RequestFulfilled, RequestCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRequestStatus, s)
}

// Terminal reports whether no further status updates are expected.
func (s RequestStatus) Terminal() bool {
	return s == RequestFulfilled || s == RequestCancelled
}

type DonationRequest struct {
	ID            string         `json:"id"`
	PatientID     string         `json:"patientId"`
	BloodType     BloodType      `json:"bloodType"`
	Units         int            `json:"units"`
	Urgency       string         `json:"urgency,omitempty"`
	Hospital      string         `json:"hospital,omitempty"`
	Status        RequestStatus  `json:"status"`
	CreatedAt     time.Time      `json:"createdAt"`
	StatusUpdates []StatusUpdate `json:"statusUpdates,omitempty"`
}

// NewDonationRequest is the body used to open a request for a patient.
type NewDonationRequest struct {
	BloodType BloodType `json:"bloodType"`
	Units     int       `json:"units"`
	Urgency   string    `json:"urgency,omitempty"`
	Hospital  string    `json:"hospital,omitempty"`
}

type StatusUpdate struct {
	ID        string        `json:"id,omitempty"`
	Status    RequestStatus `json:"status"`
	Note      string        `json:"note,omitempty"`
	CreatedAt time.Time     `json:"createdAt,omitempty"`
}

type ResearchStatus string

const (
	ResearchEnrolled  ResearchStatus = "enrolled"
	ResearchWithdrawn ResearchStatus = "withdrawn"
)

type ResearchRecord struct {
	ID         string         `json:"id"`
	StudyID    string         `json:"studyId"`
	Title      string         `json:"title"`
	Status     ResearchStatus `json:"status"`
	EnrolledAt *time.Time     `json:"enrolledAt,omitempty"`
}

// Dashboard is the combined landing view of an authenticated user.
type Dashboard struct {
	Profile  *Profile
	Donors   []Donor
	Research []ResearchRecord
}
