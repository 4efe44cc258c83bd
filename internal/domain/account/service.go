package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ehr/patientctl/internal/platform/apiclient"
	"github.com/ehr/patientctl/internal/platform/auth"
)

var (
	ErrNotSignedIn = errors.New("not signed in")
	ErrNoTokens    = errors.New("backend did not issue session tokens")
)

// Session is the part of the session container the account flows need.
type Session interface {
	SetAuthData(ctx context.Context, user *auth.User, accessToken, refreshToken string) error
	Logout(ctx context.Context)
	User() *auth.User
	PatientID() string
}

type Service struct {
	api     apiclient.Caller
	session Session
}

func NewService(api apiclient.Caller, session Session) *Service {
	return &Service{api: api, session: session}
}

// SignIn registers the profile with the backend, or finds the existing
// patient, and stores the resulting session.
func (s *Service) SignIn(ctx context.Context, p Profile) (*Patient, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("profile id is required")
	}
	if p.Email == "" {
		return nil, fmt.Errorf("profile email is required")
	}

	patient, err := apiclient.CallData[Patient](ctx, s.api, apiclient.Request{
		Method:   http.MethodPost,
		Path:     "/patient/getOrCreatePatient",
		JSON:     p,
		SkipAuth: true,
	})
	if err != nil {
		return nil, fmt.Errorf("get or create patient: %w", err)
	}
	if patient.ID == "" {
		return nil, fmt.Errorf("get or create patient: response has no patient id")
	}
	if patient.AccessToken == "" || patient.RefreshToken == "" {
		return nil, ErrNoTokens
	}

	user := &auth.User{
		ID:       patient.ID.String(),
		UserID:   patient.UserID.String(),
		Name:     firstNonEmpty(patient.Name, p.Name),
		Email:    firstNonEmpty(patient.Email, p.Email),
		ImageURL: firstNonEmpty(patient.ImageURL, p.Picture),
		PhoneNo:  patient.PhoneNo,
	}
	if err := s.session.SetAuthData(ctx, user, patient.AccessToken, patient.RefreshToken); err != nil {
		return nil, err
	}
	return &patient, nil
}

// DeleteAccount removes the signed-in user's account and ends the session
// once the backend confirms.
func (s *Service) DeleteAccount(ctx context.Context) error {
	user := s.session.User()
	if user == nil {
		return ErrNotSignedIn
	}
	userID := firstNonEmpty(user.UserID, user.ID)

	env, err := apiclient.CallEnvelope[json.RawMessage](ctx, s.api, apiclient.Request{
		Method: http.MethodDelete,
		Path:   "/common/deleteUser",
		Query:  url.Values{"userId": {userID}},
		Header: apiclient.PatientHeaders(s.session.PatientID()),
	})
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if env.Status != 0 && env.Status != http.StatusOK {
		return fmt.Errorf("delete account: backend answered status %d", env.Status)
	}

	s.session.Logout(ctx)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
