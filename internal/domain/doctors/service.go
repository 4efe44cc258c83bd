package doctors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ehr/patientctl/internal/platform/apiclient"
)

var (
	ErrNotFound          = errors.New("doctor not found")
	ErrAffiliationFailed = errors.New("could not send affiliation request")
)

type Service struct {
	api     apiclient.Caller
	patient apiclient.PatientSource
}

func NewService(api apiclient.Caller, patient apiclient.PatientSource) *Service {
	return &Service{api: api, patient: patient}
}

func (s *Service) headers() map[string]string {
	return apiclient.PatientHeaders(s.patient.PatientID())
}

// MyDoctors returns the doctors affiliated with the patient.
func (s *Service) MyDoctors(ctx context.Context) ([]Doctor, error) {
	out, err := apiclient.CallData[[]Doctor](ctx, s.api, apiclient.Request{
		Path:   "/patient/myDoctors",
		Header: s.headers(),
	})
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return out, nil
}

// Get looks up a doctor by the code shared by the doctor.
func (s *Service) Get(ctx context.Context, id string) (*Doctor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("doctor code is required")
	}
	env, err := apiclient.CallEnvelope[*Doctor](ctx, s.api, apiclient.Request{
		Path:   "/patient/getDoctorById",
		Query:  url.Values{"id": {id}},
		Header: s.headers(),
	})
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	if env.Status != http.StatusOK || env.Data == nil {
		return nil, ErrNotFound
	}
	return env.Data, nil
}

// RequestAffiliation asks the doctor to accept the patient.
func (s *Service) RequestAffiliation(ctx context.Context, doctorID string) error {
	n, err := strconv.ParseInt(strings.TrimSpace(doctorID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid doctor code %q", doctorID)
	}
	env, err := apiclient.CallEnvelope[any](ctx, s.api, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/patient/doctorAffiliationRequest",
		JSON:   affiliationRequest{DoctorID: n},
		Header: s.headers(),
	})
	if err != nil {
		return fmt.Errorf("affiliation request: %w", err)
	}
	if env.Status != http.StatusOK {
		return ErrAffiliationFailed
	}
	return nil
}

// Filter matches doctors by full name, case-insensitively, or by id.
func Filter(ds []Doctor, search string) []Doctor {
	if search == "" {
		return ds
	}
	lower := strings.ToLower(search)
	var out []Doctor
	for _, d := range ds {
		if strings.Contains(strings.ToLower(d.FullName()), lower) || strings.Contains(d.ID.String(), search) {
			out = append(out, d)
		}
	}
	return out
}
