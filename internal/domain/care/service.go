package care

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/ehr/patientctl/internal/platform/apiclient"
	"github.com/ehr/patientctl/pkg/pagination"
)

// DefaultHospitalID is the hospital whose OPD list is shown.
const DefaultHospitalID = 1

type Service struct {
	api        apiclient.Caller
	patient    apiclient.PatientSource
	hospitalID int
	now        func() time.Time
}

func NewService(api apiclient.Caller, patient apiclient.PatientSource) *Service {
	return &Service{api: api, patient: patient, hospitalID: DefaultHospitalID, now: time.Now}
}

func (s *Service) headers() map[string]string {
	return apiclient.PatientHeaders(s.patient.PatientID())
}

// Consultations returns the patient's consultations ordered by start time.
func (s *Service) Consultations(ctx context.Context) ([]Consultation, error) {
	out, err := apiclient.CallData[[]Consultation](ctx, s.api, apiclient.Request{
		Path:   "/patient/consultationSchedules",
		Header: s.headers(),
	})
	if err != nil {
		return nil, fmt.Errorf("list consultations: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := out[i].Start()
		b, _ := out[j].Start()
		return a.Before(b)
	})
	return out, nil
}

// Today keeps the consultations starting on the current local date.
func (s *Service) Today(cs []Consultation) []Consultation {
	now := s.now()
	y, m, d := now.Date()
	var out []Consultation
	for _, c := range cs {
		start, ok := c.Start()
		if !ok {
			continue
		}
		sy, sm, sd := start.In(now.Location()).Date()
		if sy == y && sm == m && sd == d {
			out = append(out, c)
		}
	}
	return out
}

// Upcoming keeps the consultations that have not ended.
func (s *Service) Upcoming(cs []Consultation) []Consultation {
	now := s.now()
	var out []Consultation
	for _, c := range cs {
		end, ok := c.End()
		if !ok {
			end, ok = c.Start()
		}
		if ok && !end.Before(now) {
			out = append(out, c)
		}
	}
	return out
}

// OPDVisits lists the hospital's outpatient visits on date (YYYY-MM-DD).
// An empty date means today.
func (s *Service) OPDVisits(ctx context.Context, date string, p pagination.Params) (*pagination.Page[OPDVisit], error) {
	if date == "" {
		date = s.now().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("date must be YYYY-MM-DD, got %q", date)
	}
	q := p.Apply(url.Values{
		"hospital_id": {strconv.Itoa(s.hospitalID)},
		"date":        {date},
	})
	out, err := apiclient.CallData[[]OPDVisit](ctx, s.api, apiclient.Request{
		Path:   "/common/listOPDs",
		Query:  q,
		Header: s.headers(),
	})
	if err != nil {
		return nil, fmt.Errorf("list OPD visits: %w", err)
	}
	return pagination.NewPage(out, p), nil
}

// Prescriptions returns the prescriptions a doctor wrote for the patient.
func (s *Service) Prescriptions(ctx context.Context, doctorID string) ([]Prescription, error) {
	if doctorID == "" {
		return nil, fmt.Errorf("doctor id is required")
	}
	out, err := apiclient.CallData[[]Prescription](ctx, s.api, apiclient.Request{
		Path:   "/common/prescriptions",
		Query:  url.Values{"doctorId": {doctorID}},
		Header: s.headers(),
	})
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	return out, nil
}
