package medication

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ehr/patientctl/internal/platform/apiclient"
)

type Service struct {
	api     apiclient.Caller
	patient apiclient.PatientSource
	now     func() time.Time
}

func NewService(api apiclient.Caller, patient apiclient.PatientSource) *Service {
	return &Service{api: api, patient: patient, now: time.Now}
}

func (s *Service) headers() map[string]string {
	return apiclient.PatientHeaders(s.patient.PatientID())
}

// Today is the local calendar date.
func (s *Service) Today() string {
	return s.now().Format(DateLayout)
}

// DaySchedule returns the doses scheduled on date, ordered by intake time.
func (s *Service) DaySchedule(ctx context.Context, date string) ([]Dose, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("date must be YYYY-MM-DD, got %q", date)
	}
	day, err := apiclient.CallData[daySchedule](ctx, s.api, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/patient/getMedicationSchedule",
		JSON:   map[string]string{"date": date},
		Header: s.headers(),
	})
	if err != nil {
		return nil, fmt.Errorf("medication schedule: %w", err)
	}
	return joinSchedule(day), nil
}

func joinSchedule(day daySchedule) []Dose {
	info := make(map[apiclient.ID]medicationInfo, len(day.MedicationInfoMap))
	for _, m := range day.MedicationInfoMap {
		info[m.ID] = m
	}
	doses := make([]Dose, 0, len(day.Schedule))
	for _, e := range day.Schedule {
		m := info[e.MedicationID]
		doses = append(doses, Dose{
			MedicationID:         e.MedicationID,
			MedicationScheduleID: e.MedicationScheduleID,
			MedicineName:         m.MedicineName,
			Dosage:               m.Dosage,
			IntakeTime:           e.IntakeTime,
			IntakeStatus:         e.IntakeStatus,
			Taken:                e.IntakeStatus != IntakeVoid && e.IntakeStatus != IntakeNotTaken,
		})
	}
	sort.SliceStable(doses, func(i, j int) bool {
		return doses[i].IntakeTime < doses[j].IntakeTime
	})
	return doses
}

// ListAll returns every medication with its schedule.
func (s *Service) ListAll(ctx context.Context) ([]Medication, error) {
	out, err := apiclient.CallData[[]Medication](ctx, s.api, apiclient.Request{
		Path:   "/patient/getAllMedicationSchedules",
		Header: s.headers(),
	})
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}
	return out, nil
}

// Save creates a medication, or updates it when ID is set.
func (s *Service) Save(ctx context.Context, m Medication) error {
	if err := s.validate(&m); err != nil {
		return err
	}
	_, err := s.api.Call(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/patient/addMedicationSchedule",
		JSON:   m,
		Header: s.headers(),
	})
	if err != nil {
		return fmt.Errorf("save medication: %w", err)
	}
	return nil
}

func (s *Service) validate(m *Medication) error {
	m.MedicineName = strings.TrimSpace(m.MedicineName)
	m.Dosage = strings.TrimSpace(m.Dosage)
	if m.MedicineName == "" || m.Dosage == "" {
		return fmt.Errorf("medicine name and dosage are required")
	}
	if m.StartDate == "" || m.EndDate == "" {
		return fmt.Errorf("start and end dates are required")
	}
	start, err := time.Parse(DateLayout, m.StartDate)
	if err != nil {
		return fmt.Errorf("start date must be YYYY-MM-DD, got %q", m.StartDate)
	}
	end, err := time.Parse(DateLayout, m.EndDate)
	if err != nil {
		return fmt.Errorf("end date must be YYYY-MM-DD, got %q", m.EndDate)
	}
	if end.Before(start) {
		return fmt.Errorf("end date must be after start date")
	}
	if m.EndDate < s.Today() {
		return fmt.Errorf("end date cannot be before today")
	}
	if len(m.IntakeTimeList) == 0 {
		return fmt.Errorf("at least one intake time is required")
	}
	for i, t := range m.IntakeTimeList {
		norm, err := normalizeTime(t)
		if err != nil {
			return err
		}
		m.IntakeTimeList[i] = norm
	}
	return nil
}

// normalizeTime accepts HH:MM or HH:MM:SS and returns HH:MM:SS.
func normalizeTime(v string) (string, error) {
	v = strings.TrimSpace(v)
	for _, layout := range []string{TimeLayout, "15:04"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format(TimeLayout), nil
		}
	}
	return "", fmt.Errorf("intake time must be HH:MM, got %q", v)
}

func (s *Service) Delete(ctx context.Context, medicationID string) error {
	if medicationID == "" {
		return fmt.Errorf("medication id is required")
	}
	_, err := s.api.Call(ctx, apiclient.Request{
		Method: http.MethodDelete,
		Path:   "/patient/deleteMedicationSchedules",
		Query:  url.Values{"medicationId": {medicationID}},
		Header: s.headers(),
	})
	if err != nil {
		return fmt.Errorf("delete medication: %w", err)
	}
	return nil
}

// RecordIntake marks a dose as taken or not taken. Only today's doses can
// be recorded; the intake time is the current local time.
func (s *Service) RecordIntake(ctx context.Context, medicationID, scheduleID int64, date string, taken bool) error {
	now := s.now()
	if date == "" {
		date = now.Format(DateLayout)
	}
	if date != now.Format(DateLayout) {
		return fmt.Errorf("intake can only be recorded for today")
	}
	_, err := s.api.Call(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/patient/upsertMedicationIntakeRecord",
		JSON: Intake{
			MedicationID:         medicationID,
			MedicationScheduleID: scheduleID,
			IntakeDate:           date,
			IntakeTime:           now.Format(TimeLayout),
			Taken:                taken,
		},
		Header: s.headers(),
	})
	if err != nil {
		return fmt.Errorf("record intake: %w", err)
	}
	return nil
}

// Search filters medications by name, description or dosage.
func Search(ms []Medication, text string) []Medication {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return ms
	}
	var out []Medication
	for _, m := range ms {
		if strings.Contains(strings.ToLower(m.MedicineName), text) ||
			strings.Contains(strings.ToLower(m.Description), text) ||
			strings.Contains(strings.ToLower(m.Dosage), text) {
			out = append(out, m)
		}
	}
	return out
}
