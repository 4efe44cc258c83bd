package care

import (
	"time"

	"github.com/ehr/patientctl/internal/platform/apiclient"
)

// Consultation is a scheduled video consultation.
type Consultation struct {
	ID             apiclient.ID `json:"id"`
	DoctorID       apiclient.ID `json:"doctor_id"`
	PatientID      apiclient.ID `json:"patient_id"`
	Title          string       `json:"title"`
	GoogleEventID  string       `json:"google_event_id"`
	GoogleMeetLink string       `json:"google_meet_link"`
	Description    string       `json:"description"`
	StartTime      string       `json:"start_time"`
	EndTime        string       `json:"end_time"`
	TimeZone       string       `json:"time_zone"`
	CreatedAt      string       `json:"created_at"`
	UpdatedAt      string       `json:"updated_at"`
}

// Start parses StartTime. ok is false when it is unparseable.
func (c Consultation) Start() (time.Time, bool) {
	return parseTime(c.StartTime)
}

func (c Consultation) End() (time.Time, bool) {
	return parseTime(c.EndTime)
}

func parseTime(v string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// OPDVisit is an outpatient visit listed for the hospital.
type OPDVisit struct {
	DoctorName   string   `json:"doctor_name"`
	HospitalName string   `json:"hospital_name"`
	Visit        OPDEntry `json:"opdVisit"`
}

type OPDEntry struct {
	ChiefComplaint string `json:"chiefComplaint"`
}

// Prescription is a doctor's prescription for the patient.
type Prescription struct {
	ID               apiclient.ID `json:"id"`
	CreatedAt        string       `json:"created_at"`
	UpdatedAt        string       `json:"updated_at"`
	Complaints       []string     `json:"complaints"`
	HistoryOfIllness []string     `json:"history_of_illness"`
	Notes            []string     `json:"notes"`
	Allergy          []string     `json:"allergy"`
	Diagnosis        []string     `json:"diagnosis"`
	Advice           []string     `json:"advice"`
	PatientID        apiclient.ID `json:"patient_id"`
}
