package medication

import "github.com/ehr/patientctl/internal/platform/apiclient"

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Intake statuses that count as not taken.
const (
	IntakeVoid     = "VOID"
	IntakeNotTaken = "NOT_TAKEN"
)

// Dose is one scheduled intake on a given day.
type Dose struct {
	MedicationID         apiclient.ID `json:"medication_id"`
	MedicationScheduleID apiclient.ID `json:"medication_schedule_id"`
	MedicineName         string       `json:"medicine_name"`
	Dosage               string       `json:"dosage"`
	IntakeTime           string       `json:"intake_time"`
	IntakeStatus         string       `json:"intake_status"`
	Taken                bool         `json:"taken"`
}

// Medication is a medicine with its schedule. ID is empty for a new one.
type Medication struct {
	ID             apiclient.ID `json:"medication_id,omitempty"`
	MedicineName   string       `json:"medicine_name"`
	Description    string       `json:"description"`
	Dosage         string       `json:"dosage"`
	StartDate      string       `json:"start_date"`
	EndDate        string       `json:"end_date"`
	IntakeTimeList []string     `json:"intake_time_list"`
}

// Intake records whether a scheduled dose was taken.
type Intake struct {
	MedicationID         int64  `json:"medication_id"`
	MedicationScheduleID int64  `json:"medication_schedule_id"`
	IntakeDate           string `json:"intake_date"`
	IntakeTime           string `json:"intake_time"`
	Taken                bool   `json:"medication_taken"`
}

type scheduleEntry struct {
	IntakeTime           string       `json:"intake_time"`
	MedicationID         apiclient.ID `json:"medication_id"`
	MedicationScheduleID apiclient.ID `json:"medication_schedule_id"`
	IntakeStatus         string       `json:"intake_status"`
}

type medicationInfo struct {
	ID           apiclient.ID `json:"id"`
	Dosage       string       `json:"dosage"`
	MedicineName string       `json:"medicineName"`
}

type daySchedule struct {
	Schedule          []scheduleEntry  `json:"schedule"`
	MedicationInfoMap []medicationInfo `json:"medication_info_map"`
}
