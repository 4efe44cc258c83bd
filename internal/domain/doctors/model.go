package doctors

import "github.com/ehr/patientctl/internal/platform/apiclient"

// Doctor is a doctor as listed for the patient.
type Doctor struct {
	ID            apiclient.ID `json:"id"`
	UserID        apiclient.ID `json:"user_id"`
	FirstName     string       `json:"first_name"`
	LastName      string       `json:"last_name"`
	Email         string       `json:"email"`
	ImageURL      string       `json:"image_url"`
	Status        string       `json:"status"`
	DoctorDetails *Details     `json:"doctor_details,omitempty"`
}

type Details struct {
	YearsOfExperience float64 `json:"yrs_of_exp"`
}

// FullName joins first and last name.
func (d Doctor) FullName() string {
	switch {
	case d.FirstName == "":
		return d.LastName
	case d.LastName == "":
		return d.FirstName
	}
	return d.FirstName + " " + d.LastName
}

type affiliationRequest struct {
	DoctorID int64 `json:"doctor_id"`
}
