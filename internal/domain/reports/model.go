package reports

import "github.com/ehr/patientctl/internal/platform/apiclient"

// DateLayout is the format of report dates on the wire.
const DateLayout = "2006-01-02"

// Report is an uploaded medical document.
type Report struct {
	ID            apiclient.ID `json:"id"`
	PatientID     apiclient.ID `json:"patientId"`
	ReportName    string       `json:"reportName"`
	FileExtension string       `json:"fileExtension"`
	ReportDate    string       `json:"reportDate"`
	CreatedAt     string       `json:"createdAt"`
	UpdatedAt     string       `json:"updatedAt"`
	Deleted       bool         `json:"deleted"`
}

// Upload describes a new report. Data is the file content.
type Upload struct {
	ReportName  string
	ReportDate  string
	FileName    string
	ContentType string
	Data        []byte
}

// uploadMeta is sent as the uploadReportRequestDto form field.
type uploadMeta struct {
	ReportName string `json:"report_name"`
	ReportDate string `json:"report_date"`
}

// Share grants doctors access to a report.
type Share struct {
	ReportID   int64   `json:"report_id"`
	AllDoctors bool    `json:"all_doctors"`
	DoctorIDs  []int64 `json:"specific_accessibility_doctor_ids"`
}
