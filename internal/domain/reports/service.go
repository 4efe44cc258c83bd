package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ehr/patientctl/internal/platform/apiclient"
)

// Downloader fetches presigned object URLs without credentials.
type Downloader interface {
	Fetch(ctx context.Context, rawURL string, w io.Writer) (int64, error)
}

type Service struct {
	api     apiclient.Caller
	files   Downloader
	patient apiclient.PatientSource
}

func NewService(api apiclient.Caller, files Downloader, patient apiclient.PatientSource) *Service {
	return &Service{api: api, files: files, patient: patient}
}

func (s *Service) headers() map[string]string {
	return apiclient.PatientHeaders(s.patient.PatientID())
}

// List returns the patient's reports, newest report date first.
func (s *Service) List(ctx context.Context) ([]Report, error) {
	out, err := apiclient.CallData[[]Report](ctx, s.api, apiclient.Request{
		Path:   "/patient/myReports",
		Header: s.headers(),
	})
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	live := out[:0]
	for _, r := range out {
		if !r.Deleted {
			live = append(live, r)
		}
	}
	SortNewestFirst(live)
	return live, nil
}

// SortNewestFirst orders reports by report date, then creation time.
func SortNewestFirst(rs []Report) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].ReportDate != rs[j].ReportDate {
			return rs[i].ReportDate > rs[j].ReportDate
		}
		return rs[i].CreatedAt > rs[j].CreatedAt
	})
}

// Upload sends a report as multipart/form-data through the pipeline.
func (s *Service) Upload(ctx context.Context, u Upload) (*Report, error) {
	name := strings.TrimSpace(u.ReportName)
	if name == "" {
		return nil, fmt.Errorf("report name is required")
	}
	if _, err := time.Parse(DateLayout, u.ReportDate); err != nil {
		return nil, fmt.Errorf("report date must be YYYY-MM-DD, got %q", u.ReportDate)
	}
	if len(u.Data) == 0 {
		return nil, fmt.Errorf("report file is required")
	}
	contentType := u.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	fileName := u.FileName
	if fileName == "" {
		fileName = name + ".pdf"
	}

	meta, err := json.Marshal(uploadMeta{ReportName: name, ReportDate: u.ReportDate})
	if err != nil {
		return nil, fmt.Errorf("encode upload metadata: %w", err)
	}
	body, formType, err := apiclient.Multipart(
		apiclient.Part{Field: "file", FileName: path.Base(fileName), ContentType: contentType, Data: u.Data},
		apiclient.Part{Field: "uploadReportRequestDto", Data: meta},
	)
	if err != nil {
		return nil, err
	}

	h := s.headers()
	h["Content-Type"] = formType
	raw, err := apiclient.CallData[json.RawMessage](ctx, s.api, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/patient/uploadReport",
		Header: h,
		Body:   body,
	})
	if err != nil {
		return nil, fmt.Errorf("upload report: %w", err)
	}

	var created Report
	if len(raw) == 0 || json.Unmarshal(raw, &created) != nil || created.ID == "" {
		return nil, nil
	}
	return &created, nil
}

func (s *Service) Delete(ctx context.Context, reportID string) error {
	if reportID == "" {
		return fmt.Errorf("report id is required")
	}
	_, err := s.api.Call(ctx, apiclient.Request{
		Method: http.MethodDelete,
		Path:   "/patient/deleteReport",
		Query:  url.Values{"reportId": {reportID}},
		Header: s.headers(),
	})
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	return nil
}

// ObjectKey is the storage key of a report's PDF.
func ObjectKey(patientID string, r Report) string {
	return fmt.Sprintf("reports/%s/%s/%s.pdf", patientID, r.ReportDate, r.ReportName)
}

// PresignedURL asks the backend for a short-lived download URL.
func (s *Service) PresignedURL(ctx context.Context, r Report) (string, error) {
	u, err := apiclient.CallData[string](ctx, s.api, apiclient.Request{
		Path:   "/common/s3UrlGenerator",
		Query:  url.Values{"key": {ObjectKey(s.patient.PatientID(), r)}},
		Header: s.headers(),
	})
	if err != nil {
		return "", fmt.Errorf("presign report: %w", err)
	}
	if u == "" {
		return "", fmt.Errorf("presign report: backend returned no URL")
	}
	return u, nil
}

// Download writes the report's PDF to w.
func (s *Service) Download(ctx context.Context, r Report, w io.Writer) (int64, error) {
	u, err := s.PresignedURL(ctx, r)
	if err != nil {
		return 0, err
	}
	n, err := s.files.Fetch(ctx, u, w)
	if n == 0 && apiclient.StatusCode(err) == http.StatusForbidden {
		// Storage rejects expired links with 403; presign once more.
		if u, err = s.PresignedURL(ctx, r); err != nil {
			return 0, err
		}
		n, err = s.files.Fetch(ctx, u, w)
	}
	if err != nil {
		return n, fmt.Errorf("download report: %w", err)
	}
	return n, nil
}

// Share grants the listed doctors access to a report.
func (s *Service) Share(ctx context.Context, sh Share) error {
	if sh.ReportID <= 0 {
		return fmt.Errorf("report id is required")
	}
	if !sh.AllDoctors && len(sh.DoctorIDs) == 0 {
		return fmt.Errorf("select at least one doctor or all doctors")
	}
	if sh.DoctorIDs == nil {
		sh.DoctorIDs = []int64{}
	}
	_, err := s.api.Call(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/patient/accessibilityAndAffiliationForReport",
		JSON:   sh,
		Header: s.headers(),
	})
	if err != nil {
		return fmt.Errorf("share report: %w", err)
	}
	return nil
}

// Find returns the report with id from rs.
func Find(rs []Report, id string) (Report, bool) {
	for _, r := range rs {
		if r.ID.String() == id {
			return r, true
		}
	}
	return Report{}, false
}
