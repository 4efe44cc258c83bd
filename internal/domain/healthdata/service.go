package healthdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/ehr/patientctl/internal/platform/apiclient"
)

var (
	// ErrOutOfRange is returned for an unconfirmed abnormal blood pressure.
	ErrOutOfRange = errors.New("blood pressure outside the normal range, confirm to save")
	ErrNotSaved   = errors.New("backend did not confirm the health record")
)

type Service struct {
	api     apiclient.Caller
	patient apiclient.PatientSource
	now     func() time.Time
}

func NewService(api apiclient.Caller, patient apiclient.PatientSource) *Service {
	return &Service{api: api, patient: patient, now: time.Now}
}

// List returns the readings of one kind.
func (s *Service) List(ctx context.Context, k Kind) ([]Record, error) {
	out, err := apiclient.CallData[[]Record](ctx, s.api, apiclient.Request{
		Path:   "/patient/getHealthData",
		Query:  url.Values{"type": {string(k)}},
		Header: apiclient.PatientHeaders(s.patient.PatientID()),
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", k, err)
	}
	return out, nil
}

// Add stores a reading. The backend confirms with envelope status 201.
func (s *Service) Add(ctx context.Context, k Kind, r Reading) error {
	record, err := healthRecord(k, r)
	if err != nil {
		return err
	}
	stamp := r.StampingTime
	if stamp.IsZero() {
		stamp = s.now()
	}
	record["stamping_time"] = stamp.UTC().Format("2006-01-02T15:04:05.000Z")

	env, err := apiclient.CallEnvelope[json.RawMessage](ctx, s.api, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/patient/addHealthData",
		JSON:   addRequest{Type: k, HealthRecord: record},
		Header: apiclient.PatientHeaders(s.patient.PatientID()),
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", k, err)
	}
	if env.Status != http.StatusCreated {
		return fmt.Errorf("add %s: %w (status %d)", k, ErrNotSaved, env.Status)
	}
	return nil
}

// Delete removes a reading by id.
func (s *Service) Delete(ctx context.Context, k Kind, id string) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid record id %q", id)
	}
	_, err = s.api.Call(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/patient/deleteHealthData",
		JSON:   deleteRequest{Type: k, ID: n},
		Header: apiclient.PatientHeaders(s.patient.PatientID()),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", k, err)
	}
	return nil
}

// Abnormal reports whether a blood pressure reading is outside the normal range.
func Abnormal(r Reading) bool {
	return r.Systolic < minSystolic || r.Systolic > maxSystolic ||
		r.Diastolic < minDiastolic || r.Diastolic > maxDiastolic
}

// healthRecord validates r and returns the snake_case body for kind k.
func healthRecord(k Kind, r Reading) (map[string]any, error) {
	switch k {
	case BloodPressure:
		if r.Systolic < 0 || r.Diastolic < 0 || r.HeartBeatPerMin < 0 {
			return nil, fmt.Errorf("blood pressure values must be non-negative")
		}
		if Abnormal(r) && !r.Confirmed {
			return nil, ErrOutOfRange
		}
		return map[string]any{
			"systolic":           r.Systolic,
			"diastolic":          r.Diastolic,
			"heart_beat_per_min": r.HeartBeatPerMin,
		}, nil
	case Glucose:
		if r.Glucose <= 0 {
			return nil, fmt.Errorf("glucose must be positive")
		}
		if !validPatientStates[r.PatientState] {
			return nil, fmt.Errorf("invalid meal state %q", r.PatientState)
		}
		return map[string]any{
			"glucose":       r.Glucose,
			"patient_state": r.PatientState,
			"insulin_units": r.InsulinUnits,
		}, nil
	case Insulin:
		if !validInsulinNames[r.InsulinName] {
			return nil, fmt.Errorf("invalid insulin name %q", r.InsulinName)
		}
		if r.InsulinUnits < 0 {
			return nil, fmt.Errorf("insulin units must be non-negative")
		}
		return map[string]any{
			"insulin_name":  r.InsulinName,
			"insulin_units": r.InsulinUnits,
		}, nil
	case Weight:
		if r.WeightInKgs <= 0 {
			return nil, fmt.Errorf("weight must be positive")
		}
		return map[string]any{"weight_in_kgs": r.WeightInKgs}, nil
	}
	return nil, fmt.Errorf("unknown health data type %q", k)
}

// Summarize aggregates the metrics of kind k. Records are ordered by
// stamping time; the last one supplies Latest.
func Summarize(k Kind, records []Record) []Summary {
	if len(records) == 0 {
		return nil
	}
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time().Before(sorted[j].Time())
	})

	var metrics []string
	var pick func(Record) []float64
	switch k {
	case BloodPressure:
		metrics = []string{"systolic", "diastolic", "heart_beat_per_min"}
		pick = func(r Record) []float64 { return []float64{r.Systolic, r.Diastolic, r.HeartBeatPerMin} }
	case Glucose:
		metrics = []string{"glucose"}
		pick = func(r Record) []float64 { return []float64{r.Glucose} }
	case Insulin:
		metrics = []string{"insulin_units"}
		pick = func(r Record) []float64 { return []float64{r.InsulinUnits} }
	case Weight:
		metrics = []string{"weight_in_kgs"}
		pick = func(r Record) []float64 { return []float64{r.WeightInKgs} }
	default:
		return nil
	}

	out := make([]Summary, len(metrics))
	for i, m := range metrics {
		out[i].Metric = m
	}
	for _, r := range sorted {
		vals := pick(r)
		for i, v := range vals {
			sm := &out[i]
			if sm.Count == 0 || v < sm.Min {
				sm.Min = v
			}
			if sm.Count == 0 || v > sm.Max {
				sm.Max = v
			}
			sm.Avg += v
			sm.Count++
			sm.Latest = v
			sm.LatestAt = r.Time()
		}
	}
	for i := range out {
		out[i].Avg /= float64(out[i].Count)
	}
	return out
}
