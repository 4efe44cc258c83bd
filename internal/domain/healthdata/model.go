package healthdata

import (
	"fmt"
	"strings"
	"time"

	"github.com/ehr/patientctl/internal/platform/apiclient"
)

// Kind is the health data category.
type Kind string

const (
	BloodPressure Kind = "BLOOD_PRESSURE"
	Glucose       Kind = "GLUCOSE"
	Insulin       Kind = "INSULIN"
	Weight        Kind = "WEIGHT"
)

// Kinds lists the categories in display order.
var Kinds = []Kind{BloodPressure, Glucose, Insulin, Weight}

var kindAliases = map[string]Kind{
	"blood_pressure": BloodPressure,
	"bloodpressure":  BloodPressure,
	"bp":             BloodPressure,
	"glucose":        Glucose,
	"insulin":        Insulin,
	"weight":         Weight,
}

// ParseKind accepts the wire name or a lower-case alias such as "bp".
func ParseKind(s string) (Kind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown health data type %q", s)
	}
	return k, nil
}

// Meal states for glucose readings.
const (
	Fasting      = "FASTING"
	Postprandial = "POSTPRANDIAL"
	Random       = "RANDOM"
)

var validPatientStates = map[string]bool{
	Fasting:      true,
	Postprandial: true,
	Random:       true,
}

var validInsulinNames = map[string]bool{
	"Rapid-acting":        true,
	"Short-acting":        true,
	"Intermediate-acting": true,
	"Long-acting":         true,
	"Ultra-long-acting":   true,
	"Premixed":            true,
	"Inhaled-insulin":     true,
	"other":               true,
}

// Normal blood pressure bounds. Readings outside them need confirmation.
const (
	minSystolic  = 60
	maxSystolic  = 200
	minDiastolic = 40
	maxDiastolic = 150
)

// Record is a stored reading as returned by getHealthData.
type Record struct {
	ID              apiclient.ID `json:"id"`
	StampingTime    string       `json:"stampingTime"`
	Systolic        float64      `json:"systolic,omitempty"`
	Diastolic       float64      `json:"diastolic,omitempty"`
	HeartBeatPerMin float64      `json:"heartBeatPerMin,omitempty"`
	Glucose         float64      `json:"glucose,omitempty"`
	PatientState    string       `json:"patientState,omitempty"`
	InsulinUnits    float64      `json:"insulinUnits,omitempty"`
	InsulinName     string       `json:"insulinName,omitempty"`
	WeightInKgs     float64      `json:"weightInKgs,omitempty"`
}

// Time parses StampingTime. The zero time is returned when it is unparseable.
func (r Record) Time() time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, r.StampingTime); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Describe renders the reading as one line.
func (r Record) Describe(k Kind) string {
	switch k {
	case BloodPressure:
		return fmt.Sprintf("Systolic: %g, Diastolic: %g, Heart Rate: %g bpm", r.Systolic, r.Diastolic, r.HeartBeatPerMin)
	case Glucose:
		return fmt.Sprintf("Glucose: %g, Meal Info: %s", r.Glucose, r.PatientState)
	case Insulin:
		return fmt.Sprintf("Insulin: %g units, Name: %s", r.InsulinUnits, r.InsulinName)
	case Weight:
		return fmt.Sprintf("Weight: %g kg", r.WeightInKgs)
	}
	return ""
}

// Reading is a new measurement. Only the fields of its kind are sent.
type Reading struct {
	Systolic        float64
	Diastolic       float64
	HeartBeatPerMin float64
	Glucose         float64
	PatientState    string
	InsulinUnits    float64
	InsulinName     string
	WeightInKgs     float64
	StampingTime    time.Time

	// Confirmed accepts a blood pressure outside the normal range.
	Confirmed bool
}

type addRequest struct {
	Type         Kind           `json:"type"`
	HealthRecord map[string]any `json:"health_record"`
}

type deleteRequest struct {
	Type Kind  `json:"type"`
	ID   int64 `json:"id"`
}

// Summary aggregates one metric over a series of records.
type Summary struct {
	Metric   string    `json:"metric"`
	Count    int       `json:"count"`
	Min      float64   `json:"min"`
	Max      float64   `json:"max"`
	Avg      float64   `json:"avg"`
	Latest   float64   `json:"latest"`
	LatestAt time.Time `json:"latest_at,omitempty"`
}
