package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strconv"
)

// PatientIDHeader identifies the acting patient on every patient endpoint.
const PatientIDHeader = "Patient-Id"

// PatientHeaders returns the header map for patient endpoints. An empty id
// is sent as "-1".
func PatientHeaders(patientID string) map[string]string {
	if patientID == "" {
		patientID = "-1"
	}
	return map[string]string{PatientIDHeader: patientID}
}

// Status is the envelope status code. The backend sends it as a number but
// a string form is tolerated.
type Status int

func (s *Status) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*s = 0
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		// Textual statuses such as "OK" carry no code.
		*s = 0
		return nil
	}
	*s = Status(n)
	return nil
}

// Envelope is the backend's response wrapper.
type Envelope[T any] struct {
	Status  Status `json:"status"`
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
	Msg     string `json:"msg,omitempty"`
}

// DecodeData decodes an envelope and returns its data. A nil body yields the
// zero value.
func DecodeData[T any](raw json.RawMessage) (T, error) {
	var env Envelope[T]
	if len(raw) == 0 {
		return env.Data, nil
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env.Data, fmt.Errorf("decode response envelope: %w", err)
	}
	return env.Data, nil
}

// CallData runs req through c and returns the envelope's data.
func CallData[T any](ctx context.Context, c Caller, req Request) (T, error) {
	raw, err := c.Call(ctx, req)
	if err != nil {
		var zero T
		return zero, err
	}
	return DecodeData[T](raw)
}

// CallEnvelope runs req through c and returns the whole envelope.
func CallEnvelope[T any](ctx context.Context, c Caller, req Request) (Envelope[T], error) {
	var env Envelope[T]
	raw, err := c.Call(ctx, req)
	if err != nil {
		return env, err
	}
	if len(raw) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode response envelope: %w", err)
	}
	return env, nil
}

// ---------------------------------------------------------------------------
// Multipart bodies
// ---------------------------------------------------------------------------

// Part is one field of a multipart body. FileName marks a file part.
type Part struct {
	Field       string
	FileName    string
	ContentType string
	Data        []byte
}

// Multipart encodes parts as multipart/form-data and returns the body and
// its Content-Type, boundary included.
func Multipart(parts ...Part) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		disposition := fmt.Sprintf(`form-data; name=%q`, p.Field)
		if p.FileName != "" {
			disposition += fmt.Sprintf(`; filename=%q`, p.FileName)
		}
		h.Set("Content-Disposition", disposition)
		if p.ContentType != "" {
			h.Set("Content-Type", p.ContentType)
		}

		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create part %s: %w", p.Field, err)
		}
		if _, err := pw.Write(p.Data); err != nil {
			return nil, "", fmt.Errorf("write part %s: %w", p.Field, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
