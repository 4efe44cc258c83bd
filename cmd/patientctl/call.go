package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ehr/patientctl/internal/platform/apiclient"
)

func callCmd(opts *globalOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "call METHOD PATH",
		Short: "Send an authenticated request to the backend and print the JSON answer",
		Example: `  patientctl call GET "/patient/getHealthData?type=WEIGHT"
  patientctl call POST /patient/getMedicationSchedule --data '{"date":"2024-06-10"}'
  patientctl call POST /patient/addMedicationSchedule --data @medication.json`,
		Args: cobra.ExactArgs(2),
		RunE: run(opts, func(ctx context.Context, a *app, args []string) error {
			method := strings.ToUpper(args[0])
			switch method {
			case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			default:
				return fmt.Errorf("unsupported method %q", args[0])
			}

			body, err := readData(data)
			if err != nil {
				return err
			}
			header := apiclient.PatientHeaders(a.session.PatientID())
			if body != nil {
				if !json.Valid(body) {
					return fmt.Errorf("--data is not valid JSON")
				}
				header["Content-Type"] = "application/json"
			}

			raw, err := a.api.Call(ctx, apiclient.Request{
				Method: method,
				Path:   args[1],
				Header: header,
				Body:   body,
			})
			if err != nil {
				return err
			}
			if raw == nil {
				return nil
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, raw, "", "  "); err != nil {
				return err
			}
			pretty.WriteByte('\n')
			_, err = a.out.w.Write(pretty.Bytes())
			return err
		}),
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body, or @file to read it from a file")
	return cmd
}

func readData(data string) ([]byte, error) {
	if data == "" {
		return nil, nil
	}
	if name, ok := strings.CutPrefix(data, "@"); ok {
		b, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read --data file: %w", err)
		}
		return b, nil
	}
	return []byte(data), nil
}
