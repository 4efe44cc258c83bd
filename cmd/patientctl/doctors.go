package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehr/patientctl/internal/domain/doctors"
)

func doctorRow(d doctors.Doctor) []string {
	exp := "-"
	if d.DoctorDetails != nil {
		exp = formatFloat(d.DoctorDetails.YearsOfExperience)
	}
	return []string{d.ID.String(), d.FullName(), orDash(d.Email), orDash(d.Status), exp}
}

var doctorHeaders = []string{"ID", "NAME", "EMAIL", "STATUS", "YEARS"}

func doctorsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "doctors",
		Aliases: []string{"doctor"},
		Short:   "Find and connect with doctors",
	}

	var search string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List affiliated doctors",
		Args:  cobra.NoArgs,
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			all, err := doctors.NewService(a.api, a.session).MyDoctors(ctx)
			if err != nil {
				return err
			}
			all = doctors.Filter(all, search)
			rows := make([][]string, 0, len(all))
			for _, d := range all {
				rows = append(rows, doctorRow(d))
			}
			return a.out.print(all, doctorHeaders, rows)
		}),
	}
	listCmd.Flags().StringVar(&search, "search", "", "filter by name or id")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "get ID",
		Short: "Show a doctor",
		Args:  cobra.ExactArgs(1),
		RunE: run(opts, func(ctx context.Context, a *app, args []string) error {
			d, err := doctors.NewService(a.api, a.session).Get(ctx, args[0])
			if errors.Is(err, doctors.ErrNotFound) {
				return fmt.Errorf("doctor %s not found", args[0])
			}
			if err != nil {
				return err
			}
			return a.out.print(d, doctorHeaders, [][]string{doctorRow(*d)})
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "affiliate ID",
		Short: "Ask a doctor to accept you as a patient",
		Args:  cobra.ExactArgs(1),
		RunE: run(opts, func(ctx context.Context, a *app, args []string) error {
			if err := doctors.NewService(a.api, a.session).RequestAffiliation(ctx, args[0]); err != nil {
				return err
			}
			return a.out.message("Affiliation request sent.")
		}),
	})

	return cmd
}
