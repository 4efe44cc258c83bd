package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ehr/patientctl/internal/domain/care"
	"github.com/ehr/patientctl/pkg/pagination"
)

func careCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "care",
		Short: "Consultations, OPD visits and prescriptions",
	}

	var today, upcoming bool
	consultCmd := &cobra.Command{
		Use:   "consultations",
		Short: "List consultation schedules",
		Args:  cobra.NoArgs,
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			svc := care.NewService(a.api, a.session)
			all, err := svc.Consultations(ctx)
			if err != nil {
				return err
			}
			switch {
			case today:
				all = svc.Today(all)
			case upcoming:
				all = svc.Upcoming(all)
			}
			rows := make([][]string, 0, len(all))
			for _, c := range all {
				start, _ := c.Start()
				end, _ := c.End()
				rows = append(rows, []string{
					c.ID.String(), c.Title, formatTime(start), formatTime(end), orDash(c.GoogleMeetLink),
				})
			}
			return a.out.print(all, []string{"ID", "TITLE", "START", "END", "MEET"}, rows)
		}),
	}
	consultCmd.Flags().BoolVar(&today, "today", false, "only today's consultations")
	consultCmd.Flags().BoolVar(&upcoming, "upcoming", false, "only consultations that have not ended")
	consultCmd.MarkFlagsMutuallyExclusive("today", "upcoming")
	cmd.AddCommand(consultCmd)

	var (
		date       string
		page, size int
	)
	opdCmd := &cobra.Command{
		Use:   "opd",
		Short: "List OPD visits for a day",
		Args:  cobra.NoArgs,
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			res, err := care.NewService(a.api, a.session).OPDVisits(ctx, date, pagination.New(page, size))
			if err != nil {
				return err
			}
			if a.out.format == outputJSON {
				return a.out.json(res)
			}
			rows := make([][]string, 0, len(res.Items))
			for _, v := range res.Items {
				rows = append(rows, []string{v.DoctorName, v.HospitalName, orDash(v.Visit.ChiefComplaint)})
			}
			if err := a.out.table([]string{"DOCTOR", "HOSPITAL", "COMPLAINT"}, rows); err != nil {
				return err
			}
			p := pagination.New(res.Page, res.Size)
			if p.HasPrevious() {
				if _, err := fmt.Fprintf(a.out.w, "Previous visits: --page %d\n", p.Previous().Page); err != nil {
					return err
				}
			}
			if res.HasMore {
				_, err = fmt.Fprintf(a.out.w, "More visits: --page %d\n", p.Next().Page)
			}
			return err
		}),
	}
	opdCmd.Flags().StringVar(&date, "date", "", "day YYYY-MM-DD (default today)")
	opdCmd.Flags().IntVar(&page, "page", 0, "zero-based page")
	opdCmd.Flags().IntVar(&size, "size", pagination.DefaultSize, "page size")
	cmd.AddCommand(opdCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "prescriptions DOCTOR_ID",
		Short: "List prescriptions written by a doctor",
		Args:  cobra.ExactArgs(1),
		RunE: run(opts, func(ctx context.Context, a *app, args []string) error {
			all, err := care.NewService(a.api, a.session).Prescriptions(ctx, args[0])
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(all))
			for _, p := range all {
				rows = append(rows, []string{
					p.ID.String(), p.CreatedAt,
					orDash(strings.Join(p.Diagnosis, "; ")), orDash(strings.Join(p.Advice, "; ")),
				})
			}
			return a.out.print(all, []string{"ID", "DATE", "DIAGNOSIS", "ADVICE"}, rows)
		}),
	})

	return cmd
}
