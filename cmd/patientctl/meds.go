package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ehr/patientctl/internal/domain/medication"
)

func medsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "meds",
		Aliases: []string{"medication"},
		Short:   "Medication schedules and intake",
	}

	var date string
	todayCmd := &cobra.Command{
		Use:   "today",
		Short: "Show the day's doses",
		Args:  cobra.NoArgs,
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			svc := medication.NewService(a.api, a.session)
			day := date
			if day == "" {
				day = svc.Today()
			}
			doses, err := svc.DaySchedule(ctx, day)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(doses))
			for _, d := range doses {
				taken := "no"
				if d.Taken {
					taken = "yes"
				}
				rows = append(rows, []string{
					d.IntakeTime, d.MedicineName, d.Dosage, taken,
					d.MedicationID.String(), d.MedicationScheduleID.String(),
				})
			}
			return a.out.print(doses, []string{"TIME", "MEDICINE", "DOSAGE", "TAKEN", "MED ID", "SCHEDULE ID"}, rows)
		}),
	}
	todayCmd.Flags().StringVar(&date, "date", "", "day to show, YYYY-MM-DD (default today)")
	cmd.AddCommand(todayCmd)

	var search string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all medication schedules",
		Args:  cobra.NoArgs,
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			all, err := medication.NewService(a.api, a.session).ListAll(ctx)
			if err != nil {
				return err
			}
			all = medication.Search(all, search)
			rows := make([][]string, 0, len(all))
			for _, m := range all {
				rows = append(rows, []string{
					m.ID.String(), m.MedicineName, m.Dosage, m.StartDate, m.EndDate,
					strings.Join(m.IntakeTimeList, ", "),
				})
			}
			return a.out.print(all, []string{"ID", "MEDICINE", "DOSAGE", "START", "END", "TIMES"}, rows)
		}),
	}
	listCmd.Flags().StringVar(&search, "search", "", "filter by medicine name or description")
	cmd.AddCommand(listCmd)

	var m medication.Medication
	saveCmd := &cobra.Command{
		Use:   "save",
		Short: "Add a medication schedule",
		Example: `  patientctl meds save --name Metformin --dosage 500mg \
    --start 2024-06-10 --end 2024-07-10 --time 08:00 --time 20:00`,
		Args: cobra.NoArgs,
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			if err := medication.NewService(a.api, a.session).Save(ctx, m); err != nil {
				return err
			}
			return a.out.message("Medication saved.")
		}),
	}
	sf := saveCmd.Flags()
	sf.StringVar(&m.MedicineName, "name", "", "medicine name")
	sf.StringVar(&m.Dosage, "dosage", "", "dosage, e.g. 500mg")
	sf.StringVar(&m.Description, "description", "", "notes")
	sf.StringVar(&m.StartDate, "start", "", "start date YYYY-MM-DD")
	sf.StringVar(&m.EndDate, "end", "", "end date YYYY-MM-DD")
	sf.StringSliceVar(&m.IntakeTimeList, "time", nil, "intake time HH:MM (repeatable)")
	cmd.AddCommand(saveCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a medication schedule",
		Args:  cobra.ExactArgs(1),
		RunE: run(opts, func(ctx context.Context, a *app, args []string) error {
			if err := medication.NewService(a.api, a.session).Delete(ctx, args[0]); err != nil {
				return err
			}
			return a.out.message("Medication deleted.")
		}),
	})

	var notTaken bool
	takeCmd := &cobra.Command{
		Use:   "take MED_ID SCHEDULE_ID",
		Short: "Record today's intake of a dose",
		Args:  cobra.ExactArgs(2),
		RunE: run(opts, func(ctx context.Context, a *app, args []string) error {
			medID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("medication id must be numeric, got %q", args[0])
			}
			schedID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("schedule id must be numeric, got %q", args[1])
			}
			svc := medication.NewService(a.api, a.session)
			if err := svc.RecordIntake(ctx, medID, schedID, svc.Today(), !notTaken); err != nil {
				return err
			}
			if notTaken {
				return a.out.message("Dose marked as not taken.")
			}
			return a.out.message("Dose marked as taken.")
		}),
	}
	takeCmd.Flags().BoolVar(&notTaken, "not-taken", false, "record the dose as skipped")
	cmd.AddCommand(takeCmd)

	return cmd
}
