package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/patientctl/internal/domain/healthdata"
)

func healthCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Record and review blood pressure, glucose, insulin and weight",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list TYPE",
		Short: "List readings of one type (bp, glucose, insulin, weight)",
		Args:  cobra.ExactArgs(1),
		RunE: run(opts, func(ctx context.Context, a *app, args []string) error {
			kind, err := healthdata.ParseKind(args[0])
			if err != nil {
				return err
			}
			records, err := healthdata.NewService(a.api, a.session).List(ctx, kind)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(records))
			for _, r := range records {
				rows = append(rows, []string{r.ID.String(), formatTime(r.Time()), r.Describe(kind)})
			}
			return a.out.print(records, []string{"ID", "TIME", "READING"}, rows)
		}),
	})

	var (
		reading healthdata.Reading
		at      string
	)
	addCmd := &cobra.Command{
		Use:   "add TYPE",
		Short: "Add a reading",
		Example: `  patientctl health add bp --systolic 120 --diastolic 80 --heart-rate 70
  patientctl health add glucose --glucose 95 --state FASTING --units 4
  patientctl health add insulin --insulin Rapid-acting --units 6
  patientctl health add weight --weight 72.5`,
		Args: cobra.ExactArgs(1),
		RunE: run(opts, func(ctx context.Context, a *app, args []string) error {
			kind, err := healthdata.ParseKind(args[0])
			if err != nil {
				return err
			}
			r := reading
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC 3339, got %q", at)
				}
				r.StampingTime = t
			}

			err = healthdata.NewService(a.api, a.session).Add(ctx, kind, r)
			if errors.Is(err, healthdata.ErrOutOfRange) {
				return fmt.Errorf("%w, pass --confirm to save it anyway", err)
			}
			if err != nil {
				return err
			}
			return a.out.message("Reading saved.")
		}),
	}
	f := addCmd.Flags()
	f.Float64Var(&reading.Systolic, "systolic", 0, "systolic pressure (mmHg)")
	f.Float64Var(&reading.Diastolic, "diastolic", 0, "diastolic pressure (mmHg)")
	f.Float64Var(&reading.HeartBeatPerMin, "heart-rate", 0, "heart rate (bpm)")
	f.Float64Var(&reading.Glucose, "glucose", 0, "blood glucose")
	f.StringVar(&reading.PatientState, "state", "", "meal state: FASTING, POSTPRANDIAL or RANDOM")
	f.Float64Var(&reading.InsulinUnits, "units", 0, "insulin units")
	f.StringVar(&reading.InsulinName, "insulin", "", "insulin name")
	f.Float64Var(&reading.WeightInKgs, "weight", 0, "weight (kg)")
	f.StringVar(&at, "at", "", "reading time in RFC 3339 (default now)")
	f.BoolVar(&reading.Confirmed, "confirm", false, "save a blood pressure outside the normal range")
	cmd.AddCommand(addCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete TYPE ID",
		Short: "Delete a reading",
		Args:  cobra.ExactArgs(2),
		RunE: run(opts, func(ctx context.Context, a *app, args []string) error {
			kind, err := healthdata.ParseKind(args[0])
			if err != nil {
				return err
			}
			if err := healthdata.NewService(a.api, a.session).Delete(ctx, kind, args[1]); err != nil {
				return err
			}
			return a.out.message("Reading deleted.")
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "summary [TYPE...]",
		Short: "Show min, max, average and latest value per metric",
		RunE: run(opts, func(ctx context.Context, a *app, args []string) error {
			kinds := healthdata.Kinds
			if len(args) > 0 {
				kinds = make([]healthdata.Kind, 0, len(args))
				for _, arg := range args {
					k, err := healthdata.ParseKind(arg)
					if err != nil {
						return err
					}
					kinds = append(kinds, k)
				}
			}

			svc := healthdata.NewService(a.api, a.session)
			var all []healthdata.Summary
			var rows [][]string
			for _, k := range kinds {
				records, err := svc.List(ctx, k)
				if err != nil {
					return err
				}
				for _, s := range healthdata.Summarize(k, records) {
					all = append(all, s)
					rows = append(rows, []string{
						string(k), s.Metric, fmt.Sprint(s.Count),
						formatFloat(s.Min), formatFloat(s.Max), fmt.Sprintf("%.1f", s.Avg),
						formatFloat(s.Latest), formatTime(s.LatestAt),
					})
				}
			}
			return a.out.print(all, []string{"TYPE", "METRIC", "COUNT", "MIN", "MAX", "AVG", "LATEST", "AT"}, rows)
		}),
	})

	return cmd
}
