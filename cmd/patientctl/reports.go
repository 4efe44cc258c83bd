package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/patientctl/internal/domain/reports"
)

func reportService(a *app) *reports.Service {
	return reports.NewService(a.api, a.api, a.session)
}

// findReport lists the patient's reports and picks id.
func findReport(ctx context.Context, svc *reports.Service, id string) (reports.Report, error) {
	all, err := svc.List(ctx)
	if err != nil {
		return reports.Report{}, err
	}
	r, ok := reports.Find(all, id)
	if !ok {
		return reports.Report{}, fmt.Errorf("report %s not found", id)
	}
	return r, nil
}

func reportsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reports",
		Aliases: []string{"report"},
		Short:   "Manage medical reports",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List reports, newest first",
		Args:  cobra.NoArgs,
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			all, err := reportService(a).List(ctx)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(all))
			for _, r := range all {
				rows = append(rows, []string{r.ID.String(), r.ReportName, r.ReportDate, orDash(r.FileExtension)})
			}
			return a.out.print(all, []string{"ID", "NAME", "DATE", "TYPE"}, rows)
		}),
	})

	var name, date, file string
	uploadCmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a report file",
		Args:  cobra.NoArgs,
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read report file: %w", err)
			}
			if date == "" {
				date = time.Now().Format(reports.DateLayout)
			}
			created, err := reportService(a).Upload(ctx, reports.Upload{
				ReportName:  name,
				ReportDate:  date,
				FileName:    filepath.Base(file),
				ContentType: mime.TypeByExtension(filepath.Ext(file)),
				Data:        data,
			})
			if err != nil {
				return err
			}
			if created == nil {
				return a.out.message("Report uploaded.")
			}
			return a.out.print(created,
				[]string{"ID", "NAME", "DATE"},
				[][]string{{created.ID.String(), created.ReportName, created.ReportDate}})
		}),
	}
	uploadCmd.Flags().StringVar(&name, "name", "", "report name")
	uploadCmd.Flags().StringVar(&date, "date", "", "report date YYYY-MM-DD (default today)")
	uploadCmd.Flags().StringVarP(&file, "file", "f", "", "path of the file to upload")
	cmd.AddCommand(uploadCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a report",
		Args:  cobra.ExactArgs(1),
		RunE: run(opts, func(ctx context.Context, a *app, args []string) error {
			if err := reportService(a).Delete(ctx, args[0]); err != nil {
				return err
			}
			return a.out.message("Report deleted.")
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "url ID",
		Short: "Print a short-lived download URL for a report",
		Args:  cobra.ExactArgs(1),
		RunE: run(opts, func(ctx context.Context, a *app, args []string) error {
			svc := reportService(a)
			r, err := findReport(ctx, svc, args[0])
			if err != nil {
				return err
			}
			u, err := svc.PresignedURL(ctx, r)
			if err != nil {
				return err
			}
			return a.out.print(map[string]string{"id": r.ID.String(), "url": u},
				[]string{"ID", "URL"}, [][]string{{r.ID.String(), u}})
		}),
	})

	var outPath string
	downloadCmd := &cobra.Command{
		Use:   "download ID",
		Short: "Download a report's PDF",
		Args:  cobra.ExactArgs(1),
		RunE: run(opts, func(ctx context.Context, a *app, args []string) error {
			svc := reportService(a)
			r, err := findReport(ctx, svc, args[0])
			if err != nil {
				return err
			}
			dest := outPath
			if dest == "" {
				dest = r.ReportName + ".pdf"
			}
			f, err := os.Create(dest)
			if err != nil {
				return fmt.Errorf("create %s: %w", dest, err)
			}
			n, err := svc.Download(ctx, r, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(dest)
				return err
			}
			return a.out.message(fmt.Sprintf("Saved %s (%d bytes).", dest, n))
		}),
	}
	downloadCmd.Flags().StringVarP(&outPath, "out", "O", "", "destination file (default <report name>.pdf)")
	cmd.AddCommand(downloadCmd)

	var doctorIDs []int64
	var allDoctors bool
	shareCmd := &cobra.Command{
		Use:   "share ID",
		Short: "Grant doctors access to a report",
		Args:  cobra.ExactArgs(1),
		RunE: run(opts, func(ctx context.Context, a *app, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("report id must be numeric, got %q", args[0])
			}
			err = reportService(a).Share(ctx, reports.Share{
				ReportID:   id,
				AllDoctors: allDoctors,
				DoctorIDs:  doctorIDs,
			})
			if err != nil {
				return err
			}
			return a.out.message("Report shared.")
		}),
	}
	shareCmd.Flags().Int64SliceVar(&doctorIDs, "doctor", nil, "doctor id to share with (repeatable)")
	shareCmd.Flags().BoolVar(&allDoctors, "all", false, "share with all affiliated doctors")
	cmd.AddCommand(shareCmd)

	return cmd
}
