package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/patientctl/internal/domain/account"
	"github.com/ehr/patientctl/internal/platform/signin"
)

func signinCmd(opts *globalOptions) *cobra.Command {
	var noBrowser bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with Google and store the session",
		Args:  cobra.NoArgs,
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			if !a.cfg.SigninEnabled() {
				return fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required for sign-in")
			}
			provider, err := signin.NewOIDCProvider(ctx, a.cfg.GoogleIssuer, a.cfg.GoogleClientID, a.cfg.GoogleClientSecret)
			if err != nil {
				return err
			}

			flowOpts := []signin.FlowOption{signin.WithLogger(a.logger), signin.WithTimeout(timeout)}
			if noBrowser {
				flowOpts = append(flowOpts, signin.WithBrowser(func(url string) error {
					_, err := fmt.Fprintf(a.out.w, "Open this URL to sign in:\n%s\n", url)
					return err
				}))
			}

			flow := signin.NewFlow(provider, account.NewService(a.api, a.session), a.cfg.SigninCallbackPort, flowOpts...)
			patient, err := flow.Run(ctx)
			if err != nil {
				return err
			}
			if !a.session.IsLoggedIn() {
				return fmt.Errorf("signed in as patient %s but the session could not be stored", patient.ID)
			}

			u := a.session.User()
			return a.out.print(u,
				[]string{"PATIENT", "NAME", "EMAIL"},
				[][]string{{u.ID, orDash(u.Name), u.Email}})
		}),
	}
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "print the sign-in URL instead of opening a browser")
	cmd.Flags().DurationVar(&timeout, "timeout", signin.DefaultTimeout, "how long to wait for the browser callback")
	return cmd
}

// ---------------------------------------------------------------------------
// session
// ---------------------------------------------------------------------------

type sessionStatus struct {
	LoggedIn  bool       `json:"logged_in"`
	PatientID string     `json:"patient_id"`
	Name      string     `json:"name,omitempty"`
	Email     string     `json:"email,omitempty"`
	ExpiresAt *time.Time `json:"access_token_expires_at,omitempty"`
	Expired   bool       `json:"expired"`
}

func currentStatus(a *app) sessionStatus {
	st := sessionStatus{
		LoggedIn:  a.session.IsLoggedIn(),
		PatientID: a.session.PatientID(),
	}
	if u := a.session.User(); u != nil {
		st.Name, st.Email = u.Name, u.Email
	}
	if exp := a.session.AccessTokenExpiry(); !exp.IsZero() {
		st.ExpiresAt = &exp
		st.Expired = time.Now().After(exp)
	}
	return st
}

func printStatus(a *app) error {
	st := currentStatus(a)
	expires := "-"
	if st.ExpiresAt != nil {
		expires = formatTime(*st.ExpiresAt)
		if st.Expired {
			expires += " (expired)"
		}
	}
	return a.out.print(st,
		[]string{"LOGGED IN", "PATIENT", "NAME", "EMAIL", "TOKEN EXPIRES"},
		[][]string{{fmt.Sprint(st.LoggedIn), st.PatientID, orDash(st.Name), orDash(st.Email), expires}})
}

func sessionCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or manage the stored session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: run(opts, func(_ context.Context, a *app, _ []string) error {
			return printStatus(a)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		Args:  cobra.NoArgs,
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			if a.session.RefreshToken() == "" {
				return errNotSignedIn
			}
			if _, ok := a.session.RefreshAccessToken(ctx); !ok {
				return fmt.Errorf("refresh failed, sign in again")
			}
			return printStatus(a)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		Args:  cobra.NoArgs,
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			a.session.Logout(ctx)
			return a.out.message("Logged out.")
		}),
	})

	return cmd
}

var errNotSignedIn = errors.New("not signed in, run patientctl signin")

// ---------------------------------------------------------------------------
// account
// ---------------------------------------------------------------------------

func accountCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage the patient account",
	}

	var confirm bool
	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Permanently delete the account and sign out",
		Args:  cobra.NoArgs,
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			if !confirm {
				return fmt.Errorf("account deletion cannot be undone, pass --yes to confirm")
			}
			if err := account.NewService(a.api, a.session).DeleteAccount(ctx); err != nil {
				if errors.Is(err, account.ErrNotSignedIn) {
					return errNotSignedIn
				}
				return err
			}
			return a.out.message("Account deleted.")
		}),
	}
	deleteCmd.Flags().BoolVar(&confirm, "yes", false, "confirm the deletion")
	cmd.AddCommand(deleteCmd)

	return cmd
}
