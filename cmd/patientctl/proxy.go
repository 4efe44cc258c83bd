package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehr/patientctl/internal/platform/gateway"
)

func proxyCmd(opts *globalOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Serve a local proxy that relays API calls with the stored session",
		Args:  cobra.NoArgs,
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			if port == 0 {
				port = a.cfg.ProxyPort
			}
			if !a.session.IsLoggedIn() {
				a.logger.Warn().Msg("no stored session, requests will be sent anonymously")
			}
			srv := gateway.New(gateway.Config{
				Addr:        fmt.Sprintf("127.0.0.1:%d", port),
				BodyLimit:   a.cfg.ProxyBodyLimit,
				CORSOrigins: a.cfg.CORSOrigins,
				Timeout:     a.cfg.HTTPTimeout,
				RateLimit:   a.cfg.ProxyRateLimit,
			}, a.api, a.session, a.metrics, a.logger)
			return srv.Run(ctx)
		}),
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default PROXY_PORT)")
	return cmd
}
