package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"pricer.com/pkg/nats"
	"pricer.com/pkg/worker"
)

func newRequestCmd() *cobra.Command {
	var (
		flags   requestFlags
		url     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "request a valuation from a running pricer service over NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}

			pub, err := nats.NewPublisher(url)
			if err != nil {
				return err
			}
			defer pub.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			report, err := worker.RequestValuation(ctx, pub, req)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report, flags.asJSON)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&url, "nats", "nats://127.0.0.1:4222", "NATS url")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")
	return cmd
}
