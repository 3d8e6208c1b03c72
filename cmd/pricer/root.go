package main

import (
	"log"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pricer",
		Short:         "European option valuation: lattice, Monte Carlo, Black-Scholes-Merton",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(c *cobra.Command, args []string) {
			_ = c.Help()
		},
	}

	root.AddCommand(
		newScenariosCmd(),
		newQuoteCmd(),
		newRequestCmd(),
		newServeCmd(),
	)
	return root
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}
