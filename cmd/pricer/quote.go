package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"pricer.com/pkg/lattice"
	"pricer.com/pkg/montecarlo"
	"pricer.com/pkg/option"
	"pricer.com/pkg/valuation"
)

// requestFlags quote / request 共用的合约参数
type requestFlags struct {
	symbol      string
	kind        string
	spot        float64
	strike      float64
	rate        float64
	volatility  float64
	maturity    float64
	compounding string
	methods     []string
	asJSON      bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.symbol, "symbol", "OPT", "contract symbol")
	fs.StringVar(&f.kind, "kind", "call", "call or put")
	fs.Float64Var(&f.spot, "spot", 100, "spot price")
	fs.Float64Var(&f.strike, "strike", 100, "strike price")
	fs.Float64Var(&f.rate, "rate", 0.05, "annual risk-free rate")
	fs.Float64Var(&f.volatility, "vol", 0.2, "annual volatility")
	fs.Float64Var(&f.maturity, "maturity", 1, "time to maturity in years")
	fs.StringVar(&f.compounding, "compounding", "continuous", "lattice discounting: discrete or continuous")
	fs.StringSliceVar(&f.methods, "methods", nil, "lattice, montecarlo, closedform (default all)")
	fs.BoolVar(&f.asJSON, "json", false, "print the report as JSON")
}

func (f *requestFlags) request() (valuation.Request, error) {
	kind, err := option.ParseKind(f.kind)
	if err != nil {
		return valuation.Request{}, err
	}
	comp, err := lattice.ParseCompounding(f.compounding)
	if err != nil {
		return valuation.Request{}, err
	}

	req := valuation.Request{
		Contract: valuation.Contract{
			Symbol:      f.symbol,
			Kind:        kind,
			Spot:        f.spot,
			Strike:      f.strike,
			Rate:        f.rate,
			Volatility:  f.volatility,
			Maturity:    f.maturity,
			Compounding: comp,
		},
	}
	for _, s := range f.methods {
		m, err := valuation.ParseMethod(s)
		if err != nil {
			return valuation.Request{}, err
		}
		req.Methods = append(req.Methods, m)
	}
	return req, nil
}

func newQuoteCmd() *cobra.Command {
	var (
		flags    requestFlags
		steps    int
		paths    int
		seed     uint64
		discount string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "value one contract locally with every method",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}

			d, err := montecarlo.ParseDiscount(discount)
			if err != nil {
				return err
			}

			cfg := valuation.DefaultConfig()
			cfg.MonteCarlo.Discount = d
			cfg.LatticeSteps = steps
			cfg.MonteCarlo.PathCount = paths
			if seed != 0 {
				cfg.MonteCarlo.Seed = seed
			}
			engine, err := valuation.NewEngine(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			report, err := engine.Value(ctx, req)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report, flags.asJSON)
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&steps, "steps", 200, "lattice steps")
	cmd.Flags().IntVar(&paths, "paths", 10000, "monte carlo paths")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "monte carlo seed (0 = time based)")
	cmd.Flags().StringVar(&discount, "discount", "risk-neutral", "monte carlo discounting: risk-neutral or compound")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "valuation timeout")
	return cmd
}

func printReport(w io.Writer, r *valuation.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	methods := make([]string, 0, len(r.Prices))
	for m := range r.Prices {
		methods = append(methods, string(m))
	}
	sort.Strings(methods)

	fmt.Fprintf(w, "run %d  %s %s\n", r.RunID, r.Symbol, r.Kind)
	for _, m := range methods {
		method := valuation.Method(m)
		line := fmt.Sprintf("  %-11s %s", m, r.Prices[method])
		if method == valuation.MethodMonteCarlo {
			line += fmt.Sprintf("  (stderr %s)", r.StdErr)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "  max spread  %s\n", r.MaxSpread)
	return nil
}
