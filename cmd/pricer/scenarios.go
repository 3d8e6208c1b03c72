package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"pricer.com/pkg/lattice"
	"pricer.com/pkg/montecarlo"
	"pricer.com/pkg/options"
)

// scenario 一个已验证的估值场景
type scenario struct {
	name     string
	places   int32 // 显示的小数位
	truncate bool  // 截断而不是四舍五入
	price    func(obs lattice.Observer) (float64, error)
}

func newScenariosCmd() *cobra.Command {
	var trace bool

	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "print the validated valuation scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			var obs lattice.Observer
			if trace {
				obs = lattice.LogObserver{Logger: log.New(os.Stderr, "", 0)}
			}
			return runScenarios(cmd.OutOrStdout(), obs)
		},
	}

	cmd.Flags().BoolVar(&trace, "trace", false, "log the replicating portfolio of every lattice node")
	return cmd
}

func runScenarios(w io.Writer, obs lattice.Observer) error {
	for _, s := range scenarios() {
		price, err := s.price(obs)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		d := decimal.NewFromFloat(price)
		if s.truncate {
			d = d.Truncate(s.places)
		} else {
			d = d.Round(s.places)
		}
		fmt.Fprintf(w, "%-44s %s\n", s.name, d.StringFixed(s.places))
	}
	return nil
}

func scenarios() []scenario {
	return []scenario{
		{
			name:   "one-step discrete 40->48/30 K=38 r=5%",
			places: 2,
			price: func(obs lattice.Observer) (float64, error) {
				p := func(name string, stock float64) lattice.NodeParams {
					return lattice.NodeParams{Name: name, StockValue: stock, StrikePrice: 38, DiscountRate: 0.05, Compounding: lattice.CompoundDiscrete}
				}
				return priceTree(obs, p("P", 40), p("U", 48), p("D", 30))
			},
		},
		{
			name:   "one-step continuous 20->22/18 K=21 r=4%",
			places: 3,
			price: func(obs lattice.Observer) (float64, error) {
				return priceTree(obs, continuous("P", 20), continuous("U", 22), continuous("D", 18))
			},
		},
		{
			name:   "two-step continuous 20->22/18->24.2/19.8/16.2",
			places: 4,
			price: func(obs lattice.Observer) (float64, error) {
				return priceTwoStep(obs)
			},
		},
		{
			name:     "black-scholes S=14 K=10 T=3.5 r=5% vol=50%",
			places:   2,
			truncate: true,
			price: func(lattice.Observer) (float64, error) {
				return options.Price(14, 10, 3.5, 0.05, 0.5, true)
			},
		},
		{
			name:   "monte carlo S=14 K=10 T=3.5 r=5% vol=50%",
			places: 2,
			price: func(lattice.Observer) (float64, error) {
				est, err := montecarlo.NewEstimator(montecarlo.Config{
					PathCount: 100000, StepsPerPath: 1, Workers: 8, Seed: 1,
				})
				if err != nil {
					return 0, err
				}
				return est.Estimate(montecarlo.Input{
					Spot: 14, Drift: 0.05, Volatility: 0.5, Maturity: 3.5, Rate: 0.05, Strike: 10,
				})
			},
		},
	}
}

func continuous(name string, stock float64) lattice.NodeParams {
	return lattice.NodeParams{
		Name:           name,
		StockValue:     stock,
		StrikePrice:    21,
		DiscountRate:   0.04,
		Compounding:    lattice.CompoundContinuous,
		TimeToMaturity: 0.25,
	}
}

func priceTree(obs lattice.Observer, root, up, down lattice.NodeParams) (float64, error) {
	u, err := lattice.NewLeaf(up)
	if err != nil {
		return 0, err
	}
	d, err := lattice.NewLeaf(down)
	if err != nil {
		return 0, err
	}
	r, err := lattice.NewNode(root, u, d)
	if err != nil {
		return 0, err
	}
	return lattice.NewValuator(lattice.WithObserver(obs)).Price(r)
}

// priceTwoStep 中间价位 19.8 由两条路径共用
func priceTwoStep(obs lattice.Observer) (float64, error) {
	leaves := make(map[string]*lattice.Node, 3)
	for name, stock := range map[string]float64{"D": 24.2, "E": 19.8, "F": 16.2} {
		n, err := lattice.NewLeaf(continuous(name, stock))
		if err != nil {
			return 0, err
		}
		leaves[name] = n
	}

	b, err := lattice.NewNode(continuous("B", 22), leaves["D"], leaves["E"])
	if err != nil {
		return 0, err
	}
	c, err := lattice.NewNode(continuous("C", 18), leaves["E"], leaves["F"])
	if err != nil {
		return 0, err
	}
	a, err := lattice.NewNode(continuous("A", 20), b, c)
	if err != nil {
		return 0, err
	}
	return lattice.NewValuator(lattice.WithObserver(obs)).Price(a)
}
