// 文件: pkg/valuation/engine.go
// 估值引擎：同一合约用多种方法并行估值，输出对比报告
//
// 三种方法互不共享状态，各自独立并行执行；
// 任何一种方法失败，整个请求失败，不返回部分结果。

package valuation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"pricer.com/pkg/lattice"
	"pricer.com/pkg/montecarlo"
	"pricer.com/pkg/option"
	"pricer.com/pkg/options"
)

var ErrInvalidConfig = errors.New("invalid valuation config")

// Valuer 估值服务接口，基础设施层（worker / cache）只依赖它
type Valuer interface {
	Value(ctx context.Context, req Request) (*Report, error)
}

// =============================================================================
// 配置
// =============================================================================

// Config 引擎配置
type Config struct {
	LatticeSteps int               // 二叉树期数
	MonteCarlo   montecarlo.Config // 蒙特卡洛参数
	Precision    int32             // 报告价格保留的小数位
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	mc := montecarlo.DefaultConfig()
	mc.PathCount = 10000

	return Config{
		LatticeSteps: 200,
		MonteCarlo:   mc,
		Precision:    4,
	}
}

// =============================================================================
// Engine
// =============================================================================

// Engine 估值引擎，可并发复用
type Engine struct {
	cfg Config
	mc  *montecarlo.Estimator
	now func() time.Time
}

// NewEngine 创建估值引擎
func NewEngine(cfg Config, opts ...montecarlo.EstimatorOption) (*Engine, error) {
	if cfg.LatticeSteps < 1 {
		return nil, fmt.Errorf("%w: lattice steps must be >= 1 (got %d)", ErrInvalidConfig, cfg.LatticeSteps)
	}
	if cfg.Precision < 0 {
		return nil, fmt.Errorf("%w: precision must be >= 0 (got %d)", ErrInvalidConfig, cfg.Precision)
	}

	mc, err := montecarlo.NewEstimator(cfg.MonteCarlo, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &Engine{cfg: cfg, mc: mc, now: time.Now}, nil
}

// methodResult 单个方法的结果
type methodResult struct {
	method Method
	price  float64
	stdErr float64
}

// finite decimal.NewFromFloat 遇到 NaN/Inf 会 panic，进入 buildReport 前必须检查
func (r methodResult) finite() bool {
	for _, x := range [...]float64{r.price, r.stdErr} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Value 按请求的方法估值，方法之间并行执行
func (e *Engine) Value(ctx context.Context, req Request) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := req.Contract
	if c.Symbol == "" {
		return nil, ErrEmptySymbol
	}
	if !c.kind().Valid() {
		return nil, fmt.Errorf("%w: %q", option.ErrUnknownKind, c.Kind)
	}
	methods, err := req.methods()
	if err != nil {
		return nil, err
	}

	p := pool.NewWithResults[methodResult]().WithContext(ctx)
	for _, m := range methods {
		p.Go(func(ctx context.Context) (methodResult, error) {
			if err := ctx.Err(); err != nil {
				return methodResult{}, err
			}
			res, err := e.valueWith(m, c)
			if err != nil {
				return methodResult{}, fmt.Errorf("%s: %w", m, err)
			}
			if !res.finite() {
				return methodResult{}, fmt.Errorf("%s: %w (price=%v, stderr=%v)", m, ErrNonFinitePrice, res.price, res.stdErr)
			}
			return res, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	return e.buildReport(c, results), nil
}

// valueWith 调用具体的估值器
func (e *Engine) valueWith(m Method, c Contract) (methodResult, error) {
	switch m {
	case MethodLattice:
		price, err := e.valueLattice(c)
		return methodResult{method: m, price: price}, err

	case MethodMonteCarlo:
		res, err := e.mc.EstimateDetailed(montecarlo.Input{
			Spot:       c.Spot,
			Drift:      c.drift(),
			Volatility: c.Volatility,
			Maturity:   c.Maturity,
			Rate:       c.Rate,
			Strike:     c.Strike,
			Kind:       c.kind(),
		})
		return methodResult{method: m, price: res.Price, stdErr: res.StdErr}, err

	case MethodClosedForm:
		price, err := options.Price(c.Spot, c.Strike, c.Maturity, c.Rate, c.Volatility, c.kind() == option.Call)
		return methodResult{method: m, price: price}, err
	}
	return methodResult{}, fmt.Errorf("%w: %q", ErrUnknownMethod, m)
}

// valueLattice 用 CRR 重组树倒推
// 离散复利时把年化利率折算为每期利率: (1+r)^dt - 1
func (e *Engine) valueLattice(c Contract) (float64, error) {
	comp := c.compounding()
	rate := c.Rate
	if comp == lattice.CompoundDiscrete {
		dt := c.Maturity / float64(e.cfg.LatticeSteps)
		rate = math.Pow(1+c.Rate, dt) - 1
	}

	l, err := lattice.BuildRecombining(lattice.BinomialParams{
		Spot:        c.Spot,
		Strike:      c.Strike,
		Rate:        rate,
		Volatility:  c.Volatility,
		Maturity:    c.Maturity,
		Steps:       e.cfg.LatticeSteps,
		Compounding: comp,
		Kind:        c.kind(),
	})
	if err != nil {
		return 0, err
	}
	return l.Price()
}

// buildReport 汇总各方法结果，统一舍入
func (e *Engine) buildReport(c Contract, results []methodResult) *Report {
	r := &Report{
		RunID:     NextRunID(),
		Symbol:    c.Symbol,
		Kind:      c.kind(),
		Contract:  c,
		Prices:    make(map[Method]decimal.Decimal, len(results)),
		StdErr:    decimal.Zero,
		MaxSpread: decimal.Zero,
		CreatedAt: e.now().UTC(),
	}

	for i, res := range results {
		price := decimal.NewFromFloat(res.price).Round(e.cfg.Precision)
		r.Prices[res.method] = price
		if res.method == MethodMonteCarlo {
			r.StdErr = decimal.NewFromFloat(res.stdErr).Round(e.cfg.Precision)
		}

		// 最大价差 = max - min
		for _, other := range results[:i] {
			spread := price.Sub(r.Prices[other.method]).Abs()
			if spread.GreaterThan(r.MaxSpread) {
				r.MaxSpread = spread
			}
		}
	}
	return r
}
