// 文件: pkg/montecarlo/estimator.go
// 蒙特卡洛期权估值
//
// 每条路径独立模拟到期价格，计算收益 max(S_T - K, 0)（看跌为 max(K - S_T, 0)），
// 取平均后贴现。路径分块交给有上限的 worker 池并行执行，
// 收益按路径下标写入，最后统一归约。
package montecarlo

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/stat"

	"pricer.com/pkg/option"
)

var (
	ErrInvalidInput = errors.New("montecarlo: invalid input")

	ErrNegativeSpot       = fmt.Errorf("%w: initial price must be non-negative", ErrInvalidInput)
	ErrNegativeVolatility = fmt.Errorf("%w: volatility must be non-negative", ErrInvalidInput)
	ErrNegativeMaturity   = fmt.Errorf("%w: time to maturity must be non-negative", ErrInvalidInput)
	ErrNegativeStrike     = fmt.Errorf("%w: strike must be non-negative", ErrInvalidInput)
	ErrNonFiniteInput     = fmt.Errorf("%w: inputs must be finite", ErrInvalidInput)
	ErrUnknownKind        = fmt.Errorf("%w: %w", ErrInvalidInput, option.ErrUnknownKind)
	ErrInvalidPaths       = fmt.Errorf("%w: path count must be positive", ErrInvalidInput)
	ErrInvalidSteps       = fmt.Errorf("%w: steps per path must be positive", ErrInvalidInput)

	// ErrNonFiniteResult 路径溢出（漂移或利率过大），均值或标准误差不是有限数
	ErrNonFiniteResult = fmt.Errorf("%w: simulated value is not finite", ErrInvalidInput)
)

// Discount 贴现方向
type Discount int8

const (
	// DiscountRiskNeutral 乘以 exp(-r*t)
	DiscountRiskNeutral Discount = iota
	// DiscountCompound 乘以 exp(+r*t)，兼容旧版本的结果
	DiscountCompound
)

func (d Discount) factor(r, t float64) float64 {
	if d == DiscountCompound {
		return math.Exp(r * t)
	}
	return math.Exp(-r * t)
}

func (d Discount) String() string {
	switch d {
	case DiscountRiskNeutral:
		return "risk-neutral"
	case DiscountCompound:
		return "compound"
	default:
		return "unknown"
	}
}

// ParseDiscount 解析贴现方向，空字符串取风险中性
func ParseDiscount(s string) (Discount, error) {
	switch s {
	case "", "risk-neutral":
		return DiscountRiskNeutral, nil
	case "compound":
		return DiscountCompound, nil
	default:
		return 0, fmt.Errorf("unknown discount %q", s)
	}
}

// Config 模拟参数
type Config struct {
	PathCount    int      // 路径数
	StepsPerPath int      // 每条路径的步数
	Workers      int      // 并行 worker 上限
	Seed         uint64   // 随机种子
	Discount     Discount // 贴现方向
}

// DefaultConfig 默认配置：100 条路径，每条 252 步（一年的交易日）
func DefaultConfig() Config {
	return Config{
		PathCount:    100,
		StepsPerPath: 252,
		Workers:      runtime.GOMAXPROCS(0),
		Seed:         uint64(time.Now().UnixNano()),
		Discount:     DiscountRiskNeutral,
	}
}

// Input 单个期权的估值输入
type Input struct {
	Spot       float64     // S0
	Drift      float64     // mu，风险中性定价时取 r
	Volatility float64     // sigma
	Maturity   float64     // t（年）
	Rate       float64     // 无风险利率 r
	Strike     float64     // 执行价 K
	Kind       option.Kind // 空按看涨处理
}

func (in Input) kind() option.Kind {
	if in.Kind == "" {
		return option.Call
	}
	return in.Kind
}

// validate 在任何模拟开始前检查输入
func (in Input) validate() error {
	for _, v := range []float64{in.Spot, in.Drift, in.Volatility, in.Maturity, in.Rate, in.Strike} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNonFiniteInput
		}
	}
	switch {
	case in.Spot < 0:
		return fmt.Errorf("%w (got %v)", ErrNegativeSpot, in.Spot)
	case in.Volatility < 0:
		return fmt.Errorf("%w (got %v)", ErrNegativeVolatility, in.Volatility)
	case in.Maturity < 0:
		return fmt.Errorf("%w (got %v)", ErrNegativeMaturity, in.Maturity)
	case in.Strike < 0:
		return fmt.Errorf("%w (got %v)", ErrNegativeStrike, in.Strike)
	case !in.kind().Valid():
		return fmt.Errorf("%w (got %q)", ErrUnknownKind, in.Kind)
	}
	return nil
}

// Result 估值结果
type Result struct {
	Price  float64 // 贴现后的平均收益
	StdErr float64 // 价格的标准误差
	Paths  int
}

// Estimator 蒙特卡洛估值器，可并发复用
type Estimator struct {
	cfg    Config
	source SourceFactory
}

// EstimatorOption 可选项
type EstimatorOption func(*Estimator)

// WithSource 替换随机源
func WithSource(f SourceFactory) EstimatorOption {
	return func(e *Estimator) {
		if f != nil {
			e.source = f
		}
	}
}

// NewEstimator 创建估值器
func NewEstimator(cfg Config, opts ...EstimatorOption) (*Estimator, error) {
	if cfg.PathCount <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidPaths, cfg.PathCount)
	}
	if cfg.StepsPerPath <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidSteps, cfg.StepsPerPath)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	e := &Estimator{cfg: cfg, source: PCGSource}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config 当前配置
func (e *Estimator) Config() Config {
	return e.cfg
}

// Estimate 返回贴现后的期权价格
func (e *Estimator) Estimate(in Input) (float64, error) {
	res, err := e.EstimateDetailed(in)
	if err != nil {
		return 0, err
	}
	return res.Price, nil
}

// EstimateDetailed 返回价格和标准误差
func (e *Estimator) EstimateDetailed(in Input) (Result, error) {
	if err := in.validate(); err != nil {
		return Result{}, err
	}

	n := e.cfg.PathCount
	steps := e.cfg.StepsPerPath
	g := newGBMStep(in.Drift, in.Volatility, in.Maturity, steps)
	kind := in.kind()

	payoffs := make([]float64, n)

	// 按块分发，块内路径依次执行；每条路径的随机流只取决于 (seed, 下标)
	chunk := (n + e.cfg.Workers*4 - 1) / (e.cfg.Workers * 4)
	p := pool.New().WithMaxGoroutines(e.cfg.Workers)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		p.Go(func() {
			for i := start; i < end; i++ {
				r := rand.New(e.source(e.cfg.Seed, i))
				payoffs[i] = kind.Payoff(g.terminal(in.Spot, steps, r), in.Strike)
			}
		})
	}
	p.Wait()

	mean, std := stat.MeanStdDev(payoffs, nil)
	df := e.cfg.Discount.factor(in.Rate, in.Maturity)

	res := Result{Price: mean * df, Paths: n}
	if n > 1 {
		res.StdErr = std / math.Sqrt(float64(n)) * df
	}
	if !isFinite(mean) || !isFinite(res.Price) || !isFinite(res.StdErr) {
		return Result{}, fmt.Errorf("%w (mean=%v, df=%v)", ErrNonFiniteResult, mean, df)
	}
	return res, nil
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Estimate 使用默认配置估值看涨期权
func Estimate(S0, mu, sigma, t, r, strike float64) (float64, error) {
	e, err := NewEstimator(DefaultConfig())
	if err != nil {
		return 0, err
	}
	return e.Estimate(Input{Spot: S0, Drift: mu, Volatility: sigma, Maturity: t, Rate: r, Strike: strike})
}
