package valuation

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricer.com/pkg/kafka"
	"pricer.com/pkg/lattice"
	"pricer.com/pkg/montecarlo"
	"pricer.com/pkg/option"
	"pricer.com/pkg/options"
)

var _ kafka.Message = (*Report)(nil)
var _ Valuer = (*Engine)(nil)

func testConfig() Config {
	return Config{
		LatticeSteps: 200,
		MonteCarlo:   montecarlo.Config{PathCount: 20000, StepsPerPath: 8, Workers: 4, Seed: 77},
		Precision:    4,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(testConfig())
	require.NoError(t, err)
	e.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return e
}

func atmContract(kind option.Kind) Contract {
	return Contract{Symbol: "BTC-C-100", Kind: kind, Spot: 100, Strike: 100, Rate: 0.05, Volatility: 0.2, Maturity: 1}
}

func TestEngine_AllMethodsAgree(t *testing.T) {
	e := newTestEngine(t)

	for kind, bsm := range map[option.Kind]string{option.Call: "10.4506", option.Put: "5.5735"} {
		report, err := e.Value(context.Background(), Request{Contract: atmContract(kind)})
		require.NoError(t, err)

		assert.NotZero(t, report.RunID)
		assert.Equal(t, "BTC-C-100", report.Symbol)
		assert.Equal(t, kind, report.Kind)
		assert.Len(t, report.Prices, 3)
		assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), report.CreatedAt)

		closed, ok := report.Price(MethodClosedForm)
		require.True(t, ok)
		assert.Equal(t, bsm, closed.String())

		lat, _ := report.Price(MethodLattice)
		assert.True(t, lat.Sub(closed).Abs().LessThan(decimal.NewFromFloat(0.02)), "lattice=%s closed=%s", lat, closed)

		mc, _ := report.Price(MethodMonteCarlo)
		assert.True(t, report.StdErr.IsPositive())
		limit := report.StdErr.Mul(decimal.NewFromInt(4))
		assert.True(t, mc.Sub(closed).Abs().LessThanOrEqual(limit), "mc=%s closed=%s stderr=%s", mc, closed, report.StdErr)

		// 最大价差覆盖任意两种方法之间的差
		for _, a := range report.Prices {
			for _, b := range report.Prices {
				assert.True(t, a.Sub(b).Abs().LessThanOrEqual(report.MaxSpread))
			}
		}
	}
}

func TestEngine_SelectedMethods(t *testing.T) {
	e := newTestEngine(t)

	report, err := e.Value(context.Background(), Request{
		Contract: atmContract(option.Call),
		Methods:  []Method{MethodClosedForm, MethodClosedForm, MethodLattice},
	})
	require.NoError(t, err)
	assert.Len(t, report.Prices, 2)
	assert.True(t, report.StdErr.IsZero())

	_, ok := report.Price(MethodMonteCarlo)
	assert.False(t, ok)

	// 单一方法时价差为 0
	report, err = e.Value(context.Background(), Request{
		Contract: atmContract(option.Call),
		Methods:  []Method{MethodClosedForm},
	})
	require.NoError(t, err)
	assert.True(t, report.MaxSpread.IsZero())
}

func TestEngine_DiscreteCompounding(t *testing.T) {
	e := newTestEngine(t)

	// 年化离散利率 r_d 与连续利率 ln(1+r_d) 等价
	c := atmContract(option.Call)
	c.Compounding = lattice.CompoundDiscrete
	discrete, err := e.Value(context.Background(), Request{Contract: c, Methods: []Method{MethodLattice}})
	require.NoError(t, err)

	c.Compounding = lattice.CompoundContinuous
	c.Rate = 0.04879016416943205 // ln(1.05)
	continuous, err := e.Value(context.Background(), Request{Contract: c, Methods: []Method{MethodLattice}})
	require.NoError(t, err)

	a, _ := discrete.Price(MethodLattice)
	b, _ := continuous.Price(MethodLattice)
	assert.True(t, a.Sub(b).Abs().LessThanOrEqual(decimal.RequireFromString("0.0001")), "discrete=%s continuous=%s", a, b)
}

func TestEngine_CompoundingDefault(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	c := atmContract(option.Call)
	omitted, err := e.Value(ctx, Request{Contract: c, Methods: []Method{MethodLattice}})
	require.NoError(t, err)

	c.Compounding = lattice.CompoundContinuous
	explicit, err := e.Value(ctx, Request{Contract: c, Methods: []Method{MethodLattice}})
	require.NoError(t, err)
	assert.Equal(t, explicit.Prices, omitted.Prices)

	c.Compounding = 9
	_, err = e.Value(ctx, Request{Contract: c, Methods: []Method{MethodLattice}})
	assert.True(t, errors.Is(err, lattice.ErrUnknownCompounding), "got %v", err)
}

func TestEngine_Errors(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Value(ctx, Request{Contract: Contract{Spot: 100, Strike: 100, Volatility: 0.2, Maturity: 1}})
	assert.True(t, errors.Is(err, ErrEmptySymbol))

	c := atmContract("binary")
	_, err = e.Value(ctx, Request{Contract: c})
	assert.True(t, errors.Is(err, option.ErrUnknownKind))

	_, err = e.Value(ctx, Request{Contract: atmContract(option.Call), Methods: []Method{"fourier"}})
	assert.True(t, errors.Is(err, ErrUnknownMethod))

	// 零波动率：闭式解拒绝，二叉树退化
	c = atmContract(option.Call)
	c.Volatility = 0
	_, err = e.Value(ctx, Request{Contract: c, Methods: []Method{MethodClosedForm}})
	assert.True(t, errors.Is(err, options.ErrInvalidInputs))
	_, err = e.Value(ctx, Request{Contract: c, Methods: []Method{MethodLattice}})
	assert.True(t, errors.Is(err, lattice.ErrDegenerate))

	// 负的标的价格：所有方法都报错
	c = atmContract(option.Put)
	c.Spot = -1
	_, err = e.Value(ctx, Request{Contract: c})
	assert.True(t, errors.Is(err, montecarlo.ErrInvalidInput))
	assert.True(t, errors.Is(err, lattice.ErrConstruction))
	assert.True(t, errors.Is(err, options.ErrInvalidInputs))
}

func TestEngine_NonFiniteResult(t *testing.T) {
	e := newTestEngine(t)

	// 路径漂移过大，终点价格溢出为 +Inf
	drift := 1000.0
	c := atmContract(option.Call)
	c.Drift = &drift

	var (
		report *Report
		err    error
	)
	require.NotPanics(t, func() {
		report, err = e.Value(context.Background(), Request{Contract: c, Methods: []Method{MethodMonteCarlo}})
	})
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, errors.Is(err, montecarlo.ErrNonFiniteResult), "got %v", err)
	assert.True(t, errors.Is(err, montecarlo.ErrInvalidInput))

	// 其他方法不受漂移影响
	report, err = e.Value(context.Background(), Request{Contract: c, Methods: []Method{MethodClosedForm, MethodLattice}})
	require.NoError(t, err)
	assert.Len(t, report.Prices, 2)
}

func TestMethodResult_Finite(t *testing.T) {
	inf := math.Inf(1)
	tests := []struct {
		name string
		res  methodResult
		want bool
	}{
		{"finite", methodResult{price: 10.45, stdErr: 0.1}, true},
		{"NaN price", methodResult{price: math.NaN()}, false},
		{"infinite price", methodResult{price: inf}, false},
		{"negative infinite price", methodResult{price: -inf}, false},
		{"NaN stderr", methodResult{price: 1, stdErr: math.NaN()}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.finite())
		})
	}
}

func TestEngine_CanceledContext(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Value(ctx, Request{Contract: atmContract(option.Call)})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.LatticeSteps = 0
	_, err := NewEngine(cfg)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	cfg = testConfig()
	cfg.MonteCarlo.PathCount = 0
	_, err = NewEngine(cfg)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.True(t, errors.Is(err, montecarlo.ErrInvalidPaths))

	cfg = DefaultConfig()
	assert.Equal(t, 200, cfg.LatticeSteps)
	assert.Equal(t, 10000, cfg.MonteCarlo.PathCount)
}

func TestReport_KafkaMessage(t *testing.T) {
	e := newTestEngine(t)
	report, err := e.Value(context.Background(), Request{Contract: atmContract(option.Call), Methods: []Method{MethodClosedForm}})
	require.NoError(t, err)

	assert.Equal(t, TopicValuationReports, report.Topic())
	assert.Equal(t, "BTC-C-100", report.Key())

	data, err := report.Value()
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.RunID, decoded.RunID)
	assert.Equal(t, "10.4506", decoded.Prices[MethodClosedForm].String())
}

func TestRequest_Key(t *testing.T) {
	a, err := Request{Contract: atmContract(option.Call)}.Key()
	require.NoError(t, err)
	b, err := Request{Contract: atmContract(option.Call), Methods: AllMethods}.Key()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// 显式 drift 等于 rate 时与默认一致
	c := atmContract(option.Call)
	drift := 0.05
	c.Drift = &drift
	assert.Equal(t, atmContract(option.Call).Fingerprint(), c.Fingerprint())

	c.Strike = 101
	assert.NotEqual(t, atmContract(option.Call).Fingerprint(), c.Fingerprint())

	_, err = Request{Contract: c, Methods: []Method{"x"}}.Key()
	assert.True(t, errors.Is(err, ErrUnknownMethod))
}

func TestParseMethod(t *testing.T) {
	for in, want := range map[string]Method{"lattice": MethodLattice, "MC": MethodMonteCarlo, "bsm": MethodClosedForm} {
		got, err := ParseMethod(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMethod("fft")
	assert.True(t, errors.Is(err, ErrUnknownMethod))
}

func TestNextRunID_Unique(t *testing.T) {
	require.NoError(t, InitIDGenerator(1))

	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		id := NextRunID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
