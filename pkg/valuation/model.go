// 文件: pkg/valuation/model.go
// 估值请求 / 报告模型

package valuation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricer.com/pkg/lattice"
	"pricer.com/pkg/option"
)

// TopicValuationReports 估值报告的 Kafka topic
const TopicValuationReports = "valuation_reports"

var (
	ErrUnknownMethod = errors.New("unknown valuation method")
	ErrEmptySymbol   = errors.New("contract symbol is required")

	// ErrNonFinitePrice 估值器返回 NaN 或 ±Inf，无法转换为 decimal
	ErrNonFinitePrice = errors.New("valuation produced a non-finite price")
)

// =============================================================================
// 估值方法
// =============================================================================

type Method string

const (
	MethodLattice    Method = "lattice"    // 重组二叉树
	MethodMonteCarlo Method = "montecarlo" // 蒙特卡洛
	MethodClosedForm Method = "closedform" // Black-Scholes-Merton 闭式解
)

// AllMethods 全部估值方法，按固定顺序
var AllMethods = []Method{MethodLattice, MethodMonteCarlo, MethodClosedForm}

// ParseMethod 解析估值方法
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lattice", "binomial":
		return MethodLattice, nil
	case "montecarlo", "mc":
		return MethodMonteCarlo, nil
	case "closedform", "bsm", "bs":
		return MethodClosedForm, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

func (m Method) Valid() bool {
	return m == MethodLattice || m == MethodMonteCarlo || m == MethodClosedForm
}

// =============================================================================
// Contract - 欧式期权合约及市场参数
// =============================================================================

type Contract struct {
	Symbol     string      `json:"symbol"`
	Kind       option.Kind `json:"kind"`
	Spot       float64     `json:"spot"`       // 标的现价
	Strike     float64     `json:"strike"`     // 执行价
	Rate       float64     `json:"rate"`       // 无风险利率（年化）
	Volatility float64     `json:"volatility"` // 年化波动率
	Maturity   float64     `json:"maturity"`   // 剩余期限（年）

	// Drift 蒙特卡洛路径漂移率，nil 时取 Rate（风险中性）
	Drift *float64 `json:"drift,omitempty"`

	// Compounding 二叉树贴现方式，请求中省略时按连续复利处理，
	// 非零的未知取值交给二叉树构造时拒绝
	Compounding lattice.Compounding `json:"compounding,omitempty"`
}

func (c Contract) kind() option.Kind {
	if c.Kind == "" {
		return option.Call
	}
	return c.Kind
}

func (c Contract) drift() float64 {
	if c.Drift == nil {
		return c.Rate
	}
	return *c.Drift
}

func (c Contract) compounding() lattice.Compounding {
	if c.Compounding == 0 {
		return lattice.CompoundContinuous
	}
	return c.Compounding
}

// Fingerprint 合约参数的稳定标识，参数完全相同的合约得到相同结果
func (c Contract) Fingerprint() string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return strings.Join([]string{
		c.Symbol, string(c.kind()), f(c.Spot), f(c.Strike), f(c.Rate),
		f(c.Volatility), f(c.Maturity), f(c.drift()), c.compounding().String(),
	}, "|")
}

// Request 估值请求
type Request struct {
	Contract Contract `json:"contract"`
	Methods  []Method `json:"methods,omitempty"` // 为空时使用全部方法
}

// methods 去重后的估值方法
func (r Request) methods() ([]Method, error) {
	if len(r.Methods) == 0 {
		return AllMethods, nil
	}
	seen := make(map[Method]bool, len(r.Methods))
	out := make([]Method, 0, len(r.Methods))
	for _, m := range r.Methods {
		if !m.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, m)
		}
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

// Key 缓存 key，包含方法集合
func (r Request) Key() (string, error) {
	methods, err := r.methods()
	if err != nil {
		return "", err
	}
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = string(m)
	}
	return r.Contract.Fingerprint() + "|" + strings.Join(names, ","), nil
}

// =============================================================================
// Report - 估值报告
// =============================================================================

type Report struct {
	RunID    int64       `json:"run_id,string"`
	Symbol   string      `json:"symbol"`
	Kind     option.Kind `json:"kind"`
	Contract Contract    `json:"contract"`

	// 各方法的价格，按 Precision 位小数舍入
	Prices map[Method]decimal.Decimal `json:"prices"`

	// 蒙特卡洛估计的标准误差
	StdErr decimal.Decimal `json:"std_err"`

	// 不同方法之间的最大价差
	MaxSpread decimal.Decimal `json:"max_spread"`

	CreatedAt time.Time `json:"created_at"`

	// Cached 报告来自缓存，RunID 沿用首次估值，不再重复广播
	Cached bool `json:"cached,omitempty"`
}

// Topic 实现 kafka.Message
func (r *Report) Topic() string { return TopicValuationReports }

// Key 同一合约的报告进入同一分区
func (r *Report) Key() string { return r.Symbol }

// Value JSON 编码
func (r *Report) Value() ([]byte, error) { return json.Marshal(r) }

// Price 取某个方法的价格
func (r *Report) Price(m Method) (decimal.Decimal, bool) {
	p, ok := r.Prices[m]
	return p, ok
}
