// 文件: pkg/lattice/node.go
// 二叉树定价模型 - 节点
//
// 一棵二叉树由节点组成：
// - 叶子节点：到期时刻，期权价值 = 内在价值
// - 内部节点：价值由两个子节点通过"无套利复制"推导出来
//
// 节点一经构造不可修改，必须自底向上（先叶子，后父节点）构建。

package lattice

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"pricer.com/pkg/option"
)

// =============================================================================
// 复利方式
// =============================================================================

// Compounding 贴现方式
type Compounding int8

const (
	// CompoundDiscrete 离散复利: PV = V / (1 + r)
	CompoundDiscrete Compounding = iota + 1
	// CompoundContinuous 连续复利: PV = V * e^(-r*T)
	CompoundContinuous
)

func (c Compounding) String() string {
	switch c {
	case CompoundDiscrete:
		return "discrete"
	case CompoundContinuous:
		return "continuous"
	}
	return "unknown"
}

// Valid 是否为已知的贴现方式
func (c Compounding) Valid() bool {
	return c == CompoundDiscrete || c == CompoundContinuous
}

// ParseCompounding 解析贴现方式
// 兼容老数据里的 "discretely" / "continously" 写法
func ParseCompounding(s string) (Compounding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "discrete", "discretely":
		return CompoundDiscrete, nil
	case "continuous", "continuously", "continously":
		return CompoundContinuous, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCompounding, s)
}

// =============================================================================
// 错误定义
// =============================================================================

var (
	// ErrConstruction 构造期错误（在定价之前就必须失败）
	ErrConstruction = errors.New("lattice: invalid node")

	ErrMismatchedChildren = fmt.Errorf("%w: up and down children must both be set or both be nil", ErrConstruction)
	ErrRateOutOfRange     = fmt.Errorf("%w: discount rate must be in [0, 1)", ErrConstruction)
	ErrUnknownCompounding = fmt.Errorf("%w: unknown compounding mode", ErrConstruction)
	ErrInvalidStock       = fmt.Errorf("%w: stock value must be positive", ErrConstruction)
	ErrInvalidStrike      = fmt.Errorf("%w: strike price must be positive", ErrConstruction)
	ErrInvalidMaturity    = fmt.Errorf("%w: time to maturity must be positive for continuous compounding", ErrConstruction)
	ErrUnknownKind        = fmt.Errorf("%w: %w", ErrConstruction, option.ErrUnknownKind)

	// ErrDegenerate 定价期错误：树的形状导致复制组合无解
	ErrDegenerate = errors.New("lattice: degenerate node")

	ErrEqualChildStock = fmt.Errorf("%w: up and down stock values are equal", ErrDegenerate)
	ErrNonFinite       = fmt.Errorf("%w: non-finite intermediate value", ErrDegenerate)

	// ErrNilNode 对空节点定价
	ErrNilNode = errors.New("lattice: nil node")
)

// =============================================================================
// NodeParams 构造参数
// =============================================================================

// NodeParams 节点的标量参数
//
// Compounding 必须显式给出，0 视为未知贴现方式，构造失败。
// Kind 为空时按看涨期权处理。
type NodeParams struct {
	Name           string      // 诊断用名字，如 "A" / "B"
	StockValue     float64     // 该节点的标的价格
	StrikePrice    float64     // 执行价（整棵树通常相同）
	DiscountRate   float64     // 贴现率 [0, 1)
	Compounding    Compounding // 贴现方式
	TimeToMaturity float64     // 仅连续复利时使用
	Kind           option.Kind // 看涨 / 看跌
}

// =============================================================================
// Node
// =============================================================================

// Node 二叉树节点
//
// 节点独占自己的两个子节点；同一个子节点指针也可以被两个父节点引用
// （重组树里"中间价位"被两条路径到达的情况），因为定价是纯函数，
// 共享与复制一份在数值上没有区别。
type Node struct {
	name        string
	stock       float64
	strike      float64
	rate        float64
	maturity    float64
	compounding Compounding
	kind        option.Kind

	up   *Node
	down *Node
}

// NewLeaf 创建叶子节点（到期时刻）
func NewLeaf(p NodeParams) (*Node, error) {
	return NewNode(p, nil, nil)
}

// NewNode 创建节点
//
// up / down 要么都为 nil（叶子），要么都不为 nil（内部节点），
// 只给一个子节点属于构造错误。
func NewNode(p NodeParams, up, down *Node) (*Node, error) {
	if (up == nil) != (down == nil) {
		return nil, fmt.Errorf("node %q: %w", p.Name, ErrMismatchedChildren)
	}

	if p.Kind == "" {
		p.Kind = option.Call
	}

	if err := validateParams(p); err != nil {
		return nil, fmt.Errorf("node %q: %w", p.Name, err)
	}

	return &Node{
		name:        p.Name,
		stock:       p.StockValue,
		strike:      p.StrikePrice,
		rate:        p.DiscountRate,
		maturity:    p.TimeToMaturity,
		compounding: p.Compounding,
		kind:        p.Kind,
		up:          up,
		down:        down,
	}, nil
}

func validateParams(p NodeParams) error {
	if !(p.StockValue > 0) || math.IsInf(p.StockValue, 0) {
		return fmt.Errorf("%w (got %v)", ErrInvalidStock, p.StockValue)
	}
	if !(p.StrikePrice > 0) || math.IsInf(p.StrikePrice, 0) {
		return fmt.Errorf("%w (got %v)", ErrInvalidStrike, p.StrikePrice)
	}
	// NaN 也会落在这里
	if !(p.DiscountRate >= 0 && p.DiscountRate < 1) {
		return fmt.Errorf("%w (got %v)", ErrRateOutOfRange, p.DiscountRate)
	}
	if !p.Compounding.Valid() {
		return fmt.Errorf("%w (got %d)", ErrUnknownCompounding, p.Compounding)
	}
	if p.Compounding == CompoundContinuous && (!(p.TimeToMaturity > 0) || math.IsInf(p.TimeToMaturity, 0)) {
		return fmt.Errorf("%w (got %v)", ErrInvalidMaturity, p.TimeToMaturity)
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("%w (got %q)", ErrUnknownKind, p.Kind)
	}
	return nil
}

// =============================================================================
// 只读访问
// =============================================================================

func (n *Node) Name() string             { return n.name }
func (n *Node) StockValue() float64      { return n.stock }
func (n *Node) StrikePrice() float64     { return n.strike }
func (n *Node) DiscountRate() float64    { return n.rate }
func (n *Node) TimeToMaturity() float64  { return n.maturity }
func (n *Node) Compounding() Compounding { return n.compounding }
func (n *Node) Kind() option.Kind        { return n.kind }
func (n *Node) Up() *Node                { return n.up }
func (n *Node) Down() *Node              { return n.down }

// IsLeaf 是否为叶子节点
func (n *Node) IsLeaf() bool {
	return n.up == nil
}

// intrinsic 叶子节点的内在价值
func (n *Node) intrinsic() float64 {
	return n.kind.Payoff(n.stock, n.strike)
}

// discount 按本节点的贴现率和贴现方式，把一期后的价值折回现值
func (n *Node) discount(v float64) float64 {
	if n.compounding == CompoundContinuous {
		return v * math.Exp(-n.rate*n.maturity)
	}
	return v / (1 + n.rate)
}
