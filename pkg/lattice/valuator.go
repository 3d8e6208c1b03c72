// 文件: pkg/lattice/valuator.go
// 二叉树定价 - 倒推 + 无套利复制
//
// 【核心思路】
// 对任一内部节点，构造一个"持有 amount 股标的 + 卖出 1 份期权"的组合，
// 使它在上涨 / 下跌两种状态下价值相同（无风险组合）:
//
//	amount * Su - Cu = amount * Sd - Cd
//	=> amount = (Cu - Cd) / (Su - Sd)
//
// 无风险组合只能赚无风险利率，把到期价值 V 贴现回来:
//
//	PV = V / (1 + r)          离散复利
//	PV = V * e^(-r*T)         连续复利
//
// 于是当前期权价值 = 买股票的钱 - 组合现值:
//
//	C = amount * S - PV

package lattice

import (
	"fmt"
	"log"
	"math"

	"github.com/sourcegraph/conc"
)

// =============================================================================
// Replication 单个节点的复制组合
// =============================================================================

// Replication 复制组合的中间量（诊断用，不属于定价结果的一部分）
type Replication struct {
	Amount        float64 // 持股数量 (hedge ratio / delta)
	PortfolioUp   float64 // amount * Su - Cu
	PortfolioDown float64 // amount * Sd - Cd，理论上与 PortfolioUp 相等
	PresentValue  float64 // 组合贴现值
	Value         float64 // 期权在本节点的价值
}

// Replicate 根据两个子节点的期权价值，计算本节点的复制组合
func Replicate(n *Node, callUp, callDown float64) (Replication, error) {
	if n == nil {
		return Replication{}, ErrNilNode
	}
	if n.IsLeaf() {
		return Replication{}, fmt.Errorf("node %q: leaf has no replicating portfolio: %w", n.name, ErrDegenerate)
	}

	spread := n.up.stock - n.down.stock
	if spread == 0 {
		return Replication{}, fmt.Errorf("node %q: %w (stock=%v)", n.name, ErrEqualChildStock, n.up.stock)
	}

	amount := (callUp - callDown) / spread
	v := amount*n.up.stock - callUp
	pv := n.discount(v)

	r := Replication{
		Amount:        amount,
		PortfolioUp:   v,
		PortfolioDown: amount*n.down.stock - callDown,
		PresentValue:  pv,
		Value:         amount*n.stock - pv,
	}

	if !isFinite(r.Amount) || !isFinite(r.PortfolioUp) || !isFinite(r.PresentValue) || !isFinite(r.Value) {
		return Replication{}, fmt.Errorf("node %q: %w", n.name, ErrNonFinite)
	}
	return r, nil
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// =============================================================================
// Observer 诊断钩子
// =============================================================================

// Observer 定价过程观察者
//
// 并行定价时回调可能来自多个 Goroutine，实现方自行保证并发安全
type Observer interface {
	ObserveLeaf(n *Node, value float64)
	ObserveNode(n *Node, r Replication)
}

// LogObserver 把每一步打到日志里
type LogObserver struct {
	Logger *log.Logger // nil 时使用 log.Default()
}

func (o LogObserver) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

func (o LogObserver) ObserveLeaf(n *Node, value float64) {
	o.logger().Printf("[Lattice] %s: leaf, option value %v", n.name, value)
}

func (o LogObserver) ObserveNode(n *Node, r Replication) {
	o.logger().Printf("[Lattice] %s: amount=%v V=%v PV=%v value=%v",
		n.name, r.Amount, r.PortfolioUp, r.PresentValue, r.Value)
}

// =============================================================================
// Valuator
// =============================================================================

// Valuator 二叉树定价器
//
// 定价器本身无状态，可被多个 Goroutine 共用
type Valuator struct {
	// parallelDepth: 深度小于该值的节点，两个子树并发计算 (fork-join)
	// 0 表示完全顺序
	parallelDepth int
	observer      Observer
}

// Option 定价器选项
type Option func(*Valuator)

// WithParallel 对前 depth 层启用子树并发
func WithParallel(depth int) Option {
	return func(v *Valuator) {
		if depth > 0 {
			v.parallelDepth = depth
		}
	}
}

// WithObserver 设置诊断观察者
func WithObserver(o Observer) Option {
	return func(v *Valuator) {
		v.observer = o
	}
}

// NewValuator 创建定价器
func NewValuator(opts ...Option) *Valuator {
	v := &Valuator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var defaultValuator = NewValuator()

// Price 顺序定价，返回根节点时刻的期权价值
func Price(root *Node) (float64, error) {
	return defaultValuator.Price(root)
}

// Price 返回 root 所在时刻的期权公允价值
func (v *Valuator) Price(root *Node) (float64, error) {
	if root == nil {
		return 0, ErrNilNode
	}
	return v.price(root, 0)
}

func (v *Valuator) price(n *Node, depth int) (float64, error) {
	if n.IsLeaf() {
		value := n.intrinsic()
		if v.observer != nil {
			v.observer.ObserveLeaf(n, value)
		}
		return value, nil
	}

	var (
		callUp, callDown float64
		upErr, downErr   error
	)

	if depth < v.parallelDepth {
		// 两个子树互不共享可变状态，直接 fork-join
		var wg conc.WaitGroup
		wg.Go(func() {
			callUp, upErr = v.price(n.up, depth+1)
		})
		callDown, downErr = v.price(n.down, depth+1)
		wg.Wait()
	} else {
		callUp, upErr = v.price(n.up, depth+1)
		if upErr == nil {
			callDown, downErr = v.price(n.down, depth+1)
		}
	}

	if upErr != nil {
		return 0, upErr
	}
	if downErr != nil {
		return 0, downErr
	}

	r, err := Replicate(n, callUp, callDown)
	if err != nil {
		return 0, err
	}
	if v.observer != nil {
		v.observer.ObserveNode(n, r)
	}
	return r.Value, nil
}

// =============================================================================
// MemoValuator 重组树（DAG）定价
// =============================================================================

// MemoValuator 按节点身份缓存子树价值
//
// 重组树里同一个节点会被多个父节点引用，普通递归会重复计算；
// 这里每个节点只算一次。单次 Price 调用内有效，不跨调用共享。
type MemoValuator struct {
	Observer Observer
}

// Price 返回 root 所在时刻的期权公允价值
func (m *MemoValuator) Price(root *Node) (float64, error) {
	if root == nil {
		return 0, ErrNilNode
	}
	memo := make(map[*Node]float64)
	return m.price(root, memo)
}

func (m *MemoValuator) price(n *Node, memo map[*Node]float64) (float64, error) {
	if value, ok := memo[n]; ok {
		return value, nil
	}

	if n.IsLeaf() {
		value := n.intrinsic()
		if m.Observer != nil {
			m.Observer.ObserveLeaf(n, value)
		}
		memo[n] = value
		return value, nil
	}

	callUp, err := m.price(n.up, memo)
	if err != nil {
		return 0, err
	}
	callDown, err := m.price(n.down, memo)
	if err != nil {
		return 0, err
	}

	r, err := Replicate(n, callUp, callDown)
	if err != nil {
		return 0, err
	}
	if m.Observer != nil {
		m.Observer.ObserveNode(n, r)
	}
	memo[n] = r.Value
	return r.Value, nil
}
