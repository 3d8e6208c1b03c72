// 文件: pkg/lattice/lattice.go
// 重组二叉树（recombining lattice）
//
// 标的每一期要么乘以 u（上涨），要么乘以 d（下跌）:
//
//	S_up   = S * u
//	S_down = S * d
//
// 先涨后跌与先跌后涨落在同一个价位，所以 n 期的树只有 (n+1)(n+2)/2 个节点，
// 节点被相邻两个父节点共享。未显式给出 u / d 时使用 CRR 参数:
//
//	u = e^(sigma * sqrt(dt))
//	d = 1 / u

package lattice

import (
	"fmt"
	"math"

	"pricer.com/pkg/option"
)

var (
	ErrInvalidSteps      = fmt.Errorf("%w: steps must be >= 1", ErrConstruction)
	ErrInvalidFactors    = fmt.Errorf("%w: up and down factors must both be positive", ErrConstruction)
	ErrInvalidVolatility = fmt.Errorf("%w: volatility must be non-negative", ErrConstruction)
)

// BinomialParams 重组树参数
type BinomialParams struct {
	Spot        float64     // 当前标的价格 S0
	Strike      float64     // 执行价 K
	Rate        float64     // 贴现率 [0, 1)：连续复利为年化，离散复利为每期
	Volatility  float64     // 年化波动率（未给 Up/Down 时使用）
	Maturity    float64     // 总期限（年），dt = Maturity / Steps
	Steps       int         // 期数
	Up          float64     // 可选：上涨因子
	Down        float64     // 可选：下跌因子
	Compounding Compounding // 必须显式给出
	Kind        option.Kind // 空按看涨处理
}

// factors 返回 (u, d)
func (p BinomialParams) factors() (float64, float64, error) {
	if p.Up == 0 && p.Down == 0 {
		if !(p.Volatility >= 0) || math.IsInf(p.Volatility, 0) {
			return 0, 0, fmt.Errorf("%w (got %v)", ErrInvalidVolatility, p.Volatility)
		}
		dt := p.Maturity / float64(p.Steps)
		u := math.Exp(p.Volatility * math.Sqrt(dt))
		return u, 1 / u, nil
	}
	if !(p.Up > 0) || !(p.Down > 0) || math.IsInf(p.Up, 0) || math.IsInf(p.Down, 0) {
		return 0, 0, fmt.Errorf("%w (up=%v, down=%v)", ErrInvalidFactors, p.Up, p.Down)
	}
	return p.Up, p.Down, nil
}

// Lattice 重组二叉树
//
// levels[i][j]: 第 i 期、累计下跌 j 次的节点，0 <= j <= i
type Lattice struct {
	steps  int
	levels [][]*Node
}

// BuildRecombining 自底向上构建重组树
func BuildRecombining(p BinomialParams) (*Lattice, error) {
	if p.Steps < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidSteps, p.Steps)
	}
	if !(p.Maturity > 0) || math.IsInf(p.Maturity, 0) {
		return nil, fmt.Errorf("%w (got %v)", ErrInvalidMaturity, p.Maturity)
	}

	u, d, err := p.factors()
	if err != nil {
		return nil, err
	}

	dt := p.Maturity / float64(p.Steps)
	levels := make([][]*Node, p.Steps+1)

	for i := p.Steps; i >= 0; i-- {
		levels[i] = make([]*Node, i+1)
		for j := 0; j <= i; j++ {
			params := NodeParams{
				Name:           fmt.Sprintf("S%d.%d", i, j),
				StockValue:     p.Spot * math.Pow(u, float64(i-j)) * math.Pow(d, float64(j)),
				StrikePrice:    p.Strike,
				DiscountRate:   p.Rate,
				Compounding:    p.Compounding,
				TimeToMaturity: dt,
				Kind:           p.Kind,
			}

			var up, down *Node
			if i < p.Steps {
				up, down = levels[i+1][j], levels[i+1][j+1]
			}

			n, err := NewNode(params, up, down)
			if err != nil {
				return nil, err
			}
			levels[i][j] = n
		}
	}

	return &Lattice{steps: p.Steps, levels: levels}, nil
}

// Root 根节点
func (l *Lattice) Root() *Node {
	return l.levels[0][0]
}

// Steps 期数
func (l *Lattice) Steps() int {
	return l.steps
}

// Node 返回第 i 期、下跌 j 次的节点
func (l *Lattice) Node(i, j int) (*Node, bool) {
	if i < 0 || i > l.steps || j < 0 || j > i {
		return nil, false
	}
	return l.levels[i][j], true
}

// NodeCount 节点总数
func (l *Lattice) NodeCount() int {
	return (l.steps + 1) * (l.steps + 2) / 2
}

// Price 逐层倒推定价（迭代版，不依赖递归深度）
func (l *Lattice) Price() (float64, error) {
	leaves := l.levels[l.steps]
	values := make([]float64, len(leaves))
	for j, n := range leaves {
		values[j] = n.intrinsic()
	}

	for i := l.steps - 1; i >= 0; i-- {
		for j, n := range l.levels[i] {
			r, err := Replicate(n, values[j], values[j+1])
			if err != nil {
				return 0, err
			}
			// values[j] 已经读过，可以原地覆盖
			values[j] = r.Value
		}
		values = values[:i+1]
	}
	return values[0], nil
}
