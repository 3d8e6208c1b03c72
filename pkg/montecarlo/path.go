// 文件: pkg/montecarlo/path.go
// 几何布朗运动 (GBM) 路径
//
//	dS = S * (mu*dt + sigma*dW)，dW = sqrt(dt) * Z，Z ~ N(0,1)
//	离散化（对数精确解）: S_next = S * exp((mu - 0.5*sigma^2)*dt + sigma*sqrt(dt)*Z)
//
// 乘法形式保证价格不会变成负数。
package montecarlo

import (
	"math"
	"math/rand/v2"
)

// SourceFactory 为第 path 条路径创建随机源
//
// 每条路径一个独立、确定的随机流，结果与 worker 数量和调度顺序无关。
type SourceFactory func(seed uint64, path int) rand.Source

// PCGSource 默认随机源：PCG(seed, path)
func PCGSource(seed uint64, path int) rand.Source {
	return rand.NewPCG(seed, uint64(path))
}

// gbmStep 预先算好的单步系数
type gbmStep struct {
	drift     float64 // (mu - 0.5*sigma^2) * dt
	diffusion float64 // sigma * sqrt(dt)
}

func newGBMStep(mu, sigma, t float64, steps int) gbmStep {
	dt := t / float64(steps)
	return gbmStep{
		drift:     (mu - 0.5*sigma*sigma) * dt,
		diffusion: sigma * math.Sqrt(dt),
	}
}

// next 走一步
func (g gbmStep) next(s float64, r *rand.Rand) float64 {
	z := r.NormFloat64()
	return s * math.Exp(g.drift+g.diffusion*z)
}

// terminal 只保留终点价格，不分配整条路径
func (g gbmStep) terminal(s0 float64, steps int, r *rand.Rand) float64 {
	s := s0
	for i := 0; i < steps; i++ {
		s = g.next(s, r)
	}
	return s
}

// GeneratePath 生成一条完整路径，长度 steps+1，path[0] = S0
//
// 与 Estimator 使用同样的随机流：同一 (seed, path) 下终点价格与估值时一致。
func GeneratePath(in Input, steps int, src rand.Source) ([]float64, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if steps <= 0 {
		return nil, ErrInvalidSteps
	}

	g := newGBMStep(in.Drift, in.Volatility, in.Maturity, steps)
	r := rand.New(src)

	path := make([]float64, steps+1)
	path[0] = in.Spot
	for i := 0; i < steps; i++ {
		path[i+1] = g.next(path[i], r)
	}
	return path, nil
}
