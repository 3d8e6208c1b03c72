package options

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// 错误信息，针对无效输入
	ErrInvalidInputs = errors.New("invalid inputs")

	ErrNonPositivePrice      = fmt.Errorf("%w: asset and strike price must be positive", ErrInvalidInputs)
	ErrNonPositiveTime       = fmt.Errorf("%w: time to expiration must be positive", ErrInvalidInputs)
	ErrNonPositiveVolatility = fmt.Errorf("%w: volatility must be positive", ErrInvalidInputs)

	ErrNotConverged = errors.New("failed to converge to implied volatility")
)

/*
Black-Scholes-Merton 欧式期权闭式解（无分红）:

	d1 = [ln(S/K) + (r + sigma^2/2) * T] / (sigma * sqrt(T))
	d2 = d1 - sigma * sqrt(T)

	Call = S * N(d1) - K * e^(-rT) * N(d2)
	Put  = K * e^(-rT) * N(-d2) - S * N(-d1)

N 是标准正态分布的累计分布函数，必须是精确的 CDF，不能用随机抽样代替。

Greeks 是衡量期权价格对不同市场因素敏感度的指标:

Delta: 期权价格相对于标的资产价格变动的敏感度。

Gamma: Delta 对标的资产价格的敏感度。

Vega: 期权价格相对于波动率变动的敏感度。

Theta: 期权价格相对于时间流逝的敏感度。

Rho: 期权价格相对于无风险利率的敏感度。
*/

// Price 计算欧式期权的 Black-Scholes 价格
// assetPrice: 当前标的资产价格
// strikePrice: 执行价
// timeToExpiration: 剩余到期时间（年）
// riskFreeRate: 无风险利率（连续复利）
// volatility: 年化波动率
// isCall: true 为看涨，false 为看跌
func Price(assetPrice, strikePrice, timeToExpiration, riskFreeRate, volatility float64, isCall bool) (float64, error) {
	if isCall {
		return PriceCallBS(assetPrice, strikePrice, riskFreeRate, volatility, timeToExpiration)
	}
	return PricePutBS(assetPrice, strikePrice, riskFreeRate, volatility, timeToExpiration)
}

// PriceCallBS 计算欧式看涨期权（Call）的 Black-Scholes 价格
// 参数顺序: S, K, r, sigma, T
func PriceCallBS(S, K, r, sigma, T float64) (float64, error) {
	if err := validateBSInputs(S, K, sigma, T); err != nil {
		return 0, err
	}

	d1, d2 := calcD1D2(S, K, r, sigma, T)
	return S*normCDF(d1) - K*math.Exp(-r*T)*normCDF(d2), nil
}

// PricePutBS 计算欧式看跌期权（Put）的 Black-Scholes 价格
func PricePutBS(S, K, r, sigma, T float64) (float64, error) {
	if err := validateBSInputs(S, K, sigma, T); err != nil {
		return 0, err
	}

	d1, d2 := calcD1D2(S, K, r, sigma, T)
	return K*math.Exp(-r*T)*normCDF(-d2) - S*normCDF(-d1), nil
}

// =============================================================================
// Greeks
// =============================================================================

// Greeks 一次性计算的全部敏感度
type Greeks struct {
	Delta float64
	Gamma float64
	Vega  float64
	Theta float64 // 按年
	Rho   float64
}

// ComputeGreeks 计算看涨 / 看跌期权的全部 Greeks
func ComputeGreeks(S, K, r, sigma, T float64, isCall bool) (Greeks, error) {
	if err := validateBSInputs(S, K, sigma, T); err != nil {
		return Greeks{}, err
	}

	d1, d2 := calcD1D2(S, K, r, sigma, T)
	sqrtT := math.Sqrt(T)
	disc := math.Exp(-r * T)

	g := Greeks{
		Gamma: normPDF(d1) / (S * sigma * sqrtT),
		Vega:  S * sqrtT * normPDF(d1),
	}
	if isCall {
		g.Delta = normCDF(d1)
		g.Theta = -S*normPDF(d1)*sigma/(2*sqrtT) - r*K*disc*normCDF(d2)
		g.Rho = K * T * disc * normCDF(d2)
	} else {
		g.Delta = normCDF(d1) - 1
		g.Theta = -S*normPDF(d1)*sigma/(2*sqrtT) + r*K*disc*normCDF(-d2)
		g.Rho = -K * T * disc * normCDF(-d2)
	}
	return g, nil
}

// DeltaCall 计算欧式看涨期权的 Delta
func DeltaCall(S, K, r, sigma, T float64) (float64, error) {
	g, err := ComputeGreeks(S, K, r, sigma, T, true)
	return g.Delta, err
}

// DeltaPut 计算欧式看跌期权的 Delta
func DeltaPut(S, K, r, sigma, T float64) (float64, error) {
	g, err := ComputeGreeks(S, K, r, sigma, T, false)
	return g.Delta, err
}

// Gamma 计算欧式期权的 Gamma（看涨看跌相同）
func Gamma(S, K, r, sigma, T float64) (float64, error) {
	g, err := ComputeGreeks(S, K, r, sigma, T, true)
	return g.Gamma, err
}

// Vega 计算欧式期权的 Vega（看涨看跌相同）
func Vega(S, K, r, sigma, T float64) (float64, error) {
	g, err := ComputeGreeks(S, K, r, sigma, T, true)
	return g.Vega, err
}

// ThetaCall 计算欧式看涨期权的 Theta
func ThetaCall(S, K, r, sigma, T float64) (float64, error) {
	g, err := ComputeGreeks(S, K, r, sigma, T, true)
	return g.Theta, err
}

// ThetaPut 计算欧式看跌期权的 Theta
func ThetaPut(S, K, r, sigma, T float64) (float64, error) {
	g, err := ComputeGreeks(S, K, r, sigma, T, false)
	return g.Theta, err
}

// RhoCall 计算欧式看涨期权的 Rho
func RhoCall(S, K, r, sigma, T float64) (float64, error) {
	g, err := ComputeGreeks(S, K, r, sigma, T, true)
	return g.Rho, err
}

// RhoPut 计算欧式看跌期权的 Rho
func RhoPut(S, K, r, sigma, T float64) (float64, error) {
	g, err := ComputeGreeks(S, K, r, sigma, T, false)
	return g.Rho, err
}

// =============================================================================
// 隐含波动率
// =============================================================================

// ImpliedVolatility 通过期权市场价格反推隐含波动率
//
// 先用牛顿法迭代；Vega 太小或者跳出区间时退回二分法，
// 保证在 [1e-6, 5] 区间内一定有结果或者明确报错。
func ImpliedVolatility(S, K, r, marketPrice, T float64, isCall bool) (float64, error) {
	if err := validateBSInputs(S, K, 0.2, T); err != nil {
		return 0, err
	}

	const (
		tolerance     = 1e-8
		maxIterations = 100
		volLow        = 1e-6
		volHigh       = 5.0
	)

	priceAt := func(sigma float64) float64 {
		p, _ := Price(S, K, T, r, sigma, isCall)
		return p
	}

	// 市场价不在 [价格(volLow), 价格(volHigh)] 区间内则无解
	lo, hi := volLow, volHigh
	if marketPrice < priceAt(lo)-tolerance || marketPrice > priceAt(hi)+tolerance {
		return 0, fmt.Errorf("%w: market price %v outside attainable range", ErrNotConverged, marketPrice)
	}

	// 初始猜测波动率，通常从 20% 开始
	sigma := 0.2
	for i := 0; i < maxIterations; i++ {
		priceError := priceAt(sigma) - marketPrice
		if math.Abs(priceError) < tolerance {
			return sigma, nil
		}

		// 收紧二分区间（价格关于 sigma 单调递增）
		if priceError > 0 {
			hi = sigma
		} else {
			lo = sigma
		}

		vega := S * math.Sqrt(T) * normPDF((math.Log(S/K)+(r+0.5*sigma*sigma)*T)/(sigma*math.Sqrt(T)))
		next := sigma - priceError/vega
		if vega < 1e-12 || next <= lo || next >= hi || math.IsNaN(next) {
			next = 0.5 * (lo + hi)
		}
		sigma = next
	}

	return 0, ErrNotConverged
}

// =============================================================================
// 情景分析
// =============================================================================

// ScenarioResult 单个情景下的看涨 / 看跌价格
type ScenarioResult struct {
	AssetPrice float64
	Volatility float64
	Call       float64
	Put        float64
}

// PriceScenarioAnalysis 模拟标的价格和波动率变动后的期权价格
// priceChange: 价格变化比例，例如 0.05 表示价格上升 5%，-0.05 表示下降 5%
// volChange: 波动率变化比例
func PriceScenarioAnalysis(S, K, r, sigma, T, priceChange, volChange float64) (ScenarioResult, error) {
	newPrice := S * (1 + priceChange)
	newSigma := sigma * (1 + volChange)

	call, err := PriceCallBS(newPrice, K, r, newSigma, T)
	if err != nil {
		return ScenarioResult{}, fmt.Errorf("call price for scenario (dS=%v, dVol=%v): %w", priceChange, volChange, err)
	}
	put, err := PricePutBS(newPrice, K, r, newSigma, T)
	if err != nil {
		return ScenarioResult{}, fmt.Errorf("put price for scenario (dS=%v, dVol=%v): %w", priceChange, volChange, err)
	}

	return ScenarioResult{AssetPrice: newPrice, Volatility: newSigma, Call: call, Put: put}, nil
}

// =============================================================================
// 内部工具
// =============================================================================

// validateBSInputs 检查 Black-Scholes 输入的有效性
// 在计算 d1/d2 之前拦截，避免除零和对非正数取对数
func validateBSInputs(S, K, sigma, T float64) error {
	// 当前标的价格和执行价必须大于零
	if !(S > 0) || !(K > 0) || math.IsInf(S, 0) || math.IsInf(K, 0) {
		return fmt.Errorf("%w (S=%v, K=%v)", ErrNonPositivePrice, S, K)
	}
	// 到期时间和波动率必须大于零
	if !(T > 0) || math.IsInf(T, 0) {
		return fmt.Errorf("%w (T=%v)", ErrNonPositiveTime, T)
	}
	if !(sigma > 0) || math.IsInf(sigma, 0) {
		return fmt.Errorf("%w (sigma=%v)", ErrNonPositiveVolatility, sigma)
	}
	return nil
}

// calcD1D2 计算 Black-Scholes 公式中的 d1 和 d2
func calcD1D2(S, K, r, sigma, T float64) (float64, float64) {
	sigmaSqrtT := sigma * math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / sigmaSqrtT
	return d1, d1 - sigmaSqrtT
}

// normCDF 标准正态分布的 CDF
func normCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// normPDF 标准正态分布的 PDF
func normPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}
