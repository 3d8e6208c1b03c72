// 文件: pkg/option/kind.go
// 期权合约的公共词汇：看涨 / 看跌

package option

import (
	"errors"
	"math"
	"strings"
)

// Kind 期权方向
type Kind string

const (
	Call Kind = "call" // 看涨期权
	Put  Kind = "put"  // 看跌期权
)

// ErrUnknownKind 无法识别的期权方向
var ErrUnknownKind = errors.New("unknown option kind")

// ParseKind 解析期权方向，大小写不敏感
// 同时接受 "c" / "p" 这种交易所常见缩写
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c":
		return Call, nil
	case "put", "p":
		return Put, nil
	}
	return "", ErrUnknownKind
}

// Valid 是否为已知方向
func (k Kind) Valid() bool {
	return k == Call || k == Put
}

func (k Kind) String() string {
	return string(k)
}

// Payoff 到期内在价值
//
//	Call: max(S - K, 0)
//	Put:  max(K - S, 0)
//
// 未知方向返回 NaN，调用方应在构造阶段就拦截掉
func (k Kind) Payoff(spot, strike float64) float64 {
	switch k {
	case Call:
		return math.Max(spot-strike, 0)
	case Put:
		return math.Max(strike-spot, 0)
	}
	return math.NaN()
}
