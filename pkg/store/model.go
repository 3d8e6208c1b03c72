// 文件: pkg/store/model.go
// 估值台账模型：每次估值、每种方法一行

package store

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"pricer.com/pkg/option"
	"pricer.com/pkg/valuation"
)

// ValuationRecord 估值记录
type ValuationRecord struct {
	ID     uint   `gorm:"primaryKey;autoIncrement"`
	RunID  int64  `gorm:"column:run_id;uniqueIndex:uk_run_method;not null"` // 雪花ID
	Method string `gorm:"column:method;type:varchar(16);uniqueIndex:uk_run_method;not null"`

	Symbol string      `gorm:"column:symbol;type:varchar(64);index:idx_symbol_created;not null"`
	Kind   option.Kind `gorm:"column:kind;type:varchar(8);not null"`

	// 合约参数
	Spot       float64 `gorm:"column:spot"`
	Strike     float64 `gorm:"column:strike"`
	Rate       float64 `gorm:"column:rate"`
	Volatility float64 `gorm:"column:volatility"`
	Maturity   float64 `gorm:"column:maturity"`

	// 结果
	Price     decimal.Decimal `gorm:"column:price;type:decimal(24,8)"`
	StdErr    decimal.Decimal `gorm:"column:std_err;type:decimal(24,8)"`    // 仅蒙特卡洛
	MaxSpread decimal.Decimal `gorm:"column:max_spread;type:decimal(24,8)"` // 本次估值各方法之间的最大价差

	CreatedAt time.Time `gorm:"column:created_at;index:idx_symbol_created"`
}

func (ValuationRecord) TableName() string {
	return "valuation_records"
}

// RecordsFromReport 把一份报告拆成每种方法一行，按方法名排序
func RecordsFromReport(r *valuation.Report) []*ValuationRecord {
	methods := make([]string, 0, len(r.Prices))
	for m := range r.Prices {
		methods = append(methods, string(m))
	}
	sort.Strings(methods)

	records := make([]*ValuationRecord, 0, len(methods))
	for _, m := range methods {
		method := valuation.Method(m)
		rec := &ValuationRecord{
			RunID:      r.RunID,
			Method:     m,
			Symbol:     r.Symbol,
			Kind:       r.Kind,
			Spot:       r.Contract.Spot,
			Strike:     r.Contract.Strike,
			Rate:       r.Contract.Rate,
			Volatility: r.Contract.Volatility,
			Maturity:   r.Contract.Maturity,
			Price:      r.Prices[method],
			StdErr:     decimal.Zero,
			MaxSpread:  r.MaxSpread,
			CreatedAt:  r.CreatedAt,
		}
		if method == valuation.MethodMonteCarlo {
			rec.StdErr = r.StdErr
		}
		records = append(records, rec)
	}
	return records
}
