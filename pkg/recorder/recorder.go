// 文件: pkg/recorder/recorder.go
// 估值台账写入器
//
// 消费 Kafka 报告流，写入 MySQL:
// - 批量写入提高吞吐
// - 幂等写入防止重复 (run_id + method 唯一)
// - 写入失败的批次保留到下一次刷新重试

package recorder

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"pricer.com/pkg/kafka"
	"pricer.com/pkg/store"
	"pricer.com/pkg/valuation"
)

// =============================================================================
// 配置
// =============================================================================

// Config 写入器配置
type Config struct {
	Brokers       []string      // Kafka brokers
	GroupID       string        // 消费者组
	BatchSize     int           // 批量大小（按记录行数）
	FlushInterval time.Duration // 刷新间隔
	MaxBuffered   int           // 写库持续失败时最多保留的记录数
}

// DefaultConfig 默认配置
func DefaultConfig(brokers []string) Config {
	return Config{
		Brokers:       brokers,
		GroupID:       "valuation_recorder",
		BatchSize:     300,
		FlushInterval: 500 * time.Millisecond,
		MaxBuffered:   100000,
	}
}

// Stats 写入统计
type Stats struct {
	ReceivedCount int64 // 接收的报告数
	WrittenCount  int64 // 写入的记录数
	ErrorCount    int64 // 错误数
	BatchCount    int64 // 批次数
	DroppedCount  int64 // 因缓冲溢出丢弃的记录数
}

// =============================================================================
// Recorder
// =============================================================================

// Recorder 台账写入器
type Recorder struct {
	cfg      Config
	repo     store.Repository
	consumer *kafka.Consumer

	// 批量缓冲
	buffer   []*store.ValuationRecord
	bufferMu sync.Mutex
	flushCh  chan struct{}

	// 统计
	received atomic.Int64
	written  atomic.Int64
	errors   atomic.Int64
	batches  atomic.Int64
	dropped  atomic.Int64

	// 生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建写入器，订阅 valuation.TopicValuationReports
func New(cfg Config, repo store.Repository) (*Recorder, error) {
	r := newRecorder(cfg, repo)

	consumerCfg := kafka.DefaultConsumerConfig(
		cfg.Brokers,
		cfg.GroupID,
		[]string{valuation.TopicValuationReports},
	)

	consumer, err := kafka.NewConsumer(consumerCfg, kafka.JSONHandler(r.Record))
	if err != nil {
		r.cancel()
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	r.consumer = consumer

	return r, nil
}

func newRecorder(cfg Config, repo store.Repository) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 300
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.MaxBuffered < cfg.BatchSize {
		cfg.MaxBuffered = cfg.BatchSize * 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Recorder{
		cfg:     cfg,
		repo:    repo,
		buffer:  make([]*store.ValuationRecord, 0, cfg.BatchSize),
		flushCh: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// =============================================================================
// 消息处理
// =============================================================================

// Record 缓冲一份报告，满一批时通知刷新
func (r *Recorder) Record(report *valuation.Report) error {
	if report.RunID == 0 || report.Symbol == "" {
		r.errors.Add(1)
		return fmt.Errorf("invalid report: run_id=%d symbol=%q", report.RunID, report.Symbol)
	}
	r.received.Add(1)

	recs := store.RecordsFromReport(report)

	r.bufferMu.Lock()
	r.buffer = append(r.buffer, recs...)
	shouldFlush := len(r.buffer) >= r.cfg.BatchSize
	r.bufferMu.Unlock()

	if shouldFlush {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// =============================================================================
// 批量写入
// =============================================================================

// flush 刷新缓冲写入数据库
func (r *Recorder) flush() {
	r.bufferMu.Lock()
	recs := r.buffer
	r.buffer = make([]*store.ValuationRecord, 0, r.cfg.BatchSize)
	r.bufferMu.Unlock()

	if len(recs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.repo.BatchSave(ctx, recs); err != nil {
		r.errors.Add(1)
		log.Printf("[Recorder] batch insert error: records=%d, err=%v", len(recs), err)
		r.requeue(recs)
		return
	}

	r.written.Add(int64(len(recs)))
	r.batches.Add(1)
}

// requeue 把失败的批次放回缓冲头部，超出上限的部分丢弃最旧的
func (r *Recorder) requeue(recs []*store.ValuationRecord) {
	r.bufferMu.Lock()
	defer r.bufferMu.Unlock()

	merged := append(recs, r.buffer...)
	if over := len(merged) - r.cfg.MaxBuffered; over > 0 {
		r.dropped.Add(int64(over))
		log.Printf("[Recorder] buffer full, dropped %d records", over)
		merged = merged[over:]
	}
	r.buffer = merged
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动写入器
func (r *Recorder) Start() {
	if r.consumer != nil {
		r.consumer.Start()
	}

	// 启动定时刷新
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				r.flush() // 最后刷新一次
				return
			case <-ticker.C:
				r.flush()
			case <-r.flushCh:
				r.flush()
			}
		}
	}()
	log.Printf("[Recorder] Started: group=%s, batch=%d", r.cfg.GroupID, r.cfg.BatchSize)
}

// Stop 停止写入器，先停消费再做最后一次刷新
func (r *Recorder) Stop() error {
	var err error
	if r.consumer != nil {
		err = r.consumer.Stop()
	}
	r.cancel()
	r.wg.Wait()
	log.Printf("[Recorder] Stopped: %+v", r.Stats())
	return err
}

// Stats 获取统计
func (r *Recorder) Stats() Stats {
	return Stats{
		ReceivedCount: r.received.Load(),
		WrittenCount:  r.written.Load(),
		ErrorCount:    r.errors.Load(),
		BatchCount:    r.batches.Load(),
		DroppedCount:  r.dropped.Load(),
	}
}
