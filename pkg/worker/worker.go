// 文件: pkg/worker/worker.go
// 估值请求处理器
//
// 监听 NATS 估值请求 (队列订阅，多实例负载均衡):
// - 解码 valuation.Request，调用估值服务
// - 结果回复给请求方，同时广播到 NATS 结果主题
// - 报告写入 Kafka 报告流，由 recorder 落库

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"pricer.com/pkg/kafka"
	"pricer.com/pkg/nats"
	"pricer.com/pkg/valuation"
)

// ErrRemote 远端估值失败
var ErrRemote = errors.New("remote valuation failed")

// =============================================================================
// 配置
// =============================================================================

// Config 处理器配置
type Config struct {
	NATSURL string        // NATS 地址
	Queue   string        // 队列组名
	Timeout time.Duration // 单次估值超时
}

// DefaultConfig 默认配置
func DefaultConfig(natsURL string) Config {
	return Config{
		NATSURL: natsURL,
		Queue:   "pricer-workers",
		Timeout: 10 * time.Second,
	}
}

// Publisher 广播结果的最小接口，nats.Publisher 实现了它
type Publisher interface {
	Publish(subject string, data any) error
}

// Reply 回复给请求方的信封
type Reply struct {
	Report *valuation.Report `json:"report,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// Stats 处理统计
type Stats struct {
	ReceivedCount int64 // 收到的请求
	ValuedCount   int64 // 估值成功
	FailedCount   int64 // 解码或估值失败
	PublishErrors int64 // NATS 广播失败
	KafkaErrors   int64 // Kafka 发送失败
}

// =============================================================================
// Worker
// =============================================================================

// Worker 估值请求处理器
type Worker struct {
	cfg        Config
	valuer     valuation.Valuer
	publisher  Publisher    // 可为 nil，不广播
	sender     kafka.Sender // 可为 nil，不写报告流
	subscriber *nats.Subscriber

	received  atomic.Int64
	valued    atomic.Int64
	failed    atomic.Int64
	pubErrors atomic.Int64
	mqErrors  atomic.Int64
}

// New 创建处理器
func New(cfg Config, valuer valuation.Valuer, publisher Publisher, sender kafka.Sender) *Worker {
	if cfg.Queue == "" {
		cfg.Queue = "pricer-workers"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Worker{
		cfg:       cfg,
		valuer:    valuer,
		publisher: publisher,
		sender:    sender,
	}
}

// Start 连接 NATS 并订阅估值请求
func (w *Worker) Start() error {
	subscriber, err := nats.NewSubscriber(w.cfg.NATSURL, nil)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	if err := subscriber.SubscribeReply(nats.SubjectValuationRequests, w.cfg.Queue, w.handleRequest); err != nil {
		_ = subscriber.Close()
		return err
	}
	w.subscriber = subscriber
	log.Printf("[Worker] Started: subject=%s, queue=%s", nats.SubjectValuationRequests, w.cfg.Queue)
	return nil
}

// Stop 取消订阅并排空未处理的消息
func (w *Worker) Stop() error {
	if w.subscriber == nil {
		return nil
	}
	err := w.subscriber.Close()
	log.Printf("[Worker] Stopped: %+v", w.Stats())
	return err
}

// handleRequest 处理一条请求，总是返回一个可回复的信封
func (w *Worker) handleRequest(_ string, data []byte) ([]byte, error) {
	w.received.Add(1)

	report, err := w.value(data)
	if err != nil {
		w.failed.Add(1)
		reply, mErr := json.Marshal(Reply{Error: err.Error()})
		if mErr != nil {
			return nil, mErr
		}
		return reply, err
	}
	w.valued.Add(1)

	// 缓存命中的报告首次估值时已经广播过
	if !report.Cached {
		w.fanOut(report)
	}

	return json.Marshal(Reply{Report: report})
}

func (w *Worker) value(data []byte) (*valuation.Report, error) {
	req, err := nats.UnmarshalJSON[valuation.Request](data)
	if err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	return w.valuer.Value(ctx, *req)
}

// fanOut 广播结果并写入报告流，失败只计数和记录日志
func (w *Worker) fanOut(report *valuation.Report) {
	if w.publisher != nil {
		if err := w.publisher.Publish(nats.SubjectValuationResults, report); err != nil {
			w.pubErrors.Add(1)
			log.Printf("[Worker] publish error: run_id=%d, err=%v", report.RunID, err)
		}
	}
	if w.sender != nil {
		if err := w.sender.Send(report); err != nil {
			w.mqErrors.Add(1)
			log.Printf("[Worker] kafka send error: run_id=%d, err=%v", report.RunID, err)
		}
	}
}

// Stats 获取统计
func (w *Worker) Stats() Stats {
	return Stats{
		ReceivedCount: w.received.Load(),
		ValuedCount:   w.valued.Load(),
		FailedCount:   w.failed.Load(),
		PublishErrors: w.pubErrors.Load(),
		KafkaErrors:   w.mqErrors.Load(),
	}
}

// =============================================================================
// 客户端
// =============================================================================

// Requester 请求-回复的最小接口，nats.Publisher 实现了它
type Requester interface {
	Request(ctx context.Context, subject string, req, resp any) error
}

// RequestValuation 通过 NATS 请求一次估值
func RequestValuation(ctx context.Context, r Requester, req valuation.Request) (*valuation.Report, error) {
	var reply Reply
	if err := r.Request(ctx, nats.SubjectValuationRequests, req, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrRemote, reply.Error)
	}
	if reply.Report == nil {
		return nil, fmt.Errorf("%w: empty reply", ErrRemote)
	}
	return reply.Report, nil
}
