// 文件: pkg/nats/publisher.go
// NATS 消息发布者
// 估值请求走 request-reply，估值结果广播给所有订阅方

package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// 估值服务使用的主题
const (
	SubjectValuationRequests = "pricer.valuation.requests" // 请求（队列订阅）
	SubjectValuationResults  = "pricer.valuation.results"  // 结果广播
)

// Connect 建立连接，带断线重连
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return conn, nil
}

// Publisher NATS 发布者
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher 创建发布者
func NewPublisher(url string) (*Publisher, error) {
	conn, err := Connect(url, "pricer-publisher")
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn}, nil
}

// Publish 发布消息 (JSON)
func (p *Publisher) Publish(subject string, data any) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	return p.conn.Publish(subject, bytes)
}

// PublishRaw 发布原始消息
func (p *Publisher) PublishRaw(subject string, data []byte) error {
	return p.conn.Publish(subject, data)
}

// Request 发送请求并等待回复，req / resp 均为 JSON
func (p *Publisher) Request(ctx context.Context, subject string, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", subject, err)
	}

	msg, err := p.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}

	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("unmarshal %s reply: %w", subject, err)
	}
	return nil
}

// Close 关闭连接，先把缓冲的消息发出去
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}
