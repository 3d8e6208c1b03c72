// 文件: pkg/nats/subscriber.go
// NATS 消息订阅者

package nats

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

// MessageHandler 消息处理函数
type MessageHandler func(subject string, data []byte) error

// ReplyHandler 请求处理函数，返回值作为回复发回请求方
type ReplyHandler func(subject string, data []byte) ([]byte, error)

// Subscriber NATS 订阅者
type Subscriber struct {
	conn    *nats.Conn
	subs    []*nats.Subscription
	handler MessageHandler
}

// NewSubscriber 创建订阅者
func NewSubscriber(url string, handler MessageHandler) (*Subscriber, error) {
	conn, err := Connect(url, "pricer-subscriber")
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		conn:    conn,
		handler: handler,
	}, nil
}

// Subscribe 订阅主题
func (s *Subscriber) Subscribe(subjects ...string) error {
	for _, subject := range subjects {
		sub, err := s.conn.Subscribe(subject, s.dispatch)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// SubscribeQueue 队列订阅 (负载均衡)
func (s *Subscriber) SubscribeQueue(subject, queue string) error {
	sub, err := s.conn.QueueSubscribe(subject, queue, s.dispatch)
	if err != nil {
		return fmt.Errorf("queue subscribe %s/%s: %w", subject, queue, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// SubscribeReply 队列订阅并回复请求
// 处理出错时只记录日志，由 handler 自己决定回复内容
func (s *Subscriber) SubscribeReply(subject, queue string, handler ReplyHandler) error {
	sub, err := s.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		reply, err := handler(msg.Subject, msg.Data)
		if err != nil {
			log.Printf("[NATS] handle error: subject=%s, err=%v", msg.Subject, err)
		}
		if msg.Reply == "" || reply == nil {
			return
		}
		if err := msg.Respond(reply); err != nil {
			log.Printf("[NATS] respond error: subject=%s, err=%v", msg.Subject, err)
		}
	})
	if err != nil {
		return fmt.Errorf("reply subscribe %s/%s: %w", subject, queue, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Subscriber) dispatch(msg *nats.Msg) {
	if s.handler == nil {
		return
	}
	if err := s.handler(msg.Subject, msg.Data); err != nil {
		log.Printf("[NATS] handle error: subject=%s, err=%v", msg.Subject, err)
	}
}

// Close 关闭
func (s *Subscriber) Close() error {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	return s.conn.Drain()
}

// =============================================================================
// 便捷方法
// =============================================================================

// UnmarshalJSON 反序列化 JSON
func UnmarshalJSON[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
