// Package audit 已确认动账结果的只追加审计落账。
// 写入失败只记日志——已广播的交易无法回滚，审计绝不反向阻断。
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"custody-relay-sol/internal/pkg/logger"
	"custody-relay-sol/internal/utils"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Record 一次终态结果的审计记录
type Record struct {
	RequestID   string            `json:"request_id"`
	Kind        string            `json:"kind"`
	ResourceKey string            `json:"resource_key"`
	Signature   string            `json:"signature"`
	Outcome     string            `json:"outcome"` // confirmed / broadcast_failed / timeout
	Amounts     map[string]uint64 `json:"amounts,omitempty"`
	Finalized   bool              `json:"finalized"`
	Timestamp   int64             `json:"timestamp"`
}

// Sink Kafka 审计落账器
type Sink struct {
	producer   *kafka.Producer
	topic      string
	partitions uint32
	timeout    time.Duration
}

func NewSink(producer *kafka.Producer, topic string, partitions int, timeout time.Duration) *Sink {
	if partitions <= 0 {
		partitions = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sink{producer: producer, topic: topic, partitions: uint32(partitions), timeout: timeout}
}

// Write 投递一条审计记录并等待 ack。
// 按 ResourceKey 选分区，同一托管资源的审计序列保持有序。
func (s *Sink) Write(ctx context.Context, rec *Record) error {
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().Unix()
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	partition := int32(utils.PartitionHashBytes([]byte(rec.ResourceKey), s.partitions))

	deliveryChan := make(chan kafka.Event, 1)
	err = s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &s.topic, Partition: partition},
		Key:            []byte(rec.ResourceKey),
		Value:          value,
	}, deliveryChan)
	if err != nil {
		return fmt.Errorf("produce error: %w", err)
	}

	select {
	case e, ok := <-deliveryChan:
		if !ok {
			return fmt.Errorf("delivery channel closed unexpectedly")
		}
		msg, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("invalid message type: %T", e)
		}
		if msg.TopicPartition.Error != nil {
			return msg.TopicPartition.Error
		}
		return nil
	case <-time.After(s.timeout):
		return fmt.Errorf("delivery timeout (>%v)", s.timeout)
	case <-ctx.Done():
		return fmt.Errorf("ctx cancelled: %w", ctx.Err())
	}
}

// WriteAsync 后台落账，失败仅告警。编排层在广播之后使用。
func (s *Sink) WriteAsync(rec *Record) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.Write(ctx, rec); err != nil {
			logger.Errorf("[audit] write failed request_id=%s outcome=%s: %v", rec.RequestID, rec.Outcome, err)
		}
	}()
}

// Close 刷新并关闭生产者
func (s *Sink) Close() {
	s.producer.Flush(int((5 * time.Second).Milliseconds()))
	s.producer.Close()
}
