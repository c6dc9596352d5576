package audit

import (
	"context"
	"fmt"
	"time"

	"custody-relay-sol/internal/utils"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const (
	defaultBatchSize = 32 * 1024
	defaultLingerMs  = 5
)

// KafkaOption 审计生产者配置
type KafkaOption struct {
	Brokers    string
	Topic      string
	Partitions int
	BatchSize  int
	LingerMs   int
}

// NewKafkaProducer 创建审计用 Kafka 生产者，启动时确保 topic 存在
func NewKafkaProducer(opt KafkaOption) (*kafka.Producer, error) {
	adminClient, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": opt.Brokers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create admin client: %w", err)
	}
	defer adminClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	meta, err := adminClient.GetMetadata(nil, true, 10000)
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	replicationFactor := 1
	if len(meta.Brokers) > 1 {
		replicationFactor = 2
	}

	exists := false
	for _, t := range meta.Topics {
		if t.Topic == opt.Topic {
			exists = true
			break
		}
	}
	if !exists {
		partitions := opt.Partitions
		if partitions <= 0 {
			partitions = 1
		}
		results, err := adminClient.CreateTopics(ctx, []kafka.TopicSpecification{{
			Topic:             opt.Topic,
			NumPartitions:     partitions,
			ReplicationFactor: replicationFactor,
		}})
		if err != nil {
			return nil, fmt.Errorf("failed to create topic: %w", err)
		}
		for _, result := range results {
			if result.Error.Code() != kafka.ErrNoError {
				return nil, fmt.Errorf("failed to create topic %s: %w", result.Topic, result.Error)
			}
		}
	}

	batchSize := opt.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	lingerMs := opt.LingerMs
	if lingerMs < 0 {
		lingerMs = defaultLingerMs
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": opt.Brokers,
		"client.id":         fmt.Sprintf("custody-relay-%s", utils.GetLocalIP()),

		// 审计记录只追加、不允许丢：acks=all + 幂等
		"acks":                                  "all",
		"enable.idempotence":                    true,
		"max.in.flight.requests.per.connection": 5,

		"delivery.timeout.ms":      30000,
		"request.timeout.ms":       15000,
		"message.send.max.retries": 3,
		"retry.backoff.ms":         100,

		"batch.size":       batchSize,
		"linger.ms":        lingerMs,
		"compression.type": "lz4",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return producer, nil
}
