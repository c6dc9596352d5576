package config

import (
	"custody-relay-sol/internal/audit"
	"custody-relay-sol/internal/pkg/logger"

	"github.com/zeromicro/go-zero/rest"
)

type LogConfig struct {
	Format   string `yaml:"format"`   // 日志格式，支持 "console" 或 "json"
	LogDir   string `yaml:"log_dir"`  // 日志目录（可为相对路径或绝对路径）
	Level    string `yaml:"level"`    // 日志级别：debug / info / warn / error
	Compress bool   `yaml:"compress"` // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// KafkaAuditConfig 审计落账的 Kafka 生产者配置
type KafkaAuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Brokers       string `yaml:"brokers"`         // 多个地址英文逗号分隔
	Topic         string `yaml:"topic"`           // 审计 topic
	Partitions    int    `yaml:"partitions"`      // topic 分区数
	BatchSize     int    `yaml:"batch_size"`      // 批处理大小（字节）
	LingerMs      int    `yaml:"linger_ms"`       // 批处理最大延迟（毫秒）
	SendTimeoutMs int    `yaml:"send_timeout_ms"` // 单条记录发送并等待 ack 的超时
}

func (c *KafkaAuditConfig) ToKafkaOption() audit.KafkaOption {
	return audit.KafkaOption{
		Brokers:    c.Brokers,
		Topic:      c.Topic,
		Partitions: c.Partitions,
		BatchSize:  c.BatchSize,
		LingerMs:   c.LingerMs,
	}
}

// ChainConfig 账本节点与确认轮询配置
type ChainConfig struct {
	Endpoint        string `yaml:"endpoint"`          // JSON-RPC 节点地址
	ConfirmAttempts int    `yaml:"confirm_attempts"`  // 确认轮询次数
	ConfirmDelayMs  int    `yaml:"confirm_delay_ms"`  // 轮询间隔（毫秒）
	CUPriceMicroLam uint64 `yaml:"cu_price_micro_la"` // 优先费（micro-lamports，0 不附加）
}

// CustodyConfig 托管密钥来源。优先读环境变量，避免密钥落盘。
type CustodyConfig struct {
	PrivateKeyEnv    string `yaml:"private_key_env"`               // 存放 base58 私钥的环境变量名
	PrivateKeyBase58 string `yaml:"private_key_base58,omitempty"`  // 直接内联（仅限本地调试）
}

// PendingConfig 在途预期存储配置
type PendingConfig struct {
	DefaultTTLSec    int64 `yaml:"default_ttl_sec"`    // 预期默认 TTL（秒）
	SweepIntervalSec int   `yaml:"sweep_interval_sec"` // 内存存储的清扫间隔（秒）
}

// RelayConfig 主配置结构体
type RelayConfig struct {
	Rest rest.RestConf `yaml:"rest"` // 薄 HTTP 入口

	LogConf        LogConfig        `yaml:"logger"`
	KafkaAuditConf KafkaAuditConfig `yaml:"kafka_audit"`
	ChainConf      ChainConfig      `yaml:"chain"`
	CustodyConf    CustodyConfig    `yaml:"custody"`
	PendingConf    PendingConfig    `yaml:"pending"`

	// RedisAddr 非空时使用 Redis 作为在途预期存储（多实例共享）；
	// 为空时使用进程内存储。资源锁始终是进程内的。
	RedisAddr string `yaml:"redis_addr,omitempty"`
}
