package svc

import (
	"fmt"
	"os"
	"time"

	"custody-relay-sol/internal/audit"
	"custody-relay-sol/internal/chain"
	"custody-relay-sol/internal/config"
	"custody-relay-sol/internal/eligibility"
	"custody-relay-sol/internal/logic/expect"
	"custody-relay-sol/internal/logic/keylock"
	"custody-relay-sol/internal/logic/relay"
	"custody-relay-sol/internal/pkg/logger"

	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/redis/go-redis/v9"
)

// ServiceContext 汇聚中继服务的全部资源
type ServiceContext struct {
	Config  config.RelayConfig
	Store   expect.Store
	Sweeper *expect.MemoryStore // 仅内存存储时非 nil，作为后台服务托管
	Locks   *keylock.KeyedLock
	Ledger  chain.Ledger
	Oracle  eligibility.Oracle
	Sink    *audit.Sink
	Relay   *relay.Relay
}

// NewServiceContext 创建服务上下文
func NewServiceContext(c config.RelayConfig) (*ServiceContext, error) {
	// 1. 托管密钥（优先环境变量）
	pk := c.CustodyConf.PrivateKeyBase58
	if c.CustodyConf.PrivateKeyEnv != "" {
		if v := os.Getenv(c.CustodyConf.PrivateKeyEnv); v != "" {
			pk = v
		}
	}
	if pk == "" {
		return nil, fmt.Errorf("custody private key not configured")
	}
	signer, err := sdktypes.AccountFromBase58(pk)
	if err != nil {
		return nil, fmt.Errorf("parse custody key: %w", err)
	}

	// 2. 在途预期存储：Redis（多实例）或进程内（单实例默认）
	var store expect.Store
	var sweeper *expect.MemoryStore
	if c.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		store = expect.NewRedisStore(rdb)
		logger.Infof("pending store: redis @ %s", c.RedisAddr)
	} else {
		sweeper = expect.NewMemoryStore(time.Duration(c.PendingConf.SweepIntervalSec) * time.Second)
		store = sweeper
		logger.Infof("pending store: in-memory")
	}

	// 3. 审计落账（可选）
	var sink *audit.Sink
	if c.KafkaAuditConf.Enabled {
		producer, err := audit.NewKafkaProducer(c.KafkaAuditConf.ToKafkaOption())
		if err != nil {
			return nil, fmt.Errorf("init audit producer: %w", err)
		}
		sink = audit.NewSink(producer, c.KafkaAuditConf.Topic, c.KafkaAuditConf.Partitions,
			time.Duration(c.KafkaAuditConf.SendTimeoutMs)*time.Millisecond)
	}

	// 4. 账本节点客户端
	ledger := chain.NewClient(c.ChainConf.Endpoint)

	// 5. 资格判定。生产环境由业务库适配实现替换。
	oracle := eligibility.NewStaticOracle()

	locks := keylock.New()
	rl := relay.New(store, locks, ledger, oracle, signer, sink, relay.Config{
		ConfirmAttempts:      c.ChainConf.ConfirmAttempts,
		ConfirmDelay:         time.Duration(c.ChainConf.ConfirmDelayMs) * time.Millisecond,
		DefaultTTLSec:        c.PendingConf.DefaultTTLSec,
		CUPriceMicroLamports: c.ChainConf.CUPriceMicroLam,
	})

	logger.Infof("relay service context ready, custody signer=%s", signer.PublicKey.ToBase58())

	return &ServiceContext{
		Config:  c,
		Store:   store,
		Sweeper: sweeper,
		Locks:   locks,
		Ledger:  ledger,
		Oracle:  oracle,
		Sink:    sink,
		Relay:   rl,
	}, nil
}

// Close 释放服务上下文中的资源
func (ctx *ServiceContext) Close() {
	if ctx.Sink != nil {
		ctx.Sink.Close()
	}
}
