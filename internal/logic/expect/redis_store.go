package expect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custody-relay-sol/internal/relayerr"
	"custody-relay-sol/internal/types"

	"github.com/near/borsh-go"
	"github.com/redis/go-redis/v9"
)

// Redis key 前缀
const pendingKeyPrefix = "relay:pending:"

// RedisStore 基于 Redis 的预期存储，用于多实例间共享在途预期。
// TTL 由 Redis 服务端维护，无需本地清扫。记录以 borsh 编码存储
// （紧凑、确定性，二进制安全）。
//
// 注意：资源锁仍是进程内的，跨实例部署还需要外部锁服务配合。
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func pendingKey(id string) string {
	return pendingKeyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context, exp *Expectation) (string, error) {
	if exp.ID == "" {
		id, err := NewRequestID()
		if err != nil {
			return "", err
		}
		exp.ID = id
	}
	if exp.CreatedAt == 0 {
		exp.CreatedAt = time.Now().Unix()
	}

	data, err := encodeExpectation(exp)
	if err != nil {
		return "", err
	}
	ttl := time.Duration(exp.TTLSec) * time.Second
	if err := s.rdb.Set(ctx, pendingKey(exp.ID), data, ttl).Err(); err != nil {
		return "", fmt.Errorf("redis set: %w", err)
	}
	return exp.ID, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Expectation, error) {
	data, err := s.rdb.Get(ctx, pendingKey(id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, relayerr.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("redis get: %w", err)
	}
	exp, err := decodeExpectation(data)
	if err != nil {
		return nil, err
	}
	if exp.Expired(time.Now()) {
		// Redis TTL 以秒为粒度，边界上双重保险
		_ = s.Delete(ctx, id)
		return nil, relayerr.ErrNotFound
	}
	return exp, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, pendingKey(id)).Err()
}

// 持久化形态：borsh 不编码接口/按位 bool，统一摊平成 u8 与 Option 指针字段

type storedTransfer struct {
	Opcode        uint8
	Authority     types.Pubkey
	Source        types.Pubkey
	Destination   types.Pubkey
	MaxAmount     uint64
	AllowMultiLeg uint8
}

type storedRewardClaim struct {
	Mint     types.Pubkey
	Claimant types.Pubkey
	LaunchID string
}

type storedPresaleRedeem struct {
	Mint      types.Pubkey
	Vault     types.Pubkey
	Buyer     types.Pubkey
	PresaleID string
}

type storedFeeCollect struct {
	Pool     types.Pubkey
	Treasury types.Pubkey
}

type storedLiquidity struct {
	Pool     types.Pubkey
	Wallet   types.Pubkey
	Withdraw uint8
}

type storedRecord struct {
	ID              string
	Kind            uint8
	CreatedAt       int64
	TTLSec          int64
	ResourceKey     string
	Blockhash       string
	FeePayer        types.Pubkey
	RequiredSigners []types.Pubkey
	Transfers       []storedTransfer
	RewardClaim     *storedRewardClaim
	PresaleRedeem   *storedPresaleRedeem
	FeeCollect      *storedFeeCollect
	Liquidity       *storedLiquidity
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func encodeExpectation(exp *Expectation) ([]byte, error) {
	rec := storedRecord{
		ID:              exp.ID,
		Kind:            uint8(exp.Kind),
		CreatedAt:       exp.CreatedAt,
		TTLSec:          exp.TTLSec,
		ResourceKey:     exp.ResourceKey,
		Blockhash:       exp.Blockhash,
		FeePayer:        exp.FeePayer,
		RequiredSigners: exp.RequiredSigners,
	}
	for _, t := range exp.Transfers {
		rec.Transfers = append(rec.Transfers, storedTransfer{
			Opcode:        t.Opcode,
			Authority:     t.Authority,
			Source:        t.Source,
			Destination:   t.Destination,
			MaxAmount:     t.MaxAmount,
			AllowMultiLeg: boolToU8(t.AllowMultiLeg),
		})
	}
	if m := exp.Meta.RewardClaim; m != nil {
		rec.RewardClaim = &storedRewardClaim{Mint: m.Mint, Claimant: m.Claimant, LaunchID: m.LaunchID}
	}
	if m := exp.Meta.PresaleRedeem; m != nil {
		rec.PresaleRedeem = &storedPresaleRedeem{Mint: m.Mint, Vault: m.Vault, Buyer: m.Buyer, PresaleID: m.PresaleID}
	}
	if m := exp.Meta.FeeCollect; m != nil {
		rec.FeeCollect = &storedFeeCollect{Pool: m.Pool, Treasury: m.Treasury}
	}
	if m := exp.Meta.Liquidity; m != nil {
		rec.Liquidity = &storedLiquidity{Pool: m.Pool, Wallet: m.Wallet, Withdraw: boolToU8(m.Withdraw)}
	}

	data, err := borsh.Serialize(rec)
	if err != nil {
		return nil, fmt.Errorf("borsh serialize expectation %s: %w", exp.ID, err)
	}
	return data, nil
}

func decodeExpectation(data []byte) (*Expectation, error) {
	var rec storedRecord
	if err := borsh.Deserialize(&rec, data); err != nil {
		return nil, fmt.Errorf("borsh deserialize expectation: %w", err)
	}

	exp := &Expectation{
		ID:              rec.ID,
		Kind:            Kind(rec.Kind),
		CreatedAt:       rec.CreatedAt,
		TTLSec:          rec.TTLSec,
		ResourceKey:     rec.ResourceKey,
		Blockhash:       rec.Blockhash,
		FeePayer:        rec.FeePayer,
		RequiredSigners: rec.RequiredSigners,
	}
	for _, t := range rec.Transfers {
		exp.Transfers = append(exp.Transfers, TransferExpectation{
			Opcode:        t.Opcode,
			Authority:     t.Authority,
			Source:        t.Source,
			Destination:   t.Destination,
			MaxAmount:     t.MaxAmount,
			AllowMultiLeg: t.AllowMultiLeg != 0,
		})
	}
	if m := rec.RewardClaim; m != nil {
		exp.Meta.RewardClaim = &RewardClaimMeta{Mint: m.Mint, Claimant: m.Claimant, LaunchID: m.LaunchID}
	}
	if m := rec.PresaleRedeem; m != nil {
		exp.Meta.PresaleRedeem = &PresaleRedeemMeta{Mint: m.Mint, Vault: m.Vault, Buyer: m.Buyer, PresaleID: m.PresaleID}
	}
	if m := rec.FeeCollect; m != nil {
		exp.Meta.FeeCollect = &FeeCollectMeta{Pool: m.Pool, Treasury: m.Treasury}
	}
	if m := rec.Liquidity; m != nil {
		exp.Meta.Liquidity = &LiquidityMeta{Pool: m.Pool, Wallet: m.Wallet, Withdraw: m.Withdraw != 0}
	}
	return exp, nil
}
