// Package eligibility 业务资格判定。真实数据源是外部关系库
// （已领取总量、冷却期、指定收款人授权等），这里只定义协作方接口，
// 并提供一个进程内实现用于单实例部署与测试。
package eligibility

import (
	"context"
	"fmt"
	"sync"

	"custody-relay-sol/internal/logic/expect"
	"custody-relay-sol/internal/types"
)

// Decision 资格判定结果。MaxAmounts 为各目标账户当前允许的金额上限，
// confirm 阶段复核时以两次判定中较小者为准（资格只收缩、不扩大）。
type Decision struct {
	Allowed    bool
	Reason     string
	MaxAmounts map[types.Pubkey]uint64
}

// Oracle 资格判定协作方。build 时调用一次产生预期，
// confirm 时必须用同一规则对当前数据重新判定。
type Oracle interface {
	Check(ctx context.Context, kind expect.Kind, meta expect.Meta) (Decision, error)
}

// scopeKey 将元数据映射为资格作用域（launch/presale/pool 粒度）
func scopeKey(kind expect.Kind, meta expect.Meta) string {
	switch kind {
	case expect.KindRewardClaim:
		if m := meta.RewardClaim; m != nil {
			return fmt.Sprintf("reward:%s:%s", m.LaunchID, m.Claimant)
		}
	case expect.KindPresaleRedeem:
		if m := meta.PresaleRedeem; m != nil {
			return fmt.Sprintf("presale:%s:%s", m.PresaleID, m.Buyer)
		}
	case expect.KindFeeCollect:
		if m := meta.FeeCollect; m != nil {
			return fmt.Sprintf("fee:%s", m.Pool)
		}
	case expect.KindLiquidityWithdraw, expect.KindLiquidityDeposit:
		if m := meta.Liquidity; m != nil {
			return fmt.Sprintf("liquidity:%s:%s", m.Pool, m.Wallet)
		}
	}
	return ""
}

// StaticOracle 进程内资格表：按作用域登记各目标的当前上限，
// 可随时收缩或吊销，模拟外部数据随时间变化。
type StaticOracle struct {
	mu     sync.RWMutex
	grants map[string]Decision
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{grants: make(map[string]Decision)}
}

// Grant 登记（或覆盖）某作用域的资格与上限
func (o *StaticOracle) Grant(kind expect.Kind, meta expect.Meta, maxAmounts map[types.Pubkey]uint64) {
	key := scopeKey(kind, meta)
	o.mu.Lock()
	o.grants[key] = Decision{Allowed: true, MaxAmounts: maxAmounts}
	o.mu.Unlock()
}

// Revoke 吊销某作用域的资格
func (o *StaticOracle) Revoke(kind expect.Kind, meta expect.Meta, reason string) {
	key := scopeKey(kind, meta)
	o.mu.Lock()
	o.grants[key] = Decision{Allowed: false, Reason: reason}
	o.mu.Unlock()
}

func (o *StaticOracle) Check(_ context.Context, kind expect.Kind, meta expect.Meta) (Decision, error) {
	key := scopeKey(kind, meta)
	if key == "" {
		return Decision{}, fmt.Errorf("malformed metadata for kind %s", kind)
	}
	o.mu.RLock()
	dec, ok := o.grants[key]
	o.mu.RUnlock()
	if !ok {
		return Decision{Reason: "no eligibility record"}, nil
	}
	return dec, nil
}
