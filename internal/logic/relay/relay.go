// Package relay 编排 build → sign → re-validate → co-sign → broadcast 全流程。
// 服务端签名即授权托管资金的不可逆移动，confirm 链路上的每一步拒绝
// 都必须 fail closed。
package relay

import (
	"fmt"
	"time"

	"custody-relay-sol/internal/audit"
	"custody-relay-sol/internal/chain"
	"custody-relay-sol/internal/eligibility"
	"custody-relay-sol/internal/logic/expect"
	"custody-relay-sol/internal/logic/keylock"
	"custody-relay-sol/internal/pkg/logger"
	"custody-relay-sol/internal/relayerr"
	"custody-relay-sol/internal/types"

	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// Config 编排参数
type Config struct {
	ConfirmAttempts      int           // 确认轮询次数
	ConfirmDelay         time.Duration // 轮询间隔
	DefaultTTLSec        int64         // 预期记录默认 TTL
	CUPriceMicroLamports uint64        // 优先费（0 则不附加）
}

func (c Config) withDefaults() Config {
	if c.ConfirmAttempts <= 0 {
		c.ConfirmAttempts = 30
	}
	if c.ConfirmDelay <= 0 {
		c.ConfirmDelay = 2 * time.Second
	}
	if c.DefaultTTLSec <= 0 {
		c.DefaultTTLSec = 300
	}
	return c
}

// Relay 托管中继编排器
type Relay struct {
	store  expect.Store
	locks  *keylock.KeyedLock
	ledger chain.Ledger
	oracle eligibility.Oracle
	signer sdktypes.Account // 托管密钥，绝不外泄
	sink   *audit.Sink      // 可为 nil（审计未接入时）
	cfg    Config
}

func New(
	store expect.Store,
	locks *keylock.KeyedLock,
	ledger chain.Ledger,
	oracle eligibility.Oracle,
	signer sdktypes.Account,
	sink *audit.Sink,
	cfg Config,
) *Relay {
	return &Relay{
		store:  store,
		locks:  locks,
		ledger: ledger,
		oracle: oracle,
		signer: signer,
		sink:   sink,
		cfg:    cfg.withDefaults(),
	}
}

// SignerPubkey 托管签名者公钥
func (r *Relay) SignerPubkey() types.Pubkey {
	return types.FromCommon(r.signer.PublicKey)
}

// applyDecision 将资格判定套到预期上。
// build 阶段：任何目标缺资格或请求金额超上限，直接拒绝；
// confirm 阶段：资格只收缩——上限降档、缺失归零，随后由策略校验裁决
// （已签名金额若超过收缩后的上限即被拒绝）。
func applyDecision(exp *expect.Expectation, dec eligibility.Decision, atBuild bool) error {
	if !dec.Allowed {
		return fmt.Errorf("%w: %s", relayerr.ErrEligibilityRejected, dec.Reason)
	}
	for i := range exp.Transfers {
		te := &exp.Transfers[i]
		if te.MaxAmount == 0 {
			continue
		}
		allowed, ok := dec.MaxAmounts[te.Destination]
		if atBuild {
			if !ok {
				return fmt.Errorf("%w: destination %s not eligible", relayerr.ErrEligibilityRejected, te.Destination)
			}
			if te.MaxAmount > allowed {
				return fmt.Errorf("%w: requested %d exceeds eligible %d for %s",
					relayerr.ErrEligibilityRejected, te.MaxAmount, allowed, te.Destination)
			}
			continue
		}
		if !ok {
			te.MaxAmount = 0
			continue
		}
		if allowed < te.MaxAmount {
			te.MaxAmount = allowed
		}
	}
	return nil
}

func (r *Relay) auditOutcome(exp *expect.Expectation, sig, outcome string, amounts map[types.Pubkey]uint64, finalized bool) {
	if r.sink == nil {
		return
	}
	rec := &audit.Record{
		RequestID:   exp.ID,
		Kind:        exp.Kind.String(),
		ResourceKey: exp.ResourceKey,
		Signature:   sig,
		Outcome:     outcome,
		Finalized:   finalized,
	}
	if len(amounts) > 0 {
		rec.Amounts = make(map[string]uint64, len(amounts))
		for dest, amt := range amounts {
			rec.Amounts[dest.String()] = amt
		}
	}
	r.sink.WriteAsync(rec)
}

func (r *Relay) ttlFor(requested int64) int64 {
	if requested > 0 {
		return requested
	}
	return r.cfg.DefaultTTLSec
}

// logReject 安全拒绝（资金确定未动）按 Info 记录，其余按 Error
func logReject(id string, stage string, err error) {
	if relayerr.IsSafeReject(err) {
		logger.Infof("[relay] confirm rejected id=%s stage=%s: %v", id, stage, err)
		return
	}
	logger.Errorf("[relay] confirm failed id=%s stage=%s: %v", id, stage, err)
}
