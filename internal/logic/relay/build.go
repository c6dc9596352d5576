package relay

import (
	"context"
	"fmt"
	"time"

	"custody-relay-sol/internal/logic/builder"
	"custody-relay-sol/internal/pkg/logger"
)

// BuildResult build 调用的产物：未签名交易字节、请求 ID、预期摘要
type BuildResult struct {
	RequestID  string
	UnsignedTx []byte
	Summary    string
}

// BuildRewardClaim 构建奖励领取交易
func (r *Relay) BuildRewardClaim(ctx context.Context, p builder.RewardClaimParams) (*BuildResult, error) {
	p.MintAuthority = r.SignerPubkey()
	p.TTLSec = r.ttlFor(p.TTLSec)
	p.CUPriceMicroLamports = r.cfg.CUPriceMicroLamports
	built, err := builder.RewardClaim(p)
	if err != nil {
		return nil, err
	}
	return r.finishBuild(ctx, built)
}

// BuildPresaleRedeem 构建预售兑付交易
func (r *Relay) BuildPresaleRedeem(ctx context.Context, p builder.PresaleRedeemParams) (*BuildResult, error) {
	p.VaultAuthority = r.SignerPubkey()
	p.TTLSec = r.ttlFor(p.TTLSec)
	p.CUPriceMicroLamports = r.cfg.CUPriceMicroLamports
	built, err := builder.PresaleRedeem(p)
	if err != nil {
		return nil, err
	}
	return r.finishBuild(ctx, built)
}

// BuildFeeCollect 构建费用归集交易
func (r *Relay) BuildFeeCollect(ctx context.Context, p builder.FeeCollectParams) (*BuildResult, error) {
	p.VaultAuthority = r.SignerPubkey()
	p.TTLSec = r.ttlFor(p.TTLSec)
	p.CUPriceMicroLamports = r.cfg.CUPriceMicroLamports
	built, err := builder.FeeCollect(p)
	if err != nil {
		return nil, err
	}
	return r.finishBuild(ctx, built)
}

// BuildLiquidity 构建流动性提取/注入交易
func (r *Relay) BuildLiquidity(ctx context.Context, p builder.LiquidityParams) (*BuildResult, error) {
	p.VaultAuthority = r.SignerPubkey()
	p.TTLSec = r.ttlFor(p.TTLSec)
	p.CUPriceMicroLamports = r.cfg.CUPriceMicroLamports
	built, err := builder.Liquidity(p)
	if err != nil {
		return nil, err
	}
	return r.finishBuild(ctx, built)
}

// finishBuild 各流共用的收尾：资格判定 → 取 blockhash → 编译消息 →
// 落预期 → 序列化未签名字节。预期一旦落库，唯一的消费口就是 Confirm。
func (r *Relay) finishBuild(ctx context.Context, built *builder.Built) (*BuildResult, error) {
	exp := built.Expectation

	dec, err := r.oracle.Check(ctx, exp.Kind, exp.Meta)
	if err != nil {
		return nil, fmt.Errorf("eligibility check: %w", err)
	}
	if err := applyDecision(exp, dec, true); err != nil {
		return nil, err
	}

	blockhash, err := r.ledger.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch blockhash: %w", err)
	}

	exp.Blockhash = blockhash
	exp.FeePayer = r.SignerPubkey()
	exp.CreatedAt = time.Now().Unix()

	_, raw, err := builder.AssembleUnsigned(exp.FeePayer, blockhash, built.Instructions)
	if err != nil {
		return nil, err
	}

	id, err := r.store.Create(ctx, exp)
	if err != nil {
		return nil, fmt.Errorf("persist expectation: %w", err)
	}

	logger.Infof("[relay] built id=%s kind=%s resource=%s legs=%d ttl=%ds",
		id, exp.Kind, exp.ResourceKey, len(exp.Transfers), exp.TTLSec)

	return &BuildResult{
		RequestID:  id,
		UnsignedTx: raw,
		Summary:    exp.Summary(),
	}, nil
}
