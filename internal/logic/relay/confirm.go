package relay

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"custody-relay-sol/internal/chain"
	"custody-relay-sol/internal/logic/policy"
	"custody-relay-sol/internal/logic/sigverify"
	"custody-relay-sol/internal/logic/txdecode"
	"custody-relay-sol/internal/pkg/logger"
	"custody-relay-sol/internal/relayerr"
	"custody-relay-sol/internal/types"

	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// ConfirmResult confirm 成功（CONFIRMED）的产物
type ConfirmResult struct {
	Signature string
	Amounts   map[string]uint64 // 目标账户 → 实际确认金额
	Finalized bool
	Summary   string
}

// Confirm 校验并播发已签名交易。状态推进：
//
//	RECEIVED → LOCK_ACQUIRED → EXPECTATION_LOADED → ELIGIBILITY_REVALIDATED
//	→ STRUCTURE_VALIDATED → CO_SIGNED → SUBMITTED → {CONFIRMED | ON_CHAIN_FAILED | TIMEOUT}
//
// 任一状态退出都会走 CLEANED_UP：释放资源锁、删除预期记录。
// CO_SIGNED 之前的拒绝对链上零副作用；SUBMITTED 之后无法撤回。
func (r *Relay) Confirm(ctx context.Context, requestID string, signedTx []byte) (*ConfirmResult, error) {
	// RECEIVED：字节必须先解释得通
	tx, err := sdktypes.TransactionDeserialize(signedTx)
	if err != nil {
		return nil, fmt.Errorf("%w: deserialize: %v", relayerr.ErrValidationRejected, err)
	}

	// 预读仅为取得资源键；权威读取在锁内完成
	peek, err := r.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	// LOCK_ACQUIRED：同一托管资源同一时刻只允许一条校验-播发序列
	release, err := r.locks.Lock(ctx, peek.ResourceKey)
	if err != nil {
		return nil, fmt.Errorf("acquire resource lock %s: %w", peek.ResourceKey, err)
	}
	defer release()

	// EXPECTATION_LOADED：锁内重读。并发的同 ID confirm 在这里拿到
	// NotFound——一个 ID 至多成功消费一次。
	exp, err := r.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	// CLEANED_UP：预期读一次即焚，所有退出路径统一删除
	defer func() {
		if err := r.store.Delete(context.WithoutCancel(ctx), requestID); err != nil {
			logger.Errorf("[relay] delete expectation id=%s: %v", requestID, err)
		}
	}()

	if exp.Expired(time.Now()) {
		logReject(requestID, "expiry", relayerr.ErrExpired)
		return nil, relayerr.ErrExpired
	}

	// ELIGIBILITY_REVALIDATED：build 之后时间已经流逝，用当前数据
	// 重跑同一业务规则；上限只收缩、不扩大。
	dec, err := r.oracle.Check(ctx, exp.Kind, exp.Meta)
	if err != nil {
		return nil, fmt.Errorf("eligibility re-check: %w", err)
	}
	if err := applyDecision(exp, dec, false); err != nil {
		logReject(requestID, "eligibility", err)
		return nil, err
	}

	// 每个必需远端签名者逐一验签
	for _, signer := range exp.RequiredSigners {
		if err := sigverify.VerifyRequiredSigner(&tx, signer); err != nil {
			logReject(requestID, "signature", err)
			return nil, err
		}
	}

	// 消息级结构约束：blockhash 与 fee payer 必须与 build 时一致
	if tx.Message.RecentBlockHash != exp.Blockhash {
		err := fmt.Errorf("%w: blockhash mutated", relayerr.ErrValidationRejected)
		logReject(requestID, "structure", err)
		return nil, err
	}
	if len(tx.Message.Accounts) == 0 || types.FromCommon(tx.Message.Accounts[0]) != exp.FeePayer {
		err := fmt.Errorf("%w: fee payer mutated", relayerr.ErrValidationRejected)
		logReject(requestID, "structure", err)
		return nil, err
	}

	// STRUCTURE_VALIDATED：逐指令策略校验，纯字节判定
	instrs, err := txdecode.DecodeMessage(&tx.Message)
	if err != nil {
		err = fmt.Errorf("%w: %v", relayerr.ErrValidationRejected, err)
		logReject(requestID, "decode", err)
		return nil, err
	}
	outcome := policy.Validate(instrs, exp)
	if !outcome.Accepted {
		err := fmt.Errorf("%w: %s", relayerr.ErrValidationRejected, outcome.Reason)
		logReject(requestID, "policy", err)
		return nil, err
	}

	// blockhash 活性：已失效的交易不可能上链，趁仍无副作用时拒绝
	valid, err := r.ledger.IsBlockhashValid(ctx, exp.Blockhash)
	if err != nil {
		return nil, fmt.Errorf("blockhash liveness check: %w", err)
	}
	if !valid {
		logReject(requestID, "blockhash", relayerr.ErrExpired)
		return nil, fmt.Errorf("%w: blockhash no longer valid", relayerr.ErrExpired)
	}

	// CO_SIGNED：校验全部通过，托管密钥落笔。此后进入不可逆区间。
	msgBytes, err := tx.Message.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize message: %w", err)
	}
	signerIdx := sigverify.SignerIndex(&tx.Message, r.SignerPubkey())
	if signerIdx < 0 {
		err := fmt.Errorf("%w: custodial signer not among required signers", relayerr.ErrValidationRejected)
		logReject(requestID, "cosign", err)
		return nil, err
	}
	tx.Signatures[signerIdx] = ed25519.Sign(r.signer.PrivateKey, msgBytes)

	// SUBMITTED
	sig, err := r.ledger.SendTransaction(ctx, tx)
	if err != nil {
		logger.Errorf("[relay] broadcast failed id=%s resource=%s: %v", requestID, exp.ResourceKey, err)
		return nil, fmt.Errorf("%w: %v", relayerr.ErrBroadcastFailed, err)
	}
	logger.Infof("[relay] submitted id=%s sig=%s resource=%s", requestID, sig, exp.ResourceKey)

	st, err := chain.WaitForConfirmation(ctx, r.ledger, sig, r.cfg.ConfirmAttempts, r.cfg.ConfirmDelay)
	if err != nil {
		// ON_CHAIN_FAILED：资金确定未动；TIMEOUT：结果不确定，原样上报，
		// 绝不自动重试。
		logger.Errorf("[relay] terminal failure id=%s sig=%s: %v", requestID, sig, err)
		return nil, err
	}

	// CONFIRMED
	amounts := make(map[string]uint64, len(outcome.Matched))
	for dest, amt := range outcome.Matched {
		amounts[dest.String()] = amt
	}
	r.auditOutcome(exp, sig, "confirmed", outcome.Matched, st.Finalized)
	logger.Infof("[relay] confirmed id=%s sig=%s finalized=%v", requestID, sig, st.Finalized)

	return &ConfirmResult{
		Signature: sig,
		Amounts:   amounts,
		Finalized: st.Finalized,
		Summary:   exp.Summary(),
	}, nil
}
