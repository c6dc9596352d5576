// Package chain 封装账本节点协作方。节点被视为不透明、可能缓慢、
// 可重复查询的 RPC 边界：任何状态在观察到 confirmed/finalized 终态
// 之前都不作数。
package chain

import (
	"context"
	"fmt"
	"time"

	"custody-relay-sol/internal/pkg/logger"
	"custody-relay-sol/internal/relayerr"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/rpc"
	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// Status 签名状态的中性表示，与具体 RPC 类型解耦
type Status struct {
	Slot      uint64
	Confirmed bool // confirmed 或 finalized
	Finalized bool
	Err       any // 链上执行错误，非 nil 即确定性失败
}

// Ledger 账本节点协作方接口（测试中以桩实现替换）
type Ledger interface {
	GetLatestBlockhash(ctx context.Context) (string, error)
	IsBlockhashValid(ctx context.Context, blockhash string) (bool, error)
	SendTransaction(ctx context.Context, tx sdktypes.Transaction) (string, error)
	GetSignatureStatus(ctx context.Context, sig string) (*Status, error)
}

// Client 基于 blocto JSON-RPC 客户端的 Ledger 实现
type Client struct {
	rpc *client.Client
}

func NewClient(endpoint string) *Client {
	return &Client{rpc: client.NewClient(endpoint)}
}

func (c *Client) GetLatestBlockhash(ctx context.Context) (string, error) {
	res, err := c.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("getLatestBlockhash: %w", err)
	}
	return res.Blockhash, nil
}

func (c *Client) IsBlockhashValid(ctx context.Context, blockhash string) (bool, error) {
	ok, err := c.rpc.IsBlockhashValid(ctx, blockhash)
	if err != nil {
		return false, fmt.Errorf("isBlockhashValid: %w", err)
	}
	return ok, nil
}

func (c *Client) SendTransaction(ctx context.Context, tx sdktypes.Transaction) (string, error) {
	sig, err := c.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("sendTransaction: %w", err)
	}
	return sig, nil
}

func (c *Client) GetSignatureStatus(ctx context.Context, sig string) (*Status, error) {
	st, err := c.rpc.GetSignatureStatus(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("getSignatureStatus: %w", err)
	}
	if st == nil {
		return nil, nil
	}
	out := &Status{Slot: st.Slot, Err: st.Err}
	if st.ConfirmationStatus != nil {
		switch *st.ConfirmationStatus {
		case rpc.CommitmentFinalized:
			out.Confirmed = true
			out.Finalized = true
		case rpc.CommitmentConfirmed:
			out.Confirmed = true
		}
	}
	return out, nil
}

// WaitForConfirmation 有界轮询签名状态：固定次数 × 固定间隔。
//   - 观察到链上执行错误 → ErrBroadcastFailed（确定性失败）；
//   - 观察到 confirmed/finalized → 返回该状态；
//   - 次数耗尽仍无终态 → ErrConfirmationTimeout。结果不确定——
//     资金可能已动也可能未动，调用方必须原样上报，严禁自动重试。
func WaitForConfirmation(ctx context.Context, ledger Ledger, sig string, attempts int, delay time.Duration) (*Status, error) {
	for i := 0; i < attempts; i++ {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", relayerr.ErrConfirmationTimeout, ctx.Err())
		}

		st, err := ledger.GetSignatureStatus(ctx, sig)
		if err != nil {
			// 节点查询失败不是终态，继续轮询
			logger.Warnf("[chain] poll %d/%d sig=%s: %v", i+1, attempts, sig, err)
			continue
		}
		if st == nil {
			continue
		}
		if st.Err != nil {
			return st, fmt.Errorf("%w: on-chain error: %v", relayerr.ErrBroadcastFailed, st.Err)
		}
		if st.Confirmed {
			return st, nil
		}
	}
	return nil, fmt.Errorf("%w: sig=%s after %d attempts", relayerr.ErrConfirmationTimeout, sig, attempts)
}
