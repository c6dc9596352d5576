// Package builder 按业务意图构造指令列表与配套预期记录。
// 自洽律：对刚构造出的交易立即做策略校验必须 Accepted。
package builder

import (
	"fmt"

	"custody-relay-sol/internal/consts"
	"custody-relay-sol/internal/logic/expect"
	"custody-relay-sol/internal/types"

	"github.com/blocto/solana-go-sdk/program/compute_budget"
	sdktoken "github.com/blocto/solana-go-sdk/program/token"
	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// Built 一次构建的产物：待编译的指令 + 预期骨架
// （Blockhash / FeePayer / CreatedAt 由编排层补齐）。
type Built struct {
	Instructions []sdktypes.Instruction
	Expectation  *expect.Expectation
}

// RewardClaimParams 奖励领取：托管 mint 权限向领取人铸币
type RewardClaimParams struct {
	Mint                 types.Pubkey
	MintAuthority        types.Pubkey // 托管签名者
	ClaimantWallet       types.Pubkey
	ClaimantTokenAccount types.Pubkey
	Amount               uint64
	LaunchID             string
	TTLSec               int64
	CUPriceMicroLamports uint64
}

func RewardClaim(p RewardClaimParams) (*Built, error) {
	if p.Amount == 0 {
		return nil, fmt.Errorf("reward claim amount must be positive")
	}
	instrs := withComputeBudget(p.CUPriceMicroLamports,
		withCosigner(sdktoken.MintTo(sdktoken.MintToParam{
			Mint:   p.Mint.ToCommon(),
			To:     p.ClaimantTokenAccount.ToCommon(),
			Auth:   p.MintAuthority.ToCommon(),
			Amount: p.Amount,
		}), p.ClaimantWallet),
	)
	exp := &expect.Expectation{
		Kind:            expect.KindRewardClaim,
		TTLSec:          p.TTLSec,
		ResourceKey:     p.Mint.String(),
		RequiredSigners: []types.Pubkey{p.ClaimantWallet},
		Transfers: []expect.TransferExpectation{{
			Opcode:      uint8(sdktoken.InstructionMintTo),
			Authority:   p.MintAuthority,
			Source:      p.Mint,
			Destination: p.ClaimantTokenAccount,
			MaxAmount:   p.Amount,
		}},
		Meta: expect.Meta{RewardClaim: &expect.RewardClaimMeta{
			Mint: p.Mint, Claimant: p.ClaimantWallet, LaunchID: p.LaunchID,
		}},
	}
	return &Built{Instructions: instrs, Expectation: exp}, nil
}

// PresaleRedeemParams 预售兑付：从预售托管账户转出买家份额，
// 可附带一条协议费腿转入国库。
type PresaleRedeemParams struct {
	Mint                 types.Pubkey
	Vault                types.Pubkey // 预售托管 TokenAccount
	VaultAuthority       types.Pubkey // 托管签名者
	BuyerWallet          types.Pubkey
	BuyerTokenAccount    types.Pubkey
	Amount               uint64
	FeeTokenAccount      types.Pubkey // 零值表示无费用腿
	FeeAmount            uint64
	PresaleID            string
	TTLSec               int64
	CUPriceMicroLamports uint64
}

func PresaleRedeem(p PresaleRedeemParams) (*Built, error) {
	if p.Amount == 0 {
		return nil, fmt.Errorf("presale redeem amount must be positive")
	}
	instrs := withComputeBudget(p.CUPriceMicroLamports,
		withCosigner(sdktoken.Transfer(sdktoken.TransferParam{
			From:   p.Vault.ToCommon(),
			To:     p.BuyerTokenAccount.ToCommon(),
			Auth:   p.VaultAuthority.ToCommon(),
			Amount: p.Amount,
		}), p.BuyerWallet),
	)
	transfers := []expect.TransferExpectation{{
		Opcode:      uint8(sdktoken.InstructionTransfer),
		Authority:   p.VaultAuthority,
		Source:      p.Vault,
		Destination: p.BuyerTokenAccount,
		MaxAmount:   p.Amount,
	}}
	if !p.FeeTokenAccount.IsZero() && p.FeeAmount > 0 {
		instrs = append(instrs, sdktoken.Transfer(sdktoken.TransferParam{
			From:   p.Vault.ToCommon(),
			To:     p.FeeTokenAccount.ToCommon(),
			Auth:   p.VaultAuthority.ToCommon(),
			Amount: p.FeeAmount,
		}))
		transfers = append(transfers, expect.TransferExpectation{
			Opcode:      uint8(sdktoken.InstructionTransfer),
			Authority:   p.VaultAuthority,
			Source:      p.Vault,
			Destination: p.FeeTokenAccount,
			MaxAmount:   p.FeeAmount,
		})
	}
	exp := &expect.Expectation{
		Kind:            expect.KindPresaleRedeem,
		TTLSec:          p.TTLSec,
		ResourceKey:     p.Mint.String(),
		RequiredSigners: []types.Pubkey{p.BuyerWallet},
		Transfers:       transfers,
		Meta: expect.Meta{PresaleRedeem: &expect.PresaleRedeemMeta{
			Mint: p.Mint, Vault: p.Vault, Buyer: p.BuyerWallet, PresaleID: p.PresaleID,
		}},
	}
	return &Built{Instructions: instrs, Expectation: exp}, nil
}

// FeeCollectParams 费用归集：托管费用账户向国库转账，由运营方发起
type FeeCollectParams struct {
	Pool                 types.Pubkey
	FeeVault             types.Pubkey
	VaultAuthority       types.Pubkey
	TreasuryTokenAccount types.Pubkey
	OperatorWallet       types.Pubkey
	Amount               uint64
	TTLSec               int64
	CUPriceMicroLamports uint64
}

func FeeCollect(p FeeCollectParams) (*Built, error) {
	if p.Amount == 0 {
		return nil, fmt.Errorf("fee collect amount must be positive")
	}
	instrs := withComputeBudget(p.CUPriceMicroLamports,
		withCosigner(sdktoken.Transfer(sdktoken.TransferParam{
			From:   p.FeeVault.ToCommon(),
			To:     p.TreasuryTokenAccount.ToCommon(),
			Auth:   p.VaultAuthority.ToCommon(),
			Amount: p.Amount,
		}), p.OperatorWallet),
	)
	exp := &expect.Expectation{
		Kind:            expect.KindFeeCollect,
		TTLSec:          p.TTLSec,
		ResourceKey:     p.Pool.String(),
		RequiredSigners: []types.Pubkey{p.OperatorWallet},
		Transfers: []expect.TransferExpectation{{
			Opcode:      uint8(sdktoken.InstructionTransfer),
			Authority:   p.VaultAuthority,
			Source:      p.FeeVault,
			Destination: p.TreasuryTokenAccount,
			MaxAmount:   p.Amount,
		}},
		Meta: expect.Meta{FeeCollect: &expect.FeeCollectMeta{
			Pool: p.Pool, Treasury: p.TreasuryTokenAccount,
		}},
	}
	return &Built{Instructions: instrs, Expectation: exp}, nil
}

// LiquidityParams 池子流动性移动。Withdraw=true 时托管权限从池子金库
// 转给用户；否则用户自己作为权限方向金库注入（服务端仅代付手续费并
// 守门校验）。
type LiquidityParams struct {
	Pool                 types.Pubkey
	PoolVault            types.Pubkey
	VaultAuthority       types.Pubkey // 托管签名者（提取时的权限方）
	UserWallet           types.Pubkey
	UserTokenAccount     types.Pubkey
	Amount               uint64
	Withdraw             bool
	TTLSec               int64
	CUPriceMicroLamports uint64
}

func Liquidity(p LiquidityParams) (*Built, error) {
	if p.Amount == 0 {
		return nil, fmt.Errorf("liquidity amount must be positive")
	}

	kind := expect.KindLiquidityDeposit
	from, to := p.UserTokenAccount, p.PoolVault
	auth := p.UserWallet
	if p.Withdraw {
		kind = expect.KindLiquidityWithdraw
		from, to = p.PoolVault, p.UserTokenAccount
		auth = p.VaultAuthority
	}

	ix := sdktoken.Transfer(sdktoken.TransferParam{
		From:   from.ToCommon(),
		To:     to.ToCommon(),
		Auth:   auth.ToCommon(),
		Amount: p.Amount,
	})
	if p.Withdraw {
		// 提取时权限方是托管密钥，用户钱包作为额外必需签名者挂在指令上
		ix = withCosigner(ix, p.UserWallet)
	}
	instrs := withComputeBudget(p.CUPriceMicroLamports, ix)
	exp := &expect.Expectation{
		Kind:            kind,
		TTLSec:          p.TTLSec,
		ResourceKey:     p.Pool.String(),
		RequiredSigners: []types.Pubkey{p.UserWallet},
		Transfers: []expect.TransferExpectation{{
			Opcode:      uint8(sdktoken.InstructionTransfer),
			Authority:   auth,
			Source:      from,
			Destination: to,
			MaxAmount:   p.Amount,
		}},
		Meta: expect.Meta{Liquidity: &expect.LiquidityMeta{
			Pool: p.Pool, Wallet: p.UserWallet, Withdraw: p.Withdraw,
		}},
	}
	return &Built{Instructions: instrs, Expectation: exp}, nil
}

// withCosigner 将远端钱包以签名账户的形式追加到指令尾部。
// Token 程序忽略多余的尾部账户，但消息编译会因此把该钱包纳入必需
// 签名区——这正是 confirm 阶段验签的前提。
func withCosigner(ix sdktypes.Instruction, wallet types.Pubkey) sdktypes.Instruction {
	ix.Accounts = append(ix.Accounts, sdktypes.AccountMeta{
		PubKey:     wallet.ToCommon(),
		IsSigner:   true,
		IsWritable: false,
	})
	return ix
}

func withComputeBudget(cuPrice uint64, instrs ...sdktypes.Instruction) []sdktypes.Instruction {
	if cuPrice == 0 {
		return instrs
	}
	out := make([]sdktypes.Instruction, 0, len(instrs)+1)
	out = append(out, compute_budget.SetComputeUnitPrice(compute_budget.SetComputeUnitPriceParam{
		MicroLamports: cuPrice,
	}))
	return append(out, instrs...)
}

// AssembleUnsigned 将指令编译为消息并序列化为未签名交易字节：
// 全部签名槽位以零填充，等待远端与托管方先后补签。
func AssembleUnsigned(feePayer types.Pubkey, blockhash string, instrs []sdktypes.Instruction) (sdktypes.Message, []byte, error) {
	msg := sdktypes.NewMessage(sdktypes.NewMessageParam{
		FeePayer:        feePayer.ToCommon(),
		RecentBlockhash: blockhash,
		Instructions:    instrs,
	})
	tx := sdktypes.Transaction{Message: msg}
	for i := 0; i < int(msg.Header.NumRequireSignatures); i++ {
		tx.Signatures = append(tx.Signatures, make([]byte, consts.SignatureLength))
	}
	raw, err := tx.Serialize()
	if err != nil {
		return sdktypes.Message{}, nil, fmt.Errorf("serialize unsigned tx: %w", err)
	}
	return msg, raw, nil
}

// AccountsOf 便捷提取指令账户公钥（摘要/日志用）
func AccountsOf(ix sdktypes.Instruction) []types.Pubkey {
	out := make([]types.Pubkey, 0, len(ix.Accounts))
	for _, a := range ix.Accounts {
		out = append(out, types.FromCommon(a.PubKey))
	}
	return out
}
