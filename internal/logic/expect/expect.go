package expect

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"custody-relay-sol/internal/consts"
	"custody-relay-sol/internal/types"

	"github.com/mr-tron/base58"
)

// Kind 业务流类型
type Kind uint8

const (
	KindRewardClaim Kind = iota + 1
	KindPresaleRedeem
	KindFeeCollect
	KindLiquidityWithdraw
	KindLiquidityDeposit
)

func (k Kind) String() string {
	switch k {
	case KindRewardClaim:
		return "reward_claim"
	case KindPresaleRedeem:
		return "presale_redeem"
	case KindFeeCollect:
		return "fee_collect"
	case KindLiquidityWithdraw:
		return "liquidity_withdraw"
	case KindLiquidityDeposit:
		return "liquidity_deposit"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// TransferExpectation 描述一条允许出现的动账指令：
// 指定 opcode、权限账户、目标账户与金额上限。金额可以小于等于上限
// （build 与 confirm 之间资格只会收缩，不会扩大），超过上限即拒绝。
type TransferExpectation struct {
	Opcode        uint8        // Token 程序指令码（Transfer / MintTo 等）
	Authority     types.Pubkey // 该指令的权限账户，必须完全一致
	Source        types.Pubkey // 来源账户约束（MintTo 场景为 mint 地址）；零值表示不约束
	Destination   types.Pubkey // 目标 TokenAccount，必须在白名单内
	MaxAmount     uint64       // 金额上限（最小单位）；0 表示该腿可缺席
	AllowMultiLeg bool         // 是否允许多条指令命中同一目标
}

// 各业务流的元数据记录。每条 Expectation 恰好携带其中一种，
// 资格复核时按 Kind 精确分发，不做鸭子类型转换。

type RewardClaimMeta struct {
	Mint     types.Pubkey // 奖励代币 mint
	Claimant types.Pubkey // 领取人钱包
	LaunchID string       // 业务侧 launch 标识
}

type PresaleRedeemMeta struct {
	Mint      types.Pubkey // 预售代币 mint
	Vault     types.Pubkey // 预售托管 TokenAccount
	Buyer     types.Pubkey // 买家钱包
	PresaleID string
}

type FeeCollectMeta struct {
	Pool     types.Pubkey // 费用所属池子
	Treasury types.Pubkey // 国库 TokenAccount
}

type LiquidityMeta struct {
	Pool     types.Pubkey // 池子地址
	Wallet   types.Pubkey // 用户钱包
	Withdraw bool         // true=提取，false=注入
}

// Meta 按流打标的元数据联合体，恰好一个字段非 nil。
type Meta struct {
	RewardClaim   *RewardClaimMeta
	PresaleRedeem *PresaleRedeemMeta
	FeeCollect    *FeeCollectMeta
	Liquidity     *LiquidityMeta
}

// Expectation 服务端在 build 阶段产生的"预期"记录：
// 签名回传后，交易允许包含的全部内容以此为准。
// 记录从创建到唯一终态（确认/拒绝/过期）始终归 Store 独占，
// 删除后同一 ID 的任何读取都必须返回 ErrNotFound。
type Expectation struct {
	ID              string
	Kind            Kind
	CreatedAt       int64 // unix 秒
	TTLSec          int64
	ResourceKey     string // 被保护托管账户的串行化键（mint/池子地址）
	Blockhash       string // build 时使用的 blockhash，confirm 时必须一致
	FeePayer        types.Pubkey
	RequiredSigners []types.Pubkey // 服务端加签前必须验证的远端签名者
	Transfers       []TransferExpectation
	Meta            Meta
}

// ExpiresAt 过期时刻（unix 秒）
func (e *Expectation) ExpiresAt() int64 {
	return e.CreatedAt + e.TTLSec
}

// Expired 判断在 now 时刻是否已过期
func (e *Expectation) Expired(now time.Time) bool {
	return e.ExpiresAt() < now.Unix()
}

// Summary 生成给调用方的人类可读预期摘要
func (e *Expectation) Summary() string {
	s := fmt.Sprintf("%s: %d transfer leg(s)", e.Kind, len(e.Transfers))
	for _, t := range e.Transfers {
		s += fmt.Sprintf("; max %d -> %s", t.MaxAmount, t.Destination)
	}
	return s
}

// Store 预期记录的存取接口。实现必须保证：
//   - Delete 幂等，重复删除不报错；
//   - 任一 Delete（成功/拒绝清理/过期清扫）之后，Get 永远返回 ErrNotFound，
//     不存在软删除或宽限期，防止用旧预期重放已签名负载。
type Store interface {
	Create(ctx context.Context, exp *Expectation) (string, error)
	Get(ctx context.Context, id string) (*Expectation, error)
	Delete(ctx context.Context, id string) error
}

// NewRequestID 生成随机请求 ID（16 字节，base58 编码）
func NewRequestID() (string, error) {
	buf := make([]byte, consts.RequestIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate request id: %w", err)
	}
	return base58.Encode(buf), nil
}
