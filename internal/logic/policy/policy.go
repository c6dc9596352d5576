// Package policy 实现指令级策略校验：对照预期记录逐条审查已签名交易的
// 指令列表，纯字节/结构判定，绝不查询链上实时状态（余额、价格等由
// 编排层在资格复核阶段单独处理）。
package policy

import (
	"fmt"

	"custody-relay-sol/internal/consts"
	"custody-relay-sol/internal/logic/expect"
	"custody-relay-sol/internal/logic/txdecode"
	"custody-relay-sol/internal/types"
)

// Outcome 校验结果。只有 Accepted 且 Matched 与预期白名单构成完整双射时
// 才允许进入加签环节。
type Outcome struct {
	Accepted bool
	Reason   string
	// Matched 每个目标账户实际命中的总金额（最小单位）
	Matched map[types.Pubkey]uint64
}

func reject(format string, args ...any) Outcome {
	return Outcome{Reason: fmt.Sprintf(format, args...)}
}

// Validate 按交易内出现顺序审查指令：
//  1. 程序不在白名单 → 拒绝；辅助程序无条件放行但不计入匹配；
//  2. 托管程序指令码不属于该预期声明的指令码集合 → 拒绝；
//  3. 权限账户、目标账户按指令码的固定位置提取并精确比对；
//  4. 金额小端解析，超过该目标的记录上限 → 拒绝（可以更少，不能更多）；
//  5. 同一目标第二次命中且未显式允许多腿 → 拒绝；
//  6. 收尾：上限为正的目标必须全部恰好命中——少一个收款人与多一个
//     未授权收款人同样非法。
func Validate(instrs []txdecode.DecodedInstruction, exp *expect.Expectation) Outcome {
	allowedOpcodes := make(map[uint8]bool, len(exp.Transfers))
	for _, te := range exp.Transfers {
		allowedOpcodes[te.Opcode] = true
	}

	matchCount := make([]int, len(exp.Transfers))
	matchedAmounts := make(map[types.Pubkey]uint64)

	for i, ix := range instrs {
		if consts.AuxiliaryPrograms[ix.ProgramID] {
			continue
		}
		if !consts.CustodialPrograms[ix.ProgramID] {
			return reject("instruction %d: program %s not in allow-list", i, ix.ProgramID)
		}
		if !allowedOpcodes[ix.Opcode] {
			return reject("instruction %d: opcode %d not expected for %s flow", i, ix.Opcode, exp.Kind)
		}
		if !ix.HasAmount {
			// allowedOpcodes 只含转账形态指令码，走到这里说明解码层被绕过
			return reject("instruction %d: opcode %d has no decoded amount", i, ix.Opcode)
		}

		authority := ix.Accounts[txdecode.AuthorityIndex(ix.Opcode)]
		destination := ix.Accounts[txdecode.DestinationIndex(ix.Opcode)].Pubkey
		source := ix.Accounts[txdecode.SourceIndex(ix.Opcode)].Pubkey

		teIdx := -1
		for j, te := range exp.Transfers {
			if te.Opcode == ix.Opcode && te.Destination == destination {
				teIdx = j
				break
			}
		}
		if teIdx < 0 {
			return reject("instruction %d: destination %s not whitelisted", i, destination)
		}
		te := exp.Transfers[teIdx]

		if authority.Pubkey != te.Authority {
			return reject("instruction %d: authority %s, expected %s", i, authority.Pubkey, te.Authority)
		}
		if !authority.IsSigner {
			return reject("instruction %d: authority %s is not a signer", i, authority.Pubkey)
		}
		if !te.Source.IsZero() && source != te.Source {
			return reject("instruction %d: source %s, expected %s", i, source, te.Source)
		}
		if ix.Amount > te.MaxAmount {
			return reject("instruction %d: amount %d exceeds max %d for %s", i, ix.Amount, te.MaxAmount, destination)
		}

		matchCount[teIdx]++
		if matchCount[teIdx] > 1 && !te.AllowMultiLeg {
			return reject("instruction %d: duplicate leg to %s", i, destination)
		}
		matchedAmounts[destination] += ix.Amount
	}

	for j, te := range exp.Transfers {
		// 上限为 0 的腿可缺席：资格在 build 与 confirm 之间收缩到 0 属正常
		if te.MaxAmount > 0 && matchCount[j] == 0 {
			return reject("required destination %s not matched", te.Destination)
		}
	}

	return Outcome{Accepted: true, Matched: matchedAmounts}
}
