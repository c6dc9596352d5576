// Package txdecode 将已编译的交易消息无损还原为可校验的指令列表。
// 托管程序的指令必须能按已知布局完整解码，解不开就报错，绝不跳过。
package txdecode

import (
	"encoding/binary"
	"fmt"

	"custody-relay-sol/internal/consts"
	"custody-relay-sol/internal/types"

	sdktoken "github.com/blocto/solana-go-sdk/program/token"
	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// AccountMeta 指令账户及其签名/可写属性（由消息头推导）
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// DecodedInstruction 一条完整解码的指令。
// 对转账形态的 Token 指令，金额取自固定偏移 data[1:9]（小端 u64）。
type DecodedInstruction struct {
	ProgramID types.Pubkey
	Opcode    uint8
	Accounts  []AccountMeta
	Data      []byte
	Amount    uint64
	HasAmount bool
}

// 转账形态指令的布局要求（数据长度 / 账户数下限）。
// 布局来源：
// SplToken: https://github.com/solana-program/token/blob/main/program/src/instruction.rs
var transferShapes = map[uint8]struct {
	minData     int
	minAccounts int
}{
	uint8(sdktoken.InstructionTransfer):        {9, 3},  // [src, dest, authority]
	uint8(sdktoken.InstructionTransferChecked): {10, 4}, // [src, mint, dest, authority]
	uint8(sdktoken.InstructionMintTo):          {9, 3},  // [mint, dest, authority]
	uint8(sdktoken.InstructionMintToChecked):   {10, 3}, // [mint, dest, authority]
}

// IsTransferShaped 判断托管程序指令码是否为转账形态
func IsTransferShaped(opcode uint8) bool {
	_, ok := transferShapes[opcode]
	return ok
}

// AuthorityIndex 返回转账形态指令中权限账户的固定位置
func AuthorityIndex(opcode uint8) int {
	if opcode == uint8(sdktoken.InstructionTransferChecked) {
		return 3
	}
	return 2
}

// DestinationIndex 返回转账形态指令中目标账户的固定位置
func DestinationIndex(opcode uint8) int {
	if opcode == uint8(sdktoken.InstructionTransferChecked) {
		return 2
	}
	return 1
}

// SourceIndex 返回来源账户（MintTo 场景下为 mint）的固定位置
func SourceIndex(opcode uint8) int {
	return 0
}

// DecodeMessage 将消息解码为指令列表。
// 任一指令索引越界、托管程序指令布局不符，均整体报错（拒绝而非跳过）。
// 带地址查找表的消息无法离线还原完整账户列表，直接拒绝。
func DecodeMessage(msg *sdktypes.Message) ([]DecodedInstruction, error) {
	if len(msg.AddressLookupTables) > 0 {
		return nil, fmt.Errorf("address lookup tables not supported for policy validation")
	}

	n := len(msg.Accounts)
	numReq := int(msg.Header.NumRequireSignatures)
	numROSigned := int(msg.Header.NumReadonlySignedAccounts)
	numROUnsigned := int(msg.Header.NumReadonlyUnsignedAccounts)
	if numReq > n {
		return nil, fmt.Errorf("invalid header: %d required signatures, %d accounts", numReq, n)
	}

	metaAt := func(idx int) (AccountMeta, error) {
		if idx < 0 || idx >= n {
			return AccountMeta{}, fmt.Errorf("account index %d out of range (%d accounts)", idx, n)
		}
		var writable bool
		if idx < numReq {
			writable = idx < numReq-numROSigned
		} else {
			writable = idx < n-numROUnsigned
		}
		return AccountMeta{
			Pubkey:     types.FromCommon(msg.Accounts[idx]),
			IsSigner:   idx < numReq,
			IsWritable: writable,
		}, nil
	}

	out := make([]DecodedInstruction, 0, len(msg.Instructions))
	for i, cix := range msg.Instructions {
		if cix.ProgramIDIndex < 0 || cix.ProgramIDIndex >= n {
			return nil, fmt.Errorf("instruction %d: program index %d out of range", i, cix.ProgramIDIndex)
		}
		di := DecodedInstruction{
			ProgramID: types.FromCommon(msg.Accounts[cix.ProgramIDIndex]),
			Data:      cix.Data,
		}
		for _, accIdx := range cix.Accounts {
			meta, err := metaAt(accIdx)
			if err != nil {
				return nil, fmt.Errorf("instruction %d: %w", i, err)
			}
			di.Accounts = append(di.Accounts, meta)
		}
		if len(cix.Data) > 0 {
			di.Opcode = cix.Data[0]
		}

		if consts.CustodialPrograms[di.ProgramID] {
			if len(cix.Data) == 0 {
				return nil, fmt.Errorf("instruction %d: empty data for token program", i)
			}
			if shape, ok := transferShapes[di.Opcode]; ok {
				if len(cix.Data) < shape.minData || len(di.Accounts) < shape.minAccounts {
					return nil, fmt.Errorf("instruction %d: opcode %d layout mismatch: data=%d accounts=%d",
						i, di.Opcode, len(cix.Data), len(di.Accounts))
				}
				di.Amount = binary.LittleEndian.Uint64(cix.Data[1:9])
				di.HasAmount = true
			}
		}
		out = append(out, di)
	}
	return out, nil
}
