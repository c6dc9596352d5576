// Package sigverify 校验交易消息上的 ed25519 签名。
package sigverify

import (
	"crypto/ed25519"
	"fmt"

	"custody-relay-sol/internal/consts"
	"custody-relay-sol/internal/relayerr"
	"custody-relay-sol/internal/types"

	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// Verify 校验 publicKey 对 message 的签名。纯函数，无状态；
// 比较本身的常数时间性质由 ed25519 原语保证。
func Verify(message, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != consts.SignatureLength {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// SignerIndex 在消息的必需签名区（前 NumRequireSignatures 个账户）中
// 定位 signer，找不到返回 -1。
func SignerIndex(msg *sdktypes.Message, signer types.Pubkey) int {
	numReq := int(msg.Header.NumRequireSignatures)
	for i := 0; i < numReq && i < len(msg.Accounts); i++ {
		if types.FromCommon(msg.Accounts[i]) == signer {
			return i
		}
	}
	return -1
}

// VerifyRequiredSigner 校验 tx 中 signer 的签名槽位：
//   - 公钥不在签名区 → ErrSignerMissing；
//   - 槽位缺失或全零（交易声明尚未由该方签名）→ ErrNotSigned；
//   - 槽位存在但校验失败 → ErrInvalidSignature。
//
// 三者都是终态拒绝，绝不重试。
func VerifyRequiredSigner(tx *sdktypes.Transaction, signer types.Pubkey) error {
	idx := SignerIndex(&tx.Message, signer)
	if idx < 0 {
		return fmt.Errorf("%w: %s", relayerr.ErrSignerMissing, signer)
	}

	if idx >= len(tx.Signatures) || isEmptySignature(tx.Signatures[idx]) {
		return fmt.Errorf("%w: %s", relayerr.ErrNotSigned, signer)
	}

	msgBytes, err := tx.Message.Serialize()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}
	if !Verify(msgBytes, tx.Signatures[idx], signer[:]) {
		return fmt.Errorf("%w: %s", relayerr.ErrInvalidSignature, signer)
	}
	return nil
}

func isEmptySignature(sig []byte) bool {
	if len(sig) != consts.SignatureLength {
		return true
	}
	for _, b := range sig {
		if b != 0 {
			return false
		}
	}
	return true
}
