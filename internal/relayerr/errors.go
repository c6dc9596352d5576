package relayerr

import "errors"

// 确认流程的错误分级。CO_SIGNED 之前的所有拒绝对托管资金均无副作用；
// 只有 ErrBroadcastFailed 与 ErrConfirmationTimeout 发生在不可回退点之后。
var (
	// ErrNotFound 请求 ID 对应的预期记录不存在（已消费、已清理或从未创建）
	ErrNotFound = errors.New("pending expectation not found")

	// ErrExpired 预期记录已超过 TTL，或交易引用的 blockhash 已失效
	ErrExpired = errors.New("expectation expired")

	// ErrSignerMissing 必需签名者的公钥不在交易账户列表的签名区
	ErrSignerMissing = errors.New("required signer missing from transaction")

	// ErrNotSigned 签名槽位为空（交易声明尚未由该方签名）
	ErrNotSigned = errors.New("required signer has not signed")

	// ErrInvalidSignature 签名槽位非空但校验失败
	ErrInvalidSignature = errors.New("signature verification failed")

	// ErrValidationRejected 指令结构/策略校验不通过
	ErrValidationRejected = errors.New("instruction policy validation rejected")

	// ErrEligibilityRejected 业务资格复核不通过
	ErrEligibilityRejected = errors.New("eligibility re-check rejected")

	// ErrBroadcastFailed 广播被节点拒绝，或链上执行确定性失败（资金未动）
	ErrBroadcastFailed = errors.New("broadcast failed")

	// ErrConfirmationTimeout 轮询次数耗尽仍无终态（结果不确定，严禁自动重试）
	ErrConfirmationTimeout = errors.New("confirmation timed out")
)

// IsSafeReject 判断错误是否属于确定未动账的安全拒绝
func IsSafeReject(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrSignerMissing) ||
		errors.Is(err, ErrNotSigned) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrValidationRejected) ||
		errors.Is(err, ErrEligibilityRejected)
}
