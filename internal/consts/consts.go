package consts

const (
	ChainIDSolana uint32 = 100000

	// RequestIDBytes 请求 ID 的随机字节数（base58 编码后返回给调用方）
	RequestIDBytes = 16

	// SignatureLength ed25519 签名长度
	SignatureLength = 64
)
