// Package handler 薄 HTTP 入口：只做解析、转发与错误映射，
// 业务/验证逻辑全部在 relay 层。
package handler

import (
	"encoding/base64"
	"errors"
	"net/http"

	"custody-relay-sol/internal/logic/builder"
	"custody-relay-sol/internal/logic/relay"
	"custody-relay-sol/internal/relayerr"
	"custody-relay-sol/internal/svc"
	"custody-relay-sol/internal/types"

	"github.com/zeromicro/go-zero/rest"
	"github.com/zeromicro/go-zero/rest/httpx"
)

type buildRewardClaimReq struct {
	Mint                 string `json:"mint"`
	ClaimantWallet       string `json:"claimant_wallet"`
	ClaimantTokenAccount string `json:"claimant_token_account"`
	Amount               uint64 `json:"amount"`
	LaunchID             string `json:"launch_id"`
}

type buildPresaleRedeemReq struct {
	Mint              string `json:"mint"`
	Vault             string `json:"vault"`
	BuyerWallet       string `json:"buyer_wallet"`
	BuyerTokenAccount string `json:"buyer_token_account"`
	Amount            uint64 `json:"amount"`
	FeeTokenAccount   string `json:"fee_token_account,optional"`
	FeeAmount         uint64 `json:"fee_amount,optional"`
	PresaleID         string `json:"presale_id"`
}

type buildFeeCollectReq struct {
	Pool                 string `json:"pool"`
	FeeVault             string `json:"fee_vault"`
	TreasuryTokenAccount string `json:"treasury_token_account"`
	OperatorWallet       string `json:"operator_wallet"`
	Amount               uint64 `json:"amount"`
}

type buildLiquidityReq struct {
	Pool             string `json:"pool"`
	PoolVault        string `json:"pool_vault"`
	UserWallet       string `json:"user_wallet"`
	UserTokenAccount string `json:"user_token_account"`
	Amount           uint64 `json:"amount"`
	Withdraw         bool   `json:"withdraw,optional"`
}

type confirmReq struct {
	RequestID string `json:"request_id"`
	SignedTx  string `json:"signed_tx"` // base64
}

type buildResp struct {
	RequestID  string `json:"request_id"`
	UnsignedTx string `json:"unsigned_tx"` // base64
	Summary    string `json:"summary"`
}

type confirmResp struct {
	Success   bool              `json:"success"`
	Signature string            `json:"signature,omitempty"`
	Amounts   map[string]uint64 `json:"confirmed_amounts,omitempty"`
	Finalized bool              `json:"finalized,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// RegisterHandlers 注册中继服务的全部路由
func RegisterHandlers(server *rest.Server, svcCtx *svc.ServiceContext) {
	server.AddRoutes([]rest.Route{
		{Method: http.MethodPost, Path: "/v1/build/reward-claim", Handler: buildRewardClaimHandler(svcCtx)},
		{Method: http.MethodPost, Path: "/v1/build/presale-redeem", Handler: buildPresaleRedeemHandler(svcCtx)},
		{Method: http.MethodPost, Path: "/v1/build/fee-collect", Handler: buildFeeCollectHandler(svcCtx)},
		{Method: http.MethodPost, Path: "/v1/build/liquidity", Handler: buildLiquidityHandler(svcCtx)},
		{Method: http.MethodPost, Path: "/v1/confirm", Handler: confirmHandler(svcCtx)},
	})
}

func buildRewardClaimHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req buildRewardClaimReq
		if err := httpx.Parse(r, &req); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}
		mint, err1 := types.TryPubkeyFromBase58(req.Mint)
		wallet, err2 := types.TryPubkeyFromBase58(req.ClaimantWallet)
		tokenAcc, err3 := types.TryPubkeyFromBase58(req.ClaimantTokenAccount)
		if err := firstErr(err1, err2, err3); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}
		res, err := svcCtx.Relay.BuildRewardClaim(r.Context(), builder.RewardClaimParams{
			Mint:                 mint,
			ClaimantWallet:       wallet,
			ClaimantTokenAccount: tokenAcc,
			Amount:               req.Amount,
			LaunchID:             req.LaunchID,
		})
		writeBuild(w, r, res, err)
	}
}

func buildPresaleRedeemHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req buildPresaleRedeemReq
		if err := httpx.Parse(r, &req); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}
		mint, err1 := types.TryPubkeyFromBase58(req.Mint)
		vault, err2 := types.TryPubkeyFromBase58(req.Vault)
		wallet, err3 := types.TryPubkeyFromBase58(req.BuyerWallet)
		tokenAcc, err4 := types.TryPubkeyFromBase58(req.BuyerTokenAccount)
		if err := firstErr(err1, err2, err3, err4); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}
		p := builder.PresaleRedeemParams{
			Mint:              mint,
			Vault:             vault,
			BuyerWallet:       wallet,
			BuyerTokenAccount: tokenAcc,
			Amount:            req.Amount,
			FeeAmount:         req.FeeAmount,
			PresaleID:         req.PresaleID,
		}
		if req.FeeTokenAccount != "" {
			feeAcc, err := types.TryPubkeyFromBase58(req.FeeTokenAccount)
			if err != nil {
				httpx.ErrorCtx(r.Context(), w, err)
				return
			}
			p.FeeTokenAccount = feeAcc
		}
		res, err := svcCtx.Relay.BuildPresaleRedeem(r.Context(), p)
		writeBuild(w, r, res, err)
	}
}

func buildFeeCollectHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req buildFeeCollectReq
		if err := httpx.Parse(r, &req); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}
		pool, err1 := types.TryPubkeyFromBase58(req.Pool)
		vault, err2 := types.TryPubkeyFromBase58(req.FeeVault)
		treasury, err3 := types.TryPubkeyFromBase58(req.TreasuryTokenAccount)
		operator, err4 := types.TryPubkeyFromBase58(req.OperatorWallet)
		if err := firstErr(err1, err2, err3, err4); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}
		res, err := svcCtx.Relay.BuildFeeCollect(r.Context(), builder.FeeCollectParams{
			Pool:                 pool,
			FeeVault:             vault,
			TreasuryTokenAccount: treasury,
			OperatorWallet:       operator,
			Amount:               req.Amount,
		})
		writeBuild(w, r, res, err)
	}
}

func buildLiquidityHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req buildLiquidityReq
		if err := httpx.Parse(r, &req); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}
		pool, err1 := types.TryPubkeyFromBase58(req.Pool)
		vault, err2 := types.TryPubkeyFromBase58(req.PoolVault)
		wallet, err3 := types.TryPubkeyFromBase58(req.UserWallet)
		tokenAcc, err4 := types.TryPubkeyFromBase58(req.UserTokenAccount)
		if err := firstErr(err1, err2, err3, err4); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}
		res, err := svcCtx.Relay.BuildLiquidity(r.Context(), builder.LiquidityParams{
			Pool:             pool,
			PoolVault:        vault,
			UserWallet:       wallet,
			UserTokenAccount: tokenAcc,
			Amount:           req.Amount,
			Withdraw:         req.Withdraw,
		})
		writeBuild(w, r, res, err)
	}
}

func confirmHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req confirmReq
		if err := httpx.Parse(r, &req); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}
		raw, err := base64.StdEncoding.DecodeString(req.SignedTx)
		if err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}
		res, err := svcCtx.Relay.Confirm(r.Context(), req.RequestID, raw)
		if err != nil {
			httpx.WriteJsonCtx(r.Context(), w, statusFor(err), confirmResp{
				Success: false,
				Reason:  err.Error(),
			})
			return
		}
		httpx.OkJsonCtx(r.Context(), w, confirmResp{
			Success:   true,
			Signature: res.Signature,
			Amounts:   res.Amounts,
			Finalized: res.Finalized,
		})
	}
}

func writeBuild(w http.ResponseWriter, r *http.Request, res *relay.BuildResult, err error) {
	if err != nil {
		httpx.WriteJsonCtx(r.Context(), w, statusFor(err), confirmResp{Success: false, Reason: err.Error()})
		return
	}
	httpx.OkJsonCtx(r.Context(), w, buildResp{
		RequestID:  res.RequestID,
		UnsignedTx: base64.StdEncoding.EncodeToString(res.UnsignedTx),
		Summary:    res.Summary,
	})
}

// statusFor 错误分级到 HTTP 状态码的映射。
// ConfirmationTimeout 用 504 单独呈现：结果不确定，调用方不得盲目重试。
func statusFor(err error) int {
	switch {
	case errors.Is(err, relayerr.ErrNotFound), errors.Is(err, relayerr.ErrExpired):
		return http.StatusNotFound
	case errors.Is(err, relayerr.ErrNotSigned),
		errors.Is(err, relayerr.ErrInvalidSignature),
		errors.Is(err, relayerr.ErrSignerMissing):
		return http.StatusUnauthorized
	case errors.Is(err, relayerr.ErrValidationRejected),
		errors.Is(err, relayerr.ErrEligibilityRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, relayerr.ErrBroadcastFailed):
		return http.StatusBadGateway
	case errors.Is(err, relayerr.ErrConfirmationTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
