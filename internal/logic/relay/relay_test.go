package relay

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"custody-relay-sol/internal/chain"
	"custody-relay-sol/internal/consts"
	"custody-relay-sol/internal/eligibility"
	"custody-relay-sol/internal/logic/builder"
	"custody-relay-sol/internal/logic/expect"
	"custody-relay-sol/internal/logic/keylock"
	"custody-relay-sol/internal/logic/sigverify"
	"custody-relay-sol/internal/relayerr"
	"custody-relay-sol/internal/types"

	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger 可编排的账本节点桩：固定 blockhash，签名状态按队列逐次吐出
type fakeLedger struct {
	mu             sync.Mutex
	blockhash      string
	blockhashValid bool
	sendErr        error
	sent           []sdktypes.Transaction
	statuses       []*chain.Status
}

func (f *fakeLedger) GetLatestBlockhash(_ context.Context) (string, error) {
	return f.blockhash, nil
}

func (f *fakeLedger) IsBlockhashValid(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockhashValid, nil
}

func (f *fakeLedger) SendTransaction(_ context.Context, tx sdktypes.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, tx)
	return "fake-signature-1", nil
}

func (f *fakeLedger) GetSignatureStatus(_ context.Context, _ string) (*chain.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return nil, nil // 节点尚未观察到该签名
	}
	st := f.statuses[0]
	f.statuses = f.statuses[1:]
	return st, nil
}

func (f *fakeLedger) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type env struct {
	relay   *Relay
	store   *expect.MemoryStore
	locks   *keylock.KeyedLock
	ledger  *fakeLedger
	oracle  *eligibility.StaticOracle
	custody sdktypes.Account
	user    sdktypes.Account

	mint     types.Pubkey
	userDest types.Pubkey
	launchID string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store: expect.NewMemoryStore(time.Minute),
		locks: keylock.New(),
		ledger: &fakeLedger{
			blockhash:      types.FromCommon(sdktypes.NewAccount().PublicKey).String(),
			blockhashValid: true,
			statuses:       []*chain.Status{{Slot: 100, Confirmed: true, Finalized: true}},
		},
		oracle:   eligibility.NewStaticOracle(),
		custody:  sdktypes.NewAccount(),
		user:     sdktypes.NewAccount(),
		mint:     types.FromCommon(sdktypes.NewAccount().PublicKey),
		userDest: types.FromCommon(sdktypes.NewAccount().PublicKey),
		launchID: "launch-1",
	}
	e.relay = New(e.store, e.locks, e.ledger, e.oracle, e.custody, nil, Config{
		ConfirmAttempts: 3,
		ConfirmDelay:    time.Millisecond,
		DefaultTTLSec:   300,
	})
	return e
}

func (e *env) rewardMeta() expect.Meta {
	return expect.Meta{RewardClaim: &expect.RewardClaimMeta{
		Mint:     e.mint,
		Claimant: types.FromCommon(e.user.PublicKey),
		LaunchID: e.launchID,
	}}
}

func (e *env) grant(amount uint64) {
	e.oracle.Grant(expect.KindRewardClaim, e.rewardMeta(), map[types.Pubkey]uint64{e.userDest: amount})
}

func (e *env) buildRewardClaim(t *testing.T, amount uint64) *BuildResult {
	t.Helper()
	res, err := e.relay.BuildRewardClaim(context.Background(), builder.RewardClaimParams{
		Mint:                 e.mint,
		ClaimantWallet:       types.FromCommon(e.user.PublicKey),
		ClaimantTokenAccount: e.userDest,
		Amount:               amount,
		LaunchID:             e.launchID,
	})
	require.NoError(t, err)
	return res
}

// signAs 在指定签名者的槽位上补签并重新序列化
func signAs(t *testing.T, raw []byte, acct sdktypes.Account) []byte {
	t.Helper()
	tx, err := sdktypes.TransactionDeserialize(raw)
	require.NoError(t, err)
	msgBytes, err := tx.Message.Serialize()
	require.NoError(t, err)
	idx := sigverify.SignerIndex(&tx.Message, types.FromCommon(acct.PublicKey))
	require.GreaterOrEqual(t, idx, 0, "signer not in required set")
	tx.Signatures[idx] = ed25519.Sign(acct.PrivateKey, msgBytes)
	out, err := tx.Serialize()
	require.NoError(t, err)
	return out
}

func TestBuildRewardClaim_EligibilityGates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := builder.RewardClaimParams{
		Mint:                 e.mint,
		ClaimantWallet:       types.FromCommon(e.user.PublicKey),
		ClaimantTokenAccount: e.userDest,
		Amount:               1000,
		LaunchID:             e.launchID,
	}

	// 未登记资格
	_, err := e.relay.BuildRewardClaim(ctx, p)
	assert.ErrorIs(t, err, relayerr.ErrEligibilityRejected)

	// 请求超出资格上限
	e.grant(999)
	_, err = e.relay.BuildRewardClaim(ctx, p)
	assert.ErrorIs(t, err, relayerr.ErrEligibilityRejected)

	// 恰好等于上限
	e.grant(1000)
	res, err := e.relay.BuildRewardClaim(ctx, p)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RequestID)
	assert.NotEmpty(t, res.UnsignedTx)
	assert.Contains(t, res.Summary, "reward_claim")
}

func TestConfirm_HappyPath(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.grant(1000)
	built := e.buildRewardClaim(t, 1000)

	res, err := e.relay.Confirm(ctx, built.RequestID, signAs(t, built.UnsignedTx, e.user))
	require.NoError(t, err)
	assert.Equal(t, "fake-signature-1", res.Signature)
	assert.True(t, res.Finalized)
	assert.Equal(t, uint64(1000), res.Amounts[e.userDest.String()])

	// 播发的交易必须携带有效的托管签名（槽位 0，fee payer）
	require.Equal(t, 1, e.ledger.sentCount())
	sent := e.ledger.sent[0]
	msgBytes, err := sent.Message.Serialize()
	require.NoError(t, err)
	assert.True(t, sigverify.Verify(msgBytes, sent.Signatures[0], e.custody.PublicKey.Bytes()))

	// 预期消费即焚
	_, err = e.store.Get(ctx, built.RequestID)
	assert.ErrorIs(t, err, relayerr.ErrNotFound)
	assert.False(t, e.locks.Held(e.mint.String()))
}

func TestConfirm_AtMostOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.grant(1000)
	built := e.buildRewardClaim(t, 1000)
	signed := signAs(t, built.UnsignedTx, e.user)

	_, err := e.relay.Confirm(ctx, built.RequestID, signed)
	require.NoError(t, err)

	// 同一 ID 重复提交：预期已删除，零副作用
	_, err = e.relay.Confirm(ctx, built.RequestID, signed)
	assert.ErrorIs(t, err, relayerr.ErrNotFound)
	assert.Equal(t, 1, e.ledger.sentCount())
}

func TestConfirm_UnknownRequestID(t *testing.T) {
	e := newEnv(t)
	e.grant(1000)
	built := e.buildRewardClaim(t, 1000)

	_, err := e.relay.Confirm(context.Background(), "nonexistent", signAs(t, built.UnsignedTx, e.user))
	assert.ErrorIs(t, err, relayerr.ErrNotFound)
}

func TestConfirm_GarbageBytes(t *testing.T) {
	e := newEnv(t)
	_, err := e.relay.Confirm(context.Background(), "whatever", []byte{0x01, 0x02})
	assert.ErrorIs(t, err, relayerr.ErrValidationRejected)
}

func TestConfirm_MissingUserSignature(t *testing.T) {
	e := newEnv(t)
	e.grant(1000)
	built := e.buildRewardClaim(t, 1000)

	// 未补签直接回传
	_, err := e.relay.Confirm(context.Background(), built.RequestID, built.UnsignedTx)
	assert.ErrorIs(t, err, relayerr.ErrNotSigned)
	assert.Equal(t, 0, e.ledger.sentCount())
}

func TestConfirm_WrongKeySignature(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.grant(1000)
	built := e.buildRewardClaim(t, 1000)

	// 冒充者在用户槽位签名
	tx, err := sdktypes.TransactionDeserialize(built.UnsignedTx)
	require.NoError(t, err)
	msgBytes, err := tx.Message.Serialize()
	require.NoError(t, err)
	idx := sigverify.SignerIndex(&tx.Message, types.FromCommon(e.user.PublicKey))
	require.GreaterOrEqual(t, idx, 0)
	impostor := sdktypes.NewAccount()
	tx.Signatures[idx] = ed25519.Sign(impostor.PrivateKey, msgBytes)
	forged, err := tx.Serialize()
	require.NoError(t, err)

	_, err = e.relay.Confirm(ctx, built.RequestID, forged)
	assert.ErrorIs(t, err, relayerr.ErrInvalidSignature)
	assert.Equal(t, 0, e.ledger.sentCount())
}

func TestConfirm_TamperedAmount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.grant(1000)
	built := e.buildRewardClaim(t, 1000)

	// 用户改大金额后才签名：签名本身有效，策略层必须拦下
	tx, err := sdktypes.TransactionDeserialize(built.UnsignedTx)
	require.NoError(t, err)
	tampered := false
	for i, cix := range tx.Message.Instructions {
		if types.FromCommon(tx.Message.Accounts[cix.ProgramIDIndex]) == consts.TokenProgram {
			binary.LittleEndian.PutUint64(tx.Message.Instructions[i].Data[1:9], 2000)
			tampered = true
		}
	}
	require.True(t, tampered)
	raw, err := tx.Serialize()
	require.NoError(t, err)

	_, err = e.relay.Confirm(ctx, built.RequestID, signAs(t, raw, e.user))
	assert.ErrorIs(t, err, relayerr.ErrValidationRejected)
	assert.Equal(t, 0, e.ledger.sentCount())

	// 校验失败同样消费掉预期，重放同一 ID 必须 NotFound
	_, err = e.relay.Confirm(ctx, built.RequestID, signAs(t, raw, e.user))
	assert.ErrorIs(t, err, relayerr.ErrNotFound)
}

func TestConfirm_BlockhashMutated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.grant(1000)
	built := e.buildRewardClaim(t, 1000)

	tx, err := sdktypes.TransactionDeserialize(built.UnsignedTx)
	require.NoError(t, err)
	tx.Message.RecentBlockHash = types.FromCommon(sdktypes.NewAccount().PublicKey).String()
	raw, err := tx.Serialize()
	require.NoError(t, err)

	_, err = e.relay.Confirm(ctx, built.RequestID, signAs(t, raw, e.user))
	assert.ErrorIs(t, err, relayerr.ErrValidationRejected)
	assert.Equal(t, 0, e.ledger.sentCount())
}

func TestConfirm_EligibilityShrunkBelowSignedAmount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.grant(1000)
	built := e.buildRewardClaim(t, 1000)

	// build 与 confirm 之间资格收缩：已签名金额 1000 超过新上限 400
	e.grant(400)
	_, err := e.relay.Confirm(ctx, built.RequestID, signAs(t, built.UnsignedTx, e.user))
	assert.ErrorIs(t, err, relayerr.ErrValidationRejected)
	assert.Equal(t, 0, e.ledger.sentCount())
}

func TestConfirm_EligibilityRevoked(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.grant(1000)
	built := e.buildRewardClaim(t, 1000)

	e.oracle.Revoke(expect.KindRewardClaim, e.rewardMeta(), "already claimed")
	_, err := e.relay.Confirm(ctx, built.RequestID, signAs(t, built.UnsignedTx, e.user))
	assert.ErrorIs(t, err, relayerr.ErrEligibilityRejected)
	assert.Equal(t, 0, e.ledger.sentCount())
}

func TestConfirm_TTLElapsed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.grant(1000)
	built := e.buildRewardClaim(t, 1000)
	signed := signAs(t, built.UnsignedTx, e.user)

	// 把创建时间拨回 TTL 之外；内存存储把过期折算成删除
	exp, err := e.store.Get(ctx, built.RequestID)
	require.NoError(t, err)
	exp.CreatedAt -= exp.TTLSec + 10

	_, err = e.relay.Confirm(ctx, built.RequestID, signed)
	assert.ErrorIs(t, err, relayerr.ErrNotFound)
	assert.Equal(t, 0, e.ledger.sentCount())
}

func TestConfirm_StaleBlockhash(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.grant(1000)
	built := e.buildRewardClaim(t, 1000)

	e.ledger.mu.Lock()
	e.ledger.blockhashValid = false
	e.ledger.mu.Unlock()

	_, err := e.relay.Confirm(ctx, built.RequestID, signAs(t, built.UnsignedTx, e.user))
	assert.ErrorIs(t, err, relayerr.ErrExpired)
	assert.Equal(t, 0, e.ledger.sentCount())
}

func TestConfirm_OnChainFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.grant(1000)
	built := e.buildRewardClaim(t, 1000)

	e.ledger.mu.Lock()
	e.ledger.statuses = []*chain.Status{{Slot: 100, Err: "custom program error: 0x1"}}
	e.ledger.mu.Unlock()

	_, err := e.relay.Confirm(ctx, built.RequestID, signAs(t, built.UnsignedTx, e.user))
	assert.ErrorIs(t, err, relayerr.ErrBroadcastFailed)
}

func TestConfirm_ConfirmationTimeout(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.grant(1000)
	built := e.buildRewardClaim(t, 1000)

	e.ledger.mu.Lock()
	e.ledger.statuses = nil // 节点始终观察不到签名
	e.ledger.mu.Unlock()

	_, err := e.relay.Confirm(ctx, built.RequestID, signAs(t, built.UnsignedTx, e.user))
	assert.ErrorIs(t, err, relayerr.ErrConfirmationTimeout)
	// 已播发，结果不确定，不得当作未发生
	assert.Equal(t, 1, e.ledger.sentCount())
}

func TestConfirm_ResourceLockSerializes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.grant(1000)
	built := e.buildRewardClaim(t, 1000)
	signed := signAs(t, built.UnsignedTx, e.user)

	// 外部先占住该 mint 的资源锁
	release, err := e.locks.Lock(ctx, e.mint.String())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := e.relay.Confirm(ctx, built.RequestID, signed)
		done <- err
	}()

	// 锁被持有期间预期不能被消费
	time.Sleep(30 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("confirm finished while lock held: %v", err)
	default:
	}
	_, err = e.store.Get(ctx, built.RequestID)
	require.NoError(t, err)

	release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("confirm did not proceed after lock release")
	}
}

// stubStore 不做过期判定的存储桩，用于触发编排层自身的过期拒绝
type stubStore struct {
	exp *expect.Expectation
}

func (s *stubStore) Create(_ context.Context, exp *expect.Expectation) (string, error) {
	s.exp = exp
	if exp.ID == "" {
		exp.ID = "stub-id"
	}
	return exp.ID, nil
}

func (s *stubStore) Get(_ context.Context, id string) (*expect.Expectation, error) {
	if s.exp == nil || s.exp.ID != id {
		return nil, relayerr.ErrNotFound
	}
	return s.exp, nil
}

func (s *stubStore) Delete(_ context.Context, id string) error {
	if s.exp != nil && s.exp.ID == id {
		s.exp = nil
	}
	return nil
}

func TestConfirm_ExpiredExpectationRejectedByOrchestrator(t *testing.T) {
	e := newEnv(t)
	store := &stubStore{}
	e.relay = New(store, e.locks, e.ledger, e.oracle, e.custody, nil, Config{
		ConfirmAttempts: 3,
		ConfirmDelay:    time.Millisecond,
		DefaultTTLSec:   300,
	})

	ctx := context.Background()
	e.grant(1000)
	built := e.buildRewardClaim(t, 1000)
	signed := signAs(t, built.UnsignedTx, e.user)

	// 存储不判过期时，编排层的兜底检查必须拦下
	store.exp.CreatedAt -= store.exp.TTLSec + 10
	_, err := e.relay.Confirm(ctx, built.RequestID, signed)
	assert.ErrorIs(t, err, relayerr.ErrExpired)
	assert.Equal(t, 0, e.ledger.sentCount())

	// 过期拒绝同样清理记录
	_, err = store.Get(ctx, built.RequestID)
	assert.ErrorIs(t, err, relayerr.ErrNotFound)
}
