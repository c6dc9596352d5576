package eligibility

import (
	"context"
	"testing"

	"custody-relay-sol/internal/logic/expect"
	"custody-relay-sol/internal/types"

	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPubkey() types.Pubkey {
	return types.FromCommon(sdktypes.NewAccount().PublicKey)
}

func rewardMeta(claimant types.Pubkey) expect.Meta {
	return expect.Meta{RewardClaim: &expect.RewardClaimMeta{
		Mint: newPubkey(), Claimant: claimant, LaunchID: "launch-1",
	}}
}

func TestStaticOracle_NoRecord(t *testing.T) {
	o := NewStaticOracle()
	dec, err := o.Check(context.Background(), expect.KindRewardClaim, rewardMeta(newPubkey()))
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, "no eligibility record", dec.Reason)
}

func TestStaticOracle_GrantAndShrink(t *testing.T) {
	o := NewStaticOracle()
	claimant := newPubkey()
	dest := newPubkey()
	meta := rewardMeta(claimant)

	o.Grant(expect.KindRewardClaim, meta, map[types.Pubkey]uint64{dest: 100})
	dec, err := o.Check(context.Background(), expect.KindRewardClaim, meta)
	require.NoError(t, err)
	require.True(t, dec.Allowed)
	assert.Equal(t, uint64(100), dec.MaxAmounts[dest])

	// 覆盖登记，模拟外部数据收缩
	o.Grant(expect.KindRewardClaim, meta, map[types.Pubkey]uint64{dest: 40})
	dec, err = o.Check(context.Background(), expect.KindRewardClaim, meta)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), dec.MaxAmounts[dest])
}

func TestStaticOracle_Revoke(t *testing.T) {
	o := NewStaticOracle()
	meta := rewardMeta(newPubkey())
	o.Grant(expect.KindRewardClaim, meta, map[types.Pubkey]uint64{newPubkey(): 1})
	o.Revoke(expect.KindRewardClaim, meta, "already claimed")

	dec, err := o.Check(context.Background(), expect.KindRewardClaim, meta)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, "already claimed", dec.Reason)
}

func TestStaticOracle_ScopeIsolation(t *testing.T) {
	o := NewStaticOracle()
	a, b := newPubkey(), newPubkey()
	o.Grant(expect.KindRewardClaim, rewardMeta(a), map[types.Pubkey]uint64{newPubkey(): 10})

	// 另一位领取人不受影响
	dec, err := o.Check(context.Background(), expect.KindRewardClaim, rewardMeta(b))
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
}

func TestStaticOracle_MalformedMeta(t *testing.T) {
	o := NewStaticOracle()
	_, err := o.Check(context.Background(), expect.KindRewardClaim, expect.Meta{})
	assert.Error(t, err)
}
