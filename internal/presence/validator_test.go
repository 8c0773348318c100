package presence

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temporanet/tempora/internal/crypto"
	"github.com/temporanet/tempora/internal/slice"
	"github.com/temporanet/tempora/internal/temporatime"
)

// tip at slice 100 over a fixed parent hash, reference time mid-window
func testTip() Tip {
	return Tip{
		Hash:  crypto.HashData([]byte("tip")),
		Index: 100,
	}
}

func validProof(t *testing.T, tip Tip, kind slice.PresenceKind) (*slice.PresenceProof, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	proof := &slice.PresenceProof{
		PublicKey:     crypto.NewPublicKey(pub),
		Kind:          kind,
		Occupancy:     0b1111111111,
		PrevSliceHash: tip.Hash,
		IssuedAt:      tip.Index.ReferenceTime(),
		CooldownUntil: tip.Index,
		UserPresent:   kind == slice.VerifiedHumanPresence,
		UserVerified:  kind == slice.VerifiedHumanPresence,
	}
	require.NoError(t, proof.Sign(priv))
	return proof, priv
}

func assertRejected(t *testing.T, err error, kind RejectKind) {
	t.Helper()
	got, ok := KindOf(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	assert.Equal(t, kind, got)
}

func TestValidator_AcceptsValidProofs(t *testing.T) {
	tip := testTip()
	v := NewValidator(tip)

	for _, kind := range []slice.PresenceKind{slice.AutomatedPresence, slice.VerifiedHumanPresence} {
		t.Run(kind.String(), func(t *testing.T) {
			proof, _ := validProof(t, tip, kind)
			assert.NoError(t, v.Validate(proof))
		})
	}
}

func TestValidator_TimestampWindow(t *testing.T) {
	tip := testTip()
	v := NewValidator(tip)

	t.Run("exactly_one_minute_off_is_accepted", func(t *testing.T) {
		proof, priv := validProof(t, tip, slice.AutomatedPresence)
		issued, err := tip.Index.ReferenceTime().Add(temporatime.MinuteDuration)
		require.NoError(t, err)
		proof.IssuedAt = issued
		require.NoError(t, proof.Sign(priv))
		assert.NoError(t, v.Validate(proof))
	})

	t.Run("beyond_the_window_is_rejected", func(t *testing.T) {
		proof, priv := validProof(t, tip, slice.AutomatedPresence)
		issued, err := tip.Index.ReferenceTime().Add(temporatime.MinuteDuration + time.Second)
		require.NoError(t, err)
		proof.IssuedAt = issued
		require.NoError(t, proof.Sign(priv))
		assertRejected(t, v.Validate(proof), InvalidTimestamp)
	})

	t.Run("too_early_is_rejected", func(t *testing.T) {
		proof, priv := validProof(t, tip, slice.AutomatedPresence)
		issued, err := tip.Index.ReferenceTime().Add(-temporatime.MinuteDuration - time.Second)
		require.NoError(t, err)
		proof.IssuedAt = issued
		require.NoError(t, proof.Sign(priv))
		assertRejected(t, v.Validate(proof), InvalidTimestamp)
	})
}

func TestValidator_ChainBinding(t *testing.T) {
	tip := testTip()
	v := NewValidator(tip)

	proof, priv := validProof(t, tip, slice.AutomatedPresence)
	proof.PrevSliceHash = crypto.HashData([]byte("some other chain"))
	require.NoError(t, proof.Sign(priv))

	assertRejected(t, v.Validate(proof), WrongChain)
}

func TestValidator_Cooldown(t *testing.T) {
	tip := testTip()
	v := NewValidator(tip)

	t.Run("expiring_now_is_eligible", func(t *testing.T) {
		proof, priv := validProof(t, tip, slice.AutomatedPresence)
		proof.CooldownUntil = tip.Index
		require.NoError(t, proof.Sign(priv))
		assert.NoError(t, v.Validate(proof))
	})

	t.Run("still_cooling_is_rejected", func(t *testing.T) {
		proof, priv := validProof(t, tip, slice.AutomatedPresence)
		proof.CooldownUntil = tip.Index + 1
		require.NoError(t, proof.Sign(priv))
		assertRejected(t, v.Validate(proof), CooldownActive)
	})
}

func TestValidator_Signature(t *testing.T) {
	tip := testTip()
	v := NewValidator(tip)

	proof, _ := validProof(t, tip, slice.AutomatedPresence)
	proof.Occupancy = 0b0000000001 // re-signed nowhere: signature now stale

	assertRejected(t, v.Validate(proof), InvalidSignature)
}

func TestValidator_HumanAttestation(t *testing.T) {
	tip := testTip()
	v := NewValidator(tip)

	t.Run("missing_physical_presence", func(t *testing.T) {
		proof, priv := validProof(t, tip, slice.VerifiedHumanPresence)
		proof.UserPresent = false
		require.NoError(t, proof.Sign(priv))
		assertRejected(t, v.Validate(proof), UserNotPresent)
	})

	t.Run("missing_biometric_verification", func(t *testing.T) {
		proof, priv := validProof(t, tip, slice.VerifiedHumanPresence)
		proof.UserVerified = false
		require.NoError(t, proof.Sign(priv))
		assertRejected(t, v.Validate(proof), UserNotVerified)
	})

	t.Run("flags_not_required_for_automated", func(t *testing.T) {
		proof, priv := validProof(t, tip, slice.AutomatedPresence)
		proof.UserPresent = false
		proof.UserVerified = false
		require.NoError(t, proof.Sign(priv))
		assert.NoError(t, v.Validate(proof))
	})
}

func TestValidator_Occupancy(t *testing.T) {
	tip := testTip()
	v := NewValidator(tip)

	t.Run("empty_occupancy_rejected", func(t *testing.T) {
		proof, priv := validProof(t, tip, slice.AutomatedPresence)
		proof.Occupancy = 0
		require.NoError(t, proof.Sign(priv))
		assertRejected(t, v.Validate(proof), InvalidOccupancy)
	})

	t.Run("out_of_range_bits_rejected", func(t *testing.T) {
		proof, priv := validProof(t, tip, slice.AutomatedPresence)
		proof.Occupancy = 1 << 12
		require.NoError(t, proof.Sign(priv))
		assertRejected(t, v.Validate(proof), InvalidOccupancy)
	})

	t.Run("single_minute_accepted", func(t *testing.T) {
		proof, priv := validProof(t, tip, slice.AutomatedPresence)
		proof.Occupancy = 0b0000010000
		require.NoError(t, proof.Sign(priv))
		assert.NoError(t, v.Validate(proof))
	})
}

func TestRejectKind_String(t *testing.T) {
	assert.Equal(t, "invalid timestamp", InvalidTimestamp.String())
	assert.Equal(t, "cooldown active", CooldownActive.String())
	assert.Equal(t, "unknown rejection (99)", RejectKind(99).String())
}
