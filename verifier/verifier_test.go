/*
Copyright Veridial Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verifier

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veridial/sdjwt/common"
	"github.com/veridial/sdjwt/holder"
	"github.com/veridial/sdjwt/issuer"
	afjwt "github.com/veridial/sdjwt/jwt"
)

const (
	testIssuer   = "https://issuer.example.com"
	testAudience = "https://verifier.example.com"
	testNonce    = "nonce"
)

func TestParse(t *testing.T) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer := afjwt.NewEd25519Signer(privKey)
	verifier := afjwt.NewEd25519Verifier(pubKey)

	claims := map[string]interface{}{
		"name": "Alice",
		"address": map[string]interface{}{
			"street": "Main St",
			"city":   "Springfield",
		},
	}

	token, err := issuer.New(testIssuer, claims, nil, signer,
		issuer.WithSDClaimPaths([]string{"name", "address.street"}))
	require.NoError(t, err)

	combinedFormatForIssuance, err := token.Serialize()
	require.NoError(t, err)

	cfi, err := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
	require.NoError(t, err)

	t.Run("success - all claims disclosed", func(t *testing.T) {
		presentation, err := holder.CreatePresentation(combinedFormatForIssuance, cfi.Disclosures)
		require.NoError(t, err)

		verifiedClaims, err := Parse(presentation, common.WithSignatureVerifier(verifier))
		require.NoError(t, err)

		require.Equal(t, "Alice", verifiedClaims["name"])
		require.Equal(t, map[string]interface{}{
			"street": "Main St",
			"city":   "Springfield",
		}, verifiedClaims["address"])

		require.Equal(t, testIssuer, verifiedClaims["iss"])
		require.NotContains(t, verifiedClaims, common.SDAlgorithmKey)
		require.NotContains(t, verifiedClaims, common.SDKey)
	})

	t.Run("success - partial disclosure reported in resolution", func(t *testing.T) {
		// release the street disclosure only
		streetDisclosure := findDisclosure(t, cfi.Disclosures, "street")

		presentation, err := holder.CreatePresentation(combinedFormatForIssuance, []string{streetDisclosure})
		require.NoError(t, err)

		verifiedClaims, resolution, err := ParseWithResolution(presentation, common.WithSignatureVerifier(verifier))
		require.NoError(t, err)

		require.NotContains(t, verifiedClaims, "name")
		require.Equal(t, map[string]interface{}{
			"street": "Main St",
			"city":   "Springfield",
		}, verifiedClaims["address"])

		require.Equal(t, []string{"address.street"}, resolution.DisclosedPaths)
		require.Len(t, resolution.WithheldDigests, 1)
	})

	t.Run("success - nothing disclosed", func(t *testing.T) {
		presentation := cfi.SDJWT

		verifiedClaims, resolution, err := ParseWithResolution(presentation, common.WithSignatureVerifier(verifier))
		require.NoError(t, err)

		require.NotContains(t, verifiedClaims, "name")
		require.Equal(t, map[string]interface{}{"city": "Springfield"}, verifiedClaims["address"])
		require.Empty(t, resolution.DisclosedPaths)
		require.Len(t, resolution.WithheldDigests, 2)
	})

	t.Run("success - decoys stay indistinguishable from withheld claims", func(t *testing.T) {
		decoyToken, err := issuer.New(testIssuer, map[string]interface{}{"name": "Alice"}, nil, signer,
			issuer.WithSDClaimPaths([]string{"name"}),
			issuer.WithDecoyDigests(3))
		require.NoError(t, err)

		decoyCFI, err := decoyToken.Serialize()
		require.NoError(t, err)

		presentation, err := holder.CreatePresentation(decoyCFI, decoyToken.Disclosures)
		require.NoError(t, err)

		verifiedClaims, resolution, err := ParseWithResolution(presentation, common.WithSignatureVerifier(verifier))
		require.NoError(t, err)
		require.Equal(t, "Alice", verifiedClaims["name"])
		require.Equal(t, []string{"name"}, resolution.DisclosedPaths)
		require.Len(t, resolution.WithheldDigests, 3)
	})

	t.Run("error - signature verifier is required", func(t *testing.T) {
		presentation, err := holder.CreatePresentation(combinedFormatForIssuance, cfi.Disclosures)
		require.NoError(t, err)

		verifiedClaims, err := Parse(presentation)
		require.Error(t, err)
		require.Nil(t, verifiedClaims)
		require.Contains(t, err.Error(), "issuer signature verifier is required")
	})

	t.Run("success - explicit no-op verifier", func(t *testing.T) {
		presentation, err := holder.CreatePresentation(combinedFormatForIssuance, cfi.Disclosures)
		require.NoError(t, err)

		verifiedClaims, err := Parse(presentation,
			common.WithSignatureVerifier(&holder.NoopSignatureVerifier{}))
		require.NoError(t, err)
		require.Equal(t, "Alice", verifiedClaims["name"])
	})

	t.Run("error - malformed combined format", func(t *testing.T) {
		verifiedClaims, err := Parse("", common.WithSignatureVerifier(verifier))
		require.Error(t, err)
		require.Nil(t, verifiedClaims)
		require.True(t, errors.Is(err, common.ErrMalformedCompactForm))
	})

	t.Run("error - invalid signature", func(t *testing.T) {
		otherPubKey, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		verifiedClaims, err := Parse(combinedFormatForIssuance+common.CombinedFormatSeparator,
			common.WithSignatureVerifier(afjwt.NewEd25519Verifier(otherPubKey)))
		require.Error(t, err)
		require.Nil(t, verifiedClaims)
		require.Contains(t, err.Error(), "signature doesn't match")
	})

	t.Run("error - duplicate disclosure", func(t *testing.T) {
		presentation := cfi.SDJWT +
			common.CombinedFormatSeparator + cfi.Disclosures[0] +
			common.CombinedFormatSeparator + cfi.Disclosures[0] +
			common.CombinedFormatSeparator

		verifiedClaims, err := Parse(presentation, common.WithSignatureVerifier(verifier))
		require.Error(t, err)
		require.Nil(t, verifiedClaims)
		require.True(t, errors.Is(err, common.ErrDuplicateDigest))
	})

	t.Run("error - unsupported hash algorithm", func(t *testing.T) {
		badToken, err := afjwt.NewSigned(map[string]interface{}{common.SDAlgorithmKey: "sha-1"}, nil, signer)
		require.NoError(t, err)

		serialized, err := badToken.Serialize()
		require.NoError(t, err)

		verifiedClaims, err := Parse(serialized, common.WithSignatureVerifier(verifier))
		require.Error(t, err)
		require.Nil(t, verifiedClaims)
		require.True(t, errors.Is(err, common.ErrUnsupportedAlgorithm))
	})

	t.Run("error - malformed disclosure segment", func(t *testing.T) {
		presentation := cfi.SDJWT +
			common.CombinedFormatSeparator + "!!!" +
			common.CombinedFormatSeparator

		verifiedClaims, err := Parse(presentation, common.WithSignatureVerifier(verifier))
		require.Error(t, err)
		require.Nil(t, verifiedClaims)
		require.True(t, errors.Is(err, common.ErrMalformedDisclosure))
	})
}

func TestParseWithHolderVerification(t *testing.T) {
	issuerPubKey, issuerPrivKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	holderPubKey, holderPrivKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	issuerSigner := afjwt.NewEd25519Signer(issuerPrivKey)
	issuerVerifier := afjwt.NewEd25519Verifier(issuerPubKey)

	holderSigner := afjwt.NewEd25519Signer(holderPrivKey)
	holderVerifier := afjwt.NewEd25519Verifier(holderPubKey)

	token, err := issuer.New(testIssuer, map[string]interface{}{"name": "Alice"}, nil, issuerSigner,
		issuer.WithSDClaimPaths([]string{"name"}),
		issuer.WithHolderPublicKey(map[string]interface{}{"kty": "OKP", "crv": "Ed25519", "x": "x"}))
	require.NoError(t, err)

	combinedFormatForIssuance, err := token.Serialize()
	require.NoError(t, err)

	newPresentation := func(t *testing.T, nonce, audience string) string {
		t.Helper()

		presentation, err := holder.CreatePresentation(combinedFormatForIssuance, token.Disclosures,
			holder.WithHolderVerification(&holder.BindingInfo{
				Payload: holder.BindingPayload{
					Nonce:    nonce,
					Audience: audience,
					IssuedAt: newInt64(time.Now().Unix()),
				},
				Signer: holderSigner,
			}))
		require.NoError(t, err)

		return presentation
	}

	t.Run("success", func(t *testing.T) {
		presentation := newPresentation(t, testNonce, testAudience)

		verifiedClaims, err := Parse(presentation,
			common.WithSignatureVerifier(issuerVerifier),
			common.WithHolderVerificationRequired(true),
			common.WithHolderVerificationSignatureVerifier(holderVerifier),
			common.WithExpectedNonceForHolderVerification(testNonce),
			common.WithExpectedAudienceForHolderVerification(testAudience))
		require.NoError(t, err)
		require.Equal(t, "Alice", verifiedClaims["name"])
	})

	t.Run("error - holder verification required but not provided", func(t *testing.T) {
		presentation, err := holder.CreatePresentation(combinedFormatForIssuance, token.Disclosures)
		require.NoError(t, err)

		verifiedClaims, err := Parse(presentation,
			common.WithSignatureVerifier(issuerVerifier),
			common.WithHolderVerificationRequired(true))
		require.Error(t, err)
		require.Nil(t, verifiedClaims)
		require.Contains(t, err.Error(), "holder verification is required")
	})

	t.Run("error - unexpected nonce", func(t *testing.T) {
		presentation := newPresentation(t, "other", testAudience)

		verifiedClaims, err := Parse(presentation,
			common.WithSignatureVerifier(issuerVerifier),
			common.WithHolderVerificationRequired(true),
			common.WithHolderVerificationSignatureVerifier(holderVerifier),
			common.WithExpectedNonceForHolderVerification(testNonce),
			common.WithExpectedAudienceForHolderVerification(testAudience))
		require.Error(t, err)
		require.Nil(t, verifiedClaims)
		require.Contains(t, err.Error(), "does not match expected nonce value")
	})

	t.Run("error - unexpected audience", func(t *testing.T) {
		presentation := newPresentation(t, testNonce, "https://other.example.com")

		verifiedClaims, err := Parse(presentation,
			common.WithSignatureVerifier(issuerVerifier),
			common.WithHolderVerificationRequired(true),
			common.WithHolderVerificationSignatureVerifier(holderVerifier),
			common.WithExpectedNonceForHolderVerification(testNonce),
			common.WithExpectedAudienceForHolderVerification(testAudience))
		require.Error(t, err)
		require.Nil(t, verifiedClaims)
		require.Contains(t, err.Error(), "does not match expected audience value")
	})

	t.Run("error - holder signature does not verify", func(t *testing.T) {
		presentation := newPresentation(t, testNonce, testAudience)

		otherPubKey, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		verifiedClaims, err := Parse(presentation,
			common.WithSignatureVerifier(issuerVerifier),
			common.WithHolderVerificationRequired(true),
			common.WithHolderVerificationSignatureVerifier(afjwt.NewEd25519Verifier(otherPubKey)),
			common.WithExpectedNonceForHolderVerification(testNonce),
			common.WithExpectedAudienceForHolderVerification(testAudience))
		require.Error(t, err)
		require.Nil(t, verifiedClaims)
		require.Contains(t, err.Error(), "signature doesn't match")
	})

	t.Run("error - holder signing algorithm not allowed", func(t *testing.T) {
		presentation := newPresentation(t, testNonce, testAudience)

		verifiedClaims, err := Parse(presentation,
			common.WithSignatureVerifier(issuerVerifier),
			common.WithHolderVerificationRequired(true),
			common.WithHolderVerificationSignatureVerifier(holderVerifier),
			common.WithHolderSigningAlgorithms([]string{"ES256"}),
			common.WithExpectedNonceForHolderVerification(testNonce),
			common.WithExpectedAudienceForHolderVerification(testAudience))
		require.Error(t, err)
		require.Nil(t, verifiedClaims)
		require.Contains(t, err.Error(), "failed to verify holder signing algorithm")
	})

	t.Run("error - cnf claim missing", func(t *testing.T) {
		plainToken, err := issuer.New(testIssuer, map[string]interface{}{"name": "Alice"}, nil, issuerSigner,
			issuer.WithSDClaimPaths([]string{"name"}))
		require.NoError(t, err)

		plainCFI, err := plainToken.Serialize()
		require.NoError(t, err)

		presentation, err := holder.CreatePresentation(plainCFI, plainToken.Disclosures,
			holder.WithHolderVerification(&holder.BindingInfo{
				Payload: holder.BindingPayload{Nonce: testNonce, Audience: testAudience},
				Signer:  holderSigner,
			}))
		require.NoError(t, err)

		verifiedClaims, err := Parse(presentation,
			common.WithSignatureVerifier(issuerVerifier),
			common.WithHolderVerificationRequired(true),
			common.WithHolderVerificationSignatureVerifier(holderVerifier),
			common.WithExpectedNonceForHolderVerification(testNonce),
			common.WithExpectedAudienceForHolderVerification(testAudience))
		require.Error(t, err)
		require.Nil(t, verifiedClaims)
		require.Contains(t, err.Error(), "cnf claim must be present")
	})
}

func findDisclosure(t *testing.T, disclosures []string, name string) string {
	t.Helper()

	for _, disclosure := range disclosures {
		claim, err := common.GetDisclosureClaim(disclosure, crypto.SHA256)
		require.NoError(t, err)

		if claim.Name == name {
			return disclosure
		}
	}

	t.Fatalf("disclosure '%s' not found", name)

	return ""
}

func newInt64(v int64) *int64 {
	return &v
}
