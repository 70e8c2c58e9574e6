/*
Copyright Veridial Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

/*
Package verifier enables the Verifier: an entity that requests, checks and
extracts the claims from an SD-JWT and its Disclosures.

Parse resolves a combined format for presentation into the claim tree visible
through the released disclosures: matched digests are substituted by their
claim values, unmatched digests and the "_sd_alg" claim are removed from the
output. ParseWithResolution additionally reports which claim paths were
disclosed and which digests stayed withheld.
*/
package verifier

import (
	"fmt"

	"github.com/veridial/sdjwt/common"
	afjwt "github.com/veridial/sdjwt/jwt"
)

// Parse parses combined format for presentation and returns the claims
// disclosed through it.
//
// The Verifier MUST perform the following (or equivalent) steps when receiving a Combined Format for Presentation:
//
//   - Determine if Holder Verification is to be checked according to the Verifier's policy for the use case at hand.
//     This decision MUST NOT be based on whether a Holder Verification JWT is provided by the Holder or not.
//     Refer to WithHolderVerificationRequired, WithExpectedAudienceForHolderVerification and
//     WithExpectedNonceForHolderVerification options.
//
//   - Separate the Presentation into the SD-JWT, the Disclosures (if any), and the Holder Verification JWT (if provided).
//
//   - Validate the SD-JWT: ensure that a signing algorithm was used that was deemed secure for the application,
//     validate the signature over the SD-JWT, validate the Issuer and that the signing key belongs to this Issuer,
//     check that the SD-JWT is valid using nbf, iat, and exp claims (if provided, and not selectively disclosed).
//
//   - Check that there are no duplicate disclosures and that each disclosure digest is referenced exactly once.
//
//   - Process the Disclosures and embedded digests in the SD-JWT: substitute each matched digest by its recursively
//     resolved claim value, remove unmatched digests and the "_sd_alg" claim from the output.
//
//   - If Holder Verification is required, validate the Holder Verification JWT: typ header, signing algorithm,
//     nonce and aud claims, and time-based claims.
//
// A signature verifier (common.WithSignatureVerifier) is required. Callers that establish the token's
// authenticity elsewhere must opt out explicitly with a no-op verifier such as holder.NoopSignatureVerifier.
func Parse(combinedFormatForPresentation string, opts ...common.ParseOpt) (map[string]interface{}, error) {
	claims, _, err := ParseWithResolution(combinedFormatForPresentation, opts...)

	return claims, err
}

// ParseWithResolution parses combined format for presentation and returns the
// disclosed claims together with a resolution report of disclosed claim paths
// and withheld digests. Withheld digests cover both withheld claims and
// decoys; the two are indistinguishable.
func ParseWithResolution(
	combinedFormatForPresentation string,
	opts ...common.ParseOpt,
) (map[string]interface{}, *common.Resolution, error) {
	cfp, err := common.ParseCombinedFormatForPresentation(combinedFormatForPresentation)
	if err != nil {
		return nil, nil, err
	}

	pOpts := common.NewParseOpts(opts...)

	// Skipping signature verification must be an explicit choice,
	// e.g. holder.NoopSignatureVerifier.
	if pOpts.SignatureVerifier() == nil {
		return nil, nil, fmt.Errorf("issuer signature verifier is required")
	}

	signedJWT, err := common.ValidateIssuerSignedSDJWT(cfp.SDJWT, cfp.Disclosures, opts...)
	if err != nil {
		return nil, nil, err
	}

	err = runHolderVerification(cfp, signedJWT.Payload, pOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("run holder verification: %w", err)
	}

	cryptoHash, err := common.GetCryptoHashFromClaims(signedJWT.Payload)
	if err != nil {
		return nil, nil, err
	}

	disclosureClaims, err := common.GetDisclosureClaims(cfp.Disclosures, cryptoHash)
	if err != nil {
		return nil, nil, err
	}

	return common.ResolveClaims(signedJWT.Payload, disclosureClaims)
}

func runHolderVerification(cfp *common.CombinedFormatForPresentation,
	claims map[string]interface{}, pOpts *common.ParseOpts) error {
	if pOpts.HolderVerificationRequired && cfp.HolderVerification == "" {
		return fmt.Errorf("holder verification is required")
	}

	if cfp.HolderVerification == "" {
		return nil
	}

	signedJWT, err := parseHolderVerificationJWT(cfp.HolderVerification, pOpts)
	if err != nil {
		return fmt.Errorf("parse holder verification JWT: %w", err)
	}

	var bindingPayload holderVerificationPayload

	err = signedJWT.DecodeClaims(&bindingPayload)
	if err != nil {
		return fmt.Errorf("decode holder verification payload: %w", err)
	}

	if pOpts.ExpectedNonceForHolderVerification != "" &&
		pOpts.ExpectedNonceForHolderVerification != bindingPayload.Nonce {
		return fmt.Errorf("nonce value '%s' does not match expected nonce value", bindingPayload.Nonce)
	}

	if pOpts.ExpectedAudienceForHolderVerification != "" &&
		pOpts.ExpectedAudienceForHolderVerification != bindingPayload.Audience {
		return fmt.Errorf("audience value '%s' does not match expected audience value", bindingPayload.Audience)
	}

	// The payload advertising holder binding must actually carry the key reference.
	if _, ok := claims[common.CNFKey]; !ok && pOpts.HolderVerificationRequired {
		return fmt.Errorf("%s claim must be present for holder verification", common.CNFKey)
	}

	return nil
}

func parseHolderVerificationJWT(holderVerification string, pOpts *common.ParseOpts) (*afjwt.JSONWebToken, error) {
	var jwtOpts []afjwt.ParseOpt
	if pOpts.HolderVerificationVerifier != nil {
		jwtOpts = append(jwtOpts, afjwt.WithSignatureVerifier(pOpts.HolderVerificationVerifier))
	}

	signedJWT, err := afjwt.Parse(holderVerification, jwtOpts...)
	if err != nil {
		return nil, err
	}

	err = common.VerifyTyp(signedJWT.Headers, "kb+jwt")
	if err != nil {
		return nil, fmt.Errorf("failed to verify typ header: %w", err)
	}

	holderSigningAlgorithms := pOpts.HolderSigningAlgorithms
	if holderSigningAlgorithms == nil {
		holderSigningAlgorithms = []string{"EdDSA", "RS256", "ES256"}
	}

	err = common.VerifySigningAlg(signedJWT.Headers, holderSigningAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("failed to verify holder signing algorithm: %w", err)
	}

	err = common.VerifyJWT(signedJWT, pOpts.LeewayForClaimsValidation)
	if err != nil {
		return nil, err
	}

	return signedJWT, nil
}

// holderVerificationPayload represents expected holder verification payload.
type holderVerificationPayload struct {
	Nonce    string `json:"nonce,omitempty"`
	Audience string `json:"aud,omitempty"`
	IssuedAt int64  `json:"iat,omitempty"`
}
