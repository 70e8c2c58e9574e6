/*
Copyright Veridial Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

/*
Package holder enables the Holder: an entity that receives SD-JWTs from the
Issuer and has control over them.

The Holder parses a combined format for issuance, decides which disclosures
to release, and assembles a combined format for presentation:

	COMBINED-PRESENTATION = SD-JWT | SELECTED-DISCLOSURES | [HOLDER-VERIFICATION-JWT]

Disclosures not selected stay with the Holder; the Verifier only learns the
digests that remain in the payload.
*/
package holder

import (
	"fmt"

	"github.com/veridial/sdjwt/common"
	afjwt "github.com/veridial/sdjwt/jwt"
)

// Claim defines claim.
type Claim struct {
	Disclosure string
	Name       string
	Value      interface{}
}

// parseOpts holds options for the SD-JWT parsing.
type parseOpts struct {
	sigVerifier afjwt.SignatureVerifier

	issuerSigningAlgorithms []string

	expectedTypHeader string
}

// ParseOpt is the SD-JWT Parser option.
type ParseOpt func(opts *parseOpts)

// WithSignatureVerifier option is for definition of the issuer signature verifier.
func WithSignatureVerifier(signatureVerifier afjwt.SignatureVerifier) ParseOpt {
	return func(opts *parseOpts) {
		opts.sigVerifier = signatureVerifier
	}
}

// WithSigningAlgorithms option is for defining secure signing algorithms (default EdDSA, RS256, ES256).
func WithSigningAlgorithms(algorithms []string) ParseOpt {
	return func(opts *parseOpts) {
		opts.issuerSigningAlgorithms = algorithms
	}
}

// WithExpectedTypHeader is an option for JWT typ header validation.
func WithExpectedTypHeader(typ string) ParseOpt {
	return func(opts *parseOpts) {
		opts.expectedTypHeader = typ
	}
}

// Parse parses combined format for issuance and returns claims that can be
// selected for presentation.
//
// The Holder MUST perform the following (or equivalent) steps when receiving a Combined Format for Issuance:
//
//   - Separate the SD-JWT and the Disclosures in the Combined Format for Issuance.
//
//   - Hash all the Disclosures separately.
//
//   - Find the places in the SD-JWT where the digests of the Disclosures are included.
//     If any of the digests cannot be found in the SD-JWT, the Holder MUST reject the SD-JWT.
//
//   - Decode Disclosures and obtain plaintext of the claim values.
//
// It is up to the Holder how to maintain the mapping between the Disclosures and the claim values.
func Parse(combinedFormatForIssuance string, opts ...ParseOpt) ([]*Claim, error) {
	pOpts := &parseOpts{}

	for _, opt := range opts {
		opt(pOpts)
	}

	cfi, err := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
	if err != nil {
		return nil, err
	}

	var commonOpts []common.ParseOpt

	if pOpts.sigVerifier != nil {
		commonOpts = append(commonOpts, common.WithSignatureVerifier(pOpts.sigVerifier))
	}

	if pOpts.issuerSigningAlgorithms != nil {
		commonOpts = append(commonOpts, common.WithIssuerSigningAlgorithms(pOpts.issuerSigningAlgorithms))
	}

	if pOpts.expectedTypHeader != "" {
		commonOpts = append(commonOpts, common.WithExpectedTypHeader(pOpts.expectedTypHeader))
	}

	signedJWT, err := common.ValidateIssuerSignedSDJWT(cfi.SDJWT, cfi.Disclosures, commonOpts...)
	if err != nil {
		return nil, err
	}

	err = common.VerifyDisclosuresInPayload(cfi.Disclosures, signedJWT.Payload)
	if err != nil {
		return nil, err
	}

	return getClaims(cfi.Disclosures, signedJWT.Payload)
}

func getClaims(disclosures []string, payload map[string]interface{}) ([]*Claim, error) {
	cryptoHash, err := common.GetCryptoHashFromClaims(payload)
	if err != nil {
		return nil, err
	}

	disclosureClaims, err := common.GetDisclosureClaims(disclosures, cryptoHash)
	if err != nil {
		return nil, err
	}

	var claims []*Claim
	for _, disclosure := range disclosures {
		claim, ok := findByDisclosure(disclosureClaims, disclosure)
		if !ok {
			continue
		}

		claims = append(claims,
			&Claim{
				Disclosure: claim.Disclosure,
				Name:       claim.Name,
				Value:      claim.Value,
			})
	}

	return claims, nil
}

func findByDisclosure(claims map[string]*common.DisclosureClaim, disclosure string) (*common.DisclosureClaim, bool) {
	for _, claim := range claims {
		if claim.Disclosure == disclosure {
			return claim, true
		}
	}

	return nil, false
}

// BindingPayload represents holder verification payload.
type BindingPayload struct {
	Nonce    string           `json:"nonce,omitempty"`
	Audience string           `json:"aud,omitempty"`
	IssuedAt *jwtIssuedAtType `json:"iat,omitempty"`
}

type jwtIssuedAtType = int64

// BindingInfo defines holder verification payload and signer.
type BindingInfo struct {
	Payload BindingPayload
	Signer  afjwt.Signer
	Headers afjwt.Headers
}

// options holds options for holder presentation.
type options struct {
	holderVerificationInfo *BindingInfo
}

// Option is the holder presentation option.
type Option func(opts *options)

// WithHolderVerification option to set optional holder verification (key binding JWT).
func WithHolderVerification(info *BindingInfo) Option {
	return func(opts *options) {
		opts.holderVerificationInfo = info
	}
}

// CreatePresentation is a convenience method to assemble combined format for presentation
// using selected disclosures (claimsToDisclose) and optional holder verification.
// This call assumes that combinedFormatForIssuance has already been parsed and verified using Parse() function.
//
// For presentation to a Verifier, the Holder MUST perform the following (or equivalent) steps:
//   - Decide which Disclosures to release to the Verifier, obtaining proper End-User consent if necessary.
//   - If Holder Verification is required, create a Holder Verification JWT.
//   - Create the Combined Format for Presentation from selected Disclosures and Holder Verification JWT (if applicable).
//   - Send the Presentation to the Verifier.
func CreatePresentation(combinedFormatForIssuance string, claimsToDisclose []string, opts ...Option) (string, error) {
	hOpts := &options{}

	for _, opt := range opts {
		opt(hOpts)
	}

	cfi, err := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
	if err != nil {
		return "", err
	}

	if len(cfi.Disclosures) == 0 {
		return "", fmt.Errorf("no disclosures found in SD-JWT")
	}

	disclosuresMap := common.SliceToMap(cfi.Disclosures)

	for _, ctd := range claimsToDisclose {
		if _, ok := disclosuresMap[ctd]; !ok {
			return "", fmt.Errorf("disclosure '%s' not found in SD-JWT", ctd)
		}
	}

	var holderVerification string

	if hOpts.holderVerificationInfo != nil {
		holderVerification, err = CreateHolderVerification(hOpts.holderVerificationInfo)
		if err != nil {
			return "", fmt.Errorf("failed to create holder verification: %w", err)
		}
	}

	cf := common.CombinedFormatForPresentation{
		SDJWT:              cfi.SDJWT,
		Disclosures:        claimsToDisclose,
		HolderVerification: holderVerification,
	}

	return cf.Serialize(), nil
}

// CreateHolderVerification will create holder verification (key binding JWT)
// from binding info. The typ header is set to "kb+jwt".
func CreateHolderVerification(info *BindingInfo) (string, error) {
	headers := make(afjwt.Headers, len(info.Headers)+1)
	for k, v := range info.Headers {
		headers[k] = v
	}

	if _, ok := headers[afjwt.HeaderType]; !ok {
		headers[afjwt.HeaderType] = "kb+jwt"
	}

	hbJWT, err := afjwt.NewSigned(info.Payload, headers, info.Signer)
	if err != nil {
		return "", err
	}

	return hbJWT.Serialize()
}

// NoopSignatureVerifier is a signature verifier that skips verification. It
// must only be used where the token's authenticity is established elsewhere.
type NoopSignatureVerifier struct {
}

// Verify implements signature verification.
func (sv *NoopSignatureVerifier) Verify(_ afjwt.Headers, _, _, _ []byte) error {
	return nil
}
