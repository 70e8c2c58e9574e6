/*
Copyright Veridial Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/mitchellh/mapstructure"

	afjwt "github.com/veridial/sdjwt/jwt"
	"github.com/veridial/sdjwt/util/maphelpers"
)

// ParseOpts holds options for parsing the combined formats.
type ParseOpts struct {
	sigVerifier afjwt.SignatureVerifier

	issuerSigningAlgorithms []string
	HolderSigningAlgorithms []string

	HolderVerificationRequired            bool
	HolderVerificationVerifier            afjwt.SignatureVerifier
	ExpectedAudienceForHolderVerification string
	ExpectedNonceForHolderVerification    string

	ExpectedTypHeader string

	LeewayForClaimsValidation time.Duration
}

// ParseOpt is the parser option.
type ParseOpt func(opts *ParseOpts)

// WithSignatureVerifier option is for definition of the issuer signature verifier.
func WithSignatureVerifier(signatureVerifier afjwt.SignatureVerifier) ParseOpt {
	return func(opts *ParseOpts) {
		opts.sigVerifier = signatureVerifier
	}
}

// WithIssuerSigningAlgorithms option is for defining secure signing algorithms (for issuer).
func WithIssuerSigningAlgorithms(algorithms []string) ParseOpt {
	return func(opts *ParseOpts) {
		opts.issuerSigningAlgorithms = algorithms
	}
}

// WithHolderSigningAlgorithms option is for defining secure signing algorithms (for holder).
func WithHolderSigningAlgorithms(algorithms []string) ParseOpt {
	return func(opts *ParseOpts) {
		opts.HolderSigningAlgorithms = algorithms
	}
}

// WithHolderVerificationRequired option is for enforcing holder verification.
func WithHolderVerificationRequired(flag bool) ParseOpt {
	return func(opts *ParseOpts) {
		opts.HolderVerificationRequired = flag
	}
}

// WithHolderVerificationSignatureVerifier option is for definition of the
// holder verification (key binding) JWT signature verifier. Key binding
// cryptography is the caller's concern; without this option only structural
// checks of the key binding JWT are performed.
func WithHolderVerificationSignatureVerifier(signatureVerifier afjwt.SignatureVerifier) ParseOpt {
	return func(opts *ParseOpts) {
		opts.HolderVerificationVerifier = signatureVerifier
	}
}

// WithExpectedAudienceForHolderVerification option is to pass expected audience for holder verification.
func WithExpectedAudienceForHolderVerification(audience string) ParseOpt {
	return func(opts *ParseOpts) {
		opts.ExpectedAudienceForHolderVerification = audience
	}
}

// WithExpectedNonceForHolderVerification option is to pass nonce value for holder verification.
func WithExpectedNonceForHolderVerification(nonce string) ParseOpt {
	return func(opts *ParseOpts) {
		opts.ExpectedNonceForHolderVerification = nonce
	}
}

// WithExpectedTypHeader is an option for JWT typ header validation.
func WithExpectedTypHeader(typ string) ParseOpt {
	return func(opts *ParseOpts) {
		opts.ExpectedTypHeader = typ
	}
}

// WithLeewayForClaimsValidation is an option for claims time(s) validation.
func WithLeewayForClaimsValidation(duration time.Duration) ParseOpt {
	return func(opts *ParseOpts) {
		opts.LeewayForClaimsValidation = duration
	}
}

// SignatureVerifier returns the configured issuer signature verifier, or nil
// when none was supplied.
func (o *ParseOpts) SignatureVerifier() afjwt.SignatureVerifier {
	return o.sigVerifier
}

// NewParseOpts applies the parser options over defaults.
func NewParseOpts(opts ...ParseOpt) *ParseOpts {
	pOpts := &ParseOpts{
		LeewayForClaimsValidation: jwt.DefaultLeeway,
	}

	for _, opt := range opts {
		opt(pOpts)
	}

	return pOpts
}

// ValidateIssuerSignedSDJWT validates the issuer-signed token of a combined format.
func ValidateIssuerSignedSDJWT(sdjwt string, disclosures []string, opts ...ParseOpt) (*afjwt.JSONWebToken, error) {
	defaultSigningAlgorithms := []string{"EdDSA", "RS256", "ES256"}
	pOpts := &ParseOpts{
		issuerSigningAlgorithms:   defaultSigningAlgorithms,
		LeewayForClaimsValidation: jwt.DefaultLeeway,
	}

	for _, opt := range opts {
		opt(pOpts)
	}

	// Validate the signature over the SD-JWT.
	signedJWT, err := afjwt.Parse(sdjwt, afjwt.WithSignatureVerifier(pOpts.sigVerifier))
	if err != nil {
		return nil, err
	}

	// Ensure that a signing algorithm was used that was deemed secure for the application.
	// The none algorithm MUST NOT be accepted.
	err = VerifySigningAlg(signedJWT.Headers, pOpts.issuerSigningAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("failed to verify issuer signing algorithm: %w", err)
	}

	if pOpts.ExpectedTypHeader != "" {
		err = VerifyTyp(signedJWT.Headers, pOpts.ExpectedTypHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to verify typ header: %w", err)
		}
	}

	// Check that the SD-JWT is valid using nbf, iat, and exp claims,
	// if provided in the SD-JWT, and not selectively disclosed.
	err = VerifyJWT(signedJWT, pOpts.LeewayForClaimsValidation)
	if err != nil {
		return nil, err
	}

	// Check that there are no duplicate disclosures.
	err = checkForDuplicates(disclosures)
	if err != nil {
		return nil, fmt.Errorf("check disclosures: %w", err)
	}

	return signedJWT, nil
}

// VerifySigningAlg ensures that a signing algorithm was used that was deemed secure for the application.
// The none algorithm MUST NOT be accepted.
func VerifySigningAlg(joseHeaders afjwt.Headers, secureAlgs []string) error {
	alg, ok := joseHeaders.Algorithm()
	if !ok {
		return fmt.Errorf("missing alg")
	}

	if alg == afjwt.AlgorithmNone {
		return fmt.Errorf("alg value cannot be 'none'")
	}

	if !contains(secureAlgs, alg) {
		return fmt.Errorf("alg '%s' is not in the allowed list", alg)
	}

	return nil
}

func contains(values []string, val string) bool {
	for _, v := range values {
		if v == val {
			return true
		}
	}

	return false
}

func checkForDuplicates(values []string) error {
	var duplicates []string

	valuesMap := make(map[string]bool)

	for _, val := range values {
		if _, ok := valuesMap[val]; !ok {
			valuesMap[val] = true
		} else {
			duplicates = append(duplicates, val)
		}
	}

	if len(duplicates) > 0 {
		return fmt.Errorf("%w: duplicate values found %v", ErrDuplicateDigest, duplicates)
	}

	return nil
}

// VerifyJWT checks that the JWT is valid using nbf, iat, and exp claims (if provided in the JWT).
func VerifyJWT(signedJWT *afjwt.JSONWebToken, leeway time.Duration) error {
	var claims jwt.Claims

	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &claims,
		TagName:          "json",
		Squash:           true,
		WeaklyTypedInput: true,
		DecodeHook:       maphelpers.JSONNumberToJwtNumericDate(),
	})
	if err != nil {
		return fmt.Errorf("mapstruct verifyJWT. error: %w", err)
	}

	if err = d.Decode(signedJWT.Payload); err != nil {
		return fmt.Errorf("mapstruct verifyJWT decode. error: %w", err)
	}

	// Validate checks claims in a token against expected values.
	// It is validated using the expected.Time, or time.Now if not provided.
	expected := jwt.Expected{}

	err = claims.ValidateWithLeeway(expected, leeway)
	if err != nil {
		return fmt.Errorf("invalid JWT time values: %w", err)
	}

	return nil
}

// VerifyTyp checks the JWT typ header parameter.
func VerifyTyp(joseHeaders afjwt.Headers, expectedTyp string) error {
	typ, ok := joseHeaders.Type()
	if !ok {
		return fmt.Errorf("missing typ")
	}

	if typ != expectedTyp {
		return fmt.Errorf("unexpected typ \"%s\"", typ)
	}

	return nil
}
