/*
Copyright Veridial Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

/*
Package issuer enables the Issuer: an entity that creates selective
disclosure JWTs.

An SD-JWT is a digitally signed document containing digests over selected
claims (per claim: a random salt, the claim name and the claim value).
It MAY further contain clear-text claims that are always disclosed to the
Verifier. The Issuer creates a Disclosure for each selected claim and sends
the Disclosures to the Holder together with the SD-JWT:

	COMBINED-ISSUANCE = SD-JWT | DISCLOSURES

Claims are selected with WithSDClaimPaths using member/index addressing,
e.g. "address.street" or "nationalities[1]". An object member is replaced by
a digest in the enclosing "_sd" array; an array element is replaced by
{"...": digest}. Selecting an ancestor of an already selected claim is
rejected. Decoy digests can be added to disguise the true number of
disclosable claims.
*/
package issuer

import (
	"crypto"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	mathrand "math/rand"
	"reflect"
	"strings"

	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/veridial/sdjwt/common"
	afjwt "github.com/veridial/sdjwt/jwt"
	"github.com/veridial/sdjwt/util/jsonutil"
	"github.com/veridial/sdjwt/util/maphelpers"
)

const (
	defaultHash = crypto.SHA256

	saltSizeBytes = 128 / 8

	maxClaimsDepth = 32
)

// Claims defines JSON Web Token Claims (https://tools.ietf.org/html/rfc7519#section-4)
type Claims jwt.Claims

// newOpts holds options for creating a new SD-JWT.
type newOpts struct {
	Subject  string
	Audience string
	JTI      string
	ID       string

	Expiry    *jwt.NumericDate
	NotBefore *jwt.NumericDate
	IssuedAt  *jwt.NumericDate

	HolderPublicKey map[string]interface{}

	HashAlg crypto.Hash

	jsonMarshal func(v interface{}) ([]byte, error)
	getSalt     func() (string, error)

	sdClaimPaths []string
	decoyCount   int
}

// NewOpt is the SD-JWT New option.
type NewOpt func(opts *newOpts)

// WithSDClaimPaths is an option for selecting the claims to make selectively
// disclosable, using member/index addressing into the claims, e.g.
// "address.street" or "items[2]". Claims not selected stay in clear text.
func WithSDClaimPaths(paths []string) NewOpt {
	return func(opts *newOpts) {
		opts.sdClaimPaths = paths
	}
}

// WithJSONMarshaller is an option for marshalling disclosures. The default
// json.Marshal already produces the canonical form (stable key order, no
// insignificant whitespace); override it for callers with other
// canonicalization needs.
func WithJSONMarshaller(jsonMarshal func(v interface{}) ([]byte, error)) NewOpt {
	return func(opts *newOpts) {
		opts.jsonMarshal = jsonMarshal
	}
}

// WithSaltFnc is an option for generating salt. Mostly used for testing.
// A new salt MUST be chosen for each claim independently of other salts.
// The RECOMMENDED minimum length of the randomly-generated portion of the salt is 128 bits.
// It is RECOMMENDED to base64url-encode the salt value, producing a string.
func WithSaltFnc(fnc func() (string, error)) NewOpt {
	return func(opts *newOpts) {
		opts.getSalt = fnc
	}
}

// WithIssuedAt is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithIssuedAt(issuedAt *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.IssuedAt = issuedAt
	}
}

// WithAudience is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithAudience(audience string) NewOpt {
	return func(opts *newOpts) {
		opts.Audience = audience
	}
}

// WithExpiry is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithExpiry(expiry *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.Expiry = expiry
	}
}

// WithNotBefore is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithNotBefore(notBefore *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.NotBefore = notBefore
	}
}

// WithSubject is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithSubject(subject string) NewOpt {
	return func(opts *newOpts) {
		opts.Subject = subject
	}
}

// WithJTI is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithJTI(jti string) NewOpt {
	return func(opts *newOpts) {
		opts.JTI = jti
	}
}

// WithID is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithID(id string) NewOpt {
	return func(opts *newOpts) {
		opts.ID = id
	}
}

// WithHolderPublicKey is an option for SD-JWT payload.
// The Holder can prove legitimate possession of an SD-JWT by proving control over the same private key during
// the issuance and presentation. An SD-JWT with Holder Binding contains a public key or a reference to a public key
// that matches to the private key controlled by the Holder.
// The "cnf" claim value MUST represent only a single proof-of-possession key. This implementation is using CNF "jwk".
func WithHolderPublicKey(jwk map[string]interface{}) NewOpt {
	return func(opts *newOpts) {
		opts.HolderPublicKey = jwk
	}
}

// WithHashAlgorithm is an option for hashing disclosures.
func WithHashAlgorithm(alg crypto.Hash) NewOpt {
	return func(opts *newOpts) {
		opts.HashAlg = alg
	}
}

// WithDecoyDigests is an option for adding decoy digests (default is 0).
// Exactly count decoy digests are appended to every "_sd" array that received
// a real digest, and those arrays are shuffled. Decoys carry no disclosure
// and are indistinguishable in form from real digests.
func WithDecoyDigests(count int) NewOpt {
	return func(opts *newOpts) {
		opts.decoyCount = count
	}
}

// DisclosureEntity represents a disclosure produced by the builder.
type DisclosureEntity struct {
	Result string
	Salt   string
	Key    string
	Value  interface{}

	DebugDigest string
}

// New creates a new signed Selective Disclosure JWT based on input claims.
// The Issuer MUST create a Disclosure for each selected claim as follows:
// Create an array of three elements in this order:
//
//	A salt value. Generated by the system, the salt value MUST be unique for each claim that is to be selectively
//	disclosed.
//	The claim name, or key, as it would be used in a regular JWT body. This MUST be a string.
//	The claim's value, as it would be used in a regular JWT body. The value MAY be of any type that is allowed in JSON,
//	including numbers, strings, booleans, arrays, and objects.
//
// An array element disclosure omits the claim name, producing a two-element array.
// Then JSON-encode the array such that an UTF-8 string is produced.
// Then base64url-encode the byte representation of the UTF-8 string to create the Disclosure.
//
// The transform is all-or-nothing: any path or conflict error aborts with no
// partial output, and the caller's claims are never modified.
func New(issuer string, claims interface{}, headers afjwt.Headers,
	signer afjwt.Signer, opts ...NewOpt) (*SelectiveDisclosureJWT, error) {
	nOpts := &newOpts{
		jsonMarshal: json.Marshal,
		HashAlg:     defaultHash,
		getSalt:     generateSalt,
	}

	for _, opt := range opts {
		opt(nOpts)
	}

	claimsMap, err := afjwt.PayloadToMap(claims)
	if err != nil {
		return nil, fmt.Errorf("convert payload to map: %w", err)
	}

	// reserved keys are rejected anywhere in the input, including inside array elements
	for _, key := range []string{common.SDKey, common.ArrayElementDigestKey} {
		if common.KeyExistsInMap(key, claimsMap) {
			return nil, fmt.Errorf("key '%s' cannot be present in the claims", key)
		}
	}

	if err := validateClaimsDepth(claimsMap, 0); err != nil {
		return nil, err
	}

	digestsMap := maphelpers.CopyMap(claimsMap)

	targets, err := resolveClaimPaths(digestsMap, nOpts.sdClaimPaths)
	if err != nil {
		return nil, err
	}

	disclosures, err := createDisclosuresAndDigests(targets, digestsMap, nOpts)
	if err != nil {
		return nil, err
	}

	payload, err := jsonutil.MergeCustomFields(createPayload(issuer, nOpts), digestsMap)
	if err != nil {
		return nil, fmt.Errorf("failed to merge payload and digests: %w", err)
	}

	signedJWT, err := afjwt.NewSigned(payload, headers, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create SD-JWT from payload[%+v]: %w", payload, err)
	}

	var disArr []string
	for _, d := range disclosures {
		disArr = append(disArr, d.Result)
	}

	return &SelectiveDisclosureJWT{Disclosures: disArr, SignedJWT: signedJWT}, nil
}

// createDisclosuresAndDigests transforms resolved targets in place, deepest
// first, so that a selected ancestor serializes its descendants' digest form.
// Disclosure output order is the processing order.
func createDisclosuresAndDigests(
	targets []*disclosureTarget,
	digestsMap map[string]interface{},
	opts *newOpts,
) ([]*DisclosureEntity, error) {
	var disclosures []*DisclosureEntity

	var sdParents []map[string]interface{}

	for _, target := range targets {
		if target.isArrayElement() {
			disclosure, err := createDisclosure("", target.parentArray[target.index], opts)
			if err != nil {
				return nil, fmt.Errorf("create disclosure: %w", err)
			}

			target.parentArray[target.index] = map[string]interface{}{
				common.ArrayElementDigestKey: disclosure.DebugDigest,
			}

			disclosures = append(disclosures, disclosure)

			continue
		}

		disclosure, err := createDisclosure(target.key, target.parentObject[target.key], opts)
		if err != nil {
			return nil, fmt.Errorf("create disclosure: %w", err)
		}

		delete(target.parentObject, target.key)

		if err := addDigestToObject(target.parentObject, disclosure.DebugDigest); err != nil {
			return nil, err
		}

		if !containsMap(sdParents, target.parentObject) {
			sdParents = append(sdParents, target.parentObject)
		}

		disclosures = append(disclosures, disclosure)
	}

	if opts.decoyCount > 0 {
		if err := addDecoyDigests(sdParents, opts); err != nil {
			return nil, err
		}
	}

	return disclosures, nil
}

func createDisclosure(key string, value interface{}, opts *newOpts) (*DisclosureEntity, error) {
	salt, err := opts.getSalt()
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	disclosure := []interface{}{salt}
	if key != "" {
		disclosure = append(disclosure, key)
	}

	disclosure = append(disclosure, value)

	disclosureBytes, err := opts.jsonMarshal(disclosure)
	if err != nil {
		return nil, fmt.Errorf("marshal disclosure: %w", err)
	}

	result := base64.RawURLEncoding.EncodeToString(disclosureBytes)

	digest, err := common.GetHash(opts.HashAlg, result)
	if err != nil {
		return nil, fmt.Errorf("hash disclosure: %w", err)
	}

	return &DisclosureEntity{
		Result:      result,
		Salt:        salt,
		Key:         key,
		Value:       value,
		DebugDigest: digest,
	}, nil
}

// addDigestToObject appends the digest to the object's "_sd" array, creating
// the array if absent. Digests within one "_sd" array are unique; a collision
// is a construction error.
func addDigestToObject(object map[string]interface{}, digest string) error {
	existing, ok := object[common.SDKey]
	if !ok {
		object[common.SDKey] = []interface{}{digest}

		return nil
	}

	sdArr, ok := existing.([]interface{})
	if !ok {
		return fmt.Errorf("existing '%s' type[%T] is not an array", common.SDKey, existing)
	}

	for _, e := range sdArr {
		if e == digest {
			return fmt.Errorf("%w: digest '%s' already present in '%s'", common.ErrDuplicateDigest, digest, common.SDKey)
		}
	}

	object[common.SDKey] = append(sdArr, digest)

	return nil
}

// addDecoyDigests appends decoy digests to every "_sd" array that received a
// real digest in this build, then shuffles those arrays so decoys are not
// positionally distinguishable.
func addDecoyDigests(sdParents []map[string]interface{}, opts *newOpts) error {
	for _, parent := range sdParents {
		for i := 0; i < opts.decoyCount; i++ {
			salt, err := opts.getSalt()
			if err != nil {
				return err
			}

			digest, err := common.GetHash(opts.HashAlg, salt)
			if err != nil {
				return fmt.Errorf("hash decoy: %w", err)
			}

			if err := addDigestToObject(parent, digest); err != nil {
				return err
			}
		}

		sdArr, ok := parent[common.SDKey].([]interface{})
		if !ok {
			return errors.New("missing digests after adding decoys")
		}

		// the top-level Shuffle is safe for concurrent builds
		mathrand.Shuffle(len(sdArr), func(i, j int) {
			sdArr[i], sdArr[j] = sdArr[j], sdArr[i]
		})
	}

	return nil
}

func containsMap(maps []map[string]interface{}, m map[string]interface{}) bool {
	for _, e := range maps {
		if reflect.ValueOf(e).Pointer() == reflect.ValueOf(m).Pointer() {
			return true
		}
	}

	return false
}

func validateClaimsDepth(value interface{}, depth int) error {
	if depth > maxClaimsDepth {
		return fmt.Errorf("%w: %d levels", common.ErrTreeTooDeep, depth)
	}

	switch v := value.(type) {
	case map[string]interface{}:
		for _, nested := range v {
			if err := validateClaimsDepth(nested, depth+1); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, nested := range v {
			if err := validateClaimsDepth(nested, depth+1); err != nil {
				return err
			}
		}
	}

	return nil
}

func createPayload(issuer string, nOpts *newOpts) *payload {
	var cnf map[string]interface{}
	if nOpts.HolderPublicKey != nil {
		cnf = make(map[string]interface{})
		cnf["jwk"] = nOpts.HolderPublicKey
	}

	return &payload{
		Issuer:    issuer,
		JTI:       nOpts.JTI,
		ID:        nOpts.ID,
		Subject:   nOpts.Subject,
		Audience:  nOpts.Audience,
		IssuedAt:  nOpts.IssuedAt,
		Expiry:    nOpts.Expiry,
		NotBefore: nOpts.NotBefore,
		CNF:       cnf,
		SDAlg:     strings.ToLower(nOpts.HashAlg.String()),
	}
}

// SelectiveDisclosureJWT defines Selective Disclosure JSON Web Token (https://tools.ietf.org/html/rfc7519)
type SelectiveDisclosureJWT struct {
	SignedJWT   *afjwt.JSONWebToken
	Disclosures []string
}

// DecodeClaims fills input c with claims of a token.
func (j *SelectiveDisclosureJWT) DecodeClaims(c interface{}) error {
	return j.SignedJWT.DecodeClaims(c)
}

// LookupStringHeader makes look up of particular header with string value.
func (j *SelectiveDisclosureJWT) LookupStringHeader(name string) string {
	return j.SignedJWT.LookupStringHeader(name)
}

// Serialize makes (compact) serialization of token.
func (j *SelectiveDisclosureJWT) Serialize() (string, error) {
	if j.SignedJWT == nil {
		return "", errors.New("JWS serialization is supported only")
	}

	signedJWT, err := j.SignedJWT.Serialize()
	if err != nil {
		return "", err
	}

	cf := common.CombinedFormatForIssuance{
		SDJWT:       signedJWT,
		Disclosures: j.Disclosures,
	}

	return cf.Serialize(), nil
}

func generateSalt() (string, error) {
	salt := make([]byte, saltSizeBytes)

	_, err := rand.Read(salt)
	if err != nil {
		return "", err
	}

	// it is RECOMMENDED to base64url-encode the salt value, producing a string.
	return base64.RawURLEncoding.EncodeToString(salt), nil
}

// payload represents SD-JWT payload.
type payload struct {
	// registered claim names
	Issuer    string           `json:"iss,omitempty"`
	Subject   string           `json:"sub,omitempty"`
	Audience  string           `json:"aud,omitempty"`
	JTI       string           `json:"jti,omitempty"`
	Expiry    *jwt.NumericDate `json:"exp,omitempty"`
	NotBefore *jwt.NumericDate `json:"nbf,omitempty"`
	IssuedAt  *jwt.NumericDate `json:"iat,omitempty"`

	// non-registered name that can be used for claims based holder binding
	ID string `json:"id,omitempty"`

	// SD-JWT specific
	CNF   map[string]interface{} `json:"cnf,omitempty"`
	SDAlg string                 `json:"_sd_alg"`
}
