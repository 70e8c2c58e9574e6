/*
Copyright Veridial Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// DisclosureClaimType disclosure claim type.
type DisclosureClaimType int

const (
	// DisclosureClaimTypePlainText disclosure claim with scalar value.
	DisclosureClaimTypePlainText = DisclosureClaimType(0)
	// DisclosureClaimTypeObject disclosure claim with object value.
	DisclosureClaimTypeObject = DisclosureClaimType(1)
	// DisclosureClaimTypeArrayElement disclosure of an array element.
	DisclosureClaimTypeArrayElement = DisclosureClaimType(2)
)

const (
	disclosureElementsAmountForArrayDigest = 2
	disclosureElementsAmountForSDDigest    = 3

	saltPosition             = 0
	arrayDigestValuePosition = 1
	sdDigestNamePosition     = 1
	sdDigestValuePosition    = 2
)

// DisclosureClaim defines a decoded disclosure. A disclosure is the base64url
// encoding of the canonical JSON array [salt, name, value] for an object
// claim or [salt, value] for an array element; its digest is the hash of the
// encoded form.
type DisclosureClaim struct {
	Digest     string
	Disclosure string
	Salt       string
	Name       string
	Value      interface{}
	Type       DisclosureClaimType

	// Elements is the decoded array size; it distinguishes object claims
	// from array elements on the wire.
	Elements int

	// IsValueParsed reports whether Value has been recursively resolved
	// against other disclosures.
	IsValueParsed bool
}

// GetDisclosureClaims decodes disclosures and returns a digest-keyed map.
// Two supplied disclosures hashing identically fail with ErrDuplicateDigest.
func GetDisclosureClaims(disclosures []string, hash crypto.Hash) (map[string]*DisclosureClaim, error) {
	claims := make(map[string]*DisclosureClaim, len(disclosures))

	for _, disclosure := range disclosures {
		claim, err := GetDisclosureClaim(disclosure, hash)
		if err != nil {
			return nil, err
		}

		if _, ok := claims[claim.Digest]; ok {
			return nil, fmt.Errorf("%w: two disclosures hash to '%s'", ErrDuplicateDigest, claim.Digest)
		}

		claims[claim.Digest] = claim
	}

	return claims, nil
}

// GetDisclosureClaim decodes a single disclosure and computes its digest.
func GetDisclosureClaim(disclosure string, hash crypto.Hash) (*DisclosureClaim, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(disclosure)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode disclosure: %s", ErrMalformedDisclosure, err.Error())
	}

	var disclosureArr []interface{}

	err = json.Unmarshal(decoded, &disclosureArr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal disclosure array: %s", ErrMalformedDisclosure, err.Error())
	}

	if len(disclosureArr) < disclosureElementsAmountForArrayDigest ||
		len(disclosureArr) > disclosureElementsAmountForSDDigest {
		return nil, fmt.Errorf("%w: disclosure array size[%d] must be 2 or 3",
			ErrMalformedDisclosure, len(disclosureArr))
	}

	salt, ok := disclosureArr[saltPosition].(string)
	if !ok {
		return nil, fmt.Errorf("%w: disclosure salt type[%T] must be string",
			ErrMalformedDisclosure, disclosureArr[saltPosition])
	}

	digest, err := GetHash(hash, disclosure)
	if err != nil {
		return nil, fmt.Errorf("get disclosure hash: %w", err)
	}

	claim := &DisclosureClaim{
		Digest:     digest,
		Disclosure: disclosure,
		Salt:       salt,
		Elements:   len(disclosureArr),
	}

	if claim.Elements == disclosureElementsAmountForArrayDigest {
		claim.Value = disclosureArr[arrayDigestValuePosition]
		claim.Type = DisclosureClaimTypeArrayElement

		return claim, nil
	}

	name, ok := disclosureArr[sdDigestNamePosition].(string)
	if !ok {
		return nil, fmt.Errorf("%w: disclosure name type[%T] must be string",
			ErrMalformedDisclosure, disclosureArr[sdDigestNamePosition])
	}

	claim.Name = name
	claim.Value = disclosureArr[sdDigestValuePosition]

	switch claim.Value.(type) {
	case map[string]interface{}:
		claim.Type = DisclosureClaimTypeObject
	default:
		claim.Type = DisclosureClaimTypePlainText
	}

	return claim, nil
}
