/*
Copyright Veridial Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package common holds the disclosure algebra shared by the issuer, holder
// and verifier: digest computation, disclosure decoding, the combined wire
// format and resolution of digest references into claims.
package common

import (
	"crypto"
	"encoding/base64"
	"fmt"
	"reflect"
	"strings"
)

// CombinedFormatSeparator is the disclosure separator.
const (
	CombinedFormatSeparator = "~"

	SDAlgorithmKey        = "_sd_alg"
	SDKey                 = "_sd"
	ArrayElementDigestKey = "..."
	CNFKey                = "cnf"
)

// maxNestingDepth bounds recursion over claims so that pathological nesting
// fails with ErrTreeTooDeep instead of exhausting the call stack.
const maxNestingDepth = 32

// CombinedFormatForIssuance holds the issuer token and disclosures.
type CombinedFormatForIssuance struct {
	SDJWT       string
	Disclosures []string
}

// Serialize will assemble combined format for issuance.
func (cf *CombinedFormatForIssuance) Serialize() string {
	presentation := cf.SDJWT
	for _, disclosure := range cf.Disclosures {
		presentation += CombinedFormatSeparator + disclosure
	}

	return presentation
}

// CombinedFormatForPresentation holds the issuer token, disclosures and
// optional holder verification (key binding) JWT.
type CombinedFormatForPresentation struct {
	SDJWT       string
	Disclosures []string

	HolderVerification string
}

// Serialize will assemble combined format for presentation.
func (cf *CombinedFormatForPresentation) Serialize() string {
	presentation := cf.SDJWT
	for _, disclosure := range cf.Disclosures {
		presentation += CombinedFormatSeparator + disclosure
	}

	if len(cf.Disclosures) > 0 || cf.HolderVerification != "" {
		presentation += CombinedFormatSeparator
	}

	presentation += cf.HolderVerification

	return presentation
}

// ParseCombinedFormatForIssuance parses combined format for issuance into
// CombinedFormatForIssuance parts. A single trailing separator is accepted;
// some issuers terminate every disclosure segment with it.
func ParseCombinedFormatForIssuance(combinedFormatForIssuance string) (*CombinedFormatForIssuance, error) {
	parts := strings.Split(combinedFormatForIssuance, CombinedFormatSeparator)

	if len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}

	sdJWT := parts[0]
	if sdJWT == "" {
		return nil, fmt.Errorf("%w: token segment is missing", ErrMalformedCompactForm)
	}

	var disclosures []string
	if len(parts) > 1 {
		disclosures = parts[1:]
	}

	return &CombinedFormatForIssuance{SDJWT: sdJWT, Disclosures: disclosures}, nil
}

// ParseCombinedFormatForPresentation parses combined format for presentation
// into CombinedFormatForPresentation parts. A trailing empty segment means no
// holder verification JWT; a trailing non-empty segment is the holder
// verification JWT.
func ParseCombinedFormatForPresentation(combinedFormatForPresentation string) (*CombinedFormatForPresentation, error) { // nolint:lll
	parts := strings.Split(combinedFormatForPresentation, CombinedFormatSeparator)

	sdJWT := parts[0]
	if sdJWT == "" {
		return nil, fmt.Errorf("%w: token segment is missing", ErrMalformedCompactForm)
	}

	var disclosures []string
	if len(parts) > 2 {
		disclosures = parts[1 : len(parts)-1]
	}

	var holderVerification string
	if len(parts) > 1 {
		holderVerification = parts[len(parts)-1]
	}

	return &CombinedFormatForPresentation{
		SDJWT:              sdJWT,
		Disclosures:        disclosures,
		HolderVerification: holderVerification,
	}, nil
}

// GetHash calculates hash of data using hash function identified by hash.
func GetHash(hash crypto.Hash, value string) (string, error) {
	if !hash.Available() {
		return "", fmt.Errorf("%w: hash function not available for: %d", ErrUnsupportedAlgorithm, hash)
	}

	h := hash.New()

	if _, hashErr := h.Write([]byte(value)); hashErr != nil {
		return "", hashErr
	}

	result := h.Sum(nil)

	return base64.RawURLEncoding.EncodeToString(result), nil
}

// GetCryptoHashFromClaims returns crypto hash from claims.
func GetCryptoHashFromClaims(claims map[string]interface{}) (crypto.Hash, error) {
	var cryptoHash crypto.Hash

	// check that the _sd_alg claim is present
	sdAlg, err := GetSDAlg(claims)
	if err != nil {
		return cryptoHash, err
	}

	// check that _sd_alg value is understood and the hash algorithm is deemed secure.
	return GetCryptoHash(sdAlg)
}

// GetCryptoHash returns crypto hash from SD algorithm.
func GetCryptoHash(sdAlg string) (crypto.Hash, error) {
	var err error

	var cryptoHash crypto.Hash

	// From spec: the hash algorithms MD2, MD4, MD5, RIPEMD-160, and SHA-1 revealed fundamental weaknesses
	// and they MUST NOT be used.

	switch strings.ToUpper(sdAlg) {
	case crypto.SHA256.String():
		cryptoHash = crypto.SHA256
	case crypto.SHA384.String():
		cryptoHash = crypto.SHA384
	case crypto.SHA512.String():
		cryptoHash = crypto.SHA512
	default:
		err = fmt.Errorf("%w: %s '%s'", ErrUnsupportedAlgorithm, SDAlgorithmKey, sdAlg)
	}

	return cryptoHash, err
}

// GetSDAlg returns SD algorithm from claims.
func GetSDAlg(claims map[string]interface{}) (string, error) {
	obj, ok := claims[SDAlgorithmKey]
	if !ok {
		return "", fmt.Errorf("%w: %s must be present in the payload", ErrUnsupportedAlgorithm, SDAlgorithmKey)
	}

	alg, ok := obj.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrUnsupportedAlgorithm, SDAlgorithmKey)
	}

	return alg, nil
}

// GetDisclosureDigests returns digests from the _sd key of a claims map.
func GetDisclosureDigests(claims map[string]interface{}) (map[string]bool, error) {
	disclosuresObj, ok := claims[SDKey]
	if !ok {
		return nil, nil
	}

	disclosures, err := stringArray(disclosuresObj)
	if err != nil {
		return nil, fmt.Errorf("get disclosure digests: %w", err)
	}

	return SliceToMap(disclosures), nil
}

// GetCNF returns confirmation claim 'cnf'.
func GetCNF(claims map[string]interface{}) (map[string]interface{}, error) {
	obj, ok := claims[CNFKey]
	if !ok {
		return nil, fmt.Errorf("%s must be present in the payload", CNFKey)
	}

	cnf, ok := obj.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be an object", CNFKey)
	}

	return cnf, nil
}

func stringArray(entry interface{}) ([]string, error) {
	if entry == nil {
		return nil, nil
	}

	sliceValue := reflect.ValueOf(entry)
	if sliceValue.Kind() != reflect.Slice {
		return nil, fmt.Errorf("entry type[%T] is not an array", entry)
	}

	stringSlice := make([]string, sliceValue.Len())

	for i := 0; i < sliceValue.Len(); i++ {
		sliceVal := sliceValue.Index(i).Interface()

		val, ok := sliceVal.(string)
		if !ok {
			return nil, fmt.Errorf("entry item type[%T] is not a string", sliceVal)
		}

		stringSlice[i] = val
	}

	return stringSlice, nil
}

// SliceToMap converts a slice to a set.
func SliceToMap(ids []string) map[string]bool {
	values := make(map[string]bool)
	for _, id := range ids {
		values[id] = true
	}

	return values
}

// KeyExistsInMap checks if key exists in map, at the top level or nested
// deeper, including inside objects carried by array elements.
func KeyExistsInMap(key string, m map[string]interface{}) bool {
	for k, v := range m {
		if k == key {
			return true
		}

		if keyExistsInValue(key, v) {
			return true
		}
	}

	return false
}

func keyExistsInValue(key string, value interface{}) bool {
	switch v := value.(type) {
	case map[string]interface{}:
		return KeyExistsInMap(key, v)
	case []interface{}:
		for _, e := range v {
			if keyExistsInValue(key, e) {
				return true
			}
		}
	}

	return false
}
