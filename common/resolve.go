/*
Copyright Veridial Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"fmt"
	"strconv"

	"golang.org/x/exp/slices"

	"github.com/veridial/sdjwt/util/maphelpers"
)

// Resolution reports, per digest reference found in the payload, whether it
// was disclosed or withheld. Withheld digests cover both legitimately
// withheld claims and decoys; the two are indistinguishable by design.
type Resolution struct {
	// DisclosedPaths are claim paths that were substituted from a supplied
	// disclosure, e.g. "address.street" or "nationalities[1]".
	DisclosedPaths []string

	// WithheldDigests are digests referenced by the payload with no matching
	// disclosure.
	WithheldDigests []string
}

type recursiveData struct {
	disclosures map[string]*DisclosureClaim

	// nestedSD records every digest reference seen; a digest referenced in
	// more than one place rejects the payload.
	nestedSD []string

	// cleanupDigestsClaims removes unmatched digests and the _sd_alg claim
	// from the output (verifier mode). When false the digest structures of
	// undisclosed claims are kept in place (holder mode).
	cleanupDigestsClaims bool

	resolution *Resolution
}

// ResolveClaims rebuilds the claim tree visible through the supplied
// disclosures: matched digests are substituted by their recursively resolved
// claim values, unmatched object digests are dropped and unmatched array
// slots are omitted. After traversal any supplied disclosure that was never
// referenced fails with ErrUnusedDisclosure.
func ResolveClaims(
	claims map[string]interface{},
	disclosureClaims map[string]*DisclosureClaim,
) (map[string]interface{}, *Resolution, error) {
	recData := &recursiveData{
		disclosures:          disclosureClaims,
		cleanupDigestsClaims: true,
		resolution:           &Resolution{},
	}

	output, err := discloseClaimValue(maphelpers.CopyMap(claims), recData, "", 0)
	if err != nil {
		return nil, nil, err
	}

	if err := verifyAllDisclosuresReferenced(recData); err != nil {
		return nil, nil, err
	}

	outputMap, ok := output.(map[string]interface{})
	if !ok {
		return nil, nil, fmt.Errorf("resolved claims type[%T] must be an object", output)
	}

	return outputMap, recData.resolution, nil
}

// VerifyDisclosuresInPayload checks that every disclosure digest is
// referenced in the payload, without modifying it. Digest structures of the
// payload are left in place.
func VerifyDisclosuresInPayload(disclosures []string, payload map[string]interface{}) error {
	cryptoHash, err := GetCryptoHashFromClaims(payload)
	if err != nil {
		return err
	}

	disclosureClaims, err := GetDisclosureClaims(disclosures, cryptoHash)
	if err != nil {
		return err
	}

	recData := &recursiveData{
		disclosures:          disclosureClaims,
		cleanupDigestsClaims: false,
		resolution:           &Resolution{},
	}

	if _, err := discloseClaimValue(maphelpers.CopyMap(payload), recData, "", 0); err != nil {
		return err
	}

	return verifyAllDisclosuresReferenced(recData)
}

func verifyAllDisclosuresReferenced(recData *recursiveData) error {
	for digest, dc := range recData.disclosures {
		if !slices.Contains(recData.nestedSD, digest) {
			return fmt.Errorf("%w: digest '%s'", ErrUnusedDisclosure, dc.Digest)
		}
	}

	return nil
}

func setDisclosureClaimValue(recData *recursiveData, disclosureClaim *DisclosureClaim, path string, depth int) error {
	if disclosureClaim.IsValueParsed {
		return nil
	}

	newValue, err := discloseClaimValue(disclosureClaim.Value, recData, path, depth)
	if err != nil {
		return err
	}

	disclosureClaim.Value = newValue
	disclosureClaim.IsValueParsed = true

	return nil
}

// discloseClaimValue returns the new value of a claim, resolving dependencies
// on other disclosures.
func discloseClaimValue(claim interface{}, recData *recursiveData, path string, depth int) (interface{}, error) { // nolint:funlen,gocyclo,lll
	if depth > maxNestingDepth {
		return nil, fmt.Errorf("%w: %d levels at '%s'", ErrTreeTooDeep, depth, path)
	}

	switch disclosureValue := claim.(type) {
	case []interface{}:
		newValues := make([]interface{}, 0, len(disclosureValue))

		for i, value := range disclosureValue {
			elementPath := path + "[" + strconv.Itoa(i) + "]"

			parsedMap, ok := value.(map[string]interface{})
			if !ok {
				newValues = append(newValues, value)
				continue
			}

			// Array elements that are objects with the single key "..." are digest references.
			arrayElementDigestIface, ok := parsedMap[ArrayElementDigestKey]
			if !ok {
				newValue, err := discloseClaimValue(value, recData, elementPath, depth+1)
				if err != nil {
					return nil, err
				}

				newValues = append(newValues, newValue)

				continue
			}

			// The digest reference is the sole-key wrapper {"...": digest}.
			if len(parsedMap) > 1 {
				return nil, fmt.Errorf("%w: %s must be the only key of an array element digest at '%s'",
					ErrMalformedDisclosure, ArrayElementDigestKey, elementPath)
			}

			arrayElementDigest, ok := arrayElementDigestIface.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s value type[%T] must be string",
					ErrMalformedDisclosure, ArrayElementDigestKey, arrayElementDigestIface)
			}

			if slices.Contains(recData.nestedSD, arrayElementDigest) {
				return nil, fmt.Errorf("%w: digest '%s' is included in more than one place",
					ErrDuplicateDigest, arrayElementDigest)
			}

			recData.nestedSD = append(recData.nestedSD, arrayElementDigest)

			disclosureClaim, ok := recData.disclosures[arrayElementDigest]
			if !ok {
				recData.resolution.WithheldDigests = append(recData.resolution.WithheldDigests, arrayElementDigest)

				if recData.cleanupDigestsClaims {
					// Undisclosed array entry: the slot is omitted, the array shrinks.
					continue
				}

				newValues = append(newValues, value)

				continue
			}

			if disclosureClaim.Elements != disclosureElementsAmountForArrayDigest {
				return nil, fmt.Errorf("%w: disclosure associated with array element digest '%s' must have 2 elements",
					ErrMalformedDisclosure, arrayElementDigest)
			}

			if err := setDisclosureClaimValue(recData, disclosureClaim, elementPath, depth+1); err != nil {
				return nil, err
			}

			recData.resolution.DisclosedPaths = append(recData.resolution.DisclosedPaths, elementPath)

			newValues = append(newValues, disclosureClaim.Value)
		}

		return newValues, nil
	case map[string]interface{}:
		newValues := make(map[string]interface{}, len(disclosureValue))

		if nestedSDListIface, ok := disclosureValue[SDKey]; ok { // nolint:nestif
			nestedSDList, err := stringArray(nestedSDListIface)
			if err != nil {
				return nil, fmt.Errorf("get disclosure digests: %w", err)
			}

			var missingSDs []interface{}

			for _, digest := range nestedSDList {
				if slices.Contains(recData.nestedSD, digest) {
					return nil, fmt.Errorf("%w: digest '%s' is included in more than one place",
						ErrDuplicateDigest, digest)
				}

				recData.nestedSD = append(recData.nestedSD, digest)

				disclosureClaim, ok := recData.disclosures[digest]
				if !ok {
					recData.resolution.WithheldDigests = append(recData.resolution.WithheldDigests, digest)
					missingSDs = append(missingSDs, digest)

					continue
				}

				if disclosureClaim.Elements != disclosureElementsAmountForSDDigest {
					return nil, fmt.Errorf("%w: disclosure associated with digest '%s' must have 3 elements",
						ErrMalformedDisclosure, digest)
				}

				claimPath := disclosureClaim.Name
				if path != "" {
					claimPath = path + "." + disclosureClaim.Name
				}

				if err = setDisclosureClaimValue(recData, disclosureClaim, claimPath, depth+1); err != nil {
					return nil, err
				}

				// If the claim name already exists at the same level, the payload is rejected.
				if _, ok = newValues[disclosureClaim.Name]; ok {
					return nil, fmt.Errorf("claim name '%s' already exists at the same level", disclosureClaim.Name)
				}

				newValues[disclosureClaim.Name] = disclosureClaim.Value

				recData.resolution.DisclosedPaths = append(recData.resolution.DisclosedPaths, claimPath)
			}

			if !recData.cleanupDigestsClaims && len(missingSDs) > 0 {
				newValues[SDKey] = missingSDs
			}
		}

		for k, v := range disclosureValue {
			if k == SDKey {
				continue
			}

			if k == SDAlgorithmKey && recData.cleanupDigestsClaims {
				continue
			}

			claimPath := k
			if path != "" {
				claimPath = path + "." + k
			}

			newValue, err := discloseClaimValue(v, recData, claimPath, depth+1)
			if err != nil {
				return nil, err
			}

			if _, ok := newValues[k]; ok {
				return nil, fmt.Errorf("claim name '%s' already exists at the same level", k)
			}

			newValues[k] = newValue
		}

		return newValues, nil
	default:
		return claim, nil
	}
}
