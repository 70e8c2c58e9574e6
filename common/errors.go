/*
Copyright Veridial Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import "errors"

// Error taxonomy for building and verifying selective disclosure JWTs.
// Errors are returned wrapped with call-site context; match with errors.Is.
var (
	// ErrInvalidPath is returned when a claim path addresses a reserved key
	// or cannot be parsed.
	ErrInvalidPath = errors.New("invalid claim path")

	// ErrPathNotFound is returned when a claim path does not resolve to an
	// existing node in the claims.
	ErrPathNotFound = errors.New("claim path not found")

	// ErrDuplicatePath is returned when two selected paths are equal or one
	// is an ancestor of the other.
	ErrDuplicatePath = errors.New("duplicate claim path")

	// ErrUnsupportedAlgorithm is returned when the hash algorithm named by
	// the payload is not recognized or not deemed secure.
	ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

	// ErrDuplicateDigest is returned when two disclosures hash identically,
	// or when the same digest is referenced in more than one place.
	ErrDuplicateDigest = errors.New("duplicate digest")

	// ErrMalformedCompactForm is returned when the combined format is missing
	// the token segment.
	ErrMalformedCompactForm = errors.New("malformed combined format")

	// ErrMalformedDisclosure is returned when a disclosure segment fails
	// base64url or JSON decoding, or has an invalid shape.
	ErrMalformedDisclosure = errors.New("malformed disclosure")

	// ErrTreeTooDeep is returned when claims nesting exceeds the supported depth.
	ErrTreeTooDeep = errors.New("claims nesting exceeds maximum depth")

	// ErrUnusedDisclosure is returned when a supplied disclosure's digest is
	// not referenced anywhere in the payload.
	ErrUnusedDisclosure = errors.New("disclosure not referenced in payload")
)
