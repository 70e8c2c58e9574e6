/*
Copyright Veridial Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

// Ed25519Signer signs the JWS signing input with an Ed25519 private key.
type Ed25519Signer struct {
	privateKey ed25519.PrivateKey
	headers    Headers
}

// NewEd25519Signer creates an EdDSA signer.
func NewEd25519Signer(privateKey ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{
		privateKey: privateKey,
		headers:    Headers{HeaderAlgorithm: "EdDSA"},
	}
}

// Sign signs data.
func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.privateKey, data), nil
}

// Headers returns JOSE headers.
func (s *Ed25519Signer) Headers() Headers {
	return s.headers
}

// Ed25519Verifier verifies an EdDSA signature with an Ed25519 public key.
type Ed25519Verifier struct {
	publicKey ed25519.PublicKey
}

// NewEd25519Verifier creates an EdDSA signature verifier.
func NewEd25519Verifier(publicKey ed25519.PublicKey) *Ed25519Verifier {
	return &Ed25519Verifier{publicKey: publicKey}
}

// Verify verifies the signature over the signing input.
func (v *Ed25519Verifier) Verify(joseHeaders Headers, _, signingInput, signature []byte) error {
	alg, ok := joseHeaders.Algorithm()
	if !ok {
		return errors.New("alg is not defined")
	}

	if alg != "EdDSA" {
		return fmt.Errorf("alg is not EdDSA: %s", alg)
	}

	if !ed25519.Verify(v.publicKey, signingInput, signature) {
		return errors.New("signature doesn't match")
	}

	return nil
}
