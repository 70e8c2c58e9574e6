/*
Copyright Veridial Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package jwt provides a minimal signed-token service for the selective
// disclosure engine: assembling and parsing JSON Web Tokens in compact JWS
// form around caller-supplied signing capabilities. The engine itself never
// computes or verifies signatures; it only produces and consumes the token
// body.
package jwt

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-jose/go-jose/v3/json"
)

const (
	// TypeJWT defines JWT type.
	TypeJWT = "JWT"
	// TypeSDJWT defines SD-JWT type v5+.
	TypeSDJWT = "SD-JWT"

	// AlgorithmNone used to indicate unsecured JWT.
	AlgorithmNone = "none"
)

// JOSE header keys used by this package.
const (
	HeaderAlgorithm   = "alg"
	HeaderType        = "typ"
	HeaderContentType = "cty"
)

// Headers represents JOSE protected headers.
type Headers map[string]interface{}

// Algorithm returns the "alg" header.
func (h Headers) Algorithm() (string, bool) {
	return h.stringValue(HeaderAlgorithm)
}

// Type returns the "typ" header.
func (h Headers) Type() (string, bool) {
	return h.stringValue(HeaderType)
}

func (h Headers) stringValue(key string) (string, bool) {
	raw, ok := h[key]
	if !ok {
		return "", false
	}

	str, ok := raw.(string)

	return str, ok
}

// Signer defines the signing capability supplied by the caller.
type Signer interface {
	// Sign signs the JWS signing input.
	Sign(data []byte) ([]byte, error)

	// Headers returns JOSE headers the signer contributes (at minimum "alg").
	Headers() Headers
}

// SignatureVerifier defines the verification capability supplied by the caller.
type SignatureVerifier interface {
	Verify(joseHeaders Headers, payload, signingInput, signature []byte) error
}

// JSONWebToken defines JSON Web Token (https://tools.ietf.org/html/rfc7519)
type JSONWebToken struct {
	Headers Headers

	Payload map[string]interface{}

	signingInput string
	signature    []byte
}

// parseOpts holds options for the JWT parsing.
type parseOpts struct {
	sigVerifier SignatureVerifier
}

// ParseOpt is the JWT Parser option.
type ParseOpt func(opts *parseOpts)

// WithSignatureVerifier option is for definition of signature verifier.
func WithSignatureVerifier(signatureVerifier SignatureVerifier) ParseOpt {
	return func(opts *parseOpts) {
		opts.sigVerifier = signatureVerifier
	}
}

type signatureVerifierFunc func(joseHeaders Headers, payload, signingInput, signature []byte) error

func (v signatureVerifierFunc) Verify(joseHeaders Headers, payload, signingInput, signature []byte) error {
	return v(joseHeaders, payload, signingInput, signature)
}

func verifyUnsecuredJWT(joseHeaders Headers, _, _, signature []byte) error {
	alg, ok := joseHeaders.Algorithm()
	if !ok {
		return errors.New("alg is not defined")
	}

	if alg != AlgorithmNone {
		return errors.New("alg value is not 'none'")
	}

	if len(signature) > 0 {
		return errors.New("not empty signature")
	}

	return nil
}

// UnsecuredJWTVerifier provides verifier for unsecured JWT.
func UnsecuredJWTVerifier() SignatureVerifier {
	return signatureVerifierFunc(verifyUnsecuredJWT)
}

type unsecuredJWTSigner struct{}

func (s unsecuredJWTSigner) Sign(_ []byte) ([]byte, error) {
	return []byte(""), nil
}

func (s unsecuredJWTSigner) Headers() Headers {
	return Headers{HeaderAlgorithm: AlgorithmNone}
}

// UnsecuredJWTSigner returns a signer producing unsecured ("alg":"none") JWT,
// for flows where the envelope is signed elsewhere.
func UnsecuredJWTSigner() Signer {
	return &unsecuredJWTSigner{}
}

// Parse parses input JWT in compact serialized form into a JSON Web Token.
func Parse(jwtSerialized string, opts ...ParseOpt) (*JSONWebToken, error) {
	if !IsCompactJWS(jwtSerialized) {
		return nil, errors.New("JWT of compacted JWS form is supported only")
	}

	pOpts := &parseOpts{}

	for _, opt := range opts {
		opt(pOpts)
	}

	parts := strings.Split(jwtSerialized, ".")

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode JWT header: %w", err)
	}

	var headers Headers

	if err = json.Unmarshal(headerBytes, &headers); err != nil {
		return nil, fmt.Errorf("unmarshal JWT header: %w", err)
	}

	if err = checkHeaders(headers); err != nil {
		return nil, fmt.Errorf("check JWT headers: %w", err)
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode JWT payload: %w", err)
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode JWT signature: %w", err)
	}

	signingInput := parts[0] + "." + parts[1]

	if pOpts.sigVerifier != nil {
		err = pOpts.sigVerifier.Verify(headers, payloadBytes, []byte(signingInput), signature)
		if err != nil {
			return nil, fmt.Errorf("verify JWT signature: %w", err)
		}
	}

	claims, err := PayloadToMap(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("read JWT claims from JWS payload: %w", err)
	}

	return &JSONWebToken{
		Headers:      headers,
		Payload:      claims,
		signingInput: signingInput,
		signature:    signature,
	}, nil
}

// DecodeClaims fills input c with claims of a token.
func (j *JSONWebToken) DecodeClaims(c interface{}) error {
	pBytes, err := json.Marshal(j.Payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(pBytes, c)
}

// LookupStringHeader makes look up of particular header with string value.
func (j *JSONWebToken) LookupStringHeader(name string) string {
	if headerValue, ok := j.Headers[name]; ok {
		if headerStrValue, ok := headerValue.(string); ok {
			return headerStrValue
		}
	}

	return ""
}

// Serialize makes compact serialization of token.
func (j *JSONWebToken) Serialize() (string, error) {
	if j.signingInput == "" {
		return "", errors.New("JWS serialization is supported only")
	}

	return j.signingInput + "." + base64.RawURLEncoding.EncodeToString(j.signature), nil
}

// NewSigned creates new signed JSON Web Token based on input claims.
func NewSigned(claims interface{}, headers Headers, signer Signer) (*JSONWebToken, error) {
	payloadMap, err := PayloadToMap(claims)
	if err != nil {
		return nil, fmt.Errorf("unmarshallable claims: %w", err)
	}

	payloadBytes, err := json.Marshal(payloadMap)
	if err != nil {
		return nil, fmt.Errorf("marshal JWT claims: %w", err)
	}

	// JWS compact serialization uses only protected headers (https://tools.ietf.org/html/rfc7515#section-3.1).
	joseHeaders := mergeHeaders(headers, signer.Headers())

	headerBytes, err := json.Marshal(joseHeaders)
	if err != nil {
		return nil, fmt.Errorf("marshal JWT headers: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerBytes) + "." +
		base64.RawURLEncoding.EncodeToString(payloadBytes)

	signature, err := signer.Sign([]byte(signingInput))
	if err != nil {
		return nil, fmt.Errorf("sign JWT: %w", err)
	}

	return &JSONWebToken{
		Headers:      joseHeaders,
		Payload:      payloadMap,
		signingInput: signingInput,
		signature:    signature,
	}, nil
}

// NewUnsecured creates new unsecured JSON Web Token based on input claims.
func NewUnsecured(claims interface{}, headers Headers) (*JSONWebToken, error) {
	return NewSigned(claims, headers, &unsecuredJWTSigner{})
}

func mergeHeaders(headers, signerHeaders Headers) Headers {
	merged := make(Headers, len(headers)+len(signerHeaders))

	for k, v := range headers {
		merged[k] = v
	}

	// The signer is authoritative for the headers it contributes.
	for k, v := range signerHeaders {
		merged[k] = v
	}

	return merged
}

// IsCompactJWS checks if serialized token is a JWS of valid structure.
func IsCompactJWS(s string) bool {
	parts := strings.Split(s, ".")

	return len(parts) == 3 && isValidJSON(parts[0])
}

// IsJWTUnsecured checks if serialized token is an unsecured JWT of valid structure.
func IsJWTUnsecured(s string) bool {
	parts := strings.Split(s, ".")

	return len(parts) == 3 &&
		isValidJSON(parts[0]) &&
		isValidJSON(parts[1]) &&
		parts[2] == ""
}

func isValidJSON(s string) bool {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return false
	}

	var j map[string]interface{}
	err = json.Unmarshal(b, &j)

	return err == nil
}

func checkHeaders(headers Headers) error {
	if _, ok := headers[HeaderAlgorithm]; !ok {
		return errors.New("alg header is not defined")
	}

	typ, ok := headers[HeaderType]
	if ok {
		if err := checkTypHeader(typ); err != nil {
			return err
		}
	}

	cty, ok := headers[HeaderContentType]
	if ok && cty == TypeJWT { // https://tools.ietf.org/html/rfc7519#section-5.2
		return errors.New("nested JWT is not supported")
	}

	return nil
}

func checkTypHeader(typ interface{}) error {
	typStr, ok := typ.(string)
	if !ok {
		return errors.New("invalid typ header format")
	}

	chunks := strings.Split(typStr, "+")
	if len(chunks) > 1 {
		ending := strings.ToUpper(chunks[1])
		// Explicit typing (https://www.rfc-editor.org/rfc/rfc8725.html#name-use-explicit-typing).
		if ending != TypeJWT && ending != TypeSDJWT {
			return errors.New("invalid typ header")
		}

		return nil
	}

	if typStr != TypeJWT {
		// https://www.rfc-editor.org/rfc/rfc7519#section-5.1
		return errors.New("typ is not JWT")
	}

	return nil
}

// PayloadToMap transforms claims to map, preserving number precision.
func PayloadToMap(i interface{}) (map[string]interface{}, error) {
	if reflect.ValueOf(i).Kind() == reflect.Map {
		return i.(map[string]interface{}), nil
	}

	var (
		b   []byte
		err error
	)

	switch cv := i.(type) {
	case []byte:
		b = cv
	case string:
		b = []byte(cv)
	default:
		b, err = json.Marshal(i)
		if err != nil {
			return nil, fmt.Errorf("marshal interface[%T]: %w", i, err)
		}
	}

	var m map[string]interface{}

	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()

	if err := d.Decode(&m); err != nil {
		return nil, fmt.Errorf("convert to map: %w", err)
	}

	return m, nil
}
