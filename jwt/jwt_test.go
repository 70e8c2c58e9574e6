/*
Copyright Veridial Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	josejson "github.com/go-jose/go-jose/v3/json"
	"github.com/stretchr/testify/require"
)

func TestNewSigned(t *testing.T) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer := NewEd25519Signer(privKey)
	verifier := NewEd25519Verifier(pubKey)

	t.Run("success - round trip", func(t *testing.T) {
		claims := map[string]interface{}{"iss": "https://issuer.example.com", "name": "Alice"}

		token, err := NewSigned(claims, nil, signer)
		require.NoError(t, err)
		require.Equal(t, "EdDSA", token.LookupStringHeader(HeaderAlgorithm))

		serialized, err := token.Serialize()
		require.NoError(t, err)
		require.True(t, IsCompactJWS(serialized))

		parsed, err := Parse(serialized, WithSignatureVerifier(verifier))
		require.NoError(t, err)
		require.Equal(t, "Alice", parsed.Payload["name"])

		reserialized, err := parsed.Serialize()
		require.NoError(t, err)
		require.Equal(t, serialized, reserialized)
	})

	t.Run("success - struct claims and DecodeClaims", func(t *testing.T) {
		type testClaims struct {
			Issuer string `json:"iss"`
			Name   string `json:"name"`
		}

		token, err := NewSigned(&testClaims{Issuer: "https://issuer.example.com", Name: "Alice"}, nil, signer)
		require.NoError(t, err)

		var decoded testClaims

		require.NoError(t, token.DecodeClaims(&decoded))
		require.Equal(t, "https://issuer.example.com", decoded.Issuer)
		require.Equal(t, "Alice", decoded.Name)
	})

	t.Run("success - signer headers win over caller headers", func(t *testing.T) {
		token, err := NewSigned(map[string]interface{}{}, Headers{
			HeaderAlgorithm: "RS256",
			HeaderType:      "example+sd-jwt",
		}, signer)
		require.NoError(t, err)

		alg, ok := token.Headers.Algorithm()
		require.True(t, ok)
		require.Equal(t, "EdDSA", alg)

		typ, ok := token.Headers.Type()
		require.True(t, ok)
		require.Equal(t, "example+sd-jwt", typ)
	})

	t.Run("error - unmarshallable claims", func(t *testing.T) {
		token, err := NewSigned(map[string]interface{}{"fn": func() {}}, nil, signer)
		require.Error(t, err)
		require.Nil(t, token)
	})
}

func TestNewUnsecured(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		token, err := NewUnsecured(map[string]interface{}{"name": "Alice"}, nil)
		require.NoError(t, err)

		serialized, err := token.Serialize()
		require.NoError(t, err)
		require.True(t, IsJWTUnsecured(serialized))

		parsed, err := Parse(serialized, WithSignatureVerifier(UnsecuredJWTVerifier()))
		require.NoError(t, err)
		require.Equal(t, "Alice", parsed.Payload["name"])
	})

	t.Run("error - unsecured verifier rejects signed token", func(t *testing.T) {
		_, privKey, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		token, err := NewSigned(map[string]interface{}{"name": "Alice"}, nil, NewEd25519Signer(privKey))
		require.NoError(t, err)

		serialized, err := token.Serialize()
		require.NoError(t, err)

		parsed, err := Parse(serialized, WithSignatureVerifier(UnsecuredJWTVerifier()))
		require.Error(t, err)
		require.Nil(t, parsed)
		require.Contains(t, err.Error(), "alg value is not 'none'")
	})
}

func TestParse(t *testing.T) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer := NewEd25519Signer(privKey)
	verifier := NewEd25519Verifier(pubKey)

	t.Run("error - not compact JWS", func(t *testing.T) {
		parsed, err := Parse("not.a-jws")
		require.Error(t, err)
		require.Nil(t, parsed)
		require.Contains(t, err.Error(), "JWT of compacted JWS form is supported only")
	})

	t.Run("error - tampered payload", func(t *testing.T) {
		token, err := NewSigned(map[string]interface{}{"name": "Alice"}, nil, signer)
		require.NoError(t, err)

		serialized, err := token.Serialize()
		require.NoError(t, err)

		parts := strings.Split(serialized, ".")
		parts[1] = base64.RawURLEncoding.EncodeToString([]byte(`{"name":"Mallory"}`))

		parsed, err := Parse(strings.Join(parts, "."), WithSignatureVerifier(verifier))
		require.Error(t, err)
		require.Nil(t, parsed)
		require.Contains(t, err.Error(), "signature doesn't match")
	})

	t.Run("error - missing alg header", func(t *testing.T) {
		serialized := buildCompactJWS(t, map[string]interface{}{HeaderType: "JWT"}, map[string]interface{}{})

		parsed, err := Parse(serialized)
		require.Error(t, err)
		require.Nil(t, parsed)
		require.Contains(t, err.Error(), "alg header is not defined")
	})

	t.Run("error - nested JWT is not supported", func(t *testing.T) {
		serialized := buildCompactJWS(t, map[string]interface{}{
			HeaderAlgorithm:   AlgorithmNone,
			HeaderContentType: TypeJWT,
		}, map[string]interface{}{})

		parsed, err := Parse(serialized)
		require.Error(t, err)
		require.Nil(t, parsed)
		require.Contains(t, err.Error(), "nested JWT is not supported")
	})

	t.Run("typ header validation", func(t *testing.T) {
		for _, typ := range []interface{}{"JWT", "example+sd-jwt", "openid4vci-proof+jwt"} {
			serialized := buildCompactJWS(t, map[string]interface{}{
				HeaderAlgorithm: AlgorithmNone,
				HeaderType:      typ,
			}, map[string]interface{}{})

			_, err := Parse(serialized)
			require.NoError(t, err)
		}

		for _, typ := range []interface{}{"JOSE", "example+foo", 7} {
			serialized := buildCompactJWS(t, map[string]interface{}{
				HeaderAlgorithm: AlgorithmNone,
				HeaderType:      typ,
			}, map[string]interface{}{})

			_, err := Parse(serialized)
			require.Error(t, err)
		}
	})

	t.Run("error - payload is not base64url", func(t *testing.T) {
		headers := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))

		parsed, err := Parse(headers + ".!!!.")
		require.Error(t, err)
		require.Nil(t, parsed)
		require.Contains(t, err.Error(), "decode JWT payload")
	})
}

func TestPayloadToMap(t *testing.T) {
	t.Run("success - map passed through", func(t *testing.T) {
		m := map[string]interface{}{"name": "Alice"}

		result, err := PayloadToMap(m)
		require.NoError(t, err)
		require.Equal(t, m, result)
	})

	t.Run("success - number precision is preserved", func(t *testing.T) {
		result, err := PayloadToMap([]byte(`{"exp": 1600000000}`))
		require.NoError(t, err)
		require.Equal(t, josejson.Number("1600000000"), result["exp"])
	})

	t.Run("error - invalid JSON string", func(t *testing.T) {
		result, err := PayloadToMap("not JSON")
		require.Error(t, err)
		require.Nil(t, result)
		require.Contains(t, err.Error(), "convert to map")
	})
}

func buildCompactJWS(t *testing.T, headers, payload map[string]interface{}) string {
	t.Helper()

	headerBytes, err := json.Marshal(headers)
	require.NoError(t, err)

	payloadBytes, err := json.Marshal(payload)
	require.NoError(t, err)

	return base64.RawURLEncoding.EncodeToString(headerBytes) + "." +
		base64.RawURLEncoding.EncodeToString(payloadBytes) + "."
}
