// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package signature implements the signed-link scheme: an HS256 token codec over a
// per-bucket secret, and the authorizer that checks a request's signed query
// parameters against the bucket registry.
package signature

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
)

// ErrEmptySecret is returned when signing or verifying with an empty key.
var ErrEmptySecret = errors.New("signature: empty secret")

// ErrSignatureInvalid is the id reported for malformed or forged tokens.
const ErrSignatureInvalid = "blob:signature-invalid"

// Sign returns the compact HS256 token (header.payload.signature) for payload.
// Equal inputs produce equal tokens: the payload is encoded as a JSON object with
// sorted keys. The payload is readable by anyone holding the token.
func Sign(secret string, payload map[string]any) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	claims := make(jwt.MapClaims, len(payload))
	for k, v := range payload {
		claims[k] = v
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Verify checks token against secret and returns its payload. Claims are not
// interpreted: a payload carrying "exp" or "nbf" is returned as-is.
func Verify(secret, token string) (map[string]any, error) {
	if secret == "" {
		return nil, apierr.Wrap(apierr.KindForbidden, ErrSignatureInvalid, ErrEmptySecret, "signature cannot be verified")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindForbidden, ErrSignatureInvalid, err, "signature is invalid")
	}
	return claims, nil
}
