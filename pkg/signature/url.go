// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/sha256-simd"
	"github.com/sosodev/duration"
)

// Query parameters of a signed link. sig is always last.
const (
	ParamBucketIdentifier = "bucketIdentifier"
	ParamCreationTime     = "creationTime"
	ParamMethod           = "method"
	ParamExpireIn         = "expireIn"
	ParamSig              = "sig"

	// ChecksumClaim holds the URL checksum inside the token payload.
	ChecksumClaim = "ucs"
)

const sigSeparator = "&" + ParamSig + "="

// CanonicalPrefix returns the part of rawURL the checksum covers: everything before
// the literal "&sig=". Parameter order is kept as sent.
func CanonicalPrefix(rawURL string) string {
	before, _, _ := strings.Cut(rawURL, sigSeparator)
	return before
}

// Checksum returns the hex SHA-256 of the canonical prefix of rawURL.
func Checksum(rawURL string) string {
	sum := sha256.Sum256([]byte(CanonicalPrefix(rawURL)))
	return hex.EncodeToString(sum[:])
}

// URLParams are the signed parameters NewURL appends to a base URL.
type URLParams struct {
	BucketID     string
	Method       string
	CreationTime time.Time
	// ExpireIn is optional; zero leaves the bucket's link lifetime in effect.
	ExpireIn time.Duration
}

// NewURL appends the signed-link parameters to base in their canonical order. The
// result still needs SignURL.
func NewURL(base string, p URLParams) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", base)
	}
	if p.BucketID == "" || p.Method == "" {
		return "", fmt.Errorf("bucket and method are required")
	}

	created := p.CreationTime
	if created.IsZero() {
		created = time.Now()
	}

	var b strings.Builder
	b.WriteString(base)
	if u.RawQuery == "" && !strings.HasSuffix(base, "?") {
		b.WriteByte('?')
	} else if !strings.HasSuffix(base, "?") && !strings.HasSuffix(base, "&") {
		b.WriteByte('&')
	}
	b.WriteString(ParamBucketIdentifier + "=" + url.QueryEscape(p.BucketID))
	b.WriteString("&" + ParamCreationTime + "=" + url.QueryEscape(created.UTC().Format(time.RFC3339)))
	b.WriteString("&" + ParamMethod + "=" + url.QueryEscape(strings.ToUpper(p.Method)))
	if p.ExpireIn > 0 {
		b.WriteString("&" + ParamExpireIn + "=" + url.QueryEscape(duration.Format(p.ExpireIn)))
	}
	return b.String(), nil
}

// SignURL appends "&sig=<token>" to rawURL, binding the token to every byte before it.
func SignURL(secret, rawURL string) (string, error) {
	if strings.Contains(rawURL, sigSeparator) {
		return "", fmt.Errorf("url is already signed")
	}
	token, err := Sign(secret, map[string]any{ChecksumClaim: Checksum(rawURL)})
	if err != nil {
		return "", err
	}
	return rawURL + sigSeparator + token, nil
}
