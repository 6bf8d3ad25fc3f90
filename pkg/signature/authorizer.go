// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
	"github.com/LeeDigitalWorks/blobgate/pkg/bucket"
	"github.com/LeeDigitalWorks/blobgate/pkg/utils"
)

// creationTime layouts, tried in order. time.RFC3339 also accepts fractional seconds.
var creationTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
}

// BucketResolver looks up a bucket by its public id.
type BucketResolver interface {
	ByPublicID(id string) (bucket.Config, bool)
}

// Authorizer validates signed requests.
type Authorizer struct {
	buckets        BucketResolver
	now            func() time.Time
	forwardedProto bool
}

type Option func(*Authorizer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) { a.now = now }
}

// WithForwardedProto makes the canonical URL use the X-Forwarded-Proto scheme when a
// proxy terminates TLS in front of the gateway.
func WithForwardedProto() Option {
	return func(a *Authorizer) { a.forwardedProto = true }
}

func NewAuthorizer(buckets BucketResolver, opts ...Option) *Authorizer {
	a := &Authorizer{buckets: buckets, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize checks the signed parameters of r and returns the bucket they name.
// allowed lists the methods the endpoint accepts; every error id starts with errPrefix.
//
// Checks run in a fixed order: required parameters, bucket, expireIn, creationTime
// format and window, method, token, sig position, URL checksum.
func (a *Authorizer) Authorize(r *http.Request, errPrefix string, allowed ...string) (bucket.Config, error) {
	q := r.URL.Query()

	sig := q.Get(ParamSig)
	bucketID := q.Get(ParamBucketIdentifier)
	rawCreated := q.Get(ParamCreationTime)
	declared := q.Get(ParamMethod)

	for _, p := range []struct{ name, value, reason string }{
		{ParamSig, sig, "missing-sig"},
		{ParamBucketIdentifier, bucketID, "missing-bucket-identifier"},
		{ParamCreationTime, rawCreated, "missing-creation-time"},
		{ParamMethod, declared, "missing-method"},
	} {
		if p.value == "" {
			return bucket.Config{}, apierr.BadRequest(errPrefix+"-"+p.reason, "%s missing", p.name)
		}
	}

	cfg, ok := a.buckets.ByPublicID(bucketID)
	if !ok {
		return bucket.Config{}, apierr.BadRequest(errPrefix+"-bucket-not-configured", "bucket %q not configured", bucketID)
	}

	lifetime := cfg.LinkExpireTime
	if raw := q.Get(ParamExpireIn); raw != "" {
		expireIn, err := utils.ParseDuration(raw)
		if err != nil || expireIn <= 0 {
			return bucket.Config{}, apierr.BadRequest(errPrefix+"-bad-expire-in", "expireIn %q is not a positive duration", raw)
		}
		if expireIn > cfg.LinkExpireTime {
			return bucket.Config{}, apierr.BadRequest(errPrefix+"-expire-in-too-long",
				"expireIn %s exceeds the bucket maximum of %s", expireIn, cfg.LinkExpireTime)
		}
		lifetime = expireIn
	}

	created, ok := parseCreationTime(rawCreated)
	if !ok {
		return bucket.Config{}, apierr.Forbidden(errPrefix+"-bad-creation-time-format", "creationTime %q has a bad format", rawCreated)
	}

	now := a.now()
	if created.Before(now.Add(-lifetime)) || created.After(now.Add(lifetime)) {
		return bucket.Config{}, apierr.Forbidden(errPrefix+"-creation-time-out-of-window", "creation time out of window")
	}

	if r.Method != strings.ToUpper(declared) || (len(allowed) > 0 && !slices.Contains(allowed, r.Method)) {
		return bucket.Config{}, apierr.MethodNotAllowed(errPrefix+"-method-not-allowed",
			"method %s not allowed (signed for %s)", r.Method, declared)
	}

	claims, err := Verify(cfg.Key, sig)
	if err != nil {
		return bucket.Config{}, apierr.Wrap(apierr.KindForbidden, errPrefix+"-signature-invalid", err, "signature is invalid")
	}

	reqURL := a.RequestURL(r)
	if _, tail, found := strings.Cut(reqURL, sigSeparator); !found || tail != sig {
		return bucket.Config{}, apierr.Forbidden(errPrefix+"-sig-not-last", "sig must be the last url parameter")
	}

	want := Checksum(reqURL)
	got, _ := claims[ChecksumClaim].(string)
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return bucket.Config{}, apierr.Forbidden(errPrefix+"-checksum-mismatch", "signature does not match the request url")
	}
	return cfg, nil
}

// RequestURL rebuilds the absolute URL of r as the client sent it.
func (a *Authorizer) RequestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if a.forwardedProto {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
		}
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// parseCreationTime accepts RFC 3339 (with or without fractional seconds) and the
// basic offset form. A "+" decoded to a space by query parsing is restored.
func parseCreationTime(raw string) (time.Time, bool) {
	raw = strings.ReplaceAll(raw, " ", "+")
	for _, layout := range creationTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
