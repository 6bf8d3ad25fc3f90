// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package bucket

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/LeeDigitalWorks/blobgate/pkg/types"
	"github.com/LeeDigitalWorks/blobgate/pkg/utils"
)

// DefaultLinkExpireTime applies when a bucket does not set link_expire_time.
const DefaultLinkExpireTime = time.Minute

// NotifyConfig lists who receives one kind of bucket notification.
type NotifyConfig struct {
	Recipients []string `mapstructure:"recipients"`
	Subject    string   `mapstructure:"subject"`
}

// Enabled reports whether anyone should be notified.
func (n NotifyConfig) Enabled() bool {
	return len(n.Recipients) > 0
}

type Notifications struct {
	Quota      NotifyConfig `mapstructure:"quota"`
	Integrity  NotifyConfig `mapstructure:"integrity"`
	BucketSize NotifyConfig `mapstructure:"bucket_size"`
	Reporting  NotifyConfig `mapstructure:"reporting"`
}

// RawConfig is one entry of the buckets list as it appears in configuration.
type RawConfig struct {
	InternalBucketID    string              `mapstructure:"internal_bucket_id"`
	BucketID            string              `mapstructure:"bucket_id"`
	Name                string              `mapstructure:"name"`
	Key                 string              `mapstructure:"key"`
	Quota               string              `mapstructure:"quota"`
	LinkExpireTime      string              `mapstructure:"link_expire_time"`
	NotifyWhenQuotaOver int                 `mapstructure:"notify_when_quota_over"`
	OutputValidation    bool                `mapstructure:"output_validation"`
	IntegrityChecks     bool                `mapstructure:"integrity_checks"`
	Storage             types.BackendConfig `mapstructure:"storage"`
	AdditionalTypes     map[string]string   `mapstructure:"additional_types"`
	Notifications       Notifications       `mapstructure:"notifications"`
}

// Config is the immutable, parsed configuration of one bucket.
type Config struct {
	InternalID string
	BucketID   string
	Name       string
	Key        string

	// Quota is the byte budget of the bucket. 0 means unlimited.
	Quota int64

	// LinkExpireTime is the longest lifetime a signed link may have.
	LinkExpireTime time.Duration

	// NotifyWhenQuotaOver is the usage percentage that triggers a quota warning.
	// 0 disables the warning.
	NotifyWhenQuotaOver int

	OutputValidation bool
	IntegrityChecks  bool

	Storage       types.BackendConfig
	Notifications Notifications

	// AdditionalTypes maps a custom metadata type name to its JSON schema file.
	AdditionalTypes map[string]string

	schemas *schemaSet
}

// ParseConfig converts a RawConfig into a Config. Schemas are compiled by NewRegistry.
func ParseConfig(raw RawConfig) (Config, error) {
	c := Config{
		InternalID:          strings.TrimSpace(raw.InternalBucketID),
		BucketID:            strings.TrimSpace(raw.BucketID),
		Name:                raw.Name,
		Key:                 raw.Key,
		NotifyWhenQuotaOver: raw.NotifyWhenQuotaOver,
		OutputValidation:    raw.OutputValidation,
		IntegrityChecks:     raw.IntegrityChecks,
		Storage:             raw.Storage,
		Notifications:       raw.Notifications,
		AdditionalTypes:     raw.AdditionalTypes,
		LinkExpireTime:      DefaultLinkExpireTime,
	}

	if raw.Quota != "" {
		q, err := humanize.ParseBytes(raw.Quota)
		if err != nil {
			return Config{}, fmt.Errorf("bucket %q: invalid quota %q: %w", raw.BucketID, raw.Quota, err)
		}
		c.Quota = int64(q)
	}

	if raw.LinkExpireTime != "" {
		d, err := utils.ParseDuration(raw.LinkExpireTime)
		if err != nil {
			return Config{}, fmt.Errorf("bucket %q: invalid link_expire_time %q: %w", raw.BucketID, raw.LinkExpireTime, err)
		}
		c.LinkExpireTime = d
	}

	if c.NotifyWhenQuotaOver < 0 || c.NotifyWhenQuotaOver > 100 {
		return Config{}, fmt.Errorf("bucket %q: notify_when_quota_over must be within 0..100", raw.BucketID)
	}
	return c, nil
}

// String identifies the bucket in logs without exposing its key.
func (c Config) String() string {
	return fmt.Sprintf("%s (%s)", c.BucketID, c.InternalID)
}

// QuotaExceeded reports whether a bucket total of size bytes is over quota.
func (c Config) QuotaExceeded(size int64) bool {
	return c.Quota > 0 && size > c.Quota
}

// QuotaWarningCrossed reports whether moving the bucket total from before to after
// crosses the notify_when_quota_over threshold.
func (c Config) QuotaWarningCrossed(before, after int64) bool {
	if c.Quota <= 0 || c.NotifyWhenQuotaOver <= 0 {
		return false
	}
	threshold := c.Quota * int64(c.NotifyWhenQuotaOver) / 100
	return before <= threshold && after > threshold
}

// UsagePercent returns size as a percentage of the quota, or 0 when unlimited.
func (c Config) UsagePercent(size int64) float64 {
	if c.Quota <= 0 {
		return 0
	}
	return float64(size) * 100 / float64(c.Quota)
}
