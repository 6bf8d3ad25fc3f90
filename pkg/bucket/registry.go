// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package bucket holds the static bucket configuration: the registry resolving
// public and internal bucket ids, the custom metadata type schemas, and the
// per-bucket method locks stored in the metadata database.
package bucket

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Registry resolves bucket configurations. It is built once at startup and is
// read-only afterwards, so lookups need no locking.
type Registry struct {
	byPublicID   map[string]Config
	byInternalID map[string]Config
	ordered      []Config
}

// NewRegistry validates configs and compiles their type schemas. It fails on an
// empty list, an invalid or duplicate internal id, a duplicate public id, an empty
// key, or a schema file that cannot be read, parsed or compiled.
func NewRegistry(configs []Config) (*Registry, error) {
	if len(configs) == 0 {
		return nil, errors.New("no buckets configured")
	}

	r := &Registry{
		byPublicID:   make(map[string]Config, len(configs)),
		byInternalID: make(map[string]Config, len(configs)),
		ordered:      make([]Config, 0, len(configs)),
	}

	for _, c := range configs {
		if c.BucketID == "" {
			return nil, fmt.Errorf("bucket with internal id %q has no bucket_id", c.InternalID)
		}
		if _, err := uuid.Parse(c.InternalID); err != nil {
			return nil, fmt.Errorf("bucket %q: internal_bucket_id %q is not a UUID", c.BucketID, c.InternalID)
		}
		if c.Key == "" {
			return nil, fmt.Errorf("bucket %q: key is empty", c.BucketID)
		}
		if _, dup := r.byPublicID[c.BucketID]; dup {
			return nil, fmt.Errorf("bucket %q configured twice", c.BucketID)
		}
		if _, dup := r.byInternalID[c.InternalID]; dup {
			return nil, fmt.Errorf("internal_bucket_id %q configured twice", c.InternalID)
		}

		schemas, err := compileSchemas(c.BucketID, c.AdditionalTypes)
		if err != nil {
			return nil, err
		}
		c.schemas = schemas

		r.byPublicID[c.BucketID] = c
		r.byInternalID[c.InternalID] = c
		r.ordered = append(r.ordered, c)
	}
	return r, nil
}

// LoadRegistry reads the "buckets" list from v.
func LoadRegistry(v *viper.Viper) (*Registry, error) {
	var raws []RawConfig
	if err := v.UnmarshalKey("buckets", &raws); err != nil {
		return nil, fmt.Errorf("read buckets: %w", err)
	}

	configs := make([]Config, 0, len(raws))
	for _, raw := range raws {
		c, err := ParseConfig(raw)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return NewRegistry(configs)
}

func (r *Registry) ByPublicID(id string) (Config, bool) {
	c, ok := r.byPublicID[id]
	return c, ok
}

func (r *Registry) ByInternalID(id string) (Config, bool) {
	c, ok := r.byInternalID[id]
	return c, ok
}

// All returns the buckets in configuration order.
func (r *Registry) All() []Config {
	out := make([]Config, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Select returns every bucket when internalID is empty, otherwise the one bucket
// with that internal id.
func (r *Registry) Select(internalID string) ([]Config, error) {
	if internalID == "" {
		return r.All(), nil
	}
	c, ok := r.byInternalID[internalID]
	if !ok {
		return nil, fmt.Errorf("bucket %q is not configured", internalID)
	}
	return []Config{c}, nil
}
