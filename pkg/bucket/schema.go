// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package bucket

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
)

// schemaSet holds the compiled custom metadata type schemas of one bucket.
type schemaSet struct {
	byType map[string]*jsonschema.Schema
}

func compileSchemas(bucketID string, files map[string]string) (*schemaSet, error) {
	set := &schemaSet{byType: make(map[string]*jsonschema.Schema, len(files))}
	if len(files) == 0 {
		return set, nil
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	c := jsonschema.NewCompiler()
	for _, name := range names {
		path, err := filepath.Abs(files[name])
		if err != nil {
			return nil, fmt.Errorf("bucket %q type %q: %w", bucketID, name, err)
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("bucket %q type %q: read schema: %w", bucketID, name, err)
		}

		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("bucket %q type %q: schema is not valid JSON: %w", bucketID, name, err)
		}

		if err := c.AddResource(path, doc); err != nil {
			return nil, fmt.Errorf("bucket %q type %q: %w", bucketID, name, err)
		}

		sch, err := c.Compile(path)
		if err != nil {
			return nil, fmt.Errorf("bucket %q type %q: compile schema: %w", bucketID, name, err)
		}
		set.byType[name] = sch
	}
	return set, nil
}

// HasType reports whether typ is a declared custom metadata type.
func (c Config) HasType(typ string) bool {
	if c.schemas == nil {
		return false
	}
	_, ok := c.schemas.byType[typ]
	return ok
}

// ValidateMetadata checks metadata against the schema declared for typ. An empty typ
// accepts any metadata.
func (c Config) ValidateMetadata(typ string, metadata []byte) error {
	if typ == "" {
		return nil
	}

	var sch *jsonschema.Schema
	if c.schemas != nil {
		sch = c.schemas.byType[typ]
	}
	if sch == nil {
		return apierr.BadRequest("blob:bad-type", "type %q is not declared for bucket %s", typ, c.BucketID)
	}

	if len(metadata) == 0 {
		metadata = []byte("null")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(metadata))
	if err != nil {
		return apierr.BadRequest("blob:metadata-does-not-match-type", "metadata is not valid JSON: %v", err)
	}

	if err := sch.Validate(inst); err != nil {
		return apierr.BadRequest("blob:metadata-does-not-match-type", "metadata does not match type %q: %v", typ, err)
	}
	return nil
}
