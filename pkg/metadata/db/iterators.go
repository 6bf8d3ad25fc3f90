// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"iter"

	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

// IterFiles streams every row matching params, paging by id internally. Rows deleted
// by the consumer while iterating do not disturb the cursor.
func IterFiles(ctx context.Context, store FileStore, params ListFilesParams) iter.Seq2[*types.FileData, error] {
	return func(yield func(*types.FileData, error) bool) {
		p := params
		if p.Limit <= 0 {
			p.Limit = DefaultPageSize
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			page, err := store.ListFiles(ctx, p)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, f := range page {
				if !yield(f, nil) {
					return
				}
			}

			if len(page) < p.Limit {
				return
			}
			p.AfterID = page[len(page)-1].ID
		}
	}
}
