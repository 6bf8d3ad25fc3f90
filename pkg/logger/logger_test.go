// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCtx_FallsBackToGlobal(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, Ctx(context.Background()))
	assert.NotNil(t, Ctx(nil)) //nolint:staticcheck
}

func TestCtx_ReturnsAttachedLogger(t *testing.T) {
	t.Parallel()

	l := zerolog.Nop()
	ctx := WithLogger(context.Background(), &l)
	assert.Same(t, &l, Ctx(ctx))
}
