package utils

import (
	"context"
	"os/user"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitter_Bounds(t *testing.T) {
	t.Parallel()

	for i := 0; i < 1000; i++ {
		d := Jitter(time.Minute, 0.1)
		assert.GreaterOrEqual(t, d, 54*time.Second)
		assert.LessOrEqual(t, d, 66*time.Second)
	}
}

func TestJitter_NoFraction(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Minute, Jitter(time.Minute, 0))
	assert.Equal(t, time.Minute, Jitter(time.Minute, -1))
}

func TestJitteredTicker_StopsWithContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ticks := JitteredTicker(ctx, 5*time.Millisecond, 0.2)

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("expected a tick")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ticks:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestResolvePath(t *testing.T) {
	t.Parallel()

	usr, err := user.Current()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(usr.HomeDir, "conf"), ResolvePath("~/conf"))
	assert.True(t, filepath.IsAbs(ResolvePath("relative")))
}
