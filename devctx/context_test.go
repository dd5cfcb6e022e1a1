package devctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlags(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsVerbose(ctx))
	assert.False(t, IsDryRun(ctx))

	ctx = SetVerbose(ctx, true)
	assert.True(t, IsVerbose(ctx))
	assert.False(t, IsDryRun(ctx))

	ctx = SetDryRun(ctx, true)
	assert.True(t, IsDryRun(ctx))
	assert.False(t, IsVerbose(SetVerbose(ctx, false)))
}
