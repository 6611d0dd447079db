package snsctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerbose(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsVerbose(ctx))
	assert.True(t, IsVerbose(SetVerbose(ctx, true)))
	assert.False(t, IsVerbose(SetVerbose(ctx, false)))
}

func TestPipeline(t *testing.T) {
	_, ok := Pipeline(context.Background())
	assert.False(t, ok)

	ctx := WithPipeline(SetVerbose(context.Background(), true), "engine-room")
	name, ok := Pipeline(ctx)
	assert.True(t, ok)
	assert.Equal(t, "engine-room", name)
	assert.True(t, IsVerbose(ctx))
}
