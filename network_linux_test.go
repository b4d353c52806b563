//go:build linux

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLinuxProvisioner_UnknownInterface(t *testing.T) {
	p, err := NewAddressProvisioner("ovumpoll-none0", "192.168.1.50/24", zap.NewNop())
	require.NoError(t, err)

	_, err = p.List(context.Background())
	assert.Error(t, err)

	err = p.Add(context.Background())
	assert.ErrorContains(t, err, "ovumpoll-none0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Add(ctx), context.Canceled)
}
