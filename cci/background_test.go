package cci

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/cxlfab/pkg"
)

func TestBackgroundSlotStatusBeforeStartIsNotOK(t *testing.T) {
	var s BackgroundSlot
	_, _, _, ok := s.Status()
	assert.False(t, ok)
	assert.False(t, s.Running())
}

func TestBackgroundSlotStartProgressComplete(t *testing.T) {
	var s BackgroundSlot
	require.NoError(t, s.Start(OpBindVPPB))
	assert.True(t, s.Running())

	op, percent, code, ok := s.Status()
	require.True(t, ok)
	assert.Equal(t, OpBindVPPB, op)
	assert.Equal(t, uint8(0), percent)
	assert.Equal(t, pkg.StatusBackgroundStarted, code)

	s.Progress(42)
	_, percent, _, _ = s.Status()
	assert.Equal(t, uint8(42), percent)

	s.Complete(pkg.StatusSuccess)
	assert.False(t, s.Running())
	op, percent, code, ok = s.Status()
	require.True(t, ok)
	assert.Equal(t, OpBindVPPB, op)
	assert.Equal(t, uint8(100), percent)
	assert.Equal(t, pkg.StatusSuccess, code)
}

func TestBackgroundSlotStartRejectsWhenBusy(t *testing.T) {
	var s BackgroundSlot
	require.NoError(t, s.Start(OpBindVPPB))
	assert.ErrorIs(t, s.Start(OpUnbindVPPB), pkg.ErrBackgroundBusy)
}

func TestBackgroundSlotProgressIgnoredWhenNotRunning(t *testing.T) {
	var s BackgroundSlot
	s.Progress(50)
	_, _, _, ok := s.Status()
	assert.False(t, ok)
}

func TestBackgroundSlotStartAgainAfterComplete(t *testing.T) {
	var s BackgroundSlot
	require.NoError(t, s.Start(OpBindVPPB))
	s.Complete(pkg.StatusSuccess)
	assert.NoError(t, s.Start(OpUnbindVPPB))
}
