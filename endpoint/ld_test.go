package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLDAllocationTableDividesEvenly(t *testing.T) {
	table, err := NewLDAllocationTable(3, 300)
	require.NoError(t, err)
	assert.Equal(t, []uint64{100, 100, 100}, table.Get())
}

func TestNewLDAllocationTableRemainderGoesToLastLD(t *testing.T) {
	table, err := NewLDAllocationTable(3, 301)
	require.NoError(t, err)
	allocs := table.Get()
	assert.Equal(t, uint64(100), allocs[0])
	assert.Equal(t, uint64(101), allocs[2])
}

func TestSetAllocationsRejectsOversum(t *testing.T) {
	table, err := NewLDAllocationTable(2, 100)
	require.NoError(t, err)
	assert.Error(t, table.Set([]uint64{60, 60}))
}

func TestSetAllocationsRejectsWrongLength(t *testing.T) {
	table, err := NewLDAllocationTable(2, 100)
	require.NoError(t, err)
	assert.Error(t, table.Set([]uint64{100}))
}

func TestSetAllocationsAccepted(t *testing.T) {
	table, err := NewLDAllocationTable(2, 100)
	require.NoError(t, err)
	require.NoError(t, table.Set([]uint64{30, 70}))
	assert.Equal(t, []uint64{30, 70}, table.Get())
}
