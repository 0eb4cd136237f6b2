package port

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/cxlfab/pkt"
	"github.com/ardnew/cxlfab/routing"
)

func buildSingleDeviceTopology() (*Port, *Port, *Port) {
	usp := NewPort(0, KindUSP, 0x1E98, 0x1, bridgeClassCode)
	dsp := NewPort(1, KindDSP, 0x1E98, 0x2, bridgeClassCode)
	ep := NewPort(2, KindRoot, 0x1E98, 0x3, 0x050210)
	usp.AddChild(dsp)
	dsp.AddChild(ep)
	return usp, dsp, ep
}

func TestEnumerateSingleDeviceTopology(t *testing.T) {
	usp, dsp, ep := buildSingleDeviceTopology()
	bdfTable := routing.NewBDFTable(2)
	mmioTable := routing.NewMMIOTable()

	info, err := Enumerate(usp, 0xFE000000, bdfTable, mmioTable)
	require.NoError(t, err)

	assert.Equal(t, pkt.MakeBDF(1, 0, 0), info.BDF[usp.Index])
	assert.Equal(t, pkt.MakeBDF(2, 0, 0), info.BDF[dsp.Index])

	dspRange := info.BusRange[dsp.Index]
	assert.Equal(t, uint8(2), dspRange.Secondary)
	assert.Equal(t, uint8(2), dspRange.Subordinate)

	bar := info.BAR0[ep.Index]
	assert.GreaterOrEqual(t, bar.Base, uint64(0xFE000000))

	port, ok := bdfTable.Lookup(pkt.MakeBDF(2, 0, 0))
	require.True(t, ok)
	assert.Equal(t, dsp.Index, port)
}

func TestEnumerateIsIdempotentAcrossRebind(t *testing.T) {
	usp, _, _ := buildSingleDeviceTopology()
	bdfTable1 := routing.NewBDFTable(2)
	mmioTable1 := routing.NewMMIOTable()
	first, err := Enumerate(usp, 0xFE000000, bdfTable1, mmioTable1)
	require.NoError(t, err)

	bdfTable2 := routing.NewBDFTable(2)
	mmioTable2 := routing.NewMMIOTable()
	second, err := Enumerate(usp, 0xFE000000, bdfTable2, mmioTable2)
	require.NoError(t, err)

	assert.Equal(t, first.BDF, second.BDF)
	assert.Equal(t, first.BusRange, second.BusRange)
	assert.Equal(t, first.BAR0, second.BAR0)
}
