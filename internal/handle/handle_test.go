package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpack_RoundTrip(t *testing.T) {
	h, err := Pack(12345, 7, 300, 5)
	require.NoError(t, err)

	f, err := h.Unpack()
	require.NoError(t, err)
	assert.Equal(t, uint32(12345), f.SlabID)
	assert.Equal(t, uint32(7), f.Gen)
	assert.Equal(t, uint32(300), f.Slot)
	assert.Equal(t, uint32(5), f.Class)
	assert.Equal(t, uint32(CurrentVer), f.Version)
}

func TestPack_RejectsOversizedFields(t *testing.T) {
	_, err := Pack(MaxSlabID+1, 0, 0, 0)
	assert.Error(t, err)

	_, err = Pack(0, MaxGen+1, 0, 0)
	assert.Error(t, err)

	_, err = Pack(0, 0, MaxSlot+1, 0)
	assert.Error(t, err)

	_, err = Pack(0, 0, 0, MaxClass+1)
	assert.Error(t, err)
}

func TestPack_BoundaryValuesRoundTrip(t *testing.T) {
	h, err := Pack(MaxSlabID, MaxGen, MaxSlot, MaxClass)
	require.NoError(t, err)

	f, err := h.Unpack()
	require.NoError(t, err)
	assert.Equal(t, uint32(MaxSlabID), f.SlabID)
	assert.Equal(t, uint32(MaxGen), f.Gen)
	assert.Equal(t, uint32(MaxSlot), f.Slot)
	assert.Equal(t, uint32(MaxClass), f.Class)
}

func TestUnpack_RejectsUnrecognizedVersion(t *testing.T) {
	h, err := Pack(1, 1, 1, 1)
	require.NoError(t, err)

	corrupt := Handle(uint64(h) &^ (uint64(MaxVersion) << versionShift))
	corrupt |= Handle(uint64(CurrentVer+1) << versionShift)

	_, err = corrupt.Unpack()
	assert.Error(t, err)
}

func TestPack_DistinctFieldsDoNotAlias(t *testing.T) {
	h1, _ := Pack(1, 0, 0, 0)
	h2, _ := Pack(0, 1, 0, 0)
	h3, _ := Pack(0, 0, 1, 0)
	h4, _ := Pack(0, 0, 0, 1)
	assert.NotEqual(t, h1, h2)
	assert.NotEqual(t, h2, h3)
	assert.NotEqual(t, h3, h4)
}
