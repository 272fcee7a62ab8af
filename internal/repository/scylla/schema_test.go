package scylla

import (
	"strings"
	"testing"

	"attendance-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaStatements(t *testing.T) {
	dev := schemaStatements("attendance", true)
	require.NotEmpty(t, dev)
	assert.Contains(t, dev[0], "SimpleStrategy")

	prod := schemaStatements("attendance", false)
	assert.Contains(t, prod[0], "NetworkTopologyStrategy")

	for _, stmt := range prod[1:] {
		assert.True(t, strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS attendance."), stmt)
	}
	assert.Contains(t, prod[len(prod)-1], "attendance.settings")
}

func TestDeviceEncoding(t *testing.T) {
	encoded, err := encodeDevices(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", encoded)

	decoded, err := decodeDevices(encoded)
	require.NoError(t, err)
	assert.Empty(t, decoded)

	in := models.DeviceRegistry{{DeviceID: "d1", DeviceName: "Pixel", Platform: "android"}}
	encoded, err = encodeDevices(in)
	require.NoError(t, err)
	decoded, err = decodeDevices(encoded)
	require.NoError(t, err)
	assert.Equal(t, in[0].DeviceID, decoded[0].DeviceID)

	_, err = decodeDevices("{not json")
	assert.Error(t, err)
}
