package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceRegistryRegister(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	t.Run("descriptor without id is a no-op", func(t *testing.T) {
		var reg DeviceRegistry
		next, res := reg.Register(DeviceDescriptor{DeviceName: "phone"}, now)
		assert.Equal(t, RegisterResult{}, res)
		assert.Empty(t, next)
	})

	t.Run("fourth distinct device is refused", func(t *testing.T) {
		var reg DeviceRegistry
		for i := 1; i <= 3; i++ {
			var res RegisterResult
			reg, res = reg.Register(DeviceDescriptor{DeviceID: fmt.Sprintf("dev-%d", i)}, now)
			require.True(t, res.IsNew)
			require.False(t, res.LimitReached)
		}

		next, res := reg.Register(DeviceDescriptor{DeviceID: "dev-4"}, now)
		assert.True(t, res.IsNew)
		assert.True(t, res.LimitReached)
		assert.Len(t, next, MaxDevices)
		_, found := next.Find("dev-4")
		assert.False(t, found)
	})

	t.Run("known device refreshes last used", func(t *testing.T) {
		reg, _ := DeviceRegistry(nil).Register(DeviceDescriptor{DeviceID: "laptop"}, now)
		later := now.Add(2 * time.Hour)

		next, res := reg.Register(DeviceDescriptor{DeviceID: "laptop"}, later)
		assert.False(t, res.IsNew)
		require.Len(t, next, 1)
		assert.Equal(t, now, next[0].AddedAt)
		assert.Equal(t, later, next[0].LastUsedAt)
		// original registry is untouched
		assert.Equal(t, now, reg[0].LastUsedAt)
	})

	t.Run("known device refreshes even when full", func(t *testing.T) {
		var reg DeviceRegistry
		for i := 1; i <= 3; i++ {
			reg, _ = reg.Register(DeviceDescriptor{DeviceID: fmt.Sprintf("dev-%d", i)}, now)
		}
		next, res := reg.Register(DeviceDescriptor{DeviceID: "dev-2"}, now.Add(time.Minute))
		assert.False(t, res.LimitReached)
		assert.Len(t, next, 3)
	})
}

func TestDeviceRegistryRemove(t *testing.T) {
	now := time.Now()
	reg, _ := DeviceRegistry(nil).Register(DeviceDescriptor{DeviceID: "a"}, now)
	reg, _ = reg.Register(DeviceDescriptor{DeviceID: "b"}, now)

	next, ok := reg.Remove("a")
	assert.True(t, ok)
	assert.Len(t, next, 1)
	assert.Equal(t, "b", next[0].DeviceID)

	same, ok := next.Remove("missing")
	assert.False(t, ok)
	assert.Len(t, same, 1)
}
