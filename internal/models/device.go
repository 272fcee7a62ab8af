package models

import "time"

// MaxDevices is the hard cap on devices per account. No eviction.
const MaxDevices = 3

type Device struct {
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName,omitempty"`
	Platform   string    `json:"platform,omitempty"`
	AddedAt    time.Time `json:"addedAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// DeviceDescriptor is what a client presents at login.
type DeviceDescriptor struct {
	DeviceID   string `json:"deviceId" validate:"omitempty,max=256"`
	DeviceName string `json:"deviceName" validate:"omitempty,max=128"`
	Platform   string `json:"platform" validate:"omitempty,max=64"`
}

type RegisterResult struct {
	IsNew        bool
	LimitReached bool
}

// DeviceRegistry is the ordered, bounded device list owned by an Account.
// Mutating methods return a new registry and leave the receiver untouched.
type DeviceRegistry []Device

func (r DeviceRegistry) Find(deviceID string) (Device, bool) {
	for _, d := range r {
		if d.DeviceID == deviceID {
			return d, true
		}
	}
	return Device{}, false
}

// Register refreshes a known device or appends a new one while under MaxDevices.
func (r DeviceRegistry) Register(desc DeviceDescriptor, now time.Time) (DeviceRegistry, RegisterResult) {
	if desc.DeviceID == "" {
		return r, RegisterResult{}
	}

	next := r.clone()
	for i := range next {
		if next[i].DeviceID == desc.DeviceID {
			next[i].LastUsedAt = now
			return next, RegisterResult{}
		}
	}

	if len(r) >= MaxDevices {
		return r, RegisterResult{IsNew: true, LimitReached: true}
	}

	next = append(next, Device{
		DeviceID:   desc.DeviceID,
		DeviceName: desc.DeviceName,
		Platform:   desc.Platform,
		AddedAt:    now,
		LastUsedAt: now,
	})
	return next, RegisterResult{IsNew: true}
}

// Remove drops deviceID, reporting whether it was present.
func (r DeviceRegistry) Remove(deviceID string) (DeviceRegistry, bool) {
	next := make(DeviceRegistry, 0, len(r))
	found := false
	for _, d := range r {
		if d.DeviceID == deviceID {
			found = true
			continue
		}
		next = append(next, d)
	}
	if !found {
		return r, false
	}
	return next, true
}

func (r DeviceRegistry) clone() DeviceRegistry {
	if r == nil {
		return nil
	}
	out := make(DeviceRegistry, len(r))
	copy(out, r)
	return out
}
