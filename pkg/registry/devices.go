package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrDeviceNotFound is returned for lookups of unknown device ids.
var ErrDeviceNotFound = errors.New("device not found")

// Device is an operator device paired for push notifications. The push token
// is persisted but never exposed on wire payloads.
type Device struct {
	DeviceID   string  `json:"deviceId"`
	Platform   string  `json:"platform"`
	Label      string  `json:"label"`
	PushToken  string  `json:"pushToken"`
	PairedAt   string  `json:"pairedAt"`
	LastSeenAt *string `json:"lastSeenAt"`
}

// DevicePayload is the public wire shape of a device, with the push token
// omitted.
type DevicePayload struct {
	DeviceID   string  `json:"deviceId"`
	Platform   string  `json:"platform"`
	Label      string  `json:"label"`
	PairedAt   string  `json:"pairedAt"`
	LastSeenAt *string `json:"lastSeenAt"`
}

// NotifyResult is the wire payload of devices.notifyTest.
type NotifyResult struct {
	Status   string `json:"status"`
	DeviceID string `json:"deviceId"`
	Message  string `json:"message,omitempty"`
}

// Devices is the paired device registry.
type Devices struct {
	mu      sync.Mutex
	devices map[string]*Device
	path    string
	logger  *slog.Logger
	now     func() time.Time
}

// NewDevices creates the registry and loads any persisted devices.
func NewDevices(path string) *Devices {
	r := &Devices{
		devices: map[string]*Device{},
		path:    path,
		logger:  slog.With("component", "devices_registry"),
		now:     time.Now,
	}
	for _, device := range loadVersionedList[Device](path, "devices", r.logger) {
		copied := device
		r.devices[device.DeviceID] = &copied
	}
	return r
}

// Pair registers a device, upserting on repeated pairing of the same id.
func (r *Devices) Pair(deviceID, platform, label, pushToken string) (DevicePayload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device := &Device{
		DeviceID:  deviceID,
		Platform:  platform,
		Label:     label,
		PushToken: pushToken,
		PairedAt:  r.now().UTC().Format(time.RFC3339),
	}
	r.devices[deviceID] = device

	r.logger.Info("Device paired", "device_id", deviceID, "platform", platform)
	if err := r.persistLocked(); err != nil {
		return DevicePayload{}, err
	}
	return device.payload(), nil
}

// Unpair removes a device.
func (r *Devices) Unpair(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[deviceID]; !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	delete(r.devices, deviceID)
	r.logger.Info("Device unpaired", "device_id", deviceID)
	return r.persistLocked()
}

// RegisterPush replaces the push token of a paired device.
func (r *Devices) RegisterPush(deviceID, pushToken string) (DevicePayload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[deviceID]
	if !ok {
		return DevicePayload{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	device.PushToken = pushToken
	ts := r.now().UTC().Format(time.RFC3339)
	device.LastSeenAt = &ts

	if err := r.persistLocked(); err != nil {
		return DevicePayload{}, err
	}
	return device.payload(), nil
}

// NotifyTest simulates a push delivery to a device. Unknown devices report
// missing_device rather than erroring so clients can probe pairing state.
func (r *Devices) NotifyTest(deviceID, message string) (NotifyResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[deviceID]
	if !ok {
		return NotifyResult{Status: "missing_device", DeviceID: deviceID}, nil
	}
	ts := r.now().UTC().Format(time.RFC3339)
	device.LastSeenAt = &ts

	if err := r.persistLocked(); err != nil {
		return NotifyResult{}, err
	}
	return NotifyResult{Status: "queued", DeviceID: deviceID, Message: message}, nil
}

// List returns all devices ordered by device id, without push tokens.
func (r *Devices) List() []DevicePayload {
	r.mu.Lock()
	defer r.mu.Unlock()

	payloads := make([]DevicePayload, 0, len(r.devices))
	for _, device := range r.devices {
		payloads = append(payloads, device.payload())
	}
	sort.Slice(payloads, func(i, j int) bool { return payloads[i].DeviceID < payloads[j].DeviceID })
	return payloads
}

func (d *Device) payload() DevicePayload {
	return DevicePayload{
		DeviceID:   d.DeviceID,
		Platform:   d.Platform,
		Label:      d.Label,
		PairedAt:   d.PairedAt,
		LastSeenAt: d.LastSeenAt,
	}
}

func (r *Devices) persistLocked() error {
	devices := make([]Device, 0, len(r.devices))
	for _, device := range r.devices {
		devices = append(devices, *device)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceID < devices[j].DeviceID })
	return saveVersionedList(r.path, "devices", devices)
}
