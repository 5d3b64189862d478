package kumo

import (
	"context"
	"fmt"
)

// Device addresses one zone and the physical unit backing it. The zone is
// the unit of control; the serial is the unit of API fetch.
type Device struct {
	coordinator *Coordinator

	ZoneID string
	Serial string
}

// Device returns a handle for the zone with the given id. Zones without an
// adapter sub-record have no controllable unit and yield an error.
func (c *Coordinator) Device(zoneID string) (*Device, error) {
	snapshot := c.Snapshot()
	if snapshot == nil {
		return nil, fmt.Errorf("no snapshot available yet")
	}
	zone, ok := snapshot.Zone(zoneID)
	if !ok {
		return nil, fmt.Errorf("zone %q not found", zoneID)
	}
	serial := zone.DeviceSerial()
	if serial == "" {
		return nil, fmt.Errorf("zone %q has no controllable device", zoneID)
	}
	return &Device{coordinator: c, ZoneID: zoneID, Serial: serial}, nil
}

// Devices returns a handle per controllable zone in the current snapshot.
func (c *Coordinator) Devices() []*Device {
	snapshot := c.Snapshot()
	if snapshot == nil {
		return nil
	}

	devices := make([]*Device, 0, len(snapshot.Zones))
	for _, zone := range snapshot.Zones {
		serial := zone.DeviceSerial()
		if serial == "" {
			continue
		}
		devices = append(devices, &Device{
			coordinator: c,
			ZoneID:      zone.ID,
			Serial:      serial,
		})
	}
	return devices
}

// SendCommand relays a command for this zone's unit and refreshes its
// status mirror.
func (d *Device) SendCommand(ctx context.Context, commands map[string]any) error {
	return d.coordinator.SendCommand(ctx, d.Serial, commands)
}

// Name returns the zone name from the current snapshot.
func (d *Device) Name() string {
	snapshot := d.coordinator.Snapshot()
	if snapshot == nil {
		return ""
	}
	zone, ok := snapshot.Zone(d.ZoneID)
	if !ok {
		return ""
	}
	return zone.Name
}

// Available reports whether the unit is connected, preferring the device
// detail over the zone adapter.
func (d *Device) Available() bool {
	snapshot := d.coordinator.Snapshot()
	if snapshot == nil {
		return false
	}

	connected := false
	if zone, ok := snapshot.Zone(d.ZoneID); ok && zone.Adapter != nil {
		if value, ok := boolValue(zone.Adapter["connected"]); ok {
			connected = value
		}
	}
	if detail, ok := snapshot.Device(d.Serial); ok {
		if value, ok := boolValue(detail["connected"]); ok {
			connected = value
		}
	}
	return connected
}
