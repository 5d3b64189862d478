package kumo

import (
	"encoding/json"
	"strconv"
)

// Site is a Kumo Cloud installation. Sites are listed during setup only;
// the coordinator is bound to a single site id.
type Site struct {
	ID   string
	Name string
}

// Zone is a controllable space. The core does not interpret HVAC
// semantics: the adapter sub-record and the raw payload are kept as opaque
// mappings for the consumer to read.
type Zone struct {
	ID      string
	Name    string
	Adapter map[string]any
	Raw     map[string]any
}

// DeviceSerial returns the serial of the unit backing this zone, or ""
// when the zone has no adapter sub-record. Multiple zones may share one
// serial (multi-zone units).
func (z Zone) DeviceSerial() string {
	if z.Adapter == nil {
		return ""
	}
	return stringValue(z.Adapter["deviceSerial"])
}

// Snapshot is one coherent view of the polled state. It is replaced
// wholesale on every successful cycle; readers never observe a
// half-updated set.
type Snapshot struct {
	Zones    []Zone
	Devices  map[string]map[string]any
	Profiles map[string]json.RawMessage
}

// Zone looks up a zone by id.
func (s *Snapshot) Zone(id string) (Zone, bool) {
	for _, zone := range s.Zones {
		if zone.ID == id {
			return zone, true
		}
	}
	return Zone{}, false
}

// Device returns the cached detail payload for a serial.
func (s *Snapshot) Device(serial string) (map[string]any, bool) {
	detail, ok := s.Devices[serial]
	return detail, ok
}

// clone makes a copy that shares payload values but owns its own
// containers, so a targeted patch never mutates a snapshot a reader
// already holds.
func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{
		Zones:    make([]Zone, len(s.Zones)),
		Devices:  make(map[string]map[string]any, len(s.Devices)),
		Profiles: make(map[string]json.RawMessage, len(s.Profiles)),
	}
	copy(out.Zones, s.Zones)
	for serial, detail := range s.Devices {
		out.Devices[serial] = detail
	}
	for serial, profile := range s.Profiles {
		out.Profiles[serial] = profile
	}
	return out
}

func decodeZones(raw json.RawMessage) ([]Zone, error) {
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, ValidationError{Reason: "zones payload is not a list"}
	}

	zones := make([]Zone, 0, len(items))
	for _, item := range items {
		zone := Zone{
			ID:   stringValue(item["id"]),
			Name: stringValue(item["name"]),
			Raw:  item,
		}
		if adapter, ok := item["adapter"].(map[string]any); ok {
			zone.Adapter = adapter
		}
		zones = append(zones, zone)
	}
	return zones, nil
}

func stringValue(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case json.Number:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	}
	return ""
}

func floatValue(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case json.Number:
		if parsed, err := typed.Float64(); err == nil {
			return parsed, true
		}
	case string:
		if parsed, err := strconv.ParseFloat(typed, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func boolValue(value any) (bool, bool) {
	typed, ok := value.(bool)
	return typed, ok
}
