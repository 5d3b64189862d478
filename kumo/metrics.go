package kumo

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	refreshSuccess = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kumo_token_refresh_success_total",
			Help: "Successful Kumo Cloud logins and token refreshes",
		},
	)
	tokenPersistFailure = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kumo_token_persist_failure_total",
			Help: "Token update callbacks that returned an error",
		},
	)
	tokenValid = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kumo_token_valid",
			Help: "Access token validity (1=valid, 0=rejected)",
		},
	)
	pollSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kumo_poll_success",
			Help: "Last poll cycle outcome (1=ok, 0=error)",
		},
	)
	lastPollSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kumo_last_poll_success_timestamp_seconds",
			Help: "Last successful poll cycle (epoch seconds)",
		},
	)
	authFailureGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kumo_consecutive_auth_failures",
			Help: "Consecutive authentication failures",
		},
	)
	reauthSignals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kumo_reauth_signals_total",
			Help: "Terminal re-authentication signals emitted",
		},
	)
)

// MetricsCollectors exposes the client and coordinator collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		refreshSuccess,
		tokenPersistFailure,
		tokenValid,
		pollSuccess,
		lastPollSuccess,
		authFailureGauge,
		reauthSignals,
	}
}

// SnapshotCollector exports per-zone readings from the coordinator's
// cache. Collection never touches the network; it reads whatever the last
// poll published, which keeps scrapes free during rate-limit backoffs.
type SnapshotCollector struct {
	coordinator *Coordinator

	roomTemp  *prometheus.GaugeVec
	humidity  *prometheus.GaugeVec
	spCool    *prometheus.GaugeVec
	spHeat    *prometheus.GaugeVec
	power     *prometheus.GaugeVec
	connected *prometheus.GaugeVec
}

func NewSnapshotCollector(coordinator *Coordinator) *SnapshotCollector {
	labels := []string{"zone_id", "zone_name", "device_serial"}
	return &SnapshotCollector{
		coordinator: coordinator,
		roomTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kumo_zone_room_temperature_celsius",
			Help: "Room temperature per zone",
		}, labels),
		humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kumo_zone_humidity_percent",
			Help: "Humidity per zone",
		}, labels),
		spCool: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kumo_zone_cool_setpoint_celsius",
			Help: "Cooling setpoint per zone",
		}, labels),
		spHeat: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kumo_zone_heat_setpoint_celsius",
			Help: "Heating setpoint per zone",
		}, labels),
		power: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kumo_zone_power",
			Help: "Power state per zone (1=on, 0=off)",
		}, labels),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kumo_zone_connected",
			Help: "Unit connectivity per zone (1=connected)",
		}, labels),
	}
}

func (c *SnapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	c.roomTemp.Describe(ch)
	c.humidity.Describe(ch)
	c.spCool.Describe(ch)
	c.spHeat.Describe(ch)
	c.power.Describe(ch)
	c.connected.Describe(ch)
}

func (c *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.coordinator.Snapshot()
	if snapshot == nil {
		return
	}

	c.roomTemp.Reset()
	c.humidity.Reset()
	c.spCool.Reset()
	c.spHeat.Reset()
	c.power.Reset()
	c.connected.Reset()

	for _, zone := range snapshot.Zones {
		if zone.Adapter == nil {
			continue
		}
		labels := prometheus.Labels{
			"zone_id":       zone.ID,
			"zone_name":     zone.Name,
			"device_serial": zone.DeviceSerial(),
		}
		if value, ok := floatValue(zone.Adapter["roomTemp"]); ok {
			c.roomTemp.With(labels).Set(value)
		}
		if value, ok := floatValue(zone.Adapter["humidity"]); ok {
			c.humidity.With(labels).Set(value)
		}
		if value, ok := floatValue(zone.Adapter["spCool"]); ok {
			c.spCool.With(labels).Set(value)
		}
		if value, ok := floatValue(zone.Adapter["spHeat"]); ok {
			c.spHeat.With(labels).Set(value)
		}
		if value, ok := floatValue(zone.Adapter["power"]); ok {
			c.power.With(labels).Set(value)
		}
		if value, ok := boolValue(zone.Adapter["connected"]); ok {
			c.connected.With(labels).Set(boolToFloat(value))
		}
	}

	c.roomTemp.Collect(ch)
	c.humidity.Collect(ch)
	c.spCool.Collect(ch)
	c.spHeat.Collect(ch)
	c.power.Collect(ch)
	c.connected.Collect(ch)
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
