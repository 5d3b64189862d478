package kumo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/joshp123/kumocloud-golang/internal/ratelimit"
)

const (
	// DefaultScanInterval is how often the coordinator polls the cloud.
	DefaultScanInterval = 60 * time.Second

	// commandDelay gives the backend time to apply a command before the
	// status is read back.
	commandDelay = time.Second

	// maxAuthFailures is how many consecutive auth failures escalate to
	// the re-authentication signal.
	maxAuthFailures = 3
)

// adapterPatchKeys are the fields a device detail call authoritatively
// reports; a targeted refresh copies them into the zone's adapter
// sub-record.
var adapterPatchKeys = []string{
	"roomTemp",
	"operationMode",
	"power",
	"fanSpeed",
	"airDirection",
	"spCool",
	"spHeat",
	"humidity",
}

// Coordinator periodically refreshes the zone/device/profile cache and
// owns the rate-limit window and auth-failure counter shared by poll and
// command paths.
type Coordinator struct {
	client   *Client
	siteID   string
	interval time.Duration

	window ratelimit.Window

	mu           sync.Mutex
	snapshot     *Snapshot
	authFailures int
	lastSuccess  time.Time

	onUpdate       []func(*Snapshot)
	onReauthNeeded func()
}

// NewCoordinator binds a client to a site. interval <= 0 selects the
// default scan interval.
func NewCoordinator(client *Client, siteID string, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	return &Coordinator{
		client:   client,
		siteID:   siteID,
		interval: interval,
	}
}

// OnUpdate registers a listener notified after every published snapshot.
// Register listeners before Run; registration is not synchronized against
// concurrent polls.
func (c *Coordinator) OnUpdate(fn func(*Snapshot)) {
	c.onUpdate = append(c.onUpdate, fn)
}

// OnReauthNeeded registers the terminal signal handler fired after
// repeated authentication failures. Recovering requires the user to enter
// credentials again.
func (c *Coordinator) OnReauthNeeded(fn func()) {
	c.onReauthNeeded = fn
}

// Snapshot returns the last published snapshot, or nil before the first
// successful poll.
func (c *Coordinator) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// RateLimitedUntil reports the remaining backoff window, 0 when polling is
// allowed.
func (c *Coordinator) RateLimitedUntil() time.Duration {
	return c.window.Remaining(time.Now())
}

// Run polls immediately and then on every tick until the context ends.
func (c *Coordinator) Run(ctx context.Context) {
	if _, err := c.Poll(ctx); err != nil {
		log.Printf("kumo: poll: %v", err)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Poll(ctx); err != nil {
				log.Printf("kumo: poll: %v", err)
			}
		}
	}
}

// Poll runs one refresh cycle. During an active rate-limit window the
// network is skipped entirely and the last good snapshot is served; with
// no snapshot yet the cycle fails recoverably.
func (c *Coordinator) Poll(ctx context.Context) (*Snapshot, error) {
	if remaining := c.window.Remaining(time.Now()); remaining > 0 {
		if snapshot := c.Snapshot(); snapshot != nil {
			return snapshot, nil
		}
		return nil, &UpdateFailedError{Err: fmt.Errorf("rate limited, %s remaining", remaining.Round(time.Second))}
	}

	zones, err := c.client.Zones(ctx, c.siteID)
	if err != nil {
		return nil, c.cycleFailed(err)
	}

	// The physical unit is the fetch target; several zones may share one
	// serial. Fetches are deliberately sequential: the backend punishes
	// bursts, so poll latency is traded for staying under its radar. Do
	// not parallelize without re-validating backend tolerance.
	devices := make(map[string]map[string]any)
	profiles := make(map[string]json.RawMessage)
	for _, zone := range zones {
		serial := zone.DeviceSerial()
		if serial == "" {
			continue
		}
		if _, ok := devices[serial]; ok {
			continue
		}

		detail, err := c.client.DeviceDetails(ctx, serial)
		if err != nil {
			return nil, c.cycleFailed(err)
		}
		profile, err := c.client.DeviceProfile(ctx, serial)
		if err != nil {
			return nil, c.cycleFailed(err)
		}

		devices[serial] = detail
		profiles[serial] = profile
	}

	snapshot := &Snapshot{Zones: zones, Devices: devices, Profiles: profiles}

	c.window.Clear()
	c.mu.Lock()
	c.authFailures = 0
	c.snapshot = snapshot
	c.lastSuccess = time.Now()
	c.mu.Unlock()

	pollSuccess.Set(1)
	lastPollSuccess.Set(float64(time.Now().Unix()))
	authFailureGauge.Set(0)

	c.notify(snapshot)
	return snapshot, nil
}

// RefreshDevice fetches one unit's detail and patches it into the cache.
// Inside an active rate-limit window this is a deliberate no-op: the
// command that triggered it already reached the device, only the status
// mirror is stale.
func (c *Coordinator) RefreshDevice(ctx context.Context, serial string) error {
	if c.window.Active(time.Now()) {
		log.Printf("kumo: skipping refresh of %s, rate-limit window active", serial)
		return nil
	}

	detail, err := c.client.DeviceDetails(ctx, serial)
	if err != nil {
		var rlErr RateLimitError
		if errors.As(err, &rlErr) {
			// Never aborts the caller; the next poll picks the state up.
			c.window.Open(rlErr.RetryAfter)
			log.Printf("kumo: rate limited refreshing %s, deferring to next poll", serial)
			return nil
		}
		return err
	}

	c.mu.Lock()
	snapshot := c.snapshot
	if snapshot != nil {
		patched := snapshot.clone()
		patched.Devices[serial] = detail
		patchZoneAdapter(patched.Zones, serial, detail)
		c.snapshot = patched
		snapshot = patched
	}
	c.mu.Unlock()

	if snapshot != nil {
		c.notify(snapshot)
	}
	return nil
}

// SendCommand relays a command to a unit, then reads the new state back
// after a settle delay. The refresh is best-effort: its failure does not
// undo the fact that the command succeeded.
func (c *Coordinator) SendCommand(ctx context.Context, serial string, commands map[string]any) error {
	if _, err := c.client.SendCommand(ctx, serial, commands); err != nil {
		var rlErr RateLimitError
		if errors.As(err, &rlErr) {
			c.window.Open(rlErr.RetryAfter)
			return err
		}
		var authErr AuthError
		if errors.As(err, &authErr) {
			c.recordAuthFailure()
			return err
		}
		return err
	}

	c.resetAuthFailures()

	if err := sleepCtx(ctx, commandDelay); err != nil {
		return nil
	}
	if err := c.RefreshDevice(ctx, serial); err != nil {
		log.Printf("kumo: refresh %s after command: %v", serial, err)
	}
	return nil
}

func (c *Coordinator) cycleFailed(err error) error {
	pollSuccess.Set(0)

	var rlErr RateLimitError
	if errors.As(err, &rlErr) {
		c.window.Open(rlErr.RetryAfter)
		return &UpdateFailedError{Err: err}
	}

	var authErr AuthError
	if errors.As(err, &authErr) {
		c.recordAuthFailure()
		return &UpdateFailedError{Err: err}
	}

	return &UpdateFailedError{Err: err}
}

func (c *Coordinator) recordAuthFailure() {
	c.mu.Lock()
	c.authFailures++
	count := c.authFailures
	c.mu.Unlock()

	authFailureGauge.Set(float64(count))
	log.Printf("kumo: authentication failure %d/%d", count, maxAuthFailures)

	// Fire exactly once per run of consecutive failures.
	if count == maxAuthFailures {
		reauthSignals.Inc()
		log.Printf("kumo: repeated authentication failures, re-authentication required")
		if c.onReauthNeeded != nil {
			c.onReauthNeeded()
		}
	}
}

func (c *Coordinator) resetAuthFailures() {
	c.mu.Lock()
	c.authFailures = 0
	c.mu.Unlock()
	authFailureGauge.Set(0)
}

func (c *Coordinator) notify(snapshot *Snapshot) {
	for _, fn := range c.onUpdate {
		fn(snapshot)
	}
}

// patchZoneAdapter copies the authoritative detail fields into the zone
// backed by serial. The zone and its adapter map are replaced, not
// mutated, so previously returned snapshots stay coherent.
func patchZoneAdapter(zones []Zone, serial string, detail map[string]any) {
	for i, zone := range zones {
		if zone.DeviceSerial() != serial {
			continue
		}

		adapter := make(map[string]any, len(zone.Adapter)+len(adapterPatchKeys))
		for key, value := range zone.Adapter {
			adapter[key] = value
		}
		for _, key := range adapterPatchKeys {
			if value, ok := detail[key]; ok {
				adapter[key] = value
			}
		}

		zones[i].Adapter = adapter
		break
	}
}
