package cloudsync

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dijker/com.netatmo/internal/auth"
	"github.com/Dijker/com.netatmo/internal/capability"
	"github.com/Dijker/com.netatmo/internal/device"
	"github.com/Dijker/com.netatmo/internal/netatmo"
)

const testAccount = "user-1"

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// fakeAPI serves FetchDevices from a per-call function.
type fakeAPI struct {
	identity string

	mu      sync.Mutex
	fetches int
	fetch   func(n int) ([]netatmo.Record, error)

	// fetchStarted receives the call number when a fetch begins; gate,
	// when set, holds every fetch until closed.
	fetchStarted chan int
	gate         chan struct{}
}

func (f *fakeAPI) factory(netatmo.Hooks) netatmo.API { return f }

func (f *fakeAPI) Exchange(_ context.Context, creds netatmo.Credentials) (netatmo.Token, error) {
	return netatmo.Token{AccessToken: creds.AccessToken, RefreshToken: creds.RefreshToken}, nil
}

func (f *fakeAPI) Identify(context.Context) (string, error) {
	if f.identity == "" {
		return testAccount, nil
	}
	return f.identity, nil
}

func (f *fakeAPI) FetchDevices(ctx context.Context) ([]netatmo.Record, error) {
	f.mu.Lock()
	f.fetches++
	n := f.fetches
	fetch := f.fetch
	f.mu.Unlock()

	if f.fetchStarted != nil {
		f.fetchStarted <- n
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fetch == nil {
		return nil, nil
	}
	return fetch(n)
}

func (f *fakeAPI) SetThermPoint(context.Context, netatmo.SetpointSpec) error   { return nil }
func (f *fakeAPI) SwitchSchedule(context.Context, netatmo.ScheduleSpec) error { return nil }
func (f *fakeAPI) Token() (netatmo.Token, bool)                              { return netatmo.Token{}, true }

func (f *fakeAPI) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type fakeDirectory struct {
	mu      sync.Mutex
	devices []device.Device
}

func (d *fakeDirectory) AccountIDs(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for _, dev := range d.devices {
		if !seen[dev.AccountID] {
			seen[dev.AccountID] = true
			ids = append(ids, dev.AccountID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *fakeDirectory) ListByAccount(_ context.Context, accountID string) ([]device.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []device.Device
	for _, dev := range d.devices {
		if dev.AccountID == accountID {
			out = append(out, dev)
		}
	}
	return out, nil
}

func (d *fakeDirectory) GetDevice(_ context.Context, id string) (*device.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.devices {
		if d.devices[i].ID == id {
			return d.devices[i].DeepCopy(), nil
		}
	}
	return nil, device.ErrDeviceNotFound
}

type errorRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *errorRecorder) Report(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *errorRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

// fakeClock drives the scheduler's notion of time; sleeping advances it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration{}, c.sleeps...)
}

type harness struct {
	sched    *Scheduler
	api      *fakeAPI
	registry *auth.Registry
	dir      *fakeDirectory
	store    *device.StateStore
	clock    *fakeClock
	errs     *errorRecorder
}

func stationDevice(id string) device.Device {
	return device.Device{
		ID:           id,
		AccountID:    testAccount,
		Driver:       device.DriverWeatherStation,
		Type:         capability.TypeStation,
		StationID:    id,
		Name:         "Station " + id,
		Capabilities: []string{capability.MeasureTemperature, capability.MeasureHumidity},
	}
}

func stationRecord(id string, dashboard map[string]any) netatmo.Record {
	return netatmo.Record{
		StationID: id,
		Type:      capability.TypeStation,
		Payload:   map[string]any{"_id": id, "dashboard_data": dashboard},
	}
}

func newHarness(t *testing.T, api *fakeAPI, opts Options, devices ...device.Device) *harness {
	t.Helper()

	registry := auth.NewRegistry(api.factory, newMemStore())
	if err := registry.Restore(context.Background(), testAccount, auth.StoredTokens{AccessToken: "a1", RefreshToken: "r1"}); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	h := &harness{
		api:      api,
		registry: registry,
		dir:      &fakeDirectory{devices: devices},
		store:    device.NewStateStore(capability.Default()),
		clock:    newFakeClock(),
		errs:     &errorRecorder{},
	}
	h.sched = New(registry, h.dir, h.store, opts)
	h.sched.now = h.clock.Now
	h.sched.sleep = h.clock.Sleep
	h.sched.SetReporter(h.errs)
	t.Cleanup(h.sched.Stop)
	return h
}

func (h *harness) session(t *testing.T) *auth.Session {
	t.Helper()
	s, err := h.registry.Resolve(context.Background(), testAccount)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	return s
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
