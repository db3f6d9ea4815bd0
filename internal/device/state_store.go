package device

import (
	"reflect"
	"sync"
	"time"

	"github.com/Dijker/com.netatmo/internal/capability"
)

// RawState is one module record as returned by the cloud: its declared
// type tag and the decoded JSON object describing it.
type RawState struct {
	Type    capability.TypeTag
	Payload map[string]any
}

// Change describes a capability transitioning to a new value.
type Change struct {
	DeviceID     string    `json:"device_id"`
	CapabilityID string    `json:"capability_id"`
	Value        any       `json:"value"`
	Previous     any       `json:"previous,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
}

// ChangeHandler receives change notifications. Handlers run synchronously
// on the goroutine that called Apply and must not call back into Apply.
type ChangeHandler func(Change)

// StateStore holds the last known value of every capability of every
// device and notifies subscribers on real value transitions.
//
// A value is stored only when it was extracted from a payload and differs
// from the stored value. Missing fields never erase a known value.
//
// All methods are thread-safe.
type StateStore struct {
	mapper *capability.Registry
	now    func() time.Time

	mu     sync.RWMutex
	values map[string]map[string]any
	synced map[string]time.Time

	handlersMu sync.RWMutex
	handlers   []ChangeHandler
}

// NewStateStore creates an empty store using mapper for extraction.
func NewStateStore(mapper *capability.Registry) *StateStore {
	return &StateStore{
		mapper: mapper,
		now:    time.Now,
		values: make(map[string]map[string]any),
		synced: make(map[string]time.Time),
	}
}

// OnChange registers a subscriber for capability changes.
func (s *StateStore) OnChange(h ChangeHandler) {
	s.handlersMu.Lock()
	s.handlers = append(s.handlers, h)
	s.handlersMu.Unlock()
}

// Apply extracts every capability declared for raw.Type and stores the
// values that changed. It returns the changes in descriptor order after
// notifying subscribers.
func (s *StateStore) Apply(deviceID string, raw RawState) []Change {
	descriptors := s.mapper.ForType(raw.Type)
	observedAt := s.now().UTC()

	var changes []Change

	s.mu.Lock()
	current := s.values[deviceID]
	for _, d := range descriptors {
		value, ok := d.Extract(raw.Payload)
		if !ok {
			continue
		}

		previous, had := current[d.ID]
		if had && reflect.DeepEqual(previous, value) {
			continue
		}

		if current == nil {
			current = make(map[string]any, len(descriptors))
			s.values[deviceID] = current
		}
		current[d.ID] = value
		changes = append(changes, Change{
			DeviceID:     deviceID,
			CapabilityID: d.ID,
			Value:        value,
			Previous:     previous,
			ObservedAt:   observedAt,
		})
	}
	if current != nil {
		s.synced[deviceID] = observedAt
	}
	s.mu.Unlock()

	if len(changes) > 0 {
		s.notify(changes)
	}
	return changes
}

func (s *StateStore) notify(changes []Change) {
	s.handlersMu.RLock()
	handlers := make([]ChangeHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.handlersMu.RUnlock()

	for _, c := range changes {
		for _, h := range handlers {
			h(c)
		}
	}
}

// Read returns the last known value of a capability; false means no value
// was ever observed.
func (s *StateStore) Read(deviceID, capabilityID string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[deviceID][capabilityID]
	return v, ok
}

// HasValues reports whether any refresh has produced a value for the device.
func (s *StateStore) HasValues(deviceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values[deviceID]) > 0
}

// LastSynced returns when a refresh last produced values for the device.
func (s *StateStore) LastSynced(deviceID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.synced[deviceID]
	return t, ok
}

// Snapshot returns a copy of every known value of the device.
func (s *StateStore) Snapshot(deviceID string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.values[deviceID]))
	for k, v := range s.values[deviceID] {
		out[k] = v
	}
	return out
}

// Forget drops all cached state for a device.
func (s *StateStore) Forget(deviceID string) {
	s.mu.Lock()
	delete(s.values, deviceID)
	delete(s.synced, deviceID)
	s.mu.Unlock()
}
