package device

import (
	"reflect"
	"sync"
	"testing"

	"github.com/Dijker/com.netatmo/internal/capability"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *changeRecorder) record(c Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func stationState(payload map[string]any) RawState {
	return RawState{Type: capability.TypeStation, Payload: payload}
}

func TestStateStore_ApplyScenario(t *testing.T) {
	store := NewStateStore(capability.Default())
	rec := &changeRecorder{}
	store.OnChange(rec.record)

	first := stationState(map[string]any{"dashboard_data": map[string]any{"Temperature": 21.5}})
	changes := store.Apply("D", first)
	if len(changes) != 1 || changes[0].CapabilityID != capability.MeasureTemperature {
		t.Fatalf("first Apply() changes = %+v", changes)
	}
	if v, ok := store.Read("D", capability.MeasureTemperature); !ok || v != 21.5 {
		t.Errorf("Read() = %v, %v; want 21.5, true", v, ok)
	}
	if rec.count() != 1 {
		t.Fatalf("notifications after first apply = %d, want 1", rec.count())
	}

	// Identical payload: no notification.
	if changes := store.Apply("D", first); len(changes) != 0 {
		t.Errorf("identical Apply() changes = %+v, want none", changes)
	}

	// Field missing: value kept, no notification.
	if changes := store.Apply("D", stationState(map[string]any{"dashboard_data": map[string]any{}})); len(changes) != 0 {
		t.Errorf("Apply() with missing field changes = %+v, want none", changes)
	}
	if v, _ := store.Read("D", capability.MeasureTemperature); v != 21.5 {
		t.Errorf("value after missing field = %v, want 21.5", v)
	}
	if rec.count() != 1 {
		t.Errorf("total notifications = %d, want 1", rec.count())
	}
}

func TestStateStore_ChangeCarriesPrevious(t *testing.T) {
	store := NewStateStore(capability.Default())

	store.Apply("D", stationState(map[string]any{"dashboard_data": map[string]any{"Temperature": 20.0}}))
	changes := store.Apply("D", stationState(map[string]any{"dashboard_data": map[string]any{"Temperature": 20.5}}))

	if len(changes) != 1 {
		t.Fatalf("changes = %+v, want one", changes)
	}
	if changes[0].Previous != 20.0 || changes[0].Value != 20.5 {
		t.Errorf("change = %+v, want 20.0 -> 20.5", changes[0])
	}
}

func TestStateStore_ZeroIsAValue(t *testing.T) {
	store := NewStateStore(capability.Default())
	raw := RawState{Type: capability.TypeRain, Payload: map[string]any{"dashboard_data": map[string]any{"Rain": 0.0}}}

	if changes := store.Apply("R", raw); len(changes) != 1 {
		t.Fatalf("Apply() changes = %+v, want one", changes)
	}
	if v, ok := store.Read("R", capability.MeasureRain); !ok || v != 0.0 {
		t.Errorf("Read() = %v, %v; want 0, true", v, ok)
	}
}

func TestStateStore_ScheduleDeepEquality(t *testing.T) {
	store := NewStateStore(capability.Default())
	payload := func(selected string) RawState {
		return RawState{Type: capability.TypeThermostat, Payload: map[string]any{
			"therm_program_list": []any{
				map[string]any{"program_id": "p1", "name": "Winter", "selected": selected == "p1"},
				map[string]any{"program_id": "p2", "name": "Away", "selected": selected == "p2"},
			},
		}}
	}

	if n := len(store.Apply("T", payload("p1"))); n != 1 {
		t.Fatalf("first Apply() = %d changes, want 1", n)
	}
	if n := len(store.Apply("T", payload("p1"))); n != 0 {
		t.Errorf("equal schedule Apply() = %d changes, want 0", n)
	}
	if n := len(store.Apply("T", payload("p2"))); n != 1 {
		t.Errorf("changed selection Apply() = %d changes, want 1", n)
	}

	v, _ := store.Read("T", capability.ProgramList)
	want := []capability.Program{{ID: "p1", Name: "Winter"}, {ID: "p2", Name: "Away", Selected: true}}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("Read(program_list) = %#v, want %#v", v, want)
	}
}

func TestStateStore_UnknownTypeIsNoop(t *testing.T) {
	store := NewStateStore(capability.Default())
	changes := store.Apply("X", RawState{Type: "NACamera", Payload: map[string]any{"dashboard_data": map[string]any{"Temperature": 1.0}}})

	if len(changes) != 0 {
		t.Errorf("Apply() on unknown type = %+v, want none", changes)
	}
	if store.HasValues("X") {
		t.Error("HasValues() = true for device with no mapped capabilities")
	}
}

func TestStateStore_HasValuesSnapshotForget(t *testing.T) {
	store := NewStateStore(capability.Default())
	if store.HasValues("D") {
		t.Fatal("HasValues() = true before any apply")
	}
	if _, ok := store.LastSynced("D"); ok {
		t.Fatal("LastSynced() reported a sync before any apply")
	}

	store.Apply("D", stationState(map[string]any{"dashboard_data": map[string]any{"Temperature": 19.0, "Humidity": 40.0}}))

	if !store.HasValues("D") {
		t.Error("HasValues() = false after apply")
	}
	if _, ok := store.LastSynced("D"); !ok {
		t.Error("LastSynced() missing after apply")
	}
	snap := store.Snapshot("D")
	if len(snap) != 2 {
		t.Errorf("Snapshot() = %v, want two values", snap)
	}
	snap[capability.MeasureTemperature] = -1.0
	if v, _ := store.Read("D", capability.MeasureTemperature); v != 19.0 {
		t.Error("Snapshot() returned a shared map")
	}

	store.Forget("D")
	if store.HasValues("D") {
		t.Error("HasValues() = true after Forget()")
	}
}

func TestStateStore_DevicesAreIndependent(t *testing.T) {
	store := NewStateStore(capability.Default())
	raw := stationState(map[string]any{"dashboard_data": map[string]any{"Temperature": 21.0}})

	if n := len(store.Apply("A", raw)); n != 1 {
		t.Errorf("Apply(A) = %d changes, want 1", n)
	}
	if n := len(store.Apply("B", raw)); n != 1 {
		t.Errorf("Apply(B) = %d changes, want 1", n)
	}
}
