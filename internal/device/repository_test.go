package device

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Dijker/com.netatmo/internal/capability"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE devices (
			id             TEXT PRIMARY KEY,
			account_id     TEXT NOT NULL,
			driver         TEXT NOT NULL,
			type           TEXT NOT NULL,
			station_id     TEXT NOT NULL,
			module_id      TEXT NOT NULL DEFAULT '',
			name           TEXT NOT NULL,
			capabilities   TEXT NOT NULL DEFAULT '[]',
			capability_map TEXT NOT NULL DEFAULT '{}',
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		) STRICT;
		CREATE TABLE capability_history (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id     TEXT NOT NULL,
			capability_id TEXT NOT NULL,
			value         TEXT NOT NULL,
			observed_at   INTEGER NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func testStation(accountID, stationID, name string) *Device {
	r := capability.Default()
	return &Device{
		ID:            ComposeID(stationID, ""),
		AccountID:     accountID,
		Driver:        DriverWeatherStation,
		Type:          capability.TypeStation,
		StationID:     stationID,
		Name:          name,
		Capabilities:  r.IDs(capability.TypeStation),
		CapabilityMap: r.Paths(capability.TypeStation),
	}
}

func testModule(accountID, stationID, moduleID, name string) *Device {
	d := testStation(accountID, stationID, name)
	d.ModuleID = moduleID
	d.ID = ComposeID(stationID, moduleID)
	d.Type = capability.TypeOutdoor
	d.Capabilities = capability.Default().IDs(capability.TypeOutdoor)
	d.CapabilityMap = capability.Default().Paths(capability.TypeOutdoor)
	return d
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))

	in := testStation("user-1", "70:ee:50:00:00:01", "Living room")
	if err := repo.Create(ctx, in); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if in.CreatedAt.IsZero() || in.UpdatedAt.IsZero() {
		t.Error("Create() should set timestamps")
	}

	got, err := repo.GetByID(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.AccountID != "user-1" || got.Type != capability.TypeStation || got.Driver != DriverWeatherStation {
		t.Errorf("GetByID() = %+v", got)
	}
	if !reflect.DeepEqual(got.Capabilities, in.Capabilities) {
		t.Errorf("Capabilities = %v, want %v", got.Capabilities, in.Capabilities)
	}
	if got.CapabilityMap[capability.MeasureTemperature] != "dashboard_data.Temperature" {
		t.Errorf("CapabilityMap = %v", got.CapabilityMap)
	}

	if err := repo.Create(ctx, testStation("user-1", "70:ee:50:00:00:01", "Dup")); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("duplicate Create() error = %v, want ErrDeviceExists", err)
	}
}

func TestSQLiteRepository_GetByID_NotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))

	devices := []*Device{
		testStation("user-1", "s1", "B station"),
		testModule("user-1", "s1", "m1", "A outdoor"),
		testStation("user-2", "s2", "C station"),
	}
	therm := testStation("user-2", "relay", "Thermostat")
	therm.Driver = DriverThermostat
	therm.Type = capability.TypeThermostat
	devices = append(devices, therm)

	for _, d := range devices {
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create(%s) error = %v", d.ID, err)
		}
	}

	all, err := repo.List(ctx)
	if err != nil || len(all) != 4 {
		t.Fatalf("List() = %d devices, err %v", len(all), err)
	}
	if all[0].Name != "A outdoor" {
		t.Errorf("List() not ordered by name: first = %q", all[0].Name)
	}

	byAccount, err := repo.ListByAccount(ctx, "user-1")
	if err != nil || len(byAccount) != 2 {
		t.Errorf("ListByAccount(user-1) = %d devices, err %v", len(byAccount), err)
	}

	byDriver, err := repo.ListByDriver(ctx, DriverThermostat)
	if err != nil || len(byDriver) != 1 || byDriver[0].ID != "relay" {
		t.Errorf("ListByDriver(thermostat) = %+v, err %v", byDriver, err)
	}
}

func TestSQLiteRepository_UpdateDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))

	d := testStation("user-1", "s1", "Old")
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	d.Name = "New"
	if err := repo.Update(ctx, d); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, d.ID)
	if got.Name != "New" {
		t.Errorf("Name after Update() = %q", got.Name)
	}

	if err := repo.Delete(ctx, d.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, d.ID); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Delete() error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.Update(ctx, d); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Update() of deleted device error = %v, want ErrDeviceNotFound", err)
	}
}
