package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dijker/com.netatmo/internal/capability"
)

// Repository defines device persistence operations.
type Repository interface {
	// GetByID returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	List(ctx context.Context) ([]Device, error)
	ListByAccount(ctx context.Context, accountID string) ([]Device, error)
	ListByDriver(ctx context.Context, driver Driver) ([]Device, error)

	// Create returns ErrDeviceExists if the ID is already paired.
	Create(ctx context.Context, device *Device) error

	// Update returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDevice = `
	SELECT id, account_id, driver, type, station_id, module_id, name,
		capabilities, capability_map, created_at, updated_at
	FROM devices`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, selectDevice+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// List retrieves all devices ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, selectDevice+" ORDER BY name")
}

// ListByAccount retrieves the devices owned by one account.
func (r *SQLiteRepository) ListByAccount(ctx context.Context, accountID string) ([]Device, error) {
	return r.queryDevices(ctx, selectDevice+" WHERE account_id = ? ORDER BY name", accountID)
}

// ListByDriver retrieves the devices paired through one driver.
func (r *SQLiteRepository) ListByDriver(ctx context.Context, driver Driver) ([]Device, error) {
	return r.queryDevices(ctx, selectDevice+" WHERE driver = ? ORDER BY name", string(driver))
}

// Create inserts a new device, setting timestamps when unset.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	capsJSON, mapJSON, err := marshalCapabilities(device)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (
			id, account_id, driver, type, station_id, module_id, name,
			capabilities, capability_map, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		device.ID,
		device.AccountID,
		string(device.Driver),
		string(device.Type),
		device.StationID,
		device.ModuleID,
		device.Name,
		capsJSON,
		mapJSON,
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies the mutable fields of an existing device. Ownership and
// vendor identity are fixed at pairing and are not written.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	capsJSON, mapJSON, err := marshalCapabilities(device)
	if err != nil {
		return err
	}
	device.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET name = ?, capabilities = ?, capability_map = ?, updated_at = ?
		WHERE id = ?`,
		device.Name,
		capsJSON,
		mapJSON,
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireAffected(result)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func marshalCapabilities(device *Device) (capsJSON, mapJSON string, err error) {
	caps := device.Capabilities
	if caps == nil {
		caps = []string{}
	}
	capsBytes, err := json.Marshal(caps)
	if err != nil {
		return "", "", fmt.Errorf("marshalling capabilities: %w", err)
	}

	paths := device.CapabilityMap
	if paths == nil {
		paths = map[string]string{}
	}
	mapBytes, err := json.Marshal(paths)
	if err != nil {
		return "", "", fmt.Errorf("marshalling capability map: %w", err)
	}
	return string(capsBytes), string(mapBytes), nil
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var driver, deviceType, capsJSON, mapJSON, createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.AccountID,
		&driver,
		&deviceType,
		&d.StationID,
		&d.ModuleID,
		&d.Name,
		&capsJSON,
		&mapJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Driver = Driver(driver)
	d.Type = capability.TypeTag(deviceType)

	if err := json.Unmarshal([]byte(capsJSON), &d.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshalling capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(mapJSON), &d.CapabilityMap); err != nil {
		return nil, fmt.Errorf("unmarshalling capability map: %w", err)
	}

	// Timestamps are written by this package in RFC3339.
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled

	return &d, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
