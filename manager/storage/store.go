// Package storage provides the relational store for the PGL event manager.
// It persists users, devices, journeys, emergencies, and product grants in
// SQLite and answers the queries the dispatcher routes to it.
//
// The store assumes a single writer: only the dispatcher goroutine calls
// into it. Adding a second writer requires per-table locking that does not
// exist here.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Status is the validation outcome sent back over the bus. Expected
// rejections (duplicate user, exhausted grant, bad credentials) are a
// Status, never an error.
type Status string

const (
	StatusValid   Status = "VALID"
	StatusInvalid Status = "INVALID"
)

// Usertypes that participate in the product grant policy. Any other
// usertype is rejected when creating a grant.
const (
	UsertypeCaregiver = "caregiver"
	UsertypeResident  = "resident"
)

// Store wraps the SQLite connection and owns all persistent state.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path and bootstraps the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// The dispatcher is the only writer, so one connection is enough; it
	// also keeps ":memory:" databases coherent across the pool.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Store opened")
	return s, nil
}

// initSchema creates the five tables on first open. Journey and emergency
// rows reference devices; product grants reference both devices and users.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		usertype TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS journey (
		journey_id INTEGER PRIMARY KEY AUTOINCREMENT,
		datetime TEXT NOT NULL,
		rtt TEXT NOT NULL,
		tt TEXT,
		device_id TEXT NOT NULL,
		FOREIGN KEY (device_id) REFERENCES devices(device_id)
	);
	CREATE INDEX IF NOT EXISTS idx_journey_device ON journey(device_id);

	CREATE TABLE IF NOT EXISTS emergency (
		emergency_id INTEGER PRIMARY KEY AUTOINCREMENT,
		datetime TEXT NOT NULL,
		et TEXT NOT NULL,
		device_id TEXT NOT NULL,
		FOREIGN KEY (device_id) REFERENCES devices(device_id)
	);
	CREATE INDEX IF NOT EXISTS idx_emergency_device ON emergency(device_id);

	CREATE TABLE IF NOT EXISTS products (
		device_id TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		PRIMARY KEY (device_id, user_id),
		FOREIGN KEY (device_id) REFERENCES devices(device_id),
		FOREIGN KEY (user_id) REFERENCES users(user_id)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// DeviceExists reports whether a device row exists for the given id.
func (s *Store) DeviceExists(deviceID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(device_id) FROM devices WHERE device_id = ?`, deviceID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check device existence: %w", err)
	}
	return count > 0, nil
}

// UserExists reports whether a user row exists for the given username.
func (s *Store) UserExists(username string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(username) FROM users WHERE username = ?`, username).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return count > 0, nil
}

// StoreDevice inserts a device row. Storing an already-known device is a
// logged no-op, so journey and emergency producers may register devices
// blindly.
func (s *Store) StoreDevice(deviceID string) error {
	exists, err := s.DeviceExists(deviceID)
	if err != nil {
		return err
	}
	if exists {
		log.Debug().Str("device_id", deviceID).Msg("Device already stored")
		return nil
	}

	if _, err := s.db.Exec(`INSERT INTO devices (device_id) VALUES (?)`, deviceID); err != nil {
		return fmt.Errorf("failed to store device: %w", err)
	}
	log.Info().Str("device_id", deviceID).Msg("Stored device")
	return nil
}

// StoreJourney appends a journey row. An unknown device is created first so
// the foreign key holds; if the journey insert then fails, the device row is
// kept rather than rolled back.
func (s *Store) StoreJourney(datetime, rtt, tt, deviceID string) error {
	if err := s.ensureDevice(deviceID); err != nil {
		return err
	}

	_, err := s.db.Exec(`INSERT INTO journey (datetime, rtt, tt, device_id) VALUES (?, ?, ?, ?)`,
		datetime, rtt, tt, deviceID)
	if err != nil {
		return fmt.Errorf("failed to store journey: %w", err)
	}
	log.Info().Str("device_id", deviceID).Str("datetime", datetime).Msg("Stored journey")
	return nil
}

// StoreEmergency appends an emergency row, creating the device on demand
// the same way StoreJourney does.
func (s *Store) StoreEmergency(datetime, et, deviceID string) error {
	if err := s.ensureDevice(deviceID); err != nil {
		return err
	}

	_, err := s.db.Exec(`INSERT INTO emergency (datetime, et, device_id) VALUES (?, ?, ?)`,
		datetime, et, deviceID)
	if err != nil {
		return fmt.Errorf("failed to store emergency: %w", err)
	}
	log.Info().Str("device_id", deviceID).Str("datetime", datetime).Msg("Stored emergency")
	return nil
}

func (s *Store) ensureDevice(deviceID string) error {
	exists, err := s.DeviceExists(deviceID)
	if err != nil {
		return err
	}
	if !exists {
		log.Info().Str("device_id", deviceID).Msg("Unknown device, creating")
		if err := s.StoreDevice(deviceID); err != nil {
			return err
		}
	}
	return nil
}

// StoreUser inserts a user row. A duplicate username is an expected
// rejection: the users table is left untouched and StatusInvalid returned.
func (s *Store) StoreUser(username, password, usertype string) (Status, error) {
	exists, err := s.UserExists(username)
	if err != nil {
		return StatusInvalid, err
	}
	if exists {
		log.Info().Str("username", username).Msg("Duplicate user not stored")
		return StatusInvalid, nil
	}

	_, err = s.db.Exec(`INSERT INTO users (username, password, usertype) VALUES (?, ?, ?)`,
		username, password, usertype)
	if err != nil {
		return StatusInvalid, fmt.Errorf("failed to store user: %w", err)
	}
	log.Info().Str("username", username).Str("usertype", usertype).Msg("Stored user")
	return StatusValid, nil
}

// StoreProduct records that a user may access a device's data. Caregivers
// may hold any number of grants; a resident may hold at most one. Unknown
// users and any other usertype are rejected.
func (s *Store) StoreProduct(deviceID, username string) (Status, error) {
	var userID int64
	var usertype string
	err := s.db.QueryRow(`SELECT user_id, usertype FROM users WHERE username = ?`, username).
		Scan(&userID, &usertype)
	if err == sql.ErrNoRows {
		log.Warn().Str("username", username).Msg("Product requested for unknown user")
		return StatusInvalid, nil
	}
	if err != nil {
		return StatusInvalid, fmt.Errorf("failed to look up user: %w", err)
	}

	switch usertype {
	case UsertypeCaregiver:
		return s.createProduct(deviceID, userID, username)

	case UsertypeResident:
		var grants int
		err := s.db.QueryRow(`SELECT COUNT(device_id) FROM products WHERE user_id = ?`, userID).Scan(&grants)
		if err != nil {
			return StatusInvalid, fmt.Errorf("failed to count grants: %w", err)
		}
		if grants > 0 {
			log.Info().Str("username", username).Msg("Resident already holds a product grant")
			return StatusInvalid, nil
		}
		return s.createProduct(deviceID, userID, username)

	default:
		log.Warn().Str("username", username).Str("usertype", usertype).Msg("Usertype not eligible for product grants")
		return StatusInvalid, nil
	}
}

func (s *Store) createProduct(deviceID string, userID int64, username string) (Status, error) {
	_, err := s.db.Exec(`INSERT INTO products (device_id, user_id) VALUES (?, ?)`, deviceID, userID)
	if err != nil {
		return StatusInvalid, fmt.Errorf("failed to create product: %w", err)
	}
	log.Info().Str("username", username).Str("device_id", deviceID).Msg("Created product")
	return StatusValid, nil
}

// GetJourneys returns the journeys reachable through the user's product
// grants as a JSON array of field→value objects, optionally filtered to one
// device. An unknown user or a user with no grants gets an empty array.
func (s *Store) GetJourneys(username, deviceID string) (string, error) {
	query := `
		SELECT journey.journey_id, journey.datetime, journey.rtt, journey.tt, journey.device_id
		FROM journey
		JOIN products ON journey.device_id = products.device_id
		WHERE products.user_id = (SELECT user_id FROM users WHERE username = ?)`
	args := []any{username}
	if deviceID != "" {
		query += ` AND products.device_id = ?`
		args = append(args, deviceID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return "", fmt.Errorf("failed to query journeys: %w", err)
	}
	defer rows.Close()

	return rowsToJSON(rows)
}

// GetEmergencies is GetJourneys over the emergency table.
func (s *Store) GetEmergencies(username, deviceID string) (string, error) {
	query := `
		SELECT emergency.emergency_id, emergency.datetime, emergency.et, emergency.device_id
		FROM emergency
		JOIN products ON emergency.device_id = products.device_id
		WHERE products.user_id = (SELECT user_id FROM users WHERE username = ?)`
	args := []any{username}
	if deviceID != "" {
		query += ` AND products.device_id = ?`
		args = append(args, deviceID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return "", fmt.Errorf("failed to query emergencies: %w", err)
	}
	defer rows.Close()

	return rowsToJSON(rows)
}

// ValidateUser checks credentials against the users table. The password is
// an opaque string compared exactly as stored.
func (s *Store) ValidateUser(username, password string) (Status, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE username = ? AND password = ?`,
		username, password).Scan(&count)
	if err != nil {
		return StatusInvalid, fmt.Errorf("failed to validate user: %w", err)
	}
	if count > 0 {
		return StatusValid, nil
	}
	return StatusInvalid, nil
}

// rowsToJSON converts a result set to a JSON array of column→value objects.
// The column list is taken from the query so the store never hardcodes the
// reply shape.
func rowsToJSON(rows *sql.Rows) (string, error) {
	cols, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("failed to get columns: %w", err)
	}

	events := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		valuePtrs := make([]any, len(cols))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return "", fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		events = append(events, row)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("error iterating rows: %w", err)
	}

	data, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("failed to marshal rows: %w", err)
	}
	return string(data), nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	log.Info().Str("path", s.path).Msg("Store closed")
	return s.db.Close()
}
