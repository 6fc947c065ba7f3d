package storage

import (
	"encoding/json"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func (s *Store) countRows(t *testing.T, table string) int {
	t.Helper()
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
		t.Fatalf("Failed to count rows in %s: %v", table, err)
	}
	return count
}

func TestStoreDeviceIdempotent(t *testing.T) {
	s := newTestStore(t)

	if err := s.StoreDevice("dev1"); err != nil {
		t.Fatalf("StoreDevice failed: %v", err)
	}
	if err := s.StoreDevice("dev1"); err != nil {
		t.Fatalf("Second StoreDevice failed: %v", err)
	}

	if got := s.countRows(t, "devices"); got != 1 {
		t.Errorf("Expected 1 device row, got %d", got)
	}
}

func TestStoreJourneyAutoCreatesDevice(t *testing.T) {
	s := newTestStore(t)

	if err := s.StoreJourney("01/01/2024, 00:00:00", "100", "50", "dev1"); err != nil {
		t.Fatalf("StoreJourney failed: %v", err)
	}

	exists, err := s.DeviceExists("dev1")
	if err != nil {
		t.Fatalf("DeviceExists failed: %v", err)
	}
	if !exists {
		t.Error("Expected device to be auto-created")
	}
	if got := s.countRows(t, "journey"); got != 1 {
		t.Errorf("Expected 1 journey row, got %d", got)
	}
	if got := s.countRows(t, "devices"); got != 1 {
		t.Errorf("Expected 1 device row, got %d", got)
	}
}

func TestStoreEmergencyAutoCreatesDevice(t *testing.T) {
	s := newTestStore(t)

	if err := s.StoreEmergency("01/01/2024, 00:00:00", "30", "dev9"); err != nil {
		t.Fatalf("StoreEmergency failed: %v", err)
	}

	exists, err := s.DeviceExists("dev9")
	if err != nil {
		t.Fatalf("DeviceExists failed: %v", err)
	}
	if !exists {
		t.Error("Expected device to be auto-created")
	}
	if got := s.countRows(t, "emergency"); got != 1 {
		t.Errorf("Expected 1 emergency row, got %d", got)
	}
}

func TestStoreUserDuplicateRejected(t *testing.T) {
	s := newTestStore(t)

	status, err := s.StoreUser("alice", "pw", UsertypeResident)
	if err != nil {
		t.Fatalf("StoreUser failed: %v", err)
	}
	if status != StatusValid {
		t.Errorf("Expected VALID, got %s", status)
	}

	status, err = s.StoreUser("alice", "other", UsertypeCaregiver)
	if err != nil {
		t.Fatalf("Duplicate StoreUser errored: %v", err)
	}
	if status != StatusInvalid {
		t.Errorf("Expected INVALID for duplicate user, got %s", status)
	}
	if got := s.countRows(t, "users"); got != 1 {
		t.Errorf("Expected users table unchanged with 1 row, got %d", got)
	}
}

func TestStoreProductResidentSingleGrant(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.StoreUser("bob", "pw", UsertypeResident); err != nil {
		t.Fatalf("StoreUser failed: %v", err)
	}
	for _, dev := range []string{"dev1", "dev2"} {
		if err := s.StoreDevice(dev); err != nil {
			t.Fatalf("StoreDevice failed: %v", err)
		}
	}

	status, err := s.StoreProduct("dev1", "bob")
	if err != nil {
		t.Fatalf("StoreProduct failed: %v", err)
	}
	if status != StatusValid {
		t.Errorf("Expected VALID for first resident grant, got %s", status)
	}

	status, err = s.StoreProduct("dev2", "bob")
	if err != nil {
		t.Fatalf("Second StoreProduct errored: %v", err)
	}
	if status != StatusInvalid {
		t.Errorf("Expected INVALID for second resident grant, got %s", status)
	}
	if got := s.countRows(t, "products"); got != 1 {
		t.Errorf("Expected 1 product row, got %d", got)
	}
}

func TestStoreProductCaregiverMultiGrant(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.StoreUser("carol", "pw", UsertypeCaregiver); err != nil {
		t.Fatalf("StoreUser failed: %v", err)
	}

	devices := []string{"dev1", "dev2", "dev3"}
	for _, dev := range devices {
		if err := s.StoreDevice(dev); err != nil {
			t.Fatalf("StoreDevice failed: %v", err)
		}
		status, err := s.StoreProduct(dev, "carol")
		if err != nil {
			t.Fatalf("StoreProduct(%s) failed: %v", dev, err)
		}
		if status != StatusValid {
			t.Errorf("Expected VALID for caregiver grant on %s, got %s", dev, status)
		}
	}
	if got := s.countRows(t, "products"); got != len(devices) {
		t.Errorf("Expected %d product rows, got %d", len(devices), got)
	}
}

func TestStoreProductRejectsOtherUsertypes(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.StoreUser("dave", "pw", "admin"); err != nil {
		t.Fatalf("StoreUser failed: %v", err)
	}
	if err := s.StoreDevice("dev1"); err != nil {
		t.Fatalf("StoreDevice failed: %v", err)
	}

	status, err := s.StoreProduct("dev1", "dave")
	if err != nil {
		t.Fatalf("StoreProduct errored: %v", err)
	}
	if status != StatusInvalid {
		t.Errorf("Expected INVALID for admin usertype, got %s", status)
	}

	status, err = s.StoreProduct("dev1", "nobody")
	if err != nil {
		t.Fatalf("StoreProduct errored: %v", err)
	}
	if status != StatusInvalid {
		t.Errorf("Expected INVALID for unknown user, got %s", status)
	}
	if got := s.countRows(t, "products"); got != 0 {
		t.Errorf("Expected no product rows, got %d", got)
	}
}

func TestGetJourneysRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.StoreUser("alice", "pw", UsertypeCaregiver); err != nil {
		t.Fatalf("StoreUser failed: %v", err)
	}
	if err := s.StoreJourney("01/01/2024, 00:00:00", "100", "50", "dev1"); err != nil {
		t.Fatalf("StoreJourney failed: %v", err)
	}
	if status, err := s.StoreProduct("dev1", "alice"); err != nil || status != StatusValid {
		t.Fatalf("StoreProduct failed: status=%v err=%v", status, err)
	}

	data, err := s.GetJourneys("alice", "")
	if err != nil {
		t.Fatalf("GetJourneys failed: %v", err)
	}

	var rows []map[string]any
	if err := json.Unmarshal([]byte(data), &rows); err != nil {
		t.Fatalf("Reply is not a JSON array: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 journey, got %d", len(rows))
	}

	want := map[string]string{
		"datetime":  "01/01/2024, 00:00:00",
		"rtt":       "100",
		"tt":        "50",
		"device_id": "dev1",
	}
	for field, value := range want {
		if rows[0][field] != value {
			t.Errorf("Expected %s=%q, got %v", field, value, rows[0][field])
		}
	}
}

func TestGetJourneysDeviceFilter(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.StoreUser("alice", "pw", UsertypeCaregiver); err != nil {
		t.Fatalf("StoreUser failed: %v", err)
	}
	if err := s.StoreJourney("01/01/2024, 00:00:00", "100", "50", "dev1"); err != nil {
		t.Fatalf("StoreJourney failed: %v", err)
	}
	if err := s.StoreJourney("01/01/2024, 00:05:00", "110", "55", "dev2"); err != nil {
		t.Fatalf("StoreJourney failed: %v", err)
	}
	for _, dev := range []string{"dev1", "dev2"} {
		if status, err := s.StoreProduct(dev, "alice"); err != nil || status != StatusValid {
			t.Fatalf("StoreProduct(%s) failed: status=%v err=%v", dev, status, err)
		}
	}

	data, err := s.GetJourneys("alice", "dev2")
	if err != nil {
		t.Fatalf("GetJourneys failed: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(data), &rows); err != nil {
		t.Fatalf("Reply is not a JSON array: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 journey for dev2, got %d", len(rows))
	}
	if rows[0]["device_id"] != "dev2" {
		t.Errorf("Expected device_id=dev2, got %v", rows[0]["device_id"])
	}

	data, err = s.GetJourneys("alice", "")
	if err != nil {
		t.Fatalf("GetJourneys failed: %v", err)
	}
	if err := json.Unmarshal([]byte(data), &rows); err != nil {
		t.Fatalf("Reply is not a JSON array: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("Expected 2 journeys without filter, got %d", len(rows))
	}
}

func TestGetJourneysEmptyResult(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.StoreUser("alice", "pw", UsertypeResident); err != nil {
		t.Fatalf("StoreUser failed: %v", err)
	}

	data, err := s.GetJourneys("alice", "")
	if err != nil {
		t.Fatalf("GetJourneys failed: %v", err)
	}
	if data != "[]" {
		t.Errorf("Expected empty JSON array, got %q", data)
	}

	// Unknown user gets the same empty array, not an error.
	data, err = s.GetJourneys("nobody", "")
	if err != nil {
		t.Fatalf("GetJourneys for unknown user failed: %v", err)
	}
	if data != "[]" {
		t.Errorf("Expected empty JSON array for unknown user, got %q", data)
	}
}

func TestGetEmergenciesRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.StoreUser("alice", "pw", UsertypeCaregiver); err != nil {
		t.Fatalf("StoreUser failed: %v", err)
	}
	if err := s.StoreEmergency("02/01/2024, 12:00:00", "45", "dev1"); err != nil {
		t.Fatalf("StoreEmergency failed: %v", err)
	}
	if status, err := s.StoreProduct("dev1", "alice"); err != nil || status != StatusValid {
		t.Fatalf("StoreProduct failed: status=%v err=%v", status, err)
	}

	data, err := s.GetEmergencies("alice", "")
	if err != nil {
		t.Fatalf("GetEmergencies failed: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(data), &rows); err != nil {
		t.Fatalf("Reply is not a JSON array: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 emergency, got %d", len(rows))
	}
	if rows[0]["et"] != "45" || rows[0]["device_id"] != "dev1" {
		t.Errorf("Unexpected emergency row: %v", rows[0])
	}
}

func TestValidateUser(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.StoreUser("alice", "pw", UsertypeResident); err != nil {
		t.Fatalf("StoreUser failed: %v", err)
	}

	status, err := s.ValidateUser("alice", "pw")
	if err != nil {
		t.Fatalf("ValidateUser failed: %v", err)
	}
	if status != StatusValid {
		t.Errorf("Expected VALID for correct credentials, got %s", status)
	}

	status, err = s.ValidateUser("alice", "wrong")
	if err != nil {
		t.Fatalf("ValidateUser failed: %v", err)
	}
	if status != StatusInvalid {
		t.Errorf("Expected INVALID for wrong password, got %s", status)
	}

	status, err = s.ValidateUser("nobody", "pw")
	if err != nil {
		t.Fatalf("ValidateUser failed: %v", err)
	}
	if status != StatusInvalid {
		t.Errorf("Expected INVALID for unknown user, got %s", status)
	}
}
