package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// ReservationStatus is the lifecycle status of a reservation.
type ReservationStatus string

// ReservationStatus values
const (
	ReservationStatusConfirmed  ReservationStatus = "CONFIRMED"
	ReservationStatusCancelled  ReservationStatus = "CANCELLED"
	ReservationStatusCheckedIn  ReservationStatus = "CHECKED_IN"
	ReservationStatusCheckedOut ReservationStatus = "CHECKED_OUT"
)

// Valid reports whether s is one of the known statuses.
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationStatusConfirmed, ReservationStatusCancelled,
		ReservationStatusCheckedIn, ReservationStatusCheckedOut:
		return true
	}
	return false
}

// Scan implements sql.Scanner and rejects unknown values.
func (s *ReservationStatus) Scan(src any) error {
	v, err := scanString(src)
	if err != nil {
		return err
	}
	status := ReservationStatus(v)
	if !status.Valid() {
		return fmt.Errorf("invalid reservation status %q", v)
	}
	*s = status
	return nil
}

// Value implements driver.Valuer.
func (s ReservationStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid reservation status %q", string(s))
	}
	return string(s), nil
}

// ReservationStatusFor maps a feed event status onto a reservation status.
func ReservationStatusFor(s EventStatus) ReservationStatus {
	if s == EventStatusCancelled {
		return ReservationStatusCancelled
	}
	return ReservationStatusConfirmed
}

// Reservation is the durable booking record a feed event reconciles into.
// ExternalID is unique across the whole store.
type Reservation struct {
	ID             string            `json:"id"`
	ExternalID     string            `json:"external_id"`
	UnitID         string            `json:"unit_id"`
	GuestName      string            `json:"guest_name"`
	CheckIn        time.Time         `json:"check_in"`
	CheckOut       time.Time         `json:"check_out"`
	Status         ReservationStatus `json:"status"`
	GuestNotes     *string           `json:"guest_notes,omitempty"`
	NumberOfGuests int               `json:"number_of_guests"`
	TotalPrice     *float64          `json:"total_price,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
