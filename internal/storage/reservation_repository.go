package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rental-feed-sync/backend/internal/storage/models"
)

const reservationColumns = `
	id, external_id, unit_id, guest_name, check_in, check_out, status,
	guest_notes, number_of_guests, total_price, created_at, updated_at`

// UpsertOutcome reports what an upsert did to the store.
type UpsertOutcome int

// UpsertOutcome values
const (
	OutcomeUnchanged UpsertOutcome = iota
	OutcomeCreated
	OutcomeUpdated
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// ReservationRepository provides data access for reservations.
type ReservationRepository struct {
	BaseRepository
}

// NewReservationRepository creates a new reservation repository.
func NewReservationRepository(db *DB) *ReservationRepository {
	return &ReservationRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	res := &models.Reservation{}
	err := row.Scan(
		&res.ID, &res.ExternalID, &res.UnitID, &res.GuestName, &res.CheckIn, &res.CheckOut,
		&res.Status, &res.GuestNotes, &res.NumberOfGuests, &res.TotalPrice,
		&res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetByExternalID retrieves a reservation by its feed identifier. Returns nil, nil when absent.
func (r *ReservationRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Reservation, error) {
	return r.getByExternalID(ctx, r.DB(), externalID)
}

func (r *ReservationRepository) getByExternalID(ctx context.Context, q Queryable, externalID string) (*models.Reservation, error) {
	res, err := scanReservation(q.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE external_id = ?`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying reservation: %w", err)
	}
	return res, nil
}

// ListByUnit returns a unit's reservations ordered by check-in.
func (r *ReservationRepository) ListByUnit(ctx context.Context, unitID string) ([]models.Reservation, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE unit_id = ?
		ORDER BY check_in, external_id
	`, unitID)
	if err != nil {
		return nil, fmt.Errorf("querying reservations: %w", err)
	}
	defer rows.Close()

	var reservations []models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reservation: %w", err)
		}
		reservations = append(reservations, *res)
	}
	return reservations, rows.Err()
}

// Upsert creates or updates the reservation keyed by externalID in its own
// transaction. The lookup runs inside that transaction, so the decision is
// made against the committed state at write time.
//
// create builds the record to insert when none exists. update mutates an
// existing record in place and reports whether anything changed; unchanged
// records are not rewritten. If a concurrent writer inserts the same
// identifier first, the unique index rejects our insert and the attempt is
// retried as an update (last write wins).
func (r *ReservationRepository) Upsert(
	ctx context.Context,
	externalID string,
	create func() *models.Reservation,
	update func(existing *models.Reservation) bool,
) (UpsertOutcome, error) {
	outcome, err := r.upsertOnce(ctx, externalID, create, update)
	if errors.Is(err, errLostInsertRace) {
		outcome, err = r.upsertOnce(ctx, externalID, create, update)
	}
	return outcome, err
}

var errLostInsertRace = errors.New("reservation inserted concurrently")

func (r *ReservationRepository) upsertOnce(
	ctx context.Context,
	externalID string,
	create func() *models.Reservation,
	update func(existing *models.Reservation) bool,
) (UpsertOutcome, error) {
	outcome := OutcomeUnchanged

	err := r.Transaction(ctx, func(tx *sql.Tx) error {
		existing, err := r.getByExternalID(ctx, tx, externalID)
		if err != nil {
			return err
		}

		if existing == nil {
			res := create()
			res.ExternalID = externalID
			if err := r.insert(ctx, tx, res); err != nil {
				return err
			}
			outcome = OutcomeCreated
			return nil
		}

		if !update(existing) {
			return nil
		}
		if err := r.update(ctx, tx, existing); err != nil {
			return err
		}
		outcome = OutcomeUpdated
		return nil
	})
	if err != nil {
		return OutcomeUnchanged, err
	}
	return outcome, nil
}

func (r *ReservationRepository) insert(ctx context.Context, q Queryable, res *models.Reservation) error {
	if res.ID == "" {
		res.ID = GenerateID()
	}
	res.CreatedAt = r.Now()
	res.UpdatedAt = res.CreatedAt

	_, err := q.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.ID, res.ExternalID, res.UnitID, res.GuestName, res.CheckIn.UTC(), res.CheckOut.UTC(),
		res.Status, res.GuestNotes, res.NumberOfGuests, res.TotalPrice,
		res.CreatedAt, res.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return errLostInsertRace
	}
	if err != nil {
		return fmt.Errorf("inserting reservation %s: %w", res.ExternalID, err)
	}
	return nil
}

// update writes only the fields a feed can supply.
func (r *ReservationRepository) update(ctx context.Context, q Queryable, res *models.Reservation) error {
	res.UpdatedAt = r.Now()

	_, err := q.ExecContext(ctx, `
		UPDATE reservations SET
			guest_name = ?, check_in = ?, check_out = ?, status = ?, guest_notes = ?, updated_at = ?
		WHERE id = ?
	`,
		res.GuestName, res.CheckIn.UTC(), res.CheckOut.UTC(), res.Status, res.GuestNotes,
		res.UpdatedAt, res.ID,
	)
	if err != nil {
		return fmt.Errorf("updating reservation %s: %w", res.ExternalID, err)
	}
	return nil
}

// Create inserts a reservation directly. Used for records entered outside
// of feed sync, such as manual bookings.
func (r *ReservationRepository) Create(ctx context.Context, res *models.Reservation) error {
	if err := r.insert(ctx, r.DB(), res); err != nil {
		if errors.Is(err, errLostInsertRace) {
			return fmt.Errorf("reservation %s already exists", res.ExternalID)
		}
		return err
	}
	return nil
}
