package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	interfaces "github.com/sheikh-saqib/equipment-funding-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/models"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/storage"
)

// pq SQLSTATE codes that mean another writer got there first.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_state (
	id      SMALLINT PRIMARY KEY,
	version BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS equipment (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	target      NUMERIC NOT NULL CHECK (target > 0),
	progress    INTEGER NOT NULL CHECK (progress BETWEEN 0 AND 100),
	funded      BOOLEAN NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	city        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS donations (
	id                TEXT PRIMARY KEY,
	equipment_id      TEXT NOT NULL REFERENCES equipment(id),
	amount            NUMERIC NOT NULL CHECK (amount > 0),
	donor_name        TEXT NOT NULL DEFAULT '',
	donor_email       TEXT NOT NULL DEFAULT '',
	message           TEXT NOT NULL DEFAULT '',
	payment_reference TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	voided_at         TIMESTAMPTZ,
	void_reason       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS donations_equipment_id_idx ON donations (equipment_id);
CREATE INDEX IF NOT EXISTS donations_payment_reference_idx ON donations (payment_reference) WHERE payment_reference <> '';
`

type PostgresLedgerStore struct {
	db *sql.DB
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
	}
}

// Open connects with the lib/pq driver and checks the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the tables when they do not exist yet.
func (p *PostgresLedgerStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *PostgresLedgerStore) Load(ctx context.Context) (models.Collection, error) {
	dbTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return models.Collection{}, storage.ReadFailure(err)
	}
	defer dbTx.Rollback()

	collection := models.NewCollection()

	collection.Version, err = currentVersion(ctx, dbTx)
	if err != nil {
		return models.Collection{}, storage.ReadFailure(err)
	}

	collection.Equipment, err = loadEquipment(ctx, dbTx)
	if err != nil {
		return models.Collection{}, storage.ReadFailure(err)
	}

	collection.Donations, err = loadDonations(ctx, dbTx)
	if err != nil {
		return models.Collection{}, storage.ReadFailure(err)
	}

	return collection, nil
}

// Save bumps the version row and upserts every record in one transaction.
// The conditional UPDATE on ledger_state is what rejects stale writers.
func (p *PostgresLedgerStore) Save(ctx context.Context, collection models.Collection) (err error) {

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	const ensureState = `INSERT INTO ledger_state (id, version) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`
	if _, err = dbTx.ExecContext(ctx, ensureState); err != nil {
		return classify(err)
	}

	const bump = `UPDATE ledger_state SET version = version + 1 WHERE id = 1 AND version = $1`
	res, err := dbTx.ExecContext(ctx, bump, collection.Version)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if affected == 0 {
		actual, verr := currentVersion(ctx, dbTx)
		if verr != nil {
			err = classify(verr)
			return err
		}
		err = storage.Conflict(collection.Version, actual)
		return err
	}

	for _, item := range collection.Equipment {
		if err = saveEquipment(ctx, dbTx, item); err != nil {
			return classify(err)
		}
	}
	for _, donation := range collection.Donations {
		if err = saveDonation(ctx, dbTx, donation); err != nil {
			return classify(err)
		}
	}

	if err = dbTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func currentVersion(ctx context.Context, dbTx *sql.Tx) (int64, error) {
	const query = `SELECT version FROM ledger_state WHERE id = 1`

	var version int64
	err := dbTx.QueryRowContext(ctx, query).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return version, err
}

func saveEquipment(ctx context.Context, dbTx *sql.Tx, item models.EquipmentItem) error {
	const query = `INSERT INTO equipment (id, name, target, progress, funded, category, city, description, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		target = EXCLUDED.target,
		progress = EXCLUDED.progress,
		funded = EXCLUDED.funded,
		category = EXCLUDED.category,
		city = EXCLUDED.city,
		description = EXCLUDED.description`

	_, err := dbTx.ExecContext(ctx, query,
		item.ID, item.Name, item.Target, item.Progress, item.Funded,
		item.Category, item.City, item.Description, item.CreatedAt)
	return err
}

func saveDonation(ctx context.Context, dbTx *sql.Tx, donation models.Donation) error {
	const query = `INSERT INTO donations (id, equipment_id, amount, donor_name, donor_email, message, payment_reference, created_at, voided_at, void_reason)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (id) DO UPDATE SET
		voided_at = EXCLUDED.voided_at,
		void_reason = EXCLUDED.void_reason`

	var voidedAt sql.NullTime
	if donation.VoidedAt != nil {
		voidedAt = sql.NullTime{Time: *donation.VoidedAt, Valid: true}
	}

	_, err := dbTx.ExecContext(ctx, query,
		donation.ID, donation.EquipmentID, donation.Amount, donation.DonorName, donation.DonorEmail,
		donation.Message, donation.PaymentReference, donation.CreatedAt, voidedAt, donation.VoidReason)
	return err
}

func loadEquipment(ctx context.Context, dbTx *sql.Tx) ([]models.EquipmentItem, error) {
	const query = `SELECT id, name, target, progress, funded, category, city, description, created_at
	FROM equipment ORDER BY created_at, id`

	rows, err := dbTx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.EquipmentItem{}
	for rows.Next() {
		var item models.EquipmentItem
		if err := rows.Scan(
			&item.ID,
			&item.Name,
			&item.Target,
			&item.Progress,
			&item.Funded,
			&item.Category,
			&item.City,
			&item.Description,
			&item.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func loadDonations(ctx context.Context, dbTx *sql.Tx) ([]models.Donation, error) {
	const query = `SELECT id, equipment_id, amount, donor_name, donor_email, message, payment_reference, created_at, voided_at, void_reason
	FROM donations ORDER BY created_at, id`

	rows, err := dbTx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	donations := []models.Donation{}
	for rows.Next() {
		var d models.Donation
		var voidedAt sql.NullTime
		if err := rows.Scan(
			&d.ID,
			&d.EquipmentID,
			&d.Amount,
			&d.DonorName,
			&d.DonorEmail,
			&d.Message,
			&d.PaymentReference,
			&d.CreatedAt,
			&voidedAt,
			&d.VoidReason,
		); err != nil {
			return nil, err
		}
		if voidedAt.Valid {
			t := voidedAt.Time
			d.VoidedAt = &t
		}
		donations = append(donations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return donations, nil
}

// classify maps driver errors onto the shared store error kinds.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", storage.ErrConcurrencyConflict, pqErr.Message)
		case "22P02", "22003": // invalid text representation, numeric out of range
			return storage.SerializationFailure(err)
		}
	}
	return storage.WriteFailure(err)
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
