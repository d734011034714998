package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heigenstudio/bookingpipe/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same methods
// run inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres wraps all SQL used by the pipeline.
type Postgres struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPostgres constructs a Postgres store over the pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, q: pool}
}

// RunInTx executes fn inside one database transaction. All merge writes for
// a file go through this so a crash mid-merge leaves no partial state.
func (s *Postgres) RunInTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Postgres{pool: s.pool, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Postgres) InsertStagingRow(ctx context.Context, row *model.StagingRow) (model.ProcessingStatus, error) {
	now := time.Now().UTC()
	var status model.ProcessingStatus
	err := s.q.QueryRow(ctx, `
		INSERT INTO staging_bookings_raw
			(file_name, file_checksum, raw_row_number, raw_data, canonical_data, processing_status, created_at, last_updated)
		VALUES ($1,$2,$3,$4::jsonb,$5::jsonb,$6,$7,$7)
		ON CONFLICT (file_checksum, raw_row_number) DO NOTHING
		RETURNING processing_status
	`, row.FileName, row.FileChecksum, row.RawRowNumber,
		string(row.RawData), string(row.CanonicalData), model.StatusPending, now).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		// Row staged by an earlier run of the same file; keep its status.
		err = s.q.QueryRow(ctx, `
			SELECT processing_status FROM staging_bookings_raw
			WHERE file_checksum=$1 AND raw_row_number=$2
		`, row.FileChecksum, row.RawRowNumber).Scan(&status)
	}
	if err != nil {
		return "", fmt.Errorf("insert staging row %d: %w", row.RawRowNumber, err)
	}
	return status, nil
}

func (s *Postgres) SetStagingStatus(ctx context.Context, fileChecksum string, rowNumber int, status model.ProcessingStatus, messages []string) error {
	if messages == nil {
		messages = []string{}
	}
	encoded, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode error messages: %w", err)
	}
	_, err = s.q.Exec(ctx, `
		UPDATE staging_bookings_raw
		SET processing_status=$1,
			error_messages = error_messages || $2::jsonb,
			last_updated=$3
		WHERE file_checksum=$4 AND raw_row_number=$5
	`, status, string(encoded), time.Now().UTC(), fileChecksum, rowNumber)
	if err != nil {
		return fmt.Errorf("update staging row %d: %w", rowNumber, err)
	}
	return nil
}

const customerColumns = `customer_id, COALESCE(full_name,''), COALESCE(email,''),
	COALESCE(contact_number,''), COALESCE(instagram_handle,''), COALESCE(acquisition_source,''),
	COALESCE(is_first_time,false), COALESCE(previous_session_counts,0),
	registration_date, COALESCE(consent,''), package_id, created_at, last_updated`

func scanCustomer(row pgx.Row) (*model.Customer, error) {
	var c model.Customer
	err := row.Scan(&c.CustomerID, &c.FullName, &c.Email, &c.ContactNumber, &c.InstagramHandle,
		&c.AcquisitionSource, &c.IsFirstTime, &c.PreviousSessionCounts, &c.RegistrationDate,
		&c.Consent, &c.PackageID, &c.CreatedAt, &c.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Postgres) CustomersByEmails(ctx context.Context, emails []string) (map[string]*model.Customer, error) {
	out := make(map[string]*model.Customer)
	if len(emails) == 0 {
		return out, nil
	}
	rows, err := s.q.Query(ctx, `
		SELECT `+customerColumns+` FROM customers WHERE LOWER(email) = ANY($1)
	`, lowered(emails))
	if err != nil {
		return nil, fmt.Errorf("select customers by email: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out[strings.ToLower(c.Email)] = c
	}
	return out, rows.Err()
}

func (s *Postgres) CustomersByNames(ctx context.Context, names []string) (map[string]*model.Customer, error) {
	out := make(map[string]*model.Customer)
	if len(names) == 0 {
		return out, nil
	}
	rows, err := s.q.Query(ctx, `
		SELECT `+customerColumns+` FROM customers WHERE LOWER(full_name) = ANY($1)
	`, lowered(names))
	if err != nil {
		return nil, fmt.Errorf("select customers by name: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out[strings.ToLower(c.FullName)] = c
	}
	return out, rows.Err()
}

func (s *Postgres) PackagesByNames(ctx context.Context, names []string) (map[string]*model.Package, error) {
	out := make(map[string]*model.Package)
	if len(names) == 0 {
		return out, nil
	}
	rows, err := s.q.Query(ctx, `
		SELECT package_id, category, name, price, created_at, last_updated
		FROM packages WHERE LOWER(name) = ANY($1)
	`, lowered(names))
	if err != nil {
		return nil, fmt.Errorf("select packages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p model.Package
		if err := rows.Scan(&p.PackageID, &p.Category, &p.Name, &p.Price, &p.CreatedAt, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		out[strings.ToLower(p.Name)] = &p
	}
	return out, rows.Err()
}

func (s *Postgres) AllAddons(ctx context.Context) ([]model.Addon, error) {
	rows, err := s.q.Query(ctx, `
		SELECT addon_id, name, price, applies_to, created_at, last_updated FROM addons ORDER BY addon_id
	`)
	if err != nil {
		return nil, fmt.Errorf("select addons: %w", err)
	}
	defer rows.Close()
	var out []model.Addon
	for rows.Next() {
		var a model.Addon
		if err := rows.Scan(&a.AddonID, &a.Name, &a.Price, &a.AppliesTo, &a.CreatedAt, &a.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan addon: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateCustomer(ctx context.Context, c *model.Customer) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.LastUpdated = now
	err := s.q.QueryRow(ctx, `
		INSERT INTO customers (full_name, email, contact_number, instagram_handle, acquisition_source,
			is_first_time, previous_session_counts, registration_date, consent, package_id, created_at, last_updated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
		RETURNING customer_id
	`, c.FullName, c.Email, c.ContactNumber, c.InstagramHandle, c.AcquisitionSource,
		c.IsFirstTime, c.PreviousSessionCounts, c.RegistrationDate, c.Consent, c.PackageID, now).Scan(&c.CustomerID)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateCustomer(ctx context.Context, c *model.Customer) error {
	now := time.Now().UTC()
	c.LastUpdated = now
	_, err := s.q.Exec(ctx, `
		UPDATE customers
		SET full_name=$1, email=$2, contact_number=$3, instagram_handle=$4, acquisition_source=$5,
			is_first_time=$6, previous_session_counts=$7, registration_date=$8, consent=$9,
			package_id=$10, last_updated=$11
		WHERE customer_id=$12
	`, c.FullName, c.Email, c.ContactNumber, c.InstagramHandle, c.AcquisitionSource,
		c.IsFirstTime, c.PreviousSessionCounts, c.RegistrationDate, c.Consent, c.PackageID, now, c.CustomerID)
	if err != nil {
		return fmt.Errorf("update customer %d: %w", c.CustomerID, err)
	}
	return nil
}

func (s *Postgres) CreatePackage(ctx context.Context, p *model.Package) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.LastUpdated = now
	err := s.q.QueryRow(ctx, `
		INSERT INTO packages (category, name, price, created_at, last_updated)
		VALUES ($1,$2,$3,$4,$4)
		RETURNING package_id
	`, p.Category, p.Name, p.Price, now).Scan(&p.PackageID)
	if err != nil {
		return fmt.Errorf("insert package %s: %w", p.Name, err)
	}
	return nil
}

func (s *Postgres) FindOrCreateBooking(ctx context.Context, b *model.Booking) (bool, error) {
	err := s.q.QueryRow(ctx, `
		SELECT booking_id FROM bookings
		WHERE customer_id=$1
			AND package_id IS NOT DISTINCT FROM $2
			AND session_date IS NOT DISTINCT FROM $3
			AND total_price=$4
	`, b.CustomerID, b.PackageID, b.SessionDate, b.TotalPrice).Scan(&b.BookingID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("select booking: %w", err)
	}

	now := time.Now().UTC()
	b.CreatedAt = now
	b.LastUpdated = now
	err = s.q.QueryRow(ctx, `
		INSERT INTO bookings (customer_id, package_id, session_date, total_price,
			gcash_payment, cash_payment, discounts, session_status, created_at, last_updated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
		RETURNING booking_id
	`, b.CustomerID, b.PackageID, b.SessionDate, b.TotalPrice,
		b.GcashPayment, b.CashPayment, b.Discounts, b.SessionStatus, now).Scan(&b.BookingID)
	if err != nil {
		return false, fmt.Errorf("insert booking: %w", err)
	}
	return true, nil
}

func (s *Postgres) ReplaceBookingAddons(ctx context.Context, bookingID int64, items []model.BookingAddon) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM booking_addons WHERE booking_id=$1`, bookingID); err != nil {
		return fmt.Errorf("delete booking addons: %w", err)
	}
	now := time.Now().UTC()
	for _, item := range items {
		_, err := s.q.Exec(ctx, `
			INSERT INTO booking_addons (booking_id, addon_id, addon_quantity, addon_price, total_addon_cost, created_at, last_updated)
			VALUES ($1,$2,$3,$4,$5,$6,$6)
		`, bookingID, item.AddonID, item.AddonQuantity, item.AddonPrice, item.TotalAddonCost, now)
		if err != nil {
			return fmt.Errorf("insert booking addon %d: %w", item.AddonID, err)
		}
	}
	return nil
}

func lowered(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}
