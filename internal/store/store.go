// Package store persists staging rows and master entities. The postgres
// implementation backs the real pipeline; the memory implementation backs
// tests.
package store

import (
	"context"

	"github.com/heigenstudio/bookingpipe/internal/model"
)

// Store is the persistence surface the pipeline writes through. Lookup
// methods are bulk by design: the merger preloads identity maps once per
// batch instead of querying per row.
type Store interface {
	// InsertStagingRow writes one audit row. Inserts are idempotent on
	// (file checksum, row number); when the row already exists its current
	// status is returned untouched, otherwise PENDING.
	InsertStagingRow(ctx context.Context, row *model.StagingRow) (model.ProcessingStatus, error)

	// SetStagingStatus records a merge outcome and appends any messages to
	// the row's error list.
	SetStagingStatus(ctx context.Context, fileChecksum string, rowNumber int, status model.ProcessingStatus, messages []string) error

	// CustomersByEmails returns customers keyed by lower-cased email.
	CustomersByEmails(ctx context.Context, emails []string) (map[string]*model.Customer, error)

	// CustomersByNames returns customers keyed by lower-cased full name.
	CustomersByNames(ctx context.Context, names []string) (map[string]*model.Customer, error)

	// PackagesByNames returns packages keyed by lower-cased name.
	PackagesByNames(ctx context.Context, names []string) (map[string]*model.Package, error)

	// AllAddons returns the full add-on catalog.
	AllAddons(ctx context.Context) ([]model.Addon, error)

	CreateCustomer(ctx context.Context, c *model.Customer) error
	UpdateCustomer(ctx context.Context, c *model.Customer) error
	CreatePackage(ctx context.Context, p *model.Package) error

	// FindOrCreateBooking resolves a booking by its business key (customer,
	// package, session date, total price), creating it when absent. Reports
	// whether a new booking was created.
	FindOrCreateBooking(ctx context.Context, b *model.Booking) (bool, error)

	// ReplaceBookingAddons deletes and recreates the booking's add-on set.
	ReplaceBookingAddons(ctx context.Context, bookingID int64, items []model.BookingAddon) error
}

// TxRunner executes fn atomically. The postgres implementation opens one
// transaction per call; the memory implementation runs fn directly.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(Store) error) error
}
