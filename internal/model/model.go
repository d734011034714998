// Package model contains the entity structs shared across the pipeline.
package model

import (
	"time"
)

// ProcessingStatus describes the merge lifecycle of a staging row. The
// staging row itself is immutable once written; this is the only field the
// merger touches afterwards.
type ProcessingStatus string

const (
	StatusPending         ProcessingStatus = "PENDING"
	StatusMerged          ProcessingStatus = "MERGED"
	StatusError           ProcessingStatus = "ERROR"
	StatusMissingCustomer ProcessingStatus = "MISSING_CUSTOMER"
)

// RecordType classifies which spreadsheet layout produced a canonical row.
type RecordType string

const (
	RecordConsent RecordType = "consent"
	RecordBooking RecordType = "booking"
)

// SessionStatusBooked is the default status for bookings created by the
// pipeline. Status transitions beyond this happen in the CRUD surface, not
// here.
const SessionStatusBooked = "BOOKED"

// SourceFile is a discovered spreadsheet in the inbox. Identity is the
// content checksum, not the path; a byte-identical re-submission carries the
// same checksum.
type SourceFile struct {
	Path     string
	Name     string
	Checksum string
}

// StagingRow is the durable audit record of one ingested spreadsheet row.
type StagingRow struct {
	ID               int64
	FileName         string
	FileChecksum     string
	RawRowNumber     int
	RawData          []byte // JSON, original key order
	CanonicalData    []byte // JSON
	ProcessingStatus ProcessingStatus
	ErrorMessages    []string
	CreatedAt        time.Time
	LastUpdated      time.Time
}

// Customer is shared reference data, keyed business-wise by lower-cased
// email when present, else lower-cased full name.
type Customer struct {
	CustomerID            int64
	FullName              string
	Email                 string
	ContactNumber         string
	InstagramHandle       string
	AcquisitionSource     string
	IsFirstTime           bool
	PreviousSessionCounts int
	RegistrationDate      *time.Time
	Consent               string
	PackageID             *int64
	CreatedAt             time.Time
	LastUpdated           time.Time
}

// Package is a bookable session package. Auto-created packages carry a zero
// price until the business maintains them.
type Package struct {
	PackageID   int64
	Category    string
	Name        string
	Price       float64
	CreatedAt   time.Time
	LastUpdated time.Time
}

// Addon is a fixed-catalog extra. The pipeline never creates addons; Price
// is the reference unit price used for quantity inference.
type Addon struct {
	AddonID     int64
	Name        string
	Price       float64
	AppliesTo   string
	CreatedAt   time.Time
	LastUpdated time.Time
}

// Booking links a customer to a session. PackageID is optional.
type Booking struct {
	BookingID     int64
	CustomerID    int64
	PackageID     *int64
	SessionDate   *time.Time
	TotalPrice    float64
	GcashPayment  float64
	CashPayment   float64
	Discounts     string
	SessionStatus string
	CreatedAt     time.Time
	LastUpdated   time.Time
}

// BookingAddon is one add-on line under a booking. Composite identity
// (booking, addon); the whole set is replaced when a booking's add-ons are
// recomputed. Invariant: TotalAddonCost == AddonQuantity * AddonPrice.
type BookingAddon struct {
	BookingID      int64
	AddonID        int64
	AddonQuantity  int
	AddonPrice     float64
	TotalAddonCost float64
}
