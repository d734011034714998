package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/heigenstudio/bookingpipe/internal/model"
)

// Memory is an in-memory Store used by tests. It mirrors the postgres
// semantics closely enough for merge logic to be exercised without a
// database: staging idempotency, lower-cased identity keys, business-key
// booking dedup and add-on set replacement.
type Memory struct {
	mu sync.RWMutex

	staging   map[stagingKey]*model.StagingRow
	customers []*model.Customer
	packages  []*model.Package
	addons    []model.Addon
	bookings  []*model.Booking
	lines     map[int64][]model.BookingAddon

	nextCustomerID int64
	nextPackageID  int64
	nextBookingID  int64
	nextStagingID  int64
}

type stagingKey struct {
	checksum  string
	rowNumber int
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		staging: make(map[stagingKey]*model.StagingRow),
		lines:   make(map[int64][]model.BookingAddon),
	}
}

// SeedAddons loads the add-on catalog the way initdb seeds postgres.
func (m *Memory) SeedAddons(addons []model.Addon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addons = append([]model.Addon(nil), addons...)
}

// RunInTx runs fn directly; the memory store has no transactional rollback.
func (m *Memory) RunInTx(ctx context.Context, fn func(Store) error) error {
	return fn(m)
}

func (m *Memory) InsertStagingRow(ctx context.Context, row *model.StagingRow) (model.ProcessingStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := stagingKey{row.FileChecksum, row.RawRowNumber}
	if existing, ok := m.staging[key]; ok {
		return existing.ProcessingStatus, nil
	}
	m.nextStagingID++
	stored := *row
	stored.ID = m.nextStagingID
	stored.ProcessingStatus = model.StatusPending
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.LastUpdated = now
	m.staging[key] = &stored
	return model.StatusPending, nil
}

func (m *Memory) SetStagingStatus(ctx context.Context, fileChecksum string, rowNumber int, status model.ProcessingStatus, messages []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.staging[stagingKey{fileChecksum, rowNumber}]
	if !ok {
		return nil
	}
	row.ProcessingStatus = status
	row.ErrorMessages = append(row.ErrorMessages, messages...)
	row.LastUpdated = time.Now().UTC()
	return nil
}

// StagingRow returns the stored staging row for assertions.
func (m *Memory) StagingRow(fileChecksum string, rowNumber int) (*model.StagingRow, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.staging[stagingKey{fileChecksum, rowNumber}]
	if !ok {
		return nil, false
	}
	copied := *row
	return &copied, true
}

func (m *Memory) CustomersByEmails(ctx context.Context, emails []string) (map[string]*model.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := stringSet(emails)
	out := make(map[string]*model.Customer)
	for _, c := range m.customers {
		key := strings.ToLower(c.Email)
		if key != "" && want[key] {
			out[key] = c
		}
	}
	return out, nil
}

func (m *Memory) CustomersByNames(ctx context.Context, names []string) (map[string]*model.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := stringSet(names)
	out := make(map[string]*model.Customer)
	for _, c := range m.customers {
		key := strings.ToLower(c.FullName)
		if key != "" && want[key] {
			out[key] = c
		}
	}
	return out, nil
}

func (m *Memory) PackagesByNames(ctx context.Context, names []string) (map[string]*model.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := stringSet(names)
	out := make(map[string]*model.Package)
	for _, p := range m.packages {
		key := strings.ToLower(p.Name)
		if want[key] {
			out[key] = p
		}
	}
	return out, nil
}

func (m *Memory) AllAddons(ctx context.Context) ([]model.Addon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Addon(nil), m.addons...), nil
}

func (m *Memory) CreateCustomer(ctx context.Context, c *model.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCustomerID++
	c.CustomerID = m.nextCustomerID
	now := time.Now().UTC()
	c.CreatedAt = now
	c.LastUpdated = now
	m.customers = append(m.customers, c)
	return nil
}

func (m *Memory) UpdateCustomer(ctx context.Context, c *model.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.customers {
		if existing.CustomerID == c.CustomerID {
			c.LastUpdated = time.Now().UTC()
			m.customers[i] = c
			return nil
		}
	}
	return nil
}

func (m *Memory) CreatePackage(ctx context.Context, p *model.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPackageID++
	p.PackageID = m.nextPackageID
	now := time.Now().UTC()
	p.CreatedAt = now
	p.LastUpdated = now
	m.packages = append(m.packages, p)
	return nil
}

func (m *Memory) FindOrCreateBooking(ctx context.Context, b *model.Booking) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.bookings {
		if existing.CustomerID == b.CustomerID &&
			equalInt64Ptr(existing.PackageID, b.PackageID) &&
			equalTimePtr(existing.SessionDate, b.SessionDate) &&
			existing.TotalPrice == b.TotalPrice {
			b.BookingID = existing.BookingID
			return false, nil
		}
	}
	m.nextBookingID++
	b.BookingID = m.nextBookingID
	now := time.Now().UTC()
	b.CreatedAt = now
	b.LastUpdated = now
	stored := *b
	m.bookings = append(m.bookings, &stored)
	return true, nil
}

func (m *Memory) ReplaceBookingAddons(ctx context.Context, bookingID int64, items []model.BookingAddon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[bookingID] = append([]model.BookingAddon(nil), items...)
	return nil
}

// Bookings returns all bookings for assertions.
func (m *Memory) Bookings() []*model.Booking {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*model.Booking(nil), m.bookings...)
}

// Customers returns all customers for assertions.
func (m *Memory) Customers() []*model.Customer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*model.Customer(nil), m.customers...)
}

// Packages returns all packages for assertions.
func (m *Memory) Packages() []*model.Package {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*model.Package(nil), m.packages...)
}

// BookingAddons returns the add-on set of a booking for assertions.
func (m *Memory) BookingAddons(bookingID int64) []model.BookingAddon {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.BookingAddon(nil), m.lines[bookingID]...)
}

func stringSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, s := range in {
		if s != "" {
			out[strings.ToLower(s)] = true
		}
	}
	return out
}

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
