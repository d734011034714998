package merge

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heigenstudio/bookingpipe/internal/addons"
	"github.com/heigenstudio/bookingpipe/internal/model"
	"github.com/heigenstudio/bookingpipe/internal/staging"
	"github.com/heigenstudio/bookingpipe/internal/store"
	"github.com/heigenstudio/bookingpipe/internal/transform"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func seededStore() *store.Memory {
	mem := store.NewMemory()
	catalog := addons.Catalog()
	seed := make([]model.Addon, 0, len(catalog))
	for i, item := range catalog {
		seed = append(seed, model.Addon{
			AddonID: int64(i + 1),
			Name:    item.Name,
			Price:   item.Price,
		})
	}
	mem.SeedAddons(seed)
	return mem
}

func testMerger(mem *store.Memory) *Merger {
	log := testLogger()
	return New(mem, addons.New(3, log), log)
}

func consentRow(name, email, firstTime string) transform.Row {
	return transform.Row{
		Type: model.RecordConsent,
		Consent: &transform.ConsentRow{
			RecordType:  model.RecordConsent,
			FullName:    name,
			Email:       email,
			IsFirstTime: firstTime,
		},
	}
}

func bookingRow(b transform.BookingRow) transform.Row {
	b.RecordType = model.RecordBooking
	return transform.Row{Type: model.RecordBooking, Booking: &b}
}

func stageAndMerge(t *testing.T, mem *store.Memory, rows []transform.Row, checksum string) Result {
	t.Helper()
	ctx := context.Background()
	statuses, err := staging.NewWriter(mem).Stage(ctx, rows, "file.xlsx", checksum)
	require.NoError(t, err)
	res, err := testMerger(mem).MergeFile(ctx, rows, statuses, checksum)
	require.NoError(t, err)
	return res
}

func TestParseFirstTime(t *testing.T) {
	isFirst, prev := ParseFirstTime("First time")
	assert.True(t, isFirst)
	assert.Equal(t, 0, prev)

	isFirst, prev = ParseFirstTime("3 times")
	assert.False(t, isFirst)
	assert.Equal(t, 3, prev)

	isFirst, prev = ParseFirstTime("")
	assert.False(t, isFirst)
	assert.Equal(t, 0, prev)
}

func TestRestoreDiscount(t *testing.T) {
	cases := map[string]string{
		"0.1":   "10%",
		"0.05":  "5%",
		"-0.25": "-25%",
		"10%":   "10%",
		"free":  "free",
		"2":     "2",
		"":      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, RestoreDiscount(in), "input %q", in)
	}
}

func TestMergeConsentUpsertLatestWins(t *testing.T) {
	mem := seededStore()
	rows := []transform.Row{
		consentRow("Anna Cruz", "Anna@Example.com", "First time"),
		consentRow("Anna C. Cruz", "anna@example.com", "2 times"),
	}

	res := stageAndMerge(t, mem, rows, "sum-consent")
	assert.Equal(t, 2, res.Merged)
	assert.Zero(t, res.Errors)

	customers := mem.Customers()
	require.Len(t, customers, 1, "case-insensitive email collapses to one customer")
	c := customers[0]
	assert.Equal(t, "Anna C. Cruz", c.FullName)
	assert.Equal(t, "anna@example.com", c.Email)
	assert.False(t, c.IsFirstTime)
	assert.Equal(t, 2, c.PreviousSessionCounts)
}

func TestMergeConsentSharedNameIsNotAnIdentity(t *testing.T) {
	mem := seededStore()
	existing := &model.Customer{FullName: "Anna Cruz", Email: "old@example.com"}
	require.NoError(t, mem.CreateCustomer(context.Background(), existing))

	res := stageAndMerge(t, mem, []transform.Row{
		consentRow("Anna Cruz", "new@example.com", "First time"),
	}, "sum-collision")
	assert.Equal(t, 1, res.Merged)

	customers := mem.Customers()
	require.Len(t, customers, 2, "an unmatched email creates a new customer even when the name matches an existing one")

	byEmail := map[string]*model.Customer{}
	for _, c := range customers {
		byEmail[c.Email] = c
	}
	require.Contains(t, byEmail, "old@example.com", "the namesake keeps their email")
	require.Contains(t, byEmail, "new@example.com")
	assert.True(t, byEmail["new@example.com"].IsFirstTime)
}

func TestMergeConsentNameKeyWhenEmailEmpty(t *testing.T) {
	mem := seededStore()
	existing := &model.Customer{FullName: "Ben Reyes"}
	require.NoError(t, mem.CreateCustomer(context.Background(), existing))

	res := stageAndMerge(t, mem, []transform.Row{
		consentRow("Ben Reyes", "", "2 times"),
	}, "sum-nameonly")
	assert.Equal(t, 1, res.Merged)

	customers := mem.Customers()
	require.Len(t, customers, 1)
	assert.Equal(t, existing.CustomerID, customers[0].CustomerID)
	assert.Equal(t, 2, customers[0].PreviousSessionCounts)
}

func TestMergeBookingCreatesCustomerAndPackage(t *testing.T) {
	mem := seededStore()
	sessionDate := time.Date(2025, 8, 14, 0, 0, 0, 0, time.UTC)
	total := 1950.0
	rows := []transform.Row{bookingRow(transform.BookingRow{
		SessionDate:        &sessionDate,
		FullName:           "Ben Reyes",
		Email:              "ben@example.com",
		Package:            "Package A",
		BreakdownOfPackage: "Package A + Backdrop + Costume Rental",
		BreakdownPricing:   "1500 + 300 + 150",
		Total:              &total,
	})}

	res := stageAndMerge(t, mem, rows, "sum-booking")
	assert.Equal(t, 1, res.Merged)
	assert.Zero(t, res.MissingCustomer, "unknown customers are created, not rejected")

	require.Len(t, mem.Customers(), 1)
	require.Len(t, mem.Packages(), 1)
	assert.Equal(t, "Package A", mem.Packages()[0].Name)
	assert.Zero(t, mem.Packages()[0].Price, "auto-created packages get zero price")

	bookings := mem.Bookings()
	require.Len(t, bookings, 1)
	b := bookings[0]
	assert.Equal(t, 1950.0, b.TotalPrice)
	assert.Equal(t, model.SessionStatusBooked, b.SessionStatus)

	lines := mem.BookingAddons(b.BookingID)
	require.Len(t, lines, 2)

	byQty := map[float64]model.BookingAddon{}
	for _, l := range lines {
		byQty[l.AddonPrice] = l
	}

	// Backdrop observed at 300 against a catalog price of 150.
	backdrop := byQty[150.0]
	assert.Equal(t, 2, backdrop.AddonQuantity)
	assert.Equal(t, 300.0, backdrop.TotalAddonCost)

	// Costume rental at 150 is non-linear, not a multiple of 80.
	costume := byQty[80.0]
	assert.Equal(t, 2, costume.AddonQuantity)
	assert.Equal(t, 160.0, costume.TotalAddonCost)

	for _, l := range lines {
		assert.Equal(t, float64(l.AddonQuantity)*l.AddonPrice, l.TotalAddonCost)
	}
}

func TestMergeBookingUnresolvableAddonDropped(t *testing.T) {
	mem := seededStore()
	rows := []transform.Row{bookingRow(transform.BookingRow{
		FullName:           "Cara Lim",
		BreakdownOfPackage: "Package B + Glitter Bomb + Backdrop",
		BreakdownPricing:   "1200 + 500 + 150",
	})}

	res := stageAndMerge(t, mem, rows, "sum-dropped")
	assert.Equal(t, 1, res.Merged, "booking still lands when a line is dropped")

	bookings := mem.Bookings()
	require.Len(t, bookings, 1)
	lines := mem.BookingAddons(bookings[0].BookingID)
	require.Len(t, lines, 1)
	assert.Equal(t, 1, lines[0].AddonQuantity)
	assert.Equal(t, 150.0, lines[0].AddonPrice)

	staged, ok := mem.StagingRow("sum-dropped", 1)
	require.True(t, ok)
	assert.Equal(t, model.StatusMerged, staged.ProcessingStatus)
	require.NotEmpty(t, staged.ErrorMessages)
	assert.Contains(t, staged.ErrorMessages[0], "Glitter Bomb")
}

func TestMergeBookingMissingPriceLineDropped(t *testing.T) {
	mem := seededStore()
	rows := []transform.Row{bookingRow(transform.BookingRow{
		FullName:           "Dan Ong",
		BreakdownOfPackage: "Package A + Backdrop + Album",
		BreakdownPricing:   "1500 + 150",
	})}

	res := stageAndMerge(t, mem, rows, "sum-noprice")
	assert.Equal(t, 1, res.Merged)

	lines := mem.BookingAddons(mem.Bookings()[0].BookingID)
	require.Len(t, lines, 1, "the line with no price token is rejected")
	assert.Equal(t, 150.0, lines[0].AddonPrice)
}

func TestMergeBookingDuplicateAddonLinesCollapse(t *testing.T) {
	mem := seededStore()
	rows := []transform.Row{bookingRow(transform.BookingRow{
		FullName:           "Eve Tan",
		BreakdownOfPackage: "Package A + Backdrop + extra backdrop",
		BreakdownPricing:   "1500 + 150 + 300",
	})}

	res := stageAndMerge(t, mem, rows, "sum-collapse")
	assert.Equal(t, 1, res.Merged)

	lines := mem.BookingAddons(mem.Bookings()[0].BookingID)
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].AddonQuantity)
	assert.Equal(t, 150.0, lines[0].AddonPrice)
	assert.Equal(t, 450.0, lines[0].TotalAddonCost)
}

func TestMergeBookingMissingCustomer(t *testing.T) {
	mem := seededStore()
	rows := []transform.Row{bookingRow(transform.BookingRow{
		Package: "Package A",
	})}

	res := stageAndMerge(t, mem, rows, "sum-missing")
	assert.Equal(t, 1, res.MissingCustomer)
	assert.Zero(t, res.Merged)
	assert.Empty(t, mem.Bookings())

	staged, ok := mem.StagingRow("sum-missing", 1)
	require.True(t, ok)
	assert.Equal(t, model.StatusMissingCustomer, staged.ProcessingStatus)
}

func TestMergeFileIsIdempotent(t *testing.T) {
	mem := seededStore()
	sessionDate := time.Date(2025, 8, 14, 0, 0, 0, 0, time.UTC)
	total := 1650.0
	rows := []transform.Row{bookingRow(transform.BookingRow{
		SessionDate: &sessionDate,
		FullName:    "Fay Uy",
		Email:       "fay@example.com",
		Package:     "Package A",
		Total:       &total,
	})}

	first := stageAndMerge(t, mem, rows, "sum-idem")
	assert.Equal(t, 1, first.Merged)

	second := stageAndMerge(t, mem, rows, "sum-idem")
	assert.Zero(t, second.Merged)
	assert.Equal(t, 1, second.Skipped, "terminal rows are never re-entered")

	assert.Len(t, mem.Bookings(), 1)
	assert.Len(t, mem.Customers(), 1)
}

func TestMergeBookingReusesExistingBusinessKey(t *testing.T) {
	mem := seededStore()
	sessionDate := time.Date(2025, 8, 14, 0, 0, 0, 0, time.UTC)
	total := 1650.0
	row := bookingRow(transform.BookingRow{
		SessionDate: &sessionDate,
		FullName:    "Gio Sy",
		Email:       "gio@example.com",
		Package:     "Package A",
		Total:       &total,
	})

	stageAndMerge(t, mem, []transform.Row{row}, "sum-key-a")
	// Same booking re-exported in a second file with a different checksum.
	stageAndMerge(t, mem, []transform.Row{row}, "sum-key-b")

	assert.Len(t, mem.Bookings(), 1, "business key dedup spans files")
}
