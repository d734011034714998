// Package merge applies staged canonical rows to the master tables.
package merge

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/heigenstudio/bookingpipe/internal/addons"
	"github.com/heigenstudio/bookingpipe/internal/model"
	"github.com/heigenstudio/bookingpipe/internal/store"
	"github.com/heigenstudio/bookingpipe/internal/transform"
)

// Merger turns PENDING staging rows into master-entity rows. One Merger
// handles one batch; the identity caches it builds are scoped to that batch
// and die with it.
type Merger struct {
	st   store.Store
	norm *addons.Normalizer
	log  logrus.FieldLogger
}

// New constructs a Merger.
func New(st store.Store, norm *addons.Normalizer, log logrus.FieldLogger) *Merger {
	return &Merger{st: st, norm: norm, log: log}
}

// Result aggregates per-row outcomes for one file.
type Result struct {
	Merged          int
	Errors          int
	MissingCustomer int
	Skipped         int
}

// batchCache holds identity maps preloaded once per batch so per-row
// resolution stays O(1).
type batchCache struct {
	customersByEmail map[string]*model.Customer
	customersByName  map[string]*model.Customer
	packagesByName   map[string]*model.Package
	addonsByName     map[string]*model.Addon
}

// MergeFile merges every still-PENDING row of a file. statuses must be
// aligned with rows (as returned by staging.Writer.Stage); rows already in a
// terminal state are skipped, never re-entered. Per-row failures mark the
// staging row and processing continues.
func (m *Merger) MergeFile(ctx context.Context, rows []transform.Row, statuses []model.ProcessingStatus, checksum string) (Result, error) {
	var res Result

	cache, err := m.loadCache(ctx, rows)
	if err != nil {
		return res, err
	}

	for i, row := range rows {
		rowNumber := i + 1
		if statuses[i] != model.StatusPending {
			res.Skipped++
			continue
		}

		var (
			status model.ProcessingStatus
			msgs   []string
		)
		switch row.Type {
		case model.RecordConsent:
			status, msgs = m.mergeConsent(ctx, cache, row.Consent)
		case model.RecordBooking:
			status, msgs = m.mergeBooking(ctx, cache, row.Booking)
		default:
			status = model.StatusError
			msgs = []string{fmt.Sprintf("unknown record type %q", row.Type)}
		}

		if err := m.st.SetStagingStatus(ctx, checksum, rowNumber, status, msgs); err != nil {
			return res, err
		}
		switch status {
		case model.StatusMerged:
			res.Merged++
		case model.StatusMissingCustomer:
			res.MissingCustomer++
		default:
			res.Errors++
		}
	}
	return res, nil
}

// loadCache bulk-fetches every identity referenced by the batch.
func (m *Merger) loadCache(ctx context.Context, rows []transform.Row) (*batchCache, error) {
	var emails, names, packages []string
	for _, row := range rows {
		switch row.Type {
		case model.RecordConsent:
			emails = append(emails, row.Consent.Email)
			names = append(names, row.Consent.FullName)
			packages = append(packages, row.Consent.Package)
		case model.RecordBooking:
			emails = append(emails, row.Booking.Email)
			names = append(names, row.Booking.FullName)
			packages = append(packages, row.Booking.Package)
		}
	}

	byEmail, err := m.st.CustomersByEmails(ctx, emails)
	if err != nil {
		return nil, err
	}
	byName, err := m.st.CustomersByNames(ctx, names)
	if err != nil {
		return nil, err
	}
	byPackage, err := m.st.PackagesByNames(ctx, packages)
	if err != nil {
		return nil, err
	}
	catalog, err := m.st.AllAddons(ctx)
	if err != nil {
		return nil, err
	}
	addonsByName := make(map[string]*model.Addon, len(catalog))
	for i := range catalog {
		addonsByName[strings.ToLower(catalog[i].Name)] = &catalog[i]
	}

	return &batchCache{
		customersByEmail: byEmail,
		customersByName:  byName,
		packagesByName:   byPackage,
		addonsByName:     addonsByName,
	}, nil
}

func (c *batchCache) customer(email, name string) *model.Customer {
	if key := strings.ToLower(strings.TrimSpace(email)); key != "" {
		if cust, ok := c.customersByEmail[key]; ok {
			return cust
		}
	}
	if key := strings.ToLower(strings.TrimSpace(name)); key != "" {
		if cust, ok := c.customersByName[key]; ok {
			return cust
		}
	}
	return nil
}

// consentIdentity resolves the customer a consent row re-affirms. A row with
// an email is keyed by that email alone; a name match must not be adopted in
// its place, since consent overwrites every attribute of the matched
// customer. The name key applies only to rows with no email at all.
func (c *batchCache) consentIdentity(email, name string) *model.Customer {
	if key := strings.ToLower(strings.TrimSpace(email)); key != "" {
		return c.customersByEmail[key]
	}
	if key := strings.ToLower(strings.TrimSpace(name)); key != "" {
		return c.customersByName[key]
	}
	return nil
}

func (c *batchCache) remember(cust *model.Customer) {
	if key := strings.ToLower(cust.Email); key != "" {
		c.customersByEmail[key] = cust
	}
	if key := strings.ToLower(cust.FullName); key != "" {
		c.customersByName[key] = cust
	}
}

// mergeConsent upserts a customer from a consent row. Consent is
// re-affirmable: the latest submission always wins, so attributes overwrite
// unconditionally.
func (m *Merger) mergeConsent(ctx context.Context, cache *batchCache, row *transform.ConsentRow) (model.ProcessingStatus, []string) {
	isFirst, previous := ParseFirstTime(row.IsFirstTime)

	var packageID *int64
	if row.Package != "" {
		if pkg, ok := cache.packagesByName[strings.ToLower(row.Package)]; ok {
			packageID = &pkg.PackageID
		}
	}

	cust := cache.consentIdentity(row.Email, row.FullName)
	if cust == nil {
		cust = &model.Customer{}
	}
	cust.FullName = row.FullName
	cust.Email = row.Email
	cust.ContactNumber = row.ContactNumber
	cust.InstagramHandle = row.InstagramHandle
	cust.AcquisitionSource = row.AcquisitionSource
	cust.IsFirstTime = isFirst
	cust.PreviousSessionCounts = previous
	cust.RegistrationDate = row.RegistrationDate
	cust.Consent = row.Consent
	cust.PackageID = packageID

	var err error
	if cust.CustomerID == 0 {
		err = m.st.CreateCustomer(ctx, cust)
	} else {
		err = m.st.UpdateCustomer(ctx, cust)
	}
	if err != nil {
		return model.StatusError, []string{err.Error()}
	}
	cache.remember(cust)
	return model.StatusMerged, nil
}

// mergeBooking creates a booking (and whatever identities it needs) from a
// booking row. Add-on lines that cannot be resolved are dropped with a
// recorded reason; the booking itself still lands.
func (m *Merger) mergeBooking(ctx context.Context, cache *batchCache, row *transform.BookingRow) (model.ProcessingStatus, []string) {
	var msgs []string

	cust := cache.customer(row.Email, row.FullName)
	if cust == nil {
		if row.Email == "" && row.FullName == "" {
			return model.StatusMissingCustomer, []string{"no email or full name to resolve a customer"}
		}
		cust = &model.Customer{FullName: row.FullName, Email: row.Email}
		if err := m.st.CreateCustomer(ctx, cust); err != nil {
			return model.StatusError, []string{err.Error()}
		}
		cache.remember(cust)
	}

	var packageID *int64
	if row.Package != "" {
		key := strings.ToLower(row.Package)
		pkg, ok := cache.packagesByName[key]
		if !ok {
			pkg = &model.Package{Name: row.Package}
			if err := m.st.CreatePackage(ctx, pkg); err != nil {
				return model.StatusError, []string{err.Error()}
			}
			cache.packagesByName[key] = pkg
			m.log.WithField("package", row.Package).Info("auto-created package with zero price")
		}
		packageID = &pkg.PackageID
	}

	booking := &model.Booking{
		CustomerID:    cust.CustomerID,
		PackageID:     packageID,
		SessionDate:   row.SessionDate,
		TotalPrice:    amountOrZero(row.Total),
		GcashPayment:  amountOrZero(row.Gcash),
		CashPayment:   amountOrZero(row.Cash),
		Discounts:     RestoreDiscount(row.Discounts),
		SessionStatus: model.SessionStatusBooked,
	}
	created, err := m.st.FindOrCreateBooking(ctx, booking)
	if err != nil {
		return model.StatusError, []string{err.Error()}
	}
	if !created {
		m.log.WithField("booking_id", booking.BookingID).
			Debug("booking matched existing business key, reusing")
	}

	lines, lineMsgs := m.resolveAddons(row.BreakdownOfPackage, row.BreakdownPricing, cache)
	msgs = append(msgs, lineMsgs...)
	if err := m.st.ReplaceBookingAddons(ctx, booking.BookingID, lines); err != nil {
		return model.StatusError, append(msgs, err.Error())
	}

	return model.StatusMerged, msgs
}

// resolveAddons parses the breakdown and builds the booking's add-on set.
// Lines sharing a catalog addon are collapsed (the set has a composite key),
// summing quantities at the catalog unit price.
func (m *Merger) resolveAddons(breakdown, pricing string, cache *batchCache) ([]model.BookingAddon, []string) {
	var msgs []string
	perAddon := make(map[int64]*model.BookingAddon)
	var order []int64

	for _, line := range addons.ParseBreakdown(breakdown, pricing) {
		if !line.PriceKnown {
			msgs = append(msgs, fmt.Sprintf("addon %q has no price in breakdown, line dropped", line.RawName))
			continue
		}
		name := m.norm.ResolveName(line.RawName)
		addon, ok := cache.addonsByName[strings.ToLower(name)]
		if !ok {
			m.log.WithField("addon", name).Warn("addon not found in catalog, line dropped")
			msgs = append(msgs, fmt.Sprintf("addon %q not found in catalog, line dropped", name))
			continue
		}
		res := m.norm.InferQuantity(addon.Name, addon.Price, line.Price)
		if res.Note != "" {
			msgs = append(msgs, res.Note)
		}
		if existing, ok := perAddon[addon.AddonID]; ok {
			existing.AddonQuantity += res.Quantity
			existing.TotalAddonCost = round2(float64(existing.AddonQuantity) * existing.AddonPrice)
			continue
		}
		unit, _ := res.UnitPrice.Float64()
		total, _ := res.Total.Float64()
		perAddon[addon.AddonID] = &model.BookingAddon{
			AddonID:        addon.AddonID,
			AddonQuantity:  res.Quantity,
			AddonPrice:     unit,
			TotalAddonCost: total,
		}
		order = append(order, addon.AddonID)
	}

	sort.Slice(order, func(a, b int) bool { return order[a] < order[b] })
	out := make([]model.BookingAddon, 0, len(order))
	for _, id := range order {
		out = append(out, *perAddon[id])
	}
	return out, msgs
}

var digitsRe = regexp.MustCompile(`\d+`)

// ParseFirstTime interprets the free-text first-time answer. The exact
// phrase "first time" means a first visit; anything else is treated as a
// returning customer with the session count read from its digits.
func ParseFirstTime(text string) (bool, int) {
	trimmed := strings.TrimSpace(text)
	if strings.EqualFold(trimmed, "first time") {
		return true, 0
	}
	if match := digitsRe.FindString(trimmed); match != "" {
		if n, err := strconv.Atoi(match); err == nil {
			return false, n
		}
	}
	return false, 0
}

// RestoreDiscount converts a stored fractional discount (e.g. "0.1") back
// into the percentage string it was entered as ("10%"). Values that do not
// look like a fraction in [-1, 1] pass through untouched.
func RestoreDiscount(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || f == 0 || math.Abs(f) > 1 {
		return trimmed
	}
	pct := decimal.NewFromFloat(f).Mul(decimal.NewFromInt(100))
	return pct.String() + "%"
}

func amountOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
