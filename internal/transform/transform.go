// Package transform classifies raw worksheets as one of the two known
// human-authored layouts and rewrites their rows into the canonical schema
// shared by both.
package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/heigenstudio/bookingpipe/internal/ingest"
	"github.com/heigenstudio/bookingpipe/internal/model"
	"github.com/heigenstudio/bookingpipe/internal/rowvalue"
)

// ErrUnknownFormat marks a sheet that matches neither known layout. The
// caller must surface this distinctly from a staged-but-empty sheet.
var ErrUnknownFormat = errors.New("sheet matches no known layout")

// ConsentRow is the canonical form of one consent-form submission.
type ConsentRow struct {
	RecordType        model.RecordType `json:"record_type"`
	FullName          string           `json:"full_name"`
	Email             string           `json:"email"`
	ContactNumber     string           `json:"contact_number"`
	InstagramHandle   string           `json:"instagram_handle"`
	AcquisitionSource string           `json:"acquisition_source"`
	IsFirstTime       string           `json:"is_first_time"`
	RegistrationDate  *time.Time       `json:"registration_date"`
	Consent           string           `json:"consent"`
	Package           string           `json:"package"`
}

// BookingRow is the canonical form of one booking-record row.
type BookingRow struct {
	RecordType         model.RecordType `json:"record_type"`
	SessionDate        *time.Time       `json:"session_date"`
	FullName           string           `json:"full_name"`
	Email              string           `json:"email"`
	Package            string           `json:"package"`
	BreakdownOfPackage string           `json:"breakdown_of_package"`
	BreakdownPricing   string           `json:"breakdown_pricing"`
	Gcash              *float64         `json:"gcash"`
	Cash               *float64         `json:"cash"`
	Total              *float64         `json:"total"`
	Discounts          string           `json:"discounts"`
}

// Row pairs a canonical record with the raw row it came from. Exactly one of
// Consent/Booking is set, matching Type.
type Row struct {
	Type    model.RecordType
	Consent *ConsentRow
	Booking *BookingRow
	Raw     rowvalue.Row
}

// CanonicalJSON serializes the canonical payload, excluding the raw row.
func (r Row) CanonicalJSON() ([]byte, error) {
	switch r.Type {
	case model.RecordConsent:
		return json.Marshal(r.Consent)
	case model.RecordBooking:
		return json.Marshal(r.Booking)
	}
	return nil, fmt.Errorf("unknown record type %q", r.Type)
}

// RawJSON serializes the raw payload in original column order.
func (r Row) RawJSON() ([]byte, error) {
	return json.Marshal(r.Raw)
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9_]`)

// NormalizeHeader maps a free-text header to its canonical snake_case form:
// lower-case, spaces to underscores, everything else stripped. Applied
// uniformly so header drift across export versions ("Email Address" vs
// "email") lands on the same field.
func NormalizeHeader(h string) string {
	s := strings.ToLower(strings.TrimSpace(h))
	s = strings.ReplaceAll(s, " ", "_")
	return nonAlnumRe.ReplaceAllString(s, "")
}

// headerRule maps a normalized-header pattern to a canonical field. Rules
// are evaluated in table order and the first substring match wins; the order
// is part of the contract (a later entry is unreachable once an earlier one
// matches).
type headerRule struct {
	pattern string
	field   string
}

var consentHeaderRules = []headerRule{
	{"full_name", "full_name"},
	{"email", "email"},
	{"contact_number", "contact_number"},
	{"instagram", "instagram_handle"},
	{"booking_or_walkin", "acquisition_source"},
	{"first_time", "is_first_time"},
	{"timestamp", "registration_date"},
	{"consent", "consent"},
	{"i_agree", "consent"},
	{"package", "package"},
}

var bookingHeaderRules = []headerRule{
	{"session_date", "session_date"},
	{"full_name", "full_name"},
	{"email", "email"},
	{"breakdown_of_package", "breakdown_of_package"},
	{"breakdown_pricing", "breakdown_pricing"},
	{"package", "package"},
	{"gcash", "gcash"},
	{"cash", "cash"},
	{"total", "total"},
	{"discount", "discounts"},
}

func canonicalField(rules []headerRule, normalized string) string {
	for _, r := range rules {
		if strings.Contains(normalized, r.pattern) {
			return r.field
		}
	}
	return ""
}

// bookingHeaderLabel is the first column label of the fixed booking layout.
const bookingHeaderLabel = "session_date"

// consentHeaderLabel is the first column label of Forms-style consent
// exports (the stricter detection signal).
const consentHeaderLabel = "timestamp"

// minConsentHeaderCells is the looser consent signal: a majority of
// free-text question labels in the first row.
const minConsentHeaderCells = 5

// Detect classifies a raw sheet as one of the two known layouts. Rules run
// in a fixed order: the booking literal header is checked first, then the
// consent signals; an ambiguous first row with enough text cells is treated
// as consent.
func Detect(rows [][]string) (model.RecordType, error) {
	header := firstNonEmptyRow(rows)
	if header == nil {
		return "", ErrUnknownFormat
	}
	if len(header) > 0 && NormalizeHeader(header[0]) == bookingHeaderLabel {
		return model.RecordBooking, nil
	}
	if len(header) > 0 && NormalizeHeader(header[0]) == consentHeaderLabel {
		return model.RecordConsent, nil
	}
	nonEmpty := 0
	for _, c := range header {
		if strings.TrimSpace(c) != "" {
			nonEmpty++
		}
	}
	if nonEmpty >= minConsentHeaderCells {
		return model.RecordConsent, nil
	}
	return "", ErrUnknownFormat
}

// Sheet detects the sheet's layout and canonicalizes its data rows. Entirely
// empty rows are dropped.
func Sheet(sheet ingest.RawSheet) ([]Row, error) {
	recordType, err := Detect(sheet.Rows)
	if err != nil {
		return nil, fmt.Errorf("sheet %s: %w", sheet.SheetName, err)
	}

	headerIdx := firstNonEmptyIndex(sheet.Rows)
	header := sheet.Rows[headerIdx]
	data := sheet.Rows[headerIdx+1:]

	rules := consentHeaderRules
	if recordType == model.RecordBooking {
		rules = bookingHeaderRules
	}

	// Resolve each column once; unmapped columns still ride along in the
	// raw payload.
	fields := make([]string, len(header))
	for i, h := range header {
		fields[i] = canonicalField(rules, NormalizeHeader(h))
	}

	var out []Row
	for _, cells := range data {
		if emptyRow(cells) {
			continue
		}
		raw := make(rowvalue.Row, 0, len(header))
		byField := map[string]string{}
		for i, h := range header {
			var v any
			if i < len(cells) && strings.TrimSpace(cells[i]) != "" {
				v = cells[i]
				if fields[i] != "" {
					if _, taken := byField[fields[i]]; !taken {
						byField[fields[i]] = cells[i]
					}
				}
			}
			raw = append(raw, rowvalue.Cell{Key: h, Value: v})
		}

		row := Row{Type: recordType, Raw: raw}
		switch recordType {
		case model.RecordConsent:
			row.Consent = buildConsent(byField)
		case model.RecordBooking:
			row.Booking = buildBooking(byField)
		}
		out = append(out, row)
	}
	return out, nil
}

func buildConsent(f map[string]string) *ConsentRow {
	return &ConsentRow{
		RecordType:        model.RecordConsent,
		FullName:          strings.TrimSpace(f["full_name"]),
		Email:             strings.TrimSpace(f["email"]),
		ContactNumber:     strings.TrimSpace(f["contact_number"]),
		InstagramHandle:   strings.TrimSpace(f["instagram_handle"]),
		AcquisitionSource: strings.TrimSpace(f["acquisition_source"]),
		IsFirstTime:       strings.TrimSpace(f["is_first_time"]),
		RegistrationDate:  ParseDate(f["registration_date"]),
		Consent:           strings.TrimSpace(f["consent"]),
		Package:           strings.TrimSpace(f["package"]),
	}
}

func buildBooking(f map[string]string) *BookingRow {
	return &BookingRow{
		RecordType:         model.RecordBooking,
		SessionDate:        ParseDate(f["session_date"]),
		FullName:           strings.TrimSpace(f["full_name"]),
		Email:              strings.TrimSpace(f["email"]),
		Package:            strings.TrimSpace(f["package"]),
		BreakdownOfPackage: strings.TrimSpace(f["breakdown_of_package"]),
		BreakdownPricing:   strings.TrimSpace(f["breakdown_pricing"]),
		Gcash:              ParseAmount(f["gcash"]),
		Cash:               ParseAmount(f["cash"]),
		Total:              ParseAmount(f["total"]),
		Discounts:          strings.TrimSpace(f["discounts"]),
	}
}

// dateLayouts are tried in order. Human-entered exports mix ISO timestamps
// with bare dates and US-style Forms timestamps.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"1/2/2006 15:04:05",
	"1/2/2006",
}

// ParseDate parses a human-entered date string. Invalid or absent values
// become nil rather than failing the row.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

var amountCleanRe = regexp.MustCompile(`[^0-9.\-]`)

// ParseAmount parses a money cell. Currency symbols and thousands
// separators are tolerated; anything unparseable becomes nil.
func ParseAmount(s string) *float64 {
	cleaned := amountCleanRe.ReplaceAllString(strings.TrimSpace(s), "")
	if cleaned == "" {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

func firstNonEmptyIndex(rows [][]string) int {
	for i, r := range rows {
		if !emptyRow(r) {
			return i
		}
	}
	return 0
}

func firstNonEmptyRow(rows [][]string) []string {
	for _, r := range rows {
		if !emptyRow(r) {
			return r
		}
	}
	return nil
}

func emptyRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
