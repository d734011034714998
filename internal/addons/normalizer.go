// Package addons resolves free-text add-on descriptions against the fixed
// catalog and infers purchased quantities from observed line prices.
package addons

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Catalog names. The catalog is business reference data; the pipeline never
// extends it.
const (
	AdditionalBackdrop = "Additional Backdrop"
	AdditionalPerson   = "Additional Person"
	AdditionalPortrait = "Additional Portrait"
	Extra30Minutes     = "Extra 30 Minutes"
	CostumeRental      = "Costume Rental"
	PhotoAlbum         = "Photo Album"
	SoftCopies         = "Soft Copies"
	PetFee             = "Pet Fee"
)

// CatalogItem describes one catalog entry with its reference unit price.
type CatalogItem struct {
	Name      string
	Price     float64
	AppliesTo string
}

// Catalog returns the fixed add-on catalog used to seed the addons table.
func Catalog() []CatalogItem {
	return []CatalogItem{
		{AdditionalBackdrop, 150, "all"},
		{AdditionalPerson, 200, "all"},
		{AdditionalPortrait, 100, "all"},
		{Extra30Minutes, 300, "all"},
		{CostumeRental, 80, "themed"},
		{PhotoAlbum, 500, "all"},
		{SoftCopies, 250, "all"},
		{PetFee, 150, "all"},
	}
}

// aliasTable maps spreadsheet phrases to canonical names. Entries are
// checked case-insensitively in table order and the first substring match
// wins; the order is part of the contract, so a later entry is intentionally
// unreachable once an earlier phrase matches.
var aliasTable = []struct {
	phrase    string
	canonical string
}{
	{"backdrop", AdditionalBackdrop},
	{"costume", CostumeRental},
	{"outfit", CostumeRental},
	{"pax", AdditionalPerson},
	{"person", AdditionalPerson},
	{"portrait", AdditionalPortrait},
	{"30 min", Extra30Minutes},
	{"extension", Extra30Minutes},
	{"album", PhotoAlbum},
	{"soft cop", SoftCopies},
	{"pet", PetFee},
}

// costumePriceTable maps observed costume-rental line prices to quantities.
// Costume rental is priced non-linearly, so the generic divide rule does not
// apply; unexpected prices are curated into this table over time.
var costumePriceTable = []struct {
	price int64
	qty   int
}{
	{80, 1},
	{150, 2},
	{200, 3},
}

// Normalizer resolves add-on names and quantities for one batch.
type Normalizer struct {
	costumeFallbackQty int
	log                logrus.FieldLogger
}

// New constructs a Normalizer. costumeFallbackQty is the quantity assumed
// when a costume-rental price is not in the lookup table.
func New(costumeFallbackQty int, log logrus.FieldLogger) *Normalizer {
	if costumeFallbackQty <= 0 {
		costumeFallbackQty = 3
	}
	return &Normalizer{costumeFallbackQty: costumeFallbackQty, log: log}
}

// ResolveName maps a free-text description to a canonical catalog name. The
// alias table is consulted first, then the catalog names themselves; when
// neither matches, the trimmed original text is returned so the caller can
// report the miss against the catalog.
func (n *Normalizer) ResolveName(text string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for _, a := range aliasTable {
		if strings.Contains(lower, a.phrase) {
			return a.canonical
		}
	}
	for _, item := range Catalog() {
		if strings.Contains(lower, strings.ToLower(item.Name)) {
			return item.Name
		}
	}
	return trimmed
}

// Line is one parsed add-on entry from a breakdown. PriceKnown is false when
// the pricing string ran out of numeric tokens for this position; such lines
// are rejected later rather than billed at zero.
type Line struct {
	RawName    string
	Price      decimal.Decimal
	PriceKnown bool
}

var priceTokenRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ParseBreakdown splits the free-text order breakdown into add-on lines.
// Names are "+"-separated and prices are the numeric tokens of the parallel
// pricing string; the first element of each is the base package and is
// discarded.
func ParseBreakdown(names, pricing string) []Line {
	segments := strings.Split(names, "+")
	for i := range segments {
		segments[i] = strings.TrimSpace(segments[i])
	}
	if len(segments) <= 1 {
		return nil
	}
	tokens := priceTokenRe.FindAllString(pricing, -1)
	if len(tokens) > 0 {
		tokens = tokens[1:] // base package price
	}

	var lines []Line
	for i, name := range segments[1:] {
		if name == "" {
			continue
		}
		line := Line{RawName: name}
		if i < len(tokens) {
			if p, err := decimal.NewFromString(tokens[i]); err == nil {
				line.Price = p
				line.PriceKnown = true
			}
		}
		lines = append(lines, line)
	}
	return lines
}

// Resolution is the inferred quantity and applied pricing for one add-on
// line. Total is always Quantity x UnitPrice exactly. Note carries the
// reason for any inference that did not match the catalog cleanly, so the
// caller can record it on the staging row.
type Resolution struct {
	Quantity  int
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
	Note      string
}

// InferQuantity derives the purchased quantity from the catalog unit price
// and the observed line price. The catalog price is always the applied unit
// price; the spreadsheet price only drives quantity inference and is never
// written back.
func (n *Normalizer) InferQuantity(canonicalName string, catalogPrice float64, observed decimal.Decimal) Resolution {
	if canonicalName == CostumeRental {
		return n.inferCostume(catalogPrice, observed)
	}

	catalog := decimal.NewFromFloat(catalogPrice)
	if catalog.IsZero() {
		// No reference price to divide by; take the observed price as-is.
		return resolution(1, observed, "")
	}
	if observed.Mod(catalog).IsZero() && observed.Sign() > 0 {
		qty := int(observed.Div(catalog).IntPart())
		return resolution(qty, catalog, "")
	}
	n.log.WithFields(logrus.Fields{
		"addon":         canonicalName,
		"catalog_price": catalog.String(),
		"observed":      observed.String(),
	}).Warn("add-on price does not match catalog, assuming quantity 1")
	note := fmt.Sprintf("addon %q price %s does not match catalog price %s, assumed quantity 1",
		canonicalName, observed.String(), catalog.String())
	return resolution(1, catalog, note)
}

// inferCostume selects the quantity from the explicit price table. Prices
// outside the table fall back to the configured quantity and are always
// logged so they can be curated into the table.
func (n *Normalizer) inferCostume(catalogPrice float64, observed decimal.Decimal) Resolution {
	catalog := decimal.NewFromFloat(catalogPrice)
	for _, entry := range costumePriceTable {
		if observed.Equal(decimal.NewFromInt(entry.price)) {
			return resolution(entry.qty, catalog, "")
		}
	}
	n.log.WithFields(logrus.Fields{
		"addon":        CostumeRental,
		"observed":     observed.String(),
		"fallback_qty": n.costumeFallbackQty,
	}).Warn("unexpected costume rental price, using fallback quantity")
	note := fmt.Sprintf("unexpected costume rental price %s, assumed quantity %d",
		observed.String(), n.costumeFallbackQty)
	return resolution(n.costumeFallbackQty, catalog, note)
}

func resolution(qty int, unit decimal.Decimal, note string) Resolution {
	return Resolution{
		Quantity:  qty,
		UnitPrice: unit,
		Total:     unit.Mul(decimal.NewFromInt(int64(qty))),
		Note:      note,
	}
}
