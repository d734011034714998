package addons

import (
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(3, log)
}

func TestResolveName(t *testing.T) {
	n := testNormalizer(t)

	cases := map[string]string{
		"extra backdrop (white)": AdditionalBackdrop,
		"Costume rental x2":      CostumeRental,
		"additional outfit":      CostumeRental,
		"2 pax":                  AdditionalPerson,
		"solo portrait":          AdditionalPortrait,
		"30 mins extension":      Extra30Minutes,
		"photo album upgrade":    PhotoAlbum,
		"all soft copies":        SoftCopies,
		"pet fee":                PetFee,
	}
	for in, want := range cases {
		assert.Equal(t, want, n.ResolveName(in), "input %q", in)
	}

	// Catalog names match directly even without an alias hit.
	assert.Equal(t, AdditionalBackdrop, n.ResolveName("ADDITIONAL BACKDROP"))

	// Unresolved text comes back trimmed so the caller can report it.
	assert.Equal(t, "glitter bomb", n.ResolveName("  glitter bomb  "))
}

func TestResolveNameAliasOrder(t *testing.T) {
	n := testNormalizer(t)
	// "backdrop" is checked before "person"; a description mentioning both
	// deterministically resolves to the earlier entry.
	assert.Equal(t, AdditionalBackdrop, n.ResolveName("backdrop for extra person"))
}

func TestParseBreakdown(t *testing.T) {
	lines := ParseBreakdown("Package A + Additional Backdrop + Costume Rental", "0 + 300 + 150")
	require.Len(t, lines, 2)

	assert.Equal(t, "Additional Backdrop", lines[0].RawName)
	require.True(t, lines[0].PriceKnown)
	assert.True(t, lines[0].Price.Equal(decimal.NewFromInt(300)))

	assert.Equal(t, "Costume Rental", lines[1].RawName)
	require.True(t, lines[1].PriceKnown)
	assert.True(t, lines[1].Price.Equal(decimal.NewFromInt(150)))
}

func TestParseBreakdownBaseOnly(t *testing.T) {
	assert.Nil(t, ParseBreakdown("Package A", "1500"))
	assert.Nil(t, ParseBreakdown("", ""))
}

func TestParseBreakdownMissingTrailingPrice(t *testing.T) {
	// The pricing string ran out of tokens; the line must carry an unknown
	// price, never a zero.
	lines := ParseBreakdown("Package A + Backdrop + Album", "0 + 150")
	require.Len(t, lines, 2)
	assert.True(t, lines[0].PriceKnown)
	assert.False(t, lines[1].PriceKnown)
}

func TestInferQuantityExactMultiple(t *testing.T) {
	n := testNormalizer(t)
	res := n.InferQuantity(AdditionalBackdrop, 150, decimal.NewFromInt(300))
	assert.Equal(t, 2, res.Quantity)
	assert.True(t, res.UnitPrice.Equal(decimal.NewFromInt(150)))
	assert.True(t, res.Total.Equal(decimal.NewFromInt(300)))
	assert.Empty(t, res.Note)
}

func TestInferQuantityZeroCatalogPrice(t *testing.T) {
	n := testNormalizer(t)
	res := n.InferQuantity("Mystery Addon", 0, decimal.NewFromInt(275))
	assert.Equal(t, 1, res.Quantity)
	assert.True(t, res.UnitPrice.Equal(decimal.NewFromInt(275)))
	assert.True(t, res.Total.Equal(decimal.NewFromInt(275)))
}

func TestInferQuantityMismatch(t *testing.T) {
	n := testNormalizer(t)
	res := n.InferQuantity(AdditionalBackdrop, 150, decimal.NewFromInt(170))
	assert.Equal(t, 1, res.Quantity)
	// The discrepancy is recorded, never silently corrected.
	assert.True(t, res.UnitPrice.Equal(decimal.NewFromInt(150)))
	assert.NotEmpty(t, res.Note)
}

func TestInferQuantityCostumeTable(t *testing.T) {
	n := testNormalizer(t)

	// 150 is not an integer multiple of 80; the nonlinear table applies.
	res := n.InferQuantity(CostumeRental, 80, decimal.NewFromInt(150))
	assert.Equal(t, 2, res.Quantity)
	assert.True(t, res.UnitPrice.Equal(decimal.NewFromInt(80)))
	assert.Empty(t, res.Note)

	res = n.InferQuantity(CostumeRental, 80, decimal.NewFromInt(80))
	assert.Equal(t, 1, res.Quantity)
}

func TestInferQuantityCostumeFallback(t *testing.T) {
	n := testNormalizer(t)
	res := n.InferQuantity(CostumeRental, 80, decimal.NewFromInt(999))
	assert.Equal(t, 3, res.Quantity)
	assert.True(t, res.UnitPrice.Equal(decimal.NewFromInt(80)))
	assert.NotEmpty(t, res.Note, "fallback must always be surfaced")
}

func TestResolutionInvariant(t *testing.T) {
	n := testNormalizer(t)
	for _, observed := range []int64{80, 150, 160, 170, 300, 999} {
		res := n.InferQuantity(CostumeRental, 80, decimal.NewFromInt(observed))
		want := res.UnitPrice.Mul(decimal.NewFromInt(int64(res.Quantity)))
		assert.True(t, res.Total.Equal(want), "observed %d", observed)
	}
}
