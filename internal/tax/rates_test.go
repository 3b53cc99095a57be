package tax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRates(t *testing.T) {
	rates := DefaultRates()
	vat, err := rates.For(CategoryVAT)
	require.NoError(t, err)
	assert.Equal(t, "14.00", vat.StringFixed(2))

	wht, err := rates.For(CategoryWithholding)
	require.NoError(t, err)
	assert.Equal(t, "5.00", wht.StringFixed(2))

	require.NoError(t, rates.Validate())
}

func TestRatesForUnknownCategory(t *testing.T) {
	_, err := DefaultRates().For(Category("excise"))
	require.ErrorIs(t, err, ErrUnknownCategory)
}

func TestRatesValidate(t *testing.T) {
	rates := Rates{VAT: d("101"), Withholding: d("5")}
	require.ErrorIs(t, rates.Validate(), ErrInvalidRate)

	rates = Rates{VAT: d("14"), Withholding: d("-1")}
	require.ErrorIs(t, rates.Validate(), ErrInvalidRate)

	rates = Rates{VAT: d("14.125"), Withholding: d("5")}
	require.ErrorIs(t, rates.Validate(), ErrInvalidRate)

	rates = Rates{VAT: d("14.25"), Withholding: d("0.5")}
	require.NoError(t, rates.Validate())
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" VAT ")
	require.NoError(t, err)
	assert.Equal(t, CategoryVAT, c)

	c, err = ParseCategory("withholding")
	require.NoError(t, err)
	assert.Equal(t, CategoryWithholding, c)
	assert.True(t, c.Valid())

	_, err = ParseCategory("sales")
	require.ErrorIs(t, err, ErrUnknownCategory)
	assert.False(t, Category("sales").Valid())
}
