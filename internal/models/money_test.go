package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAmount(t *testing.T) {
	t.Run("two decimal places", func(t *testing.T) {
		cents, err := ParseAmount("250.00")
		assert.NoError(t, err)
		assert.Equal(t, int64(25000), cents)
	})

	t.Run("one decimal place", func(t *testing.T) {
		cents, err := ParseAmount("10.5")
		assert.NoError(t, err)
		assert.Equal(t, int64(1050), cents)
	})

	t.Run("no decimal point", func(t *testing.T) {
		cents, err := ParseAmount("600")
		assert.NoError(t, err)
		assert.Equal(t, int64(60000), cents)
	})

	t.Run("leading dot", func(t *testing.T) {
		cents, err := ParseAmount(".75")
		assert.NoError(t, err)
		assert.Equal(t, int64(75), cents)
	})

	t.Run("negative", func(t *testing.T) {
		cents, err := ParseAmount("-3.25")
		assert.NoError(t, err)
		assert.Equal(t, int64(-325), cents)
	})

	t.Run("too many decimal places rejected", func(t *testing.T) {
		_, err := ParseAmount("1.999")
		assert.Error(t, err)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		_, err := ParseAmount("ten dollars")
		assert.Error(t, err)
	})

	t.Run("overflow rejected instead of wrapping", func(t *testing.T) {
		// units*100 wraps int64 here; a silent wrap would turn this into
		// a small positive amount.
		_, err := ParseAmount("184467440737095517.00")
		assert.Error(t, err)

		_, err = ParseAmount("92233720368547758.08")
		assert.Error(t, err)

		// Largest representable amount still parses.
		cents, err := ParseAmount("92233720368547758.07")
		assert.NoError(t, err)
		assert.Equal(t, int64(9223372036854775807), cents)
	})

	t.Run("double sign rejected", func(t *testing.T) {
		_, err := ParseAmount("--5.00")
		assert.Error(t, err)

		_, err = ParseAmount("-+5.00")
		assert.Error(t, err)

		_, err = ParseAmount("1.-5")
		assert.Error(t, err)
	})

	t.Run("empty rejected", func(t *testing.T) {
		_, err := ParseAmount("")
		assert.Error(t, err)
	})
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "750.00", FormatAmount(75000))
	assert.Equal(t, "0.05", FormatAmount(5))
	assert.Equal(t, "-3.25", FormatAmount(-325))
}

func TestAmountToFloat(t *testing.T) {
	assert.Equal(t, 1250.0, AmountToFloat(125000))
}
