package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wonny/magicformula/internal/contracts"
	"github.com/wonny/magicformula/internal/paginate"
)

func ptr[T any](v T) *T { return &v }

func TestFormatters(t *testing.T) {
	assert.Equal(t, "N/A", formatPercent(nil))
	assert.Equal(t, "12.35%", formatPercent(ptr(0.12345)))
	assert.Equal(t, "0.00%", formatPercent(ptr(0.0)))

	assert.Equal(t, "N/A", formatMoney(nil))
	assert.Equal(t, "$2.50B", formatMoney(ptr(2.5e9)))
	assert.Equal(t, "$0.00B", formatMoney(ptr(0.0)))

	assert.Equal(t, "N/A", formatScore(nil))
	assert.Equal(t, "3.00", formatScore(ptr(3.0)))
}

func TestRenderStocks(t *testing.T) {
	stocks := []contracts.StockRecord{
		{Symbol: "AAPL", Name: ptr("Apple Inc."), EarningsYield: ptr(0.05), MarketCap: ptr(3e12)},
		{Symbol: "XYZ"},
	}
	window := paginate.Paginate(14, 12, 2)

	var buf bytes.Buffer
	renderStocks(&buf, stocks, window)
	out := buf.String()

	assert.Contains(t, out, "AAPL")
	assert.Contains(t, out, "Apple Inc.")
	assert.Contains(t, out, "5.00%")
	assert.Contains(t, out, "$3000.00B")
	assert.Contains(t, out, "N/A")
	// second page starts numbering at 13
	assert.Contains(t, out, "13")
	assert.Contains(t, out, "14")
}
