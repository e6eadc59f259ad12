package contracts

import (
	"encoding/json"
	"time"
)

// StockRecord is one ranked stock as returned by the backend.
// Pointer fields are nil when the backend has no value; zero is a real value.
type StockRecord struct {
	Symbol          string   `json:"symbol"`
	Name            *string  `json:"name,omitempty"`
	Sector          *string  `json:"sector,omitempty"`
	Rank            *int     `json:"rank,omitempty"`
	EarningsYield   *float64 `json:"earnings_yield,omitempty"`
	ReturnOnCapital *float64 `json:"return_on_capital,omitempty"`
	CombinedRank    *float64 `json:"combined_rank,omitempty"`
	MarketCap       *float64 `json:"market_cap,omitempty"`
	EnterpriseValue *float64 `json:"enterprise_value,omitempty"`
	EBIT            *float64 `json:"ebit,omitempty"`
}

// UnmarshalJSON accepts both field spellings the backend has used:
// company_name for name and magic_formula_score for combined_rank.
func (s *StockRecord) UnmarshalJSON(data []byte) error {
	type plain StockRecord
	var wire struct {
		plain
		CompanyName       *string  `json:"company_name"`
		MagicFormulaScore *float64 `json:"magic_formula_score"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	rec := StockRecord(wire.plain)
	if rec.Name == nil {
		rec.Name = wire.CompanyName
	}
	if rec.CombinedRank == nil {
		rec.CombinedRank = wire.MagicFormulaScore
	}
	*s = rec
	return nil
}

// DisplayName returns the company name, or the symbol when no name is known
func (s StockRecord) DisplayName() string {
	if s.Name != nil && *s.Name != "" {
		return *s.Name
	}
	return s.Symbol
}

// FetchResult is one successful listing response.
// It is replaced wholesale on every successful fetch and never mutated.
type FetchResult struct {
	Query     Query         `json:"query"`
	Stocks    []StockRecord `json:"stocks"`
	Cached    bool          `json:"cached"`
	FetchedAt time.Time     `json:"fetched_at"`
}

// Len returns the number of stocks, tolerating a nil result
func (r *FetchResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Stocks)
}
