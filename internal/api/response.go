package api

import (
	"github.com/google/uuid"

	"github.com/vasaquant/securities-ingest/pkg/model"
)

// MarketListResponse acknowledges a market-list resolution.
type MarketListResponse struct {
	Success bool      `json:"success"`
	ID      uuid.UUID `json:"id"`
}

// MarketListsResponse lists every known market list.
type MarketListsResponse struct {
	Success     bool               `json:"success"`
	MarketLists []model.MarketList `json:"marketLists"`
}

// InstrumentsUpsertResponse reports the outcome of a catalogue batch.
type InstrumentsUpsertResponse struct {
	Success bool `json:"success"`
	model.InstrumentsAck
}

// InstrumentsResponse returns catalogue rows.
type InstrumentsResponse struct {
	Success     bool               `json:"success"`
	Instruments []model.Instrument `json:"instruments"`
}

// SectorsResponse returns the distinct industries in the catalogue.
type SectorsResponse struct {
	Success bool     `json:"success"`
	Sectors []string `json:"sectors"`
}

// PriceDataResponse reports how a bar batch was partitioned.
type PriceDataResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
	model.PriceInsertReport
}

// PriceRowsResponse returns stored OHLCV rows for one symbol.
type PriceRowsResponse struct {
	Success bool             `json:"success"`
	Data    []model.PriceRow `json:"data"`
}

// DateResponse returns a single boundary date.
type DateResponse struct {
	Success bool   `json:"success"`
	Date    string `json:"date"`
}

// QuoteResponse acknowledges a stored quote.
type QuoteResponse struct {
	Success  bool `json:"success"`
	Inserted bool `json:"inserted"`
}
