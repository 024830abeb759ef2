package api

import (
	"errors"

	"github.com/google/uuid"

	"github.com/vasaquant/securities-ingest/pkg/model"
)

// MarketListCreateRequest is the payload to resolve or create a market list.
type MarketListCreateRequest struct {
	MarketList string `json:"marketList" example:"omxs30"`
}

func (r MarketListCreateRequest) Validate() error {
	if r.MarketList == "" {
		return errors.New("marketList is required")
	}
	return nil
}

// InstrumentsUpsertRequest is a batch of instrument records destined for one
// market list.
type InstrumentsUpsertRequest struct {
	MarketListID uuid.UUID                `json:"marketListId"`
	Instruments  []model.InstrumentRecord `json:"instrumentDataObjects"`
}

func (r InstrumentsUpsertRequest) Validate() error {
	if r.MarketListID == uuid.Nil {
		return errors.New("marketListId is required")
	}
	if len(r.Instruments) == 0 {
		return errors.New("instrumentDataObjects must not be empty")
	}
	return nil
}

// PriceDataRequest carries OHLCV bars for one instrument.
type PriceDataRequest struct {
	Data []model.PriceBar `json:"data"`
}

func (r PriceDataRequest) Validate() error {
	if len(r.Data) == 0 {
		return errors.New("data must not be empty")
	}
	return nil
}

// QuoteRequest carries a single scraped quote observation.
type QuoteRequest struct {
	Data model.Quote `json:"data"`
}

func (r QuoteRequest) Validate() error {
	return r.Data.Validate()
}
