package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketList is a named grouping of instruments (an exchange segment or index).
// Names are stable human keys; ids are the opaque handles everything else is
// keyed off.
type MarketList struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"marketList"`
}

// Instrument is a tradable security identified by a unique symbol.
type Instrument struct {
	ID          uuid.UUID   `json:"id"`
	Symbol      string      `json:"symbol"`
	Name        string      `json:"instrument"`
	Industry    string      `json:"industry,omitempty"`
	MarketLists []uuid.UUID `json:"marketListIds,omitempty"`
}

// RawInstrument is one record as extracted from a listing page, before
// normalization. Discarded after submission.
type RawInstrument struct {
	Name     string
	Symbol   string
	Industry string
}

// InstrumentRecord is a normalized instrument submission.
type InstrumentRecord struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"instrument"`
	Industry string `json:"industry,omitempty"`
}

// Validate reports whether the record carries the required fields.
func (r InstrumentRecord) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("instrument record missing symbol")
	}
	if r.Name == "" {
		return fmt.Errorf("instrument record [%s] missing name", r.Symbol)
	}
	return nil
}

// PriceBar is one OHLCV bucket of a price series. Fields are pointers so that
// an absent field can be told apart from a legitimate zero value.
type PriceBar struct {
	Open   *float64   `json:"open"`
	High   *float64   `json:"high"`
	Low    *float64   `json:"low"`
	Close  *float64   `json:"close"`
	Volume *int64     `json:"volume"`
	Date   *time.Time `json:"date"`
}

// Validate checks field presence, not truthiness: a zero volume is valid,
// a missing one is not.
func (b PriceBar) Validate() error {
	switch {
	case b.Open == nil:
		return fmt.Errorf("price bar missing open")
	case b.High == nil:
		return fmt.Errorf("price bar missing high")
	case b.Low == nil:
		return fmt.Errorf("price bar missing low")
	case b.Close == nil:
		return fmt.Errorf("price bar missing close")
	case b.Volume == nil:
		return fmt.Errorf("price bar missing volume")
	case b.Date == nil:
		return fmt.Errorf("price bar missing date")
	}
	return nil
}

// Quote is a single ad-hoc price observation from a quote page.
type Quote struct {
	Symbol   string          `json:"symbol"`
	Price    decimal.Decimal `json:"price"`
	DateTime time.Time       `json:"date_time"`
}

// Validate reports whether the quote carries the required fields.
func (q Quote) Validate() error {
	if q.Symbol == "" {
		return fmt.Errorf("quote missing symbol")
	}
	if q.DateTime.IsZero() {
		return fmt.Errorf("quote [%s] missing date_time", q.Symbol)
	}
	return nil
}

// InstrumentsAck is the catalogue writer's batch response. Per-record failures
// are surfaced as a count plus the offending symbols rather than failing the
// whole batch.
type InstrumentsAck struct {
	Acknowledged bool     `json:"acknowledged"`
	Upserted     int      `json:"upserted"`
	Failed       []string `json:"failed,omitempty"`
}

// PriceInsertReport is the price writer's response. Duplicate timestamps are
// not errors: they land in PrevExistingDates so callers can reconcile without
// re-deriving the dedup logic.
type PriceInsertReport struct {
	Inserted          int         `json:"inserted"`
	PrevExistingDates []time.Time `json:"prevExistingDates"`
	IncorrectData     []PriceBar  `json:"incorrectData"`
}

// PriceRow is one stored OHLCV row on the read side.
type PriceRow struct {
	Symbol string    `json:"symbol"`
	Open   float64   `json:"Open"`
	High   float64   `json:"High"`
	Low    float64   `json:"Low"`
	Close  float64   `json:"Close"`
	Volume int64     `json:"Volume"`
	Date   time.Time `json:"Date"`
}

// RunReport summarizes one pipeline run for operators watching for source
// drift or format changes.
type RunReport struct {
	RunID        uuid.UUID `json:"run_id"`
	Pipeline     string    `json:"pipeline"`
	MarketList   string    `json:"market_list"`
	MarketListID uuid.UUID `json:"market_list_id"`
	URLs         int       `json:"urls"`
	Scraped      int       `json:"scraped"`
	Submitted    int       `json:"submitted"`
	Dropped      int       `json:"dropped"`
	Malformed    int       `json:"malformed"`
	Errors       []string  `json:"errors,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Envelope is the canonical wrapper for events published to the bus.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}
