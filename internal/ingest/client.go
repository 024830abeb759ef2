// Package ingest is the HTTP boundary between the scraper and the
// catalogue/price ingestion service.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vasaquant/securities-ingest/internal/httpclient"
	"github.com/vasaquant/securities-ingest/pkg/model"
)

// Client submits normalized batches to the ingestion service. All calls go
// through the retrying executor: bounded timeout, bounded retries with
// backoff, no retry on 4xx.
type Client struct {
	logger  *zap.Logger
	baseURL string
	exec    *httpclient.Executor
}

// NewClient constructs an ingestion client for the given service base URL.
func NewClient(logger *zap.Logger, baseURL string, timeout time.Duration, retryMax int) *Client {
	httpClient := &http.Client{Timeout: timeout}
	return &Client{
		logger:  logger,
		baseURL: baseURL,
		exec:    httpclient.New(logger, nil, httpClient, retryMax, "ingest"),
	}
}

type marketListRequest struct {
	MarketList string `json:"marketList"`
}

type marketListResponse struct {
	Success bool      `json:"success"`
	ID      uuid.UUID `json:"id"`
}

type instrumentsRequest struct {
	MarketListID uuid.UUID                `json:"marketListId"`
	Instruments  []model.InstrumentRecord `json:"instrumentDataObjects"`
}

type instrumentsResponse struct {
	Success bool `json:"success"`
	model.InstrumentsAck
}

type priceDataRequest struct {
	Data []model.PriceBar `json:"data"`
}

type priceDataResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
	model.PriceInsertReport
}

type quoteRequest struct {
	Data model.Quote `json:"data"`
}

// ResolveMarketList returns the id for a market-list name, creating the list
// on first reference. Safe to call repeatedly: the service side is an
// idempotent get-or-create.
func (c *Client) ResolveMarketList(ctx context.Context, name string) (uuid.UUID, error) {
	var resp marketListResponse
	if err := c.postJSON(ctx, "/api/v1/market-list", marketListRequest{MarketList: name}, &resp); err != nil {
		return uuid.Nil, fmt.Errorf("resolve market list [%s]: %w", name, err)
	}
	if resp.ID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("resolve market list [%s]: empty id in response", name)
	}
	return resp.ID, nil
}

// GetMarketListID looks up an existing market list without creating it.
func (c *Client) GetMarketListID(ctx context.Context, name string) (uuid.UUID, error) {
	var resp marketListResponse
	path := "/api/v1/market-list?name=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return uuid.Nil, err
	}
	req.Header.Set("Accept", "application/json")
	if err := c.exec.DoJSON(ctx, req, "ingest_api", &resp); err != nil {
		return uuid.Nil, fmt.Errorf("get market list id [%s]: %w", name, err)
	}
	return resp.ID, nil
}

// SubmitInstruments submits one normalized batch for the given market list.
func (c *Client) SubmitInstruments(ctx context.Context, marketListID uuid.UUID, records []model.InstrumentRecord) (model.InstrumentsAck, error) {
	var resp instrumentsResponse
	body := instrumentsRequest{MarketListID: marketListID, Instruments: records}
	if err := c.postJSON(ctx, "/api/v1/instruments", body, &resp); err != nil {
		return model.InstrumentsAck{}, fmt.Errorf("submit instruments: %w", err)
	}
	return resp.InstrumentsAck, nil
}

// SubmitPriceBars submits OHLCV bars for one instrument and returns the
// writer's reconciliation report.
func (c *Client) SubmitPriceBars(ctx context.Context, instrumentID uuid.UUID, bars []model.PriceBar) (model.PriceInsertReport, error) {
	var resp priceDataResponse
	path := "/api/v1/price-data/" + instrumentID.String()
	if err := c.postJSON(ctx, path, priceDataRequest{Data: bars}, &resp); err != nil {
		return model.PriceInsertReport{}, fmt.Errorf("submit price bars: %w", err)
	}
	return resp.PriceInsertReport, nil
}

// SubmitQuote submits a single ad-hoc quote observation.
func (c *Client) SubmitQuote(ctx context.Context, quote model.Quote) error {
	if err := c.postJSON(ctx, "/api/v1/price", quoteRequest{Data: quote}, nil); err != nil {
		return fmt.Errorf("submit quote [%s]: %w", quote.Symbol, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.exec.DoJSON(ctx, req, "ingest_api", out)
}
