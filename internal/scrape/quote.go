package scrape

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vasaquant/securities-ingest/internal/normalize"
	"github.com/vasaquant/securities-ingest/internal/page"
	"github.com/vasaquant/securities-ingest/pkg/model"
)

// QuoteJob describes one ad-hoc quote page: where the symbol and the current
// price live on the page.
type QuoteJob struct {
	URL            string
	SymbolSelector string
	PriceSelector  string
}

// QuoteSubmitter submits single quote observations to the ingestion service.
type QuoteSubmitter interface {
	SubmitQuote(ctx context.Context, quote model.Quote) error
}

// QuoteScraper reads a single price observation from a quote page. The
// observation timestamp is the scrape time truncated to the minute, since
// quote pages expose no timestamp of their own.
type QuoteScraper struct {
	logger      *zap.Logger
	browser     page.Browser
	client      QuoteSubmitter
	stepTimeout time.Duration
}

func NewQuoteScraper(logger *zap.Logger, browser page.Browser, client QuoteSubmitter, stepTimeout time.Duration) *QuoteScraper {
	if stepTimeout <= 0 {
		stepTimeout = 2 * time.Minute
	}
	return &QuoteScraper{
		logger:      logger,
		browser:     browser,
		client:      client,
		stepTimeout: stepTimeout,
	}
}

func (s *QuoteScraper) Scrape(ctx context.Context, job QuoteJob) error {
	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	pg, err := s.browser.Open(stepCtx, job.URL)
	if err != nil {
		return fmt.Errorf("open quote page: %w", err)
	}
	defer pg.Close() //nolint:errcheck

	symbolTxt, err := pg.Text(stepCtx, job.SymbolSelector)
	if err != nil {
		return fmt.Errorf("read symbol: %w", err)
	}
	priceTxt, err := pg.Text(stepCtx, job.PriceSelector)
	if err != nil {
		return fmt.Errorf("read price: %w", err)
	}

	price, err := normalize.Price(priceTxt)
	if err != nil {
		return fmt.Errorf("quote price %q: %w", priceTxt, err)
	}

	quote := model.Quote{
		Symbol:   normalize.Symbol(symbolTxt),
		Price:    price,
		DateTime: time.Now().UTC().Truncate(time.Minute),
	}
	if err := quote.Validate(); err != nil {
		return err
	}

	if err := s.client.SubmitQuote(stepCtx, quote); err != nil {
		return fmt.Errorf("submit quote: %w", err)
	}

	s.logger.Info("scrape.quote_submitted",
		zap.String("symbol", quote.Symbol),
		zap.String("price", quote.Price.String()))
	return nil
}
