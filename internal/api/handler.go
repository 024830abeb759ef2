package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vasaquant/securities-ingest/internal/metrics"
	"github.com/vasaquant/securities-ingest/internal/store"
)

// Handler serves the catalogue and price-store API.
type Handler struct {
	logger *zap.Logger
	store  store.Store
}

// NewHandler creates a new Handler.
func NewHandler(logger *zap.Logger, st store.Store) *Handler {
	return &Handler{
		logger: logger,
		store:  st,
	}
}

func count(endpoint string, code int) {
	metrics.IngestRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

// ResolveMarketListHandler returns the id for a market-list name, creating
// the list on first reference. Calling it twice with the same name yields
// the same id.
func (h *Handler) ResolveMarketListHandler(c *fiber.Ctx) error {
	var req MarketListCreateRequest
	if err := c.BodyParser(&req); err != nil {
		count("market_list_resolve", fiber.StatusBadRequest)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := req.Validate(); err != nil {
		count("market_list_resolve", fiber.StatusBadRequest)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	id, err := h.store.ResolveMarketList(c.Context(), req.MarketList)
	if err != nil {
		h.logger.Error("api.market_list_resolve.failed",
			zap.String("market_list", req.MarketList),
			zap.Error(err))
		count("market_list_resolve", fiber.StatusInternalServerError)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	count("market_list_resolve", fiber.StatusOK)
	return c.Status(fiber.StatusOK).JSON(MarketListResponse{Success: true, ID: id})
}

// GetMarketListIDHandler looks up an existing market list by name.
func (h *Handler) GetMarketListIDHandler(c *fiber.Ctx) error {
	name := c.Query("name")
	if name == "" {
		count("market_list_get", fiber.StatusBadRequest)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name query parameter is required"})
	}

	id, err := h.store.GetMarketListID(c.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		count("market_list_get", fiber.StatusNotFound)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		h.logger.Error("api.market_list_get.failed", zap.String("market_list", name), zap.Error(err))
		count("market_list_get", fiber.StatusInternalServerError)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	count("market_list_get", fiber.StatusOK)
	return c.Status(fiber.StatusOK).JSON(MarketListResponse{Success: true, ID: id})
}

// ListMarketListsHandler returns every known market list.
func (h *Handler) ListMarketListsHandler(c *fiber.Ctx) error {
	lists, err := h.store.ListMarketLists(c.Context())
	if err != nil {
		h.logger.Error("api.market_lists.failed", zap.Error(err))
		count("market_lists", fiber.StatusInternalServerError)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	count("market_lists", fiber.StatusOK)
	return c.Status(fiber.StatusOK).JSON(MarketListsResponse{Success: true, MarketLists: lists})
}

// UpsertInstrumentsHandler merges an instrument batch into the catalogue.
// The batch is acknowledged even when individual records fail; the failed
// symbols are listed in the response.
func (h *Handler) UpsertInstrumentsHandler(c *fiber.Ctx) error {
	var req InstrumentsUpsertRequest
	if err := c.BodyParser(&req); err != nil {
		count("instruments_upsert", fiber.StatusBadRequest)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := req.Validate(); err != nil {
		count("instruments_upsert", fiber.StatusBadRequest)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	ack, err := h.store.UpsertInstruments(c.Context(), req.MarketListID, req.Instruments)
	if err != nil {
		h.logger.Error("api.instruments_upsert.failed",
			zap.String("market_list_id", req.MarketListID.String()),
			zap.Error(err))
		count("instruments_upsert", fiber.StatusInternalServerError)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	h.logger.Info("api.instruments_upsert",
		zap.String("market_list_id", req.MarketListID.String()),
		zap.Int("received", len(req.Instruments)),
		zap.Int("upserted", ack.Upserted),
		zap.Int("failed", len(ack.Failed)))

	count("instruments_upsert", fiber.StatusOK)
	return c.Status(fiber.StatusOK).JSON(InstrumentsUpsertResponse{Success: true, InstrumentsAck: ack})
}

// GetMarketListInstrumentsHandler returns the members of a market list.
func (h *Handler) GetMarketListInstrumentsHandler(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		count("instruments_get", fiber.StatusBadRequest)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid market list id"})
	}

	instruments, err := h.store.GetMarketListInstruments(c.Context(), id)
	if err != nil {
		h.logger.Error("api.instruments_get.failed", zap.String("market_list_id", id.String()), zap.Error(err))
		count("instruments_get", fiber.StatusInternalServerError)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	count("instruments_get", fiber.StatusOK)
	return c.Status(fiber.StatusOK).JSON(InstrumentsResponse{Success: true, Instruments: instruments})
}

// GetInstrumentSymbolsHandler returns just the symbols of a market list.
func (h *Handler) GetInstrumentSymbolsHandler(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		count("instrument_symbols", fiber.StatusBadRequest)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid market list id"})
	}

	instruments, err := h.store.GetInstrumentSymbols(c.Context(), id)
	if err != nil {
		h.logger.Error("api.instrument_symbols.failed", zap.String("market_list_id", id.String()), zap.Error(err))
		count("instrument_symbols", fiber.StatusInternalServerError)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	count("instrument_symbols", fiber.StatusOK)
	return c.Status(fiber.StatusOK).JSON(InstrumentsResponse{Success: true, Instruments: instruments})
}

// GetSectorsHandler returns the distinct industries seen in the catalogue.
func (h *Handler) GetSectorsHandler(c *fiber.Ctx) error {
	sectors, err := h.store.GetSectors(c.Context())
	if err != nil {
		h.logger.Error("api.sectors.failed", zap.Error(err))
		count("sectors", fiber.StatusInternalServerError)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	count("sectors", fiber.StatusOK)
	return c.Status(fiber.StatusOK).JSON(SectorsResponse{Success: true, Sectors: sectors})
}

// GetSectorInstrumentsHandler returns every instrument in one industry.
func (h *Handler) GetSectorInstrumentsHandler(c *fiber.Ctx) error {
	sector := c.Query("name")
	if sector == "" {
		count("sector_instruments", fiber.StatusBadRequest)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name query parameter is required"})
	}

	instruments, err := h.store.GetSectorInstruments(c.Context(), sector)
	if err != nil {
		h.logger.Error("api.sector_instruments.failed", zap.String("sector", sector), zap.Error(err))
		count("sector_instruments", fiber.StatusInternalServerError)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	count("sector_instruments", fiber.StatusOK)
	return c.Status(fiber.StatusOK).JSON(InstrumentsResponse{Success: true, Instruments: instruments})
}

// InsertPriceDataHandler writes OHLCV bars for one instrument. Bars whose
// (instrument, timestamp) pair already exists are reported back rather than
// duplicated, and malformed bars are returned untouched.
func (h *Handler) InsertPriceDataHandler(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		count("price_data_insert", fiber.StatusBadRequest)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid instrument id"})
	}

	var req PriceDataRequest
	if err := c.BodyParser(&req); err != nil {
		count("price_data_insert", fiber.StatusBadRequest)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := req.Validate(); err != nil {
		count("price_data_insert", fiber.StatusBadRequest)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	report, err := h.store.InsertPriceBars(c.Context(), id, req.Data)
	if err != nil {
		h.logger.Error("api.price_data_insert.failed",
			zap.String("instrument_id", id.String()),
			zap.Error(err))
		count("price_data_insert", fiber.StatusInternalServerError)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	h.logger.Info("api.price_data_insert",
		zap.String("instrument_id", id.String()),
		zap.Int("received", len(req.Data)),
		zap.Int("inserted", report.Inserted),
		zap.Int("duplicates", len(report.PrevExistingDates)),
		zap.Int("invalid", len(report.IncorrectData)))

	count("price_data_insert", fiber.StatusOK)
	return c.Status(fiber.StatusOK).JSON(PriceDataResponse{
		Success:           true,
		Result:            fmt.Sprintf("Inserted %d rows", report.Inserted),
		PriceInsertReport: report,
	})
}

// GetPriceDataHandler returns stored bars for a symbol, optionally bounded
// by start/end query parameters (RFC 3339 or YYYY-MM-DD).
func (h *Handler) GetPriceDataHandler(c *fiber.Ctx) error {
	symbol := c.Params("symbol")

	start, err := parseDateParam(c.Query("start"), time.Time{})
	if err != nil {
		count("price_data_get", fiber.StatusBadRequest)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid start: " + err.Error()})
	}
	end, err := parseDateParam(c.Query("end"), time.Now().UTC())
	if err != nil {
		count("price_data_get", fiber.StatusBadRequest)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid end: " + err.Error()})
	}

	rows, err := h.store.GetPriceData(c.Context(), symbol, start, end)
	if err != nil {
		h.logger.Error("api.price_data_get.failed", zap.String("symbol", symbol), zap.Error(err))
		count("price_data_get", fiber.StatusInternalServerError)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	count("price_data_get", fiber.StatusOK)
	return c.Status(fiber.StatusOK).JSON(PriceRowsResponse{Success: true, Data: rows})
}

// GetFirstDateHandler returns the earliest stored bar date for a symbol.
func (h *Handler) GetFirstDateHandler(c *fiber.Ctx) error {
	return h.boundaryDateHandler(c, "first_date", h.store.GetFirstAvailableDate)
}

// GetLastDateHandler returns the latest stored bar date for a symbol.
func (h *Handler) GetLastDateHandler(c *fiber.Ctx) error {
	return h.boundaryDateHandler(c, "last_date", h.store.GetLastAvailableDate)
}

func (h *Handler) boundaryDateHandler(c *fiber.Ctx, endpoint string,
	fn func(ctx context.Context, symbol string) (time.Time, error)) error {
	symbol := c.Params("symbol")

	dt, err := fn(c.Context(), symbol)
	if errors.Is(err, store.ErrNotFound) {
		count(endpoint, fiber.StatusNotFound)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		h.logger.Error("api.boundary_date.failed", zap.String("symbol", symbol), zap.Error(err))
		count(endpoint, fiber.StatusInternalServerError)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	count(endpoint, fiber.StatusOK)
	return c.Status(fiber.StatusOK).JSON(DateResponse{Success: true, Date: dt.Format(time.RFC3339)})
}

// InsertQuoteHandler stores a single scraped quote.
func (h *Handler) InsertQuoteHandler(c *fiber.Ctx) error {
	var req QuoteRequest
	if err := c.BodyParser(&req); err != nil {
		count("quote_insert", fiber.StatusBadRequest)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := req.Validate(); err != nil {
		count("quote_insert", fiber.StatusBadRequest)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	inserted, err := h.store.InsertQuote(c.Context(), req.Data)
	if err != nil {
		h.logger.Error("api.quote_insert.failed",
			zap.String("symbol", req.Data.Symbol),
			zap.Error(err))
		count("quote_insert", fiber.StatusInternalServerError)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	count("quote_insert", fiber.StatusOK)
	return c.Status(fiber.StatusOK).JSON(QuoteResponse{Success: true, Inserted: inserted})
}

func parseDateParam(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
