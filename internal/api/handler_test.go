package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vasaquant/securities-ingest/internal/store"
	"github.com/vasaquant/securities-ingest/pkg/model"
)

// --- In-memory Store ---

type memStore struct {
	lists       map[string]uuid.UUID
	instruments map[string]model.Instrument
	memberships map[string]map[uuid.UUID]bool
	bars        map[uuid.UUID]map[time.Time]model.PriceBar
	quotes      map[string]map[time.Time]model.Quote
	failErr     error
}

func newMemStore() *memStore {
	return &memStore{
		lists:       map[string]uuid.UUID{},
		instruments: map[string]model.Instrument{},
		memberships: map[string]map[uuid.UUID]bool{},
		bars:        map[uuid.UUID]map[time.Time]model.PriceBar{},
		quotes:      map[string]map[time.Time]model.Quote{},
	}
}

func (m *memStore) ResolveMarketList(_ context.Context, name string) (uuid.UUID, error) {
	if m.failErr != nil {
		return uuid.Nil, m.failErr
	}
	if id, ok := m.lists[name]; ok {
		return id, nil
	}
	id := uuid.New()
	m.lists[name] = id
	return id, nil
}

func (m *memStore) GetMarketListID(_ context.Context, name string) (uuid.UUID, error) {
	if id, ok := m.lists[name]; ok {
		return id, nil
	}
	return uuid.Nil, fmt.Errorf("market list [%s]: %w", name, store.ErrNotFound)
}

func (m *memStore) ListMarketLists(_ context.Context) ([]model.MarketList, error) {
	var lists []model.MarketList
	for name, id := range m.lists {
		lists = append(lists, model.MarketList{ID: id, Name: name})
	}
	return lists, nil
}

func (m *memStore) UpsertInstruments(_ context.Context, marketListID uuid.UUID, records []model.InstrumentRecord) (model.InstrumentsAck, error) {
	ack := model.InstrumentsAck{Acknowledged: true}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			ack.Failed = append(ack.Failed, rec.Symbol)
			continue
		}
		ins, ok := m.instruments[rec.Symbol]
		if !ok {
			ins = model.Instrument{ID: uuid.New(), Symbol: rec.Symbol}
		}
		ins.Name = rec.Name
		if rec.Industry != "" {
			ins.Industry = rec.Industry
		}
		m.instruments[rec.Symbol] = ins
		if m.memberships[rec.Symbol] == nil {
			m.memberships[rec.Symbol] = map[uuid.UUID]bool{}
		}
		m.memberships[rec.Symbol][marketListID] = true
		ack.Upserted++
	}
	return ack, nil
}

func (m *memStore) GetMarketListInstruments(_ context.Context, marketListID uuid.UUID) ([]model.Instrument, error) {
	var out []model.Instrument
	for sym, ins := range m.instruments {
		if m.memberships[sym][marketListID] {
			out = append(out, ins)
		}
	}
	return out, nil
}

func (m *memStore) GetInstrumentSymbols(ctx context.Context, marketListID uuid.UUID) ([]model.Instrument, error) {
	return m.GetMarketListInstruments(ctx, marketListID)
}

func (m *memStore) GetSectors(_ context.Context) ([]string, error) {
	seen := map[string]bool{}
	var sectors []string
	for _, ins := range m.instruments {
		if ins.Industry != "" && !seen[ins.Industry] {
			seen[ins.Industry] = true
			sectors = append(sectors, ins.Industry)
		}
	}
	return sectors, nil
}

func (m *memStore) GetSectorInstruments(_ context.Context, sector string) ([]model.Instrument, error) {
	var out []model.Instrument
	for _, ins := range m.instruments {
		if ins.Industry == sector {
			out = append(out, ins)
		}
	}
	return out, nil
}

func (m *memStore) InsertPriceBars(_ context.Context, instrumentID uuid.UUID, bars []model.PriceBar) (model.PriceInsertReport, error) {
	report := model.PriceInsertReport{
		PrevExistingDates: []time.Time{},
		IncorrectData:     []model.PriceBar{},
	}
	if m.bars[instrumentID] == nil {
		m.bars[instrumentID] = map[time.Time]model.PriceBar{}
	}
	for _, bar := range bars {
		if err := bar.Validate(); err != nil {
			report.IncorrectData = append(report.IncorrectData, bar)
			continue
		}
		key := bar.Date.UTC()
		if _, exists := m.bars[instrumentID][key]; exists {
			report.PrevExistingDates = append(report.PrevExistingDates, key)
			continue
		}
		m.bars[instrumentID][key] = bar
		report.Inserted++
	}
	return report, nil
}

func (m *memStore) GetPriceData(_ context.Context, symbol string, start, end time.Time) ([]model.PriceRow, error) {
	ins, ok := m.instruments[symbol]
	if !ok {
		return nil, nil
	}
	var rows []model.PriceRow
	for dt, bar := range m.bars[ins.ID] {
		if dt.Before(start) || dt.After(end) {
			continue
		}
		rows = append(rows, model.PriceRow{
			Symbol: symbol,
			Open:   *bar.Open, High: *bar.High, Low: *bar.Low, Close: *bar.Close,
			Volume: *bar.Volume, Date: dt,
		})
	}
	return rows, nil
}

func (m *memStore) GetFirstAvailableDate(_ context.Context, symbol string) (time.Time, error) {
	return m.boundary(symbol, true)
}

func (m *memStore) GetLastAvailableDate(_ context.Context, symbol string) (time.Time, error) {
	return m.boundary(symbol, false)
}

func (m *memStore) boundary(symbol string, first bool) (time.Time, error) {
	ins, ok := m.instruments[symbol]
	if !ok || len(m.bars[ins.ID]) == 0 {
		return time.Time{}, fmt.Errorf("no price data for [%s]: %w", symbol, store.ErrNotFound)
	}
	var best time.Time
	for dt := range m.bars[ins.ID] {
		if best.IsZero() || (first && dt.Before(best)) || (!first && dt.After(best)) {
			best = dt
		}
	}
	return best, nil
}

func (m *memStore) InsertQuote(_ context.Context, quote model.Quote) (bool, error) {
	key := quote.DateTime.UTC()
	if m.quotes[quote.Symbol] == nil {
		m.quotes[quote.Symbol] = map[time.Time]model.Quote{}
	}
	if _, exists := m.quotes[quote.Symbol][key]; exists {
		return false, nil
	}
	m.quotes[quote.Symbol][key] = quote
	return true, nil
}

func (m *memStore) HealthCheck(_ context.Context) error { return nil }
func (m *memStore) Close() error                        { return nil }

// --- Test Helpers ---

func newTestApp(st store.Store) *fiber.App {
	app := fiber.New()
	handler := NewHandler(zap.NewNop(), st)
	RegisterRoutes(app, st, handler)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	respBody, _ := io.ReadAll(resp.Body)
	return resp, respBody
}

// --- Market List Tests ---

func TestResolveMarketListHandler_SameNameSameID(t *testing.T) {
	app := newTestApp(newMemStore())

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/market-list", `{"marketList": "omxs30"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var first MarketListResponse
	require.NoError(t, json.Unmarshal(body, &first))
	assert.True(t, first.Success)
	assert.NotEqual(t, uuid.Nil, first.ID)

	resp, body = doJSON(t, app, http.MethodPost, "/api/v1/market-list", `{"marketList": "omxs30"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var second MarketListResponse
	require.NoError(t, json.Unmarshal(body, &second))
	assert.Equal(t, first.ID, second.ID)
}

func TestResolveMarketListHandler_MissingName(t *testing.T) {
	app := newTestApp(newMemStore())

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/market-list", `{}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var result map[string]string
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Contains(t, result["error"], "marketList is required")
}

func TestResolveMarketListHandler_StoreError(t *testing.T) {
	st := newMemStore()
	st.failErr = fmt.Errorf("postgres unavailable")
	app := newTestApp(st)

	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/market-list", `{"marketList": "omxspi"}`)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestGetMarketListIDHandler_NotFound(t *testing.T) {
	app := newTestApp(newMemStore())

	resp, _ := doJSON(t, app, http.MethodGet, "/api/v1/market-list?name=unknown", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestGetMarketListIDHandler_FoundAfterResolve(t *testing.T) {
	app := newTestApp(newMemStore())

	_, body := doJSON(t, app, http.MethodPost, "/api/v1/market-list", `{"marketList": "first_north25"}`)
	var created MarketListResponse
	require.NoError(t, json.Unmarshal(body, &created))

	resp, body := doJSON(t, app, http.MethodGet, "/api/v1/market-list?name=first_north25", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var got MarketListResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, created.ID, got.ID)
}

// --- Instrument Tests ---

func TestUpsertInstrumentsHandler_BatchIdempotent(t *testing.T) {
	st := newMemStore()
	app := newTestApp(st)

	listID := uuid.New()
	body := fmt.Sprintf(`{
		"marketListId": "%s",
		"instrumentDataObjects": [
			{"symbol": "ACM_A", "instrument": "Acme A", "industry": "Industrials"},
			{"symbol": "BOL_B", "instrument": "Bolag B", "industry": "Materials"}
		]
	}`, listID)

	resp, respBody := doJSON(t, app, http.MethodPost, "/api/v1/instruments", body)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var first InstrumentsUpsertResponse
	require.NoError(t, json.Unmarshal(respBody, &first))
	assert.True(t, first.Acknowledged)
	assert.Equal(t, 2, first.Upserted)
	assert.Empty(t, first.Failed)

	// Same batch again: still acknowledged, no duplicates created
	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/instruments", body)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, st.instruments, 2)
	assert.Len(t, st.memberships["ACM_A"], 1)
}

func TestUpsertInstrumentsHandler_PartialFailureReported(t *testing.T) {
	app := newTestApp(newMemStore())

	body := fmt.Sprintf(`{
		"marketListId": "%s",
		"instrumentDataObjects": [
			{"symbol": "ACM_A", "instrument": "Acme A"},
			{"symbol": "", "instrument": "Nameless"}
		]
	}`, uuid.New())

	resp, respBody := doJSON(t, app, http.MethodPost, "/api/v1/instruments", body)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result InstrumentsUpsertResponse
	require.NoError(t, json.Unmarshal(respBody, &result))
	assert.True(t, result.Acknowledged)
	assert.Equal(t, 1, result.Upserted)
	assert.Len(t, result.Failed, 1)
}

func TestUpsertInstrumentsHandler_EmptyBatchRejected(t *testing.T) {
	app := newTestApp(newMemStore())

	body := fmt.Sprintf(`{"marketListId": "%s", "instrumentDataObjects": []}`, uuid.New())
	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/instruments", body)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGetSectorsHandler(t *testing.T) {
	st := newMemStore()
	app := newTestApp(st)

	body := fmt.Sprintf(`{
		"marketListId": "%s",
		"instrumentDataObjects": [
			{"symbol": "ACM_A", "instrument": "Acme A", "industry": "Industrials"},
			{"symbol": "BOL_B", "instrument": "Bolag B", "industry": "Industrials"}
		]
	}`, uuid.New())
	doJSON(t, app, http.MethodPost, "/api/v1/instruments", body)

	resp, respBody := doJSON(t, app, http.MethodGet, "/api/v1/instruments/sectors", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result SectorsResponse
	require.NoError(t, json.Unmarshal(respBody, &result))
	assert.Equal(t, []string{"Industrials"}, result.Sectors)
}

func TestGetMarketListInstrumentsHandler_InvalidID(t *testing.T) {
	app := newTestApp(newMemStore())

	resp, _ := doJSON(t, app, http.MethodGet, "/api/v1/instruments/not-a-uuid", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

// --- Price Data Tests ---

func TestInsertPriceDataHandler_DedupAndValidation(t *testing.T) {
	st := newMemStore()
	app := newTestApp(st)

	instrumentID := uuid.New()
	existing := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	// Seed one bar so its date collides with the batch below.
	open, high, low, closeP := 10.0, 11.0, 9.5, 10.5
	var vol int64 = 1000
	st.bars[instrumentID] = map[time.Time]model.PriceBar{
		existing: {Open: &open, High: &high, Low: &low, Close: &closeP, Volume: &vol, Date: &existing},
	}

	body := `{"data": [
		{"Open": 10, "High": 11, "Low": 9.5, "Close": 10.5, "Volume": 1000, "Date": "2025-06-02T00:00:00Z"},
		{"Open": 10.5, "High": 12, "Low": 10, "Close": 11.5, "Volume": 1200, "Date": "2025-06-03T00:00:00Z"},
		{"Open": 11.5, "High": 12.5, "Low": 11, "Close": 12, "Volume": 900, "Date": "2025-06-04T00:00:00Z"},
		{"Open": 12, "High": 13, "Low": 11.5, "Close": 12.5, "Date": "2025-06-05T00:00:00Z"}
	]}`

	resp, respBody := doJSON(t, app, http.MethodPost, "/api/v1/price-data/"+instrumentID.String(), body)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result PriceDataResponse
	require.NoError(t, json.Unmarshal(respBody, &result))
	assert.True(t, result.Success)
	assert.Equal(t, "Inserted 2 rows", result.Result)
	assert.Equal(t, 2, result.Inserted)
	require.Len(t, result.PrevExistingDates, 1)
	assert.True(t, existing.Equal(result.PrevExistingDates[0]))
	// The volume-less bar is invalid: volume must be present, even as zero.
	require.Len(t, result.IncorrectData, 1)
	assert.Nil(t, result.IncorrectData[0].Volume)
}

func TestInsertPriceDataHandler_ZeroVolumeIsValid(t *testing.T) {
	app := newTestApp(newMemStore())

	body := `{"data": [
		{"Open": 10, "High": 11, "Low": 9.5, "Close": 10.5, "Volume": 0, "Date": "2025-06-02T00:00:00Z"}
	]}`

	resp, respBody := doJSON(t, app, http.MethodPost, "/api/v1/price-data/"+uuid.NewString(), body)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result PriceDataResponse
	require.NoError(t, json.Unmarshal(respBody, &result))
	assert.Equal(t, 1, result.Inserted)
	assert.Empty(t, result.IncorrectData)
}

func TestInsertPriceDataHandler_ResubmitAllDuplicates(t *testing.T) {
	app := newTestApp(newMemStore())
	id := uuid.NewString()

	body := `{"data": [
		{"Open": 10, "High": 11, "Low": 9.5, "Close": 10.5, "Volume": 1000, "Date": "2025-06-02T00:00:00Z"}
	]}`

	_, _ = doJSON(t, app, http.MethodPost, "/api/v1/price-data/"+id, body)
	_, respBody := doJSON(t, app, http.MethodPost, "/api/v1/price-data/"+id, body)

	var result PriceDataResponse
	require.NoError(t, json.Unmarshal(respBody, &result))
	assert.Equal(t, 0, result.Inserted)
	assert.Len(t, result.PrevExistingDates, 1)
}

func TestInsertPriceDataHandler_EmptyBatchRejected(t *testing.T) {
	app := newTestApp(newMemStore())

	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/price-data/"+uuid.NewString(), `{"data": []}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGetPriceDataHandler_InvalidStart(t *testing.T) {
	app := newTestApp(newMemStore())

	resp, _ := doJSON(t, app, http.MethodGet, "/api/v1/price-data/ACM_A?start=yesterday", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGetFirstDateHandler_NoData(t *testing.T) {
	app := newTestApp(newMemStore())

	resp, _ := doJSON(t, app, http.MethodGet, "/api/v1/price-data/ACM_A/first-date", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

// --- Quote Tests ---

func TestInsertQuoteHandler_Success(t *testing.T) {
	app := newTestApp(newMemStore())

	body := `{"data": {"symbol": "ACM_A", "price": "123.45", "date_time": "2025-06-02T09:30:00Z"}}`
	resp, respBody := doJSON(t, app, http.MethodPost, "/api/v1/price", body)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result QuoteResponse
	require.NoError(t, json.Unmarshal(respBody, &result))
	assert.True(t, result.Inserted)

	// Same observation again is deduplicated, not an error.
	resp, respBody = doJSON(t, app, http.MethodPost, "/api/v1/price", body)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(respBody, &result))
	assert.False(t, result.Inserted)
}

func TestInsertQuoteHandler_MissingSymbol(t *testing.T) {
	app := newTestApp(newMemStore())

	body := `{"data": {"symbol": "", "price": "123.45", "date_time": "2025-06-02T09:30:00Z"}}`
	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/price", body)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

// --- Health ---

func TestHealthHandler(t *testing.T) {
	app := newTestApp(newMemStore())

	resp, respBody := doJSON(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result map[string]any
	require.NoError(t, json.Unmarshal(respBody, &result))
	assert.Equal(t, "ok", result["status"])
}
