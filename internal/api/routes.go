package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vasaquant/securities-ingest/internal/store"
)

func RegisterRoutes(app *fiber.App, st store.Store, handler *Handler) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"store": "ok",
		}
		status := "ok"
		code := fiber.StatusOK

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := st.HealthCheck(healthCtx); err != nil {
			checks["store"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	// API routes
	v1 := app.Group("/api/v1")

	v1.Post("/market-list", handler.ResolveMarketListHandler)
	v1.Get("/market-list", handler.GetMarketListIDHandler)
	v1.Get("/market-lists", handler.ListMarketListsHandler)

	v1.Post("/instruments", handler.UpsertInstrumentsHandler)
	v1.Get("/instruments/sectors", handler.GetSectorsHandler)
	v1.Get("/instruments/sector", handler.GetSectorInstrumentsHandler)
	v1.Get("/instruments/symbols/:id", handler.GetInstrumentSymbolsHandler)
	v1.Get("/instruments/:id", handler.GetMarketListInstrumentsHandler)

	v1.Post("/price-data/:id", handler.InsertPriceDataHandler)
	v1.Get("/price-data/:symbol/first-date", handler.GetFirstDateHandler)
	v1.Get("/price-data/:symbol/last-date", handler.GetLastDateHandler)
	v1.Get("/price-data/:symbol", handler.GetPriceDataHandler)

	v1.Post("/price", handler.InsertQuoteHandler)
}
