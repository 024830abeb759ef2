package scrape

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vasaquant/securities-ingest/internal/metrics"
	"github.com/vasaquant/securities-ingest/internal/normalize"
	"github.com/vasaquant/securities-ingest/internal/page"
	"github.com/vasaquant/securities-ingest/pkg/model"
)

// IngestClient is the boundary to the catalogue/price ingestion service.
type IngestClient interface {
	ResolveMarketList(ctx context.Context, name string) (uuid.UUID, error)
	SubmitInstruments(ctx context.Context, marketListID uuid.UUID, records []model.InstrumentRecord) (model.InstrumentsAck, error)
}

// ReportPublisher receives one run report per completed pipeline.
type ReportPublisher interface {
	PublishRunReport(ctx context.Context, report model.RunReport) error
}

// Runner drives the scrape pipelines sequentially: resolve the destination
// market list, extract each source URL, normalize, submit. Failures of one
// URL or one pipeline never abort the rest of the run.
type Runner struct {
	logger      *zap.Logger
	browser     page.Browser
	client      IngestClient
	reports     ReportPublisher // nil disables run reports
	stepTimeout time.Duration
}

func NewRunner(logger *zap.Logger, browser page.Browser, client IngestClient, reports ReportPublisher, stepTimeout time.Duration) *Runner {
	if stepTimeout <= 0 {
		stepTimeout = 2 * time.Minute
	}
	return &Runner{
		logger:      logger,
		browser:     browser,
		client:      client,
		reports:     reports,
		stepTimeout: stepTimeout,
	}
}

// Run processes the pipelines in registry order. It returns early only on
// context cancellation; per-pipeline failures are logged and skipped.
func (r *Runner) Run(ctx context.Context, pipelines []Pipeline) error {
	for _, p := range pipelines {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.runPipeline(ctx, p)
	}
	return ctx.Err()
}

func (r *Runner) runPipeline(ctx context.Context, p Pipeline) {
	report := model.RunReport{
		RunID:      uuid.New(),
		Pipeline:   p.Name,
		MarketList: p.MarketList,
		URLs:       len(p.URLs),
		StartedAt:  time.Now().UTC(),
	}
	defer r.publishReport(ctx, &report)

	// Market-list resolution always completes before extraction begins; all
	// submissions for this pipeline are keyed off the resolved id.
	resolveCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
	listID, err := r.client.ResolveMarketList(resolveCtx, p.MarketList)
	cancel()
	if err != nil {
		r.logger.Error("scrape.resolve_market_list_failed",
			zap.String("pipeline", p.Name),
			zap.String("market_list", p.MarketList),
			zap.Error(err))
		metrics.PipelineErrors.WithLabelValues(p.Name, "resolve").Inc()
		report.Errors = append(report.Errors, "resolve: "+err.Error())
		return
	}
	report.MarketListID = listID

	for _, url := range p.URLs {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, "canceled")
			return
		}

		raw, malformed, err := r.extractURL(ctx, p, url)
		if err != nil {
			r.logger.Error("scrape.extract_failed",
				zap.String("pipeline", p.Name),
				zap.String("url", url),
				zap.Error(err))
			metrics.PipelineErrors.WithLabelValues(p.Name, "extract").Inc()
			report.Errors = append(report.Errors, "extract "+url+": "+err.Error())
			continue
		}

		report.Scraped += len(raw)
		report.Malformed += len(malformed)
		metrics.RecordsScraped.WithLabelValues(p.Name).Add(float64(len(raw)))
		metrics.RecordsDropped.WithLabelValues(p.Name, "malformed").Add(float64(len(malformed)))
		for _, m := range malformed {
			r.logger.Warn("scrape.malformed_record",
				zap.String("pipeline", p.Name),
				zap.String("url", url),
				zap.String("raw", m))
		}

		batch := make([]model.InstrumentRecord, 0, len(raw))
		for _, rec := range raw {
			normalized, err := normalize.Instrument(rec)
			if err != nil {
				r.logger.Warn("scrape.invalid_record",
					zap.String("pipeline", p.Name),
					zap.Error(err))
				metrics.RecordsDropped.WithLabelValues(p.Name, "invalid").Inc()
				report.Dropped++
				continue
			}
			batch = append(batch, normalized)
		}

		if len(batch) == 0 {
			r.logger.Warn("scrape.empty_batch",
				zap.String("pipeline", p.Name),
				zap.String("url", url))
			continue
		}

		submitCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
		ack, err := r.client.SubmitInstruments(submitCtx, listID, batch)
		cancel()
		if err != nil {
			// Submission is not retried here: the ingest client already
			// applied its bounded retry policy, and a canceled batch must
			// not be re-sent.
			r.logger.Error("scrape.submit_failed",
				zap.String("pipeline", p.Name),
				zap.String("url", url),
				zap.Int("records", len(batch)),
				zap.Error(err))
			metrics.PipelineErrors.WithLabelValues(p.Name, "submit").Inc()
			report.Errors = append(report.Errors, "submit "+url+": "+err.Error())
			continue
		}

		report.Submitted += len(batch)
		r.logger.Info("scrape.batch_submitted",
			zap.String("pipeline", p.Name),
			zap.String("url", url),
			zap.Int("records", len(batch)),
			zap.Int("upserted", ack.Upserted),
			zap.Strings("failed", ack.Failed))
	}
}

// extractURL opens the page, runs the pipeline's strategy against it, and
// releases the page on every exit path.
func (r *Runner) extractURL(ctx context.Context, p Pipeline, url string) ([]model.RawInstrument, []string, error) {
	stepCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
	defer cancel()

	start := time.Now()
	pg, err := r.browser.Open(stepCtx, url)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if cerr := pg.Close(); cerr != nil {
			r.logger.Warn("scrape.page_release_failed", zap.String("url", url), zap.Error(cerr))
		}
	}()

	records, malformed, err := p.Strategy.Extract(stepCtx, pg)
	metrics.ObserveDuration(metrics.ExtractionDuration, start, p.Name)
	return records, malformed, err
}

func (r *Runner) publishReport(ctx context.Context, report *model.RunReport) {
	report.FinishedAt = time.Now().UTC()
	if r.reports == nil {
		return
	}
	// Best effort: reports never fail a run.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.reports.PublishRunReport(pubCtx, *report); err != nil {
		r.logger.Warn("scrape.report_publish_failed",
			zap.String("pipeline", report.Pipeline),
			zap.Error(err))
	}
}
