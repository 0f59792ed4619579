// Package audit owns the audit lifecycle: request validation, the
// pending→running→{completed,failed} state machine, and the
// dispatch→extract→score pipeline behind each running audit.
package audit

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geolens/geo-audit/internal/cost"
	"github.com/geolens/geo-audit/internal/dispatch"
	"github.com/geolens/geo-audit/internal/extract"
	"github.com/geolens/geo-audit/internal/model"
	"github.com/geolens/geo-audit/internal/store"
	"github.com/geolens/geo-audit/pkg/anthropic"
)

// ErrValidation tags request validation failures so transport layers can map
// them to a 400 rather than a 500.
var ErrValidation = eris.New("audit: invalid request")

// Dispatcher fans out the probe matrix. Implemented by dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, specs []model.ProbeSpec) ([]model.ProbeResponse, []model.DispatchFailure, error)
}

// Extractor turns probe responses into structured results.
// Implemented by extract.Extractor.
type Extractor interface {
	Extract(ctx context.Context, resp model.ProbeResponse) model.ProbeResult
}

// ExtractorFactory builds an extractor bound to one audit's target brand.
type ExtractorFactory func(target extract.Target) Extractor

// Scorer computes the final GeoScore. Implemented by scorer.Scorer.
type Scorer interface {
	Score(results []model.ProbeResult) model.GeoScore
}

// Config tunes the audit service.
type Config struct {
	Providers          []string
	SamplesPerKeyword  int
	MaxKeywords        int
	Deadline           time.Duration
	ExtractConcurrency int

	// ProviderModels maps provider name to the model each probe runs with,
	// for cost accounting.
	ProviderModels map[string]string
	// ExtractModel is the model used for extraction cost accounting.
	ExtractModel string
}

func (c Config) withDefaults() Config {
	if len(c.Providers) == 0 {
		c.Providers = []string{"openai", "claude", "gemini", "perplexity", "grok"}
	}
	if c.SamplesPerKeyword <= 0 {
		c.SamplesPerKeyword = 2
	}
	if c.MaxKeywords <= 0 {
		c.MaxKeywords = 20
	}
	if c.Deadline <= 0 {
		c.Deadline = 10 * time.Minute
	}
	if c.ExtractConcurrency <= 0 {
		c.ExtractConcurrency = 4
	}
	return c
}

// Service runs audits. One goroutine per running audit; the store is the
// only cross-audit shared state.
type Service struct {
	store        store.Store
	dispatcher   Dispatcher
	newExtractor ExtractorFactory
	scorer       Scorer
	costCalc     *cost.Calculator
	cfg          Config

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewService wires the audit pipeline together.
func NewService(st store.Store, d Dispatcher, factory ExtractorFactory, sc Scorer, calc *cost.Calculator, cfg Config) *Service {
	return &Service{
		store:        st,
		dispatcher:   d,
		newExtractor: factory,
		scorer:       sc,
		costCalc:     calc,
		cfg:          cfg.withDefaults(),
		cancels:      make(map[string]context.CancelFunc),
	}
}

// ValidateRequest checks an audit request against service limits.
func (s *Service) ValidateRequest(req model.AuditRequest) error {
	brand := strings.TrimSpace(req.BrandName)
	if brand == "" || len(brand) > 100 {
		return eris.Wrap(ErrValidation, "brand_name must be 1-100 characters")
	}
	if len(req.Keywords) == 0 {
		return eris.Wrap(ErrValidation, "at least one keyword is required")
	}
	if len(req.Keywords) > s.cfg.MaxKeywords {
		return eris.Wrapf(ErrValidation, "at most %d keywords allowed", s.cfg.MaxKeywords)
	}
	for _, kw := range req.Keywords {
		if strings.TrimSpace(kw) == "" {
			return eris.Wrap(ErrValidation, "keywords must be non-empty")
		}
	}
	if req.TargetWebsite != "" {
		u, err := url.Parse(req.TargetWebsite)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return eris.Wrap(ErrValidation, "target_website must be an absolute URL")
		}
	}
	return nil
}

// Create validates the request, persists a pending record, and schedules the
// audit run. The pending record returns immediately; callers poll Get.
func (s *Service) Create(ctx context.Context, req model.AuditRequest) (*model.AuditRecord, error) {
	if err := s.ValidateRequest(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.TargetBrand) == "" {
		req.TargetBrand = req.BrandName
	}

	rec, err := s.store.CreateAudit(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "audit: create")
	}

	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Deadline)
	s.mu.Lock()
	s.cancels[rec.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.cancels, rec.ID)
			s.mu.Unlock()
		}()
		s.run(runCtx, rec.ID, req)
	}()

	zap.L().Info("audit created",
		zap.String("audit_id", rec.ID),
		zap.String("brand", req.BrandName),
		zap.Int("keywords", len(req.Keywords)))
	return rec, nil
}

// run executes the dispatch→extract→score pipeline for one audit.
// Persistence writes are strictly ordered: running before any probe is sent,
// terminal state exactly once at the end.
func (s *Service) run(ctx context.Context, auditID string, req model.AuditRequest) {
	log := zap.L().With(zap.String("audit_id", auditID))

	if err := s.store.UpdateAuditStatus(ctx, auditID, model.AuditStatusRunning); err != nil {
		// Deleted before it started, or already driven elsewhere.
		log.Warn("audit could not enter running state", zap.Error(err))
		return
	}

	specs := dispatch.BuildSpecs(auditID, req, s.cfg.Providers, s.cfg.SamplesPerKeyword)
	log.Info("dispatching probe matrix", zap.Int("probes", len(specs)))

	responses, failures, err := s.dispatcher.Dispatch(ctx, specs)
	if err != nil && !errors.Is(err, dispatch.ErrInsufficientSuccess) {
		s.finishFailed(auditID, ctx, err, log)
		return
	}
	insufficient := errors.Is(err, dispatch.ErrInsufficientSuccess)

	extractor := s.newExtractor(extract.Target{
		Brand:       req.TargetBrand,
		BrandAlias:  req.BrandName,
		Website:     req.TargetWebsite,
		GroundTruth: req.GroundTruth,
	})

	results := make([]model.ProbeResult, len(responses))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ExtractConcurrency)
	for i, resp := range responses {
		i, resp := i, resp
		g.Go(func() error {
			results[i] = extractor.Extract(gCtx, resp)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		s.finishFailed(auditID, ctx, ctx.Err(), log)
		return
	}

	discarded := 0
	for _, r := range results {
		if !r.Usable() {
			discarded++
		}
	}

	var score model.GeoScore
	if insufficient {
		score = s.scorer.Score(nil)
	} else {
		score = s.scorer.Score(results)
	}

	update := store.ResultUpdate{
		Score:     &score,
		Failures:  failures,
		Discarded: discarded,
		TotalCost: s.totalCost(responses, extractor),
	}

	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.SetAuditResult(persistCtx, auditID, update); err != nil {
		log.Error("failed to persist audit result", zap.Error(err))
		return
	}

	log.Info("audit completed",
		zap.Float64("overall_score", score.OverallScore),
		zap.Int("test_count", score.TestCount),
		zap.Int("dispatch_failures", len(failures)),
		zap.Int("discarded", discarded),
		zap.Bool("insufficient_data", score.InsufficientData))
}

// finishFailed persists a terminal failed state. Cancellation via Delete
// skips persistence since the record is going away.
func (s *Service) finishFailed(auditID string, runCtx context.Context, cause error, log *zap.Logger) {
	if errors.Is(runCtx.Err(), context.Canceled) {
		log.Info("audit run cancelled")
		return
	}

	msg := "audit failed: " + cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		msg = "audit deadline exceeded"
	}

	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.SetAuditError(persistCtx, auditID, msg); err != nil {
		log.Error("failed to persist audit error", zap.Error(err))
		return
	}
	log.Warn("audit failed", zap.String("reason", msg))
}

// totalCost sums probe spend across providers plus extraction spend.
func (s *Service) totalCost(responses []model.ProbeResponse, extractor Extractor) float64 {
	if s.costCalc == nil {
		return 0
	}
	var total float64
	for _, r := range responses {
		total += s.costCalc.Probe(r.Spec.Provider, s.cfg.ProviderModels[r.Spec.Provider], r.InputTokens, r.OutputTokens)
	}
	if tracked, ok := extractor.(interface{ TotalUsage() anthropic.TokenUsage }); ok {
		u := tracked.TotalUsage()
		u.LogCost(s.cfg.ExtractModel, "extraction")
		total += s.costCalc.Claude(s.cfg.ExtractModel, u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens)
	}
	return total
}

// Get returns a read-only snapshot of one audit.
func (s *Service) Get(ctx context.Context, auditID string) (*model.AuditRecord, error) {
	return s.store.GetAudit(ctx, auditID)
}

// List returns a page of audits plus the total count.
func (s *Service) List(ctx context.Context, filter store.ListFilter) ([]model.AuditRecord, int, error) {
	return s.store.ListAudits(ctx, filter)
}

// Delete removes an audit. An in-flight run is cancelled and its partial
// results discarded.
func (s *Service) Delete(ctx context.Context, auditID string) error {
	s.mu.Lock()
	cancel, running := s.cancels[auditID]
	s.mu.Unlock()
	if running {
		cancel()
	}
	return s.store.DeleteAudit(ctx, auditID)
}

// Stats returns aggregate audit statistics.
func (s *Service) Stats(ctx context.Context) (*model.AuditStats, error) {
	return s.store.Stats(ctx)
}

// Wait blocks until every scheduled audit run has finished. Used by the CLI
// run path and by tests.
func (s *Service) Wait() {
	s.wg.Wait()
}
