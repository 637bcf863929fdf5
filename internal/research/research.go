// Package research implements the orchestrator: the single entry point
// that sequences link discovery, page selection, content extraction,
// aggregation, classification, and embedding into one
// model.CompanyRecord, publishing progress events as it goes and
// persisting the final record.
//
// Grounded on internal/crawl/jobs.go's Manager.Start (one goroutine
// per job, sequential pipeline stages, status/error recorded on the
// shared Job struct), generalized from its hardcoded two-step
// map-then-scrape pipeline to this full six-phase sequence, with
// per-phase timeouts and the progress bus replacing the poll-only
// Job.Status field it used.
package research

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"researchengine/internal/aggregate"
	"researchengine/internal/classify"
	"researchengine/internal/config"
	"researchengine/internal/embed"
	"researchengine/internal/errkind"
	"researchengine/internal/extract"
	"researchengine/internal/linkdiscovery"
	"researchengine/internal/llmpool"
	"researchengine/internal/metrics"
	"researchengine/internal/model"
	"researchengine/internal/pageselect"
	"researchengine/internal/progressbus"
	"researchengine/internal/vectorstore"
)

// Orchestrator owns every per-job component and runs the six-phase
// research sequence end to end.
type Orchestrator struct {
	cfg       *config.Config
	pool      *llmpool.Pool
	extractor *extract.Extractor
	embedder  embed.Client
	vstore    *vectorstore.Store
	bus       *progressbus.Bus
	taxonomy  model.Taxonomy
	log       *slog.Logger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Config    *config.Config
	Pool      *llmpool.Pool
	Extractor *extract.Extractor
	Embedder  embed.Client
	VStore    *vectorstore.Store
	Bus       *progressbus.Bus
	Taxonomy  model.Taxonomy
	Log       *slog.Logger
}

func New(d Deps) *Orchestrator {
	return &Orchestrator{
		cfg:       d.Config,
		pool:      d.Pool,
		extractor: d.Extractor,
		embedder:  d.Embedder,
		vstore:    d.VStore,
		bus:       d.Bus,
		taxonomy:  d.Taxonomy,
		log:       d.Log,
	}
}

func normalizeWebsite(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errkind.New(errkind.Input, "empty_input", "validation", "company name or website must not be empty", nil)
	}
	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" {
		return "", errkind.New(errkind.Input, "invalid_website", "validation", "could not parse a valid website from input", err)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Research runs the full pipeline for one job and returns the
// resulting record. A failed extraction, classification or embedding
// phase yields a record with ScrapeStatus == StatusPartial and a nil
// error. A failed link discovery, page selection or aggregation phase
// returns the record marked StatusFailed together with the classified
// error; invalid input returns a nil record and an error.
func (o *Orchestrator) Research(ctx context.Context, jobID uuid.UUID, companyName, input string) (*model.CompanyRecord, error) {
	overall := o.cfg.Research.OverallTimeoutS
	if overall <= 0 {
		overall = 120
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(overall)*time.Second)
	defer cancel()

	website, err := normalizeWebsite(input)
	if err != nil {
		o.publish(jobID, progressbus.EventJobFailed, "validation", err.Error(), nil)
		return nil, err
	}
	if companyName == "" {
		companyName = website
	}

	rec := &model.CompanyRecord{
		ID:           uuid.New(),
		Name:         companyName,
		Website:      website,
		ScrapeStatus: model.StatusRunning,
	}
	started := time.Now()

	// Phase 1: link discovery.
	phaseStart := time.Now()
	o.publish(jobID, progressbus.EventPhaseStarted, "link_discovery", "", nil)
	discovery, err := linkdiscovery.Discover(ctx, website, linkdiscovery.Options{
		MaxLinks:           o.cfg.Crawl.MaxLinks,
		MaxDepth:           o.cfg.Crawl.MaxDepth,
		PerHostConcurrency: o.cfg.Crawl.PerHostConcurrency,
		TotalDeadline:      time.Duration(o.cfg.Crawl.TotalDeadlineS) * time.Second,
		RespectRobots:      o.cfg.Robots.Respect,
		UserAgent:          o.cfg.Scraper.UserAgent,
	})
	if err != nil {
		o.observePhase("link_discovery", "failed", phaseStart)
		return o.fail(jobID, rec, "link_discovery", err)
	}
	o.observePhase("link_discovery", "success", phaseStart)
	o.publish(jobID, progressbus.EventPhaseCompleted, "link_discovery", "", map[string]int{"links_found": len(discovery.Links)})

	// Phase 2: page selection.
	phaseStart = time.Now()
	o.publish(jobID, progressbus.EventPhaseStarted, "page_selection", "", nil)
	selCtx, selCancel := o.phaseContext(ctx, o.cfg.LLM.Pool.TimeoutSSelection)
	selected, err := pageselect.Select(selCtx, o.pool, companyName, discovery.Links, o.cfg.Research.MaxPages)
	selCancel()
	if err != nil {
		o.observePhase("page_selection", "failed", phaseStart)
		return o.fail(jobID, rec, "page_selection", err)
	}
	o.observePhase("page_selection", "success", phaseStart)
	o.publish(jobID, progressbus.EventPhaseCompleted, "page_selection", "", map[string]int{"pages_selected": len(selected)})

	// Phase 3: content extraction.
	phaseStart = time.Now()
	o.publish(jobID, progressbus.EventPhaseStarted, "content_extraction", "", nil)
	urls := make([]string, len(selected))
	for i, l := range selected {
		urls[i] = l.URL
	}
	outcomes := o.extractor.FetchAll(ctx, urls)

	var pages []model.ExtractedPage
	var failedPages int
	for _, o2 := range outcomes {
		if o2.Err != nil {
			failedPages++
			continue
		}
		pages = append(pages, o2.Page)
	}
	rec.PagesCrawled = make([]string, 0, len(pages))
	for _, p := range pages {
		rec.PagesCrawled = append(rec.PagesCrawled, p.URL)
	}
	rec.CrawlDepth = o.cfg.Crawl.MaxDepth
	allPagesFailed := len(pages) == 0
	if allPagesFailed {
		o.observePhase("content_extraction", "partial", phaseStart)
	} else {
		o.observePhase("content_extraction", "success", phaseStart)
	}
	o.publish(jobID, progressbus.EventPhaseCompleted, "content_extraction", "", map[string]int{"pages_fetched": len(pages), "pages_failed": failedPages})

	// Phase 4: aggregation. Invoked even when every page fetch failed —
	// the aggregator still attempts a name-only record rather than
	// failing the job outright; only an aggregator error (not merely
	// empty input) fails the job here.
	phaseStart = time.Now()
	o.publish(jobID, progressbus.EventPhaseStarted, "aggregation", "", nil)
	aggCtx, aggCancel := o.phaseContext(ctx, o.cfg.LLM.Pool.TimeoutSAggregation)
	agg, err := aggregate.Aggregate(aggCtx, o.pool, companyName, website, pages)
	aggCancel()
	if err != nil {
		o.observePhase("aggregation", "failed", phaseStart)
		return o.fail(jobID, rec, "aggregation", err)
	}
	applyAggregate(rec, agg)
	if allPagesFailed {
		rec.ScrapeStatus = model.StatusPartial
		rec.ScrapeError = "every selected page failed to fetch; record synthesized from company name only"
	}
	o.observePhase("aggregation", "success", phaseStart)
	o.publish(jobID, progressbus.EventPhaseCompleted, "aggregation", "", nil)

	// Phase 5: classification.
	phaseStart = time.Now()
	o.publish(jobID, progressbus.EventPhaseStarted, "classification", "", nil)
	clsCtx, clsCancel := o.phaseContext(ctx, o.cfg.LLM.Pool.TimeoutSClassification)
	cls, err := classify.Classify(clsCtx, o.pool, o.taxonomy, companyName, rec.Description+" "+strings.Join(rec.KeyServices, ", "))
	clsCancel()
	if err != nil {
		o.log.Warn("classification failed, continuing with partial record", "job_id", jobID, "error", err)
		rec.ScrapeStatus = model.StatusPartial
		rec.ScrapeError = err.Error()
		o.observePhase("classification", "partial", phaseStart)
	} else {
		rec.SaaSClassification = cls.SaaSClassification
		rec.IsSaaS = cls.IsSaaS
		rec.ClassificationConfidence = cls.Confidence
		rec.ClassificationJustification = cls.Justification
		o.observePhase("classification", "success", phaseStart)
	}
	o.publish(jobID, progressbus.EventPhaseCompleted, "classification", "", nil)

	// Phase 6: embedding.
	phaseStart = time.Now()
	o.publish(jobID, progressbus.EventPhaseStarted, "embedding", "", nil)
	embeddingText := rec.Description + "\n" + rec.ValueProposition + "\n" + strings.Join(rec.KeyServices, ", ")
	if vec, err := o.embedder.Embed(ctx, embeddingText); err != nil {
		o.log.Warn("embedding failed, continuing without vector", "job_id", jobID, "error", err)
		if rec.ScrapeStatus != model.StatusPartial {
			rec.ScrapeStatus = model.StatusPartial
			rec.ScrapeError = err.Error()
		}
		o.observePhase("embedding", "partial", phaseStart)
	} else {
		rec.Embedding = vec
		o.observePhase("embedding", "success", phaseStart)
	}
	o.publish(jobID, progressbus.EventPhaseCompleted, "embedding", "", nil)

	if rec.ScrapeStatus == model.StatusRunning {
		rec.ScrapeStatus = model.StatusSuccess
	}
	rec.CrawlDuration = time.Since(started).Seconds()

	if o.vstore != nil {
		if err := o.vstore.Upsert(ctx, rec); err != nil {
			o.log.Error("failed to persist company record", "job_id", jobID, "error", err)
		}
	}

	metrics.JobsTotal.WithLabelValues(string(rec.ScrapeStatus)).Inc()
	o.publish(jobID, progressbus.EventJobCompleted, "", "", map[string]int{"status_is_partial": boolToInt(rec.ScrapeStatus == model.StatusPartial)})
	return rec, nil
}

func (o *Orchestrator) observePhase(phase, outcome string, since time.Time) {
	metrics.PhaseDuration.WithLabelValues(phase, outcome).Observe(time.Since(since).Seconds())
}

func (o *Orchestrator) phaseContext(ctx context.Context, secs int) (context.Context, context.CancelFunc) {
	if secs <= 0 {
		secs = o.cfg.LLM.Pool.TimeoutSDefault
	}
	if secs <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(secs)*time.Second)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func applyAggregate(rec *model.CompanyRecord, agg *aggregate.Result) {
	rec.Description = agg.Description
	rec.ValueProposition = agg.ValueProposition
	rec.CompanyCulture = agg.CompanyCulture
	rec.Industry = agg.Industry
	rec.BusinessModel = agg.BusinessModel
	rec.TargetMarket = agg.TargetMarket
	rec.CompanySize = agg.CompanySize
	rec.CompanyStage = agg.CompanyStage
	rec.KeyServices = model.DedupeCaseInsensitive(agg.KeyServices, model.DefaultListFieldCap)
	rec.CompetitiveAdvantages = model.DedupeCaseInsensitive(agg.CompetitiveAdvantages, model.DefaultListFieldCap)
	rec.TechStack = model.DedupeCaseInsensitive(agg.TechStack, model.DefaultListFieldCap)
	rec.Certifications = model.DedupeCaseInsensitive(agg.Certifications, model.DefaultListFieldCap)
	rec.Partnerships = model.DedupeCaseInsensitive(agg.Partnerships, model.DefaultListFieldCap)
	rec.Awards = model.DedupeCaseInsensitive(agg.Awards, model.DefaultListFieldCap)
	rec.LeadershipTeam = model.DedupeCaseInsensitive(agg.LeadershipTeam, model.DefaultListFieldCap)
	rec.RecentNews = model.DedupeCaseInsensitive(agg.RecentNews, model.DefaultListFieldCap)
	rec.SocialMedia = agg.SocialMedia
	rec.ContactInfo = agg.ContactInfo
	rec.KeyDecisionMakers = agg.KeyDecisionMakers
	rec.FoundingYear = agg.FoundingYear
	rec.HasChatWidget = agg.HasChatWidget
	rec.HasForms = agg.HasForms
	rec.HasJobListings = agg.HasJobListings
}

// fail marks rec as failed, publishes the failure event, and returns
// the classified error (stable code, last phase reached, human-readable
// message).
func (o *Orchestrator) fail(jobID uuid.UUID, rec *model.CompanyRecord, phase string, err error) (*model.CompanyRecord, error) {
	rec.ScrapeStatus = model.StatusFailed
	rec.ScrapeError = err.Error()
	metrics.JobsTotal.WithLabelValues(string(model.StatusFailed)).Inc()
	o.publish(jobID, progressbus.EventJobFailed, phase, err.Error(), nil)
	return rec, err
}

func (o *Orchestrator) publish(jobID uuid.UUID, typ progressbus.EventType, phase, message string, counters map[string]int) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(progressbus.Event{
		JobID:    jobID,
		Type:     typ,
		Phase:    phase,
		Message:  message,
		Counters: counters,
	})
}
