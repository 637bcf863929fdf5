package similarity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"researchengine/internal/config"
	"researchengine/internal/embed"
	"researchengine/internal/errkind"
	"researchengine/internal/llmpool"
	"researchengine/internal/llmprovider"
	"researchengine/internal/model"
	"researchengine/internal/searchprovider"
	"researchengine/internal/vectorstore"
)

// Source identifies which discovery path produced a Candidate.
type Source string

const (
	SourceVector Source = "vector"
	SourceWeb    Source = "web"
	SourceHybrid Source = "hybrid"
)

// Candidate is one ranked discovery result.
type Candidate struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Website     string  `json:"website"`
	Record      *model.CompanyRecord `json:"-"`
	Score       float64 `json:"score"`
	Factors     Factors `json:"factors"`
	Confidence  float64 `json:"confidence"`
	Source      Source  `json:"source"`
	Explanation string  `json:"explanation,omitempty"`
}

// canonicalID hashes name+website so hybrid merging can dedupe vector
// and web hits that refer to the same company by a canonical id.
func canonicalID(name, website string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(website))))
	return hex.EncodeToString(h[:8])
}

// Engine runs the similarity engine: vector lookups, web search, and
// their hybrid merge. Factors and confidence come from the deterministic
// rules in score.go; a vector hit's Score is its cosine similarity, and
// a web hit with no stored record is scored by name distance alone.
type Engine struct {
	vstore   *vectorstore.Store
	search   searchprovider.Provider
	pool     *llmpool.Pool
	embedder embed.Client
	cfg      *config.Config
	log      *slog.Logger
}

// Deps bundles the Engine's collaborators. Search may be nil, disabling
// the web path; VStore nil disables the vector path; Pool may be nil.
type Deps struct {
	VStore   *vectorstore.Store
	Search   searchprovider.Provider
	Pool     *llmpool.Pool
	Embedder embed.Client
	Config   *config.Config
	Log      *slog.Logger
}

func New(d Deps) *Engine {
	return &Engine{vstore: d.VStore, search: d.Search, pool: d.Pool, embedder: d.Embedder, cfg: d.Config, log: d.Log}
}

// Filters narrows the candidate set before scoring.
type Filters struct {
	Industry string
}

// Discover finds up to k companies similar to queryRef (a website, if
// known to the vector store, or a bare company name), via the
// requested source.
func (e *Engine) Discover(ctx context.Context, queryRef string, filters Filters, k int, source Source) ([]Candidate, error) {
	if k <= 0 {
		k = 10
	}

	query, queryVec, err := e.resolveQuery(ctx, queryRef)
	if err != nil {
		return nil, err
	}

	switch source {
	case SourceVector:
		return e.vectorPath(ctx, query, queryVec, filters, k)
	case SourceWeb:
		return e.webPath(ctx, query, k)
	case SourceHybrid, "":
		return e.hybridPath(ctx, query, queryVec, filters, k)
	default:
		return nil, errkind.New(errkind.Input, "invalid_source", "similarity", fmt.Sprintf("unknown source %q", source), nil)
	}
}

// resolveQuery looks up an existing record for queryRef, falling back
// to embedding the bare name when nothing is stored yet.
func (e *Engine) resolveQuery(ctx context.Context, queryRef string) (*model.CompanyRecord, []float64, error) {
	if e.vstore != nil {
		if rec, err := e.vstore.Fetch(ctx, queryRef); err == nil && rec != nil {
			return rec, rec.Embedding, nil
		}
	}
	query := &model.CompanyRecord{Name: queryRef}
	if e.embedder == nil {
		return query, nil, nil
	}
	vec, err := e.embedder.Embed(ctx, queryRef)
	if err != nil {
		e.log.Warn("failed to embed similarity query, continuing without a vector", "query", queryRef, "error", err)
		return query, nil, nil
	}
	return query, vec, nil
}

func (e *Engine) vectorPath(ctx context.Context, query *model.CompanyRecord, queryVec []float64, filters Filters, k int) ([]Candidate, error) {
	if e.vstore == nil || len(queryVec) == 0 {
		return nil, nil
	}
	threshold := e.cfg.Similarity.Threshold
	if threshold <= 0 {
		threshold = 0.6
	}

	neighbors, err := e.vstore.Query(ctx, queryVec, vectorstore.QueryOptions{
		IndustryFilter: filters.Industry,
		TopK:           k,
		ExcludeWebsite: query.Website,
	})
	if err != nil {
		return nil, errkind.New(errkind.Transient, "vector_query_failed", "similarity", "vector similarity query failed", err)
	}

	out := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Score < threshold {
			continue
		}
		result := Score(query, n.Record, e.cfg.Similarity.Weights)
		out = append(out, Candidate{
			ID:         canonicalID(n.Record.Name, n.Record.Website),
			Name:       n.Record.Name,
			Website:    n.Record.Website,
			Record:     n.Record,
			Score:      n.Score,
			Factors:    result.Factors,
			Confidence: result.Confidence,
			Source:     SourceVector,
		})
	}
	sortCandidates(out)
	return truncate(out, k), nil
}

func (e *Engine) webPath(ctx context.Context, query *model.CompanyRecord, k int) ([]Candidate, error) {
	if e.search == nil {
		return nil, nil
	}
	maxQueries := e.cfg.Similarity.MaxWebSearchQueries
	if maxQueries <= 0 {
		maxQueries = 3
	}

	queries := buildWebQueries(query, maxQueries)
	seen := make(map[string]struct{})
	out := make([]Candidate, 0, k)

	for _, q := range queries {
		results, err := e.search.Search(ctx, &searchprovider.Request{Query: q, Limit: k, IgnoreInvalidURL: true})
		if err != nil {
			e.log.Warn("web similarity search failed, skipping query", "query", q, "error", err)
			continue
		}
		for _, r := range results.Web {
			name := r.Title
			website := r.Domain
			if website == "" {
				website = r.URL
			}
			id := canonicalID(name, website)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			var rec *model.CompanyRecord
			if e.vstore != nil {
				if fetched, err := e.vstore.Fetch(ctx, website); err == nil {
					rec = fetched
				}
			}

			var result ScoreResult
			if rec != nil {
				result = Score(query, rec, e.cfg.Similarity.Weights)
			} else {
				result = ScoreResult{Score: levenshteinSimilarity(strings.ToLower(query.Name), strings.ToLower(name)) * 0.5, Confidence: 0.3}
			}

			out = append(out, Candidate{
				ID:         id,
				Name:       name,
				Website:    website,
				Record:     rec,
				Score:      result.Score,
				Factors:    result.Factors,
				Confidence: result.Confidence,
				Source:     SourceWeb,
			})
		}
	}

	sortCandidates(out)
	return truncate(out, k), nil
}

func buildWebQueries(query *model.CompanyRecord, maxQueries int) []string {
	base := strings.TrimSpace(query.Name)
	if base == "" {
		base = query.Website
	}
	candidates := []string{
		fmt.Sprintf("%s competitors", base),
		fmt.Sprintf("companies similar to %s", base),
		fmt.Sprintf("%s alternatives", base),
	}
	if len(candidates) > maxQueries {
		candidates = candidates[:maxQueries]
	}
	return candidates
}

func (e *Engine) hybridPath(ctx context.Context, query *model.CompanyRecord, queryVec []float64, filters Filters, k int) ([]Candidate, error) {
	var vectorResults, webResults []Candidate
	var vectorErr, webErr error
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorResults, vectorErr = e.vectorPath(ctx, query, queryVec, filters, k)
	}()
	go func() {
		defer wg.Done()
		webResults, webErr = e.webPath(ctx, query, k)
	}()
	wg.Wait()

	if vectorErr != nil && webErr != nil {
		return nil, vectorErr
	}
	if vectorErr != nil {
		e.log.Warn("vector path failed during hybrid discovery", "error", vectorErr)
	}
	if webErr != nil {
		e.log.Warn("web path failed during hybrid discovery", "error", webErr)
	}

	merged := make(map[string]Candidate, len(vectorResults)+len(webResults))
	for _, c := range append(vectorResults, webResults...) {
		c.Source = SourceHybrid
		if existing, ok := merged[c.ID]; !ok || c.Score > existing.Score {
			merged[c.ID] = c
		}
	}

	out := make([]Candidate, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sortCandidates(out)
	return truncate(out, k), nil
}

func sortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool { return c[i].Score > c[j].Score })
}

func truncate(c []Candidate, k int) []Candidate {
	if len(c) > k {
		return c[:k]
	}
	return c
}

// Explain produces a short natural-language justification for why
// candidate resembles query, via one additional LLM call issued only
// when the caller asks for an explanation.
func Explain(ctx context.Context, pool *llmpool.Pool, query *model.CompanyRecord, candidate Candidate) (string, error) {
	if pool == nil {
		return "", errkind.New(errkind.Internal, "no_pool", "similarity", "no llm pool configured for explanations", nil)
	}
	systemPrompt := "You write one concise sentence explaining why two companies are similar, grounded only in the facts given."
	userPrompt := fmt.Sprintf("Company A: %s (%s). Company B: %s (%s). Score breakdown: %+v. Write one sentence.",
		query.Name, query.Industry, candidate.Name, candidate.Record, candidate.Factors)

	resp, err := pool.Submit(ctx, llmpool.Task{
		Phase: "similarity_explanation",
		Request: llmprovider.Request{
			SystemPrompt: systemPrompt,
			UserPrompt:   userPrompt,
			MaxTokens:    128,
		},
		Validate: func(r llmprovider.Response) error {
			if strings.TrimSpace(r.Content) == "" {
				return fmt.Errorf("empty explanation")
			}
			return nil
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
