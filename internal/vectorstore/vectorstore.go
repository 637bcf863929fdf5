// Package vectorstore implements the vector store adapter: persisting
// each CompanyRecord's embedding alongside its metadata and answering
// nearest-neighbor queries by cosine similarity.
//
// No vendor vector-database SDK appears anywhere in the dependency
// pack, and a dedicated vendor SDK is out of scope for this core, so
// this adapter stores embeddings as a jsonb column on the existing
// companies table (internal/store) and computes cosine similarity in
// Go over a metadata-filtered candidate set. This is a deliberate,
// documented substitute for a production ANN index, adequate for the
// small-to-medium corpora this engine targets.
package vectorstore

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"

	"researchengine/internal/model"
	"researchengine/internal/store"
)

// Store is the vector-store capability backed by internal/store.
type Store struct {
	db *store.Store
}

func New(db *store.Store) *Store {
	return &Store{db: db}
}

// Upsert persists rec (including its embedding) keyed by website.
func (s *Store) Upsert(ctx context.Context, rec *model.CompanyRecord) error {
	return s.db.UpsertCompany(ctx, rec)
}

// Neighbor is one candidate returned by a similarity Query, paired
// with its cosine similarity score against the query vector.
type Neighbor struct {
	Record *model.CompanyRecord
	Score  float64
}

// QueryOptions bounds a nearest-neighbor search.
type QueryOptions struct {
	IndustryFilter string
	CandidateLimit int
	TopK           int
	ExcludeWebsite string
}

// Query returns the TopK companies in the (optionally industry-
// filtered) candidate set whose embeddings are most cosine-similar to
// vec, sorted descending by score.
func (s *Store) Query(ctx context.Context, vec []float64, opts QueryOptions) ([]Neighbor, error) {
	candidateLimit := opts.CandidateLimit
	if candidateLimit <= 0 {
		candidateLimit = 500
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}

	candidates, err := s.db.ListCompaniesWithEmbedding(ctx, opts.IndustryFilter, candidateLimit)
	if err != nil {
		return nil, err
	}

	neighbors := make([]Neighbor, 0, len(candidates))
	for _, c := range candidates {
		if opts.ExcludeWebsite != "" && c.Website == opts.ExcludeWebsite {
			continue
		}
		if len(c.Embedding) != len(vec) || len(vec) == 0 {
			continue
		}
		neighbors = append(neighbors, Neighbor{Record: c, Score: CosineSimilarity(vec, c.Embedding)})
	}

	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].Score > neighbors[j].Score })
	if len(neighbors) > topK {
		neighbors = neighbors[:topK]
	}
	return neighbors, nil
}

// CosineSimilarity computes the cosine similarity between two vectors
// of equal length, returning 0 if either is the zero vector.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Fetch retrieves one company's current record by website, used by
// internal/similarity to resolve a query website and to look up web
// hits.
func (s *Store) Fetch(ctx context.Context, website string) (*model.CompanyRecord, error) {
	return s.db.GetCompanyByWebsite(ctx, website)
}

// FetchByID retrieves one company's current record by primary key.
func (s *Store) FetchByID(ctx context.Context, id uuid.UUID) (*model.CompanyRecord, error) {
	return s.db.GetCompanyByID(ctx, id)
}

// Pagination bounds a List call.
type Pagination struct {
	Limit  int
	Offset int
}

// List returns a page of persisted records, most recently updated
// first, independent of whether they carry an embedding.
func (s *Store) List(ctx context.Context, page Pagination) ([]*model.CompanyRecord, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	return s.db.ListCompanies(ctx, limit, page.Offset)
}

// Count returns the total number of persisted records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.db.CountCompanies(ctx)
}

// Delete removes one company's record (and with it, its embedding
// column) by id. There is no separate vector index to clean up:
// embeddings live as a column on the same row, so deleting the row is
// sufficient.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.db.DeleteCompanyByID(ctx, id)
}
