// Package store wraps Postgres persistence for research output.
// Grounded on raito/internal/store/store.go (a struct wrapping *sql.DB
// that delegates to a generated-style Queries helper, nullable-field
// conversion at the boundary), narrowed from job/tenant/API-key
// bookkeeping to the single CompanyRecord persistence surface this
// module needs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"

	"researchengine/internal/db"
	"researchengine/internal/model"
)

// Store persists model.CompanyRecord values.
type Store struct {
	DB *sql.DB
}

// New wraps an already-opened *sql.DB (pgx stdlib driver).
func New(database *sql.DB) *Store {
	return &Store{DB: database}
}

func (s *Store) queries() *db.Queries {
	return db.New(s.DB)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt32(p *int) sql.NullInt32 {
	if p == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*p), Valid: true}
}

// nullJSON marshals v into a pqtype.NullRawMessage, leaving Valid false
// for a nil or empty-collection v so the column is written as SQL NULL
// rather than a JSON "null" literal.
func nullJSON(v any) pqtype.NullRawMessage {
	if v == nil || isEmptyCollection(v) {
		return pqtype.NullRawMessage{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: b, Valid: true}
}

func isEmptyCollection(v any) bool {
	switch t := v.(type) {
	case []string:
		return len(t) == 0
	case []float64:
		return len(t) == 0
	case map[string]string:
		return len(t) == 0
	}
	return false
}

// UpsertCompany persists rec, keyed by its normalized website, and
// writes the stored id and the row's timestamps back onto rec.
func (s *Store) UpsertCompany(ctx context.Context, rec *model.CompanyRecord) error {
	params := db.InsertCompanyParams{
		ID:                          rec.ID,
		Name:                        rec.Name,
		Website:                     rec.Website,
		Industry:                    nullString(rec.Industry),
		BusinessModel:               nullString(rec.BusinessModel),
		TargetMarket:                nullString(rec.TargetMarket),
		CompanyStage:                nullString(rec.CompanyStage),
		CompanySize:                 nullString(rec.CompanySize),
		Description:                 nullString(rec.Description),
		ValueProposition:            nullString(rec.ValueProposition),
		CompanyCulture:              nullString(rec.CompanyCulture),
		KeyServices:                 nullJSON(rec.KeyServices),
		CompetitiveAdvantages:       nullJSON(rec.CompetitiveAdvantages),
		TechStack:                   nullJSON(rec.TechStack),
		Certifications:              nullJSON(rec.Certifications),
		Partnerships:                nullJSON(rec.Partnerships),
		Awards:                      nullJSON(rec.Awards),
		LeadershipTeam:              nullJSON(rec.LeadershipTeam),
		RecentNews:                  nullJSON(rec.RecentNews),
		SocialMedia:                 nullJSON(rec.SocialMedia),
		ContactInfo:                 nullJSON(rec.ContactInfo),
		KeyDecisionMakers:           nullJSON(rec.KeyDecisionMakers),
		FoundingYear:                nullInt32(rec.FoundingYear),
		HasChatWidget:               rec.HasChatWidget,
		HasForms:                    rec.HasForms,
		HasJobListings:              rec.HasJobListings,
		IsSaas:                      rec.IsSaaS,
		SaasClassification:          nullString(rec.SaaSClassification),
		ClassificationConfidence:    sql.NullFloat64{Float64: rec.ClassificationConfidence, Valid: rec.ClassificationConfidence != 0},
		ClassificationJustification: nullString(rec.ClassificationJustification),
		Embedding:                   nullJSON(rec.Embedding),
		PagesCrawled:                nullJSON(rec.PagesCrawled),
		CrawlDepth:                  int32(rec.CrawlDepth),
		CrawlDuration:               sql.NullFloat64{Float64: rec.CrawlDuration, Valid: rec.CrawlDuration != 0},
		ScrapeStatus:                string(rec.ScrapeStatus),
		ScrapeError:                 nullString(rec.ScrapeError),
	}

	id, createdAt, lastUpdated, err := s.queries().UpsertCompany(ctx, params)
	if err != nil {
		return err
	}
	rec.ID = id
	rec.CreatedAt = createdAt
	rec.LastUpdated = lastUpdated
	return nil
}

// GetCompanyByWebsite fetches a previously persisted record, used by
// internal/vectorstore's Fetch.
func (s *Store) GetCompanyByWebsite(ctx context.Context, website string) (*model.CompanyRecord, error) {
	row, err := s.queries().GetCompanyByWebsite(ctx, website)
	if err != nil {
		return nil, err
	}
	return rowToRecord(row), nil
}

// GetCompanyByID fetches a record by primary key.
func (s *Store) GetCompanyByID(ctx context.Context, id uuid.UUID) (*model.CompanyRecord, error) {
	row, err := s.queries().GetCompanyByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return rowToRecord(row), nil
}

// ListCompaniesWithEmbedding returns the candidate set internal/vectorstore
// scans for cosine similarity, optionally pre-filtered by industry.
func (s *Store) ListCompaniesWithEmbedding(ctx context.Context, industryFilter string, limit int) ([]*model.CompanyRecord, error) {
	rows, err := s.queries().ListCompaniesWithEmbedding(ctx, industryFilter, int32(limit))
	if err != nil {
		return nil, err
	}
	out := make([]*model.CompanyRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToRecord(row))
	}
	return out, nil
}

// ListCompanies returns a page of persisted records, most recently
// updated first.
func (s *Store) ListCompanies(ctx context.Context, limit, offset int) ([]*model.CompanyRecord, error) {
	rows, err := s.queries().ListCompanies(ctx, int32(limit), int32(offset))
	if err != nil {
		return nil, err
	}
	out := make([]*model.CompanyRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToRecord(row))
	}
	return out, nil
}

// CountCompanies returns the total number of persisted records.
func (s *Store) CountCompanies(ctx context.Context) (int64, error) {
	return s.queries().CountCompanies(ctx)
}

// DeleteCompaniesOlderThan removes records whose last_updated predates
// cutoff, adapted from internal/jobs/retention.go's sweep.
func (s *Store) DeleteCompaniesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.queries().DeleteCompaniesOlderThan(ctx, cutoff)
}

// DeleteCompanyByID removes a single company record by id, reporting
// whether a row actually existed.
func (s *Store) DeleteCompanyByID(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.queries().DeleteCompanyByID(ctx, id)
}

func rowToRecord(row db.Company) *model.CompanyRecord {
	rec := &model.CompanyRecord{
		ID:                          row.ID,
		Name:                        row.Name,
		Website:                     row.Website,
		Industry:                    row.Industry.String,
		BusinessModel:               row.BusinessModel.String,
		TargetMarket:                row.TargetMarket.String,
		CompanyStage:                row.CompanyStage.String,
		CompanySize:                 row.CompanySize.String,
		Description:                 row.Description.String,
		ValueProposition:            row.ValueProposition.String,
		CompanyCulture:              row.CompanyCulture.String,
		HasChatWidget:               row.HasChatWidget,
		HasForms:                    row.HasForms,
		HasJobListings:              row.HasJobListings,
		IsSaaS:                      row.IsSaas,
		SaaSClassification:          row.SaasClassification.String,
		ClassificationConfidence:    row.ClassificationConfidence.Float64,
		ClassificationJustification: row.ClassificationJustification.String,
		CrawlDepth:                  int(row.CrawlDepth),
		CrawlDuration:               row.CrawlDuration.Float64,
		ScrapeStatus:                model.ScrapeStatus(row.ScrapeStatus),
		ScrapeError:                 row.ScrapeError.String,
		CreatedAt:                   row.CreatedAt,
		LastUpdated:                 row.LastUpdated,
	}
	if row.FoundingYear.Valid {
		y := int(row.FoundingYear.Int32)
		rec.FoundingYear = &y
	}
	unmarshalIfValid(row.KeyServices, &rec.KeyServices)
	unmarshalIfValid(row.CompetitiveAdvantages, &rec.CompetitiveAdvantages)
	unmarshalIfValid(row.TechStack, &rec.TechStack)
	unmarshalIfValid(row.Certifications, &rec.Certifications)
	unmarshalIfValid(row.Partnerships, &rec.Partnerships)
	unmarshalIfValid(row.Awards, &rec.Awards)
	unmarshalIfValid(row.LeadershipTeam, &rec.LeadershipTeam)
	unmarshalIfValid(row.RecentNews, &rec.RecentNews)
	unmarshalIfValid(row.SocialMedia, &rec.SocialMedia)
	unmarshalIfValid(row.ContactInfo, &rec.ContactInfo)
	unmarshalIfValid(row.KeyDecisionMakers, &rec.KeyDecisionMakers)
	unmarshalIfValid(row.Embedding, &rec.Embedding)
	unmarshalIfValid(row.PagesCrawled, &rec.PagesCrawled)
	return rec
}

func unmarshalIfValid(v pqtype.NullRawMessage, dst any) {
	if !v.Valid {
		return
	}
	_ = json.Unmarshal(v.RawMessage, dst)
}
