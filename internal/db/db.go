// Package db is the thin, typed query layer underneath internal/store.
// It is hand-authored in the same generated-code idiom sqlc produces
// (a Queries struct wrapping a DBTX, one method per statement, $n
// placeholders) because raito's own sqlc-generated internal/db came
// with no .sql query files or sqlc.yaml, so generating it for real is
// not possible here. Rather than introduce a new ORM dependency, this
// package reproduces the pattern by hand against the schema in
// db/migrations.
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, matching sqlc's
// generated interface so Queries can run inside or outside a
// transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries is the generated-style query struct.
type Queries struct {
	db DBTX
}

func New(dbtx DBTX) *Queries {
	return &Queries{db: dbtx}
}

// Company mirrors the companies table row shape.
type Company struct {
	ID                           uuid.UUID
	Name                         string
	Website                      string
	Industry                     sql.NullString
	BusinessModel                sql.NullString
	TargetMarket                 sql.NullString
	CompanyStage                 sql.NullString
	CompanySize                  sql.NullString
	Description                  sql.NullString
	ValueProposition             sql.NullString
	CompanyCulture               sql.NullString
	KeyServices                  pqtype.NullRawMessage
	CompetitiveAdvantages        pqtype.NullRawMessage
	TechStack                    pqtype.NullRawMessage
	Certifications               pqtype.NullRawMessage
	Partnerships                 pqtype.NullRawMessage
	Awards                       pqtype.NullRawMessage
	LeadershipTeam               pqtype.NullRawMessage
	RecentNews                   pqtype.NullRawMessage
	SocialMedia                  pqtype.NullRawMessage
	ContactInfo                  pqtype.NullRawMessage
	KeyDecisionMakers            pqtype.NullRawMessage
	FoundingYear                 sql.NullInt32
	HasChatWidget                bool
	HasForms                     bool
	HasJobListings               bool
	IsSaas                       bool
	SaasClassification           sql.NullString
	ClassificationConfidence     sql.NullFloat64
	ClassificationJustification  sql.NullString
	Embedding                    pqtype.NullRawMessage
	PagesCrawled                 pqtype.NullRawMessage
	CrawlDepth                   int32
	CrawlDuration                sql.NullFloat64
	ScrapeStatus                 string
	ScrapeError                  sql.NullString
	CreatedAt                    time.Time
	LastUpdated                  time.Time
}

// InsertCompanyParams is the full set of columns an upsert writes.
type InsertCompanyParams struct {
	ID                           uuid.UUID
	Name                         string
	Website                      string
	Industry                     sql.NullString
	BusinessModel                sql.NullString
	TargetMarket                 sql.NullString
	CompanyStage                 sql.NullString
	CompanySize                  sql.NullString
	Description                  sql.NullString
	ValueProposition             sql.NullString
	CompanyCulture               sql.NullString
	KeyServices                  pqtype.NullRawMessage
	CompetitiveAdvantages        pqtype.NullRawMessage
	TechStack                    pqtype.NullRawMessage
	Certifications               pqtype.NullRawMessage
	Partnerships                 pqtype.NullRawMessage
	Awards                       pqtype.NullRawMessage
	LeadershipTeam               pqtype.NullRawMessage
	RecentNews                   pqtype.NullRawMessage
	SocialMedia                  pqtype.NullRawMessage
	ContactInfo                  pqtype.NullRawMessage
	KeyDecisionMakers            pqtype.NullRawMessage
	FoundingYear                 sql.NullInt32
	HasChatWidget                bool
	HasForms                     bool
	HasJobListings               bool
	IsSaas                       bool
	SaasClassification           sql.NullString
	ClassificationConfidence     sql.NullFloat64
	ClassificationJustification  sql.NullString
	Embedding                    pqtype.NullRawMessage
	PagesCrawled                 pqtype.NullRawMessage
	CrawlDepth                   int32
	CrawlDuration                sql.NullFloat64
	ScrapeStatus                 string
	ScrapeError                  sql.NullString
}

const upsertCompanySQL = `
INSERT INTO companies (
	id, name, website, industry, business_model, target_market, company_stage, company_size,
	description, value_proposition, company_culture, key_services, competitive_advantages,
	tech_stack, certifications, partnerships, awards, leadership_team, recent_news,
	social_media, contact_info, key_decision_makers, founding_year, has_chat_widget, has_forms,
	has_job_listings, is_saas, saas_classification, classification_confidence,
	classification_justification, embedding, pages_crawled, crawl_depth, crawl_duration,
	scrape_status, scrape_error, created_at, last_updated
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,
	$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36, now(), now()
)
ON CONFLICT (website) DO UPDATE SET
	name = EXCLUDED.name, industry = EXCLUDED.industry, business_model = EXCLUDED.business_model,
	target_market = EXCLUDED.target_market, company_stage = EXCLUDED.company_stage,
	company_size = EXCLUDED.company_size, description = EXCLUDED.description,
	value_proposition = EXCLUDED.value_proposition, company_culture = EXCLUDED.company_culture,
	key_services = EXCLUDED.key_services, competitive_advantages = EXCLUDED.competitive_advantages,
	tech_stack = EXCLUDED.tech_stack, certifications = EXCLUDED.certifications,
	partnerships = EXCLUDED.partnerships, awards = EXCLUDED.awards,
	leadership_team = EXCLUDED.leadership_team, recent_news = EXCLUDED.recent_news,
	social_media = EXCLUDED.social_media, contact_info = EXCLUDED.contact_info,
	key_decision_makers = EXCLUDED.key_decision_makers, founding_year = EXCLUDED.founding_year,
	has_chat_widget = EXCLUDED.has_chat_widget, has_forms = EXCLUDED.has_forms,
	has_job_listings = EXCLUDED.has_job_listings, is_saas = EXCLUDED.is_saas,
	saas_classification = EXCLUDED.saas_classification,
	classification_confidence = EXCLUDED.classification_confidence,
	classification_justification = EXCLUDED.classification_justification,
	embedding = EXCLUDED.embedding, pages_crawled = EXCLUDED.pages_crawled,
	crawl_depth = EXCLUDED.crawl_depth, crawl_duration = EXCLUDED.crawl_duration,
	scrape_status = EXCLUDED.scrape_status, scrape_error = EXCLUDED.scrape_error,
	last_updated = now()
RETURNING id, created_at, last_updated
`

// UpsertCompany inserts a company row or updates it on website conflict,
// returning the persisted id and timestamps.
func (q *Queries) UpsertCompany(ctx context.Context, arg InsertCompanyParams) (uuid.UUID, time.Time, time.Time, error) {
	row := q.db.QueryRowContext(ctx, upsertCompanySQL,
		arg.ID, arg.Name, arg.Website, arg.Industry, arg.BusinessModel, arg.TargetMarket, arg.CompanyStage,
		arg.CompanySize, arg.Description, arg.ValueProposition, arg.CompanyCulture, arg.KeyServices,
		arg.CompetitiveAdvantages, arg.TechStack, arg.Certifications, arg.Partnerships, arg.Awards,
		arg.LeadershipTeam, arg.RecentNews, arg.SocialMedia, arg.ContactInfo, arg.KeyDecisionMakers,
		arg.FoundingYear, arg.HasChatWidget, arg.HasForms, arg.HasJobListings, arg.IsSaas,
		arg.SaasClassification, arg.ClassificationConfidence, arg.ClassificationJustification,
		arg.Embedding, arg.PagesCrawled, arg.CrawlDepth, arg.CrawlDuration, arg.ScrapeStatus, arg.ScrapeError,
	)

	var id uuid.UUID
	var createdAt, lastUpdated time.Time
	if err := row.Scan(&id, &createdAt, &lastUpdated); err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, err
	}
	return id, createdAt, lastUpdated, nil
}

const selectCompanyColumns = `
id, name, website, industry, business_model, target_market, company_stage, company_size,
description, value_proposition, company_culture, key_services, competitive_advantages,
tech_stack, certifications, partnerships, awards, leadership_team, recent_news,
social_media, contact_info, key_decision_makers, founding_year, has_chat_widget, has_forms,
has_job_listings, is_saas, saas_classification, classification_confidence,
classification_justification, embedding, pages_crawled, crawl_depth, crawl_duration,
scrape_status, scrape_error, created_at, last_updated
`

func scanCompany(row interface {
	Scan(dest ...any) error
}) (Company, error) {
	var c Company
	err := row.Scan(
		&c.ID, &c.Name, &c.Website, &c.Industry, &c.BusinessModel, &c.TargetMarket, &c.CompanyStage,
		&c.CompanySize, &c.Description, &c.ValueProposition, &c.CompanyCulture, &c.KeyServices,
		&c.CompetitiveAdvantages, &c.TechStack, &c.Certifications, &c.Partnerships, &c.Awards,
		&c.LeadershipTeam, &c.RecentNews, &c.SocialMedia, &c.ContactInfo, &c.KeyDecisionMakers,
		&c.FoundingYear, &c.HasChatWidget, &c.HasForms, &c.HasJobListings, &c.IsSaas,
		&c.SaasClassification, &c.ClassificationConfidence, &c.ClassificationJustification,
		&c.Embedding, &c.PagesCrawled, &c.CrawlDepth, &c.CrawlDuration, &c.ScrapeStatus, &c.ScrapeError,
		&c.CreatedAt, &c.LastUpdated,
	)
	return c, err
}

// GetCompanyByID fetches one company by id.
func (q *Queries) GetCompanyByID(ctx context.Context, id uuid.UUID) (Company, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+selectCompanyColumns+" FROM companies WHERE id = $1", id)
	return scanCompany(row)
}

// GetCompanyByWebsite fetches one company by its normalized website.
func (q *Queries) GetCompanyByWebsite(ctx context.Context, website string) (Company, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+selectCompanyColumns+" FROM companies WHERE website = $1", website)
	return scanCompany(row)
}

// ListCompaniesWithEmbedding returns every company that has a non-empty
// embedding, used by internal/vectorstore to build its candidate set.
// industryFilter, when non-empty, restricts the metadata pre-filter.
func (q *Queries) ListCompaniesWithEmbedding(ctx context.Context, industryFilter string, limit int32) ([]Company, error) {
	query := "SELECT " + selectCompanyColumns + ` FROM companies WHERE embedding IS NOT NULL AND jsonb_array_length(embedding) > 0`
	args := []any{}
	argPos := 1
	if industryFilter != "" {
		query += " AND industry = $" + itoa(argPos)
		args = append(args, industryFilter)
		argPos++
	}
	query += " ORDER BY last_updated DESC LIMIT $" + itoa(argPos)
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCompanies returns a page of companies ordered by most recently
// updated first, for callers (batch reporting, admin listing) that need
// the full corpus rather than the embedding-only candidate set
// ListCompaniesWithEmbedding serves.
func (q *Queries) ListCompanies(ctx context.Context, limit, offset int32) ([]Company, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+selectCompanyColumns+" FROM companies ORDER BY last_updated DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountCompanies returns the total number of persisted company rows.
func (q *Queries) CountCompanies(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM companies").Scan(&n)
	return n, err
}

// DeleteCompaniesOlderThan deletes companies last updated before cutoff,
// supporting the retention sweep adapted from internal/jobs/retention.go.
func (q *Queries) DeleteCompaniesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, "DELETE FROM companies WHERE last_updated < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteCompanyByID deletes one company row by primary key, reporting
// whether a row was actually removed.
func (q *Queries) DeleteCompanyByID(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := q.db.ExecContext(ctx, "DELETE FROM companies WHERE id = $1", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
