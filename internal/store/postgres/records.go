package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/AIDiaryET/counselor-crawler/internal/counselor"
	"github.com/AIDiaryET/counselor-crawler/internal/store"
)

const recordColumns = `id, identity, source, source_id, detail_url, name, gender,
license_no, license_type, email, targets, specialty, regions, fee,
profile_image, created_at, updated_at`

// RecordStore persists directory records in the counselors table.
type RecordStore struct {
	db DB
}

// NewRecordStore wraps a pool (or a mock) as a store.RecordStore.
func NewRecordStore(db DB) *RecordStore {
	return &RecordStore{db: db}
}

// GetBySourceID fetches a record by its origin pair.
func (s *RecordStore) GetBySourceID(ctx context.Context, source, sourceID string) (*counselor.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM counselors WHERE source = $1 AND source_id = $2`
	rec, err := scanRecord(s.db.QueryRow(ctx, query, source, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get record %s/%s: %w", source, sourceID, err)
	}
	return rec, nil
}

// Save upserts the record by identity. created_at is written once; updated_at
// refreshes on every persist.
func (s *RecordStore) Save(ctx context.Context, rec *counselor.Record) error {
	if rec.Identity == "" {
		rec.Identity = rec.DeriveIdentity()
	}
	query := `
INSERT INTO counselors (
	identity, source, source_id, detail_url, name, gender,
	license_no, license_type, email, targets, specialty, regions, fee,
	profile_image, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW(),NOW())
ON CONFLICT (identity) DO UPDATE SET
	source = EXCLUDED.source,
	source_id = EXCLUDED.source_id,
	detail_url = EXCLUDED.detail_url,
	name = EXCLUDED.name,
	gender = EXCLUDED.gender,
	license_no = EXCLUDED.license_no,
	license_type = EXCLUDED.license_type,
	email = EXCLUDED.email,
	targets = EXCLUDED.targets,
	specialty = EXCLUDED.specialty,
	regions = EXCLUDED.regions,
	fee = EXCLUDED.fee,
	profile_image = EXCLUDED.profile_image,
	updated_at = NOW()
RETURNING id`
	err := s.db.QueryRow(ctx, query,
		rec.Identity,
		rec.Source,
		rec.SourceID,
		rec.DetailURL,
		rec.Name,
		rec.Gender,
		rec.LicenseNo,
		rec.LicenseType,
		rec.Email,
		rec.Targets,
		rec.Specialty,
		rec.Regions,
		rec.Fee,
		rec.ProfileImage,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.Identity, err)
	}
	return nil
}

// ListPage returns one stable-ordered iteration batch.
func (s *RecordStore) ListPage(ctx context.Context, offset, limit int) ([]counselor.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM counselors ORDER BY id LIMIT $1 OFFSET $2`
	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return collectRecords(rows)
}

// ListRecent pages records by updated_at descending.
func (s *RecordStore) ListRecent(ctx context.Context, page, size int) ([]counselor.Record, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM counselors`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}
	query := `SELECT ` + recordColumns + ` FROM counselors ORDER BY updated_at DESC LIMIT $1 OFFSET $2`
	rows, err := s.db.Query(ctx, query, size, page*size)
	if err != nil {
		return nil, 0, fmt.Errorf("list recent records: %w", err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// Search filters with the query's predicate, ordered by its whitelisted sort
// key.
func (s *RecordStore) Search(ctx context.Context, q store.Query, page, size int) ([]counselor.Record, int64, error) {
	where, args := q.Build(1)
	clause := ""
	if where != "" {
		clause = " WHERE " + where
	}

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM counselors`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search: %w", err)
	}

	limitPh := len(args) + 1
	query := fmt.Sprintf(`SELECT %s FROM counselors%s ORDER BY %s LIMIT $%d OFFSET $%d`,
		recordColumns, clause, q.OrderBy(), limitPh, limitPh+1)
	rows, err := s.db.Query(ctx, query, append(args, size, page*size)...)
	if err != nil {
		return nil, 0, fmt.Errorf("search records: %w", err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// Stats aggregates fill-rate counters over the whole table.
func (s *RecordStore) Stats(ctx context.Context) (store.FillStats, error) {
	query := `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE email <> ''),
	COUNT(*) FILTER (WHERE specialty <> ''),
	COUNT(*) FILTER (WHERE regions <> '')
FROM counselors`
	var st store.FillStats
	if err := s.db.QueryRow(ctx, query).Scan(
		&st.Total, &st.EmailFilled, &st.SpecialtyFilled, &st.RegionsFilled,
	); err != nil {
		return store.FillStats{}, fmt.Errorf("record stats: %w", err)
	}
	st.EmailMissing = st.Total - st.EmailFilled
	st.SpecialtyMissed = st.Total - st.SpecialtyFilled
	if st.Total > 0 {
		st.EmailFilledRate = float64(st.EmailFilled) / float64(st.Total) * 100
	}
	return st, nil
}

func scanRecord(row pgx.Row) (*counselor.Record, error) {
	var rec counselor.Record
	err := row.Scan(
		&rec.ID, &rec.Identity, &rec.Source, &rec.SourceID, &rec.DetailURL,
		&rec.Name, &rec.Gender, &rec.LicenseNo, &rec.LicenseType, &rec.Email,
		&rec.Targets, &rec.Specialty, &rec.Regions, &rec.Fee,
		&rec.ProfileImage, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]counselor.Record, error) {
	defer rows.Close()
	var out []counselor.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}
