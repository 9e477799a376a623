package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/revshare/internal/models"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

const groupColumns = `id, owner_id, publisher_key, group_name, company_name, service_name,
	unit_price::text, unit_type, active, important, created_at, updated_at`

// PostgresGroupRepo implements GroupRepo using PostgreSQL.
type PostgresGroupRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresGroupRepo(pool *pgxpool.Pool) *PostgresGroupRepo {
	return &PostgresGroupRepo{pool: pool}
}

func scanGroup(row pgx.Row) (*models.RevenueShareGroup, error) {
	var g models.RevenueShareGroup
	var id uuid.UUID
	var price, unitType string
	if err := row.Scan(
		&id, &g.Owner, &g.PublisherKey, &g.GroupName, &g.CompanyName, &g.ServiceName,
		&price, &unitType, &g.Active, &g.Important, &g.CreatedAt, &g.UpdatedAt,
	); err != nil {
		return nil, err
	}
	g.ID = id.String()
	g.UnitType = models.UnitType(unitType)
	var err error
	if g.UnitPrice, err = parseDecimal(price); err != nil {
		return nil, fmt.Errorf("invalid unit_price for group %s: %w", g.ID, err)
	}
	return &g, nil
}

func (r *PostgresGroupRepo) ListGroups(ctx context.Context, owner string, activeOnly bool) ([]*models.RevenueShareGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM revenue_share_groups WHERE owner_id = $1`
	if activeOnly {
		query += ` AND active`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.RevenueShareGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *PostgresGroupRepo) GetGroup(ctx context.Context, owner, id string) (*models.RevenueShareGroup, error) {
	gid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	g, err := scanGroup(r.pool.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM revenue_share_groups WHERE id = $1 AND owner_id = $2`,
		gid, owner))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

func (r *PostgresGroupRepo) GetActiveGroupByPublisher(ctx context.Context, owner, publisherKey string) (*models.RevenueShareGroup, error) {
	g, err := scanGroup(r.pool.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM revenue_share_groups
		 WHERE owner_id = $1 AND publisher_key = $2 AND active`,
		owner, publisherKey))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active group: %w", err)
	}
	return g, nil
}

func (r *PostgresGroupRepo) CreateGroup(ctx context.Context, g *models.RevenueShareGroup) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	gid, err := uuid.Parse(g.ID)
	if err != nil {
		return fmt.Errorf("invalid group id: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if g.Active {
		if err := lockActiveGroup(ctx, tx, g.Owner, g.PublisherKey, uuid.Nil); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO revenue_share_groups (id, owner_id, publisher_key, group_name, company_name,
			service_name, unit_price, unit_type, active, important, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $11)
	`, gid, g.Owner, g.PublisherKey, g.GroupName, g.CompanyName,
		g.ServiceName, g.UnitPrice.String(), string(g.UnitType), g.Active, g.Important, now)
	if isUniqueViolation(err) {
		return ErrDuplicateActiveGroup
	}
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit group: %w", err)
	}
	g.CreatedAt, g.UpdatedAt = now, now
	return nil
}

// lockActiveGroup fails with ErrDuplicateActiveGroup when another active group
// exists. The partial unique index backs this up under concurrent writers.
func lockActiveGroup(ctx context.Context, tx pgx.Tx, owner, publisherKey string, except uuid.UUID) error {
	var existing uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT id FROM revenue_share_groups
		WHERE owner_id = $1 AND publisher_key = $2 AND active AND id <> $3
		FOR UPDATE
	`, owner, publisherKey, except).Scan(&existing)
	if err == pgx.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check active group: %w", err)
	}
	return ErrDuplicateActiveGroup
}

func (r *PostgresGroupRepo) UpdateGroup(ctx context.Context, g *models.RevenueShareGroup) error {
	if err := g.Validate(); err != nil {
		return err
	}
	gid, err := uuid.Parse(g.ID)
	if err != nil {
		return fmt.Errorf("group %s: %w", g.ID, ErrNotFound)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if g.Active {
		if err := lockActiveGroup(ctx, tx, g.Owner, g.PublisherKey, gid); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE revenue_share_groups SET
			publisher_key = $3, group_name = $4, company_name = $5, service_name = $6,
			unit_price = $7::numeric, unit_type = $8, active = $9, important = $10, updated_at = $11
		WHERE id = $1 AND owner_id = $2
	`, gid, g.Owner, g.PublisherKey, g.GroupName, g.CompanyName, g.ServiceName,
		g.UnitPrice.String(), string(g.UnitType), g.Active, g.Important, now)
	if isUniqueViolation(err) {
		return ErrDuplicateActiveGroup
	}
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %s: %w", g.ID, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit group: %w", err)
	}
	g.UpdatedAt = now
	return nil
}

func (r *PostgresGroupRepo) DeactivateGroup(ctx context.Context, owner, id string) error {
	gid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE revenue_share_groups SET active = FALSE, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
	`, gid, owner)
	if err != nil {
		return fmt.Errorf("failed to deactivate group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *PostgresGroupRepo) ListMappings(ctx context.Context, owner string) ([]*models.AdUnitMapping, error) {
	return r.queryMappings(ctx, `
		SELECT m.id, m.group_id, m.platform, m.ad_unit_id, m.ad_unit_name, m.active, m.created_at
		FROM ad_unit_mappings m
		JOIN revenue_share_groups g ON g.id = m.group_id
		WHERE g.owner_id = $1 AND g.active AND m.active
		ORDER BY m.platform, m.ad_unit_id
	`, owner)
}

func (r *PostgresGroupRepo) ListGroupMappings(ctx context.Context, owner, groupID string) ([]*models.AdUnitMapping, error) {
	if _, err := r.GetGroup(ctx, owner, groupID); err != nil {
		return nil, err
	}
	return r.queryMappings(ctx, `
		SELECT id, group_id, platform, ad_unit_id, ad_unit_name, active, created_at
		FROM ad_unit_mappings WHERE group_id = $1
		ORDER BY platform, ad_unit_id
	`, groupID)
}

func (r *PostgresGroupRepo) queryMappings(ctx context.Context, query string, args ...interface{}) ([]*models.AdUnitMapping, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ad unit mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*models.AdUnitMapping
	for rows.Next() {
		var m models.AdUnitMapping
		var id, groupID uuid.UUID
		if err := rows.Scan(&id, &groupID, &m.Platform, &m.AdUnitID, &m.AdUnitName, &m.Active, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ID, m.GroupID = id.String(), groupID.String()
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}

func (r *PostgresGroupRepo) AddMapping(ctx context.Context, owner string, m *models.AdUnitMapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if _, err := r.GetGroup(ctx, owner, m.GroupID); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO ad_unit_mappings (id, group_id, platform, ad_unit_id, ad_unit_name, active, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, NOW())
		ON CONFLICT (group_id, platform, ad_unit_id) DO UPDATE SET
			ad_unit_name = EXCLUDED.ad_unit_name,
			active = TRUE
		RETURNING id, created_at
	`, m.ID, m.GroupID, m.Platform, m.AdUnitID, m.AdUnitName).Scan(&id, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert ad unit mapping: %w", err)
	}
	m.ID = id.String()
	m.Active = true
	return nil
}

func (r *PostgresGroupRepo) DeactivateMapping(ctx context.Context, owner, groupID, mappingID string) error {
	if _, err := r.GetGroup(ctx, owner, groupID); err != nil {
		return err
	}
	mid, err := uuid.Parse(mappingID)
	if err != nil {
		return fmt.Errorf("mapping %s: %w", mappingID, ErrNotFound)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE ad_unit_mappings SET active = FALSE WHERE id = $1 AND group_id = $2
	`, mid, groupID)
	if err != nil {
		return fmt.Errorf("failed to deactivate ad unit mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mapping %s: %w", mappingID, ErrNotFound)
	}
	return nil
}
