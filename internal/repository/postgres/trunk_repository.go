package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acme/voice-load-test/internal/domain"
	"github.com/acme/voice-load-test/internal/repository"
)

// TrunkRepository reads SIP trunk definitions. Numbers are a text[] column,
// which is why it talks to the pgx pool directly instead of through sqlx.
type TrunkRepository struct {
	pool *pgxpool.Pool
}

// NewTrunkRepository constructs a new repository.
func NewTrunkRepository(pool *pgxpool.Pool) *TrunkRepository {
	return &TrunkRepository{pool: pool}
}

// Get returns the trunk with the given id.
func (r *TrunkRepository) Get(ctx context.Context, id string) (*domain.Trunk, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, numbers, address, direction
		FROM sip_trunks WHERE id = $1`, id)
	return scanTrunk(row)
}

// FindByNumber returns the trunk of the given direction that owns number.
func (r *TrunkRepository) FindByNumber(ctx context.Context, direction domain.TrunkDirection, number string) (*domain.Trunk, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, numbers, address, direction
		FROM sip_trunks WHERE direction = $1 AND $2 = ANY(numbers)
		ORDER BY id LIMIT 1`, string(direction), number)
	return scanTrunk(row)
}

func scanTrunk(row pgx.Row) (*domain.Trunk, error) {
	var (
		trunk     domain.Trunk
		direction string
	)
	if err := row.Scan(&trunk.ID, &trunk.Name, &trunk.Numbers, &trunk.Address, &direction); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("trunk repo: scan: %w", err)
	}
	trunk.Direction = domain.TrunkDirection(direction)
	return &trunk, nil
}
