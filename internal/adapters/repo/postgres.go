package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gettixvp/newtg/internal/infra/metrics"
)

// Postgres реализует хранилища каталога и заявок на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const schema = `
CREATE TABLE IF NOT EXISTS ads (
	link        TEXT PRIMARY KEY,
	source      TEXT        NOT NULL,
	city        TEXT        NOT NULL,
	price       INTEGER     NOT NULL CHECK (price > 0),
	rooms       INTEGER,
	address     TEXT        NOT NULL,
	image       TEXT,
	description TEXT        NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ads_city_created ON ads (city, created_at DESC);

CREATE TABLE IF NOT EXISTS new_ads (
	link         TEXT        NOT NULL,
	requester_id TEXT        NOT NULL,
	source       TEXT        NOT NULL,
	city         TEXT        NOT NULL,
	price        INTEGER     NOT NULL,
	rooms        INTEGER,
	address      TEXT        NOT NULL,
	image        TEXT,
	description  TEXT        NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (link, requester_id)
);
CREATE INDEX IF NOT EXISTS idx_new_ads_requester ON new_ads (requester_id, created_at DESC);

CREATE TABLE IF NOT EXISTS user_ads (
	id           BIGSERIAL PRIMARY KEY,
	user_id      TEXT        NOT NULL,
	images       TEXT[]      NOT NULL DEFAULT '{}',
	city         TEXT        NOT NULL,
	rooms        INTEGER,
	price        INTEGER     NOT NULL,
	address      TEXT        NOT NULL,
	description  TEXT        NOT NULL DEFAULT '',
	phone        TEXT        NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	status       TEXT        NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
	reviewed_by  BIGINT,
	reviewed_at  TIMESTAMPTZ
);
`

// Migrate создаёт таблицы, если их ещё нет.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, schema)
	metrics.ObserveNetworkRequest("postgres", "migrate", "schema", start, err)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
