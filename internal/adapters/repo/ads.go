package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gettixvp/newtg/internal/domain"
	"github.com/gettixvp/newtg/internal/infra/metrics"
)

var (
	_ domain.AdCatalog     = (*Postgres)(nil)
	_ domain.NewAdTracker  = (*Postgres)(nil)
	_ domain.CatalogReader = (*Postgres)(nil)
)

const adColumns = `link, source, city, price, rooms, address, image, description, created_at`

// Exists проверяет, есть ли ссылка в каталоге.
func (p *Postgres) Exists(ctx context.Context, link string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ads WHERE link = $1)`, link).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "ads_exists", "ads", start, err)
	if err != nil {
		return false, &domain.StorageError{Op: "ads exists", Err: err}
	}
	return exists, nil
}

// ExistingLinks возвращает ссылки из links, которые уже есть в каталоге.
func (p *Postgres) ExistingLinks(ctx context.Context, links []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(links) == 0 {
		return existing, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT link FROM ads WHERE link = ANY($1)`, links)
	metrics.ObserveNetworkRequest("postgres", "ads_existing_links", "ads", start, err)
	if err != nil {
		return nil, &domain.StorageError{Op: "ads existing links", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, &domain.StorageError{Op: "ads existing links", Err: err}
		}
		existing[link] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "ads existing links", Err: err}
	}
	return existing, nil
}

// InsertIfAbsent сохраняет объявления батчем. Конфликт по ссылке не ошибка: строка пропускается.
func (p *Postgres) InsertIfAbsent(ctx context.Context, ads []domain.Ad) (int, error) {
	ads = persistable(ads)
	if len(ads) == 0 {
		return 0, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, ad := range ads {
		batch.Queue(`
INSERT INTO ads (link, source, city, price, rooms, address, image, description)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (link) DO NOTHING
`, ad.Link, ad.Source, string(ad.City), ad.Price, ad.Rooms, ad.Address, ad.Image, ad.Description)
	}
	return p.execBatch(ctx, batch, len(ads), "ads_insert", "ads")
}

// Record сохраняет новые объявления в разрезе пользователя, запустившего цикл.
func (p *Postgres) Record(ctx context.Context, ads []domain.Ad, requesterID string) (int, error) {
	ads = persistable(ads)
	if len(ads) == 0 {
		return 0, nil
	}
	requesterID = domain.NormalizeRequester(requesterID)
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, ad := range ads {
		batch.Queue(`
INSERT INTO new_ads (link, requester_id, source, city, price, rooms, address, image, description)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (link, requester_id) DO NOTHING
`, ad.Link, requesterID, ad.Source, string(ad.City), ad.Price, ad.Rooms, ad.Address, ad.Image, ad.Description)
	}
	return p.execBatch(ctx, batch, len(ads), "new_ads_insert", "new_ads")
}

func (p *Postgres) execBatch(ctx context.Context, batch *pgx.Batch, n int, op, table string) (int, error) {
	start := time.Now()
	br := p.pool.SendBatch(ctx, batch)
	metrics.ObserveNetworkRequest("postgres", op+"_send_batch", table, start, nil)
	defer br.Close()

	inserted := 0
	for i := 0; i < n; i++ {
		start = time.Now()
		tag, err := br.Exec()
		metrics.ObserveNetworkRequest("postgres", op+"_batch_exec", table, start, err)
		if err != nil {
			return inserted, &domain.StorageError{Op: op, Err: err}
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListAds возвращает страницу каталога, новые сверху.
func (p *Postgres) ListAds(ctx context.Context, q domain.AdQuery) (domain.AdPage, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	where := adFilter(q)

	var total int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ads`+where.String(), where.args...).Scan(&total)
	metrics.ObserveNetworkRequest("postgres", "ads_count", "ads", start, err)
	if err != nil {
		return domain.AdPage{}, &domain.StorageError{Op: "ads count", Err: err}
	}

	page, args := pageClause(where, q.Offset, q.Limit)
	start = time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+adColumns+` FROM ads`+where.String()+` ORDER BY created_at DESC, link`+page, args...)
	metrics.ObserveNetworkRequest("postgres", "ads_list", "ads", start, err)
	if err != nil {
		return domain.AdPage{}, &domain.StorageError{Op: "ads list", Err: err}
	}
	defer rows.Close()

	var ads []domain.Ad
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return domain.AdPage{}, &domain.StorageError{Op: "ads list", Err: err}
		}
		ads = append(ads, ad)
	}
	if err := rows.Err(); err != nil {
		return domain.AdPage{}, &domain.StorageError{Op: "ads list", Err: err}
	}
	return domain.NewAdPage(ads, total, q.Offset, q.Limit), nil
}

// ListNewAds возвращает новые объявления пользователя и их общее число.
func (p *Postgres) ListNewAds(ctx context.Context, requesterID string, offset, limit int) ([]domain.NewAdRecord, int, error) {
	requesterID = domain.NormalizeRequester(requesterID)
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var total int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM new_ads WHERE requester_id = $1`, requesterID).Scan(&total)
	metrics.ObserveNetworkRequest("postgres", "new_ads_count", "new_ads", start, err)
	if err != nil {
		return nil, 0, &domain.StorageError{Op: "new ads count", Err: err}
	}

	start = time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+adColumns+`, requester_id FROM new_ads
WHERE requester_id = $1
ORDER BY created_at DESC, link
LIMIT $2 OFFSET $3
`, requesterID, limit, offset)
	metrics.ObserveNetworkRequest("postgres", "new_ads_list", "new_ads", start, err)
	if err != nil {
		return nil, 0, &domain.StorageError{Op: "new ads list", Err: err}
	}
	defer rows.Close()

	records := []domain.NewAdRecord{}
	for rows.Next() {
		var rec domain.NewAdRecord
		var city string
		if err := rows.Scan(&rec.Link, &rec.Source, &city, &rec.Price, &rec.Rooms, &rec.Address, &rec.Image, &rec.Description, &rec.CreatedAt, &rec.RequesterID); err != nil {
			return nil, 0, &domain.StorageError{Op: "new ads list", Err: err}
		}
		rec.City = domain.City(city)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, &domain.StorageError{Op: "new ads list", Err: err}
	}
	return records, total, nil
}

func scanAd(row pgx.Row) (domain.Ad, error) {
	var ad domain.Ad
	var city string
	err := row.Scan(&ad.Link, &ad.Source, &city, &ad.Price, &ad.Rooms, &ad.Address, &ad.Image, &ad.Description, &ad.CreatedAt)
	ad.City = domain.City(city)
	return ad, err
}

func persistable(ads []domain.Ad) []domain.Ad {
	out := make([]domain.Ad, 0, len(ads))
	for _, ad := range ads {
		if ad.Persistable() {
			out = append(out, ad)
		}
	}
	return out
}
