package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rushteam/movierec/core"
)

// PostgresCatalog 是基于 pgx 连接池的 core.CatalogStore 适配器。
//
// 期望的表（只读依赖列）：
//
//	users(id, age)
//	movies(id, original_language, popularity, vote_average, vote_count)
//	genres(id)
//	movie_genre(movie_id, genre_id)
//	view_history(user_id, movie_id, viewed_at)
//	user_preferences(user_id, genre_id)
//	lists(id, user_id, name)             -- name = 'favorites' 为收藏
//	list_movies(list_id, movie_id)
//
// 所有错误都包装为 core.ErrCatalogUnavailable。
type PostgresCatalog struct {
	DB *pgxpool.Pool
}

// NewPostgresCatalog 建立连接池并 Ping。
func NewPostgresCatalog(ctx context.Context, dsn string) (*PostgresCatalog, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, core.CatalogUnavailable("connect", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, core.CatalogUnavailable("ping", err)
	}
	return &PostgresCatalog{DB: db}, nil
}

func (p *PostgresCatalog) Close() {
	p.DB.Close()
}

func (p *PostgresCatalog) EnsureUser(ctx context.Context, userID int64) error {
	_, err := p.DB.Exec(ctx, `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		userID, fmt.Sprintf("api_%d@movierec.local", userID), []byte("placeholder"))
	return core.CatalogUnavailable("ensure user", err)
}

func (p *PostgresCatalog) GetUserFeatures(ctx context.Context, userID int64) (*core.UserFeatures, error) {
	u := &core.UserFeatures{UserID: userID}
	err := p.DB.QueryRow(ctx, `
		SELECT COALESCE(u.age, 0),
		       (SELECT COUNT(*) FROM view_history v WHERE v.user_id = $1)
		FROM users u WHERE u.id = $1`, userID).Scan(&u.Age, &u.InteractionCount)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, core.CatalogUnavailable("user features", err)
	}
	if u.PreferredGenres, err = p.GetUserPreferences(ctx, userID); err != nil {
		return nil, err
	}
	if u.Favorites, err = p.int64s(ctx, "favorites", `
		SELECT lm.movie_id
		FROM lists l JOIN list_movies lm ON l.id = lm.list_id
		WHERE l.user_id = $1 AND l.name = 'favorites'
		ORDER BY lm.movie_id`, userID); err != nil {
		return nil, err
	}
	u.FavoriteCount = len(u.Favorites)
	return u, nil
}

func (p *PostgresCatalog) GetUserPreferences(ctx context.Context, userID int64) ([]int64, error) {
	return p.int64s(ctx, "user preferences",
		`SELECT genre_id FROM user_preferences WHERE user_id = $1 ORDER BY genre_id`, userID)
}

const movieColumns = `
	SELECT m.id, COALESCE(m.original_language, ''), COALESCE(m.popularity, 0),
	       COALESCE(m.vote_average, 0), COALESCE(m.vote_count, 0),
	       COALESCE(array_agg(mg.genre_id ORDER BY mg.genre_id) FILTER (WHERE mg.genre_id IS NOT NULL), '{}')
	FROM movies m LEFT JOIN movie_genre mg ON mg.movie_id = m.id`

func (p *PostgresCatalog) ListItems(ctx context.Context) ([]*core.Movie, error) {
	return p.movies(ctx, "list items", movieColumns+` GROUP BY m.id ORDER BY m.id`)
}

func (p *PostgresCatalog) PopularItems(ctx context.Context, limit int) ([]*core.Movie, error) {
	return p.movies(ctx, "popular items", movieColumns+`
		WHERE m.vote_count > 0
		GROUP BY m.id
		ORDER BY m.popularity DESC NULLS LAST, m.vote_count DESC NULLS LAST,
		         m.vote_average DESC NULLS LAST, m.id ASC
		LIMIT $1`, limit)
}

func (p *PostgresCatalog) GetItemsByCategory(ctx context.Context, categoryIDs []int64) ([]int64, error) {
	if len(categoryIDs) == 0 {
		return nil, nil
	}
	return p.int64s(ctx, "items by category",
		`SELECT DISTINCT movie_id FROM movie_genre WHERE genre_id = ANY($1) ORDER BY movie_id`, categoryIDs)
}

func (p *PostgresCatalog) GetItemFeatures(ctx context.Context, itemIDs []int64) (map[int64]*core.Movie, error) {
	out := make(map[int64]*core.Movie, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	movies, err := p.movies(ctx, "item features", movieColumns+` WHERE m.id = ANY($1) GROUP BY m.id`, itemIDs)
	if err != nil {
		return nil, err
	}
	for _, m := range movies {
		out[m.ID] = m
	}
	return out, nil
}

func (p *PostgresCatalog) GetInteractionCount(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := p.DB.QueryRow(ctx, `SELECT COUNT(*) FROM view_history WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, core.CatalogUnavailable("interaction count", err)
	}
	return n, nil
}

func (p *PostgresCatalog) GetUserHistory(ctx context.Context, userID int64) ([]core.Interaction, error) {
	return p.interactions(ctx, "user history",
		`SELECT user_id, movie_id, viewed_at FROM view_history WHERE user_id = $1 ORDER BY viewed_at, movie_id`, userID)
}

func (p *PostgresCatalog) RecordInteraction(ctx context.Context, userID, itemID int64, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	_, err := p.DB.Exec(ctx,
		`INSERT INTO view_history (user_id, movie_id, viewed_at) VALUES ($1, $2, $3)`, userID, itemID, at)
	return core.CatalogUnavailable("record interaction", err)
}

func (p *PostgresCatalog) ListInteractions(ctx context.Context) ([]core.Interaction, error) {
	return p.interactions(ctx, "list interactions",
		`SELECT user_id, movie_id, viewed_at FROM view_history ORDER BY viewed_at, user_id, movie_id`)
}

func (p *PostgresCatalog) MaxIDs(ctx context.Context) (core.Bounds, error) {
	var b core.Bounds
	err := p.DB.QueryRow(ctx, `
		SELECT COALESCE((SELECT MAX(id) FROM users), 0),
		       COALESCE((SELECT MAX(id) FROM movies), 0),
		       COALESCE((SELECT MAX(id) FROM genres), 0)`).Scan(&b.Users, &b.Items, &b.Categories)
	if err != nil {
		return core.Bounds{}, core.CatalogUnavailable("max ids", err)
	}
	return b, nil
}

func (p *PostgresCatalog) int64s(ctx context.Context, op, query string, args ...any) ([]int64, error) {
	rows, err := p.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, core.CatalogUnavailable(op, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, core.CatalogUnavailable(op, err)
	}
	return ids, nil
}

func (p *PostgresCatalog) movies(ctx context.Context, op, query string, args ...any) ([]*core.Movie, error) {
	rows, err := p.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, core.CatalogUnavailable(op, err)
	}
	defer rows.Close()

	var out []*core.Movie
	for rows.Next() {
		m := &core.Movie{}
		if err := rows.Scan(&m.ID, &m.Language, &m.Popularity, &m.VoteAverage, &m.VoteCount, &m.Genres); err != nil {
			return nil, core.CatalogUnavailable(op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, core.CatalogUnavailable(op, err)
	}
	return out, nil
}

func (p *PostgresCatalog) interactions(ctx context.Context, op, query string, args ...any) ([]core.Interaction, error) {
	rows, err := p.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, core.CatalogUnavailable(op, err)
	}
	defer rows.Close()

	var out []core.Interaction
	for rows.Next() {
		var in core.Interaction
		if err := rows.Scan(&in.UserID, &in.ItemID, &in.At); err != nil {
			return nil, core.CatalogUnavailable(op, err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, core.CatalogUnavailable(op, err)
	}
	return out, nil
}

var _ core.CatalogStore = (*PostgresCatalog)(nil)
