// Package postgres implements crawler.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
)

//go:embed schema.sql
var schema string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execer interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

// Pool is the subset of *pgxpool.Pool the store needs.
type Pool interface {
	execer
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store persists servers and their child tables.
type Store struct {
	pool Pool
}

var _ crawler.Store = (*Store)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

const serverColumns = `id, COALESCE(external_id, ''), slug, name, owner, description, category, tags,
	homepage, source, stars, forks, open_issues, contributors, last_repo_update,
	install_instructions, verified, package_registry, package_name, readme_processed_at,
	created_at, updated_at`

func scanServer(row pgx.Row) (crawler.Server, error) {
	var (
		srv     crawler.Server
		install []byte
	)
	err := row.Scan(
		&srv.ID, &srv.ExternalID, &srv.Slug, &srv.Name, &srv.Owner, &srv.Description,
		&srv.Category, &srv.Tags, &srv.Homepage, &srv.Source, &srv.Stars, &srv.Forks,
		&srv.OpenIssues, &srv.Contributors, &srv.LastRepoUpdate, &install, &srv.Verified,
		&srv.PackageRegistry, &srv.PackageName, &srv.ReadmeProcessedAt, &srv.CreatedAt, &srv.UpdatedAt,
	)
	if err != nil {
		return crawler.Server{}, err
	}
	if len(install) > 0 {
		if err := json.Unmarshal(install, &srv.Install); err != nil {
			return crawler.Server{}, fmt.Errorf("decode install_instructions: %w", err)
		}
	}
	return srv, nil
}

func (s *Store) findOne(ctx context.Context, by, where string, arg any) (crawler.Server, error) {
	query := "SELECT " + serverColumns + " FROM servers WHERE " + where + " ORDER BY created_at LIMIT 1"
	srv, err := scanServer(s.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Server{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Server{}, fmt.Errorf("find server by %s: %w", by, err)
	}
	return srv, nil
}

// FindServerByExternalID implements crawler.Store.
func (s *Store) FindServerByExternalID(ctx context.Context, externalID string) (crawler.Server, error) {
	if externalID == "" {
		return crawler.Server{}, crawler.ErrNotFound
	}
	return s.findOne(ctx, "external_id", "external_id = $1", externalID)
}

// FindServerBySlug implements crawler.Store.
func (s *Store) FindServerBySlug(ctx context.Context, slug string) (crawler.Server, error) {
	if slug == "" {
		return crawler.Server{}, crawler.ErrNotFound
	}
	return s.findOne(ctx, "slug", "slug = $1", slug)
}

// FindServerByName matches the whole name case-insensitively. LIKE wildcards
// in name are matched literally.
func (s *Store) FindServerByName(ctx context.Context, name string) (crawler.Server, error) {
	if name == "" {
		return crawler.Server{}, crawler.ErrNotFound
	}
	return s.findOne(ctx, "name", `name ILIKE $1 ESCAPE '\'`, escapeLike(name))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// InsertServer implements crawler.Store.
func (s *Store) InsertServer(ctx context.Context, srv crawler.Server) error {
	install, err := json.Marshal(srv.Install)
	if err != nil {
		return fmt.Errorf("encode install_instructions: %w", err)
	}
	tags := srv.Tags
	if tags == nil {
		tags = []string{}
	}
	const query = `
INSERT INTO servers (
	id, external_id, slug, name, owner, description, category, tags,
	homepage, source, stars, forks, open_issues, contributors, last_repo_update,
	install_instructions, verified, package_registry, package_name, readme_processed_at,
	created_at, updated_at
) VALUES (
	$1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
	$16, $17, $18, $19, $20, $21, $22
)`
	_, err = s.pool.Exec(ctx, query,
		srv.ID, srv.ExternalID, srv.Slug, srv.Name, srv.Owner, srv.Description, srv.Category, tags,
		srv.Homepage, srv.Source, srv.Stars, srv.Forks, srv.OpenIssues, srv.Contributors, srv.LastRepoUpdate,
		install, srv.Verified, srv.PackageRegistry, srv.PackageName, srv.ReadmeProcessedAt,
		srv.CreatedAt, srv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert server %s: %w", srv.Slug, err)
	}
	return nil
}

var updatableColumns = map[string]struct{}{
	"external_id": {}, "slug": {}, "name": {}, "owner": {}, "description": {}, "category": {},
	"tags": {}, "homepage": {}, "source": {}, "stars": {}, "forks": {}, "open_issues": {},
	"contributors": {}, "last_repo_update": {}, "install_instructions": {}, "verified": {},
	"package_registry": {}, "package_name": {}, "readme_processed_at": {}, "updated_at": {},
}

// UpdateServer writes the given columns of server id. Columns are bound in
// sorted order so identical changes produce identical statements.
func (s *Store) UpdateServer(ctx context.Context, id string, changes map[string]any) error {
	if len(changes) == 0 {
		return nil
	}
	cols := make([]string, 0, len(changes))
	for col := range changes {
		if _, ok := updatableColumns[col]; !ok {
			return fmt.Errorf("update server %s: unknown column %q", id, col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		v, err := columnValue(col, changes[col])
		if err != nil {
			return fmt.Errorf("update server %s: %w", id, err)
		}
		placeholder := fmt.Sprintf("$%d", i+1)
		if col == "external_id" {
			placeholder = "NULLIF(" + placeholder + ", '')"
		}
		sets = append(sets, col+" = "+placeholder)
		args = append(args, v)
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE servers SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update server %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update server %s: %w", id, crawler.ErrNotFound)
	}
	return nil
}

func columnValue(col string, v any) (any, error) {
	if col != "install_instructions" {
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", col, err)
	}
	return raw, nil
}

// ListServersWithoutReadme returns up to limit servers whose README has not
// been processed, oldest first. A limit of zero returns all of them.
func (s *Store) ListServersWithoutReadme(ctx context.Context, limit int) ([]crawler.Server, error) {
	query := "SELECT " + serverColumns + ` FROM servers
WHERE readme_processed_at IS NULL
ORDER BY created_at, slug
LIMIT NULLIF($1::int, 0)`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list servers without readme: %w", err)
	}
	defer rows.Close()

	var out []crawler.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		out = append(out, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list servers without readme: %w", err)
	}
	return out, nil
}

// ListTools implements crawler.Store.
func (s *Store) ListTools(ctx context.Context, serverID string) ([]crawler.Tool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, description, parameters, example FROM tools WHERE server_id = $1 ORDER BY position, name`,
		serverID)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	var out []crawler.Tool
	for rows.Next() {
		var (
			tool   crawler.Tool
			params []byte
		)
		if err := rows.Scan(&tool.Name, &tool.Description, &params, &tool.Example); err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &tool.Parameters); err != nil {
				return nil, fmt.Errorf("decode tool parameters: %w", err)
			}
		}
		out = append(out, tool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return out, nil
}

// InsertTools implements crawler.Store.
func (s *Store) InsertTools(ctx context.Context, serverID string, tools []crawler.Tool) error {
	return insertTools(ctx, s.pool, serverID, tools)
}

// ReplaceTools deletes the existing tools of serverID and inserts tools in
// one transaction.
func (s *Store) ReplaceTools(ctx context.Context, serverID string, tools []crawler.Tool) error {
	return s.replace(ctx, "tools", serverID, func(tx execer) error {
		return insertTools(ctx, tx, serverID, tools)
	})
}

func insertTools(ctx context.Context, db execer, serverID string, tools []crawler.Tool) error {
	rows := make([][]any, 0, len(tools))
	for i, tool := range tools {
		params := tool.Parameters
		if params == nil {
			params = []crawler.Parameter{}
		}
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode tool parameters: %w", err)
		}
		rows = append(rows, []any{serverID, i, tool.Name, tool.Description, raw, tool.Example})
	}
	return insertRows(ctx, db, "tools",
		[]string{"server_id", "position", "name", "description", "parameters", "example"}, rows)
}

// ListClients implements crawler.Store.
func (s *Store) ListClients(ctx context.Context, serverID string) ([]crawler.CompatibleClient, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, url FROM compatible_clients WHERE server_id = $1 ORDER BY position, name`,
		serverID)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var out []crawler.CompatibleClient
	for rows.Next() {
		var c crawler.CompatibleClient
		if err := rows.Scan(&c.Name, &c.URL); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return out, nil
}

// InsertClients implements crawler.Store.
func (s *Store) InsertClients(ctx context.Context, serverID string, clients []crawler.CompatibleClient) error {
	return insertClients(ctx, s.pool, serverID, clients)
}

// ReplaceClients deletes the existing clients of serverID and inserts
// clients in one transaction.
func (s *Store) ReplaceClients(ctx context.Context, serverID string, clients []crawler.CompatibleClient) error {
	return s.replace(ctx, "compatible_clients", serverID, func(tx execer) error {
		return insertClients(ctx, tx, serverID, clients)
	})
}

func insertClients(ctx context.Context, db execer, serverID string, clients []crawler.CompatibleClient) error {
	rows := make([][]any, 0, len(clients))
	for i, c := range clients {
		rows = append(rows, []any{serverID, i, c.Name, c.URL})
	}
	return insertRows(ctx, db, "compatible_clients", []string{"server_id", "position", "name", "url"}, rows)
}

// InsertMetrics implements crawler.Store.
func (s *Store) InsertMetrics(ctx context.Context, serverID string, m crawler.MetricsSnapshot) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO server_metrics (server_id, stars, forks, open_issues, contributors, captured_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		serverID, m.Stars, m.Forks, m.OpenIssues, m.Contributors, m.CapturedAt)
	if err != nil {
		return fmt.Errorf("insert server_metrics: %w", err)
	}
	return nil
}

// InsertHealth implements crawler.Store.
func (s *Store) InsertHealth(ctx context.Context, serverID string, h crawler.HealthSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO server_health (server_id, status, checked_at) VALUES ($1, $2, $3)`,
		serverID, h.Status, h.CheckedAt)
	if err != nil {
		return fmt.Errorf("insert server_health: %w", err)
	}
	return nil
}

func (s *Store) replace(ctx context.Context, table, serverID string, insert func(execer) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace %s: begin: %w", table, err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE server_id = $1", serverID); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("replace %s: delete: %w", table, err)
	}
	if err := insert(tx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("replace %s: %w", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("replace %s: commit: %w", table, err)
	}
	return nil
}

// insertRows writes all rows in a single multi-row INSERT.
func insertRows(ctx context.Context, db execer, table string, cols []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	var (
		b    strings.Builder
		args = make([]any, 0, len(rows)*len(cols))
	)
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(cols, ", "))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", len(args)+j+1)
		}
		b.WriteByte(')')
		args = append(args, row...)
	}
	if _, err := db.Exec(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}
