// Package reconcile matches extracted records against persisted servers and
// performs inserts or diffed, idempotent updates.
package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/mcp-directory-crawler/internal/clock/system"
	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/logging"
	"github.com/JakeFAU/mcp-directory-crawler/internal/metrics"
)

// Action is the outcome of applying one record.
type Action string

// Reconciliation actions.
const (
	ActionInserted  Action = "inserted"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionSkipped   Action = "skipped"
)

// Child table names used in ChildWriteError.
const (
	TableTools   = "tools"
	TableClients = "compatible_clients"
	TableMetrics = "metrics"
	TableHealth  = "health"
)

// Lookup keys reported in Match.By.
const (
	ByExternalID = "external_id"
	BySlug       = "slug"
	ByName       = "name"
)

// Match is the result of looking a record up.
type Match struct {
	Existing bool
	By       string
	Server   crawler.Server
}

// ID returns the matched server id, or "" for new records.
func (m Match) ID() string { return m.Server.ID }

// ChildWriteError reports a failed child-table write after the parent row
// was written. The parent and sibling writes are not rolled back.
type ChildWriteError struct {
	Table string
	Err   error
}

func (e *ChildWriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Table, e.Err)
}

func (e *ChildWriteError) Unwrap() error { return e.Err }

// Result describes what Apply, Insert, or Update did.
type Result struct {
	Action Action
	ID     string
	// Changed lists the updated columns and replaced child tables.
	Changed     []string
	ChildErrors []error
}

// Policy controls what happens to records that already exist.
type Policy struct {
	// UpdateExisting enables diffed updates; when false duplicates are skipped.
	UpdateExisting bool
}

// Reconciler writes records through a crawler.Store.
type Reconciler struct {
	store  crawler.Store
	ids    crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger
	policy Policy
}

// New builds a Reconciler. A nil clock uses the system clock.
func New(store crawler.Store, ids crawler.IDGenerator, clock crawler.Clock, policy Policy, logger *zap.Logger) *Reconciler {
	if clock == nil {
		clock = system.New()
	}
	return &Reconciler{
		store:  store,
		ids:    ids,
		clock:  clock,
		logger: logging.OrNop(logger).Named("reconcile"),
		policy: policy,
	}
}

// Reconcile looks rec up by external id, then slug, then case-insensitive
// name. The first hit wins.
func (r *Reconciler) Reconcile(ctx context.Context, rec crawler.Record) (Match, error) {
	lookups := []struct {
		by   string
		key  string
		find func(context.Context, string) (crawler.Server, error)
	}{
		{ByExternalID, rec.Server.ExternalID, r.store.FindServerByExternalID},
		{BySlug, rec.Server.Slug, r.store.FindServerBySlug},
		{ByName, rec.Server.Name, r.store.FindServerByName},
	}
	for _, l := range lookups {
		if l.key == "" {
			continue
		}
		srv, err := l.find(ctx, l.key)
		if errors.Is(err, crawler.ErrNotFound) {
			continue
		}
		if err != nil {
			return Match{}, fmt.Errorf("find server by %s: %w", l.by, err)
		}
		return Match{Existing: true, By: l.by, Server: srv}, nil
	}
	return Match{}, nil
}

// Apply reconciles rec and inserts, updates, or skips it according to the
// policy.
func (r *Reconciler) Apply(ctx context.Context, rec crawler.Record) (Result, error) {
	match, err := r.Reconcile(ctx, rec)
	if err != nil {
		return Result{}, err
	}
	if !match.Existing {
		return r.Insert(ctx, rec)
	}
	if !r.policy.UpdateExisting {
		r.logger.Debug("duplicate skipped",
			zap.String("slug", rec.Server.Slug),
			zap.String("id", match.ID()),
			zap.String("matched_by", match.By),
		)
		metrics.ObserveReconcile(string(ActionSkipped))
		return Result{Action: ActionSkipped, ID: match.ID()}, nil
	}
	return r.Update(ctx, match.Server, rec)
}

// Insert writes a new server with defaults for unset fields, then its child
// rows. Child failures are collected in Result.ChildErrors; only a failed
// parent write is returned as an error.
func (r *Reconciler) Insert(ctx context.Context, rec crawler.Record) (Result, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("insert server: %w", err)
	}
	now := r.clock.Now()

	server := rec.Server
	server.ID = id
	server.CreatedAt = now
	server.UpdatedAt = now
	server.Install = skeleton(server.Install)
	if server.Tags == nil {
		server.Tags = []string{}
	}
	if err := r.store.InsertServer(ctx, server); err != nil {
		return Result{}, fmt.Errorf("insert server %s: %w", server.Slug, err)
	}

	res := Result{Action: ActionInserted, ID: id}
	if len(rec.Tools) > 0 {
		r.child(&res, TableTools, r.store.InsertTools(ctx, id, rec.Tools))
	}
	r.child(&res, TableMetrics, r.store.InsertMetrics(ctx, id, server.Metrics(now)))
	health := crawler.HealthSnapshot{Status: crawler.HealthUnknown, CheckedAt: now}
	if server.Verified {
		health.Status = crawler.HealthOnline
	}
	r.child(&res, TableHealth, r.store.InsertHealth(ctx, id, health))
	if len(rec.Clients) > 0 {
		r.child(&res, TableClients, r.store.InsertClients(ctx, id, rec.Clients))
	}

	metrics.ObserveReconcile(string(ActionInserted))
	r.logger.Info("server inserted",
		zap.String("id", id),
		zap.String("slug", server.Slug),
		zap.Int("tools", len(rec.Tools)),
		zap.Int("child_errors", len(res.ChildErrors)),
	)
	return res, nil
}

// Update writes the columns of rec whose JSON value differs from existing,
// and replaces the tools or clients when rec carries a different list. An
// unchanged record makes no writes.
func (r *Reconciler) Update(ctx context.Context, existing crawler.Server, rec crawler.Record) (Result, error) {
	changes, err := diff(existing, rec.Server)
	if err != nil {
		return Result{}, fmt.Errorf("diff server %s: %w", existing.ID, err)
	}

	var replaceTools, replaceClients bool
	if rec.Tools != nil {
		current, err := r.store.ListTools(ctx, existing.ID)
		if err != nil {
			return Result{}, fmt.Errorf("list tools %s: %w", existing.ID, err)
		}
		replaceTools = !sameJSON(current, rec.Tools)
	}
	if rec.Clients != nil {
		current, err := r.store.ListClients(ctx, existing.ID)
		if err != nil {
			return Result{}, fmt.Errorf("list clients %s: %w", existing.ID, err)
		}
		replaceClients = !sameJSON(current, rec.Clients)
	}

	res := Result{Action: ActionUnchanged, ID: existing.ID}
	if len(changes) == 0 && !replaceTools && !replaceClients {
		metrics.ObserveReconcile(string(ActionUnchanged))
		return res, nil
	}

	now := r.clock.Now()
	res.Action = ActionUpdated
	res.Changed = sortedKeys(changes)
	changes["updated_at"] = now
	if err := r.store.UpdateServer(ctx, existing.ID, changes); err != nil {
		return Result{}, fmt.Errorf("update server %s: %w", existing.ID, err)
	}

	if replaceTools {
		res.Changed = append(res.Changed, TableTools)
		r.child(&res, TableTools, r.store.ReplaceTools(ctx, existing.ID, rec.Tools))
	}
	if replaceClients {
		res.Changed = append(res.Changed, TableClients)
		r.child(&res, TableClients, r.store.ReplaceClients(ctx, existing.ID, rec.Clients))
	}
	if statsChanged(changes) {
		updated, err := existing.ApplyColumns(changes)
		if err == nil {
			r.child(&res, TableMetrics, r.store.InsertMetrics(ctx, existing.ID, updated.Metrics(now)))
		}
	}

	metrics.ObserveReconcile(string(ActionUpdated))
	r.logger.Info("server updated",
		zap.String("id", existing.ID),
		zap.String("slug", existing.Slug),
		zap.Strings("changed", res.Changed),
	)
	return res, nil
}

func (r *Reconciler) child(res *Result, table string, err error) {
	if err == nil {
		return
	}
	metrics.ObserveChildWriteFailure(table)
	r.logger.Error("child write failed", zap.String("id", res.ID), zap.String("table", table), zap.Error(err))
	res.ChildErrors = append(res.ChildErrors, &ChildWriteError{Table: table, Err: err})
}

// diff returns the columns of candidate that differ from existing. The slug
// is never rewritten and an external id is only filled in, never replaced.
func diff(existing, candidate crawler.Server) (map[string]any, error) {
	existing.Install = skeleton(existing.Install)
	candidate.Install = skeleton(candidate.Install)
	have := existing.Columns()
	changes := map[string]any{}
	for col, v := range candidate.Columns() {
		switch col {
		case "slug":
			continue
		case "external_id":
			if existing.ExternalID != "" {
				continue
			}
		}
		a, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", col, err)
		}
		b, err := json.Marshal(have[col])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", col, err)
		}
		if !bytes.Equal(a, b) {
			changes[col] = v
		}
	}
	return changes, nil
}

func statsChanged(changes map[string]any) bool {
	for _, col := range []string{"stars", "forks", "open_issues", "contributors"} {
		if _, ok := changes[col]; ok {
			return true
		}
	}
	return false
}

func sameJSON(a, b any) bool {
	x, errA := json.Marshal(a)
	y, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	// nil and empty lists are the same list.
	if string(x) == "null" {
		x = []byte("[]")
	}
	if string(y) == "null" {
		y = []byte("[]")
	}
	return bytes.Equal(x, y)
}

// skeleton returns install with every platform key present.
func skeleton(install crawler.InstallInstructions) crawler.InstallInstructions {
	out := crawler.EmptyInstall()
	for platform, cmd := range install.Platforms {
		out.Platforms[platform] = cmd
	}
	out.CodeBlocks = append([]string(nil), install.CodeBlocks...)
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
