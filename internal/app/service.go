package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"versionstore/api/internal/auth"
	"versionstore/api/internal/config"
	"versionstore/api/internal/gitrepo"
	"versionstore/api/internal/metrics"
	"versionstore/api/internal/rbac"
	"versionstore/api/internal/search"
	"versionstore/api/internal/versioning"
	"versionstore/api/internal/viewcache"
)

// Session is the caller identity resolved from a bearer token. Every item
// operation runs inside Session.Tenant.
type Session struct {
	Token     string
	UserID    string
	UserName  string
	Tenant    string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

type viewCache interface {
	Get(ctx context.Context, tenant, commit string, sort versioning.Sort) ([]versioning.View, bool, error)
	Put(ctx context.Context, tenant, commit string, sort versioning.Sort, views []versioning.View) error
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexItems(records []search.ItemRecord)
	DeleteItems(tenant string, ids []string)
	ReindexTenant(tenant string, records []search.ItemRecord, stale []string)
}

type historyMirror interface {
	Record(tenant, op, commitID string, views []versioning.View) (gitrepo.CommitInfo, error)
	History(tenant string, limit int) ([]gitrepo.CommitInfo, error)
	ViewsAt(tenant, hash string) ([]versioning.View, error)
}

// Deps are the optional collaborators of the service. Nil fields disable
// the matching feature.
type Deps struct {
	Cache   *viewcache.RedisCache
	Search  *search.Service
	Mirror  *gitrepo.Service
	Metrics *metrics.Metrics
}

type Service struct {
	cfg      config.Config
	engine   *versioning.Engine
	verifier *auth.Verifier
	cache    viewCache
	search   searchIndex
	mirror   historyMirror
	metrics  *metrics.Metrics
}

func New(cfg config.Config, engine *versioning.Engine, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		engine:   engine,
		verifier: auth.NewVerifier(cfg.JWTSecret),
		metrics:  deps.Metrics,
	}
	if deps.Cache != nil {
		s.cache = deps.Cache
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	if deps.Mirror != nil {
		s.mirror = deps.Mirror
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.engine.Ping(ctx)
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Subject,
		UserName:  claims.Name,
		Tenant:    claims.Tenant(),
		Role:      string(rbac.Normalize(claims.Role)),
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Can(role string, right rbac.Right) bool {
	return rbac.Can(rbac.Normalize(role), right)
}

// MetricsHandler is nil when metrics are disabled.
func (s *Service) MetricsHandler() http.Handler {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Handler()
}

func (s *Service) client(tenant string) (*versioning.Client, error) {
	return s.engine.Tenant(tenant)
}

func (s *Service) observe(op string, started time.Time, committed bool, err error) {
	s.metrics.Observe(op, started, committed, errorKind(err))
}

func parseSort(raw string) (versioning.Sort, error) {
	sort, err := versioning.ParseSort(raw)
	if err != nil {
		return versioning.Sort{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid sort parameter", map[string]any{"sort": raw})
	}
	return sort, nil
}

func (s *Service) ListItems(ctx context.Context, tenant, rawSort string) (_ map[string]any, err error) {
	defer func(started time.Time) { s.observe("list", started, false, err) }(time.Now())

	sort, err := parseSort(rawSort)
	if err != nil {
		return nil, err
	}
	client, err := s.client(tenant)
	if err != nil {
		return nil, err
	}
	head, err := client.Head(ctx)
	if err != nil {
		return nil, err
	}
	if head.Commit != nil {
		if views, ok := s.cachedViews(ctx, tenant, head.Commit.ID, sort); ok {
			return map[string]any{"commit": head.Commit.ID, "items": views}, nil
		}
	}

	views, headID, err := client.GetAllLatest(ctx, sort)
	if err != nil {
		return nil, err
	}
	if headID != "" {
		s.storeViews(ctx, tenant, headID, sort, views)
	}
	return map[string]any{"commit": headID, "items": views}, nil
}

func (s *Service) ItemsAtCommit(ctx context.Context, tenant, commitID, rawSort string) (_ map[string]any, err error) {
	defer func(started time.Time) { s.observe("view_commit", started, false, err) }(time.Now())

	sort, err := parseSort(rawSort)
	if err != nil {
		return nil, err
	}
	client, err := s.client(tenant)
	if err != nil {
		return nil, err
	}
	if _, err := client.Commit(ctx, commitID); err != nil {
		return nil, err
	}
	if views, ok := s.cachedViews(ctx, tenant, commitID, sort); ok {
		return map[string]any{"commit": commitID, "items": views}, nil
	}
	views, err := client.GetAllAtCommit(ctx, commitID, sort)
	if err != nil {
		return nil, err
	}
	s.storeViews(ctx, tenant, commitID, sort, views)
	return map[string]any{"commit": commitID, "items": views}, nil
}

func (s *Service) GetItem(ctx context.Context, tenant, itemID string) (_ map[string]any, err error) {
	defer func(started time.Time) { s.observe("get", started, false, err) }(time.Now())

	client, err := s.client(tenant)
	if err != nil {
		return nil, err
	}
	view, err := client.GetLatestByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"item": view}, nil
}

func (s *Service) ItemHistory(ctx context.Context, tenant, itemID string) (_ map[string]any, err error) {
	defer func(started time.Time) { s.observe("item_history", started, false, err) }(time.Now())

	client, err := s.client(tenant)
	if err != nil {
		return nil, err
	}
	revisions, err := client.GetItemHistory(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"item": itemID, "revisions": revisions}, nil
}

func (s *Service) AddItem(ctx context.Context, tenant string, content versioning.Content) (_ map[string]any, err error) {
	defer func(started time.Time) { s.observe("add", started, true, err) }(time.Now())

	client, err := s.client(tenant)
	if err != nil {
		return nil, err
	}
	result, err := client.AddItem(ctx, content)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, client, "add", result.Commit, []string{result.Item}, nil)
	return map[string]any{"item": result.Item, "document": result.Document, "commit": result.Commit}, nil
}

func (s *Service) AddItems(ctx context.Context, tenant string, contents []versioning.Content) (_ map[string]any, err error) {
	defer func(started time.Time) { s.observe("add_many", started, true, err) }(time.Now())

	client, err := s.client(tenant)
	if err != nil {
		return nil, err
	}
	result, err := client.AddItems(ctx, contents)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, client, "add_many", result.Commit, result.Items, nil)
	return map[string]any{"items": result.Items, "documents": result.Documents, "commit": result.Commit}, nil
}

func (s *Service) UpdateItem(ctx context.Context, tenant, itemID string, content versioning.Content) (_ map[string]any, err error) {
	defer func(started time.Time) { s.observe("update", started, true, err) }(time.Now())

	client, err := s.client(tenant)
	if err != nil {
		return nil, err
	}
	result, err := client.UpdateItem(ctx, itemID, content)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, client, "update", result.Commit, []string{result.Item}, nil)
	return map[string]any{"item": result.Item, "document": result.Document, "commit": result.Commit}, nil
}

func (s *Service) PatchItem(ctx context.Context, tenant, itemID string, fields versioning.Content) (_ map[string]any, err error) {
	defer func(started time.Time) { s.observe("patch", started, true, err) }(time.Now())

	client, err := s.client(tenant)
	if err != nil {
		return nil, err
	}
	result, err := client.PatchFields(ctx, itemID, fields)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, client, "patch", result.Commit, []string{result.Item}, nil)
	return map[string]any{"item": result.Item, "document": result.Document, "commit": result.Commit}, nil
}

func (s *Service) DeleteItem(ctx context.Context, tenant, itemID string) (_ map[string]any, err error) {
	defer func(started time.Time) { s.observe("delete", started, true, err) }(time.Now())

	client, err := s.client(tenant)
	if err != nil {
		return nil, err
	}
	result, err := client.DeleteItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, client, "delete", result.Commit, []string{}, result.Deleted)
	return map[string]any{"deleted": result.Deleted, "commit": result.Commit}, nil
}

func (s *Service) DeleteAll(ctx context.Context, tenant string) (_ map[string]any, err error) {
	defer func(started time.Time) { s.observe("delete_all", started, true, err) }(time.Now())

	client, err := s.client(tenant)
	if err != nil {
		return nil, err
	}
	result, err := client.DeleteAllLatest(ctx)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, client, "delete_all", result.Commit, []string{}, result.Deleted)
	return map[string]any{"deleted": result.Deleted, "commit": result.Commit}, nil
}

func (s *Service) CreateLink(ctx context.Context, tenant, source, target, linkType, backType string) (_ map[string]any, err error) {
	defer func(started time.Time) { s.observe("link", started, true, err) }(time.Now())

	client, err := s.client(tenant)
	if err != nil {
		return nil, err
	}
	result, err := client.CreateLink(ctx, source, target, linkType, backType)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, client, "link", result.Commit, linkedItems(result), nil)
	return map[string]any{"link": result}, nil
}

func (s *Service) DeleteLink(ctx context.Context, tenant, source, target, linkType, backType string) (_ map[string]any, err error) {
	defer func(started time.Time) { s.observe("unlink", started, true, err) }(time.Now())

	client, err := s.client(tenant)
	if err != nil {
		return nil, err
	}
	result, err := client.DeleteLink(ctx, source, target, linkType, backType)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, client, "unlink", result.Commit, linkedItems(result), nil)
	return map[string]any{"link": result}, nil
}

func linkedItems(result versioning.LinkResult) []string {
	if result.TargetDocument == "" {
		return []string{result.Source}
	}
	return []string{result.Source, result.Target}
}

// ResetHead moves the head to commitID, or to the latest commit when
// commitID is empty. The search index and mirror are rebuilt from the new
// head since any item may differ.
func (s *Service) ResetHead(ctx context.Context, tenant, commitID string) (_ map[string]any, err error) {
	defer func(started time.Time) { s.observe("reset_head", started, false, err) }(time.Now())

	client, err := s.client(tenant)
	if err != nil {
		return nil, err
	}
	var before []versioning.View
	if s.search != nil {
		before, _, err = client.GetAllLatest(ctx, versioning.Sort{Field: versioning.DefaultSortField})
		if err != nil {
			return nil, err
		}
	}
	commit, err := client.ResetHead(ctx, commitID)
	if err != nil {
		return nil, err
	}
	s.metrics.HeadReset()
	s.afterReset(ctx, client, commit.ID, before)
	return map[string]any{"head": commit.ID}, nil
}

func (s *Service) HeadInfo(ctx context.Context, tenant string) (_ map[string]any, err error) {
	defer func(started time.Time) { s.observe("head", started, false, err) }(time.Now())

	client, err := s.client(tenant)
	if err != nil {
		return nil, err
	}
	head, err := client.Head(ctx)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"state": head.State, "commit": nil}
	if head.Commit != nil {
		payload["commit"] = map[string]any{
			"id":     head.Commit.ID,
			"author": head.Commit.Author,
			"date":   head.Commit.Date,
			"items":  len(head.Commit.Base),
		}
	}
	return payload, nil
}

func (s *Service) CommitLog(ctx context.Context, tenant string, limit int) (_ map[string]any, err error) {
	defer func(started time.Time) { s.observe("commits", started, false, err) }(time.Now())

	client, err := s.client(tenant)
	if err != nil {
		return nil, err
	}
	commits, err := client.History(ctx, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"commits": commits}, nil
}

func (s *Service) Search(ctx context.Context, tenant, text string, limit, offset int) (map[string]any, error) {
	if strings.TrimSpace(tenant) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Tenant is required", nil)
	}
	if s.search == nil {
		return map[string]any{"results": []search.Result{}, "total": 0, "query": text}, nil
	}
	response := s.search.Search(ctx, search.Query{Tenant: tenant, Text: text, Limit: limit, Offset: offset})
	return map[string]any{"results": response.Results, "total": response.Total, "query": response.Query}, nil
}

func (s *Service) MirrorHistory(tenant string, limit int) (map[string]any, error) {
	if s.mirror == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MIRROR_DISABLED", "History mirror is not configured", nil)
	}
	if strings.TrimSpace(tenant) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Tenant is required", nil)
	}
	commits, err := s.mirror.History(tenant, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"commits": commits}, nil
}

// MirrorViewsAt reads the item views recorded in one mirror commit. hash may
// be abbreviated.
func (s *Service) MirrorViewsAt(tenant, hash string) (map[string]any, error) {
	if s.mirror == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MIRROR_DISABLED", "History mirror is not configured", nil)
	}
	if strings.TrimSpace(tenant) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Tenant is required", nil)
	}
	views, err := s.mirror.ViewsAt(tenant, hash)
	if errors.Is(err, gitrepo.ErrNotFound) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Mirror commit not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"hash": hash, "items": views}, nil
}

func (s *Service) cachedViews(ctx context.Context, tenant, commitID string, sort versioning.Sort) ([]versioning.View, bool) {
	if s.cache == nil || commitID == "" {
		return nil, false
	}
	views, ok, err := s.cache.Get(ctx, tenant, commitID, sort)
	if err != nil {
		log.Printf("viewcache: get %s@%s: %v", tenant, commitID, err)
		return nil, false
	}
	return views, ok
}

func (s *Service) storeViews(ctx context.Context, tenant, commitID string, sort versioning.Sort, views []versioning.View) {
	if s.cache == nil || commitID == "" {
		return
	}
	if err := s.cache.Put(ctx, tenant, commitID, sort, views); err != nil {
		log.Printf("viewcache: put %s@%s: %v", tenant, commitID, err)
	}
}

// headViews projects the head once for the side indexes. ok is false when
// nothing consumes the projection.
func (s *Service) headViews(ctx context.Context, client *versioning.Client) ([]versioning.View, string, bool) {
	if s.cache == nil && s.search == nil && s.mirror == nil {
		return nil, "", false
	}
	sort := versioning.Sort{Field: versioning.DefaultSortField}
	views, headID, err := client.GetAllLatest(ctx, sort)
	if err != nil {
		log.Printf("app: project head of %s: %v", client.Tenant(), err)
		return nil, "", false
	}
	s.storeViews(ctx, client.Tenant(), headID, sort, views)
	return views, headID, true
}

// afterCommit feeds a finalized commit to the search index and the mirror.
// Failures are logged; the commit itself already succeeded.
func (s *Service) afterCommit(ctx context.Context, client *versioning.Client, op, commitID string, changed, removed []string) {
	views, _, ok := s.headViews(ctx, client)
	if !ok {
		return
	}
	tenant := client.Tenant()
	if s.search != nil {
		wanted := make(map[string]struct{}, len(changed))
		for _, id := range changed {
			wanted[id] = struct{}{}
		}
		records := make([]search.ItemRecord, 0, len(changed))
		for _, view := range views {
			if _, ok := wanted[view.ID]; ok {
				records = append(records, search.RecordFromView(tenant, view))
			}
		}
		s.search.DeleteItems(tenant, removed)
		s.search.IndexItems(records)
	}
	s.record(tenant, op, commitID, views)
}

func (s *Service) afterReset(ctx context.Context, client *versioning.Client, commitID string, before []versioning.View) {
	views, _, ok := s.headViews(ctx, client)
	if !ok {
		return
	}
	tenant := client.Tenant()
	if s.search != nil {
		current := make(map[string]struct{}, len(views))
		for _, view := range views {
			current[view.ID] = struct{}{}
		}
		stale := make([]string, 0)
		for _, view := range before {
			if _, ok := current[view.ID]; !ok {
				stale = append(stale, view.ID)
			}
		}
		s.search.ReindexTenant(tenant, search.RecordsFromViews(tenant, views), stale)
	}
	s.record(tenant, "reset_head", commitID, views)
}

func (s *Service) record(tenant, op, commitID string, views []versioning.View) {
	if s.mirror == nil {
		return
	}
	if _, err := s.mirror.Record(tenant, op, commitID, views); err != nil {
		log.Printf("mirror: record %s %s for %s: %v", op, commitID, tenant, err)
	}
}
