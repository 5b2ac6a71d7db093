// Package gitrepo mirrors each tenant's head view into a git repository so
// the item history can be inspected with ordinary git tooling.
package gitrepo

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"versionstore/api/internal/versioning"
)

const (
	snapshotFile = "items.json"
	mainBranch   = "main"
)

// ErrNotFound reports a tenant without a mirror or a hash that does not
// resolve in it.
var ErrNotFound = errors.New("mirror commit not found")

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Added     int       `json:"added"`
	Removed   int       `json:"removed"`
	Changed   int       `json:"changed"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record writes views as the tenant's items.json and commits it with the
// message "<op> <commitID>". Recording the same views twice still produces a
// commit, so head resets show up in the log.
func (s *Service) Record(tenant, op, commitID string, views []versioning.View) (CommitInfo, error) {
	lock := s.tenantLock(tenant)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(tenant)
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	if views == nil {
		views = []versioning.View{}
	}
	payload, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal views: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add views: %w", err)
	}

	hash, err := worktree.Commit(op+" "+commitID, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  tenant,
			Email: fmt.Sprintf("%s@local.versionstore.dev", sanitizeEmail(tenant)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit views: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj)
}

// History lists mirror commits of tenant, newest first. A tenant that was
// never recorded has an empty history.
func (s *Service) History(tenant string, limit int) ([]CommitInfo, error) {
	lock := s.tenantLock(tenant)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(tenant))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, max(limit, 0))
	err = iter.ForEach(func(commitObj *object.Commit) error {
		info, err := toCommitInfo(commitObj)
		if err != nil {
			return err
		}
		items = append(items, info)
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ViewsAt returns the views recorded in the mirror commit hash.
func (s *Service) ViewsAt(tenant, hash string) ([]versioning.View, error) {
	lock := s.tenantLock(tenant)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(tenant))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: no mirror for %s", ErrNotFound, tenant)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readViewsFromCommit(commitObj)
}

func (s *Service) openOrInit(tenant string) (*git.Repository, error) {
	path := s.repoPath(tenant)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", mainBranch, err)
	}
	return repo, nil
}

func (s *Service) repoPath(tenant string) string {
	return filepath.Join(s.baseDir, dirName(tenant))
}

func (s *Service) tenantLock(tenant string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[tenant]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[tenant] = lock
	return lock
}

// dirName keeps readable tenant names as they are and hex encodes anything
// that is not safe as a single path element.
func dirName(tenant string) string {
	safe := tenant != "" && tenant != "." && tenant != ".."
	for _, r := range tenant {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			safe = false
			break
		}
	}
	if safe {
		return tenant
	}
	return "x-" + hex.EncodeToString([]byte(tenant))
}

func readViewsFromCommit(commitObj *object.Commit) ([]versioning.View, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open views reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read views bytes: %w", err)
	}
	var views []versioning.View
	if err := json.Unmarshal(raw, &views); err != nil {
		return nil, fmt.Errorf("decode commit views: %w", err)
	}
	return views, nil
}

// Change is one item-level difference between two recorded views.
type Change struct {
	Item string `json:"item"`
	Kind string `json:"kind"`
}

// DiffViews compares two recorded views by item id. Items count as changed
// when their last-change commit differs.
func DiffViews(from, to []versioning.View) []Change {
	before := make(map[string]string, len(from))
	for _, view := range from {
		before[view.ID] = view.Changed.Commit
	}
	after := make(map[string]string, len(to))
	for _, view := range to {
		after[view.ID] = view.Changed.Commit
	}

	changes := make([]Change, 0)
	for id, commit := range after {
		previous, ok := before[id]
		switch {
		case !ok:
			changes = append(changes, Change{Item: id, Kind: "added"})
		case previous != commit:
			changes = append(changes, Change{Item: id, Kind: "changed"})
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			changes = append(changes, Change{Item: id, Kind: "removed"})
		}
	}
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Item < changes[j].Item
	})
	return changes
}

func toCommitInfo(commitObj *object.Commit) (CommitInfo, error) {
	info := CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
	current, err := readViewsFromCommit(commitObj)
	if err != nil {
		return CommitInfo{}, err
	}
	var previous []versioning.View
	if commitObj.NumParents() > 0 {
		parent, err := commitObj.Parent(0)
		if err != nil {
			return CommitInfo{}, fmt.Errorf("read parent of %s: %w", info.Hash, err)
		}
		if previous, err = readViewsFromCommit(parent); err != nil {
			return CommitInfo{}, err
		}
	}
	for _, change := range DiffViews(previous, current) {
		switch change.Kind {
		case "added":
			info.Added++
		case "removed":
			info.Removed++
		default:
			info.Changed++
		}
	}
	return info, nil
}

func sanitizeEmail(input string) string {
	bytes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			bytes = append(bytes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			bytes = append(bytes, '.')
		}
	}
	if len(bytes) == 0 {
		return "user"
	}
	return string(bytes)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
