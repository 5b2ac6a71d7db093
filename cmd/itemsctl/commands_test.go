package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versionstore/api/internal/auth"
	"versionstore/api/internal/config"
	"versionstore/api/internal/store"
	"versionstore/api/internal/versioning"
)

func useMemoryBackend(t *testing.T) *store.MemoryStore {
	t.Helper()
	backend := store.NewMemoryStore()
	previous := openBackend
	openBackend = func(context.Context, config.Config) (store.Backend, func(), error) {
		return backend, func() {}, nil
	}
	t.Cleanup(func() { openBackend = previous })
	return backend
}

func run(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		return nil, err
	}
	var payload map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &payload), out.String())
	return payload, nil
}

func seed(t *testing.T, backend store.Backend, tenant string, titles ...string) []string {
	t.Helper()
	client, err := versioning.NewEngine(backend, versioning.Options{}).Tenant(tenant)
	require.NoError(t, err)
	commits := make([]string, 0, len(titles))
	for i, title := range titles {
		result, err := client.AddItem(context.Background(), versioning.Content{"title": title, "rank": i})
		require.NoError(t, err)
		commits = append(commits, result.Commit)
	}
	return commits
}

func TestViewAndResetHead(t *testing.T) {
	backend := useMemoryBackend(t)
	commits := seed(t, backend, "acme", "first", "second")

	payload, err := run(t, "view", "--tenant", "acme", "--sort", "-rank")
	require.NoError(t, err)
	assert.Equal(t, commits[1], payload["commit"])
	items := payload["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "second", items[0].(map[string]any)["title"])

	payload, err = run(t, "reset-head", "--tenant", "acme", "--commit", commits[0])
	require.NoError(t, err)
	assert.Equal(t, commits[0], payload["head"])

	payload, err = run(t, "head", "--tenant", "acme")
	require.NoError(t, err)
	assert.Equal(t, commits[0], payload["commit"])
	assert.Equal(t, string(versioning.HeadSingle), payload["state"])

	payload, err = run(t, "view", "--tenant", "acme", "--commit", commits[1])
	require.NoError(t, err)
	assert.Len(t, payload["items"], 2)
}

func TestHeadOfEmptyTenant(t *testing.T) {
	useMemoryBackend(t)

	payload, err := run(t, "head", "--tenant", "nobody")
	require.NoError(t, err)
	assert.Equal(t, string(versioning.HeadNone), payload["state"])
	assert.Nil(t, payload["commit"])
}

func TestCommandErrors(t *testing.T) {
	useMemoryBackend(t)

	_, err := run(t, "view")
	assert.ErrorContains(t, err, "--tenant is required")

	_, err = run(t, "reset-head", "--tenant", "acme", "--commit", "cmt_missing")
	assert.True(t, versioning.IsNotFound(err))

	_, err = run(t, "view", "--tenant", "acme", "--sort", "_hidden")
	assert.True(t, versioning.IsInvalidArgument(err))

	_, err = run(t, "migrate", "--database-url", store.MemoryURL)
	assert.Error(t, err)
}

func TestLogListsCommitsNewestFirst(t *testing.T) {
	backend := useMemoryBackend(t)
	commits := seed(t, backend, "acme", "a", "b", "c")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"log", "--tenant", "acme", "--limit", "2"})
	require.NoError(t, cmd.Execute())

	var log []versioning.CommitSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &log))
	require.Len(t, log, 2)
	assert.Equal(t, commits[2], log[0].ID)
	assert.Equal(t, commits[1], log[1].ID)
	assert.True(t, log[0].IsHead)
	assert.Equal(t, 3, log[0].Items)
}

func TestTokenIsAcceptedByVerifier(t *testing.T) {
	t.Setenv("VERSIONSTORE_JWT_SECRET", "cli-secret")

	payload, err := run(t, "token", "--tenant", "acme", "--role", "admin", "--ttl", "5m")
	require.NoError(t, err)
	assert.Equal(t, "acme", payload["tenant"])

	claims, err := auth.NewVerifier("cli-secret").Verify(payload["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.Tenant())
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "itemsctl", claims.Subject)

	_, err = run(t, "token", "--tenant", "acme", "--role", "root")
	assert.ErrorContains(t, err, "unknown role")
	_, err = run(t, "token", "--role", "user")
	assert.ErrorContains(t, err, "--tenant is required")
}
