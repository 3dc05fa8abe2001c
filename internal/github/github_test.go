package github

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultProvider(t *testing.T) *MockProvider {
	t.Helper()
	m, err := NewMockProvider("")
	require.NoError(t, err)
	return m
}

func TestMockProvider_DefaultPR(t *testing.T) {
	m := newDefaultProvider(t)
	ctx := context.Background()

	pr, err := m.GetPR(ctx, "demo/auth-service", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, pr.Number)
	assert.Equal(t, "Add user authentication feature", pr.Title)
	assert.Equal(t, "This PR adds JWT-based user authentication.", pr.Description)
	assert.Equal(t, "main", pr.BaseBranch)
	assert.Equal(t, "feature/auth", pr.HeadBranch)
	require.Len(t, pr.Files, 3)
	assert.Equal(t, "src/auth/__init__.py", pr.Files[0].Path)
	assert.Equal(t, 80, pr.TotalAdditions)

	// Unknown repo and PR fall back to the demo.
	other, err := m.GetPR(ctx, "someone/else", 99)
	require.NoError(t, err)
	assert.Equal(t, pr.Title, other.Title)
}

func TestMockProvider_GetPRReturnsCopy(t *testing.T) {
	m := newDefaultProvider(t)
	ctx := context.Background()

	pr, err := m.GetPR(ctx, "x", 1)
	require.NoError(t, err)
	pr.Files[0].Path = "changed"

	again, err := m.GetPR(ctx, "x", 1)
	require.NoError(t, err)
	assert.Equal(t, "src/auth/__init__.py", again.Files[0].Path)
}

func TestMockProvider_Files(t *testing.T) {
	m := newDefaultProvider(t)
	ctx := context.Background()

	content, err := m.GetFileContent(ctx, "r", "src/auth/jwt_auth.py", "main")
	require.NoError(t, err)
	assert.Equal(t, "import jwt\nclass JWTAuth:\n    pass", content)

	content, err = m.GetFileContent(ctx, "r", "nope.go", "main")
	require.NoError(t, err)
	assert.Empty(t, content)

	files, err := m.ListFiles(ctx, "r", "main")
	require.NoError(t, err)
	assert.Contains(t, files, "README.md")
	assert.Len(t, files, 6)
}

func TestMockProvider_CommitHistory(t *testing.T) {
	m := newDefaultProvider(t)
	commits, err := m.GetCommitHistory(context.Background(), "r", "src/main.py", 3)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "abc123", commits[0].SHA)
	assert.Equal(t, "Update src/main.py", commits[0].Message)
	assert.Equal(t, "developer@example.com", commits[0].Author)
}

func TestMockProvider_ExtraFixtures(t *testing.T) {
	dir := t.TempDir()
	fixture := `
pull_requests:
  - repo: acme/api
    number: 7
    title: Speed up search
    files_changed:
      - path: search/index.go
        additions: 3
        deletions: 1
        status: modified
    total_additions: 3
    total_deletions: 1
files:
  search/index.go: "package search"
commits:
  search/index.go:
    - {sha: a1, message: one}
    - {sha: a2, message: two}
    - {sha: a3, message: three}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme.yaml"), []byte(fixture), 0644))

	m, err := NewMockProvider(dir)
	require.NoError(t, err)
	ctx := context.Background()

	pr, err := m.GetPR(ctx, "ACME/api", 7)
	require.NoError(t, err)
	assert.Equal(t, "Speed up search", pr.Title)

	content, err := m.GetFileContent(ctx, "acme/api", "search/index.go", "main")
	require.NoError(t, err)
	assert.Equal(t, "package search", content)

	commits, err := m.GetCommitHistory(ctx, "acme/api", "search/index.go", 2)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "a1", commits[0].SHA)

	// Default fixture is still served.
	files, err := m.ListFiles(ctx, "acme/api", "main")
	require.NoError(t, err)
	assert.Len(t, files, 6)
}

func TestMockProvider_BadFixture(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("pull_requests: [ {"), 0644))
	_, err := NewMockProvider(dir)
	assert.ErrorContains(t, err, "bad.yaml")
}

func TestPullRequest_Info(t *testing.T) {
	m := newDefaultProvider(t)
	pr, err := m.GetPR(context.Background(), "demo/auth-service", 1)
	require.NoError(t, err)

	info := pr.Info("owner/repo", 1)
	assert.Equal(t, "owner/repo", info["repo"])
	assert.Equal(t, 1, info["pr_number"])
	assert.Equal(t, 80, info["total_additions"])
	assert.Equal(t, 3, info["files_changed"])
	assert.Equal(t, "feature/auth", info["head_branch"])
}
