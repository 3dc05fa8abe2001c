// Package github provides pull request metadata to the reviewer.
package github

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileDiff is one changed file in a pull request.
type FileDiff struct {
	Path      string `yaml:"path" json:"file_path"`
	Additions int    `yaml:"additions" json:"additions"`
	Deletions int    `yaml:"deletions" json:"deletions"`
	Patch     string `yaml:"patch" json:"diff_content"`
	Status    string `yaml:"status" json:"status"`
}

// PullRequest is the metadata and diff of a pull request.
type PullRequest struct {
	Repo           string     `yaml:"repo" json:"repo"`
	Number         int        `yaml:"number" json:"pr_number"`
	Title          string     `yaml:"title" json:"title"`
	Description    string     `yaml:"description" json:"description"`
	BaseBranch     string     `yaml:"base_branch" json:"base_branch"`
	HeadBranch     string     `yaml:"head_branch" json:"head_branch"`
	Files          []FileDiff `yaml:"files_changed" json:"files_changed"`
	TotalAdditions int        `yaml:"total_additions" json:"total_additions"`
	TotalDeletions int        `yaml:"total_deletions" json:"total_deletions"`
}

// Commit is one entry of a file's history.
type Commit struct {
	SHA     string `yaml:"sha" json:"sha"`
	Message string `yaml:"message" json:"message"`
	Author  string `yaml:"author" json:"author"`
	Date    string `yaml:"date" json:"date"`
}

// Provider supplies pull request metadata. Implementations may return
// empty data for anything they do not know about; that is not an error.
type Provider interface {
	GetPR(ctx context.Context, repo string, number int) (*PullRequest, error)
	GetFileContent(ctx context.Context, repo, path, ref string) (string, error)
	ListFiles(ctx context.Context, repo, ref string) ([]string, error)
	GetCommitHistory(ctx context.Context, repo, path string, limit int) ([]Commit, error)
}

// Fixture is the YAML document a MockProvider serves from.
type Fixture struct {
	PullRequests []PullRequest       `yaml:"pull_requests"`
	Files        map[string]string   `yaml:"files"`
	RepoFiles    []string            `yaml:"repo_files"`
	Commits      map[string][]Commit `yaml:"commits"`
}

//go:embed fixtures/*.yaml
var fixturesFS embed.FS

// MockProvider serves pull requests from YAML fixtures. The embedded
// demo fixture is always loaded first; its first pull request answers any
// lookup that matches nothing else.
type MockProvider struct {
	prs       []PullRequest
	files     map[string]string
	repoFiles []string
	commits   map[string][]Commit
}

// NewMockProvider loads the embedded fixture plus every *.yaml file in
// dataDir. An empty dataDir loads only the embedded fixture.
func NewMockProvider(dataDir string) (*MockProvider, error) {
	m := &MockProvider{
		files:   map[string]string{},
		commits: map[string][]Commit{},
	}

	data, err := fixturesFS.ReadFile("fixtures/default.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded fixture: %w", err)
	}
	if err := m.load(data); err != nil {
		return nil, fmt.Errorf("embedded fixture: %w", err)
	}

	if dataDir == "" {
		return m, nil
	}
	paths, err := filepath.Glob(filepath.Join(dataDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("glob fixtures: %w", err)
	}
	sort.Strings(paths)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read fixture: %w", err)
		}
		if err := m.load(data); err != nil {
			return nil, fmt.Errorf("fixture %s: %w", filepath.Base(p), err)
		}
	}
	return m, nil
}

func (m *MockProvider) load(data []byte) error {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	m.prs = append(m.prs, f.PullRequests...)
	for k, v := range f.Files {
		m.files[k] = v
	}
	if len(f.RepoFiles) > 0 {
		m.repoFiles = f.RepoFiles
	}
	for k, v := range f.Commits {
		m.commits[k] = v
	}
	return nil
}

// GetPR returns the fixture PR for repo and number, or the demo PR.
func (m *MockProvider) GetPR(ctx context.Context, repo string, number int) (*PullRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(m.prs) == 0 {
		return nil, fmt.Errorf("no pull request fixtures loaded")
	}
	pr := m.prs[0]
	for _, p := range m.prs {
		if p.Number == number && strings.EqualFold(p.Repo, repo) {
			pr = p
			break
		}
	}
	pr.Files = append([]FileDiff(nil), pr.Files...)
	return &pr, nil
}

// GetFileContent returns the fixture content of path, or "".
func (m *MockProvider) GetFileContent(ctx context.Context, _, path, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.files[path], nil
}

// ListFiles returns the fixture repository listing.
func (m *MockProvider) ListFiles(ctx context.Context, _, _ string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]string(nil), m.repoFiles...), nil
}

// GetCommitHistory returns up to limit fixture commits for path, or a
// single synthetic commit when the fixture has none.
func (m *MockProvider) GetCommitHistory(ctx context.Context, _, path string, limit int) ([]Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	commits, ok := m.commits[path]
	if !ok {
		commits = []Commit{{
			SHA:     "abc123",
			Message: "Update " + path,
			Author:  "developer@example.com",
			Date:    "2024-01-15T10:00:00Z",
		}}
	}
	if limit > 0 && len(commits) > limit {
		commits = commits[:limit]
	}
	return append([]Commit(nil), commits...), nil
}

// Info returns the pr_info map recorded on a session for the requested
// repo and number. files_changed is a count; the diffs themselves are
// recorded on the retrieval step.
func (pr *PullRequest) Info(repo string, number int) map[string]any {
	return map[string]any{
		"repo":            repo,
		"pr_number":       number,
		"title":           pr.Title,
		"description":     pr.Description,
		"base_branch":     pr.BaseBranch,
		"head_branch":     pr.HeadBranch,
		"files_changed":   len(pr.Files),
		"total_additions": pr.TotalAdditions,
		"total_deletions": pr.TotalDeletions,
	}
}
