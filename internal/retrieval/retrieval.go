// Package retrieval gathers the context documents a review prompt is built
// from: criteria references, repository metadata, changed file contents and
// their recent history.
package retrieval

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/joescharf/prreview/internal/criteria"
	"github.com/joescharf/prreview/internal/github"
	"github.com/joescharf/prreview/internal/models"
)

// Document types recorded in RetrievedDocument metadata.
const (
	TypeCriteria      = "criteria"
	TypeReadme        = "repository_documentation"
	TypeDependencies  = "dependencies"
	TypeFileStructure = "file_structure"
	TypeFileContent   = "file_content"
	TypeRelatedFiles  = "related_files"
	TypeCommitHistory = "commit_history"
)

const (
	DefaultMaxDocs = 10
	historyLimit   = 3
	defaultRef     = "main"
)

var manifests = []string{"requirements.txt", "go.mod", "package.json"}

// Package entry files whose siblings are worth listing.
var entryFiles = []string{"__init__.py", "doc.go"}

// Options configures a Retriever.
type Options struct {
	MaxDocs      int
	ExcludePaths []string
}

// Retriever collects context documents from a Provider.
type Retriever struct {
	provider github.Provider
	opts     Options
	log      zerolog.Logger
}

// New returns a Retriever. Exclude patterns use doublestar syntax.
func New(p github.Provider, opts Options, logger zerolog.Logger) (*Retriever, error) {
	if opts.MaxDocs <= 0 {
		opts.MaxDocs = DefaultMaxDocs
	}
	for _, pat := range opts.ExcludePaths {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pat)
		}
	}
	return &Retriever{provider: p, opts: opts, log: logger}, nil
}

// Retrieve returns the most relevant documents for reviewing pr, grouped
// by type. Provider failures on individual sources are logged and skipped.
func (r *Retriever) Retrieve(ctx context.Context, repo string, pr *github.PullRequest, crit models.CriteriaResult) (*models.RetrievalContext, error) {
	var docs []models.RetrievedDocument
	docs = append(docs, criteria.RelevantDocuments(crit)...)
	docs = append(docs, r.repositoryDocs(ctx, repo)...)

	files := r.reviewable(pr.Files)
	docs = append(docs, r.fileDocs(ctx, repo, files)...)
	docs = append(docs, r.historyDocs(ctx, repo, files)...)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score() > docs[j].Score()
	})
	if len(docs) > r.opts.MaxDocs {
		docs = docs[:r.opts.MaxDocs]
	}
	if docs == nil {
		docs = []models.RetrievedDocument{}
	}

	byType := map[string][]models.RetrievedDocument{}
	for _, d := range docs {
		byType[d.Type()] = append(byType[d.Type()], d)
	}

	focus := crit.Focus
	if focus == "" {
		focus = "General review"
	}
	return &models.RetrievalContext{
		Documents:       docs,
		DocumentsByType: byType,
		TotalDocuments:  len(docs),
		CriteriaFocus:   focus,
		Repository:      repo,
		PRSummary: models.PRSummary{
			Title:          pr.Title,
			FilesChanged:   len(pr.Files),
			TotalAdditions: pr.TotalAdditions,
			TotalDeletions: pr.TotalDeletions,
		},
	}, nil
}

// Excluded reports whether p matches any exclude pattern.
func (r *Retriever) Excluded(p string) bool {
	for _, pat := range r.opts.ExcludePaths {
		if ok, _ := doublestar.Match(pat, p); ok {
			return true
		}
	}
	return false
}

func (r *Retriever) reviewable(files []github.FileDiff) []github.FileDiff {
	var out []github.FileDiff
	for _, f := range files {
		if r.Excluded(f.Path) {
			r.log.Debug().Str("file", f.Path).Msg("excluded from context")
			continue
		}
		out = append(out, f)
	}
	return out
}

func (r *Retriever) repositoryDocs(ctx context.Context, repo string) []models.RetrievedDocument {
	var docs []models.RetrievedDocument

	if readme := r.content(ctx, repo, "README.md"); readme != "" {
		docs = append(docs, doc(readme, "README.md", 0.8, map[string]any{"type": TypeReadme}))
	}
	for _, m := range manifests {
		if content := r.content(ctx, repo, m); content != "" {
			docs = append(docs, doc(content, m, 0.7, map[string]any{"type": TypeDependencies}))
		}
	}

	files, err := r.provider.ListFiles(ctx, repo, defaultRef)
	if err != nil {
		r.log.Warn().Err(err).Str("repo", repo).Msg("list files failed")
		return docs
	}
	if len(files) > 0 {
		docs = append(docs, doc("Repository file structure:\n"+strings.Join(files, "\n"),
			"repository_structure", 0.6, map[string]any{"type": TypeFileStructure}))
	}
	return docs
}

func (r *Retriever) fileDocs(ctx context.Context, repo string, files []github.FileDiff) []models.RetrievedDocument {
	var docs []models.RetrievedDocument
	for _, f := range files {
		if content := r.content(ctx, repo, f.Path); content != "" {
			var b strings.Builder
			fmt.Fprintf(&b, "File: %s\n", f.Path)
			fmt.Fprintf(&b, "Status: %s\n", f.Status)
			fmt.Fprintf(&b, "Additions: %d, Deletions: %d\n\n", f.Additions, f.Deletions)
			fmt.Fprintf(&b, "Current content:\n%s", content)
			docs = append(docs, doc(b.String(), f.Path, 0.9, map[string]any{
				"type":      TypeFileContent,
				"file_path": f.Path,
				"status":    f.Status,
				"additions": f.Additions,
				"deletions": f.Deletions,
			}))
		}

		if !isEntryFile(f.Path) {
			continue
		}
		dir := path.Dir(f.Path)
		all, err := r.provider.ListFiles(ctx, repo, defaultRef)
		if err != nil {
			r.log.Warn().Err(err).Str("file", f.Path).Msg("list related files failed")
			continue
		}
		var related []string
		for _, p := range all {
			if p != f.Path && strings.HasPrefix(p, dir+"/") {
				related = append(related, p)
			}
		}
		if len(related) > 0 {
			docs = append(docs, doc("Related module files:\n"+strings.Join(related, "\n"),
				dir+"/related_files", 0.7, map[string]any{"type": TypeRelatedFiles, "module": dir}))
		}
	}
	return docs
}

func (r *Retriever) historyDocs(ctx context.Context, repo string, files []github.FileDiff) []models.RetrievedDocument {
	var docs []models.RetrievedDocument
	for _, f := range files {
		commits, err := r.provider.GetCommitHistory(ctx, repo, f.Path, historyLimit)
		if err != nil {
			r.log.Warn().Err(err).Str("file", f.Path).Msg("commit history failed")
			continue
		}
		if len(commits) == 0 {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Recent commit history for %s:\n", f.Path)
		for _, c := range commits {
			sha := c.SHA
			if len(sha) > 8 {
				sha = sha[:8]
			}
			fmt.Fprintf(&b, "- %s: %s (%s)\n", sha, c.Message, c.Date)
		}
		docs = append(docs, doc(b.String(), f.Path+"_commits", 0.6,
			map[string]any{"type": TypeCommitHistory, "file_path": f.Path}))
	}
	return docs
}

func (r *Retriever) content(ctx context.Context, repo, p string) string {
	c, err := r.provider.GetFileContent(ctx, repo, p, defaultRef)
	if err != nil {
		r.log.Warn().Err(err).Str("file", p).Msg("file content failed")
		return ""
	}
	return c
}

func isEntryFile(p string) bool {
	base := path.Base(p)
	for _, e := range entryFiles {
		if base == e {
			return true
		}
	}
	return false
}

func doc(content, source string, score float64, meta map[string]any) models.RetrievedDocument {
	return models.RetrievedDocument{
		Content:        content,
		Source:         source,
		RelevanceScore: models.Float(score),
		Metadata:       meta,
	}
}
