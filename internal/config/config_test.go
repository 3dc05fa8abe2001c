package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hay-kot/criterio"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prreview/internal/llm"
	"github.com/joescharf/prreview/internal/store"
)

func newViper(t *testing.T) (*viper.Viper, string) {
	t.Helper()
	dir := t.TempDir()
	v := viper.New()
	SetDefaults(v, dir)
	return v, dir
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	v, dir := newViper(t)

	c := Load(v)
	assert.Equal(t, dir, c.StateDir)
	assert.Equal(t, filepath.Join(dir, "sessions"), c.SessionsDir)
	assert.Equal(t, filepath.Join(dir, "prreview.db"), c.Store.DBPath)
	assert.Equal(t, filepath.Join(dir, "prreview.log"), c.Log.File)
	assert.Equal(t, store.BackendFile, c.Store.Backend)
	assert.Equal(t, c.SessionsDir, c.StoreTarget())
	assert.Equal(t, llm.DefaultModel, c.Anthropic.Model)
	assert.InDelta(t, 0.2, c.Anthropic.Temperature, 1e-9)
	assert.Equal(t, int64(4096), c.Anthropic.MaxTokens)
	assert.Equal(t, 10, c.Review.MaxRetrievalDocs)
	assert.Equal(t, "strict style", c.Review.DefaultCriteria)
	assert.Empty(t, c.Anthropic.APIKey)
	assert.NoError(t, c.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	v, dir := newViper(t)
	v.Set("store.backend", "SQLite")
	v.Set("store.db_path", filepath.Join(dir, "custom.db"))
	v.Set("review.exclude_paths", []string{"vendor/**"})
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")

	c := Load(v)
	assert.Equal(t, store.BackendSQLite, c.Store.Backend)
	assert.Equal(t, filepath.Join(dir, "custom.db"), c.StoreTarget())
	assert.Equal(t, []string{"vendor/**"}, c.Review.ExcludePaths)
	assert.Equal(t, "sk-env", c.Anthropic.APIKey)

	p := c.LLMParams()
	assert.Equal(t, llm.DefaultModel, p.Model)
	assert.InDelta(t, 0.95, p.TopP, 1e-9)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	v, dir := newViper(t)
	file := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	v.Set("store.backend", "postgres")
	v.Set("anthropic.temperature", 1.5)
	v.Set("review.max_context_length", 0)
	v.Set("review.exclude_paths", []string{"[bad"})
	v.Set("log.level", "loud")
	v.Set("github.mock_data_dir", file)

	err := Load(v).Validate()

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{
		"store.backend",
		"log.level",
		"github.mock_data_dir",
		"anthropic.temperature",
		"review.max_context_length",
		"review.exclude_paths[0]",
	}, fields)
}

func TestValidate_EmptyStateDir(t *testing.T) {
	v := viper.New()
	SetDefaults(v, "")

	err := Load(v).Validate()

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	require.Len(t, fieldErrs, 1)
	assert.Equal(t, "state_dir", fieldErrs[0].Field)
}
