package cmd

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lehigh-university-libraries/herbarium/internal/auth"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	out, err := run(t, "token", "alice")
	require.NoError(t, err)

	claims, err := auth.New("cli-secret").ParseToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
}

func TestGalleryCommandEmpty(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "memory")
	t.Setenv("IMAGE_STORAGE", "memory")

	out, err := run(t, "gallery", "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "No plants saved yet.")
}

func TestScopeFromFlags(t *testing.T) {
	_, err := scopeFromFlags("", false)
	assert.Error(t, err)
	_, err = scopeFromFlags("alice", true)
	assert.Error(t, err)

	s, err := scopeFromFlags("alice", false)
	require.NoError(t, err)
	assert.Equal(t, "user:alice", s.String())

	s, err = scopeFromFlags("", true)
	require.NoError(t, err)
	assert.Equal(t, "public", s.String())
}

func TestExportParquetNeedsOutput(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "memory")
	t.Setenv("IMAGE_STORAGE", "memory")

	_, err := run(t, "export", "--public", "--format", "parquet")
	assert.ErrorContains(t, err, "--output")

	out, err := run(t, "export", "--public", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "plants:")
}

func TestEvalCommandErrors(t *testing.T) {
	_, err := run(t, "eval", "missing.csv")
	assert.ErrorContains(t, err, "unsupported dataset format")

	dir := t.TempDir()
	manifest := dir + "/dataset.yaml"
	require.NoError(t, os.WriteFile(manifest, []byte("samples:\n  - image: a.jpg\n    scientific_name: Ocimum basilicum\n"), 0644))
	_, err = run(t, "eval", manifest, "--provider", "bogus")
	assert.ErrorContains(t, err, "unsupported provider")
}
