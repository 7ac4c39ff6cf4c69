package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGo(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestLintAcceptsMarkedQueries(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "q.go", "package q\n\n"+
		"const cols = `id, status`\n\n"+
		"const QSelect = `--sql 5c8e1a7b-2d4f-4b6a-9e0c-7f3b1d5a8c26\nselect ` + cols + ` from jobs;`\n\n"+
		"const QDelete = \"--sql 1b2d4c1e-6f7a-4e0b-8c3d-5a1f2e9b7c64\\ndelete from jobs\"\n")

	files, err := collectFiles([]string{dir})
	require.NoError(t, err)
	violations, err := lintFiles(files)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestLintFlagsMissingMarkerInConcatenation(t *testing.T) {
	dir := t.TempDir()
	path := writeGo(t, dir, "q.go", "package q\n\n"+
		"const cols = `id, status`\n\n"+
		"const QSelect = `select ` + cols + ` from jobs;`\n")

	violations, err := lintFiles([]string{path})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "QSelect", violations[0].name)
	assert.Equal(t, 5, violations[0].line)
	assert.Contains(t, violations[0].message, "missing or invalid")
}

func TestLintFlagsDuplicateMarkersAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	const marker = "--sql 9b2d4c1e-6f7a-4e0b-8c3d-5a1f2e9b7c64"
	a := writeGo(t, dir, "a.go", "package q\n\nconst QA = `"+marker+"\nselect 1;`\n")
	b := writeGo(t, dir, "b.go", "package q\n\nconst QB = `"+marker+"\nupdate jobs set status = 'failed';`\n")

	violations, err := lintFiles([]string{a, b})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "QB", violations[0].name)
	assert.Contains(t, violations[0].message, "first used by QA")
}

func TestLintIgnoresNonSQLStrings(t *testing.T) {
	dir := t.TempDir()
	path := writeGo(t, dir, "q.go", "package q\n\nconst Greeting = \"hello there\"\n\nvar n = 3\n")

	violations, err := lintFiles([]string{path})
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestCollectFilesSkipsTestsAndHiddenDirs(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "q.go", "package q\n")
	writeGo(t, dir, "q_test.go", "package q\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "_ref"), 0o755))
	writeGo(t, filepath.Join(dir, "_ref"), "r.go", "package r\n")

	files, err := collectFiles([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "q.go")}, files)
}
