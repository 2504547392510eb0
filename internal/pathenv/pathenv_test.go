package pathenv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_FindsExecutableInPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-agent")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	got, err := Resolve("fake-agent", dir)
	require.NoError(t, err)
	assert.Equal(t, bin, got)
}

func TestResolve_SkipsNonExecutable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "not-exec"), []byte("x"), 0o644))

	_, err := Resolve("not-exec", dir)
	assert.ErrorIs(t, err, ErrCommandNotFound)
}

func TestResolve_NotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := Resolve("does-not-exist", dir)
	assert.ErrorIs(t, err, ErrCommandNotFound)
}

func TestResolve_EmptyBinary(t *testing.T) {
	_, err := Resolve("", "/usr/bin")
	assert.ErrorIs(t, err, ErrCommandNotFound)
}

func TestResolve_AbsolutePath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "tool")
	require.NoError(t, os.WriteFile(bin, []byte("x"), 0o755))

	got, err := Resolve(bin, "")
	require.NoError(t, err)
	assert.Equal(t, bin, got)
}

func TestBuild_IncludesCurrentPathAndAllowlist(t *testing.T) {
	t.Setenv("PATH", "/usr/bin:/bin")
	built := Build(context.Background())
	assert.Contains(t, built, "/usr/bin")
	assert.Contains(t, built, "/usr/local/bin")
}

func TestBuild_Deduplicates(t *testing.T) {
	t.Setenv("PATH", "/usr/local/bin:/usr/bin")
	built := Build(context.Background())
	segments := map[string]int{}
	for _, s := range splitPath(built) {
		segments[s]++
	}
	for dir, count := range segments {
		assert.Equalf(t, 1, count, "dir %q appeared %d times", dir, count)
	}
}
