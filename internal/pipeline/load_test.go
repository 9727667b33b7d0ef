package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const releaseDoc = `
version: 1
name: release
on:
  push:
    branches: [main]
    tags: ["v*.*.*"]
  pull_request:
    branches: [main]
stages:
  - name: test
    matrix:
      os: [linux, macos, windows]
    steps:
      - name: unit
        run: make test OS=${{ matrix.os }}
        env: {CI: "1"}
  - name: build
    needs: [test]
    matrix:
      os: [linux, macos, windows]
    steps:
      - name: compile
        run: make build OS=${{ matrix.os }}
    artifacts:
      produce: [binary]
      outputs: {binary: "dist/app-${{ matrix.os }}"}
  - name: release
    needs: [build]
    if: event == "push" && ref_kind == "tag" && match(ref, "v*.*.*")
    timeout: 10m
    fail_fast: false
    steps:
      - name: publish
        run: ./scripts/publish.sh
    artifacts:
      consume:
        - {stage: build, name: binary}
`

func TestParse_FullDocument(t *testing.T) {
	doc, err := Parse([]byte(releaseDoc))
	require.NoError(t, err)

	assert.Equal(t, "release", doc.Name)
	require.Len(t, doc.Stages, 3)

	require.NotNil(t, doc.On.Push)
	assert.Equal(t, []string{"main"}, doc.On.Push.Branches)
	assert.Equal(t, []string{"v*.*.*"}, doc.On.Push.Tags)
	require.NotNil(t, doc.On.PullRequest)

	test := doc.Stages[0]
	assert.Equal(t, "test", test.Name)
	assert.Equal(t, []string{"linux", "macos", "windows"}, test.Matrix["os"])
	assert.True(t, test.FailFastEnabled(), "fail-fast defaults to true")
	require.Len(t, test.Steps, 1)
	assert.Equal(t, "make test OS=${{ matrix.os }}", test.Steps[0].Run)

	build := doc.Stages[1]
	assert.Equal(t, []string{"test"}, build.Needs)
	assert.Equal(t, []string{"binary"}, build.Artifacts.Produce)
	assert.Equal(t, "dist/app-${{ matrix.os }}", build.Artifacts.Outputs["binary"])

	release := doc.Stages[2]
	assert.Equal(t, 10*time.Minute, release.Timeout.Std())
	assert.False(t, release.FailFastEnabled())
	require.Len(t, release.Artifacts.Consume, 1)
	assert.Equal(t, "build", release.Artifacts.Consume[0].Stage)
	assert.Equal(t, "binary", release.Artifacts.Consume[0].Name)

	require.NoError(t, Validate(doc))
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`
name: p
stages:
  - name: test
    stepz:
      - run: make test
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpec)
}

func TestParse_RejectsEmptyAndMultiDocument(t *testing.T) {
	_, err := Parse([]byte(""))
	assert.ErrorIs(t, err, ErrSpec)

	_, err = Parse([]byte("name: a\nstages: []\n---\nname: b\n"))
	assert.ErrorIs(t, err, ErrSpec)
}

func TestParse_InvalidTimeout(t *testing.T) {
	_, err := Parse([]byte(`
name: p
stages:
  - name: test
    timeout: soon
    steps:
      - run: make test
`))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(releaseDoc), 0o644))

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "release", doc.Name)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
