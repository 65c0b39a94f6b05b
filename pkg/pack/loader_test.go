package pack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loaderFixtureYAML = `
id: iac-safety
version: 1.0.0
name: Infrastructure safety
mode: enforce
scope:
  level: repo
rules:
  - id: tf-review
    trigger:
      anyChangedPaths: ["terraform/**"]
    obligations:
      - condition:
          fact: pr.approvalCount
          operator: ">="
          value: 1
        decisionOnFail: block
`

const loaderFixtureJSON = `{
  "id": "docs-hygiene",
  "version": "2.1.0",
  "name": "Docs hygiene",
  "mode": "observe",
  "scope": {"level": "repo"},
  "rules": [
    {
      "id": "docs-updated",
      "trigger": {"anySurfaces": ["docs"]},
      "obligations": [
        {
          "condition": {"fact": "pr.changedFileCount", "operator": ">", "value": 0},
          "decisionOnFail": "warn"
        }
      ]
    }
  ]
}`

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "iac.yaml", loaderFixtureYAML)
	writeFixture(t, dir, "docs.json", loaderFixtureJSON)

	l := NewLoader(NewValidator(nil), nil)

	p, err := l.LoadFile(filepath.Join(dir, "iac.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "iac-safety", p.ID)
	assert.NotEmpty(t, p.Hash)

	p, err = l.LoadFile(filepath.Join(dir, "docs.json"))
	require.NoError(t, err)
	assert.Equal(t, "docs-hygiene", p.ID)
	assert.Equal(t, ModeObserve, p.Mode)
}

func TestLoadFile_Missing(t *testing.T) {
	l := NewLoader(NewValidator(nil), nil)
	_, err := l.LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "a.yaml", loaderFixtureYAML)
	writeFixture(t, dir, "b.json", loaderFixtureJSON)
	writeFixture(t, dir, "notes.txt", "not a pack")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	l := NewLoader(NewValidator(nil), nil)
	packs, err := l.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, packs, 2)
}

func TestLoadDir_InvalidPackFailsWholeLoad(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "good.yaml", loaderFixtureYAML)
	writeFixture(t, dir, "bad.yaml", "id: broken\n")

	l := NewLoader(NewValidator(nil), nil)
	packs, err := l.LoadDir(dir)
	require.Error(t, err)
	assert.Nil(t, packs)
}
