package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/logwire/internal/export"
)

const goodConfig = `
logHome: logs
global:
  level: INFO
categories:
  - id: db
    names: [db]
    level: DEBUG
    file: db.log
fragments:
  - id: vendor
    inline: |
      sinks:
        - name: audit
          kind: file
          path: audit.log
      loggers:
        - name: audit
          sinks: [audit]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logwire.yml"), []byte(content), 0o644))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestValidate_OK(t *testing.T) {
	dir := writeConfig(t, goodConfig)

	out, err := execute(t, "validate", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 3 source(s)")
	assert.NoDirExists(t, filepath.Join(dir, "logs"))
}

func TestValidate_ReportsConflicts(t *testing.T) {
	dir := writeConfig(t, `
categories:
  - id: a
    names: [a]
    file: shared.log
  - id: b
    names: [b]
    file: shared.log
`)

	out, err := execute(t, "validate", "--config", filepath.Join(dir, "logwire.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict")
	assert.Contains(t, out, "conflict: b.file")
}

func TestExport_JSON(t *testing.T) {
	dir := writeConfig(t, goodConfig)

	out, err := execute(t, "export", "--dir", dir)
	require.NoError(t, err)

	var st export.StateExport
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Len(t, st.Sources, 3)

	var names []string
	for _, s := range st.Sinks {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"audit", "CONSOLE", "file:db"}, names)
	assert.NoDirExists(t, filepath.Join(dir, "logs"))
}

func TestExport_Mermaid(t *testing.T) {
	dir := writeConfig(t, goodConfig)

	out, err := execute(t, "export", "--dir", dir, "--format", "mermaid")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "graph LR\n"))
	assert.Contains(t, out, `["db DEBUG"]`)
}

func TestExport_UnknownFormat(t *testing.T) {
	dir := writeConfig(t, goodConfig)

	_, err := execute(t, "export", "--dir", dir, "--format", "dot")
	assert.ErrorContains(t, err, "unknown format")
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := writeConfig(t, "log:\n  level: info\n")
	t.Setenv("LOGWIRE_DIR", dir)
	t.Setenv("LOGWIRE_LOG_LEVEL", "debug")
	t.Setenv("LOGWIRE_METRICS_ADDR", ":9999")

	v := newViper()
	buildRootCmd(v)
	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logwire.yml"), cfg.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9999", cfg.Metrics.Addr)
}
