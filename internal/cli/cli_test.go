package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-contracts/internal/cli"
	"github.com/ahrav/go-contracts/internal/domain"
)

const contractsDoc = `
contracts:
  - id: prices
    source_hint: market
    output_location: prices.json
    required_fields:
      - {name: price, type: number}
  - id: summary
    source_hint: analytics
    output_location: summary.json
    dependencies: [prices]
    required_fields:
      - {name: avg_volume, type: number, operation: report}
  - id: broken
    source_hint: market
    output_location: broken.json
    required_fields:
      - {name: missing, type: number}
sets:
  daily: [prices, summary]
  all: [prices, summary, broken]
`

type workspace struct {
	dir    string
	config string
}

func newWorkspace(t *testing.T, contracts string) workspace {
	t.Helper()
	dir := t.TempDir()
	write := func(rel, body string) {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	write("contracts.yaml", contracts)
	write("snapshots/market/price.json", `101.5`)
	write("snapshots/analytics/report.json", `{"avg_volume": 1100.25}`)
	write("contractd.yaml", `
contracts:
  file: `+filepath.Join(dir, "contracts.yaml")+`
services:
  - name: market
    fallback: "snapshot.{service}.{operation}"
  - name: analytics
    fallback: "snapshot.{service}.{operation}"
retry:
  max_attempts: 1
storage:
  output_root: `+filepath.Join(dir, "out")+`
  snapshot_root: `+filepath.Join(dir, "snapshots")+`
observability:
  log_level: error
`)
	return workspace{dir: dir, config: filepath.Join(dir, "contractd.yaml")}
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli.Execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun(t *testing.T) {
	ws := newWorkspace(t, contractsDoc)

	t.Run("satisfied set exits zero", func(t *testing.T) {
		code, out, _ := run(t, "run", "daily", "--config", ws.config)
		assert.Equal(t, cli.ExitCodeOK, code)
		assert.Contains(t, out, "prices")
		assert.Contains(t, out, "2/2 satisfied")
		assert.FileExists(t, filepath.Join(ws.dir, "out", "summary.json"))
	})

	t.Run("failed contract exits one", func(t *testing.T) {
		code, out, _ := run(t, "run", "all", "--config", ws.config, "--format", "json")
		assert.Equal(t, cli.ExitCodeFailures, code)

		var report domain.RunReport
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		require.Len(t, report.ContractsFailed, 1)
		assert.Equal(t, "broken", report.ContractsFailed[0].ID)
	})

	t.Run("explicit contracts", func(t *testing.T) {
		code, out, _ := run(t, "run", "--contract", "prices", "--config", ws.config, "-F", "json")
		assert.Equal(t, cli.ExitCodeOK, code)
		assert.Contains(t, out, `"prices"`)
	})

	t.Run("unknown set exits two", func(t *testing.T) {
		code, _, errOut := run(t, "run", "weekly", "--config", ws.config)
		assert.Equal(t, cli.ExitCodeError, code)
		assert.Contains(t, errOut, "weekly")
	})
}

func TestRun_SkippedDependents(t *testing.T) {
	doc := strings.Replace(contractsDoc, "operation: report", "operation: gone", 1)
	doc += `  blocked: [summary, downstream]
`
	doc = strings.Replace(doc, "sets:", `  - id: downstream
    source_hint: market
    output_location: downstream.json
    dependencies: [summary]
    required_fields:
      - {name: price, type: number}
sets:`, 1)
	ws := newWorkspace(t, doc)

	code, out, _ := run(t, "run", "blocked", "--config", ws.config, "-F", "json")
	var report domain.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.ContractsSkipped, 1)
	assert.Equal(t, "downstream", report.ContractsSkipped[0].ID)
	assert.Equal(t, cli.ExitCodeFailures, code, "summary itself failed")
}

func TestHealth(t *testing.T) {
	ws := newWorkspace(t, contractsDoc)

	code, out, _ := run(t, "health", "market", "--config", ws.config, "-F", "json")
	assert.Equal(t, cli.ExitCodeOK, code)
	var status domain.HealthStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.True(t, status.Available)
	assert.Equal(t, domain.SourceFallback, status.Strategy)

	code, _, _ = run(t, "health", "ghost", "--config", ws.config)
	assert.Equal(t, cli.ExitCodeError, code)
}

func TestValidate(t *testing.T) {
	ws := newWorkspace(t, contractsDoc)

	code, out, _ := run(t, "validate", "--config", ws.config)
	assert.Equal(t, cli.ExitCodeOK, code)
	assert.Contains(t, out, "3 contracts OK")
	assert.Contains(t, out, "set daily: prices -> summary")

	bad := newWorkspace(t, strings.Replace(contractsDoc, "source_hint: analytics", "source_hint: weather", 1))
	code, _, errOut := run(t, "validate", "--config", bad.config)
	assert.Equal(t, cli.ExitCodeError, code)
	assert.Contains(t, errOut, "weather")
}

func TestBadFlags(t *testing.T) {
	ws := newWorkspace(t, contractsDoc)
	code, _, errOut := run(t, "validate", "--config", ws.config, "--format", "xml")
	assert.Equal(t, cli.ExitCodeError, code)
	assert.Contains(t, errOut, "unknown output format")

	code, _, _ = run(t, "validate", "--config", filepath.Join(ws.dir, "missing.yaml"))
	assert.Equal(t, cli.ExitCodeError, code)
}
