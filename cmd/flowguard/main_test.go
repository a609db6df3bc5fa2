package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/config"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/decision"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/flow"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/prompt"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/rules"
)

func TestPrintFlowsJSON(t *testing.T) {
	var buf bytes.Buffer
	gen := flow.NewGenerator(config.Defaults().Generator, rand.New(rand.NewSource(3)))
	require.NoError(t, printFlows(&buf, gen, 3, true))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	var rec flow.Record
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &rec))
	assert.Equal(t, uint64(3), rec.FlowID)
}

func TestPrintFlowsTable(t *testing.T) {
	var buf bytes.Buffer
	gen := flow.NewGenerator(config.Defaults().Generator, rand.New(rand.NewSource(3)))
	require.NoError(t, printFlows(&buf, gen, 2, false))
	assert.Contains(t, buf.String(), "FLOW")
	assert.Contains(t, buf.String(), "Total: 2 flows")
}

func TestPrintNormalized(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printNormalized(&buf, "```json\n{\"anomaly_detected\": true, \"action\": \"drop\", \"target_ip\": \"10.0.0.1\"}\n```"))
	assert.Contains(t, buf.String(), "10.0.0.1")

	buf.Reset()
	err := printNormalized(&buf, "the flow looks fine")
	assert.ErrorIs(t, err, decision.ErrNotStructured)
	assert.Contains(t, buf.String(), "fail-open")
	assert.Contains(t, buf.String(), "Stage:")
}

func TestPrintTemplate(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printTemplate(&buf, prompt.Default(), false))
	assert.Contains(t, buf.String(), "preamble")

	buf.Reset()
	require.NoError(t, printTemplate(&buf, prompt.Default(), true))
	assert.Contains(t, buf.String(), "user")
	assert.Contains(t, buf.String(), "flow_id")
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n  b\tc", 20))
	assert.Equal(t, "abcdefg...", oneLine(strings.Repeat("abcdefghij", 3), 10))
}

func TestPrintAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.db")
	a, err := rules.NewSQLiteAudit(path)
	require.NoError(t, err)
	defer a.Close()

	for i := uint64(1); i <= 2; i++ {
		in, err := rules.DefaultBuilder().Drop(i, "10.0.0.1")
		require.NoError(t, err)
		_, err = a.Apply(context.Background(), in)
		require.NoError(t, err)
	}

	stored, err := a.List(context.Background(), 10)
	require.NoError(t, err)

	var buf bytes.Buffer
	printStored(&buf, stored)
	assert.Contains(t, buf.String(), "Total: 2 rules")
	assert.Contains(t, buf.String(), "acl_table")

	buf.Reset()
	require.NoError(t, printAuditStats(context.Background(), &buf, a, path))
	assert.Contains(t, buf.String(), "Applied Intents:     2")
	assert.Contains(t, buf.String(), "10.0.0.1")
}
