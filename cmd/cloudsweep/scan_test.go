package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunScanners(t *testing.T) {
	cmd := &cobra.Command{}
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	require.NoError(t, runScanners(cmd, nil))

	out := buf.String()
	assert.Contains(t, out, "ebs-volumes")
	assert.Contains(t, out, "iam-roles")
	assert.Contains(t, out, "global")
	assert.Contains(t, out, "regional")
}

func TestLoadScanConfig_RequiresScannerSelection(t *testing.T) {
	_, err := loadScanConfig(scanCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--all-scanners")
}

func TestLoadScanConfig_AllScanners(t *testing.T) {
	scanAllScanners = true
	t.Cleanup(func() { scanAllScanners = false })

	cfg, err := loadScanConfig(scanCmd)
	require.NoError(t, err)
	assert.Empty(t, cfg.Scanners)
	assert.Equal(t, 90, cfg.DaysThreshold)
}
