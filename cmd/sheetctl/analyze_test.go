package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheetingest/internal/core"
)

func TestAnalyzeCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.csv")
	csv := "Quarterly export,,\n" +
		"Order,Customer,Total\n" +
		"1001,Acme,19.99\n" +
		"1002,Globex,5.00\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"analyze", path})
	require.NoError(t, rootCmd.Execute())

	var got []core.PreviewResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "orders.csv", got[0].FileName)
	require.Len(t, got[0].Sheets, 1)

	sheet := got[0].Sheets[0]
	assert.Equal(t, 1, sheet.Analysis.HeaderRowIndex)
	assert.Equal(t, []string{"Order", "Customer", "Total"}, sheet.Fields)
	assert.Len(t, sheet.Sample, 2)
}

func TestAnalyzeCommand_MissingFile(t *testing.T) {
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"analyze", filepath.Join(t.TempDir(), "nope.xlsx")})
	assert.Error(t, rootCmd.Execute())
}

func TestRootCommand_EnvFileOverridesShell(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SHEETCTL_TEST_MARK=file\n"), 0o600))
	t.Setenv("SHEETCTL_TEST_MARK", "shell")
	t.Cleanup(func() { envFile = "" })

	csvPath := filepath.Join(t.TempDir(), "one.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("a,b\n1,2\n"), 0o600))

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"--env", path, "analyze", csvPath})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "file", os.Getenv("SHEETCTL_TEST_MARK"))
}

func TestLoadEnv_MissingFile(t *testing.T) {
	err := loadEnv(filepath.Join(t.TempDir(), "absent.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.env")
}
