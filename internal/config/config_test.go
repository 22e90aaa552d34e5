package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transmcap/transmcap/internal/columnar"
	"github.com/transmcap/transmcap/internal/pipeline"
)

// chdir moves into a fresh temp dir so Load never picks up a stray
// transmcap.toml from the working tree.
func chdir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmp))
	t.Cleanup(func() { os.Chdir(old) })
	return tmp
}

func TestLoadDefaults(t *testing.T) {
	chdir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "jsonl", cfg.Convert.Format)
	assert.Equal(t, pipeline.DefaultBatchSize, cfg.Convert.BatchSize)
	assert.Equal(t, "-", cfg.Convert.Output)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadFromFile(t *testing.T) {
	tmp := chdir(t)

	content := `
[convert]
format = "csv"
batch_size = 256

[log]
level = "debug"
format = "json"
`
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "transmcap.toml"), []byte(content), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "csv", cfg.Convert.Format)
	assert.Equal(t, 256, cfg.Convert.BatchSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromEnv(t *testing.T) {
	chdir(t)
	t.Setenv("TRANSMCAP_CONVERT_FORMAT", "parquet")
	t.Setenv("TRANSMCAP_CONVERT_BATCH_SIZE", "64")
	t.Setenv("TRANSMCAP_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "parquet", cfg.Convert.Format)
	assert.Equal(t, 64, cfg.Convert.BatchSize)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	chdir(t)
	t.Setenv("TRANSMCAP_CONVERT_FORMAT", "avro")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestLoadRejectsNonPositiveBatchSize(t *testing.T) {
	chdir(t)
	t.Setenv("TRANSMCAP_CONVERT_BATCH_SIZE", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size")
}

func TestPolicyPerFormatDefaults(t *testing.T) {
	cases := []struct {
		format  string
		structs columnar.StructPolicy
		lists   columnar.ListPolicy
	}{
		{"jsonl", columnar.StructKeep, columnar.ListKeep},
		{"csv", columnar.StructFlatten, columnar.ListDrop},
		{"parquet", columnar.StructFlatten, columnar.ListKeep},
	}
	for _, tc := range cases {
		cfg := &Config{Convert: ConvertConfig{Format: tc.format, BatchSize: 1}}
		p, err := cfg.Policy()
		require.NoError(t, err, tc.format)
		assert.Equal(t, tc.structs, p.Structs, tc.format)
		assert.Equal(t, tc.lists, p.Lists, tc.format)
	}
}

func TestPolicyOverrides(t *testing.T) {
	cfg := &Config{Convert: ConvertConfig{
		Format:          "jsonl",
		BatchSize:       1,
		ListPolicy:      "flatten-fixed",
		ArrayPolicy:     "flatten",
		MapPolicy:       "drop",
		ListFlattenSize: 3,
	}}

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, columnar.ListFlattenFixed, p.Lists)
	assert.Equal(t, columnar.ArrayFlatten, p.Arrays)
	assert.Equal(t, columnar.MapDrop, p.Maps)
	assert.Equal(t, 3, p.ListFlattenSize)
}

func TestPolicyFlattenSizeWithoutFlattenFixed(t *testing.T) {
	cfg := &Config{Convert: ConvertConfig{
		Format:          "jsonl",
		BatchSize:       1,
		ListFlattenSize: 4,
	}}

	_, err := cfg.Policy()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flatten-fixed")
}

func TestPolicyFlattenFixedWithoutSize(t *testing.T) {
	cfg := &Config{Convert: ConvertConfig{
		Format:     "jsonl",
		BatchSize:  1,
		ListPolicy: "flatten-fixed",
	}}

	_, err := cfg.Policy()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list-flatten-size")
}

func TestPolicyUnknownPolicyName(t *testing.T) {
	cfg := &Config{Convert: ConvertConfig{
		Format:     "jsonl",
		BatchSize:  1,
		ListPolicy: "explode",
	}}

	_, err := cfg.Policy()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list_policy")
}
