package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{"completeness-check", "periodic-scan", "stage-check", "submission", "submit-referral"}, c.Types())

	sub, ok := c.Lookup("submission")
	require.True(t, ok)
	assert.True(t, sub.Keyed)
	assert.Equal(t, 16, sub.DefaultPolicy.MaxAttempts)
	assert.Equal(t, "exponential", sub.DefaultPolicy.Backoff)

	scan, ok := c.Lookup("periodic-scan")
	require.True(t, ok)
	assert.False(t, scan.Keyed)

	_, ok = c.Lookup("send-email")
	assert.False(t, ok)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"duplicate", `{"jobTypes":[{"type":"a","defaultPolicy":{"maxAttempts":1,"backoff":"fixed"},"payloadSchema":{}},{"type":"a","defaultPolicy":{"maxAttempts":1,"backoff":"fixed"},"payloadSchema":{}}]}`},
		{"zero attempts", `{"jobTypes":[{"type":"a","defaultPolicy":{"maxAttempts":0,"backoff":"fixed"},"payloadSchema":{}}]}`},
		{"bad backoff", `{"jobTypes":[{"type":"a","defaultPolicy":{"maxAttempts":1,"backoff":"linear"},"payloadSchema":{}}]}`},
		{"no schema", `{"jobTypes":[{"type":"a","defaultPolicy":{"maxAttempts":1,"backoff":"fixed"}}]}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.json))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, embedded, 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Len(t, c.JobTypes, 5)
}
