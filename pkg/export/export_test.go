package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Headers: []string{"Time", "Action", "Status"},
		Rows: []map[string]string{
			{"Time": "2026-02-01T09:30:00Z", "Action": "login", "Status": "success"},
			{"Time": "2026-02-01T09:31:00Z", "Action": "token_refresh"},
		},
	}
}

func TestRenderCSV(t *testing.T) {
	out, err := RenderCSV(sampleDataset())
	require.NoError(t, err)

	content := string(out)
	assert.Contains(t, content, "Time,Action,Status")
	assert.Contains(t, content, "2026-02-01T09:30:00Z,login,success")
	// Missing cells render as empty fields, not dropped columns.
	assert.Contains(t, content, "2026-02-01T09:31:00Z,token_refresh,")
}

func TestRenderCSVRequiresHeaders(t *testing.T) {
	_, err := RenderCSV(Dataset{})
	assert.Error(t, err)
}

func TestRenderPDF(t *testing.T) {
	out, err := RenderPDF(sampleDataset(), "Audit Log Export")
	require.NoError(t, err)
	assert.True(t, len(out) > 0)
	assert.Equal(t, "%PDF", string(out[:4]))
}
