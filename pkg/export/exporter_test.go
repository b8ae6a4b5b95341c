package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRendersRowsInHeaderOrder(t *testing.T) {
	out, err := NewCSVExporter().Render(Dataset{
		Headers: []string{"holder", "days"},
		Rows: []map[string]string{
			{"days": "25", "holder": "emp-1"},
			{"holder": "emp-2"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "holder,days\nemp-1,25\nemp-2,\n", string(out))
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFExporterRendersTableAndForm(t *testing.T) {
	exporter := NewPDFExporter("lifecycle")

	table, err := exporter.Render(Dataset{
		Headers: []string{"holder", "days"},
		Rows:    []map[string]string{{"holder": "emp-1", "days": "25"}},
	}, "expiring credentials")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(table, []byte("%PDF")))

	form, err := exporter.RenderForm(Form{
		Title:  "Passport Copy",
		Fields: []Field{{Label: "Holder", Value: "emp-1"}},
		Footer: "generated for renewal",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(form, []byte("%PDF")))

	_, err = exporter.RenderForm(Form{Title: "Empty"})
	assert.Error(t, err)
}
