package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) [][]string {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	require.NoError(t, <-errCh)
	return rows
}

func TestStreamCSV_WithHeader(t *testing.T) {
	input := "QuadKey,Url,Size\n021230221,https://example.com/a.csv.gz,12345\n021230223,https://example.com/b.csv.gz,678\n"

	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})

	rows := collectRows(t, rowCh, errCh)
	assert.Equal(t, []string{"QuadKey", "Url", "Size"}, <-headerCh)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"021230221", "https://example.com/a.csv.gz", "12345"}, rows[0])
}

func TestStreamCSV_NoHeader(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a,b\nc,d\n"), CSVOptions{})
	rows := collectRows(t, rowCh, errCh)
	assert.Len(t, rows, 2)
}

func TestStreamCSV_VariableFieldCounts(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a,b,c\nd,e\n"), CSVOptions{})
	rows := collectRows(t, rowCh, errCh)
	require.Len(t, rows, 2)
	assert.Len(t, rows[0], 3)
	assert.Len(t, rows[1], 2)
}

func TestStreamCSV_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a,b\nc,d\n"), CSVOptions{})
	for range rowCh {
	}
	assert.Error(t, <-errCh)
}
