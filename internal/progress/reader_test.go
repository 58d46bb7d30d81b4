package progress

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ReportsAtIntervalAndEOF(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 250)

	var reports []int64

	r := NewReader(bytes.NewReader(data), int64(len(data)), 100, func(read, total int64) {
		assert.Equal(t, int64(250), total)
		reports = append(reports, read)
	})

	n, err := io.Copy(io.Discard, io.LimitReader(r, 1<<20))
	require.NoError(t, err)

	assert.Equal(t, int64(250), n)
	assert.Equal(t, int64(250), r.BytesRead())
	require.NotEmpty(t, reports)
	assert.Equal(t, int64(250), reports[len(reports)-1])

	for i := 1; i < len(reports); i++ {
		assert.Greater(t, reports[i], reports[i-1])
	}
}

func TestReader_NilCallback(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("abc")), -1, 1, nil)

	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(b))
}
