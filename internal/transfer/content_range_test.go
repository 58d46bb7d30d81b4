package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantStart int64
		wantEnd   int64
		wantTotal int64
		wantErr   bool
	}{
		{name: "full range", header: "bytes 0-999/1000", wantStart: 0, wantEnd: 999, wantTotal: 1000},
		{name: "resumed range", header: "bytes 400-999/1000", wantStart: 400, wantEnd: 999, wantTotal: 1000},
		{name: "unknown total", header: "bytes 400-999/*", wantStart: 400, wantEnd: 999, wantTotal: -1},
		{name: "surrounding whitespace", header: "  bytes 1-1/2 ", wantStart: 1, wantEnd: 1, wantTotal: 2},
		{name: "wrong unit", header: "items 0-1/2", wantErr: true},
		{name: "missing total", header: "bytes 0-1", wantErr: true},
		{name: "unsatisfied", header: "bytes */1000", wantErr: true},
		{name: "missing dash", header: "bytes 10/1000", wantErr: true},
		{name: "non numeric start", header: "bytes a-10/1000", wantErr: true},
		{name: "end before start", header: "bytes 10-5/1000", wantErr: true},
		{name: "end beyond total", header: "bytes 0-1000/1000", wantErr: true},
		{name: "non numeric total", header: "bytes 0-9/ten", wantErr: true},
		{name: "empty", header: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, total, err := ParseContentRange(tt.header)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
			assert.Equal(t, tt.wantTotal, total)
		})
	}
}
