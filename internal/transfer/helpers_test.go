package transfer

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func testContent(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}

	return b
}

// rangeServer serves content honouring Range requests and remembers the Range header of
// every request it saw.
type rangeServer struct {
	*httptest.Server

	mu     sync.Mutex
	ranges []string
}

func newRangeServer(t *testing.T, content []byte) *rangeServer {
	t.Helper()

	rs := &rangeServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.ranges = append(rs.ranges, r.Header.Get("Range"))
		rs.mu.Unlock()

		http.ServeContent(w, r, "track.m4a", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(rs.Close)

	return rs
}

func (rs *rangeServer) seenRanges() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	return append([]string(nil), rs.ranges...)
}

// fullServer ignores Range and always answers 200 with the whole content.
func fullServer(t *testing.T, content []byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(content)
	}))
	t.Cleanup(srv.Close)

	return srv
}
