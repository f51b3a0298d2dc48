package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type trackedBody struct {
	r      io.Reader
	read   int
	closed bool
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.read += n
	return n, err
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

func TestDrainAndCloseRequest(t *testing.T) {
	testCases := []struct {
		name         string
		bodySize     int
		handlerReads int
		expectedRead int
	}{
		{name: "UnreadBody", bodySize: 1024, expectedRead: 1024},
		{name: "PartiallyRead", bodySize: 1024, handlerReads: 100, expectedRead: 1024},
		{name: "HugeBodyCapped", bodySize: 2 * maxDrainBytes, expectedRead: maxDrainBytes},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			body := &trackedBody{r: bytes.NewReader(make([]byte, tc.bodySize))}
			req := httptest.NewRequest("POST", "/api/v1/analyze-frame", nil)
			req.Body = body

			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.handlerReads > 0 {
					_, _ = io.ReadFull(r.Body, make([]byte, tc.handlerReads))
				}
			})
			DrainAndCloseRequest()(next).ServeHTTP(httptest.NewRecorder(), req)

			assert.True(t, body.closed)
			assert.Equal(t, tc.expectedRead, body.read)
		})
	}
}

func TestDrainAndCloseRequest_NoBody(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	DrainAndCloseRequest()(next).ServeHTTP(rr, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rr.Code)
}
