package httputil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPagination(t *testing.T) {
	assert.Equal(t, Pagination{Page: 1, Limit: 10, Total: 0, TotalPages: 0}, NewPagination(1, 10, 0))
	assert.Equal(t, 3, NewPagination(1, 10, 21).TotalPages)
	assert.Equal(t, 2, NewPagination(2, 10, 20).TotalPages)
	assert.Equal(t, 0, NewPagination(1, 0, 5).TotalPages)
}

func TestRequestInfoRoundTrip(t *testing.T) {
	_, ok := RequestInfoFrom(context.Background())
	assert.False(t, ok)

	info := RequestInfo{RequestID: "r1", IP: "10.0.0.1", UserAgent: "curl", Method: "GET", Path: "/api/v1/patients"}
	got, ok := RequestInfoFrom(WithRequestInfo(context.Background(), info))
	assert.True(t, ok)
	assert.Equal(t, info, got)
}
