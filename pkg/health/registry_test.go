package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ChecksRegisteredService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reg := NewRegistry()
	reg.Register("api", NewHTTPChecker(server.URL))

	result, err := reg.Check(context.Background(), "api", time.Second)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
}

func TestRegistry_UnknownServiceErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Check(context.Background(), "missing", time.Second)
	assert.Error(t, err)
}
