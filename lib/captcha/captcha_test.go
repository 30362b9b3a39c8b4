package captcha

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSolve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, []byte("png-bytes"), body)
		w.Write([]byte("a1b2c"))
	}))
	defer server.Close()

	client := NewClient(ClientOptions{Endpoint: server.URL, ExpectedLength: 5})

	guess, ok := client.Solve(context.Background(), []byte("png-bytes"))
	require.True(t, ok)
	require.Equal(t, "a1b2c", guess)
}

func TestSolveWrongLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("a1"))
	}))
	defer server.Close()

	client := NewClient(ClientOptions{Endpoint: server.URL, ExpectedLength: 5})

	_, ok := client.Solve(context.Background(), nil)
	require.False(t, ok)
}

func TestSolveServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(ClientOptions{Endpoint: server.URL, ExpectedLength: 5})

	_, ok := client.Solve(context.Background(), nil)
	require.False(t, ok)
}
