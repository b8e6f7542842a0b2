package repo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/dipolesim/dipole-engine/internal/grid"
)

func TestRemoteClientSolutionURL(t *testing.T) {
	client := NewRemoteClient("https://example.com/data/fwd/", time.Second)
	got := client.SolutionURL("sample", grid.Key{X: 0.01, Y: -0.02, Z: 0.03})
	want := "https://example.com/data/fwd/sample-0.010--0.020-0.030-fwd"
	if got != want {
		t.Fatalf("unexpected url:\n got %s\nwant %s", got, want)
	}
}

func TestRemoteClientFetchNon200(t *testing.T) {
	client := NewRemoteClient("https://example.com/fwd", time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodGet {
			t.Fatalf("unexpected method %s", req.Method)
		}
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Status:     "404 Not Found",
			Body:       io.NopCloser(bytes.NewReader(nil)),
			Header:     make(http.Header),
		}, nil
	}))

	_, err := client.FetchBEM(context.Background(), "sample")
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.StatusCode != http.StatusNotFound || fetchErr.URL != "https://example.com/fwd/sample-bem-sol" {
		t.Fatalf("unexpected fetch error: %+v", fetchErr)
	}
}

func TestRemoteClientNetworkError(t *testing.T) {
	client := NewRemoteClient("https://example.com/fwd", time.Second)
	boom := errors.New("connection reset")
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return nil, boom
	}))

	_, err := client.FetchSolution(context.Background(), "sample", grid.Key{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped network error, got %v", err)
	}
}

func TestRemoteClientWithoutBaseURL(t *testing.T) {
	client := NewRemoteClient("", time.Second)
	_, err := client.FetchSolution(context.Background(), "sample", grid.Key{})
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
}
