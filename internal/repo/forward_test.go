package repo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/dipolesim/dipole-engine/internal/cache"
	"github.com/dipolesim/dipole-engine/internal/grid"
	"github.com/dipolesim/dipole-engine/internal/index"
	"github.com/dipolesim/dipole-engine/internal/models"
	"github.com/dipolesim/dipole-engine/internal/solver"
	"github.com/dipolesim/dipole-engine/internal/transform"
)

type failingFetcher struct {
	t *testing.T
}

func (f failingFetcher) FetchSolution(context.Context, string, grid.Key) ([]byte, error) {
	f.t.Fatalf("unexpected remote solution fetch")
	return nil, nil
}

func (f failingFetcher) FetchBEM(context.Context, string) ([]byte, error) {
	f.t.Fatalf("unexpected remote BEM fetch")
	return nil, nil
}

func encodedSolution(t *testing.T, values ...float64) []byte {
	t.Helper()
	sol, err := models.NewForwardSolution(mat.NewDense(len(values)/3, 3, values))
	if err != nil {
		t.Fatalf("new solution: %v", err)
	}
	data, err := sol.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal solution: %v", err)
	}
	return data
}

func TestResolveOutOfVolumeDoesNoIO(t *testing.T) {
	key := grid.Key{X: 0.06, Y: 0, Z: 0}
	ix := index.New()
	if err := ix.Add(key, false); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	stub := newStubCache()
	r := NewForwardRepository(Options{
		Subject: "sample",
		Cache:   stub,
		Remote:  failingFetcher{t: t},
	})
	r.UseIndex(ix)

	_, err := r.Resolve(context.Background(), key)
	if !errors.Is(err, ErrOutOfVolume) {
		t.Fatalf("expected ErrOutOfVolume, got %v", err)
	}
	var locErr *LocationError
	if !errors.As(err, &locErr) || locErr.Key != key {
		t.Fatalf("expected location error naming %v, got %v", key, err)
	}
	if stub.calls != 0 {
		t.Fatalf("expected zero cache calls, got %d", stub.calls)
	}
}

func TestResolveUsesDiskCacheWithoutNetwork(t *testing.T) {
	dir := t.TempDir()
	payload := encodedSolution(t, 1, 2, 3, 4, 5, 6)
	if err := os.WriteFile(filepath.Join(dir, "sample-0.010-0.020-0.030-fwd"), payload, 0o644); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	disk, err := cache.NewDiskProvider(dir)
	if err != nil {
		t.Fatalf("disk provider: %v", err)
	}

	r := NewForwardRepository(Options{Subject: "sample", Cache: disk, Remote: failingFetcher{t: t}})
	sol, err := r.Resolve(context.Background(), grid.Key{X: 0.01, Y: 0.02, Z: 0.03})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sol.Sensors() != 2 || sol.Leadfield().At(1, 0) != 4 {
		t.Fatalf("unexpected cached solution")
	}
}

func TestResolveReplacesCorruptCacheEntry(t *testing.T) {
	dir := t.TempDir()
	name := "sample-0.010-0.020-0.030-fwd"
	if err := os.WriteFile(filepath.Join(dir, name), []byte("truncated"), 0o644); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}
	disk, err := cache.NewDiskProvider(dir)
	if err != nil {
		t.Fatalf("disk provider: %v", err)
	}

	payload := encodedSolution(t, 1, 2, 3, 4, 5, 6)
	hits := 0
	client := NewRemoteClient("https://example.com/fwd", time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		hits++
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(payload)),
			Header:     make(http.Header),
		}, nil
	}))
	r := NewForwardRepository(Options{Subject: "sample", Cache: disk, Remote: client})

	ctx := context.Background()
	key := grid.Key{X: 0.01, Y: 0.02, Z: 0.03}
	sol, err := r.Resolve(ctx, key)
	if err != nil {
		t.Fatalf("resolve over corrupt entry: %v", err)
	}
	if sol.Sensors() != 2 || hits != 1 {
		t.Fatalf("expected one refetch of a 2-sensor solution, sensors=%d hits=%d", sol.Sensors(), hits)
	}

	stored, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read replaced entry: %v", err)
	}
	if !bytes.Equal(stored, payload) {
		t.Fatalf("corrupt entry was not replaced")
	}
	if _, err := r.Resolve(ctx, key); err != nil || hits != 1 {
		t.Fatalf("expected replaced entry to serve from cache, hits=%d err=%v", hits, err)
	}
}

func TestResolveFetchesAndPersists(t *testing.T) {
	payload := encodedSolution(t, 1, 0, 0, 0, 1, 0, 0, 0, 1)
	hits := 0
	client := NewRemoteClient("https://example.com/data/fwd", time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		hits++
		if req.URL.Path != "/data/fwd/sample-0.010-0.020-0.030-fwd" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(payload)),
			Header:     make(http.Header),
		}, nil
	}))

	stub := newStubCache()
	ix := index.New()
	key := grid.Key{X: 0.01, Y: 0.02, Z: 0.03}
	if err := ix.Add(key, true); err != nil {
		t.Fatalf("seed index: %v", err)
	}
	r := NewForwardRepository(Options{Subject: "sample", Cache: stub, Remote: client})
	r.UseIndex(ix)

	ctx := context.Background()
	if _, err := r.Resolve(ctx, key); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected one upstream request, got %d", hits)
	}
	if _, ok := stub.store["sample-0.010-0.020-0.030-fwd"]; !ok {
		t.Fatalf("expected fetched solution to be cached")
	}

	sol, err := r.Resolve(ctx, key)
	if err != nil {
		t.Fatalf("cached resolve: %v", err)
	}
	if hits != 1 {
		t.Fatalf("cache miss triggered network call; hits=%d", hits)
	}
	if sol.Sensors() != 3 {
		t.Fatalf("unexpected sensors: %d", sol.Sensors())
	}
}

func TestResolveFetchFailureNamesURLAndLocation(t *testing.T) {
	client := NewRemoteClient("https://example.com/fwd", time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(bytes.NewReader(nil)),
			Header:     make(http.Header),
		}, nil
	}))
	stub := newStubCache()
	r := NewForwardRepository(Options{Subject: "sample", Cache: stub, Remote: client})

	key := grid.Key{X: -0.03, Y: 0.05, Z: 0.07}
	_, err := r.Resolve(context.Background(), key)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.URL != "https://example.com/fwd/sample--0.030-0.050-0.070-fwd" {
		t.Fatalf("unexpected url %s", fetchErr.URL)
	}
	var locErr *LocationError
	if !errors.As(err, &locErr) || locErr.Key != key {
		t.Fatalf("expected location in error, got %v", err)
	}
	if len(stub.store) != 0 {
		t.Fatalf("failed fetch must not populate the cache")
	}
}

func TestResolveRejectsCorruptRemotePayload(t *testing.T) {
	client := NewRemoteClient("https://example.com/fwd", time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader([]byte("<html>moved</html>"))),
			Header:     make(http.Header),
		}, nil
	}))
	stub := newStubCache()
	r := NewForwardRepository(Options{Subject: "sample", Cache: stub, Remote: client})

	if _, err := r.Resolve(context.Background(), grid.Key{}); err == nil {
		t.Fatalf("expected decode error")
	}
	if len(stub.store) != 0 {
		t.Fatalf("corrupt payload must not be cached")
	}
}

type bemFetcher struct {
	bemCalls int
}

func (b *bemFetcher) FetchSolution(context.Context, string, grid.Key) ([]byte, error) {
	return nil, errors.New("not used")
}

func (b *bemFetcher) FetchBEM(context.Context, string) ([]byte, error) {
	b.bemCalls++
	return []byte("bem"), nil
}

func TestResolveExactBypassesCache(t *testing.T) {
	bemStore, err := cache.NewDiskProvider(t.TempDir())
	if err != nil {
		t.Fatalf("bem store: %v", err)
	}
	fetcher := &bemFetcher{}
	stub := newStubCache()

	var got solver.Request
	exact := solver.Func(func(ctx context.Context, req solver.Request) (*models.ForwardSolution, error) {
		got = req
		return models.NewForwardSolution(mat.NewDense(1, 3, []float64{1, 2, 3}))
	})

	r := NewForwardRepository(Options{
		Subject:  "sample",
		Cache:    stub,
		Remote:   fetcher,
		Solver:   exact,
		BEMStore: bemStore,
	})

	pos := transform.Point3{X: 0.0123, Y: -0.0456, Z: 0.0789}
	for i := 0; i < 2; i++ {
		if _, err := r.ResolveExact(context.Background(), pos); err != nil {
			t.Fatalf("resolve exact: %v", err)
		}
	}
	if got.Position != pos || got.Subject != "sample" {
		t.Fatalf("solver saw unexpected request %+v", got)
	}
	if got.BEMPath != filepath.Join(bemStore.Dir(), "sample-bem-sol") {
		t.Fatalf("unexpected BEM path %s", got.BEMPath)
	}
	if fetcher.bemCalls != 1 {
		t.Fatalf("expected BEM download once, got %d", fetcher.bemCalls)
	}
	if stub.calls != 0 {
		t.Fatalf("exact solve touched the cache %d times", stub.calls)
	}
}

func TestResolveExactPropagatesNoSourcePoints(t *testing.T) {
	exact := solver.Func(func(ctx context.Context, req solver.Request) (*models.ForwardSolution, error) {
		return nil, &solver.ExactSolveError{Position: req.Position, Err: solver.ErrNoSourcePoints}
	})
	r := NewForwardRepository(Options{Subject: "sample", Solver: exact})
	_, err := r.ResolveExact(context.Background(), transform.Point3{X: 1})
	if !errors.Is(err, solver.ErrNoSourcePoints) {
		t.Fatalf("expected ErrNoSourcePoints, got %v", err)
	}
}

func TestLoadIndexFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fwd_index.csv")
	if err := os.WriteFile(path, []byte("x,y,z,fwd_exists\n0.010,0.020,0.030,False\n"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	r := NewForwardRepository(Options{Subject: "sample", IndexPath: path, Cache: newStubCache(), Remote: failingFetcher{t: t}})
	if err := r.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := r.Resolve(context.Background(), grid.Key{X: 0.01, Y: 0.02, Z: 0.03}); !errors.Is(err, ErrOutOfVolume) {
		t.Fatalf("expected ErrOutOfVolume, got %v", err)
	}

	missing := NewForwardRepository(Options{IndexPath: filepath.Join(t.TempDir(), "nope.csv")})
	if err := missing.Load(); err == nil {
		t.Fatalf("expected load error for missing index")
	}
}
