package main

import (
	"errors"
	"flag"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/dipolesim/dipole-engine/internal/grid"
	"github.com/dipolesim/dipole-engine/internal/models"
)

// solutionName matches {subject}-{x}-{y}-{z}-fwd with three-decimal coordinates.
var solutionName = regexp.MustCompile(`^(.+?)-(-?\d+\.\d{3})-(-?\d+\.\d{3})-(-?\d+\.\d{3})-fwd$`)

func main() {
	var (
		addr      string
		dir       string
		synthetic int
		radius    float64
	)
	flag.StringVar(&addr, "addr", ":8080", "Listen address")
	flag.StringVar(&dir, "dir", "data/fwd", "Directory of forward and BEM solution files")
	flag.IntVar(&synthetic, "synthetic-sensors", 0, "Serve generated solutions with this many sensors for files not on disk")
	flag.Float64Var(&radius, "radius", 0.07, "Source volume radius in meters for generated solutions")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/", &repoHandler{dir: dir, sensors: synthetic, radius: radius, logger: logger})

	srv := &http.Server{
		Addr:              addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("mock repository listening", slog.String("address", addr), slog.String("dir", dir))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

type repoHandler struct {
	dir     string
	sensors int
	radius  float64
	logger  *slog.Logger
}

func (h *repoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" || strings.Contains(name, "/") || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}

	data, err := os.ReadFile(filepath.Join(h.dir, name))
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && h.sensors > 0:
		data, err = h.generate(name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
	default:
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

// generate builds a leadfield for a named grid point: each sensor on a
// sphere sees the field of a unit dipole component at the point. Points
// outside radius have no solution.
func (h *repoHandler) generate(name string) ([]byte, error) {
	m := solutionName.FindStringSubmatch(name)
	if m == nil {
		return nil, errors.New("not a forward solution name")
	}
	key, err := grid.ParseKey(m[2], m[3], m[4])
	if err != nil {
		return nil, err
	}
	src := key.Point()
	if math.Sqrt(src.X*src.X+src.Y*src.Y+src.Z*src.Z) > h.radius {
		return nil, errors.New("outside source volume")
	}

	lf := mat.NewDense(h.sensors, models.FreeOrientations, nil)
	golden := math.Pi * (3 - math.Sqrt(5))
	sensorRadius := h.radius + 0.04
	for i := 0; i < h.sensors; i++ {
		z := 1 - float64(i)/float64(max(h.sensors-1, 1))
		ring := math.Sqrt(1 - z*z)
		theta := golden * float64(i)
		sx, sy, sz := sensorRadius*ring*math.Cos(theta), sensorRadius*ring*math.Sin(theta), sensorRadius*z
		dx, dy, dz := sx-src.X, sy-src.Y, sz-src.Z
		d3 := math.Pow(dx*dx+dy*dy+dz*dz, 1.5)
		lf.Set(i, 0, dx/d3)
		lf.Set(i, 1, dy/d3)
		lf.Set(i, 2, dz/d3)
	}
	sol, err := models.NewForwardSolution(lf)
	if err != nil {
		return nil, err
	}
	return sol.MarshalBinary()
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("elapsed", time.Since(start)))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
