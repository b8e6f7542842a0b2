package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/dipolesim/dipole-engine/internal/models"
)

// CommandSolver runs an external solver program once per request. The
// program receives a JSON request on stdin and writes a JSON response:
//
//	{"status": "ok", "rows": N, "cols": 3, "data": [...row-major...]}
//	{"status": "no_source_points"}
//	{"status": "error", "message": "..."}
type CommandSolver struct {
	command string
	args    []string
	timeout time.Duration
}

// NewCommandSolver builds a solver invoking command with args. A zero timeout
// lets the solve run until ctx ends.
func NewCommandSolver(command string, args []string, timeout time.Duration) (*CommandSolver, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("solver command is required")
	}
	return &CommandSolver{command: command, args: append([]string(nil), args...), timeout: timeout}, nil
}

type commandRequest struct {
	Subject  string     `json:"subject"`
	Position [3]float64 `json:"position"`
	Frame    string     `json:"frame"`
	Units    string     `json:"units"`
	BEM      string     `json:"bem"`
}

type commandResponse struct {
	Status  string    `json:"status"`
	Message string    `json:"message"`
	Rows    int       `json:"rows"`
	Cols    int       `json:"cols"`
	Data    []float64 `json:"data"`
}

// Solve runs the external program and decodes its leadfield.
func (s *CommandSolver) Solve(ctx context.Context, req Request) (*models.ForwardSolution, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(commandRequest{
		Subject:  req.Subject,
		Position: [3]float64{req.Position.X, req.Position.Y, req.Position.Z},
		Frame:    "head",
		Units:    "m",
		BEM:      req.BEMPath,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal solver request: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.command, s.args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &ExactSolveError{Position: req.Position, Detail: tail(stderr.String()), Err: err}
	}
	return decodeResponse(req, stdout.Bytes(), stderr.String())
}

func decodeResponse(req Request, out []byte, stderr string) (*models.ForwardSolution, error) {
	var resp commandResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, &ExactSolveError{Position: req.Position, Detail: tail(stderr), Err: fmt.Errorf("decode solver output: %w", err)}
	}

	switch resp.Status {
	case "ok":
	case "no_source_points":
		return nil, &ExactSolveError{Position: req.Position, Detail: resp.Message, Err: ErrNoSourcePoints}
	default:
		msg := resp.Message
		if msg == "" {
			msg = tail(stderr)
		}
		return nil, &ExactSolveError{Position: req.Position, Detail: msg, Err: fmt.Errorf("solver status %q", resp.Status)}
	}

	if resp.Rows <= 0 || resp.Cols != models.FreeOrientations || len(resp.Data) != resp.Rows*resp.Cols {
		return nil, &ExactSolveError{
			Position: req.Position,
			Err:      fmt.Errorf("malformed leadfield: rows=%d cols=%d values=%d", resp.Rows, resp.Cols, len(resp.Data)),
		}
	}
	sol, err := models.NewForwardSolution(mat.NewDense(resp.Rows, resp.Cols, resp.Data))
	if err != nil {
		return nil, &ExactSolveError{Position: req.Position, Err: err}
	}
	return sol, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	const max = 512
	if len(s) > max {
		return "..." + s[len(s)-max:]
	}
	return s
}
