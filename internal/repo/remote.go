package repo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dipolesim/dipole-engine/internal/grid"
)

// maxPayloadBytes bounds a single downloaded file.
const maxPayloadBytes = 512 << 20

// BEMFilename returns the file name of a subject's boundary-element solution.
func BEMFilename(subject string) string {
	return subject + "-bem-sol"
}

// FetchError reports a failed remote download, naming the URL tried.
type FetchError struct {
	Resource   string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("could not download %s from %s: %v", e.Resource, e.URL, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("could not download %s from %s: status %d", e.Resource, e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("could not download %s from %s", e.Resource, e.URL)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// RemoteClient downloads precomputed files from the remote repository. Every
// file lives directly under the base URL.
type RemoteClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemoteClient constructs a client for baseURL. timeout bounds each
// request; zero leaves requests bounded only by ctx.
func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	return &RemoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SolutionURL returns the URL for a grid key.
func (c *RemoteClient) SolutionURL(subject string, key grid.Key) string {
	return c.resolvePath(key.Filename(subject))
}

// FetchSolution downloads the encoded forward solution for key.
func (c *RemoteClient) FetchSolution(ctx context.Context, subject string, key grid.Key) ([]byte, error) {
	return c.fetch(ctx, "forward solution "+key.Filename(subject), c.SolutionURL(subject, key))
}

// FetchBEM downloads the subject's boundary-element solution.
func (c *RemoteClient) FetchBEM(ctx context.Context, subject string) ([]byte, error) {
	name := BEMFilename(subject)
	return c.fetch(ctx, "BEM solution "+name, c.resolvePath(name))
}

func (c *RemoteClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *RemoteClient) fetch(ctx context.Context, resource, endpoint string) ([]byte, error) {
	if c == nil {
		return nil, &FetchError{Resource: resource, Err: fmt.Errorf("remote client not initialised")}
	}
	if endpoint == "" {
		return nil, &FetchError{Resource: resource, Err: fmt.Errorf("remote base URL not configured")}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Resource: resource, URL: endpoint, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Resource: resource, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{Resource: resource, URL: endpoint, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes+1))
	if err != nil {
		return nil, &FetchError{Resource: resource, URL: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(body) > maxPayloadBytes {
		return nil, &FetchError{Resource: resource, URL: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("payload exceeds %d bytes", maxPayloadBytes)}
	}
	return body, nil
}
