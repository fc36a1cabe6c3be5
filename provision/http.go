package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v4"
)

// get returns the status code and at most 64KiB of the body of url
func (e *Environment) get(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}

	resp, err := e.httpClient().Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, body, err
}

// Upstream waits for the supervised process to accept connections
type Upstream struct{ base }

func (s *Upstream) Name() string { return "upstream" }

func (s *Upstream) url() string {
	return s.d.UpstreamURL() + "/"
}

func (s *Upstream) Check(ctx context.Context) (Drift, error) {
	// Any HTTP answer means the process is up
	code, _, err := s.env.get(ctx, s.url())
	if err != nil {
		return drifted("%s not answering", s.url()), nil
	}
	return inSync(fmt.Sprintf("%s answered %d", s.url(), code)), nil
}

func (s *Upstream) Apply(ctx context.Context) (string, error) {
	err := backoff.Retry(func() error {
		_, _, err := s.env.get(ctx, s.url())
		return err
	}, s.env.backOff(ctx))
	if err != nil {
		return "", fmt.Errorf("upstream %s never answered: %w", s.url(), err)
	}
	return "", nil
}

// Verify requests the public status endpoint through the proxy
type Verify struct {
	base
	reason string
}

func (s *Verify) Name() string { return "verify" }

func (s *Verify) url() string {
	return s.d.PublicURL() + s.d.Verify.Path
}

// probe succeeds on any 2xx and describes the answer
func (s *Verify) probe(ctx context.Context) error {
	code, body, err := s.env.get(ctx, s.url())
	if err != nil {
		return err
	}
	if code < 200 || code > 299 {
		return fmt.Errorf("%s answered %d", s.url(), code)
	}

	s.reason = fmt.Sprintf("%s answered %d", s.url(), code)

	var status struct {
		Connected *bool `json:"connected"`
	}
	if json.Unmarshal(body, &status) == nil && status.Connected != nil {
		s.reason += fmt.Sprintf(", connected=%t", *status.Connected)
	}
	return nil
}

func (s *Verify) Check(ctx context.Context) (Drift, error) {
	if s.d.Verify.Public != nil && !*s.d.Verify.Public {
		return skipped("public verification disabled"), nil
	}

	if err := s.probe(ctx); err != nil {
		return drifted("not reachable yet: %v", err), nil
	}
	return inSync(s.reason), nil
}

func (s *Verify) Apply(ctx context.Context) (string, error) {
	err := backoff.Retry(func() error {
		return s.probe(ctx)
	}, s.env.backOff(ctx))
	if err != nil {
		return "", fmt.Errorf("verification of %s failed: %w", s.url(), err)
	}
	return "", nil
}

// Reason describes the last successful probe
func (s *Verify) Reason() string {
	return s.reason
}
