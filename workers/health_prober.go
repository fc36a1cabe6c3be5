package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/kaif367/growupquotexapi/internal"
	"github.com/kaif367/growupquotexapi/store"
	"github.com/stephenafamo/janus/monitor"
	"github.com/stephenafamo/kronika"
)

// HealthProber probes the status endpoint of every applied deployment
// through its local upstream and reports state changes
type HealthProber struct {
	Store    *store.Store
	HTTP     *http.Client
	Metrics  *Metrics
	Monitor  monitor.Monitor
	Settings internal.Settings

	mu   sync.Mutex
	down map[string]bool
}

func (h *HealthProber) Play(ctx context.Context) error {
	for range kronika.Every(ctx, time.Now(), h.Settings.HEALTH_INTERVAL) {
		if err := h.ProbeAll(ctx); err != nil {
			err = fmt.Errorf("error probing deployments: %w", err)
			h.Monitor.CaptureException(err, nil)
		}
	}

	return nil
}

func (h *HealthProber) ProbeAll(ctx context.Context) error {
	rows, err := h.Store.Deployments(ctx)
	if err != nil {
		return err
	}

	for _, row := range rows {
		d := row.Content.WithDefaults("")
		d.Name = row.Name

		if row.State != store.StateApplied || d.Topology != internal.TopologyHost {
			continue
		}

		connected, err := h.probe(ctx, d)
		h.report(d.Name, connected, err)
	}

	return nil
}

type statusBody struct {
	Connected *bool `json:"connected"`
}

func (h *HealthProber) probe(ctx context.Context, d internal.Deployment) (*bool, error) {
	url := d.UpstreamURL() + d.Verify.Path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := h.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s answered %s", url, resp.Status)
	}

	var body statusBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &body) != nil {
		return nil, nil
	}
	return body.Connected, nil
}

func (h *HealthProber) report(name string, connected *bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.down == nil {
		h.down = map[string]bool{}
	}

	up := err == nil
	if h.Metrics != nil {
		h.Metrics.Up.WithLabelValues(name).Set(boolGauge(up))
		if connected != nil {
			h.Metrics.Connected.WithLabelValues(name).Set(boolGauge(*connected))
		}
	}

	tags := map[string]string{"deployment": name}

	// Only transitions are reported
	switch wasDown := h.down[name]; {
	case !up && !wasDown:
		h.down[name] = true
		h.Monitor.CaptureException(fmt.Errorf("health probe of %q failed: %w", name, err), tags)
	case up && wasDown:
		h.down[name] = false
		h.Monitor.CaptureMessage(fmt.Sprintf("%s recovered", name), tags)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
