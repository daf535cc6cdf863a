package migration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotAccepted is returned when the migration worker does not acknowledge
// the job with 202 Accepted. Anything else means the job was not queued.
var ErrNotAccepted = errors.New("migration job not accepted")

// Job describes one dump-and-restore run from a source database to a
// destination database. The worker reports its terminal result by POSTing
// to CallbackURL.
type Job struct {
	SrcURL      string `json:"srcUrl"`
	DestURL     string `json:"destUrl"`
	CallbackURL string `json:"callbackUrl"`
}

// Dispatcher hands migration jobs to the external migration worker. The
// dispatch is fire-and-forget: the worker runs the copy out of band and
// the short client timeout only covers acceptance.
type Dispatcher struct {
	invokeURL string
	httpc     *http.Client
}

// NewDispatcher creates a Dispatcher targeting the worker's async
// invocation endpoint.
func NewDispatcher(invokeURL string) *Dispatcher {
	return &Dispatcher{
		invokeURL: invokeURL,
		httpc:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Dispatch queues a migration job. It returns ErrNotAccepted (wrapped with
// the worker's response) unless the worker answers 202.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) error {
	buf, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding migration job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.invokeURL, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("building migration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Amz-Invocation-Type", "Event")

	resp, err := d.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("invoking migration worker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrNotAccepted, resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
