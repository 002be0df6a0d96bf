// Package ticklog pushes finished shutter runs to external loggers. Pushes
// are fire and forget: a failed push drops the record.
package ticklog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/joergs-git/astroshell/runlog"
)

// DefaultTimeout keeps a push well inside the watchdog period.
const DefaultTimeout = 2 * time.Second

type Sink interface {
	Push(ctx context.Context, rec runlog.Record) error
}

// HTTPSink sends GET /log for valid runs and GET /interrupt for interrupted
// ones, with m (motor 1 or 2), d (1 closing, 2 opening) and t (ticks).
type HTTPSink struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPSink(baseURL string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSink{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

// Query returns the query parameters of rec.
func Query(rec runlog.Record) url.Values {
	d := "2"
	if rec.Closing {
		d = "1"
	}
	q := url.Values{}
	q.Set("m", strconv.Itoa(int(rec.Motor)+1))
	q.Set("d", d)
	q.Set("t", strconv.Itoa(rec.Ticks))
	return q
}

func (s *HTTPSink) Push(ctx context.Context, rec runlog.Record) error {
	path := "/log"
	if rec.Outcome == runlog.Interrupted {
		path = "/interrupt"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+path+"?"+Query(rec).Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// The reply is not interpreted.
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pushing %v: %s", rec, resp.Status)
	}
	return nil
}

// InfluxSink writes runs as points of the dome.run measurement through a
// non-blocking write API.
type InfluxSink struct {
	writeAPI api.WriteAPI
}

func NewInfluxSink(writeAPI api.WriteAPI) *InfluxSink {
	return &InfluxSink{writeAPI: writeAPI}
}

func (s *InfluxSink) Push(_ context.Context, rec runlog.Record) error {
	dir := "opening"
	if rec.Closing {
		dir = "closing"
	}
	p := influxdb2.NewPoint("dome.run",
		map[string]string{
			"motor":     rec.Motor.String(),
			"direction": dir,
			"outcome":   rec.Outcome.String(),
		},
		map[string]interface{}{
			"ticks": rec.Ticks,
		},
		rec.Time,
	)
	s.writeAPI.WritePoint(p)
	return nil
}

// Multi pushes to every sink and returns the first error.
type Multi []Sink

func (m Multi) Push(ctx context.Context, rec runlog.Record) error {
	var first error
	for _, s := range m {
		if err := s.Push(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}
