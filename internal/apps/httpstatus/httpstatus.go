// Package httpstatus polls an HTTP endpoint and shows whether it is up,
// with a bar per recent check scaled by latency.
package httpstatus

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
	"github.com/andrewsiemer/matrix-os/internal/infrastructure/resilience"
	"github.com/andrewsiemer/matrix-os/internal/shared/frame"
)

// Kind is the registry kind of this app
const Kind = "http-status"

// Options configures the check
type Options struct {
	URL          string `json:"url"`
	Interval     string `json:"interval"`
	Timeout      string `json:"timeout"`
	ExpectStatus int    `json:"expect_status"`
	Retries      int    `json:"retries"`
}

func (o *Options) SetDefaults() {
	o.Interval = "30s"
	o.Timeout = "5s"
	o.ExpectStatus = 200
	o.Retries = 2
}

func (o *Options) Validate() error {
	u, err := url.Parse(o.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL, got %q", o.URL)
	}
	for name, v := range map[string]string{"interval": o.Interval, "timeout": o.Timeout} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("invalid %s %q", name, v)
		}
	}
	if o.ExpectStatus < 100 || o.ExpectStatus > 599 {
		return fmt.Errorf("invalid expect_status %d", o.ExpectStatus)
	}
	if o.Retries < 0 {
		return errors.New("retries must not be negative")
	}
	return nil
}

var manifest = app.Manifest{
	Name:         "HTTP Status",
	Version:      "1.0.0",
	Description:  "Endpoint uptime and latency",
	Framerate:    2,
	Capabilities: app.NewCapabilities(app.CapNetwork),
}

// Definition registers the app
func Definition() app.Definition {
	return app.Define(Kind, manifest, New)
}

// history is how many checks are drawn
const history = 16

// Check is the outcome of one request to the endpoint
type Check struct {
	Up      bool
	Status  int
	Latency time.Duration
	Err     error
}

// Colors of the status display
var (
	colorUp      = frame.Color{G: 200}
	colorDown    = frame.Color{R: 220}
	colorOpen    = frame.Color{R: 230, G: 160}
	colorPending = frame.Color{R: 60, G: 60, B: 60}
	colorGuide   = frame.Color{R: 40, G: 40, B: 90}
)

// App is the status display. Checks run on a background goroutine so a
// slow endpoint never stalls frames.
type App struct {
	fb       *frame.Frame
	opts     Options
	interval time.Duration
	logger   *zap.Logger

	client  *resty.Client
	breaker *resilience.Breaker
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	checks []Check // Protected by mu
}

// New creates the app. The check loop starts in OnStart.
func New(env app.Env, opts Options) (app.App, error) {
	interval, _ := time.ParseDuration(opts.Interval)
	timeout, _ := time.ParseDuration(opts.Timeout)
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := retryablehttp.NewClient()
	transport.Logger = nil

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(250*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("User-Agent", "matrix-os-status/1.0").
		SetTransport(transport.HTTPClient.Transport)

	a := &App{
		fb:       env.Frame,
		opts:     opts,
		interval: interval,
		logger:   logger,
		client:   client,
	}
	a.breaker = resilience.New("http-status", resilience.Settings{
		Threshold: 3,
		Cooldown:  4 * interval,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Info("Status breaker state changed",
				zap.String("url", opts.URL),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return a, nil
}

func (a *App) OnStart() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			a.record(a.check(ctx))
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func (a *App) OnStop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.client.GetClient().CloseIdleConnections()
	a.wg.Wait()
}

// check requests the endpoint once through the breaker
func (a *App) check(ctx context.Context) Check {
	start := time.Now()
	status, err := resilience.Execute(a.breaker, func() (int, error) {
		resp, err := a.client.R().SetContext(ctx).Get(a.opts.URL)
		if err != nil {
			return 0, err
		}
		if resp.StatusCode() != a.opts.ExpectStatus {
			return resp.StatusCode(), fmt.Errorf("unexpected status %d", resp.StatusCode())
		}
		return resp.StatusCode(), nil
	})

	p := Check{Up: err == nil, Status: status, Latency: time.Since(start), Err: err}
	if err != nil && ctx.Err() == nil {
		a.logger.Warn("Status check failed", zap.String("url", a.opts.URL), zap.Int("status", status), zap.Error(err))
	}
	return p
}

func (a *App) record(p Check) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.checks = append(a.checks, p)
	if len(a.checks) > history {
		a.checks = a.checks[len(a.checks)-history:]
	}
}

// Checks returns the recent checks, oldest first
func (a *App) Checks() []Check {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Check(nil), a.checks...)
}

// Summary describes the recent checks
type Summary struct {
	Uptime float64 // fraction of checks that were up
	Mean   time.Duration
	P95    time.Duration
}

// Summary aggregates the recent checks. The zero Summary means no checks.
func (a *App) Summary() Summary {
	return summarize(a.Checks())
}

func summarize(checks []Check) Summary {
	if len(checks) == 0 {
		return Summary{}
	}
	latencies := make([]float64, len(checks))
	up := 0
	for i, p := range checks {
		latencies[i] = float64(p.Latency)
		if p.Up {
			up++
		}
	}
	sort.Float64s(latencies)
	return Summary{
		Uptime: float64(up) / float64(len(checks)),
		Mean:   time.Duration(stat.Mean(latencies, nil)),
		P95:    time.Duration(stat.Quantile(0.95, stat.Empirical, latencies, nil)),
	}
}

func (a *App) Update() error { return nil }

func (a *App) Render() (*frame.Frame, error) {
	checks := a.Checks()
	w, h := a.fb.Width(), a.fb.Height()
	a.fb.Clear(frame.Black)

	status := colorPending
	if n := len(checks); n > 0 {
		last := checks[n-1]
		switch {
		case last.Up:
			status = colorUp
		case errors.Is(last.Err, resilience.ErrCircuitOpen):
			status = colorOpen
		default:
			status = colorDown
		}
	}
	// status banner across the top quarter
	a.fb.FillRect(0, 0, w, max(h/4, 1), status)

	timeout, _ := time.ParseDuration(a.opts.Timeout)
	chartTop := max(h/4, 1) + 1
	chartHeight := h - chartTop
	barHeight := func(d time.Duration) int {
		if timeout <= 0 || chartHeight <= 0 {
			return 1
		}
		return min(max(int(int64(chartHeight)*int64(d)/int64(timeout)), 1), chartHeight)
	}

	// p95 guide behind the bars
	if len(checks) > 0 && chartHeight > 0 {
		y := h - barHeight(summarize(checks).P95)
		a.fb.DrawLine(0, y, w-1, y, colorGuide)
	}

	barWidth := max(w/history, 1)
	for i, p := range checks {
		height := barHeight(p.Latency)
		c := colorDown
		if p.Up {
			c = colorUp
		}
		a.fb.FillRect(i*barWidth, h-height, max(barWidth-1, 1), height, c)
	}
	return a.fb, nil
}
