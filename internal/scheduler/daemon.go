// Package scheduler runs the autonomous trigger path: one scan at
// process start, then one per day at the configured hour. The scan
// itself is executed by the API server; the daemon only drives it over
// an internal HTTP call.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/segyhp/reminder-engine/internal/config"
	"github.com/segyhp/reminder-engine/internal/domain"

	"github.com/sirupsen/logrus"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	callTimeout    = 5 * time.Minute
)

// Daemon drives the daily reminder scan. Backoff state is local to
// the instance, never package level, so independent daemons (and
// tests) cannot interfere with each other.
type Daemon struct {
	client  *http.Client
	baseURL string
	token   string
	log     *logrus.Entry

	running atomic.Bool
	delay   time.Duration

	sleep func(time.Duration)
}

func NewDaemon(cfg *config.Config) *Daemon {
	return &Daemon{
		client:  &http.Client{Timeout: callTimeout},
		baseURL: cfg.Scheduler.ScanBaseURL,
		token:   cfg.Scheduler.ScanAuthToken,
		log:     logrus.WithField("component", "scheduler"),
		delay:   initialBackoff,
		sleep:   time.Sleep,
	}
}

// CronSpec returns the six-field cron expression for the daily wake.
func CronSpec(runHour int) string {
	return fmt.Sprintf("0 0 %d * * *", runHour)
}

// RunOnce performs one scan cycle. Overlapping invocations are
// rejected: a run fully completes before the next may start. A failed
// connection is retried once after the current backoff delay; a failed
// scan is not retried at all, the next daily wake is the retry.
func (d *Daemon) RunOnce(ctx context.Context) (*domain.RunSummary, error) {
	if !d.running.CompareAndSwap(false, true) {
		d.log.Warn("scan already in progress, skipping this wake")
		return nil, nil
	}
	defer d.running.Store(false)

	summary, err := d.callScan(ctx)
	if err != nil {
		d.log.WithError(err).WithField("retry_in", d.delay.String()).Warn("scan endpoint unreachable, retrying once")
		d.sleep(d.delay)
		d.grow()

		summary, err = d.callScan(ctx)
		if err != nil {
			d.log.WithError(err).Warn("scan failed, waiting for next scheduled run")
			return nil, err
		}
	}

	d.reset()
	d.log.WithFields(logrus.Fields{
		"loans_checked":  summary.LoansChecked,
		"reminders_sent": summary.RemindersSent,
	}).Info("scan run completed")

	return summary, nil
}

func (d *Daemon) grow() {
	d.delay *= 2
	if d.delay > maxBackoff {
		d.delay = maxBackoff
	}
}

func (d *Daemon) reset() {
	d.delay = initialBackoff
}

// scanEnvelope mirrors the API server's response wrapper.
type scanEnvelope struct {
	Success bool                `json:"success"`
	Data    domain.ScanResponse `json:"data"`
	Error   string              `json:"error"`
}

func (d *Daemon) callScan(ctx context.Context) (*domain.RunSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/api/v1/reminders", nil)
	if err != nil {
		return nil, err
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scan endpoint returned status %d", resp.StatusCode)
	}

	var envelope scanEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode scan response: %w", err)
	}

	return &domain.RunSummary{
		LoansChecked:  envelope.Data.LoansChecked,
		RemindersSent: envelope.Data.RemindersSent,
		RanAt:         envelope.Data.LastCheck,
	}, nil
}
