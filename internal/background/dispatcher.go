// Package background handles tagged sync and periodic sync triggers.
// Every failure is logged and reported, never returned to the caller.
package background

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/astra-edge/astra-edge/internal/engine"
	"github.com/astra-edge/astra-edge/internal/lifecycle"
	"github.com/astra-edge/astra-edge/internal/logging"
	"github.com/astra-edge/astra-edge/internal/statedb"
)

const (
	TriggerSync         = "sync"
	TriggerPeriodicSync = "periodicsync"

	TagContactForm = "contact-form"
	TagCacheUpdate = "cache-update"

	contactPath = "/api/contact"
)

// Outbox is the subset of statedb.Store used for form replay.
type Outbox interface {
	ListForms(ctx context.Context) ([]statedb.Form, error)
	RemoveForm(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// Refresher re-runs the static batch.
type Refresher interface {
	Refresh(ctx context.Context) (lifecycle.InstallReport, error)
}

// Observer receives trigger outcomes.
type Observer interface {
	ObserveTrigger(trigger, tag, outcome string)
}

// Report describes what a trigger did.
type Report struct {
	Trigger   string `json:"trigger"`
	Tag       string `json:"tag"`
	Handled   bool   `json:"handled"`
	Delivered int    `json:"delivered,omitempty"`
	Failed    int    `json:"failed,omitempty"`
	Refreshed int    `json:"refreshed,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (r Report) outcome() string {
	switch {
	case !r.Handled:
		return "ignored"
	case r.Error != "" || r.Failed > 0:
		return "failed"
	default:
		return "ok"
	}
}

// Options wires a Dispatcher.
type Options struct {
	Origin    string
	Outbox    Outbox
	Refresher Refresher
	Fetcher   engine.Fetcher
	Logger    *logrus.Logger
	Observer  Observer
}

// Dispatcher routes triggers by tag.
type Dispatcher struct {
	contactURL *url.URL
	outbox     Outbox
	refresher  Refresher
	fetcher    engine.Fetcher
	logger     *logrus.Logger
	observer   Observer
}

// NewDispatcher validates options.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Outbox == nil {
		return nil, errors.New("outbox is required")
	}
	if opts.Refresher == nil {
		return nil, errors.New("refresher is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	origin, err := url.Parse(opts.Origin)
	if err != nil || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", opts.Origin)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		contactURL: origin.ResolveReference(&url.URL{Path: contactPath}),
		outbox:     opts.Outbox,
		refresher:  opts.Refresher,
		fetcher:    opts.Fetcher,
		logger:     logger,
		observer:   opts.Observer,
	}, nil
}

// Sync handles a deferred-retry trigger.
func (d *Dispatcher) Sync(ctx context.Context, tag string) Report {
	report := Report{Trigger: TriggerSync, Tag: tag}
	switch tag {
	case TagContactForm:
		report.Handled = true
		d.replayForms(ctx, &report)
	}
	d.finish(report)
	return report
}

// PeriodicSync handles a periodic refresh trigger.
func (d *Dispatcher) PeriodicSync(ctx context.Context, tag string) Report {
	report := Report{Trigger: TriggerPeriodicSync, Tag: tag}
	switch tag {
	case TagCacheUpdate:
		report.Handled = true
		refreshed, err := d.refresher.Refresh(ctx)
		if err != nil {
			report.Error = err.Error()
		} else {
			report.Refreshed = refreshed.Assets
		}
	}
	d.finish(report)
	return report
}

// RunPeriodic fires cache-update every interval until ctx is done.
func (d *Dispatcher) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.PeriodicSync(ctx, TagCacheUpdate)
		}
	}
}

func (d *Dispatcher) replayForms(ctx context.Context, report *Report) {
	forms, err := d.outbox.ListForms(ctx)
	if err != nil {
		report.Error = err.Error()
		return
	}
	for _, form := range forms {
		if err := d.submit(ctx, form); err != nil {
			report.Failed++
			d.logger.WithFields(logging.TriggerFields(report.Trigger, report.Tag)).
				WithField("form_id", form.ID).
				WithError(err).
				Warn("failed to sync form")
			if markErr := d.outbox.MarkFailed(ctx, form.ID, err.Error()); markErr != nil {
				d.logger.WithError(markErr).WithField("form_id", form.ID).Error("record form failure")
			}
			continue
		}
		if err := d.outbox.RemoveForm(ctx, form.ID); err != nil {
			report.Failed++
			d.logger.WithError(err).WithField("form_id", form.ID).Error("remove synced form")
			continue
		}
		report.Delivered++
	}
}

func (d *Dispatcher) submit(ctx context.Context, form statedb.Form) error {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	snapshot, err := d.fetcher.Fetch(ctx, &engine.Request{
		Method: http.MethodPost,
		URL:    d.contactURL,
		Header: header,
		Body:   form.Payload,
	})
	if err != nil {
		return err
	}
	if !snapshot.OK() {
		return fmt.Errorf("origin returned %d", snapshot.Status)
	}
	return nil
}

func (d *Dispatcher) finish(report Report) {
	fields := logging.TriggerFields(report.Trigger, report.Tag)
	fields["outcome"] = report.outcome()
	entry := d.logger.WithFields(fields)
	switch report.outcome() {
	case "ignored":
		entry.Debug("unknown background tag")
	case "failed":
		entry.WithField("error", report.Error).Warn("background task failed")
	default:
		entry.Info("background task complete")
	}
	if d.observer != nil {
		d.observer.ObserveTrigger(report.Trigger, report.Tag, report.outcome())
	}
}
