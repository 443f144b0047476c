package sheet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kafer/internal/adapters/codec"
	"kafer/internal/domain/record"
	"kafer/internal/domain/systemconfig"
)

var (
	ErrTransport     = errors.New("record store transport failed")
	ErrLockdown      = errors.New("emergency lockdown is active")
	ErrNotConfirmed  = errors.New("write not observed before timeout")
	ErrNotConfigured = errors.New("record store endpoint not configured")
)

// RawRow is one row from the read proxy: column name to cell value.
type RawRow map[string]any

// Codec encodes and decodes payload cells.
type Codec interface {
	codec.Encoder
	codec.Decoder
}

// Config locates the two endpoints of the spreadsheet.
type Config struct {
	ReadEndpoint  string
	WriteEndpoint string
	PayloadField  string
	FormEntry     string
	BlankEntries  []string
	SettleDelay   time.Duration
	Timeout       time.Duration
	Defaults      systemconfig.Config
}

// Client is the record store adapter. It is safe for concurrent use.
type Client struct {
	cfg      Config
	codec    Codec
	http     *http.Client
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	pollBase time.Duration
	pollMax  time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithClock replaces time.Now for timestamp stamping.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithSleeper replaces the context-aware sleep used for settle and poll delays.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithPollBackoff sets the first and maximum delay between polls.
func WithPollBackoff(base, max time.Duration) Option {
	return func(c *Client) { c.pollBase, c.pollMax = base, max }
}

// New builds a Client.
// PRE: cfg.PayloadField is non-empty; cd is non-nil
func New(cfg Config, cd Codec, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		cfg:      cfg,
		codec:    cd,
		http:     &http.Client{Timeout: timeout},
		now:      time.Now,
		sleep:    sleepContext,
		pollBase: 500 * time.Millisecond,
		pollMax:  4 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchRaw retrieves every row without decoding payloads.
// POST: On any failure returns an empty slice and an error wrapping ErrTransport
// INVARIANT: Rows that are not JSON objects are skipped
func (c *Client) FetchRaw(ctx context.Context) ([]RawRow, error) {
	if c.cfg.ReadEndpoint == "" {
		return []RawRow{}, fmt.Errorf("%w: %w: read endpoint", ErrTransport, ErrNotConfigured)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ReadEndpoint, nil)
	if err != nil {
		return []RawRow{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("sheet_fetch_failed", "error", err)
		return []RawRow{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Error("sheet_fetch_failed", "status", resp.StatusCode)
		return []RawRow{}, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	var items []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		slog.Error("sheet_fetch_failed", "error", err, "reason", "malformed_body")
		return []RawRow{}, fmt.Errorf("%w: malformed body: %v", ErrTransport, err)
	}

	rows := make([]RawRow, 0, len(items))
	for i, item := range items {
		var row RawRow
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.UseNumber()
		if err := dec.Decode(&row); err != nil || row == nil {
			slog.Warn("sheet_row_skipped", "row", i, "reason", "not_an_object")
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchDecoded retrieves and decodes every row into records in arrival order.
// Rows whose payload cannot be decoded are dropped with a warning.
// PRE: none
// POST: Returns ErrLockdown and no records when lockdown is active and asAdmin is false
// INVARIANT: Seq of each record is its row position in the fetched stream
func (c *Client) FetchDecoded(ctx context.Context, asAdmin bool) ([]record.Record, error) {
	rows, err := c.FetchRaw(ctx)
	if err != nil {
		return []record.Record{}, err
	}
	records := c.DecodeRows(rows)

	if systemconfig.Resolve(records, c.cfg.Defaults).LockdownBlocks(false, asAdmin) {
		slog.Info("sheet_fetch_blocked", "reason", "emergency_lockdown")
		return []record.Record{}, ErrLockdown
	}
	return records, nil
}

// DecodeRows decodes already-fetched rows.
// Plain columns are merged under the decoded payload fields; decoded fields win.
func (c *Client) DecodeRows(rows []RawRow) []record.Record {
	records := make([]record.Record, 0, len(rows))
	for i, row := range rows {
		cell, ok := row[c.cfg.PayloadField].(string)
		if !ok || strings.TrimSpace(cell) == "" {
			continue
		}
		plain, err := c.codec.Decode(cell)
		if err != nil {
			slog.Warn("record_decode_failed", "row", i, "error", err)
			continue
		}

		merged := make(map[string]any, len(row))
		for k, v := range row {
			if k != c.cfg.PayloadField {
				merged[k] = v
			}
		}
		dec := json.NewDecoder(strings.NewReader(plain))
		dec.UseNumber()
		var fields map[string]any
		if err := dec.Decode(&fields); err != nil || fields == nil {
			slog.Warn("record_decode_failed", "row", i, "error", "payload is not a JSON object")
			continue
		}
		for k, v := range fields {
			merged[k] = v
		}

		b, err := json.Marshal(merged)
		if err != nil {
			slog.Warn("record_decode_failed", "row", i, "error", err)
			continue
		}
		rec, err := record.DecodeJSON(b, i)
		if err != nil {
			slog.Warn("record_decode_failed", "row", i, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records
}

// SystemConfig resolves the current configuration, ignoring lockdown.
func (c *Client) SystemConfig(ctx context.Context) (systemconfig.Config, error) {
	records, err := c.FetchDecoded(ctx, true)
	if err != nil {
		return c.cfg.Defaults, err
	}
	return systemconfig.Resolve(records, c.cfg.Defaults), nil
}

// LockdownActive reports whether the emergency lockdown is on.
func (c *Client) LockdownActive(ctx context.Context) (bool, error) {
	cfg, err := c.SystemConfig(ctx)
	if err != nil {
		return false, err
	}
	return cfg.EmergencyLockdown, nil
}

// Append stamps rec with the current time, encodes it and submits it to the
// form endpoint, then waits the settle delay.
// PRE: rec passes Validate once stamped
// POST: Returns the stamped record; nil error means the submission was sent
// INVARIANT: A sent submission is never reported as failed, even if the settle wait is cut short
func (c *Client) Append(ctx context.Context, rec record.Record) (record.Record, error) {
	if c.cfg.WriteEndpoint == "" || c.cfg.FormEntry == "" {
		return rec, fmt.Errorf("%w: %w: write endpoint", ErrTransport, ErrNotConfigured)
	}
	rec.Timestamp = c.now().UTC().Truncate(time.Millisecond)
	if err := rec.Validate(); err != nil {
		return rec, err
	}

	plain, err := json.Marshal(rec)
	if err != nil {
		return rec, err
	}
	opaque, err := c.codec.Encode(string(plain))
	if err != nil {
		return rec, fmt.Errorf("encode record: %w", err)
	}

	form := url.Values{}
	form.Set("entry."+c.cfg.FormEntry, opaque)
	for _, blank := range c.cfg.BlankEntries {
		form.Set("entry."+blank, "")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WriteEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return rec, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("sheet_append_failed", "type", rec.Kind, "actor", rec.ActorID, "error", err)
		return rec, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	slog.Info("record_appended", "type", rec.Kind, "actor", rec.ActorID, "status", resp.StatusCode)

	_ = c.sleep(ctx, c.cfg.SettleDelay)
	return rec, nil
}

// PollUntil re-reads the ledger with exponential backoff until predicate
// holds or timeout elapses.
// POST: Returns ErrNotConfirmed on timeout; ctx cancellation returns ctx.Err()
func (c *Client) PollUntil(ctx context.Context, asAdmin bool, predicate func([]record.Record) bool, timeout time.Duration) ([]record.Record, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	delay := c.pollBase
	for attempt := 1; ; attempt++ {
		records, err := c.FetchDecoded(pollCtx, asAdmin)
		if errors.Is(err, ErrLockdown) {
			return nil, err
		}
		if err == nil && predicate(records) {
			return records, nil
		}

		if err := c.sleep(pollCtx, delay); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("sheet_poll_timeout", "attempts", attempt, "timeout", timeout)
			return nil, ErrNotConfirmed
		}
		delay *= 2
		if delay > c.pollMax {
			delay = c.pollMax
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
