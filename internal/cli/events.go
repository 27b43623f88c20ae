package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/logstream"
)

// Event — событие SSE потока логов.
type Event struct {
	// ID — cursor: число строк лога, отданных к этому событию.
	ID int `json:"-"`

	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}

// Final возвращает true для события с финальным статусом.
func (e Event) Final() bool {
	return e.Status != ""
}

// errStreamEnded — сервер закрыл поток без финального события.
var errStreamEnded = errors.New("event stream ended before final status")

// StreamEvents читает SSE поток логов run начиная с cursor.
//
// fn вызывается на каждое событие. Возвращает nil после финального события.
// Обрыв соединения возвращается как *TransportError.
func (c *Client) StreamEvents(ctx context.Context, id string, cursor int, fn func(Event) error) error {
	var apiErr errorResponse

	req := c.stream.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetHeader("Accept", "text/event-stream").
		SetDoNotParseResponse(true)
	if cursor > 0 {
		req.SetHeader("Last-Event-ID", strconv.Itoa(cursor))
	}

	resp, err := req.Get("/api/v1/deployments/{id}/events")
	if err != nil {
		return &TransportError{Op: "open event stream", Err: err}
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() {
		_ = json.NewDecoder(body).Decode(&apiErr)
		return toAPIError(resp.StatusCode(), &apiErr)
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var ev Event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "id:"):
			ev.ID, _ = strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "id:")))
		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				return fmt.Errorf("decode event %q: %w", payload, err)
			}
			if err := fn(ev); err != nil {
				return err
			}
			if ev.Final() {
				return nil
			}
			ev = Event{}
		}
	}

	if err := scanner.Err(); err != nil {
		return &TransportError{Op: "read event stream", Err: err}
	}
	return &TransportError{Op: "read event stream", Err: errStreamEnded}
}

// FollowOptions — параметры Follow.
type FollowOptions struct {
	// Poll — сразу опрашивать /logs, без SSE.
	Poll bool

	// PollInterval — начальный интервал опроса (default: 1s).
	PollInterval time.Duration

	// MaxPollInterval — потолок интервала при ошибках (default: 15s).
	MaxPollInterval time.Duration

	Logger *slog.Logger
}

// Follow печатает лог run в w, пока run не завершится, и возвращает
// финальный статус.
//
// Сначала читается SSE поток. При сетевой ошибке Follow переходит на
// опрос /logs с экспоненциальной задержкой. Оба источника сливаются в один
// logstream.Stream, поэтому каждая строка печатается ровно один раз.
func (c *Client) Follow(ctx context.Context, id string, w io.Writer, opts FollowOptions) (string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stream := logstream.NewStream(logstream.StreamConfig{ID: id, Logger: logger})
	printed := 0
	flush := func() {
		lines, next, _, _ := stream.Since(printed)
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
		printed = next
	}

	if !opts.Poll {
		err := c.StreamEvents(ctx, id, 0, func(ev Event) error {
			if ev.Final() {
				stream.SetStatus(domain.ParseRunStatus(ev.Status))
				return nil
			}
			// Строки SSE идут по порядку, поток ещё открыт.
			_ = stream.Append(ev.Message)
			flush()
			return nil
		})
		switch {
		case err == nil:
			flush()
			return string(stream.Status()), nil
		case !IsTransportError(err):
			return "", err
		}
		logger.Warn("event stream interrupted, falling back to polling", "run_id", id, "error", err)
	}

	return c.poll(ctx, id, stream, flush, opts, logger)
}

// poll опрашивает /logs, пока поток не закроется.
func (c *Client) poll(ctx context.Context, id string, stream *logstream.Stream, flush func(), opts FollowOptions, logger *slog.Logger) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.PollInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxInterval = opts.MaxPollInterval
	if b.MaxInterval <= 0 {
		b.MaxInterval = 15 * time.Second
	}
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		logs, err := c.GetLogs(ctx, id)
		switch {
		case err == nil:
			if stream.ApplySnapshot(logs.Logs, domain.ParseRunStatus(logs.Status)) > 0 {
				b.Reset()
			}
			flush()
			if stream.Closed() || logs.Completed {
				return logs.Status, nil
			}
		case IsTransportError(err):
			logger.Warn("failed to poll deployment logs", "run_id", id, "error", err)
		default:
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(b.NextBackOff()):
		}
	}
}
