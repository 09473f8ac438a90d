// Package sessionlog records finished voice sessions to one or more sinks.
package sessionlog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"
)

// Record summarizes one voice session.
type Record struct {
	SessionID       string  `json:"session_id,omitempty"`
	ProblemID       string  `json:"problem_id"`
	DurationSeconds int     `json:"duration_seconds"`
	InputTokens     int     `json:"input_tokens"`
	OutputTokens    int     `json:"output_tokens"`
	AudioSeconds    int     `json:"audio_seconds"`
	EstimatedCost   float64 `json:"estimated_cost"`
	ServerTimestamp string  `json:"server_timestamp,omitempty"`
}

// Stamp fills the server timestamp and rounds the cost the way it is displayed.
func (r Record) Stamp(now time.Time) Record {
	r.ServerTimestamp = now.UTC().Format(time.RFC3339Nano)
	r.EstimatedCost = math.Round(r.EstimatedCost*1000) / 1000
	return r
}

type Sink interface {
	Log(ctx context.Context, r Record) error
}

// Multi writes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Log(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Log(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async logs r in the background; failures are only logged.
func Async(s Sink, r Record, timeout time.Duration) {
	if s == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.Log(ctx, r); err != nil {
			log.Printf("[%s] session log error: %v", r.SessionID, err)
		}
	}()
}

// SessionPoster is the execution service's session logging endpoint.
type SessionPoster interface {
	LogSession(ctx context.Context, record any) error
}

// Remote forwards records to the execution service.
type Remote struct{ Poster SessionPoster }

func (r Remote) Log(ctx context.Context, rec Record) error {
	if err := r.Poster.LogSession(ctx, rec); err != nil {
		return fmt.Errorf("remote session log: %w", err)
	}
	return nil
}
