// Package testutil holds shared test doubles: a discarding logger and a
// scriptable text-generation client.
package testutil

import (
	"context"
	"sync"

	"github.com/shadowscan/shadowscan/internal/logging"
)

// NopLogger discards everything so test output stays readable.
type NopLogger struct{}

func (NopLogger) Debug(string, ...logging.Field) {}
func (NopLogger) Info(string, ...logging.Field)  {}
func (NopLogger) Warn(string, ...logging.Field)  {}
func (NopLogger) Error(string, ...logging.Field) {}

func (n NopLogger) With(...logging.Field) logging.Logger { return n }

// FakeClient is a canned narrative client. It records every prompt it
// receives and returns Response or Err.
type FakeClient struct {
	Response string
	Err      error

	mu      sync.Mutex
	prompts []string
}

func (f *FakeClient) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	return f.Response, nil
}

// Prompts returns a copy of all prompts seen so far.
func (f *FakeClient) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}
