package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestAnthropicComplete(t *testing.T) {
	var got anthropicRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"stop_reason":"max_tokens","content":[{"type":"text","text":"{\"relationships\":"},{"type":"text","text":"[]}"}],"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer ts.Close()

	a := NewAnthropic("k", "m", Options{System: "sys", MaxTokens: 100})
	a.endpoint = ts.URL
	resp, err := a.Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"relationships":[]}` {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.TokensUsed != 15 || !resp.Truncated {
		t.Errorf("tokens=%d truncated=%v", resp.TokensUsed, resp.Truncated)
	}
	if got.System != "sys" || got.Model != "m" || got.MaxTokens != 100 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestOllamaJSONMode(t *testing.T) {
	var got ollamaRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"response":"{}","done_reason":"stop","eval_count":3}`))
	}))
	defer ts.Close()

	o := NewOllama(ts.URL+"/", "llama3.2", Options{JSON: true})
	resp, err := o.Complete(context.Background(), "p")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "{}" || resp.Truncated {
		t.Errorf("resp = %+v", resp)
	}
	if got.Format != "json" || got.Stream {
		t.Errorf("request = %+v", got)
	}
}

func TestAPIErrorPermanence(t *testing.T) {
	cases := map[int]bool{400: true, 401: true, 404: true, 408: false, 429: false, 500: false, 503: false}
	for status, want := range cases {
		e := &APIError{Provider: "x", Status: status}
		if e.Permanent() != want {
			t.Errorf("status %d: Permanent() = %v, want %v", status, e.Permanent(), want)
		}
	}
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := WithRetry(NewOllama(ts.URL, "m", Options{}), RetryPolicy{Attempts: 3, Backoff: time.Millisecond})
	_, err := c.Complete(context.Background(), "p")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 APIError", err)
	}
	if apiErr.Body != "bad key" {
		t.Errorf("body = %q", apiErr.Body)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestRetryRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"response":"ok"}`))
	}))
	defer ts.Close()

	c := WithRetry(NewOllama(ts.URL, "m", Options{}), RetryPolicy{Attempts: 3, Backoff: time.Millisecond})
	resp, err := c.Complete(context.Background(), "p")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "ok" || calls.Load() != 2 {
		t.Errorf("content=%q calls=%d", resp.Content, calls.Load())
	}
}

func TestClaudeCLIPrependsSystem(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	bin := filepath.Join(t.TempDir(), "claude")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\ncat\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	c := NewClaudeCLI("haiku", Options{System: "sys"})
	c.bin = bin
	resp, err := c.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "sys\n\nprompt" {
		t.Errorf("content = %q", resp.Content)
	}

	c.bin = filepath.Join(t.TempDir(), "missing")
	if _, err := c.Complete(context.Background(), "prompt"); err == nil || !strings.Contains(err.Error(), "claude cli") {
		t.Errorf("err = %v", err)
	}
}
