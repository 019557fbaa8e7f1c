package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crashrelay/internal/worker"
)

func TestPostSendsJSONWithHeaders(t *testing.T) {
	var gotMethod, gotCT, gotKey string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotCT = r.Header.Get("Content-Type")
		gotKey = r.Header.Get(HeaderSubscriptionKey)
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	resp, err := NewClient("secret", time.Second).Post(context.Background(), srv.URL, map[string]string{"app_id": "demo"})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != `{"data":{}}` {
		t.Fatalf("unexpected response %+v", resp)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("expected POST, got %s", gotMethod)
	}
	if gotCT != "application/json; charset=utf-8" {
		t.Fatalf("unexpected content type %q", gotCT)
	}
	if gotKey != "secret" {
		t.Fatalf("unexpected subscription key %q", gotKey)
	}
	if gotBody["app_id"] != "demo" {
		t.Fatalf("unexpected body %v", gotBody)
	}
}

func TestPostSendsEmptySubscriptionKeyWhenUnset(t *testing.T) {
	present := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present = r.Header[http.CanonicalHeaderKey(HeaderSubscriptionKey)]
	}))
	defer srv.Close()

	if _, err := NewClient("", time.Second).Post(context.Background(), srv.URL, struct{}{}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if !present {
		t.Fatal("expected the subscription key header to be sent even when empty")
	}
}

func TestPostNetworkErrorReportsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	resp, err := NewClient("", time.Second).Post(context.Background(), url, struct{}{})
	if err == nil {
		t.Fatal("expected connection error")
	}
	if resp.StatusCode != StatusUnavailable {
		t.Fatalf("expected %d, got %d", StatusUnavailable, resp.StatusCode)
	}
}

func TestPostRequiresURL(t *testing.T) {
	if _, err := NewClient("", time.Second).Post(context.Background(), "", struct{}{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestAsyncSendDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	pool := worker.NewPool(1, 4)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() { pool.Run(ctx); close(stopped) }()
	defer func() { cancel(); <-stopped }()

	results := make(chan int, 1)
	start := time.Now()
	NewAsync(NewClient("", 5*time.Second), pool).Send(srv.URL, struct{}{}, func(r Response, err error) {
		results <- r.StatusCode
	})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("Send waited for the response")
	}

	select {
	case <-results:
		t.Fatal("delivery completed before the server responded")
	case <-time.After(30 * time.Millisecond):
	}
	release <- struct{}{}
	select {
	case code := <-results:
		if code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delivery callback never ran")
	}
}

func TestAsyncSendReportsDroppedDelivery(t *testing.T) {
	pool := worker.NewPool(1, 0) // never run, no backlog
	var gotErr error
	NewAsync(NewClient("", time.Second), pool).Send("http://127.0.0.1:1", struct{}{}, func(r Response, err error) {
		gotErr = err
	})
	if gotErr == nil {
		t.Fatal("expected the drop to be reported to the callback")
	}
}
