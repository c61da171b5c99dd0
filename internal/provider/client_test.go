package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// --- helpers ---

func providerServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(handler)
}

func newTestClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	return NewHTTPClient(baseURL, "pk-test", 5*time.Second)
}

// --- GetStatus tests ---

func TestGetStatus_Succeeded(t *testing.T) {
	ts := providerServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/predictions/ext-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer pk-test" {
			t.Errorf("unexpected auth header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ext-1","status":"succeeded","progress":100,"output":{"model_file":"https://p/a.glb"}}`))
	})
	defer ts.Close()

	st, err := newTestClient(t, ts.URL).GetStatus(context.Background(), "ext-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Status != "succeeded" {
		t.Errorf("expected succeeded, got %s", st.Status)
	}
	if st.Progress == nil || *st.Progress != 100 {
		t.Errorf("expected progress 100, got %v", st.Progress)
	}
	if st.OutputURL != "https://p/a.glb" {
		t.Errorf("unexpected output url: %s", st.OutputURL)
	}
	if st.ExternalJobID != "ext-1" {
		t.Errorf("unexpected external id: %s", st.ExternalJobID)
	}
}

func TestGetStatus_FailedCarriesError(t *testing.T) {
	ts := providerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"ext-2","status":"failed","error":"mesh reconstruction failed"}`))
	})
	defer ts.Close()

	st, err := newTestClient(t, ts.URL).GetStatus(context.Background(), "ext-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Error != "mesh reconstruction failed" {
		t.Errorf("unexpected error text: %q", st.Error)
	}
	if st.Progress != nil {
		t.Errorf("expected nil progress, got %d", *st.Progress)
	}
	if st.OutputURL != "" {
		t.Errorf("expected no output, got %s", st.OutputURL)
	}
}

func TestGetStatus_ProgressIsClamped(t *testing.T) {
	ts := providerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"ext-3","status":"processing","progress":172.4}`))
	})
	defer ts.Close()

	st, err := newTestClient(t, ts.URL).GetStatus(context.Background(), "ext-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Progress == nil || *st.Progress != 100 {
		t.Errorf("expected clamped progress 100, got %v", st.Progress)
	}
}

func TestGetStatus_NotFound(t *testing.T) {
	ts := providerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).GetStatus(context.Background(), "missing")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got: %v", err)
	}
}

func TestGetStatus_ServerError(t *testing.T) {
	ts := providerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).GetStatus(context.Background(), "ext-1")
	if !errors.Is(err, ErrProviderResponse) {
		t.Errorf("expected ErrProviderResponse, got: %v", err)
	}
}

func TestGetStatus_MalformedBody(t *testing.T) {
	ts := providerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":`))
	})
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).GetStatus(context.Background(), "ext-1")
	if !errors.Is(err, ErrProviderResponse) {
		t.Errorf("expected ErrProviderResponse, got: %v", err)
	}
}

func TestGetStatus_MissingStatus(t *testing.T) {
	ts := providerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"ext-1"}`))
	})
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).GetStatus(context.Background(), "ext-1")
	if !errors.Is(err, ErrProviderResponse) {
		t.Errorf("expected ErrProviderResponse, got: %v", err)
	}
}

func TestGetStatus_ConnectionRefused(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	_, err := c.GetStatus(context.Background(), "ext-1")
	if err == nil {
		t.Fatal("expected error for connection refused")
	}
	if !errors.Is(err, ErrProviderUnreachable) {
		t.Errorf("expected ErrProviderUnreachable, got: %v", err)
	}
}

func TestGetStatus_Timeout(t *testing.T) {
	ts := providerServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	})
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "pk-test", 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.GetStatus(ctx, "ext-1")
	if err == nil {
		t.Fatal("expected error for timeout")
	}
	if !errors.Is(err, ErrProviderTimeout) {
		t.Errorf("expected ErrProviderTimeout, got: %v", err)
	}
}

// --- CreateTask tests ---

func TestCreateTask_SendsImagesAndWebhook(t *testing.T) {
	ts := providerServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/predictions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body createPredictionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(body.Input.Images) != 2 {
			t.Errorf("expected 2 images, got %d", len(body.Input.Images))
		}
		if body.Webhook != "https://meshgen.test/api/v1/webhooks/provider" {
			t.Errorf("unexpected webhook: %s", body.Webhook)
		}
		if len(body.WebhookEventsFilter) == 0 {
			t.Error("expected webhook events filter")
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"ext-new","status":"starting"}`))
	})
	defer ts.Close()

	id, err := newTestClient(t, ts.URL).CreateTask(context.Background(),
		[]string{"https://cdn/a.jpg", "https://cdn/b.jpg"},
		"https://meshgen.test/api/v1/webhooks/provider")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "ext-new" {
		t.Errorf("expected ext-new, got %s", id)
	}
}

func TestCreateTask_NoWebhookOmitsFilter(t *testing.T) {
	ts := providerServer(t, func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		json.NewDecoder(r.Body).Decode(&raw)
		if _, ok := raw["webhook"]; ok {
			t.Error("webhook should be omitted")
		}
		if _, ok := raw["webhook_events_filter"]; ok {
			t.Error("webhook_events_filter should be omitted")
		}
		w.Write([]byte(`{"id":"ext-nohook","status":"starting"}`))
	})
	defer ts.Close()

	if _, err := newTestClient(t, ts.URL).CreateTask(context.Background(), []string{"https://cdn/a.jpg"}, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateTask_Rejected(t *testing.T) {
	ts := providerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).CreateTask(context.Background(), []string{"x"}, "")
	if !errors.Is(err, ErrProviderResponse) {
		t.Errorf("expected ErrProviderResponse, got: %v", err)
	}
}

func TestCreateTask_MissingID(t *testing.T) {
	ts := providerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"starting"}`))
	})
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).CreateTask(context.Background(), []string{"x"}, "")
	if !errors.Is(err, ErrProviderResponse) {
		t.Errorf("expected ErrProviderResponse, got: %v", err)
	}
}

func TestClampProgress(t *testing.T) {
	cases := map[float64]int{-5: 0, 0: 0, 41.6: 42, 99.4: 99, 100: 100, 250: 100}
	for in, want := range cases {
		if got := ClampProgress(in); got != want {
			t.Errorf("ClampProgress(%v) = %d, want %d", in, got, want)
		}
	}
}
