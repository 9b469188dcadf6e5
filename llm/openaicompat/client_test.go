package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"id":"llama3","object":"model","created":0,"owned_by":"library"}]}`)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","created":0,"model":%q,"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Read"}}]}`, req.Model)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL+"/v1/", "", 5*time.Second, nil)
	ctx := context.Background()

	if !c.IsReachable(ctx) {
		t.Fatal("expected server to be reachable")
	}

	models, err := c.ListModels(ctx)
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 1 || models[0] != "llama3" {
		t.Errorf("ListModels() = %v", models)
	}

	answer, err := c.Complete(ctx, "llama3", "Category:")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if answer != "Read" {
		t.Errorf("Complete() = %q", answer)
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url+"/v1/", "", time.Second, nil)
	if c.IsReachable(context.Background()) {
		t.Error("closed server should not be reachable")
	}
	if _, err := c.Complete(context.Background(), "llama3", "x"); err == nil {
		t.Error("expected Complete error")
	}
}
