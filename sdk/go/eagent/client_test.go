package eagent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestRunTaskDecodesArtifacts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/tasks" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("async") != "" {
			t.Fatalf("sync run should not set async")
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["user"] != "u1" || body["task"] != "book zoom" {
			t.Fatalf("unexpected body: %v", body)
		}
		_, _ = w.Write([]byte(`{"user":"u1","task":"book zoom","plan":"1. book",
			"trace":[{"title":"book","detail":{"id":"z1"}}],
			"artifacts":[{"zoom_meeting":{"id":"z1"}}]}`))
	})

	res, err := c.RunTask(context.Background(), "u1", "book zoom")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	raw, ok := res.Artifact("zoom_meeting")
	if !ok || string(raw) != `{"id":"z1"}` {
		t.Fatalf("unexpected artifact %s %v", raw, ok)
	}
	if _, ok := res.Artifact("email_draft_id"); ok {
		t.Fatalf("unexpected draft artifact")
	}
}

func TestSubmitAndWaitForTask(t *testing.T) {
	var polls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/tasks":
			if r.URL.Query().Get("async") != "true" {
				t.Fatalf("submit should be async")
			}
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Task{ID: "t1", Status: "pending"})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/tasks/t1":
			status := "running"
			if polls.Add(1) >= 2 {
				status = "succeeded"
			}
			_ = json.NewEncoder(w).Encode(Task{ID: "t1", Status: status})
		default:
			http.NotFound(w, r)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	submitted, err := c.SubmitTask(ctx, "t1", "u1", "file receipt")
	if err != nil || submitted.ID != "t1" {
		t.Fatalf("submit: %+v %v", submitted, err)
	}
	done, err := c.WaitForTask(ctx, "t1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != "succeeded" || polls.Load() < 2 {
		t.Fatalf("unexpected task %+v after %d polls", done, polls.Load())
	}
}

func TestApprovalCalls(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/approvals":
			if r.URL.Query().Get("user") != "u1" || r.URL.Query().Get("status") != "approved" {
				t.Fatalf("unexpected query: %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"approvals":[{"id":3,"user":"u1","action":"send_email","approved":true}]}`))
		case "/api/v1/approvals/3/approve":
			_, _ = w.Write([]byte(`{"approval":{"id":3,"approved":true},"executed":true}`))
		case "/api/v1/approvals/approve-all":
			_, _ = w.Write([]byte(`{"approved":2,"outcomes":[{"approval":{"id":1}},{"approval":{"id":2}}]}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	list, err := c.ListApprovals(ctx, "u1", true)
	if err != nil || len(list) != 1 || list[0].Action != "send_email" {
		t.Fatalf("list: %+v %v", list, err)
	}
	out, err := c.Approve(ctx, 3)
	if err != nil || !out.Executed || out.Approval.ID != 3 {
		t.Fatalf("approve: %+v %v", out, err)
	}
	all, err := c.ApproveAll(ctx, "u1")
	if err != nil || len(all) != 2 {
		t.Fatalf("approve all: %+v %v", all, err)
	}
}

func TestAskAndPost(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/ask":
			_ = json.NewEncoder(w).Encode(Answer{Text: "Receipts are required.", Citations: []string{"expense_policy.md"}})
		case "/api/v1/messages":
			_ = json.NewEncoder(w).Encode(PostResult{Blocked: true, Reason: "unsafe"})
		}
	})
	ans, err := c.Ask(context.Background(), "receipts?")
	if err != nil || len(ans.Citations) != 1 {
		t.Fatalf("ask: %+v %v", ans, err)
	}
	res, err := c.PostMessage(context.Background(), "#general", "delete all")
	if err != nil || !res.Blocked {
		t.Fatalf("post: %+v %v", res, err)
	}
}

func TestAccessTokenIsSent(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(Answer{})
	})
	c.SetAccessToken("secret")
	if _, err := c.Ask(context.Background(), "q"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if got != "Bearer secret" || c.AccessToken() != "secret" {
		t.Fatalf("unexpected authorization header %q", got)
	}
}

func TestErrorsCarryCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"task not found","code":"TASK_NOT_FOUND"}`))
	})
	_, err := c.GetTask(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "TASK_NOT_FOUND" || apiErr.Message != "task not found" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}
