package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"boardcache/internal/resource"
	"boardcache/internal/upstream"
)

func mustNewClient(t *testing.T, baseURL string, databases map[resource.Type]string) *Client {
	t.Helper()
	c, err := New(Config{
		Token:      "secret_test",
		BaseURL:    baseURL,
		Databases:  databases,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		Now: func() time.Time {
			return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return c
}

// TestNewRequiresToken verifies a client cannot be built without a token.
func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New without token succeeded")
	}
}

// TestFetchAllMissingDatabase verifies an unconfigured database is a
// permanent error before any request goes out.
func TestFetchAllMissingDatabase(t *testing.T) {
	c := mustNewClient(t, "http://localhost:0", map[resource.Type]string{})

	_, err := c.FetchAll(context.Background(), resource.Tasks)
	if err == nil {
		t.Fatal("FetchAll with no database succeeded")
	}
	if upstream.KindOf(err) != upstream.Permanent {
		t.Errorf("error kind = %s, want permanent", upstream.KindOf(err))
	}
}

// TestFetchAllPaginates verifies the cursor walk covers every page and
// sends the expected headers and body fields.
func TestFetchAllPaginates(t *testing.T) {
	var requests []map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/databases/db-tasks/query" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret_test" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Notion-Version"); got != DefaultAPIVersion {
			t.Errorf("Notion-Version = %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		requests = append(requests, body)

		w.Header().Set("Content-Type", "application/json")
		if _, hasCursor := body["start_cursor"]; !hasCursor {
			fmt.Fprint(w, `{
				"results": [
					{"id": "t1", "properties": {"Task name": {"type": "title", "title": [{"plain_text": "First"}]}}},
					{"id": "t2", "properties": {"Task name": {"type": "title", "title": [{"plain_text": "Second"}]}}}
				],
				"has_more": true,
				"next_cursor": "cursor-2"
			}`)
			return
		}
		fmt.Fprint(w, `{
			"results": [
				{"id": "t3", "properties": {"Task name": {"type": "title", "title": [{"plain_text": "Third"}]}}}
			],
			"has_more": false,
			"next_cursor": null
		}`)
	}))
	defer srv.Close()

	c := mustNewClient(t, srv.URL, map[resource.Type]string{resource.Tasks: "db-tasks"})
	records, err := c.FetchAll(context.Background(), resource.Tasks)
	if err != nil {
		t.Fatalf("FetchAll error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}

	if len(requests) != 2 {
		t.Fatalf("made %d requests, want 2", len(requests))
	}
	if requests[0]["page_size"] != float64(100) {
		t.Errorf("page_size = %v, want 100", requests[0]["page_size"])
	}
	if requests[1]["start_cursor"] != "cursor-2" {
		t.Errorf("start_cursor = %v, want cursor-2", requests[1]["start_cursor"])
	}

	var task resource.Task
	if err := json.Unmarshal(records[2], &task); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if task.PageID != "t3" || task.Name != "Third" {
		t.Errorf("record = %+v", task)
	}
}

// TestFetchAllParsesTaskProperties verifies the property extraction across
// the task field types.
func TestFetchAllParsesTaskProperties(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"results": [{
				"id": "t1",
				"url": "https://notion.so/t1",
				"properties": {
					"Task name": {"type": "title", "title": [{"plain_text": "Ship "}, {"plain_text": "it"}]},
					"Status": {"type": "status", "status": {"name": "In Progress", "color": "blue"}},
					"Priority": {"type": "select", "select": {"name": "High", "color": "red"}},
					"Effort level": {"type": "select", "select": {"name": "Large"}},
					"Description": {"type": "rich_text", "rich_text": [{"plain_text": "details"}]},
					"Due date": {"type": "date", "date": {"start": "2026-09-15T10:00:00.000Z"}},
					"Task type": {"type": "multi_select", "multi_select": [{"name": "Bug"}, {"name": "Backend"}]},
					"Assignee": {"type": "people", "people": [{"id": "u1", "name": "Alice"}, {"id": "u2", "name": ""}]}
				}
			}],
			"has_more": false
		}`)
	}))
	defer srv.Close()

	c := mustNewClient(t, srv.URL, map[resource.Type]string{resource.Tasks: "db"})
	records, err := c.FetchAll(context.Background(), resource.Tasks)
	if err != nil {
		t.Fatalf("FetchAll error: %v", err)
	}

	var task resource.Task
	if err := json.Unmarshal(records[0], &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.Name != "Ship it" {
		t.Errorf("Name = %q", task.Name)
	}
	if task.Status != "In Progress" || task.Priority != "High" || task.EffortLevel != "Large" {
		t.Errorf("status/priority/effort = %q/%q/%q", task.Status, task.Priority, task.EffortLevel)
	}
	if task.DueDate != "2026-09-15" {
		t.Errorf("DueDate = %q, want date-only form", task.DueDate)
	}
	if len(task.TaskType) != 2 || task.TaskType[0] != "Bug" {
		t.Errorf("TaskType = %v", task.TaskType)
	}
	// A person without a name falls back to their ID.
	if len(task.Assignees) != 2 || task.Assignees[0] != "Alice" || task.Assignees[1] != "u2" {
		t.Errorf("Assignees = %v", task.Assignees)
	}
}

// TestFetchAllComputesOverdue verifies the overdue flag: past deadline and
// open status only.
func TestFetchAllComputesOverdue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"results": [
				{"id": "d1", "properties": {
					"Name": {"type": "title", "title": [{"plain_text": "Late"}]},
					"Status": {"type": "status", "status": {"name": "Not Started"}},
					"Deadline": {"type": "date", "date": {"start": "2026-08-01"}},
					"Person": {"type": "people", "people": [{"id": "u1", "name": "Alice"}]}
				}},
				{"id": "d2", "properties": {
					"Name": {"type": "title", "title": [{"plain_text": "Finished late"}]},
					"Status": {"type": "status", "status": {"name": "Done"}},
					"Deadline": {"type": "date", "date": {"start": "2026-08-01"}}
				}},
				{"id": "d3", "properties": {
					"Name": {"type": "title", "title": [{"plain_text": "Future"}]},
					"Status": {"type": "status", "status": {"name": "Not Started"}},
					"Deadline": {"type": "date", "date": {"start": "2026-12-01"}}
				}},
				{"id": "d4", "properties": {
					"Name": {"type": "title", "title": [{"plain_text": "No deadline"}]},
					"Status": {"type": "status", "status": {"name": "Not Started"}}
				}}
			],
			"has_more": false
		}`)
	}))
	defer srv.Close()

	c := mustNewClient(t, srv.URL, map[resource.Type]string{resource.Todos: "db"})
	records, err := c.FetchAll(context.Background(), resource.Todos)
	if err != nil {
		t.Fatalf("FetchAll error: %v", err)
	}

	want := map[string]bool{"d1": true, "d2": false, "d3": false, "d4": false}
	for _, raw := range records {
		var todo resource.Todo
		if err := json.Unmarshal(raw, &todo); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if todo.Overdue != want[todo.TodoID] {
			t.Errorf("%s overdue = %v, want %v", todo.TodoID, todo.Overdue, want[todo.TodoID])
		}
	}

	var first resource.Todo
	_ = json.Unmarshal(records[0], &first)
	if first.MemberName != "Alice" {
		t.Errorf("MemberName = %q, want Alice", first.MemberName)
	}
}

// TestFetchAllAuthFailureIsPermanent verifies a 401 maps to a permanent
// error without retries.
func TestFetchAllAuthFailureIsPermanent(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := mustNewClient(t, srv.URL, map[resource.Type]string{resource.Tasks: "db"})
	_, err := c.FetchAll(context.Background(), resource.Tasks)
	if err == nil {
		t.Fatal("FetchAll with 401 succeeded")
	}
	if upstream.KindOf(err) != upstream.Permanent {
		t.Errorf("error kind = %s, want permanent", upstream.KindOf(err))
	}
	if calls != 1 {
		t.Errorf("made %d calls, want 1", calls)
	}
}

// TestFetchAllServerErrorIsTransient verifies persistent 5xx maps to a
// transient error after retries are exhausted.
func TestFetchAllServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := mustNewClient(t, srv.URL, map[resource.Type]string{resource.Tasks: "db"})
	_, err := c.FetchAll(context.Background(), resource.Tasks)
	if err == nil {
		t.Fatal("FetchAll with persistent 500 succeeded")
	}
	if upstream.KindOf(err) != upstream.Transient {
		t.Errorf("error kind = %s, want transient", upstream.KindOf(err))
	}
}

// TestFetchAllMidPaginationFailureAborts verifies a failure on a later
// page drops the partial result.
func TestFetchAllMidPaginationFailureAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, hasCursor := body["start_cursor"]; !hasCursor {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"results": [{"id": "t1", "properties": {}}], "has_more": true, "next_cursor": "c2"}`)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := mustNewClient(t, srv.URL, map[resource.Type]string{resource.Tasks: "db"})
	records, err := c.FetchAll(context.Background(), resource.Tasks)
	if err == nil {
		t.Fatalf("FetchAll returned %d records despite page failure", len(records))
	}
}
