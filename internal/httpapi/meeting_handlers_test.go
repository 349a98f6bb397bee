package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"quorum.org/internal/auth"
	"quorum.org/internal/meeting"
	"quorum.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("QUORUM_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	api := New(ReadyProbe{}, "test", meeting.NewInMemory(), stream.New())
	api.SetLimits(10000, 10000, 1<<20)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) postRaw(path, contentType, body string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func strptr(s string) *string { return &s }

type createdMeeting struct {
	UserID          string `json:"user_id"`
	UserSecretToken string `json:"user_secret_token"`
	MeetingID       string `json:"meeting_id"`
}

func (c *apiClient) createMeeting(name string, description *string, userName string) createdMeeting {
	c.t.Helper()
	resp := c.post("/meeting", map[string]any{
		"meeting_name":        name,
		"meeting_description": description,
		"user_name":           userName,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("create meeting: unexpected status %d", resp.StatusCode)
	}
	return decode[createdMeeting](c.t, resp)
}

func (c *apiClient) getSnapshot(id string) map[string]any {
	c.t.Helper()
	resp := c.get("/meeting/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("get meeting: unexpected status %d", resp.StatusCode)
	}
	return decode[map[string]any](c.t, resp)
}

func TestGetUnknownMeetingReturns404(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/meeting/"+uuid.NewString(), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCreateMeetingWithoutContentTypeReturns415(t *testing.T) {
	api := newTestAPI(t)

	resp := api.postRaw("/meeting", "", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", resp.StatusCode)
	}

	resp2 := api.postRaw("/meeting", "text/plain", `{"meeting_name":"x","user_name":"y"}`)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415 for wrong content type, got %d", resp2.StatusCode)
	}
}

func TestCreateMeetingValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/meeting", map[string]any{
		"meeting_name": "",
		"user_name":    "alice",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty name: expected 400, got %d", resp.StatusCode)
	}

	resp2 := api.post("/meeting", map[string]any{
		"meeting_name":        "standup",
		"meeting_description": "",
		"user_name":           "alice",
	}, nil)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty description: expected 400, got %d", resp2.StatusCode)
	}

	resp3 := api.postRaw("/meeting", "application/json", "")
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing body: expected 400, got %d", resp3.StatusCode)
	}
}

func TestCreateMeetingResponseShapeAndSnapshot(t *testing.T) {
	api := newTestAPI(t)

	for _, description := range []*string{strptr("Some description"), nil} {
		before := time.Now().UTC()
		resp := api.post("/meeting", map[string]any{
			"meeting_name":        "Some name",
			"meeting_description": description,
			"user_name":           "Some user",
		}, nil)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %d", resp.StatusCode)
		}
		raw := decode[map[string]any](t, resp)
		after := time.Now().UTC()

		if len(raw) != 3 {
			t.Fatalf("create response must have exactly 3 fields, got %v", raw)
		}
		for _, key := range []string{"user_id", "user_secret_token", "meeting_id"} {
			value, ok := raw[key].(string)
			if !ok {
				t.Fatalf("missing field %q in %v", key, raw)
			}
			if _, err := uuid.Parse(value); err != nil {
				t.Fatalf("field %q is not a well-formed identifier: %v", key, err)
			}
		}

		snapshot := api.getSnapshot(raw["meeting_id"].(string))
		if len(snapshot) != 8 {
			t.Fatalf("snapshot must have exactly 8 keys, got %v", snapshot)
		}
		if snapshot["name"] != "Some name" {
			t.Fatalf("unexpected name %v", snapshot["name"])
		}
		if description == nil {
			if snapshot["description"] != nil {
				t.Fatalf("expected null description, got %v", snapshot["description"])
			}
		} else if snapshot["description"] != *description {
			t.Fatalf("description did not round-trip: %v", snapshot["description"])
		}

		for _, key := range []string{"comments", "proposed_dates", "votes"} {
			list, ok := snapshot[key].([]any)
			if !ok {
				t.Fatalf("expected %q to be an array, got %T", key, snapshot[key])
			}
			if len(list) != 0 {
				t.Fatalf("expected empty %q, got %v", key, list)
			}
		}

		participants := snapshot["participants"].([]any)
		if len(participants) != 1 {
			t.Fatalf("expected creator as sole participant, got %v", participants)
		}
		creator := participants[0].(map[string]any)
		if len(creator) != 2 {
			t.Fatalf("participant view must have exactly id and name: %v", creator)
		}
		if creator["id"] != raw["user_id"] {
			t.Fatalf("created_by mismatch: %v vs %v", creator["id"], raw["user_id"])
		}
		if snapshot["created_by"] != raw["user_id"] {
			t.Fatalf("created_by mismatch: %v", snapshot["created_by"])
		}
		if creator["name"] != "Some user" {
			t.Fatalf("unexpected creator name %v", creator["name"])
		}

		createdAt, err := time.Parse(time.RFC3339Nano, snapshot["created_at"].(string))
		if err != nil {
			t.Fatalf("created_at not RFC 3339: %v", err)
		}
		if createdAt.Before(before) || createdAt.After(after) {
			t.Fatalf("created_at %v outside request bracket [%v, %v]", createdAt, before, after)
		}
	}
}

func TestSecretTokenNeverAppearsInSnapshot(t *testing.T) {
	api := newTestAPI(t)

	created := api.createMeeting("private", nil, "alice")
	resp := api.get("/meeting/"+created.MeetingID, nil)
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := buf.String()
	if strings.Contains(body, created.UserSecretToken) {
		t.Fatalf("secret token leaked into snapshot: %s", body)
	}
	if strings.Contains(body, "secret") {
		t.Fatalf("unexpected token field in snapshot: %s", body)
	}
}

func TestJoinMeeting(t *testing.T) {
	api := newTestAPI(t)

	created := api.createMeeting("test name", nil, "User 1")

	resp := api.post("/meeting/"+created.MeetingID+"/join", map[string]any{"name": "User 2"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	joined := decode[map[string]any](t, resp)
	if len(joined) != 2 {
		t.Fatalf("join response must have exactly id and secret_token: %v", joined)
	}
	for _, key := range []string{"id", "secret_token"} {
		value, ok := joined[key].(string)
		if !ok {
			t.Fatalf("missing %q in join response", key)
		}
		if _, err := uuid.Parse(value); err != nil {
			t.Fatalf("%q not a well-formed identifier: %v", key, err)
		}
	}

	snapshot := api.getSnapshot(created.MeetingID)
	participants := snapshot["participants"].([]any)
	if len(participants) != 2 {
		t.Fatalf("expected 2 participants, got %v", participants)
	}
	names := map[string]string{}
	for _, p := range participants {
		entry := p.(map[string]any)
		names[entry["id"].(string)] = entry["name"].(string)
	}
	if names[created.UserID] != "User 1" || names[joined["id"].(string)] != "User 2" {
		t.Fatalf("participants did not round-trip: %v", names)
	}
}

func TestJoinUnknownMeetingReturns400(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/meeting/"+uuid.NewString()+"/join", map[string]any{"name": "ghost"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestConcurrentJoinsOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	created := api.createMeeting("busy", nil, "creator")

	const joiners = 20
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := api.post("/meeting/"+created.MeetingID+"/join", map[string]any{"name": "guest"}, nil)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusCreated {
				t.Errorf("join status %d", resp.StatusCode)
			}
		}()
	}
	wg.Wait()

	snapshot := api.getSnapshot(created.MeetingID)
	participants := snapshot["participants"].([]any)
	if len(participants) != joiners+1 {
		t.Fatalf("expected %d participants, got %d", joiners+1, len(participants))
	}
	seen := map[string]bool{}
	for _, p := range participants {
		id := p.(map[string]any)["id"].(string)
		if seen[id] {
			t.Fatalf("duplicate participant %s", id)
		}
		seen[id] = true
	}
}

func TestPostCommentAuthorization(t *testing.T) {
	api := newTestAPI(t)
	created := api.createMeeting("chatty", nil, "alice")

	// Unknown meeting: 404, before looking at the claimed identity.
	resp := api.post("/meeting/"+uuid.NewString()+"/comment", map[string]any{
		"user_id":           created.UserID,
		"user_secret_token": created.UserSecretToken,
		"message":           "hello",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown meeting: expected 404, got %d", resp.StatusCode)
	}

	// Unknown participant: 401.
	resp = api.post("/meeting/"+created.MeetingID+"/comment", map[string]any{
		"user_id":           uuid.NewString(),
		"user_secret_token": created.UserSecretToken,
		"message":           "hello",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown participant: expected 401, got %d", resp.StatusCode)
	}

	// Known participant, wrong token: 403.
	resp = api.post("/meeting/"+created.MeetingID+"/comment", map[string]any{
		"user_id":           created.UserID,
		"user_secret_token": uuid.NewString(),
		"message":           "hello",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong token: expected 403, got %d", resp.StatusCode)
	}

	// None of the rejected attempts may have left a comment behind.
	snapshot := api.getSnapshot(created.MeetingID)
	if comments := snapshot["comments"].([]any); len(comments) != 0 {
		t.Fatalf("unauthorized attempts mutated state: %v", comments)
	}
}

func TestSequentialCommentsOrderedAndBracketed(t *testing.T) {
	api := newTestAPI(t)
	created := api.createMeeting("minutes", nil, "alice")

	messages := []string{"first", "second", "third"}
	brackets := make([][2]time.Time, 0, len(messages))
	for _, msg := range messages {
		before := time.Now().UTC()
		resp := api.post("/meeting/"+created.MeetingID+"/comment", map[string]any{
			"user_id":           created.UserID,
			"user_secret_token": created.UserSecretToken,
			"message":           msg,
		}, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("comment status %d", resp.StatusCode)
		}
		brackets = append(brackets, [2]time.Time{before, time.Now().UTC()})
	}

	snapshot := api.getSnapshot(created.MeetingID)
	comments := snapshot["comments"].([]any)
	if len(comments) != len(messages) {
		t.Fatalf("expected %d comments, got %d", len(messages), len(comments))
	}
	var prev time.Time
	for i, c := range comments {
		entry := c.(map[string]any)
		if len(entry) != 3 {
			t.Fatalf("comment view must have exactly 3 keys: %v", entry)
		}
		if entry["message"] != messages[i] {
			t.Fatalf("comment %d out of order: %v", i, entry["message"])
		}
		if entry["written_by"] != created.UserID {
			t.Fatalf("unexpected author %v", entry["written_by"])
		}
		postedAt, err := time.Parse(time.RFC3339Nano, entry["posted_at"].(string))
		if err != nil {
			t.Fatalf("posted_at not RFC 3339: %v", err)
		}
		if postedAt.Before(brackets[i][0]) || postedAt.After(brackets[i][1]) {
			t.Fatalf("posted_at %v outside its request bracket", postedAt)
		}
		if postedAt.Before(prev) {
			t.Fatalf("posted_at decreased at index %d", i)
		}
		prev = postedAt
	}
}

func TestProposeDateAndVoteFlow(t *testing.T) {
	api := newTestAPI(t)
	created := api.createMeeting("offsite", nil, "alice")

	resp := api.post("/meeting/"+created.MeetingID+"/date", map[string]any{
		"user_id":           created.UserID,
		"user_secret_token": created.UserSecretToken,
		"date":              "2026-09-12",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("propose date: expected 201, got %d", resp.StatusCode)
	}
	proposed := decode[map[string]any](t, resp)
	dateID, ok := proposed["id"].(string)
	if !ok {
		t.Fatalf("missing date id in %v", proposed)
	}

	// Malformed date is rejected.
	resp = api.post("/meeting/"+created.MeetingID+"/date", map[string]any{
		"user_id":           created.UserID,
		"user_secret_token": created.UserSecretToken,
		"date":              "12.09.2026",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad date: expected 400, got %d", resp.StatusCode)
	}

	// Vote for an unknown date is rejected.
	resp = api.post("/meeting/"+created.MeetingID+"/vote", map[string]any{
		"user_id":           created.UserID,
		"user_secret_token": created.UserSecretToken,
		"date_id":           uuid.NewString(),
		"vote":              "yes",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown date vote: expected 400, got %d", resp.StatusCode)
	}

	// Invalid vote value is rejected.
	resp = api.post("/meeting/"+created.MeetingID+"/vote", map[string]any{
		"user_id":           created.UserID,
		"user_secret_token": created.UserSecretToken,
		"date_id":           dateID,
		"vote":              "definitely",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid vote value: expected 400, got %d", resp.StatusCode)
	}

	resp = api.post("/meeting/"+created.MeetingID+"/vote", map[string]any{
		"user_id":           created.UserID,
		"user_secret_token": created.UserSecretToken,
		"date_id":           dateID,
		"vote":              "maybe",
		"comment":           "depends on travel",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("vote: expected 201, got %d", resp.StatusCode)
	}

	// Re-vote replaces the previous stance.
	resp = api.post("/meeting/"+created.MeetingID+"/vote", map[string]any{
		"user_id":           created.UserID,
		"user_secret_token": created.UserSecretToken,
		"date_id":           dateID,
		"vote":              "yes",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("re-vote: expected 201, got %d", resp.StatusCode)
	}

	snapshot := api.getSnapshot(created.MeetingID)
	dates := snapshot["proposed_dates"].([]any)
	if len(dates) != 1 {
		t.Fatalf("expected 1 proposed date, got %v", dates)
	}
	dateEntry := dates[0].(map[string]any)
	if dateEntry["id"] != dateID || dateEntry["date"] != "2026-09-12" {
		t.Fatalf("proposed date did not round-trip: %v", dateEntry)
	}

	votes := snapshot["votes"].([]any)
	if len(votes) != 1 {
		t.Fatalf("expected 1 vote after re-vote, got %v", votes)
	}
	voteEntry := votes[0].(map[string]any)
	if len(voteEntry) != 4 {
		t.Fatalf("vote view must have exactly 4 keys: %v", voteEntry)
	}
	if voteEntry["participant_id"] != created.UserID || voteEntry["date_id"] != dateID {
		t.Fatalf("vote keys mismatch: %v", voteEntry)
	}
	if voteEntry["vote"] != "yes" || voteEntry["comment"] != nil {
		t.Fatalf("re-vote did not replace prior vote: %v", voteEntry)
	}
}

func TestUnknownResourceAndMethods(t *testing.T) {
	api := newTestAPI(t)
	created := api.createMeeting("misc", nil, "alice")

	resp := api.get("/meeting/"+created.MeetingID+"/unknown", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown action: expected 404, got %d", resp.StatusCode)
	}

	resp = api.get("/meeting", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /meeting: expected 405, got %d", resp.StatusCode)
	}

	resp = api.post("/meeting/"+created.MeetingID, map[string]any{}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST snapshot: expected 405, got %d", resp.StatusCode)
	}
}
