package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"chatassist/internal/history"
	"chatassist/internal/models"
	"chatassist/internal/service/ai"
	"chatassist/internal/uploads"
	"chatassist/internal/worker"
)

// scriptedAI replays canned replies and records the transcripts it saw.
type scriptedAI struct {
	mu      sync.Mutex
	replies []string
	err     error
	seen    [][]models.Turn
}

func (s *scriptedAI) Chat(ctx context.Context, turns []models.Turn) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]models.Turn, len(turns))
	copy(copied, turns)
	s.seen = append(s.seen, copied)
	if s.err != nil {
		return "", fmt.Errorf("%w: %v", ai.ErrInference, s.err)
	}
	if len(s.replies) == 0 {
		return "canned reply", nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func newTestServer(t *testing.T, model *scriptedAI) (*gin.Engine, *history.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := history.NewStore()
	factory := func(string) (worker.AICalling, error) { return model, nil }
	manager := worker.NewManager(store, factory, worker.ManagerConfig{})
	uploadStore := uploads.NewStore(t.TempDir())
	handler := NewHandler(manager, store, uploadStore)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, store
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d (want %d), body: %s", rec.Code, want, rec.Body.String())
	}
}

func TestChatFirstExchange(t *testing.T) {
	model := &scriptedAI{replies: []string{"hi there"}}
	router, _ := newTestServer(t, model)

	resp := doJSONRequest(t, router, http.MethodPost, "/chat", map[string]string{
		"session_id": "s1",
		"message":    "hello",
	})
	assertStatus(t, resp, http.StatusOK)

	var body struct {
		Reply        string        `json:"reply"`
		Conversation []models.Turn `json:"conversation"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Reply != "hi there" {
		t.Fatalf("unexpected reply: %q", body.Reply)
	}
	if len(body.Conversation) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(body.Conversation))
	}
	if body.Conversation[0].Role != models.RoleUser || body.Conversation[0].Content != "hello" {
		t.Fatalf("unexpected first turn: %#v", body.Conversation[0])
	}
	if body.Conversation[1].Role != models.RoleAssistant || body.Conversation[1].Content != "hi there" {
		t.Fatalf("unexpected second turn: %#v", body.Conversation[1])
	}
}

func TestChatSecondExchangeCarriesContext(t *testing.T) {
	model := &scriptedAI{replies: []string{"hi there", "doing well"}}
	router, _ := newTestServer(t, model)

	resp := doJSONRequest(t, router, http.MethodPost, "/chat", map[string]string{
		"session_id": "s1", "message": "hello",
	})
	assertStatus(t, resp, http.StatusOK)

	resp = doJSONRequest(t, router, http.MethodPost, "/chat", map[string]string{
		"session_id": "s1", "message": "how are you",
	})
	assertStatus(t, resp, http.StatusOK)

	var body struct {
		Conversation []models.Turn `json:"conversation"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if len(body.Conversation) != 4 {
		t.Fatalf("expected 4 turns after second exchange, got %d", len(body.Conversation))
	}

	model.mu.Lock()
	defer model.mu.Unlock()
	if len(model.seen) != 2 {
		t.Fatalf("model should have been called twice, got %d", len(model.seen))
	}
	second := model.seen[1]
	wantContents := []string{"hello", "hi there", "how are you"}
	if len(second) != len(wantContents) {
		t.Fatalf("second call context has %d turns, want %d", len(second), len(wantContents))
	}
	for i, want := range wantContents {
		if second[i].Content != want {
			t.Fatalf("context turn %d = %q, want %q", i, second[i].Content, want)
		}
	}
}

func TestChatValidation(t *testing.T) {
	router, _ := newTestServer(t, &scriptedAI{})

	resp := doJSONRequest(t, router, http.MethodPost, "/chat", map[string]string{
		"session_id": "", "message": "hello",
	})
	assertStatus(t, resp, http.StatusBadRequest)
	if !strings.Contains(resp.Body.String(), "session_id") {
		t.Fatalf("expected session_id detail, got %s", resp.Body.String())
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/chat", map[string]string{
		"session_id": "s1", "message": "   ",
	})
	assertStatus(t, resp, http.StatusBadRequest)
	if !strings.Contains(resp.Body.String(), "message") {
		t.Fatalf("expected message detail, got %s", resp.Body.String())
	}
}

func TestChatModelFailure(t *testing.T) {
	model := &scriptedAI{err: errors.New("backend down")}
	router, store := newTestServer(t, model)

	resp := doJSONRequest(t, router, http.MethodPost, "/chat", map[string]string{
		"session_id": "s1", "message": "hello",
	})
	assertStatus(t, resp, http.StatusInternalServerError)

	var body struct {
		Detail string `json:"detail"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if !strings.Contains(body.Detail, "model inference error") {
		t.Fatalf("expected inference error detail, got %q", body.Detail)
	}

	// User turn stays, no assistant turn dangles.
	turns := store.Snapshot("s1")
	if len(turns) != 1 || turns[0].Role != models.RoleUser {
		t.Fatalf("transcript should hold only the user turn: %#v", turns)
	}
}

func TestSessionEndpoints(t *testing.T) {
	model := &scriptedAI{replies: []string{"hi there"}}
	router, _ := newTestServer(t, model)

	resp := doJSONRequest(t, router, http.MethodPost, "/chat", map[string]string{
		"session_id": "s1", "message": "hello",
	})
	assertStatus(t, resp, http.StatusOK)

	listResp := doJSONRequest(t, router, http.MethodGet, "/sessions", nil)
	assertStatus(t, listResp, http.StatusOK)
	var listBody struct {
		Sessions []models.SessionInfo `json:"sessions"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	if len(listBody.Sessions) != 1 || listBody.Sessions[0].SessionID != "s1" || listBody.Sessions[0].Turns != 2 {
		t.Fatalf("unexpected session list: %#v", listBody.Sessions)
	}

	msgResp := doJSONRequest(t, router, http.MethodGet, "/sessions/s1/messages", nil)
	assertStatus(t, msgResp, http.StatusOK)
	var msgBody struct {
		Conversation []models.Turn `json:"conversation"`
	}
	decodeJSON(t, msgResp.Body.Bytes(), &msgBody)
	if len(msgBody.Conversation) != 2 {
		t.Fatalf("expected 2 turns in history, got %d", len(msgBody.Conversation))
	}

	missingResp := doJSONRequest(t, router, http.MethodGet, "/sessions/unknown/messages", nil)
	assertStatus(t, missingResp, http.StatusNotFound)

	delResp := doJSONRequest(t, router, http.MethodDelete, "/sessions/s1", nil)
	assertStatus(t, delResp, http.StatusNoContent)

	delAgain := doJSONRequest(t, router, http.MethodDelete, "/sessions/s1", nil)
	assertStatus(t, delAgain, http.StatusNotFound)
}

func doMultipartUpload(t *testing.T, router *gin.Engine, sessionID, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if sessionID != "" {
		if err := mw.WriteField("session_id", sessionID); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("write file content: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestUploadMedia(t *testing.T) {
	router, _ := newTestServer(t, &scriptedAI{})

	content := []byte("plain text upload for the chat session")
	resp := doMultipartUpload(t, router, "s1", "notes.txt", content)
	assertStatus(t, resp, http.StatusOK)

	var body struct {
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
		Message  string `json:"message"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Filename != "notes.txt" {
		t.Fatalf("unexpected filename: %q", body.Filename)
	}
	if body.Size != int64(len(content)) {
		t.Fatalf("unexpected size: %d, want %d", body.Size, len(content))
	}
	if body.Message == "" {
		t.Fatalf("expected confirmation message")
	}

	// Same name again gets a unique destination, not an overwrite.
	resp = doMultipartUpload(t, router, "s1", "notes.txt", content)
	assertStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Filename != "notes (1).txt" {
		t.Fatalf("expected suffixed filename, got %q", body.Filename)
	}
}

func TestUploadValidation(t *testing.T) {
	router, _ := newTestServer(t, &scriptedAI{})

	resp := doMultipartUpload(t, router, "", "notes.txt", []byte("x"))
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doMultipartUpload(t, router, "s1", "", nil)
	assertStatus(t, resp, http.StatusBadRequest)
}
