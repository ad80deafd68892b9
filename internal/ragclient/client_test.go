package ragclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-workers/internal/common/logger"
)

// ==========================
// Test Helper Functions
// ==========================

// recordingBackend answers with status/body and captures every request body.
type recordingBackend struct {
	mu     sync.Mutex
	bodies []map[string]interface{}
	header http.Header
}

func (b *recordingBackend) handler(t *testing.T, status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &decoded))

		b.mu.Lock()
		b.bodies = append(b.bodies, decoded)
		b.header = r.Header.Clone()
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (b *recordingBackend) last(t *testing.T) map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.bodies)
	return b.bodies[len(b.bodies)-1]
}

func newBackend(t *testing.T, status int, body string) (*recordingBackend, *httptest.Server) {
	rb := &recordingBackend{}
	server := httptest.NewServer(rb.handler(t, status, body))
	t.Cleanup(server.Close)
	return rb, server
}

func newTestClient(t *testing.T, url string) *Client {
	return NewClient(Config{QueryURL: url, Timeout: 2 * time.Second}, logger.NewTestLogger(t))
}

// ==========================
// Core Functionality Tests
// ==========================

func TestCallBackend_ReturnsResult(t *testing.T) {
	_, server := newBackend(t, http.StatusOK, `{"result": "answer text", "sources": ["a"]}`)
	client := newTestClient(t, server.URL)

	got := client.CallBackend(context.Background(), "q", "en", 3)

	assert.Equal(t, "answer text", got)
	assert.False(t, IsBackendError(got))
}

func TestCallBackend_MissingResultField(t *testing.T) {
	_, server := newBackend(t, http.StatusOK, `{}`)
	client := newTestClient(t, server.URL)

	assert.Equal(t, "(no result field in response)", client.CallBackend(context.Background(), "q", "en"))
}

func TestCallBackend_RequestPayload(t *testing.T) {
	rb, server := newBackend(t, http.StatusOK, `{"result": "ok"}`)
	client := newTestClient(t, server.URL)

	client.CallBackend(context.Background(), "What is RAG?", "ch", 3)

	body := rb.last(t)
	assert.Equal(t, "What is RAG?", body["question"])
	assert.Equal(t, "ch", body["lang"])
	assert.Equal(t, float64(3), body["num_results"])

	threshold, present := body["score_threshold"]
	assert.True(t, present, "score_threshold must be sent")
	assert.Nil(t, threshold)

	assert.Len(t, body, 4)
	assert.Equal(t, "application/json", rb.header.Get("Content-Type"))
}

func TestCallBackend_DefaultNumResults(t *testing.T) {
	rb, server := newBackend(t, http.StatusOK, `{"result": "ok"}`)
	client := newTestClient(t, server.URL)

	client.CallBackend(context.Background(), "q", "en")

	assert.Equal(t, float64(5), rb.last(t)["num_results"])
}

func TestCallBackend_LangPassedVerbatim(t *testing.T) {
	rb, server := newBackend(t, http.StatusOK, `{"result": "ok"}`)
	client := newTestClient(t, server.URL)

	for _, lang := range []string{"en", "ch", "", "EN-us", "fr"} {
		client.CallBackend(context.Background(), "q", lang)
		assert.Equal(t, lang, rb.last(t)["lang"])
	}
}

// ==========================
// Error Path Tests
// ==========================

func TestCallBackend_ServerError(t *testing.T) {
	_, server := newBackend(t, http.StatusInternalServerError, `{"detail": "boom"}`)
	client := newTestClient(t, server.URL)

	got := client.CallBackend(context.Background(), "q", "en", 3)

	assert.True(t, strings.HasPrefix(got, "⚠️ Backend error:"), got)
	assert.Contains(t, got, "500 Server Error: Internal Server Error for url: "+server.URL)
}

func TestCallBackend_ClientError(t *testing.T) {
	_, server := newBackend(t, http.StatusUnprocessableEntity, `{"detail": []}`)
	client := newTestClient(t, server.URL)

	got := client.CallBackend(context.Background(), "q", "en")

	assert.True(t, IsBackendError(got))
	assert.Contains(t, got, "422 Client Error")
}

func TestCallBackend_MalformedJSON(t *testing.T) {
	_, server := newBackend(t, http.StatusOK, `<html>not json</html>`)
	client := newTestClient(t, server.URL)

	got := client.CallBackend(context.Background(), "q", "en")

	assert.True(t, strings.HasPrefix(got, ErrorPrefix), got)
	assert.Contains(t, got, "invalid JSON")
}

func TestCallBackend_TrailingData(t *testing.T) {
	bodies := []string{
		`{"result":"a"} trailing`,
		`{"result":"a"}{"result":"b"}`,
		`{"result":"a"}]`,
	}
	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			_, server := newBackend(t, http.StatusOK, body)
			client := newTestClient(t, server.URL)

			got := client.CallBackend(context.Background(), "q", "en")

			assert.True(t, strings.HasPrefix(got, ErrorPrefix), got)
			assert.Contains(t, got, "invalid JSON")
		})
	}
}

func TestCallBackend_TrailingWhitespaceIsAccepted(t *testing.T) {
	_, server := newBackend(t, http.StatusOK, "{\"result\":\"a\"}\n  \n")
	client := newTestClient(t, server.URL)

	assert.Equal(t, "a", client.CallBackend(context.Background(), "q", "en"))
}

func TestCallBackend_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(Config{QueryURL: server.URL, Timeout: 50 * time.Millisecond}, logger.NewTestLogger(t))

	got := client.CallBackend(context.Background(), "q", "en")

	assert.True(t, strings.HasPrefix(got, "⚠️ Backend error:"), got)
	assert.Greater(t, len(got), len(ErrorPrefix))
}

func TestCallBackend_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := newTestClient(t, "http://"+addr+"/rag/query")

	got := client.CallBackend(context.Background(), "q", "en")

	assert.True(t, strings.HasPrefix(got, "⚠️ Backend error:"), got)
	assert.Contains(t, got, addr)
}

func TestQuery_StructuredErrors(t *testing.T) {
	_, server := newBackend(t, http.StatusBadGateway, ``)
	client := newTestClient(t, server.URL)

	_, err := client.Query(context.Background(), "q", "en", 5)
	require.Error(t, err)

	var backendErr *BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, http.StatusBadGateway, backendErr.StatusCode)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, "Server Error", statusErr.Kind)
	assert.False(t, IsTimeout(err))
}

func TestQuery_TimeoutIsDetected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(Config{QueryURL: server.URL, Timeout: 30 * time.Millisecond}, nil)

	_, err := client.Query(context.Background(), "q", "en", 5)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestCallBackend_ConcurrentCallsAreIndependent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]string{"result": req.Question})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	var wg sync.WaitGroup
	questions := []string{"a", "b", "c", "d", "e", "f"}
	answers := make([]string, len(questions))
	for i, q := range questions {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			answers[i] = client.CallBackend(context.Background(), q, "en")
		}(i, q)
	}
	wg.Wait()

	assert.Equal(t, questions, answers)
}

// ==========================
// Unit Tests
// ==========================

func TestQueryResponse_ResultText(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   string
		wantOK bool
	}{
		{"string", `{"result": "hello"}`, "hello", true},
		{"empty string", `{"result": ""}`, "", true},
		{"null", `{"result": null}`, "", true},
		{"number", `{"result": 42}`, "42", true},
		{"object", `{"result": {"a":1}}`, `{"a":1}`, true},
		{"absent", `{"answer": "x"}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r QueryResponse
			require.NoError(t, json.Unmarshal([]byte(tt.body), &r))
			got, ok := r.ResultText()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{}, nil)

	assert.Equal(t, DefaultQueryURL, client.QueryURL())
	assert.Equal(t, 60*time.Second, client.http.Timeout())
}

func TestFormatError(t *testing.T) {
	got := FormatError(errors.New("connection refused"))
	assert.Equal(t, "⚠️ Backend error: connection refused", got)
	assert.True(t, IsBackendError(got))
	assert.False(t, IsBackendError("answer text"))
}
