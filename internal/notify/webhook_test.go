package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWebhookSendPostsContent(t *testing.T) {
	t.Parallel()

	var (
		gotContentType string
		gotPayload     map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &gotPayload))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	w, err := NewWebhook(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	message := "available now alert!!!\nThe Road\nTigard Public Library\nhttps://example.org/abc1"
	require.NoError(t, w.Send(context.Background(), message))
	require.Equal(t, "application/json", gotContentType)
	require.Equal(t, message, gotPayload["content"])
}

func TestWebhookSendTruncatesLongMessages(t *testing.T) {
	t.Parallel()

	var gotPayload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &gotPayload))
	}))
	t.Cleanup(srv.Close)

	w, err := NewWebhook(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, w.Send(context.Background(), strings.Repeat("x", 2500)))
	require.Len(t, gotPayload["content"], 2000)
}

func TestWebhookSendStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	w, err := NewWebhook(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	err = w.Send(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestNewWebhookRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewWebhook(WebhookConfig{URL: "   "})
	require.Error(t, err)
}

func TestMemoryRecordsAndFails(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	require.NoError(t, m.Send(context.Background(), "one"))
	require.Equal(t, []string{"one"}, m.Messages())

	m.Fail(context.DeadlineExceeded)
	require.Error(t, m.Send(context.Background(), "two"))
	require.Equal(t, []string{"one"}, m.Messages())
}
