package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	messages []string
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.messages = append(n.messages, text)
	return n.err
}

func TestTelegramNotifier(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:abc/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	n := NewTelegramNotifier("123:abc", "42")
	n.baseURL = server.URL

	require.NoError(t, n.Notify(context.Background(), "hello"))
	assert.Equal(t, map[string]string{"chat_id": "42", "text": "hello", "parse_mode": "Markdown"}, got)
}

func TestTelegramNotifierErrorHidesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	n := NewTelegramNotifier("secret-token", "42")
	n.baseURL = server.URL

	err := n.Notify(context.Background(), "hello")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}

func TestSlackNotifier(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer server.Close()

	require.NoError(t, NewSlackNotifier(server.URL+"/hook").Notify(context.Background(), "hi"))
	assert.Equal(t, map[string]string{"text": "hi"}, got)
}

func TestMultiNotifier(t *testing.T) {
	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("down")}
	multi := NewMultiNotifier(failing, ok)

	err := multi.Notify(context.Background(), "msg")
	assert.EqualError(t, err, "down")
	assert.Equal(t, []string{"msg"}, ok.messages, "later notifiers still run")
	assert.Equal(t, []string{"msg"}, failing.messages)

	assert.NoError(t, NewMultiNotifier().Notify(context.Background(), "msg"))
}

func TestNewNotifiers(t *testing.T) {
	tests := []struct {
		name    string
		secrets Secrets
		want    int
	}{
		{"none", Secrets{}, 0},
		{"telegram needs chat id", Secrets{TelegramBotToken: "t"}, 0},
		{"telegram", Secrets{TelegramBotToken: "t", TelegramChatID: "1"}, 1},
		{"both", Secrets{TelegramBotToken: "t", TelegramChatID: "1", SlackWebhookURL: "https://hooks"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, newNotifiers(tt.secrets).Notifiers, tt.want)
		})
	}
}

func TestNotificationServiceMessages(t *testing.T) {
	rec := &recordingNotifier{}
	svc := NewNotificationService(rec, nil)
	ctx := context.Background()

	svc.SendSuccess(ctx, "Coffee Blog", "Best Coffee", "https://a.com/p/")
	svc.SendFailure(ctx, "Coffee Blog", "Best Coffee", errors.New("boom"))
	svc.SendBatchSummary(ctx, BatchStats{Total: 3, Success: 2, Failed: 1})

	require.Len(t, rec.messages, 3)
	assert.Equal(t, "✅ Post Published Successfully\nSite: Coffee Blog\nTitle: Best Coffee\nURL: https://a.com/p/", rec.messages[0])
	assert.Equal(t, "❌ Post Generation Failed\nSite: Coffee Blog\nTopic: Best Coffee\nError: boom", rec.messages[1])
	assert.Equal(t, "📊 Batch Processing Complete\nTotal: 3\n✅ Success: 2\n❌ Failed: 1", rec.messages[2])
}

func TestNotificationServiceSwallowsErrors(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("down")}
	svc := NewNotificationService(rec, nil)

	assert.NotPanics(t, func() {
		svc.SendBatchSummary(context.Background(), BatchStats{})
	})
	assert.Len(t, rec.messages, 1)

	var nilSvc *NotificationService
	assert.NotPanics(t, func() { nilSvc.SendSuccess(context.Background(), "s", "t", "u") })
}
