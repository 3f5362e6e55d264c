package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rulesv1 "github.com/scriptguard/scriptguard/apis/v1"
)

func TestDispatch_WebhookDeliversInterpolatedBody(t *testing.T) {
	var receivedBody string
	var receivedHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		receivedBody = string(b)
		receivedHeader = r.Header.Get("X-Source")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	spec := rulesv1.NotificationSpec{
		Webhook: &rulesv1.WebhookTarget{
			URL:          srv.URL,
			Method:       http.MethodPost,
			Headers:      map[string]string{"X-Source": "scriptguard"},
			BodyTemplate: `{"policy":"{policy.name}","bad":"{output.bad}"}`,
		},
	}

	Dispatch(context.Background(), srv.Client(), spec, Context{
		PolicyName: "no-host-network",
		Output:     map[string]string{"bad": "p1"},
	}, logr.Discard())

	assert.JSONEq(t, `{"policy":"no-host-network","bad":"p1"}`, receivedBody)
	assert.Equal(t, "scriptguard", receivedHeader)
}

func TestDispatch_ContinuesPastOneSinkFailing(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	spec := rulesv1.NotificationSpec{
		Slack: &rulesv1.SlackTarget{
			WebhookURL: "http://127.0.0.1:0/unreachable",
			Template:   "{policy.name}",
		},
		Webhook: &rulesv1.WebhookTarget{
			URL:          srv.URL,
			BodyTemplate: "{policy.name}",
		},
	}

	done := make(chan struct{})
	go func() {
		Dispatch(context.Background(), &http.Client{Timeout: time.Second}, spec, Context{PolicyName: "x"}, logr.Discard())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Dispatch did not return")
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
