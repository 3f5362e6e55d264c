package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-logr/logr"
	"github.com/slack-go/slack"

	rulesv1 "github.com/scriptguard/scriptguard/apis/v1"
)

// defaultMethod is used when a WebhookTarget does not specify one.
const defaultMethod = http.MethodPost

// Dispatch fires every notification sink enabled on spec in parallel and
// waits for all of them to finish. A delivery error is
// logged and does not prevent the others from firing or the worker from
// exiting zero.
func Dispatch(ctx context.Context, httpClient *http.Client, spec rulesv1.NotificationSpec, notifyCtx Context, log logr.Logger) {
	var wg sync.WaitGroup

	if spec.Slack != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sendSlack(ctx, spec.Slack, notifyCtx); err != nil {
				log.Error(err, "slack notification delivery failed", "policy", notifyCtx.PolicyName)
			}
		}()
	}

	if spec.Webhook != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sendWebhook(ctx, httpClient, spec.Webhook, notifyCtx); err != nil {
				log.Error(err, "webhook notification delivery failed", "policy", notifyCtx.PolicyName)
			}
		}()
	}

	wg.Wait()
}

// sendSlack interpolates the Slack target's template and posts it to the
// configured incoming webhook URL via slack-go/slack's PostWebhookContext,
// the idiomatic entry point for incoming-webhook (as opposed to bot-token)
// delivery.
func sendSlack(ctx context.Context, target *rulesv1.SlackTarget, notifyCtx Context) error {
	text, err := Interpolate(target.Template, notifyCtx)
	if err != nil {
		return fmt.Errorf("interpolate slack template: %w", err)
	}
	msg := &slack.WebhookMessage{Text: text}
	if err := slack.PostWebhookContext(ctx, target.WebhookURL, msg); err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	return nil
}

// sendWebhook interpolates the generic webhook target's body template and
// headers, then delivers it with the configured HTTP method.
func sendWebhook(ctx context.Context, httpClient *http.Client, target *rulesv1.WebhookTarget, notifyCtx Context) error {
	body, err := Interpolate(target.BodyTemplate, notifyCtx)
	if err != nil {
		return fmt.Errorf("interpolate webhook body template: %w", err)
	}

	method := target.Method
	if method == "" {
		method = defaultMethod
	}

	req, err := http.NewRequestWithContext(ctx, method, target.URL, bytes.NewBufferString(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
