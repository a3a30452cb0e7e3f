// Package router handles the chat-turn path: pick the right client for a
// user, invoke the serving endpoint, and render the response as plain text.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ferrolab/agentgate/internal/services/gateway/audit"
	"github.com/ferrolab/agentgate/internal/services/gateway/clientcache"
	"github.com/ferrolab/agentgate/internal/services/gateway/serving"
)

// Invoker issues one invocation call against an agent-serving endpoint.
type Invoker interface {
	Invoke(ctx context.Context, endpointName string, messages []serving.Message) (map[string]any, error)
}

// Router selects a per-user authenticated client when one is cached and
// falls back to the workspace default client otherwise.
type Router struct {
	cache        *clientcache.Cache
	fallback     Invoker
	endpointName string
	recorder     audit.Recorder
	clock        func() time.Time
}

// New builds a router. The recorder may be nil.
func New(cache *clientcache.Cache, fallback Invoker, endpointName string, recorder audit.Recorder) (*Router, error) {
	if cache == nil {
		return nil, fmt.Errorf("client cache is required")
	}
	if fallback == nil {
		return nil, fmt.Errorf("fallback client is required")
	}
	if strings.TrimSpace(endpointName) == "" {
		return nil, fmt.Errorf("endpoint name is required")
	}
	return &Router{
		cache:        cache,
		fallback:     fallback,
		endpointName: endpointName,
		recorder:     recorder,
		clock:        time.Now,
	}, nil
}

// Route sends one chat turn and returns the response text. History entries
// are forwarded in order, followed by the new user message. Failures are
// rendered as text so a broken turn never terminates the conversation.
func (r *Router) Route(ctx context.Context, userID, message string, history []serving.Message) string {
	messages := make([]serving.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, serving.Message{Role: "user", Content: message})

	invoker, principalBound := r.clientFor(userID)

	raw, err := invoker.Invoke(ctx, r.endpointName, messages)
	if err != nil {
		r.record(ctx, userID, principalBound, "failure", err.Error())
		return fmt.Sprintf("Error querying endpoint: %v", err)
	}

	r.record(ctx, userID, principalBound, "success", "")
	return serving.ExtractText(raw)
}

// clientFor reports the invoker to use and whether it is principal-bound.
func (r *Router) clientFor(userID string) (Invoker, bool) {
	if client := r.cache.Get(userID); client != nil {
		return client, true
	}
	return r.fallback, false
}

func (r *Router) record(ctx context.Context, userID string, principalBound bool, outcome, detail string) {
	if r.recorder == nil {
		return
	}
	event := audit.Event{
		EventName:   audit.EventChatRouted,
		ActorUserID: userID,
		Outcome:     outcome,
		Detail:      detail,
		CreatedAt:   r.clock().UTC(),
	}
	if principalBound {
		event.Detail = strings.TrimSpace("principal-bound " + detail)
	}
	_ = r.recorder.PutEvent(ctx, event)
}
