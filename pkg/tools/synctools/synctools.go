// Package synctools exposes the live sync engine to tool callers:
// subscriptions with filters, pull reads of recent changes, and buffered
// push callbacks. Since the MCP transport cannot push to the caller,
// register_callback backs the callback with a buffer that poll_callback
// drains.
package synctools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/germanamz/hearth/pkg/statesync"
	"github.com/germanamz/hearth/pkg/tools/toolbox"
)

// Tools provides the sync tools backed by a statesync.Engine.
type Tools struct {
	engine *statesync.Engine

	mu      sync.Mutex
	buffers map[string]*statesync.BufferedNotifier
}

// New creates the sync tools.
func New(engine *statesync.Engine) *Tools {
	return &Tools{
		engine:  engine,
		buffers: make(map[string]*statesync.BufferedNotifier),
	}
}

// Tools returns a ToolBox containing the sync tools.
func (t *Tools) Tools() *toolbox.ToolBox {
	tb := toolbox.New()
	tb.Register(
		t.subscribeTool(),
		t.unsubscribeTool(),
		t.listSubscriptionsTool(),
		t.recentChangesTool(),
		t.registerCallbackTool(),
		t.unregisterCallbackTool(),
		t.pollCallbackTool(),
	)

	return tb
}

func (t *Tools) subscribeTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "subscribe",
		Description: "Subscribe to state changes of one or more entities. Re-using a subscription_id atomically replaces the old subscription. Optional filter: state_change_only drops attribute-only changes; attribute_allowlist drops changes touching none of the listed attributes; min_change_interval_ms debounces rapid flapping. Omitting ttl_ms never expires. A callback_id routes changes to a registered callback buffer instead of the pull buffer.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"subscription_id":{"type":"string"},"entity_ids":{"type":"array","items":{"type":"string"}},"filter":{"type":"object","properties":{"state_change_only":{"type":"boolean"},"attribute_allowlist":{"type":"array","items":{"type":"string"}},"min_change_interval_ms":{"type":"number"}}},"ttl_ms":{"type":"number"},"callback_id":{"type":"string"}},"required":["subscription_id","entity_ids"]}`),
		Handler:     t.handleSubscribe,
	}
}

func (t *Tools) unsubscribeTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "unsubscribe",
		Description: "Remove a subscription and discard its buffered changes.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"subscription_id":{"type":"string"}},"required":["subscription_id"]}`),
		Handler:     t.handleUnsubscribe,
	}
}

func (t *Tools) listSubscriptionsTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "list_subscriptions",
		Description: "List every live subscription with its entities, filters, expiry, and callback status.",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler:     t.handleListSubscriptions,
	}
}

func (t *Tools) recentChangesTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "get_recent_changes",
		Description: "Read recent state changes. With a subscription_id, drains that subscription's buffered changes (or, with include_unchanged, reports the current snapshot of every watched entity without draining). Without one, reads pending changes for the given entity_ids, or for all entities.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"subscription_id":{"type":"string"},"entity_ids":{"type":"array","items":{"type":"string"}},"include_unchanged":{"type":"boolean"}}}`),
		Handler:     t.handleRecentChanges,
	}
}

func (t *Tools) registerCallbackTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "register_callback",
		Description: "Register a callback buffer. Subscriptions created with this callback_id deliver change batches into the buffer; read them with poll_callback.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"callback_id":{"type":"string"}},"required":["callback_id"]}`),
		Handler:     t.handleRegisterCallback,
	}
}

func (t *Tools) unregisterCallbackTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "unregister_callback",
		Description: "Remove a callback buffer. Subscriptions pointing at it fall back to pull delivery.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"callback_id":{"type":"string"}},"required":["callback_id"]}`),
		Handler:     t.handleUnregisterCallback,
	}
}

func (t *Tools) pollCallbackTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "poll_callback",
		Description: "Drain and return the notification batches delivered to a callback buffer since the last poll.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"callback_id":{"type":"string"}},"required":["callback_id"]}`),
		Handler:     t.handlePollCallback,
	}
}

type filterInput struct {
	StateChangeOnly     bool     `json:"state_change_only"`
	AttributeAllowlist  []string `json:"attribute_allowlist"`
	MinChangeIntervalMS float64  `json:"min_change_interval_ms"`
}

type subscribeInput struct {
	SubscriptionID string      `json:"subscription_id"`
	EntityIDs      []string    `json:"entity_ids"`
	Filter         filterInput `json:"filter"`
	TTLMS          float64     `json:"ttl_ms"`
	CallbackID     string      `json:"callback_id"`
}

func (t *Tools) handleSubscribe(_ context.Context, input json.RawMessage) (string, error) {
	var in subscribeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("subscribe: invalid input: %w", err)
	}

	sub, replaced, err := t.engine.Subscribe(statesync.SubscribeRequest{
		ID:        in.SubscriptionID,
		EntityIDs: in.EntityIDs,
		Filter: statesync.Filter{
			StateChangeOnly:    in.Filter.StateChangeOnly,
			AttributeAllowlist: in.Filter.AttributeAllowlist,
			MinChangeInterval:  time.Duration(in.Filter.MinChangeIntervalMS * float64(time.Millisecond)),
		},
		TTL:        time.Duration(in.TTLMS * float64(time.Millisecond)),
		CallbackID: in.CallbackID,
	})
	if err != nil {
		return "", fmt.Errorf("subscribe: %w", err)
	}

	verb := "Subscribed"
	if replaced {
		verb = "Replaced subscription"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s watching %s.", verb, sub.ID, strings.Join(sub.EntityIDs, ", "))

	if desc := describeFilter(sub.Filter); desc != "" {
		b.WriteString(" Filters: " + desc + ".")
	}

	if sub.ExpiresAt.IsZero() {
		b.WriteString(" Never expires.")
	} else {
		fmt.Fprintf(&b, " Expires at %s.", sub.ExpiresAt.Format(time.RFC3339))
	}

	if sub.CallbackID != "" {
		fmt.Fprintf(&b, " Changes are delivered to callback %s.", sub.CallbackID)
	} else {
		b.WriteString(" Read changes with get_recent_changes.")
	}

	return b.String(), nil
}

type subscriptionInput struct {
	SubscriptionID string `json:"subscription_id"`
}

func (t *Tools) handleUnsubscribe(_ context.Context, input json.RawMessage) (string, error) {
	var in subscriptionInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("unsubscribe: invalid input: %w", err)
	}

	if in.SubscriptionID == "" {
		return "", fmt.Errorf("unsubscribe: subscription_id is required")
	}

	if !t.engine.Unsubscribe(in.SubscriptionID) {
		return fmt.Sprintf("No subscription named %s.", in.SubscriptionID), nil
	}

	return fmt.Sprintf("Unsubscribed %s.", in.SubscriptionID), nil
}

func (t *Tools) handleListSubscriptions(_ context.Context, _ json.RawMessage) (string, error) {
	subs := t.engine.ListSubscriptions()
	if len(subs) == 0 {
		return "No live subscriptions.", nil
	}

	var b strings.Builder
	for _, sub := range subs {
		fmt.Fprintf(&b, "- **%s** watching %s", sub.ID, strings.Join(sub.EntityIDs, ", "))

		if desc := describeFilter(sub.Filter); desc != "" {
			b.WriteString("; filters: " + desc)
		}

		if !sub.ExpiresAt.IsZero() {
			fmt.Fprintf(&b, "; expires %s", sub.ExpiresAt.Format(time.RFC3339))
		}

		if sub.CallbackID != "" {
			status := "dead"
			if sub.CallbackLive {
				status = "live"
			}
			fmt.Fprintf(&b, "; callback %s (%s)", sub.CallbackID, status)
		}

		b.WriteString("\n")
	}

	return b.String(), nil
}

type recentChangesInput struct {
	SubscriptionID   string   `json:"subscription_id"`
	EntityIDs        []string `json:"entity_ids"`
	IncludeUnchanged bool     `json:"include_unchanged"`
}

func (t *Tools) handleRecentChanges(_ context.Context, input json.RawMessage) (string, error) {
	var in recentChangesInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("get_recent_changes: invalid input: %w", err)
	}

	records, err := t.engine.RecentChanges(statesync.RecentQuery{
		SubscriptionID:   in.SubscriptionID,
		EntityIDs:        in.EntityIDs,
		IncludeUnchanged: in.IncludeUnchanged,
	})
	if errors.Is(err, statesync.ErrUnknownSubscription) {
		return fmt.Sprintf("No subscription named %s.", in.SubscriptionID), nil
	}
	if err != nil {
		return "", fmt.Errorf("get_recent_changes: %w", err)
	}

	if len(records) == 0 {
		return "No changes.", nil
	}

	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("get_recent_changes: marshal records: %w", err)
	}

	return string(out), nil
}

type callbackInput struct {
	CallbackID string `json:"callback_id"`
}

func (t *Tools) handleRegisterCallback(_ context.Context, input json.RawMessage) (string, error) {
	var in callbackInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("register_callback: invalid input: %w", err)
	}

	if in.CallbackID == "" {
		return "", fmt.Errorf("register_callback: callback_id is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.buffers[in.CallbackID]; ok {
		return fmt.Sprintf("Callback %s is already registered.", in.CallbackID), nil
	}

	buf := &statesync.BufferedNotifier{}
	t.buffers[in.CallbackID] = buf
	t.engine.RegisterCallback(in.CallbackID, buf)

	return fmt.Sprintf("Registered callback %s. Read its deliveries with poll_callback.", in.CallbackID), nil
}

func (t *Tools) handleUnregisterCallback(_ context.Context, input json.RawMessage) (string, error) {
	var in callbackInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("unregister_callback: invalid input: %w", err)
	}

	if in.CallbackID == "" {
		return "", fmt.Errorf("unregister_callback: callback_id is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.buffers[in.CallbackID]; !ok {
		return fmt.Sprintf("No callback named %s.", in.CallbackID), nil
	}

	delete(t.buffers, in.CallbackID)
	t.engine.UnregisterCallback(in.CallbackID)

	return fmt.Sprintf("Unregistered callback %s. Its subscriptions fall back to pull delivery.", in.CallbackID), nil
}

func (t *Tools) handlePollCallback(_ context.Context, input json.RawMessage) (string, error) {
	var in callbackInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("poll_callback: invalid input: %w", err)
	}

	t.mu.Lock()
	buf, ok := t.buffers[in.CallbackID]
	t.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("poll_callback: unknown callback: %s", in.CallbackID)
	}

	notifications := buf.Drain()
	if len(notifications) == 0 {
		return "No deliveries.", nil
	}

	out, err := json.MarshalIndent(notifications, "", "  ")
	if err != nil {
		return "", fmt.Errorf("poll_callback: marshal notifications: %w", err)
	}

	return string(out), nil
}

// describeFilter renders the filter criteria for confirmation strings.
// Returns "" for a zero filter.
func describeFilter(f statesync.Filter) string {
	if f.IsZero() {
		return ""
	}

	var parts []string
	if f.StateChangeOnly {
		parts = append(parts, "state changes only")
	}
	if len(f.AttributeAllowlist) > 0 {
		allowed := append([]string(nil), f.AttributeAllowlist...)
		sort.Strings(allowed)
		parts = append(parts, "attributes "+strings.Join(allowed, ", "))
	}
	if f.MinChangeInterval > 0 {
		parts = append(parts, "at most one change per "+f.MinChangeInterval.String())
	}

	return strings.Join(parts, "; ")
}
