// Package hatools provides the Home Assistant control tools: listing
// entities, reading and writing state, and calling services. Reads go
// through the response cache; writes invalidate the entries they touch so
// a follow-up read never reports pre-write state.
package hatools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/germanamz/hearth/pkg/cache"
	"github.com/germanamz/hearth/pkg/entity"
	"github.com/germanamz/hearth/pkg/hass"
	"github.com/germanamz/hearth/pkg/tools/toolbox"
)

// Tools provides the Home Assistant tools backed by a REST client and a
// response cache. A nil cache disables caching.
type Tools struct {
	client *hass.Client
	cache  *cache.Cache
}

// New creates the Home Assistant tools.
func New(client *hass.Client, c *cache.Cache) *Tools {
	return &Tools{client: client, cache: c}
}

// Tools returns a ToolBox containing the Home Assistant tools.
func (t *Tools) Tools() *toolbox.ToolBox {
	tb := toolbox.New()
	tb.Register(
		t.listEntitiesTool(),
		t.getStateTool(),
		t.setStateTool(),
		t.callServiceTool(),
		t.turnOnTool(),
		t.turnOffTool(),
		t.getConfigTool(),
	)

	return tb
}

func (t *Tools) listEntitiesTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "ha_list_entities",
		Description: "List every Home Assistant entity with its current state. Optionally filter by domain (e.g. light, switch, sensor).",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"domain":{"type":"string","description":"Only list entities in this domain"}}}`),
		Handler:     t.handleListEntities,
	}
}

func (t *Tools) getStateTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "ha_get_state",
		Description: "Get the full state object of one entity, including attributes and the last changed/updated timestamps.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"entity_id":{"type":"string","description":"Entity to read (e.g. light.kitchen)"}},"required":["entity_id"]}`),
		Handler:     t.handleGetState,
	}
}

func (t *Tools) setStateTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "ha_set_state",
		Description: "Write a state object for an entity directly into Home Assistant's state machine. This does not talk to any device; use ha_call_service to actually control hardware.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"entity_id":{"type":"string"},"state":{"type":"string"},"attributes":{"type":"object"}},"required":["entity_id","state"]}`),
		Handler:     t.handleSetState,
	}
}

func (t *Tools) callServiceTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "ha_call_service",
		Description: "Call a Home Assistant service, e.g. domain=light service=turn_on with data {\"entity_id\":\"light.kitchen\",\"brightness\":128}.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"domain":{"type":"string"},"service":{"type":"string"},"data":{"type":"object","description":"Service data, usually including entity_id"}},"required":["domain","service"]}`),
		Handler:     t.handleCallService,
	}
}

func (t *Tools) turnOnTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "ha_turn_on",
		Description: "Turn an entity on via the homeassistant.turn_on service.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"entity_id":{"type":"string"}},"required":["entity_id"]}`),
		Handler:     t.handleTurnOn,
	}
}

func (t *Tools) turnOffTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "ha_turn_off",
		Description: "Turn an entity off via the homeassistant.turn_off service.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"entity_id":{"type":"string"}},"required":["entity_id"]}`),
		Handler:     t.handleTurnOff,
	}
}

func (t *Tools) getConfigTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "ha_get_config",
		Description: "Get the Home Assistant instance configuration: name, version, time zone, and running state.",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler:     t.handleGetConfig,
	}
}

type listEntitiesInput struct {
	Domain string `json:"domain"`
}

func (t *Tools) handleListEntities(ctx context.Context, input json.RawMessage) (string, error) {
	var in listEntitiesInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("ha_list_entities: invalid input: %w", err)
	}

	// Only the unfiltered listing is cached; domain filters are cheap to
	// apply but would multiply the key space.
	if in.Domain == "" {
		if cached, ok := t.cacheGet(cache.CollectionKey); ok {
			return cached, nil
		}
	}

	entities, err := t.client.States(ctx)
	if err != nil {
		return "", fmt.Errorf("ha_list_entities: %w", err)
	}

	if in.Domain != "" {
		filtered := entities[:0]
		for _, e := range entities {
			if strings.HasPrefix(e.ID, in.Domain+".") {
				filtered = append(filtered, e)
			}
		}
		entities = filtered
	}

	out := formatEntityList(entities)
	if in.Domain == "" {
		t.cacheSet(cache.CollectionKey, out)
	}

	return out, nil
}

type entityInput struct {
	EntityID string `json:"entity_id"`
}

func (t *Tools) handleGetState(ctx context.Context, input json.RawMessage) (string, error) {
	var in entityInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("ha_get_state: invalid input: %w", err)
	}

	if in.EntityID == "" {
		return "", fmt.Errorf("ha_get_state: entity_id is required")
	}

	key := cache.EntityKey(in.EntityID)
	if cached, ok := t.cacheGet(key); ok {
		return cached, nil
	}

	e, err := t.client.State(ctx, in.EntityID)
	if err != nil {
		return "", fmt.Errorf("ha_get_state: %w", err)
	}

	out := formatEntity(e)
	t.cacheSet(key, out)

	return out, nil
}

type setStateInput struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

func (t *Tools) handleSetState(ctx context.Context, input json.RawMessage) (string, error) {
	var in setStateInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("ha_set_state: invalid input: %w", err)
	}

	if in.EntityID == "" || in.State == "" {
		return "", fmt.Errorf("ha_set_state: entity_id and state are required")
	}

	e, err := t.client.SetState(ctx, in.EntityID, in.State, in.Attributes)
	if err != nil {
		return "", fmt.Errorf("ha_set_state: %w", err)
	}

	t.invalidate(in.EntityID)

	return formatEntity(e), nil
}

type callServiceInput struct {
	Domain  string         `json:"domain"`
	Service string         `json:"service"`
	Data    map[string]any `json:"data"`
}

func (t *Tools) handleCallService(ctx context.Context, input json.RawMessage) (string, error) {
	var in callServiceInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("ha_call_service: invalid input: %w", err)
	}

	if in.Domain == "" || in.Service == "" {
		return "", fmt.Errorf("ha_call_service: domain and service are required")
	}

	changed, err := t.client.CallService(ctx, in.Domain, in.Service, in.Data)
	if err != nil {
		return "", fmt.Errorf("ha_call_service: %w", err)
	}

	for _, e := range changed {
		t.invalidate(e.ID)
	}

	if len(changed) == 0 {
		return fmt.Sprintf("Called %s.%s. No state objects changed.", in.Domain, in.Service), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Called %s.%s. Changed state objects:\n\n", in.Domain, in.Service)
	b.WriteString(formatEntityList(changed))

	return b.String(), nil
}

func (t *Tools) handleTurnOn(ctx context.Context, input json.RawMessage) (string, error) {
	return t.togglePower(ctx, input, "ha_turn_on", "turn_on")
}

func (t *Tools) handleTurnOff(ctx context.Context, input json.RawMessage) (string, error) {
	return t.togglePower(ctx, input, "ha_turn_off", "turn_off")
}

func (t *Tools) togglePower(ctx context.Context, input json.RawMessage, toolName, service string) (string, error) {
	var in entityInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("%s: invalid input: %w", toolName, err)
	}

	if in.EntityID == "" {
		return "", fmt.Errorf("%s: entity_id is required", toolName)
	}

	changed, err := t.client.CallService(ctx, "homeassistant", service, map[string]any{"entity_id": in.EntityID})
	if err != nil {
		return "", fmt.Errorf("%s: %w", toolName, err)
	}

	t.invalidate(in.EntityID)
	for _, e := range changed {
		t.invalidate(e.ID)
	}

	return fmt.Sprintf("Called homeassistant.%s for %s.", service, in.EntityID), nil
}

func (t *Tools) handleGetConfig(ctx context.Context, _ json.RawMessage) (string, error) {
	cfg, err := t.client.GetConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("ha_get_config: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", cfg.LocationName)
	fmt.Fprintf(&b, "- **Version:** %s\n", cfg.Version)
	fmt.Fprintf(&b, "- **Time zone:** %s\n", cfg.TimeZone)
	fmt.Fprintf(&b, "- **State:** %s\n", cfg.State)

	return b.String(), nil
}

func (t *Tools) cacheGet(key string) (string, bool) {
	if t.cache == nil {
		return "", false
	}

	return t.cache.Get(key)
}

func (t *Tools) cacheSet(key, value string) {
	if t.cache == nil {
		return
	}

	t.cache.Set(key, value)
}

// invalidate drops the per-entity entry plus the collection listing, which
// embeds the entity's state.
func (t *Tools) invalidate(entityID string) {
	if t.cache == nil {
		return
	}

	t.cache.Invalidate(cache.EntityKey(entityID))
	t.cache.Invalidate(cache.CollectionKey)
}

// formatEntityList renders entities as a markdown table sorted by entity id.
func formatEntityList(entities []entity.Entity) string {
	if len(entities) == 0 {
		return "No entities found."
	}

	sorted := make([]entity.Entity, len(entities))
	copy(sorted, entities)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var b strings.Builder
	b.WriteString("| Entity | State | Last changed |\n")
	b.WriteString("|---|---|---|\n")
	for _, e := range sorted {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", e.ID, e.State, e.LastChanged.Format("2006-01-02 15:04:05"))
	}

	return b.String()
}

// formatEntity renders one state object as markdown with sorted attributes.
func formatEntity(e entity.Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", e.ID)
	fmt.Fprintf(&b, "- **State:** %s\n", e.State)
	fmt.Fprintf(&b, "- **Last changed:** %s\n", e.LastChanged.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- **Last updated:** %s\n", e.LastUpdated.Format("2006-01-02 15:04:05"))

	if len(e.Attributes) > 0 {
		b.WriteString("\n## Attributes\n\n")
		keys := make([]string, 0, len(e.Attributes))
		for k := range e.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, err := json.Marshal(e.Attributes[k])
			if err != nil {
				fmt.Fprintf(&b, "- **%s:** %v\n", k, e.Attributes[k])
				continue
			}
			fmt.Fprintf(&b, "- **%s:** %s\n", k, string(v))
		}
	}

	return b.String()
}
