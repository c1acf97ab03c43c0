package webhook

import (
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"hermes-backend/internal/event"
)

// Edge types emitted to the graph store.
const (
	edgeBelongsTo = "BELONGS_TO"
	edgePlacedBy  = "PLACED_BY"
	edgeContains  = "CONTAINS"
)

// normalizeID renders an identifier field as a string. Sources send ids as
// either strings or numbers.
func normalizeID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", id)
	}
}

func entityIDFor(action event.Action, fields map[string]any) string {
	switch action.EntityType() {
	case event.EntityProduct:
		return normalizeID(fields["productId"])
	case event.EntityOrder:
		return normalizeID(fields["orderId"])
	case event.EntityCustomer:
		return normalizeID(fields["customerId"])
	default:
		return ""
	}
}

// stringField pulls a string out of a decoded object, HTML-escaped so the
// value is inert when rendered by downstream consumers.
func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return html.EscapeString(s)
}

func childObject(fields map[string]any, key string) map[string]any {
	obj, _ := fields[key].(map[string]any)
	return obj
}

// copyProps shallow-copies an object, dropping the named keys. Values stay
// as decoded; they are re-marshaled as JSON on the way out, never spliced
// into queries.
func copyProps(src map[string]any, skip ...string) map[string]any {
	props := make(map[string]any, len(src))
	for k, v := range src {
		props[k] = v
	}
	for _, k := range skip {
		delete(props, k)
	}
	return props
}

func buildGraphEntity(ev *event.Validated) *event.GraphEntity {
	entity := &event.GraphEntity{Type: ev.EntityType, ID: ev.EntityID}

	switch ev.Inbound.Action {
	case event.ActionProductDeleted:
		// Tombstone upsert: downstream queries filter on the flag.
		entity.Properties = map[string]any{"deleted": true}

	case event.ActionProductCreated, event.ActionProductUpdated:
		data := childObject(ev.Fields, "productData")
		entity.Properties = copyProps(data, "id")
		if categoryID := normalizeID(data["categoryId"]); categoryID != "" {
			entity.Edges = append(entity.Edges, event.GraphEdge{
				Type:       edgeBelongsTo,
				TargetType: "category",
				TargetID:   categoryID,
			})
		}

	case event.ActionOrderCreated, event.ActionOrderUpdated:
		data := childObject(ev.Fields, "orderData")
		entity.Properties = copyProps(data, "id", "lineItems")
		if customerID := normalizeID(ev.Fields["customerId"]); customerID != "" {
			entity.Edges = append(entity.Edges, event.GraphEdge{
				Type:       edgePlacedBy,
				TargetType: event.EntityCustomer,
				TargetID:   customerID,
			})
		}
		if items, ok := data["lineItems"].([]any); ok {
			for _, item := range items {
				line, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if productID := normalizeID(line["productId"]); productID != "" {
					entity.Edges = append(entity.Edges, event.GraphEdge{
						Type:       edgeContains,
						TargetType: event.EntityProduct,
						TargetID:   productID,
					})
				}
			}
		}

	case event.ActionCustomerCreated, event.ActionCustomerUpdated:
		entity.Properties = copyProps(childObject(ev.Fields, "customerData"), "id")
	}

	if entity.Properties == nil {
		entity.Properties = map[string]any{}
	}
	return entity
}

func buildVectorDocument(ev *event.Validated) *event.VectorDocument {
	doc := &event.VectorDocument{
		ID:   ev.EntityType + ":" + ev.EntityID,
		Kind: ev.EntityType,
		Payload: map[string]any{
			"action":      string(ev.Inbound.Action),
			"entity_id":   ev.EntityID,
			"entity_type": ev.EntityType,
		},
	}

	switch ev.Inbound.Action {
	case event.ActionProductDeleted:
		doc.Payload["deleted"] = true

	case event.ActionProductCreated, event.ActionProductUpdated:
		data := childObject(ev.Fields, "productData")
		parts := []string{stringField(data, "name")}
		if desc := stringField(data, "description"); desc != "" {
			parts = append(parts, desc)
		}
		if tags, ok := data["tags"].([]any); ok {
			for _, t := range tags {
				if tag, ok := t.(string); ok {
					parts = append(parts, html.EscapeString(tag))
				}
			}
		}
		doc.Document = strings.Join(parts, " ")

	case event.ActionOrderCreated, event.ActionOrderUpdated:
		data := childObject(ev.Fields, "orderData")
		parts := []string{"order " + ev.EntityID}
		if status := stringField(data, "status"); status != "" {
			parts = append(parts, status)
		}
		doc.Document = strings.Join(parts, " ")

	case event.ActionCustomerCreated, event.ActionCustomerUpdated:
		data := childObject(ev.Fields, "customerData")
		parts := []string{stringField(data, "email")}
		if name := stringField(data, "name"); name != "" {
			parts = append(parts, name)
		}
		doc.Document = strings.Join(parts, " ")
	}

	return doc
}

func buildAnalyticsRecord(ev *event.Validated) *event.AnalyticsRecord {
	return &event.AnalyticsRecord{
		EventID:    uuid.New().String(),
		Action:     string(ev.Inbound.Action),
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		DeliveryID: ev.DeliveryID,
		SourceIP:   ev.Inbound.SourceIP,
		Payload:    ev.Fields,
		ReceivedAt: ev.Inbound.ReceivedAt,
	}
}
