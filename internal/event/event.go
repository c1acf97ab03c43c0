package event

import (
	"time"
)

// Action identifies the change-of-state notification sent by the commerce
// platform. The set is closed: anything else is rejected by the validator.
type Action string

const (
	ActionProductCreated  Action = "product_created"
	ActionProductUpdated  Action = "product_updated"
	ActionProductDeleted  Action = "product_deleted"
	ActionOrderCreated    Action = "order_created"
	ActionOrderUpdated    Action = "order_updated"
	ActionCustomerCreated Action = "customer_created"
	ActionCustomerUpdated Action = "customer_updated"
)

// Entity types derived from the action prefix.
const (
	EntityProduct  = "product"
	EntityOrder    = "order"
	EntityCustomer = "customer"
)

var supportedActions = map[Action]string{
	ActionProductCreated:  EntityProduct,
	ActionProductUpdated:  EntityProduct,
	ActionProductDeleted:  EntityProduct,
	ActionOrderCreated:    EntityOrder,
	ActionOrderUpdated:    EntityOrder,
	ActionCustomerCreated: EntityCustomer,
	ActionCustomerUpdated: EntityCustomer,
}

// ParseAction maps a raw action string to a supported Action.
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	_, ok := supportedActions[a]
	return a, ok
}

// EntityType returns the entity family an action operates on ("product",
// "order", "customer"), or "" for unsupported actions.
func (a Action) EntityType() string {
	return supportedActions[a]
}

// Supported reports whether the action is in the closed set.
func (a Action) Supported() bool {
	_, ok := supportedActions[a]
	return ok
}

// Inbound is the raw webhook as received. It is immutable once built, owned
// by the request that carries it, and never persisted.
type Inbound struct {
	Action     Action
	Body       []byte
	SourceIP   string
	Headers    map[string]string
	ReceivedAt time.Time
}

// Validated is an Inbound that passed every validator check, plus the
// normalized identity and the per-target sync payloads built from it.
// Only the webhook validator constructs values of this type.
type Validated struct {
	Inbound

	EntityID   string
	EntityType string
	DeliveryID string

	// Fields is the parsed top-level JSON object of the body.
	Fields map[string]any

	Graph     *GraphEntity
	Vector    *VectorDocument
	Analytics *AnalyticsRecord
}

// GraphEntity is the payload sent to the graph store: one node upsert with
// its outgoing edges.
type GraphEntity struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	Edges      []GraphEdge    `json:"edges,omitempty"`
}

// GraphEdge is a directed relationship from the upserted node.
type GraphEdge struct {
	Type       string `json:"type"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
}

// VectorDocument is the payload sent to the semantic index. The index
// service computes embeddings server-side from Document.
type VectorDocument struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind"`
	Document string         `json:"document"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// AnalyticsRecord is one row in the analytics event log.
type AnalyticsRecord struct {
	EventID    string
	Action     string
	EntityType string
	EntityID   string
	DeliveryID string
	SourceIP   string
	Payload    map[string]any
	ReceivedAt time.Time
}
