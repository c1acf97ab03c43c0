package webhook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"hermes-backend/internal/event"
)

// Payload schemas per action. Deletes only need the identifier; creates and
// updates share a shape because sources resend the full entity on update.
const (
	productSchema = `{
		"type": "object",
		"properties": {
			"productId": {"type": ["string", "number", "integer"]},
			"productData": {
				"type": "object",
				"properties": {
					"id": {"type": ["string", "number", "integer"]},
					"name": {"type": "string"},
					"price": {"type": ["number", "integer"]},
					"description": {"type": "string"},
					"categoryId": {"type": ["string", "number", "integer"]},
					"tags": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["id", "name", "price"]
			}
		},
		"required": ["productId", "productData"]
	}`

	productDeletedSchema = `{
		"type": "object",
		"properties": {
			"productId": {"type": ["string", "number", "integer"]}
		},
		"required": ["productId"]
	}`

	orderSchema = `{
		"type": "object",
		"properties": {
			"orderId": {"type": ["string", "number", "integer"]},
			"customerId": {"type": ["string", "number", "integer"]},
			"orderData": {
				"type": "object",
				"properties": {
					"id": {"type": ["string", "number", "integer"]},
					"total": {"type": ["number", "integer"]},
					"status": {"type": "string"},
					"lineItems": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"productId": {"type": ["string", "number", "integer"]},
								"quantity": {"type": ["number", "integer"]}
							},
							"required": ["productId"]
						}
					}
				},
				"required": ["id", "total"]
			}
		},
		"required": ["orderId", "orderData"]
	}`

	customerSchema = `{
		"type": "object",
		"properties": {
			"customerId": {"type": ["string", "number", "integer"]},
			"customerData": {
				"type": "object",
				"properties": {
					"id": {"type": ["string", "number", "integer"]},
					"email": {"type": "string"},
					"name": {"type": "string"}
				},
				"required": ["id", "email"]
			}
		},
		"required": ["customerId", "customerData"]
	}`
)

var schemaSources = map[event.Action]string{
	event.ActionProductCreated:  productSchema,
	event.ActionProductUpdated:  productSchema,
	event.ActionProductDeleted:  productDeletedSchema,
	event.ActionOrderCreated:    orderSchema,
	event.ActionOrderUpdated:    orderSchema,
	event.ActionCustomerCreated: customerSchema,
	event.ActionCustomerUpdated: customerSchema,
}

func compileSchemas() (map[event.Action]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiled := make(map[event.Action]*jsonschema.Schema, len(schemaSources))
	for action, src := range schemaSources {
		name := string(action) + ".json"
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := compiler.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		sch, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		compiled[action] = sch
	}
	return compiled, nil
}

// schemaError translates a jsonschema failure into our validation taxonomy.
// The library reports a tree of causes; the deepest one names the actual
// violation.
func schemaError(err error) *ValidationError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return &ValidationError{Kind: KindUnparseableBody, Message: err.Error()}
	}
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	field := strings.Join(leaf.InstanceLocation, ".")
	switch k := leaf.ErrorKind.(type) {
	case *kind.Required:
		missing := k.Missing[0]
		if field != "" {
			missing = field + "." + missing
		}
		return &ValidationError{
			Kind:    KindMissingField,
			Field:   missing,
			Message: fmt.Sprintf("missing required field: %s", missing),
		}
	case *kind.Type:
		return &ValidationError{
			Kind:    KindWrongType,
			Field:   field,
			Message: fmt.Sprintf("field %s has the wrong type", field),
		}
	default:
		return &ValidationError{
			Kind:    KindWrongType,
			Field:   field,
			Message: fmt.Sprintf("field %s is invalid", field),
		}
	}
}
