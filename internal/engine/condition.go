package engine

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"hermes-backend/internal/event"
)

// Condition is a compiled routing expression deciding whether a target
// receives an event. Expressions see action, entityType, entityId and the
// parsed payload fields, e.g. `entityType == "product" && fields.price > 100`.
type Condition struct {
	src  string
	prog *vm.Program
}

// CompileCondition compiles a routing expression once at startup. An empty
// expression means "always sync" and compiles to nil.
func CompileCondition(src string) (*Condition, error) {
	if src == "" {
		return nil, nil
	}
	prog, err := expr.Compile(src, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", src, err)
	}
	return &Condition{src: src, prog: prog}, nil
}

// Eval runs the condition against a validated event. A nil condition is
// always true.
func (c *Condition) Eval(ev *event.Validated) (bool, error) {
	if c == nil {
		return true, nil
	}

	env := map[string]any{
		"action":     string(ev.Inbound.Action),
		"entityType": ev.EntityType,
		"entityId":   ev.EntityID,
		"fields":     ev.Fields,
	}
	result, err := expr.Run(c.prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", c.src, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool", c.src)
	}
	return b, nil
}

func (c *Condition) String() string {
	if c == nil {
		return ""
	}
	return c.src
}
