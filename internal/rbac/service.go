package rbac

import (
	"errors"
	"fmt"
)

// Reason explains the outcome of an evaluation.
type Reason string

const (
	ReasonGranted           Reason = "granted"
	ReasonInsufficientLevel Reason = "insufficient_level"
)

// Decision is the result of Evaluate. A denial is a normal result, not an error.
type Decision struct {
	Allowed       bool
	Reason        Reason
	UserLevel     int
	RequiredLevel int
}

// Evaluator decides access against an immutable role table. It is safe for
// concurrent use.
type Evaluator struct {
	table *Table
}

// NewEvaluator constructs an Evaluator over table.
func NewEvaluator(table *Table) (*Evaluator, error) {
	if table == nil {
		return nil, errors.New("rbac: role table required")
	}
	return &Evaluator{table: table}, nil
}

// Table exposes the role table the evaluator was built with.
func (e *Evaluator) Table() *Table {
	return e.table
}

// Evaluate grants access when the level of role is at least the lowest level
// named in allowed.
func (e *Evaluator) Evaluate(role Role, allowed []Role) (Decision, error) {
	if len(allowed) == 0 {
		return Decision{}, fmt.Errorf("%w: allow-list is empty", ErrInvalidPolicy)
	}
	userLevel, err := e.table.Level(role)
	if err != nil {
		return Decision{}, err
	}
	required, err := e.table.Level(allowed[0])
	if err != nil {
		return Decision{}, err
	}
	for _, r := range allowed[1:] {
		level, err := e.table.Level(r)
		if err != nil {
			return Decision{}, err
		}
		required = min(required, level)
	}

	decision := Decision{
		Allowed:       userLevel >= required,
		Reason:        ReasonGranted,
		UserLevel:     userLevel,
		RequiredLevel: required,
	}
	if !decision.Allowed {
		decision.Reason = ReasonInsufficientLevel
	}
	return decision, nil
}

// HasPermission reports whether role holds permission, honouring wildcards.
func (e *Evaluator) HasPermission(role Role, permission string) (bool, error) {
	held, ok := e.table.permissions(role)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return MatchPermission(held, permission), nil
}

// CanAssign reports whether actor may give target to another user. Guest is the
// anonymous tier and is never assignable; otherwise target must not outrank actor.
func (e *Evaluator) CanAssign(actor, target Role) (bool, error) {
	actorLevel, err := e.table.Level(actor)
	if err != nil {
		return false, err
	}
	targetLevel, err := e.table.Level(target)
	if err != nil {
		return false, err
	}
	if target == RoleGuest {
		return false, nil
	}
	return targetLevel <= actorLevel, nil
}

// AssignableRoles lists the roles actor may assign, in privilege order.
func (e *Evaluator) AssignableRoles(actor Role) ([]Role, error) {
	var out []Role
	for _, target := range privilegeOrder {
		ok, err := e.CanAssign(actor, target)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, target)
		}
	}
	return out, nil
}

// AllowedFrom returns the allow-list admitting floor and every role above it.
func AllowedFrom(floor Role) []Role {
	for i, r := range privilegeOrder {
		if r == floor {
			out := make([]Role, len(privilegeOrder)-i)
			copy(out, privilegeOrder[i:])
			return out
		}
	}
	return nil
}
