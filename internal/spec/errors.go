package spec

import (
	"errors"
	"fmt"
)

// ErrNoDocument indicates no design document was found at any candidate path.
var ErrNoDocument = errors.New("no design document found")

// UnknownDependencyError reports a depends_on or validator reference that
// does not resolve to a defined id.
type UnknownDependencyError struct {
	Kind    string // kind of the entity holding the bad reference
	ID      string // the entity holding the bad reference
	RefKind string // kind of the unresolved reference
	Ref     string // the unresolved id
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("%s %q references unknown %s %q", e.Kind, e.ID, e.RefKind, e.Ref)
}

// LayerOrderError reports a task dependency that contradicts the declared
// layer ordering: the depending task's layer must be ordered after the
// dependency's layer.
type LayerOrderError struct {
	TaskID   string
	DepID    string
	Layer    string
	DepLayer string
}

func (e *LayerOrderError) Error() string {
	return fmt.Sprintf("task %q (layer %q) depends on %q (layer %q) but layer %q is not ordered after %q",
		e.TaskID, e.Layer, e.DepID, e.DepLayer, e.Layer, e.DepLayer)
}

// MissingFieldError reports a required document field that is absent or of
// the wrong kind.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("design document missing required field %q", e.Field)
}
