package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ckdcare/ckdcare/pkg/ckd"
)

var ErrNotFound = errors.New("workflow not found")

// ErrInvalid marks errors caused by the caller's input.
var ErrInvalid = errors.New("invalid input")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type WorkflowRepository interface {
	Create(ctx context.Context, w *Workflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*Workflow, error)
	// Update replaces the workflow and all of its requirements.
	Update(ctx context.Context, w *Workflow) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Workflow, int, error)
	// ListForStage returns workflows for stage plus those with no stage.
	ListForStage(ctx context.Context, stage ckd.Stage) ([]*Workflow, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
}
