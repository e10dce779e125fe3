package workflow

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ckdcare/ckdcare/pkg/ckd"
)

type Service struct {
	workflows WorkflowRepository
	logger    zerolog.Logger
}

func NewService(workflows WorkflowRepository, logger zerolog.Logger) *Service {
	return &Service{workflows: workflows, logger: logger.With().Str("component", "workflow").Logger()}
}

func validateRequirement(req *Requirement) error {
	req.TestName = strings.TrimSpace(req.TestName)
	if req.TestName == "" {
		return invalidf("requirement test_name is required")
	}
	if !req.Frequency.Valid() {
		return invalidf("invalid frequency: %q", req.Frequency)
	}
	if req.Action == "" {
		req.Action = ActionNotification
	}
	if req.Action != ActionNotification && req.Action != ActionEmail {
		return invalidf("invalid action: %q", req.Action)
	}
	if a := req.Alert; a != nil {
		if a.Comparator != Below && a.Comparator != Above {
			return invalidf("invalid alert comparator: %q", a.Comparator)
		}
		if math.IsNaN(a.Value) || math.IsInf(a.Value, 0) {
			return invalidf("alert value must be a finite number")
		}
	}
	return nil
}

func validateWorkflow(w *Workflow) error {
	w.Name = strings.TrimSpace(w.Name)
	if w.Name == "" {
		return invalidf("name is required")
	}
	if w.CKDStage != nil && !w.CKDStage.Valid() {
		return invalidf("invalid ckd_stage")
	}
	for _, req := range w.Requirements {
		if err := validateRequirement(req); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) CreateWorkflow(ctx context.Context, w *Workflow) error {
	if err := validateWorkflow(w); err != nil {
		return err
	}
	return s.workflows.Create(ctx, w)
}

func (s *Service) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	return s.workflows.GetByID(ctx, id)
}

func (s *Service) UpdateWorkflow(ctx context.Context, w *Workflow) error {
	if err := validateWorkflow(w); err != nil {
		return err
	}
	return s.workflows.Update(ctx, w)
}

func (s *Service) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	return s.workflows.Delete(ctx, id)
}

func (s *Service) ListWorkflows(ctx context.Context, limit, offset int) ([]*Workflow, int, error) {
	return s.workflows.List(ctx, limit, offset)
}

// ForStage returns the workflows that apply to stage, including those
// without a stage.
func (s *Service) ForStage(ctx context.Context, stage ckd.Stage) ([]*Workflow, error) {
	return s.workflows.ListForStage(ctx, stage)
}

// Evaluate checks value for testName against every workflow applicable to stage.
func (s *Service) Evaluate(ctx context.Context, stage ckd.Stage, testName string, value float64) ([]Trigger, error) {
	workflows, err := s.workflows.ListForStage(ctx, stage)
	if err != nil {
		return nil, fmt.Errorf("load workflows for %s: %w", stage, err)
	}
	triggers := Evaluate(workflows, stage, testName, value)
	for _, t := range triggers {
		s.logger.Debug().
			Str("workflow", t.WorkflowName).
			Str("test", testName).
			Float64("value", value).
			Str("alert", t.Requirement.Alert.String()).
			Msg("requirement triggered")
	}
	return triggers, nil
}

// InstallDefaults creates the built-in catalogue workflows that do not exist
// yet, matched by name. It returns how many were created.
func (s *Service) InstallDefaults(ctx context.Context, createdBy *uuid.UUID) (int, error) {
	catalogue, err := DefaultCatalogue()
	if err != nil {
		return 0, err
	}
	created := 0
	for _, w := range catalogue {
		exists, err := s.workflows.ExistsByName(ctx, w.Name)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}
		w.CreatedBy = createdBy
		if err := s.workflows.Create(ctx, w); err != nil {
			return created, fmt.Errorf("install %q: %w", w.Name, err)
		}
		created++
	}
	if created > 0 {
		s.logger.Info().Int("count", created).Msg("default workflows installed")
	}
	return created, nil
}
