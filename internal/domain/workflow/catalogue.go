package workflow

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ckdcare/ckdcare/pkg/ckd"
)

//go:embed catalogue.yaml
var defaultCatalogue []byte

type catalogueFile struct {
	Workflows []catalogueWorkflow `yaml:"workflows"`
}

type catalogueWorkflow struct {
	Name         string                 `yaml:"name"`
	Description  string                 `yaml:"description"`
	Stage        string                 `yaml:"ckd_stage"`
	Requirements []catalogueRequirement `yaml:"requirements"`
}

type catalogueRequirement struct {
	Test      string `yaml:"test_name"`
	Frequency string `yaml:"frequency"`
	Action    string `yaml:"action"`
	Alert     *struct {
		Comparator string  `yaml:"comparator"`
		Value      float64 `yaml:"value"`
		Unit       string  `yaml:"unit"`
	} `yaml:"alert"`
}

// ParseCatalogue decodes a YAML workflow catalogue and validates every entry.
func ParseCatalogue(data []byte) ([]*Workflow, error) {
	var f catalogueFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}

	out := make([]*Workflow, 0, len(f.Workflows))
	for i, cw := range f.Workflows {
		w := &Workflow{Name: cw.Name}
		if cw.Description != "" {
			desc := cw.Description
			w.Description = &desc
		}
		if cw.Stage != "" {
			st, err := ckd.ParseStage(cw.Stage)
			if err != nil {
				return nil, fmt.Errorf("workflow %d (%s): %w", i, cw.Name, err)
			}
			w.CKDStage = &st
		}
		for _, cr := range cw.Requirements {
			req := &Requirement{
				TestName:  cr.Test,
				Frequency: Frequency(cr.Frequency),
				Action:    Action(cr.Action),
			}
			if cr.Alert != nil {
				req.Alert = &Alert{
					Comparator: Comparator(cr.Alert.Comparator),
					Value:      cr.Alert.Value,
					Unit:       cr.Alert.Unit,
				}
			}
			w.Requirements = append(w.Requirements, req)
		}
		if err := validateWorkflow(w); err != nil {
			return nil, fmt.Errorf("workflow %d (%s): %w", i, cw.Name, err)
		}
		out = append(out, w)
	}
	return out, nil
}

// DefaultCatalogue returns the built-in KDIGO monitoring workflows.
func DefaultCatalogue() ([]*Workflow, error) {
	return ParseCatalogue(defaultCatalogue)
}
