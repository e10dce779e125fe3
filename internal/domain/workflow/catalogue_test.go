package workflow

import (
	"testing"

	"github.com/ckdcare/ckdcare/pkg/ckd"
)

func TestDefaultCatalogue(t *testing.T) {
	workflows, err := DefaultCatalogue()
	if err != nil {
		t.Fatalf("default catalogue must parse: %v", err)
	}

	covered := map[ckd.Stage]bool{}
	for _, w := range workflows {
		if len(w.Requirements) == 0 {
			t.Errorf("workflow %q has no requirements", w.Name)
		}
		if w.CKDStage != nil {
			covered[*w.CKDStage] = true
		}
	}
	for _, s := range ckd.AllStages() {
		if !covered[s] {
			t.Errorf("no default workflow for %s", s)
		}
	}
}

func TestDefaultCatalogue_Stage5EGFRAlert(t *testing.T) {
	workflows, _ := DefaultCatalogue()
	triggers := Evaluate(workflows, ckd.Stage5, "eGFR", 8)
	if len(triggers) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(triggers))
	}
	if triggers[0].Requirement.Action != ActionEmail {
		t.Errorf("expected email action, got %s", triggers[0].Requirement.Action)
	}
}

func TestParseCatalogue_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "workflows: [:"},
		{"unknown stage", "workflows:\n  - name: x\n    ckd_stage: Stage 9\n"},
		{"missing name", "workflows:\n  - description: nameless\n"},
		{"bad frequency", "workflows:\n  - name: x\n    requirements:\n      - test_name: eGFR\n        frequency: weekly\n"},
		{"bad comparator", "workflows:\n  - name: x\n    requirements:\n      - test_name: eGFR\n        frequency: monthly\n        alert: {comparator: equal, value: 3}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCatalogue([]byte(tt.yaml)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseCatalogue_DefaultsAction(t *testing.T) {
	data := "workflows:\n  - name: x\n    requirements:\n      - test_name: Potassium\n        frequency: quarterly\n"
	workflows, err := ParseCatalogue([]byte(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := workflows[0].Requirements[0].Action; got != ActionNotification {
		t.Errorf("expected default action notification, got %s", got)
	}
	if workflows[0].CKDStage != nil {
		t.Error("expected workflow without stage")
	}
}
