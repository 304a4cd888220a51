package leadboard

import (
	"fmt"
	"strings"
)

// Stage names one bucket of the admissions pipeline.
type Stage string

// StageInfo describes a stage for display.
type StageInfo struct {
	ID    Stage  `json:"id"`
	Title string `json:"title"`
}

// Pipeline is the ordered, closed set of stages a lead can occupy. The first
// stage receives newly created leads. Order is for display only; any stage may
// move to any other.
type Pipeline struct {
	stages []StageInfo
	index  map[Stage]int
}

// NewPipeline builds a pipeline from the given stages.
func NewPipeline(stages ...StageInfo) (Pipeline, error) {
	if len(stages) == 0 {
		return Pipeline{}, fmt.Errorf("pipeline needs at least one stage")
	}

	p := Pipeline{
		stages: make([]StageInfo, 0, len(stages)),
		index:  make(map[Stage]int, len(stages)),
	}
	for _, s := range stages {
		if s.ID == "" {
			return Pipeline{}, fmt.Errorf("empty stage id")
		}
		if _, ok := p.index[s.ID]; ok {
			return Pipeline{}, fmt.Errorf("stage %q listed twice", s.ID)
		}
		if s.Title == "" {
			s.Title = titleOf(s.ID)
		}
		p.index[s.ID] = len(p.stages)
		p.stages = append(p.stages, s)
	}
	return p, nil
}

// ParsePipeline reads a pipeline from a "id[:Title];id[:Title]..." list.
func ParsePipeline(def string) (Pipeline, error) {
	var stages []StageInfo
	for _, part := range strings.Split(def, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, title, _ := strings.Cut(part, ":")
		stages = append(stages, StageInfo{
			ID:    Stage(strings.TrimSpace(id)),
			Title: strings.TrimSpace(title),
		})
	}
	return NewPipeline(stages...)
}

// DefaultPipeline returns the admissions pipeline.
func DefaultPipeline() Pipeline {
	p, err := NewPipeline(
		StageInfo{"new_leads", "New Leads"},
		StageInfo{"call_round_1", "Call Round 1"},
		StageInfo{"call_round_2", "Call Round 2"},
		StageInfo{"new_call_round", "New Call Round"},
		StageInfo{"sms_rounds", "SMS Rounds"},
		StageInfo{"email_rounds", "Email Rounds"},
		StageInfo{"pending", "Pending"},
		StageInfo{"positive_leads", "Positive Leads"},
		StageInfo{"dead_leads", "Dead Leads"},
		StageInfo{"lecturer_assigned", "Lecturer Assigned"},
		StageInfo{"application_fee_paid", "Application Fee Paid"},
		StageInfo{"exam_slot_booked", "Exam Slot Booked"},
		StageInfo{"exam_passed", "Exam Passed"},
		StageInfo{"gd_pi_cleared", "GD & PI Cleared"},
		StageInfo{"token_fee_paid", "Token Fee Paid"},
		StageInfo{"enrolled", "Enrolled"},
	)
	if err != nil {
		panic("default pipeline: " + err.Error())
	}
	return p
}

// Initial returns the stage new leads enter.
func (p Pipeline) Initial() Stage {
	if len(p.stages) == 0 {
		return ""
	}
	return p.stages[0].ID
}

// Has reports whether s belongs to the pipeline.
func (p Pipeline) Has(s Stage) bool {
	_, ok := p.index[s]
	return ok
}

// Stages returns the pipeline stages in display order.
func (p Pipeline) Stages() []StageInfo {
	return append([]StageInfo(nil), p.stages...)
}

// String renders the pipeline in the format ParsePipeline reads.
func (p Pipeline) String() string {
	parts := make([]string, len(p.stages))
	for i, s := range p.stages {
		parts[i] = string(s.ID) + ":" + s.Title
	}
	return strings.Join(parts, ";")
}

func titleOf(s Stage) string {
	words := strings.Split(string(s), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
