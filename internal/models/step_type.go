package models

// StepType classifies an audit entry. The backend may introduce new values;
// unknown step types are stored and displayed unchanged.
type StepType string

const (
	StepTypeLLM     StepType = "llm"
	StepTypeTool    StepType = "tool"
	StepTypeError   StepType = "error"
	StepTypeCheck   StepType = "check"
	StepTypeMessage StepType = "message"
	StepTypeSystem  StepType = "system"
)

// IsKnown reports whether the step type is one the UI has a dedicated rendering for
func (s StepType) IsKnown() bool {
	switch s {
	case StepTypeLLM, StepTypeTool, StepTypeError, StepTypeCheck, StepTypeMessage, StepTypeSystem:
		return true
	}
	return false
}

func (s StepType) String() string {
	return string(s)
}

// FilterCategory is the audit panel filter selected by the user
type FilterCategory string

const (
	FilterAll      FilterCategory = "all"
	FilterMessages FilterCategory = "messages"
	FilterTools    FilterCategory = "tools"
	FilterErrors   FilterCategory = "errors"
)

var filterStepTypes = map[FilterCategory][]StepType{
	FilterMessages: {StepTypeLLM, StepTypeMessage, StepTypeSystem},
	FilterTools:    {StepTypeTool, StepTypeCheck},
	FilterErrors:   {StepTypeError},
}

// ParseFilterCategory maps user input onto a category, defaulting to FilterAll
func ParseFilterCategory(s string) (FilterCategory, bool) {
	switch FilterCategory(s) {
	case FilterAll, "":
		return FilterAll, true
	case FilterMessages, FilterTools, FilterErrors:
		return FilterCategory(s), true
	}
	return FilterAll, false
}

// StepTypes returns the allow-list for the category; nil means no filtering
func (f FilterCategory) StepTypes() []StepType {
	types, ok := filterStepTypes[f]
	if !ok {
		return nil
	}
	out := make([]StepType, len(types))
	copy(out, types)
	return out
}

// Allows reports whether an entry of the given step type passes the filter
func (f FilterCategory) Allows(stepType StepType) bool {
	types, ok := filterStepTypes[f]
	if !ok {
		return true
	}
	for _, t := range types {
		if t == stepType {
			return true
		}
	}
	return false
}
