package selector

import (
	"fmt"
	"strings"

	"github.com/zen-systems/modelgate/pkg/catalog"
)

// Preference guides the trade-off between cost, speed and quality.
type Preference string

const (
	PreferCost     Preference = "cost-optimized"
	PreferBalanced Preference = "balanced"
	PreferQuality  Preference = "quality-optimized"
	PreferSpeed    Preference = "speed-optimized"
)

// ParsePreference parses a preference name. An empty string means balanced.
func ParsePreference(s string) (Preference, error) {
	switch p := Preference(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PreferBalanced, nil
	case PreferCost, PreferBalanced, PreferQuality, PreferSpeed:
		return p, nil
	default:
		return "", fmt.Errorf("unknown preference %q", s)
	}
}

// TaskType is used for capability matching.
type TaskType string

const (
	TaskCodeReview TaskType = "code-review"
	TaskRefactor   TaskType = "refactor"
	TaskDebug      TaskType = "debug"
	TaskTest       TaskType = "test"
	TaskReasoning  TaskType = "reasoning"
	TaskGeneral    TaskType = "general"
)

var taskTags = map[TaskType][]string{
	TaskCodeReview: {catalog.CapCoding, catalog.CapReasoning},
	TaskRefactor:   {catalog.CapCoding},
	TaskDebug:      {catalog.CapCoding, catalog.CapReasoning},
	TaskTest:       {catalog.CapCoding},
	TaskReasoning:  {catalog.CapReasoning},
	TaskGeneral:    {catalog.CapGeneral},
}

// ParseTaskType parses a task type name. An empty string means general.
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(strings.ToLower(strings.TrimSpace(s)))
	if t == "" {
		return TaskGeneral, nil
	}
	if _, ok := taskTags[t]; !ok {
		return "", fmt.Errorf("unknown task type %q", s)
	}
	return t, nil
}

// Tags returns the capability tags a task type asks for.
func (t TaskType) Tags() []string {
	if tags, ok := taskTags[t]; ok {
		return tags
	}
	return taskTags[TaskGeneral]
}

// Role is one of the three agentic stages.
type Role string

const (
	RolePlanner  Role = "planner"
	RoleExecutor Role = "executor"
	RoleReviewer Role = "reviewer"
)

// Roles returns the roles in execution order.
func Roles() []Role {
	return []Role{RolePlanner, RoleExecutor, RoleReviewer}
}

var roleNeeds = map[Role][]string{
	RolePlanner:  {catalog.CapReasoning},
	RoleExecutor: {catalog.CapCoding},
	RoleReviewer: {catalog.CapReasoning, catalog.CapCoding},
}

// Task describes a unit of work to select models for.
type Task struct {
	Goal       string       `json:"goal" yaml:"goal"`
	Code       string       `json:"code,omitempty" yaml:"code,omitempty"`
	TaskType   TaskType     `json:"task_type" yaml:"task_type"`
	Preference Preference   `json:"preference" yaml:"preference"`
	Tier       catalog.Tier `json:"user_tier" yaml:"user_tier"`
}

// Normalize fills defaults for empty fields and validates enums.
func (t Task) Normalize() (Task, error) {
	var err error
	if t.TaskType, err = ParseTaskType(string(t.TaskType)); err != nil {
		return t, err
	}
	if t.Preference, err = ParsePreference(string(t.Preference)); err != nil {
		return t, err
	}
	if t.Tier, err = catalog.ParseTier(string(t.Tier)); err != nil {
		return t, err
	}
	return t, nil
}
