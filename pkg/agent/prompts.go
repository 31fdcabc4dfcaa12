package agent

import (
	"regexp"
	"strings"
	"text/template"
)

// Reviewer verdict markers.
const (
	VerdictApproved      = "VERDICT: APPROVED"
	VerdictNeedsRevision = "VERDICT: NEEDS_REVISION"
)

const (
	plannerSystem  = "You are a senior engineer who plans work before anyone writes code. Produce a numbered, concrete plan. Do not write the implementation."
	executorSystem = "You are a careful engineer who implements plans exactly. Return the complete implementation."
	reviewerSystem = "You are a strict code reviewer. Check the implementation against the goal and the plan."
)

type promptData struct {
	Goal           string
	TaskType       string
	Plan           string
	Implementation string
	Feedback       string
}

var (
	plannerTmpl = template.Must(template.New("planner").Parse(`Goal ({{.TaskType}}):
{{.Goal}}

Write a step-by-step plan for this goal. List the files or functions to touch, the order of changes and the risks to check.`))

	executorTmpl = template.Must(template.New("executor").Parse(`Goal:
{{.Goal}}

Plan:
---
{{.Plan}}
---

Implement the plan. Return only the resulting code and short notes where a step could not be followed.`))

	reviewerTmpl = template.Must(template.New("reviewer").Parse(`Goal:
{{.Goal}}

Plan:
---
{{.Plan}}
---

Review the implementation provided as code context. List concrete defects first.
End your answer with exactly one line: "` + VerdictApproved + `" if it can ship as is, or "` + VerdictNeedsRevision + `" if it must change.`))

	revisionTmpl = template.Must(template.New("revision").Parse(`Goal:
{{.Goal}}

Plan:
---
{{.Plan}}
---

A reviewer rejected the previous implementation, provided as code context. Their feedback:
---
{{.Feedback}}
---

Fix every issue the reviewer raised and return the complete corrected implementation. Do not repeat the previous output unchanged.`))
)

func render(t *template.Template, data promptData) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

var verdictPattern = regexp.MustCompile(`(?i)verdict\s*:\s*(approved|needs[_ ]revision)`)

// NeedsRevision reports whether review asks for another executor round. The
// last verdict marker wins; a review without one counts as approval.
func NeedsRevision(review string) bool {
	matches := verdictPattern.FindAllStringSubmatch(review, -1)
	if len(matches) == 0 {
		return false
	}
	last := strings.ToLower(matches[len(matches)-1][1])
	return strings.HasPrefix(last, "needs")
}
