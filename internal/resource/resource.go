// Package resource defines the closed set of cacheable resource types and the
// flattened record shapes each one carries.
package resource

import (
	"fmt"
	"strings"
	"time"
)

// Type identifies one cacheable class of upstream entities.
type Type string

const (
	Projects Type = "projects"
	Tasks    Type = "tasks"
	Todos    Type = "todos"
	Members  Type = "members"
)

// All returns every known resource type, in stable order.
func All() []Type {
	return []Type{Projects, Tasks, Todos, Members}
}

// Parse converts a user-supplied string into a Type. Matching is
// case-insensitive.
func Parse(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch Type(s) {
	case Projects, Tasks, Todos, Members:
		return Type(s), nil
	}
	return "", fmt.Errorf("unknown resource type: %q (valid: projects, tasks, todos, members)", s)
}

// String implements fmt.Stringer.
func (t Type) String() string { return string(t) }

// Project is a flattened project board entry.
type Project struct {
	PageID         string    `json:"page_id"`
	Name           string    `json:"name"`
	HealthStatus   string    `json:"health_status,omitempty"`
	HealthColor    string    `json:"health_color,omitempty"`
	Status         string    `json:"status,omitempty"`
	Priority       string    `json:"priority,omitempty"`
	PriorityColor  string    `json:"priority_color,omitempty"`
	Assignees      []string  `json:"assignees"`
	TaskCount      int       `json:"task_count"`
	URL            string    `json:"url"`
	CreatedTime    time.Time `json:"created_time"`
	LastEditedTime time.Time `json:"last_edited_time"`
}

// Task is a flattened entry from the shared task database.
type Task struct {
	PageID         string    `json:"page_id"`
	Name           string    `json:"name"`
	Status         string    `json:"status,omitempty"`
	Priority       string    `json:"priority,omitempty"`
	EffortLevel    string    `json:"effort_level,omitempty"`
	Description    string    `json:"description,omitempty"`
	DueDate        string    `json:"due_date,omitempty"` // YYYY-MM-DD
	TaskType       []string  `json:"task_type"`
	Assignees      []string  `json:"assignees"`
	CreatedTime    time.Time `json:"created_time"`
	LastEditedTime time.Time `json:"last_edited_time"`
}

// Todo is a flattened entry from a member kanban board.
type Todo struct {
	TodoID     string   `json:"todo_id"`
	MemberName string   `json:"member_name"`
	Name       string   `json:"name"`
	Status     string   `json:"status,omitempty"`
	Deadline   string   `json:"deadline,omitempty"`  // YYYY-MM-DD
	DoneDate   string   `json:"done_date,omitempty"` // YYYY-MM-DD
	Overdue    bool     `json:"overdue"`
	ProjectIDs []string `json:"project_ids"`
	URL        string   `json:"url"`
}

// Member is a flattened entry from the team roster database.
type Member struct {
	PageID    string `json:"page_id"`
	Name      string `json:"name"`
	Position  string `json:"position,omitempty"`
	Status    string `json:"status,omitempty"`
	Telegram  string `json:"telegram,omitempty"`
	StartDate string `json:"start_date,omitempty"` // YYYY-MM-DD
}
