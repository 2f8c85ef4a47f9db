package views

import (
	"encoding/json"
	"fmt"

	"boardcache/internal/resource"
)

// Summary aggregates one snapshot's records into counts.
type Summary struct {
	Resource   resource.Type  `json:"resource"`
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByAssignee map[string]int `json:"by_assignee,omitempty"`
	Overdue    int            `json:"overdue,omitempty"`
}

// Summarize computes counts by status, by assignee where the resource has
// one, and the overdue total for todos.
func Summarize(res resource.Type, records []json.RawMessage) (*Summary, error) {
	s := &Summary{
		Resource: res,
		Total:    len(records),
		ByStatus: make(map[string]int),
	}
	if res != resource.Members {
		s.ByAssignee = make(map[string]int)
	}

	for i, raw := range records {
		if err := s.add(res, raw); err != nil {
			return nil, fmt.Errorf("decode %s record %d: %w", res, i, err)
		}
	}
	return s, nil
}

func (s *Summary) add(res resource.Type, raw json.RawMessage) error {
	switch res {
	case resource.Projects:
		var p resource.Project
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		s.bumpStatus(p.Status)
		for _, a := range p.Assignees {
			s.ByAssignee[a]++
		}
	case resource.Tasks:
		var t resource.Task
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		s.bumpStatus(t.Status)
		for _, a := range t.Assignees {
			s.ByAssignee[a]++
		}
	case resource.Todos:
		var td resource.Todo
		if err := json.Unmarshal(raw, &td); err != nil {
			return err
		}
		s.bumpStatus(td.Status)
		if td.MemberName != "" {
			s.ByAssignee[td.MemberName]++
		}
		if td.Overdue {
			s.Overdue++
		}
	case resource.Members:
		var m resource.Member
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		s.bumpStatus(m.Status)
	default:
		return fmt.Errorf("unknown resource type: %s", res)
	}
	return nil
}

func (s *Summary) bumpStatus(status string) {
	if status == "" {
		status = "(none)"
	}
	s.ByStatus[status]++
}
