// Package views applies read-side filters and aggregations to snapshot
// records. Filtering never mutates a snapshot: matching records are
// returned as the original raw documents.
package views

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"boardcache/internal/resource"
)

// DateFormat is the wire format for all date filter values.
const DateFormat = "2006-01-02"

// Filter holds the query conditions applied to one snapshot. Zero-value
// fields are inactive; active conditions combine with AND logic.
type Filter struct {
	// Status matches the record's status name, case-insensitive.
	Status string
	// Assignee matches any assignee or member name, case-insensitive.
	Assignee string
	// DueBefore keeps records whose due date is strictly before this date.
	DueBefore string
	// DueAfter keeps records whose due date is strictly after this date.
	DueAfter string
	// Overdue, when non-nil, keeps records whose overdue flag matches.
	Overdue *bool
}

// IsZero reports whether no condition is active.
func (f Filter) IsZero() bool {
	return f.Status == "" && f.Assignee == "" && f.DueBefore == "" && f.DueAfter == "" && f.Overdue == nil
}

// Validate checks the filter is well-formed and applicable to the
// resource type.
func (f Filter) Validate(res resource.Type) error {
	for _, d := range []struct{ key, value string }{
		{"due_before", f.DueBefore},
		{"due_after", f.DueAfter},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.Parse(DateFormat, d.value); err != nil {
			return fmt.Errorf("invalid %s date: %q (want YYYY-MM-DD)", d.key, d.value)
		}
		if res != resource.Tasks && res != resource.Todos {
			return fmt.Errorf("%s filter does not apply to %s", d.key, res)
		}
	}
	if f.Overdue != nil && res != resource.Todos {
		return fmt.Errorf("overdue filter does not apply to %s", res)
	}
	return nil
}

// Apply returns the records matching the filter, preserving their original
// encoding and order.
func Apply(res resource.Type, records []json.RawMessage, f Filter) ([]json.RawMessage, error) {
	if err := f.Validate(res); err != nil {
		return nil, err
	}
	if f.IsZero() {
		return records, nil
	}

	matched := make([]json.RawMessage, 0, len(records))
	for i, raw := range records {
		ok, err := matches(res, raw, f)
		if err != nil {
			return nil, fmt.Errorf("decode %s record %d: %w", res, i, err)
		}
		if ok {
			matched = append(matched, raw)
		}
	}
	return matched, nil
}

func matches(res resource.Type, raw json.RawMessage, f Filter) (bool, error) {
	switch res {
	case resource.Projects:
		var p resource.Project
		if err := json.Unmarshal(raw, &p); err != nil {
			return false, err
		}
		return matchStatus(p.Status, f.Status) && matchAnyName(p.Assignees, f.Assignee), nil
	case resource.Tasks:
		var t resource.Task
		if err := json.Unmarshal(raw, &t); err != nil {
			return false, err
		}
		return matchStatus(t.Status, f.Status) &&
			matchAnyName(t.Assignees, f.Assignee) &&
			matchDateWindow(t.DueDate, f.DueBefore, f.DueAfter), nil
	case resource.Todos:
		var td resource.Todo
		if err := json.Unmarshal(raw, &td); err != nil {
			return false, err
		}
		if f.Overdue != nil && td.Overdue != *f.Overdue {
			return false, nil
		}
		return matchStatus(td.Status, f.Status) &&
			matchName(td.MemberName, f.Assignee) &&
			matchDateWindow(td.Deadline, f.DueBefore, f.DueAfter), nil
	case resource.Members:
		var m resource.Member
		if err := json.Unmarshal(raw, &m); err != nil {
			return false, err
		}
		return matchStatus(m.Status, f.Status) && matchName(m.Name, f.Assignee), nil
	default:
		return false, fmt.Errorf("unknown resource type: %s", res)
	}
}

func matchStatus(got, want string) bool {
	return want == "" || strings.EqualFold(got, want)
}

func matchName(got, want string) bool {
	return want == "" || strings.EqualFold(got, want)
}

func matchAnyName(names []string, want string) bool {
	if want == "" {
		return true
	}
	for _, n := range names {
		if strings.EqualFold(n, want) {
			return true
		}
	}
	return false
}

// matchDateWindow checks a YYYY-MM-DD date against optional exclusive
// bounds. Records without a date never match an active bound.
func matchDateWindow(date, before, after string) bool {
	if before == "" && after == "" {
		return true
	}
	if date == "" {
		return false
	}
	d, err := time.Parse(DateFormat, date)
	if err != nil {
		return false
	}
	if before != "" {
		b, _ := time.Parse(DateFormat, before)
		if !d.Before(b) {
			return false
		}
	}
	if after != "" {
		a, _ := time.Parse(DateFormat, after)
		if !d.After(a) {
			return false
		}
	}
	return true
}
