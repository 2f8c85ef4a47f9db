package notion

import (
	"strings"
	"time"

	"boardcache/internal/resource"
)

// page is the subset of a Notion page object the parsers need.
type page struct {
	ID             string              `json:"id"`
	URL            string              `json:"url"`
	CreatedTime    time.Time           `json:"created_time"`
	LastEditedTime time.Time           `json:"last_edited_time"`
	Properties     map[string]property `json:"properties"`
}

// property is a Notion property value. Only the variant matching its type is
// populated; the rest stay zero.
type property struct {
	Type        string     `json:"type"`
	Title       []richText `json:"title"`
	RichText    []richText `json:"rich_text"`
	Status      *option    `json:"status"`
	Select      *option    `json:"select"`
	MultiSelect []option   `json:"multi_select"`
	People      []person   `json:"people"`
	Date        *dateValue `json:"date"`
	URL         string     `json:"url"`
	Email       string     `json:"email"`
	PhoneNumber string     `json:"phone_number"`
	Relation    []pageRef  `json:"relation"`
	Rollup      *rollup    `json:"rollup"`
}

type richText struct {
	PlainText string `json:"plain_text"`
}

type option struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type dateValue struct {
	Start string `json:"start"`
}

type pageRef struct {
	ID string `json:"id"`
}

type rollup struct {
	Number *float64 `json:"number"`
}

// plainText joins a rich text array into a single string.
func plainText(parts []richText) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.PlainText)
	}
	return b.String()
}

func (p page) title(name string) string {
	return plainText(p.Properties[name].Title)
}

func (p page) richText(name string) string {
	return plainText(p.Properties[name].RichText)
}

func (p page) statusName(name string) string {
	if s := p.Properties[name].Status; s != nil {
		return s.Name
	}
	return ""
}

func (p page) selectOption(name string) (string, string) {
	if s := p.Properties[name].Select; s != nil {
		return s.Name, s.Color
	}
	return "", ""
}

func (p page) multiSelect(name string) []string {
	opts := p.Properties[name].MultiSelect
	names := make([]string, 0, len(opts))
	for _, o := range opts {
		names = append(names, o.Name)
	}
	return names
}

func (p page) people(name string) []string {
	ppl := p.Properties[name].People
	names := make([]string, 0, len(ppl))
	for _, person := range ppl {
		if person.Name != "" {
			names = append(names, person.Name)
		} else {
			names = append(names, person.ID)
		}
	}
	return names
}

// date returns the start of a date property as YYYY-MM-DD, or "".
func (p page) date(name string) string {
	if d := p.Properties[name].Date; d != nil {
		// Date starts may carry a time component; keep the date only.
		if len(d.Start) >= 10 {
			return d.Start[:10]
		}
		return d.Start
	}
	return ""
}

func (p page) relationIDs(name string) []string {
	rels := p.Properties[name].Relation
	ids := make([]string, 0, len(rels))
	for _, r := range rels {
		ids = append(ids, r.ID)
	}
	return ids
}

func (p page) rollupNumber(name string) int {
	if r := p.Properties[name].Rollup; r != nil && r.Number != nil {
		return int(*r.Number)
	}
	return 0
}

func (c *Client) parseProject(p page) resource.Project {
	health, healthColor := p.selectOption("Health")
	priority, priorityColor := p.selectOption("Priority")

	assignees := p.people("Assignee")
	if len(assignees) == 0 {
		assignees = []string{"Unassigned"}
	}

	name := p.title("Project name")
	if name == "" {
		name = "Untitled"
	}

	return resource.Project{
		PageID:         p.ID,
		Name:           name,
		HealthStatus:   health,
		HealthColor:    healthColor,
		Status:         p.statusName("Status"),
		Priority:       priority,
		PriorityColor:  priorityColor,
		Assignees:      assignees,
		TaskCount:      p.rollupNumber("Task Count"),
		URL:            p.URL,
		CreatedTime:    p.CreatedTime,
		LastEditedTime: p.LastEditedTime,
	}
}

func (c *Client) parseTask(p page) resource.Task {
	priority, _ := p.selectOption("Priority")
	effort, _ := p.selectOption("Effort level")

	return resource.Task{
		PageID:         p.ID,
		Name:           p.title("Task name"),
		Status:         p.statusName("Status"),
		Priority:       priority,
		EffortLevel:    effort,
		Description:    p.richText("Description"),
		DueDate:        p.date("Due date"),
		TaskType:       p.multiSelect("Task type"),
		Assignees:      p.people("Assignee"),
		CreatedTime:    p.CreatedTime,
		LastEditedTime: p.LastEditedTime,
	}
}

func (c *Client) parseTodo(p page) resource.Todo {
	name := p.title("Name")
	if name == "" {
		name = "Untitled"
	}

	// Kanban boards are inconsistent about which people property carries
	// the owner; Person wins, Assign is the fallback.
	member := ""
	if names := p.people("Person"); len(names) > 0 {
		member = names[0]
	} else if names := p.people("Assign"); len(names) > 0 {
		member = names[0]
	}

	status := p.statusName("Status")
	deadline := p.date("Deadline")

	return resource.Todo{
		TodoID:     p.ID,
		MemberName: member,
		Name:       name,
		Status:     status,
		Deadline:   deadline,
		DoneDate:   p.date("Date Done"),
		Overdue:    c.isOverdue(deadline, status),
		ProjectIDs: p.relationIDs("Project"),
		URL:        p.URL,
	}
}

// isOverdue reports whether a deadline in the past belongs to a todo that is
// still open.
func (c *Client) isOverdue(deadline, status string) bool {
	if deadline == "" || status == "Done" || status == "Cancelled" {
		return false
	}
	d, err := time.Parse("2006-01-02", deadline)
	if err != nil {
		return false
	}
	today := c.now().UTC().Truncate(24 * time.Hour)
	return d.Before(today)
}

func (c *Client) parseMember(p page) resource.Member {
	position, _ := p.selectOption("Position")
	status, _ := p.selectOption("Status")

	name := p.title("Name")
	if name == "" {
		name = "Unknown"
	}

	return resource.Member{
		PageID:    p.ID,
		Name:      name,
		Position:  position,
		Status:    status,
		Telegram:  p.richText("Telegram"),
		StartDate: p.date("Start Date"),
	}
}
