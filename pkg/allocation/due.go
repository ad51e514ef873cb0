package allocation

import (
	"fmt"
	"time"

	"github.com/fieldnote/fieldnote/pkg/notify"
)

// DefaultThrottle is the minimum time between two reminders for an overdue allocation
const DefaultThrottle = 24 * time.Hour

// Due reports whether a should be pushed at now. An allocation is due when it
// is a one-off, its window is open, and it was either never pushed or is
// overdue and was last pushed before its due time and more than throttle ago.
func Due(a Allocation, now time.Time, throttle time.Duration) bool {
	if a.Type != TypeOneOff {
		return false
	}
	if a.OpenAt != nil && !a.OpenAt.Before(now) {
		return false
	}
	if a.CloseAt != nil && !a.CloseAt.After(now) {
		return false
	}
	if a.PushedAt == nil {
		return true
	}
	if a.DueAt == nil {
		return false
	}
	return a.PushedAt.Before(*a.DueAt) &&
		a.DueAt.Before(now) &&
		a.PushedAt.Before(now.Add(-throttle))
}

// Unanswered returns the clients with a push token and no complete answer
func Unanswered(clients []Client, answers []Answer) []Client {
	complete := make(map[int64]struct{}, len(answers))
	for _, ans := range answers {
		if ans.Complete {
			complete[ans.ClientID] = struct{}{}
		}
	}

	var out []Client
	for _, c := range clients {
		if c.PushToken == nil || *c.PushToken == "" {
			continue
		}
		if _, done := complete[c.ID]; done {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Tokens returns the push tokens of clients, skipping missing ones
func Tokens(clients []Client) []string {
	tokens := make([]string, 0, len(clients))
	for _, c := range clients {
		if c.PushToken != nil && *c.PushToken != "" {
			tokens = append(tokens, *c.PushToken)
		}
	}
	return tokens
}

// BuildPayload returns the notification for a: "New survey" the first time,
// "Survey reminder" afterwards
func BuildPayload(a Allocation) notify.Payload {
	title := "New survey"
	if a.PushedAt != nil {
		title = "Survey reminder"
	}

	name := a.SurveyName
	if name == "" {
		name = "A survey"
	}
	body := fmt.Sprintf("%s is waiting for you", name)
	if a.PushedAt != nil {
		body = fmt.Sprintf("%s is overdue, please complete it", name)
	}

	return notify.Payload{
		Title: title,
		Body:  body,
		Custom: map[string]interface{}{
			"allocation_id": a.ID,
			"survey_id":     a.SurveyID,
			"group_id":      a.GroupID,
		},
	}
}
