package dashboard

import (
	"time"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/santa"
)

// SessionSummary is the list view of a session. Pairings are never exposed.
type SessionSummary struct {
	ChatID       int64       `json:"chat_id"`
	ChatTitle    string      `json:"chat_title,omitempty"`
	State        santa.State `json:"state"`
	CreatorName  string      `json:"creator_name"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	Participants int         `json:"participants"`
}

// SessionDetail adds the roster to a SessionSummary.
type SessionDetail struct {
	SessionSummary
	Roster []string `json:"roster"`
}

func summary(s *santa.Session) SessionSummary {
	return SessionSummary{
		ChatID:       s.ChatID,
		ChatTitle:    s.ChatTitle,
		State:        s.State,
		CreatorName:  s.CreatorName,
		CreatedAt:    s.CreatedAt,
		StartedAt:    s.StartedAt,
		Participants: s.Count(),
	}
}

func summarize(sessions []*santa.Session) []SessionSummary {
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, summary(s))
	}
	return out
}

func detail(s *santa.Session) SessionDetail {
	d := SessionDetail{SessionSummary: summary(s), Roster: make([]string, 0, s.Count())}
	for _, p := range s.Participants {
		d.Roster = append(d.Roster, p.Name)
	}
	return d
}
