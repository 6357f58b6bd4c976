package notifications

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mndd/notifier/internal/push"
)

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// reminderTemplate builds the reminder for a service or an event.
func reminderTemplate(e Entity, at time.Time) push.Template {
	data := map[string]any{"type": "reminder", "kind": e.Kind, "id": e.ID}
	switch e.Kind {
	case KindService:
		return push.Template{
			Title: "🔔 Hoje tem Culto!",
			Body:  fmt.Sprintf("%s 📍 %s às %s", orDefault(e.TypeLabel, "Culto"), orDefault(e.LocationLabel, "na igreja"), at.Format("15:04")),
			Data:  data,
		}
	default:
		return push.Template{
			Title: "🔔 Não esqueça !",
			Body:  fmt.Sprintf("%s 📍 %s", orDefault(e.TypeLabel, "Evento"), orDefault(e.LocationLabel, "igreja")),
			Data:  data,
		}
	}
}

// FormatDuration renders seconds as m:ss, or h:mm:ss past an hour.
func FormatDuration(seconds float64) string {
	s := int(math.Round(seconds))
	if s < 0 {
		s = 0
	}
	h, m, sec := s/3600, (s%3600)/60, s%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

// QuizMessage announces a new points leader.
func QuizMessage(_ string, leader RankEntry) push.Template {
	return push.Template{
		Title: "👑 Temos um novo líder!",
		Body:  fmt.Sprintf("%s assumiu o topo do ranking do Quiz!", orDefault(leader.Label, "Alguém")),
		Data:  map[string]any{"type": "quiz_leader"},
	}
}

// CrosswordMessage announces a new fastest solver. The week id is the last
// segment of the scope ("crossword:2026-W11").
func CrosswordMessage(scope string, leader RankEntry) push.Template {
	weekID := scope[strings.LastIndex(scope, ":")+1:]
	return push.Template{
		Title: "👑 Novo líder na Cruzada!🧩",
		Body:  fmt.Sprintf("%s assumiu o topo da cruzada (%s)!", orDefault(leader.Label, "Alguém"), FormatDuration(leader.Metric)),
		Data:  map[string]any{"type": "crossword_leader", "weekId": weekID},
	}
}

// DefaultMessage picks the announcement by how the board ranks: time boards
// use the crossword wording, point boards the quiz wording.
func DefaultMessage(order Order) MessageFunc {
	if order == OrderAsc {
		return CrosswordMessage
	}
	return QuizMessage
}

// LeaderPersonalMessage is sent to the new leader's own devices.
func LeaderPersonalMessage(_ string, _ RankEntry) push.Template {
	return push.Template{
		Title: "👑 Você está no topo!",
		Body:  "Você assumiu a liderança do ranking. Continue assim!",
		Data:  map[string]any{"type": "leader_self"},
	}
}

func groupDigestTemplate(groupID, label string, _ Activity) push.Template {
	title := "Nova mensagem no grupo"
	if label != "" {
		title = "Nova mensagem em " + label
	}
	return push.Template{
		Title: title,
		Body:  "Tem mensagens novas no seu grupo. Abra o app para ver.",
		Data:  map[string]any{"type": "group_chat", "groupId": groupID},
	}
}

func publicationTemplate(channel string, a Activity) push.Template {
	return push.Template{
		Title: "🧩 Nova publicação disponível!",
		Body:  fmt.Sprintf("%s já está disponível. Corra para conferir!", orDefault(a.Label, "Uma novidade")),
		Data:  map[string]any{"type": "publication", "channel": channel, "id": a.ID},
	}
}
