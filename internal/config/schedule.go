package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mndd/notifier/internal/civil"
)

// Schedule is the optional YAML file that says how often each evaluator
// runs and what it watches. An interval of 0 disables that evaluator's
// ticker; it can still be triggered over HTTP or the CLI.
type Schedule struct {
	Intervals    map[string]time.Duration `yaml:"intervals"`
	Cleanup      CleanupConfig            `yaml:"cleanup"`
	Reminders    ReminderConfig           `yaml:"reminders"`
	Leaderboards []BoardConfig            `yaml:"leaderboards"`
	Groups       []GroupConfig            `yaml:"groups"`
	Publications []string                 `yaml:"publications"`
	Daily        []DailyConfig            `yaml:"daily"`
	Birthdays    BirthdayConfig           `yaml:"birthdays"`
}

// CleanupConfig controls the purge of old claims and run rows.
type CleanupConfig struct {
	Interval       time.Duration `yaml:"interval"`
	ClaimRetention time.Duration `yaml:"claim_retention"`
	RunRetention   time.Duration `yaml:"run_retention"`
}

// ReminderConfig positions the reminder window.
type ReminderConfig struct {
	Lead      time.Duration `yaml:"lead"`
	Tolerance time.Duration `yaml:"tolerance"`
}

// BoardConfig describes one watched leaderboard. ScopeFromChannel makes the
// scope follow the latest publication id on that channel.
type BoardConfig struct {
	Name             string `yaml:"name"`
	Scope            string `yaml:"scope"`
	ScopeFromChannel string `yaml:"scope_from_channel"`
	Order            string `yaml:"order"`
	Personalized     bool   `yaml:"personalized"`
}

// GroupConfig is one chat group to digest.
type GroupConfig struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// DailyConfig is one once-a-day broadcast.
type DailyConfig struct {
	Name    string        `yaml:"name"`
	Channel string        `yaml:"channel"`
	At      string        `yaml:"at"`
	Window  time.Duration `yaml:"window"`
}

// BirthdayConfig places the daily birthday greeting window.
type BirthdayConfig struct {
	At     string        `yaml:"at"`
	Window time.Duration `yaml:"window"`
}

// LoadSchedule reads path, expanding environment variables. An empty path
// returns the defaults.
func LoadSchedule(path string) (*Schedule, error) {
	var s Schedule
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading schedule file: %w", err)
		}
		data = []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parsing schedule file: %w", err)
		}
	} else {
		s = defaultWatches()
	}
	s.applyDefaults()
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// defaultGroups are the church's ministry groups. Groups found in the
// database are digested too; these entries only add display names.
var defaultGroups = []GroupConfig{
	{ID: "louvor", Label: "Louvor"},
	{ID: "amareservir", Label: "Amar e Servir"},
	{ID: "varoes", Label: "Varões"},
	{ID: "guerreiras", Label: "Guerreiras"},
	{ID: "adolescentes", Label: "Adolescentes"},
	{ID: "danca", Label: "Dança"},
	{ID: "geracao", Label: "Geração"},
	{ID: "obreiros", Label: "Obreiros"},
	{ID: "infantil", Label: "Infantil"},
	{ID: "midia", Label: "Mídia"},
}

// defaultWatches is used when no schedule file is configured.
func defaultWatches() Schedule {
	return Schedule{
		Leaderboards: []BoardConfig{
			{Name: "quiz", Scope: "quiz", Order: "desc"},
			{Name: "crossword", ScopeFromChannel: "crossword", Order: "asc"},
		},
		Groups:       append([]GroupConfig(nil), defaultGroups...),
		Publications: []string{"crossword"},
		Daily:        []DailyConfig{{Name: "verse", Channel: "verse", At: "07:00"}},
	}
}

func (s *Schedule) applyDefaults() {
	if s.Intervals == nil {
		s.Intervals = map[string]time.Duration{}
	}
	defaults := map[string]time.Duration{
		"reminders":    time.Minute,
		"leaders":      2 * time.Minute,
		"digests":      5 * time.Minute,
		"publications": 5 * time.Minute,
		"birthdays":    time.Minute,
	}
	for name, d := range defaults {
		if _, ok := s.Intervals[name]; !ok {
			s.Intervals[name] = d
		}
	}
	for i := range s.Daily {
		if s.Daily[i].Window == 0 {
			s.Daily[i].Window = 5 * time.Minute
		}
		if s.Daily[i].Channel == "" {
			s.Daily[i].Channel = s.Daily[i].Name
		}
		name := "daily:" + s.Daily[i].Name
		if _, ok := s.Intervals[name]; !ok {
			s.Intervals[name] = time.Minute
		}
	}
	if s.Birthdays.At == "" {
		s.Birthdays.At = "09:00"
	}
	if s.Birthdays.Window == 0 {
		s.Birthdays.Window = 5 * time.Minute
	}
	for i := range s.Leaderboards {
		if s.Leaderboards[i].Order == "" {
			s.Leaderboards[i].Order = "desc"
		}
	}

	if s.Cleanup.Interval == 0 {
		s.Cleanup.Interval = 6 * time.Hour
	}
	if s.Cleanup.ClaimRetention == 0 {
		s.Cleanup.ClaimRetention = 30 * 24 * time.Hour
	}
	if s.Cleanup.RunRetention == 0 {
		s.Cleanup.RunRetention = 14 * 24 * time.Hour
	}

	if s.Reminders.Lead == 0 {
		s.Reminders.Lead = 120 * time.Minute
	}
	if s.Reminders.Tolerance == 0 {
		s.Reminders.Tolerance = 5 * time.Minute
	}
}

func (s *Schedule) validate() error {
	for name, d := range s.Intervals {
		if d < 0 {
			return fmt.Errorf("interval %q must not be negative", name)
		}
	}
	for _, b := range s.Leaderboards {
		if b.Name == "" || (b.Scope == "" && b.ScopeFromChannel == "") {
			return fmt.Errorf("leaderboard %q needs a name and a scope", b.Name)
		}
		if b.Order != "asc" && b.Order != "desc" {
			return fmt.Errorf("leaderboard %q: order must be asc or desc", b.Name)
		}
	}
	for _, d := range s.Daily {
		if d.Name == "" || d.At == "" {
			return fmt.Errorf("daily job %q needs a name and a time", d.Name)
		}
		if _, err := civil.ParseClock(d.At); err != nil {
			return fmt.Errorf("daily job %q: %w", d.Name, err)
		}
	}
	if _, err := civil.ParseClock(s.Birthdays.At); err != nil {
		return fmt.Errorf("birthdays: %w", err)
	}
	for _, g := range s.Groups {
		if g.ID == "" {
			return fmt.Errorf("group entry without id")
		}
	}
	return nil
}
