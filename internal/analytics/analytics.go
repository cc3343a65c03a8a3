// Package analytics aggregates the interaction log into daily usage figures.
package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/uDoug/ChatBot/internal/storage"
)

// DailyStats summarizes one calendar day of answered questions.
type DailyStats struct {
	Date               string              `json:"date"`
	TotalMessages      int                 `json:"total_messages"`
	UniqueUsers        int                 `json:"unique_users"`
	VoiceMessages      int                 `json:"voice_messages"`
	AvgDurationSeconds float64             `json:"avg_duration_seconds"`
	UserStats          map[int64]UserStats `json:"user_stats"`
}

type UserStats struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	Messages int    `json:"messages"`
	Voice    int    `json:"voice"`
}

// AnalyzeDailyLogs counts the events whose timestamp falls on targetDate in
// targetDate's location.
func AnalyzeDailyLogs(events []storage.Event, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:      startOfDay.Format("2006-01-02"),
		UserStats: make(map[int64]UserStats),
	}

	var totalDuration float64
	for _, event := range events {
		if event.Timestamp.Before(startOfDay) || !event.Timestamp.Before(endOfDay) {
			continue
		}
		if event.Question == "" {
			continue
		}

		stats.TotalMessages++
		totalDuration += event.Duration

		userStat, ok := stats.UserStats[event.UserID]
		if !ok {
			userStat = UserStats{UserID: event.UserID}
		}
		if event.UserName != "" {
			userStat.UserName = event.UserName
		}
		userStat.Messages++
		if event.Source == storage.SourceVoice {
			stats.VoiceMessages++
			userStat.Voice++
		}
		stats.UserStats[event.UserID] = userStat
	}

	stats.UniqueUsers = len(stats.UserStats)
	if stats.TotalMessages > 0 {
		stats.AvgDurationSeconds = totalDuration / float64(stats.TotalMessages)
	}
	return stats
}

// GenerateReportSummary renders the report sent to the administrator.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Relatório de uso da Themis em %s\n\n", ds.Date)
	fmt.Fprintf(&b, "- Perguntas respondidas: %d\n", ds.TotalMessages)
	fmt.Fprintf(&b, "- Usuários únicos: %d\n", ds.UniqueUsers)
	fmt.Fprintf(&b, "- Mensagens de voz: %d\n", ds.VoiceMessages)
	if ds.TotalMessages > 0 {
		fmt.Fprintf(&b, "- Tempo médio de resposta: %.1fs\n", ds.AvgDurationSeconds)
	}
	if len(ds.UserStats) == 0 {
		return b.String()
	}

	ids := make([]int64, 0, len(ds.UserStats))
	for id := range ds.UserStats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, c := ds.UserStats[ids[i]], ds.UserStats[ids[j]]
		if a.Messages != c.Messages {
			return a.Messages > c.Messages
		}
		return ids[i] < ids[j]
	})

	fmt.Fprintf(&b, "\nAtividade por usuário:\n")
	for _, id := range ids {
		us := ds.UserStats[id]
		label := fmt.Sprintf("%d", id)
		if us.UserName != "" {
			label = fmt.Sprintf("%s (%d)", us.UserName, id)
		}
		fmt.Fprintf(&b, "- %s: %d perguntas", label, us.Messages)
		if us.Voice > 0 {
			fmt.Fprintf(&b, ", %d por voz", us.Voice)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Reporter loads the interaction log and hands the summary of the previous
// day to Send. It is meant to be scheduled.
type Reporter struct {
	Recorder storage.Recorder
	Send     func(text string) error
	Location *time.Location
	Now      func() time.Time
}

// Run reports on the day before Now in Location.
func (r Reporter) Run() error {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now().In(loc).AddDate(0, 0, -1).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)
	events, err := r.Recorder.LoadInteractions(day, day.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("load interactions: %w", err)
	}
	return r.Send(AnalyzeDailyLogs(events, day).GenerateReportSummary())
}
