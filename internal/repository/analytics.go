package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"voxa/internal/model"

	"github.com/google/uuid"
)

// UsageStats returns the user's totals
func (r *sqlRepository) UsageStats(ctx context.Context, userID uuid.UUID) (*model.UsageStats, error) {
	var sent, chars, meetings int64

	err := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT
			COUNT(CASE WHEN status = 'sent' THEN 1 END),
			COALESCE(SUM(text_length), 0)
		FROM tts_messages WHERE user_id = ?
	`), userID).Scan(&sent, &chars)
	if err != nil {
		return nil, fmt.Errorf("failed to count TTS messages: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		r.rebind(`SELECT COUNT(*) FROM meetings WHERE user_id = ?`), userID,
	).Scan(&meetings)
	if err != nil {
		return nil, fmt.Errorf("failed to count meetings: %w", err)
	}

	return &model.UsageStats{
		TotalMeetings:    int(meetings),
		TotalTTSMessages: int(sent),
		TotalCharacters:  int(chars),
	}, nil
}

// VoiceUsage groups the user's messages by voice
func (r *sqlRepository) VoiceUsage(ctx context.Context, userID uuid.UUID) ([]model.VoiceUsage, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT voice_used, COUNT(*)
		FROM tts_messages
		WHERE user_id = ?
		GROUP BY voice_used
		ORDER BY COUNT(*) DESC, voice_used ASC
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query voice usage: %w", err)
	}
	defer rows.Close()

	stats := make([]model.VoiceUsage, 0)
	for rows.Next() {
		var v model.VoiceUsage
		var count int64
		if err := rows.Scan(&v.Voice, &count); err != nil {
			return nil, fmt.Errorf("failed to scan voice usage: %w", err)
		}
		v.Count = int(count)
		stats = append(stats, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return stats, nil
}

// DailyActivity buckets by weekday in Go; the two drivers disagree on
// date functions.
func (r *sqlRepository) DailyActivity(ctx context.Context, userID uuid.UUID) ([]model.DailyActivity, error) {
	times, err := r.createdTimes(ctx, `SELECT created_at FROM tts_messages WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily activity: %w", err)
	}

	var counts [7]int
	for _, t := range times {
		counts[t.UTC().Weekday()]++
	}

	activity := make([]model.DailyActivity, 0, 7)
	for day, n := range counts {
		if n == 0 {
			continue
		}
		activity = append(activity, model.DailyActivity{
			Day:      time.Weekday(day).String()[:3],
			Messages: n,
		})
	}
	return activity, nil
}

// MonthlyUsage merges meeting counts and message characters per month
func (r *sqlRepository) MonthlyUsage(ctx context.Context, userID uuid.UUID, since time.Time) ([]model.MonthlyUsage, error) {
	months := make(map[string]*model.MonthlyUsage)
	bucket := func(t time.Time) *model.MonthlyUsage {
		key := t.UTC().Format("2006-01")
		m, ok := months[key]
		if !ok {
			m = &model.MonthlyUsage{Month: key}
			months[key] = m
		}
		return m
	}

	meetings, err := r.createdTimes(ctx, `SELECT created_at FROM meetings WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly meetings: %w", err)
	}
	for _, t := range meetings {
		if !t.Before(since) {
			bucket(t).Meetings++
		}
	}

	rows, err := r.db.QueryContext(ctx,
		r.rebind(`SELECT created_at, text_length FROM tts_messages WHERE user_id = ?`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly characters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var createdAt time.Time
		var length int
		if err := rows.Scan(&createdAt, &length); err != nil {
			return nil, fmt.Errorf("failed to scan monthly characters: %w", err)
		}
		if !createdAt.Before(since) {
			bucket(createdAt).Characters += length
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	usage := make([]model.MonthlyUsage, 0, len(months))
	for _, m := range months {
		usage = append(usage, *m)
	}
	sort.Slice(usage, func(i, j int) bool { return usage[i].Month < usage[j].Month })
	return usage, nil
}

func (r *sqlRepository) createdTimes(ctx context.Context, query string, userID uuid.UUID) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}
