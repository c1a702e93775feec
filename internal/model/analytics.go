package model

// UsageStats summarizes a user's speech history
type UsageStats struct {
	TotalMeetings    int `json:"total_meetings"`
	TotalTTSMessages int `json:"total_tts_messages"`
	TotalCharacters  int `json:"total_characters"`
}

// VoiceUsage counts messages per voice
type VoiceUsage struct {
	Voice string `json:"voice"`
	Count int    `json:"count"`
}

// DailyActivity counts messages per day of week ("Sun" .. "Sat", UTC)
type DailyActivity struct {
	Day      string `json:"day"`
	Messages int    `json:"messages"`
}

// MonthlyUsage holds per-month totals, Month formatted as YYYY-MM
type MonthlyUsage struct {
	Month      string `json:"month"`
	Meetings   int    `json:"meetings"`
	Characters int    `json:"characters"`
}
