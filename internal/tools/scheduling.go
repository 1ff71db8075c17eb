package tools

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SchedulingRequest 是从任务文本中解析出的排期参数。
type SchedulingRequest struct {
	Attendee    string `json:"attendee"`
	DurationMin int    `json:"duration_min"`
	DayHint     string `json:"day_hint"`
}

const (
	defaultAttendee    = "Alex"
	defaultDurationMin = 30
	defaultDayHint     = "Tuesday"
)

var (
	durationPattern = regexp.MustCompile(`(?i)\b(\d{1,3})\s*-?\s*(?:min|mins|minute|minutes)\b`)
	hourPattern     = regexp.MustCompile(`(?i)\b(?:an|one|1)\s*-?\s*hour\b`)
	attendeePattern = regexp.MustCompile(`\bwith\s+([A-Z][a-zA-Z]+)`)
	weekdays        = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
)

// notAttendees 是 "with X" 中不代表人名的词：能力名、规划关键词与星期。
var notAttendees = map[string]bool{
	"zoom": true, "video": true, "meet": true, "meeting": true, "sync": true, "call": true,
	"calendar": true, "email": true, "mail": true, "slack": true, "team": true,
	"finance": true, "expense": true, "expenses": true, "report": true, "receipt": true, "receipts": true,
	"policy": true, "handbook": true, "guideline": true, "guidelines": true,
	"schedule": true, "slot": true, "book": true, "invite": true, "approval": true,
}

func attendeeFrom(task string) (string, bool) {
	for _, m := range attendeePattern.FindAllStringSubmatch(task, -1) {
		name := strings.ToLower(m[1])
		if notAttendees[name] || isWeekday(name) {
			continue
		}
		return m[1], true
	}
	return "", false
}

func isWeekday(word string) bool {
	for _, day := range weekdays {
		if word == day {
			return true
		}
	}
	return false
}

// ParseSchedulingRequest 从任务文本中提取参会人、时长与日期提示，缺失时使用默认值。
func ParseSchedulingRequest(task string) SchedulingRequest {
	req := SchedulingRequest{
		Attendee:    defaultAttendee,
		DurationMin: defaultDurationMin,
		DayHint:     defaultDayHint,
	}

	if m := durationPattern.FindStringSubmatch(task); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			req.DurationMin = n
		}
	} else if hourPattern.MatchString(task) {
		req.DurationMin = 60
	}

	if name, ok := attendeeFrom(task); ok {
		req.Attendee = name
	}

	lowered := strings.ToLower(task)
	for _, day := range weekdays {
		if strings.Contains(lowered, day) {
			req.DayHint = strings.ToUpper(day[:1]) + day[1:]
			break
		}
	}
	return req
}

// MeetingProposal 根据排期参数与候选时段生成待审批邮件内容。
func MeetingProposal(req SchedulingRequest, slots []Slot) Draft {
	var body strings.Builder
	fmt.Fprintf(&body, "Hi %s,\n\nCould we do a %d-minute sync next %s? Suggested times attached.", req.Attendee, req.DurationMin, req.DayHint)
	if len(slots) > 0 {
		body.WriteString("\n")
		for _, s := range slots {
			fmt.Fprintf(&body, "\n- %s to %s", s.Start, s.End)
		}
	}
	body.WriteString("\n\nThanks,\nEA Agent")
	return Draft{
		To:      strings.ToLower(req.Attendee) + "@example.com",
		Subject: "Meeting proposal",
		Body:    body.String(),
	}
}
