package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SlotLayout 是日历时间的统一格式。
const SlotLayout = "2006-01-02T15:04"

// MockCalendar 基于夹具数据模拟日历。
type MockCalendar struct {
	busy        []Slot
	dayMap      map[string]string
	defaultDay  string
	windowStart string
	windowEnd   string
	step        time.Duration
	maxSlots    int
}

// NewMockCalendar 使用夹具创建日历。
func NewMockCalendar(fx CalendarFixture) *MockCalendar {
	fx = fx.withDefaults()
	dayMap := make(map[string]string, len(fx.DayMap))
	for k, v := range fx.DayMap {
		dayMap[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &MockCalendar{
		busy:        append([]Slot(nil), fx.Busy...),
		dayMap:      dayMap,
		defaultDay:  fx.DefaultDay,
		windowStart: fx.WindowStart,
		windowEnd:   fx.WindowEnd,
		step:        time.Duration(fx.GranularityMinutes) * time.Minute,
		maxSlots:    fx.MaxSlots,
	}
}

// ListBusy 返回用户的忙碌时段。
func (c *MockCalendar) ListBusy(ctx context.Context, _ string) ([]Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]Slot(nil), c.busy...), nil
}

// ProposeSlots 在工作时间窗口内按粒度扫描，返回不与忙碌时段重叠的候选时段。
func (c *MockCalendar) ProposeSlots(ctx context.Context, _ string, durationMin int, dayHint string) ([]Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if durationMin <= 0 {
		return nil, fmt.Errorf("会议时长必须为正数: %d", durationMin)
	}

	day, ok := c.dayMap[strings.ToLower(strings.TrimSpace(dayHint))]
	if !ok {
		day = c.defaultDay
	}
	start, err := time.Parse(SlotLayout, day+"T"+c.windowStart)
	if err != nil {
		return nil, fmt.Errorf("解析窗口开始时间失败: %w", err)
	}
	end, err := time.Parse(SlotLayout, day+"T"+c.windowEnd)
	if err != nil {
		return nil, fmt.Errorf("解析窗口结束时间失败: %w", err)
	}
	busy, err := c.busyOn(day)
	if err != nil {
		return nil, err
	}

	duration := time.Duration(durationMin) * time.Minute
	slots := make([]Slot, 0, c.maxSlots)
	for t := start; len(slots) < c.maxSlots && t.Before(end); t = t.Add(c.step) {
		slotEnd := t.Add(duration)
		if slotEnd.After(end) {
			break
		}
		if overlapsAny(t, slotEnd, busy) {
			continue
		}
		slots = append(slots, Slot{Start: t.Format(SlotLayout), End: slotEnd.Format(SlotLayout)})
	}
	return slots, nil
}

type interval struct {
	start time.Time
	end   time.Time
}

func (c *MockCalendar) busyOn(day string) ([]interval, error) {
	out := make([]interval, 0, len(c.busy))
	for _, b := range c.busy {
		if !strings.HasPrefix(b.Start, day) {
			continue
		}
		s, err := time.Parse(SlotLayout, b.Start)
		if err != nil {
			return nil, fmt.Errorf("解析忙碌时段失败: %w", err)
		}
		e, err := time.Parse(SlotLayout, b.End)
		if err != nil {
			return nil, fmt.Errorf("解析忙碌时段失败: %w", err)
		}
		out = append(out, interval{start: s, end: e})
	}
	return out, nil
}

func overlapsAny(start, end time.Time, busy []interval) bool {
	for _, b := range busy {
		if start.Before(b.end) && b.start.Before(end) {
			return true
		}
	}
	return false
}

var _ Calendar = (*MockCalendar)(nil)
