package tools

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultJoinBaseURL = "https://zoom.example"

// Fixtures 描述模拟工具使用的静态数据。
type Fixtures struct {
	Calendar CalendarFixture `yaml:"calendar"`
	Safety   SafetyFixture   `yaml:"safety"`
	Video    VideoFixture    `yaml:"video"`
}

// CalendarFixture 描述忙碌时段与日期映射。
type CalendarFixture struct {
	Busy               []Slot            `yaml:"busy"`
	DayMap             map[string]string `yaml:"day_map"`
	DefaultDay         string            `yaml:"default_day"`
	WindowStart        string            `yaml:"window_start"`
	WindowEnd          string            `yaml:"window_end"`
	GranularityMinutes int               `yaml:"granularity_minutes"`
	MaxSlots           int               `yaml:"max_slots"`
}

// SafetyFixture 描述消息安全策略。
type SafetyFixture struct {
	UnsafePhrases []string `yaml:"unsafe_phrases"`
}

// VideoFixture 描述视频会议参数。
type VideoFixture struct {
	JoinBaseURL string `yaml:"join_base_url"`
}

// DefaultFixtures 返回内置的演示数据。
func DefaultFixtures() Fixtures {
	return Fixtures{
		Calendar: CalendarFixture{
			Busy: []Slot{
				{Start: "2025-10-21T09:00", End: "2025-10-21T09:30"},
				{Start: "2025-10-22T13:00", End: "2025-10-22T14:00"},
			},
			DayMap: map[string]string{
				"tue":      "2025-10-21",
				"tues":     "2025-10-21",
				"tuesday":  "2025-10-21",
				"thu":      "2025-10-23",
				"thur":     "2025-10-23",
				"thurs":    "2025-10-23",
				"thursday": "2025-10-23",
			},
		}.withDefaults(),
		Video: VideoFixture{JoinBaseURL: defaultJoinBaseURL},
	}
}

// LoadFixtures 读取 YAML 夹具文件，未填写的字段使用内置默认值。
func LoadFixtures(path string) (Fixtures, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultFixtures(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("读取工具夹具失败: %w", err)
	}
	var fx Fixtures
	if err := yaml.Unmarshal(content, &fx); err != nil {
		return Fixtures{}, fmt.Errorf("解析工具夹具失败: %w", err)
	}

	defaults := DefaultFixtures()
	if fx.Calendar.Busy == nil {
		fx.Calendar.Busy = defaults.Calendar.Busy
	}
	if len(fx.Calendar.DayMap) == 0 {
		fx.Calendar.DayMap = defaults.Calendar.DayMap
	}
	fx.Calendar = fx.Calendar.withDefaults()
	if fx.Video.JoinBaseURL == "" {
		fx.Video.JoinBaseURL = defaults.Video.JoinBaseURL
	}
	return fx, nil
}

func (c CalendarFixture) withDefaults() CalendarFixture {
	if c.DefaultDay == "" {
		c.DefaultDay = "2025-10-21"
	}
	if c.WindowStart == "" {
		c.WindowStart = "08:00"
	}
	if c.WindowEnd == "" {
		c.WindowEnd = "18:00"
	}
	if c.GranularityMinutes <= 0 {
		c.GranularityMinutes = 30
	}
	if c.MaxSlots <= 0 {
		c.MaxSlots = 3
	}
	return c
}
