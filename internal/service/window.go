package service

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const dateFormat = "2006-01-02"

var (
	// ErrInvalidWakeTime 唤醒时间不是 HH:MM
	ErrInvalidWakeTime = errors.New("invalid wake time")
	// ErrInvalidTimezone 时区不是合法的 IANA 标识
	ErrInvalidTimezone = errors.New("invalid timezone")
	// ErrInvalidLocalDate 日期不是 YYYY-MM-DD
	ErrInvalidLocalDate = errors.New("invalid local date")
)

// WakeTime 是本地墙上时间的时:分。
type WakeTime struct {
	Hour   int
	Minute int
}

func (w WakeTime) String() string {
	return fmt.Sprintf("%02d:%02d", w.Hour, w.Minute)
}

// Window 为某个本地日期的打卡窗口，均为 UTC 时刻。
type Window struct {
	LocalDate string
	Start     time.Time
	End       time.Time
}

// Contains 判断 t 是否落在 [Start, End] 闭区间内。
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// ParseWakeTime 解析 HH:MM（24 小时制）。
func ParseWakeTime(raw string) (WakeTime, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return WakeTime{}, fmt.Errorf("%w: %q", ErrInvalidWakeTime, raw)
	}
	return WakeTime{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// MustParseWakeTime 用于常量，格式错误直接 panic。
func MustParseWakeTime(raw string) WakeTime {
	w, err := ParseWakeTime(raw)
	if err != nil {
		panic(err)
	}
	return w
}

// LoadTimezone 加载 IANA 时区，空串视为非法。
func LoadTimezone(name string) (*time.Location, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, ErrInvalidTimezone
	}
	loc, err := time.LoadLocation(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}

// ParseLocalDate 校验 YYYY-MM-DD 并返回规范化后的字符串。
func ParseLocalDate(raw string) (string, error) {
	parsed, err := time.Parse(dateFormat, strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocalDate, raw)
	}
	return parsed.Format(dateFormat), nil
}

// LocalDateOf 返回 now 在 loc 时区下的日历日期。
func LocalDateOf(now time.Time, loc *time.Location) string {
	return now.In(loc).Format(dateFormat)
}

// NextLocalDate 返回 localDate 的下一天。
func NextLocalDate(localDate string) string {
	parsed, err := time.Parse(dateFormat, localDate)
	if err != nil {
		return localDate
	}
	return parsed.AddDate(0, 0, 1).Format(dateFormat)
}

// ComputeWindow 计算某个本地日期的打卡窗口：
// End 为该日期本地唤醒时间对应的 UTC 时刻，Start = End - grace。
// 唤醒时间落在夏令时跳变的空档时，由 time.Date 按 Go 的规则归一化。
// localDate 必须已通过 ParseLocalDate 校验，否则 panic。
func ComputeWindow(loc *time.Location, localDate string, wake WakeTime, graceMinutes int) Window {
	day, err := time.Parse(dateFormat, localDate)
	if err != nil {
		panic(fmt.Sprintf("compute window: %v", err))
	}
	if graceMinutes < 0 {
		graceMinutes = 0
	}

	end := time.Date(day.Year(), day.Month(), day.Day(), wake.Hour, wake.Minute, 0, 0, loc)
	start := end.Add(-time.Duration(graceMinutes) * time.Minute)

	return Window{
		LocalDate: localDate,
		Start:     start.UTC(),
		End:       end.UTC(),
	}
}
