package domain

import (
	"errors"
	"sort"
	"time"
)

// PlanLookahead bounds how far a weekly plan may extend past its first session.
const PlanLookahead = 180 * 24 * time.Hour

// WeeklyPlan describes a recurring training schedule: sessions on the given
// ISO weekdays (1=Monday .. 7=Sunday) every Interval weeks, at the wall-clock
// time of Start in TimeZone.
type WeeklyPlan struct {
	Start    time.Time
	Duration time.Duration
	Weekdays []int16
	Interval int
	Count    int
	Until    *time.Time
	TimeZone string
}

// Occurrences expands the plan into session windows ordered by start time.
func (p WeeklyPlan) Occurrences() ([]Window, error) {
	if p.Duration <= 0 {
		return nil, errors.New("invalid duration")
	}
	if p.Count < 0 {
		return nil, errors.New("count must be at least 1")
	}
	if p.Count == 0 && p.Until == nil {
		return nil, errors.New("until or count is required")
	}

	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return nil, errors.New("invalid time_zone")
	}

	weekdays, err := normalizeWeekdays(p.Weekdays, p.Start.In(loc))
	if err != nil {
		return nil, err
	}

	interval := p.Interval
	if interval < 1 {
		interval = 1
	}

	startUTC := p.Start.UTC()
	limit := startUTC.Add(PlanLookahead)
	if p.Until != nil {
		until := p.Until.UTC()
		if until.Before(startUTC) {
			return nil, errors.New("until must be after start_time")
		}
		if until.After(limit) {
			return nil, errors.New("until must be within 180 days of start_time")
		}
		limit = until
	}

	startLocal := p.Start.In(loc)
	firstMonday := mondayOf(startLocal)

	out := make([]Window, 0, 16)
	for week := 0; ; week++ {
		monday := firstMonday.AddDate(0, 0, week*interval*7)
		if monday.After(limit.In(loc)) {
			break
		}
		for _, wd := range weekdays {
			day := monday.AddDate(0, 0, int(wd)-1)
			occ := time.Date(day.Year(), day.Month(), day.Day(),
				startLocal.Hour(), startLocal.Minute(), startLocal.Second(), startLocal.Nanosecond(), loc).UTC()
			if occ.Before(startUTC) {
				continue
			}
			if occ.After(limit) {
				return finishPlan(out, p.Count)
			}
			out = append(out, Window{Start: occ, End: occ.Add(p.Duration)})
			if p.Count > 0 && len(out) == p.Count {
				return out, nil
			}
		}
	}
	return finishPlan(out, p.Count)
}

func finishPlan(out []Window, count int) ([]Window, error) {
	if len(out) == 0 {
		return nil, errors.New("plan produces no sessions")
	}
	if count > 0 && len(out) < count {
		return nil, errors.New("count exceeds sessions available within 180 days of start_time")
	}
	return out, nil
}

func normalizeWeekdays(in []int16, start time.Time) ([]int16, error) {
	if len(in) == 0 {
		wd := start.Weekday()
		if wd == time.Sunday {
			return []int16{7}, nil
		}
		return []int16{int16(wd)}, nil
	}

	seen := make(map[int16]struct{}, len(in))
	out := make([]int16, 0, len(in))
	for _, wd := range in {
		if wd < 1 || wd > 7 {
			return nil, errors.New("invalid weekday")
		}
		if _, ok := seen[wd]; ok {
			continue
		}
		seen[wd] = struct{}{}
		out = append(out, wd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// mondayOf returns local midnight of the Monday starting t's ISO week.
func mondayOf(t time.Time) time.Time {
	offset := int(t.Weekday()) - 1
	if t.Weekday() == time.Sunday {
		offset = 6
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return d.AddDate(0, 0, -offset)
}
