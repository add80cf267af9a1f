package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Elapsed renders a run duration for summaries: tenths of a second under a
// minute, then whole minutes and seconds, then hours and minutes.
func Elapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		tenths := d.Truncate(100*time.Millisecond) / (100 * time.Millisecond)
		return fmt.Sprintf("%d.%ds", tenths/10, tenths%10)
	}
	d = d.Truncate(time.Second)
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", d/time.Minute, (d%time.Minute)/time.Second)
	}
	return fmt.Sprintf("%dh%02dm", d/time.Hour, (d%time.Hour)/time.Minute)
}

// ShortProfileURL drops the scheme and the www. prefix and, when the rest is
// still longer than width runes, keeps its end so the profile slug survives.
func ShortProfileURL(url string, width int) string {
	s := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	s = strings.TrimPrefix(s, "www.")
	rs := []rune(s)
	if width <= 0 || len(rs) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return "…" + string(rs[len(rs)-width+1:])
}
