// Package errlog keeps a bounded in-memory log of upstream errors for
// the debug endpoints. The newest entries win; all-time counts survive
// ring eviction.
package errlog

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultMaxErrors is the ring capacity when none is given.
	DefaultMaxErrors = 100

	// maxMessageLen bounds stored messages so a huge upstream body
	// cannot bloat the log.
	maxMessageLen = 200

	defaultRecentLimit = 50
)

// Entry is one recorded error.
type Entry struct {
	Timestamp    float64 `json:"timestamp"`
	AccountIndex int64   `json:"account_index"`
	AccountName  string  `json:"account_name"`
	ErrorType    string  `json:"error_type"`
	ErrorCode    *int    `json:"error_code"`
	Message      string  `json:"message"`
	Source       string  `json:"source"`
}

// RecentEntry is an Entry decorated for display.
type RecentEntry struct {
	Entry
	AgeSeconds float64 `json:"age_seconds"`
	TimeStr    string  `json:"time_str"`
}

// Summary aggregates the ring for the error summary endpoint.
type Summary struct {
	TotalErrors         int            `json:"total_errors"`
	ErrorsLast1Min      int            `json:"errors_last_1min"`
	ErrorsLast5Min      int            `json:"errors_last_5min"`
	ErrorCountsAllTime  map[string]int `json:"error_counts_all_time"`
	ErrorsByAccount5Min map[int64]int  `json:"errors_by_account_5min"`
	ErrorsByType5Min    map[string]int `json:"errors_by_type_5min"`
	UptimeSeconds       float64        `json:"uptime_seconds"`
}

// Log is a fixed-capacity error ring with all-time counters, safe for
// concurrent use.
type Log struct {
	mu      sync.Mutex
	ring    []Entry
	head    int // oldest entry
	count   int
	counts  map[string]int // "source:type" -> total
	started time.Time
}

// New returns a Log holding at most maxErrors entries.
func New(maxErrors int) *Log {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	return &Log{
		ring:    make([]Entry, maxErrors),
		counts:  make(map[string]int),
		started: time.Now(),
	}
}

// Add records an error, evicting the oldest entry when full. The
// message is truncated to 200 characters. code may be nil when the
// error has no HTTP status.
func (l *Log) Add(accountIndex int64, accountName, errorType, message, source string, code *int) {
	if len(message) > maxMessageLen {
		message = message[:maxMessageLen]
	}
	e := Entry{
		Timestamp:    unixNow(),
		AccountIndex: accountIndex,
		AccountName:  accountName,
		ErrorType:    errorType,
		ErrorCode:    code,
		Message:      message,
		Source:       source,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count < len(l.ring) {
		l.ring[(l.head+l.count)%len(l.ring)] = e
		l.count++
	} else {
		l.ring[l.head] = e
		l.head = (l.head + 1) % len(l.ring)
	}
	l.counts[source+":"+errorType]++
}

// Recent returns up to limit entries, newest first, optionally
// filtered by source ("rest", "websocket"). limit <= 0 means 50.
func (l *Log) Recent(limit int, source string) []RecentEntry {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	l.mu.Lock()
	entries := make([]Entry, 0, l.count)
	for i := 0; i < l.count; i++ {
		e := l.ring[(l.head+i)%len(l.ring)]
		if source != "" && e.Source != source {
			continue
		}
		entries = append(entries, e)
	}
	l.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	now := unixNow()
	out := make([]RecentEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, RecentEntry{
			Entry:      e,
			AgeSeconds: round1(now - e.Timestamp),
			TimeStr:    time.Unix(int64(e.Timestamp), 0).Format("15:04:05"),
		})
	}
	return out
}

// Summary reports totals plus 1-minute and 5-minute windows.
func (l *Log) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := unixNow()
	counts := make(map[string]int, len(l.counts))
	for k, v := range l.counts {
		counts[k] = v
	}

	byAccount := make(map[int64]int)
	byType := make(map[string]int)
	var last1, last5 int
	for i := 0; i < l.count; i++ {
		e := l.ring[(l.head+i)%len(l.ring)]
		age := now - e.Timestamp
		if age < 300 {
			last5++
			byAccount[e.AccountIndex]++
			byType[e.ErrorType]++
		}
		if age < 60 {
			last1++
		}
	}

	return Summary{
		TotalErrors:         l.count,
		ErrorsLast1Min:      last1,
		ErrorsLast5Min:      last5,
		ErrorCountsAllTime:  counts,
		ErrorsByAccount5Min: byAccount,
		ErrorsByType5Min:    byType,
		UptimeSeconds:       round1(time.Since(l.started).Seconds()),
	}
}

// Clear drops all entries and counters. Uptime keeps running.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head = 0
	l.count = 0
	l.counts = make(map[string]int)
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
