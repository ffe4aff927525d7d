package team

import (
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// DefaultRelevance is how many prior log entries a role may see per call.
const DefaultRelevance = 5

// Message is one append-only log entry. Seq is the insertion index and the
// tie-break for relevance ordering.
type Message struct {
	ID      string
	Seq     int
	Author  string
	Tags    []string
	Content string
}

// MessageLog is the shared history the roles communicate through. Entries
// are never mutated or removed; roles read through RelevantTo, which bounds
// what any single call can see.
type MessageLog struct {
	mu     sync.Mutex
	msgs   []Message
	window int
}

func NewMessageLog() *MessageLog {
	return &MessageLog{}
}

// SetWindow bounds how far back RelevantTo scans. Entries older than the
// window are kept (the log is append-only) but never scored. Zero means
// unbounded.
func (l *MessageLog) SetWindow(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.window = n
}

func (l *MessageLog) Append(author, content string, tags ...string) Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := Message{
		ID:      ulid.Make().String(),
		Seq:     len(l.msgs),
		Author:  author,
		Tags:    tags,
		Content: content,
	}
	l.msgs = append(l.msgs, m)
	return m
}

func (l *MessageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

// RelevantTo returns at most n prior entries scored by tag overlap with the
// role plus keyword substring hits, in chronological order. Ties score-wise
// resolve to earlier insertion, which keeps the slice deterministic for a
// given log state.
func (l *MessageLog) RelevantTo(role Role, keywords []string, n int) []Message {
	if n <= 0 {
		n = DefaultRelevance
	}
	l.mu.Lock()
	src := l.msgs
	if l.window > 0 && len(src) > l.window {
		src = src[len(src)-l.window:]
	}
	snapshot := make([]Message, len(src))
	copy(snapshot, src)
	l.mu.Unlock()

	type scored struct {
		msg   Message
		score int
	}
	var candidates []scored
	for _, m := range snapshot {
		s := relevanceScore(m, role, keywords)
		if s > 0 {
			candidates = append(candidates, scored{m, s})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].msg.Seq < candidates[j].msg.Seq
	})
	out := make([]Message, len(candidates))
	for i, c := range candidates {
		out[i] = c.msg
	}
	return out
}

func relevanceScore(m Message, role Role, keywords []string) int {
	score := 0
	for _, t := range m.Tags {
		for _, rt := range role.Tags {
			if t == rt {
				score += 2
			}
		}
	}
	lower := strings.ToLower(m.Content)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, kw) {
			score++
		}
	}
	return score
}

// Keywords extracts the lowercase terms used for substring relevance. Short
// words carry no signal and are dropped; the list is capped so one verbose
// task description cannot dominate scoring.
func Keywords(text string) []string {
	const maxKeywords = 8
	seen := map[string]bool{}
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if len(w) <= 3 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}
