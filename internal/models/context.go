package models

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// SegmentKind identifies which collector owns a context segment.
type SegmentKind string

const (
	SegmentMarket SegmentKind = "market"
	SegmentNews   SegmentKind = "news"
	SegmentWallet SegmentKind = "wallet"
)

// Context segment ceilings. Segments are summarized down rather than
// grown unbounded; MaxSegmentBytes bounds any single segment's content
// and MaxSegments bounds the rolling thought trail.
const (
	MaxSegmentBytes = 4096
	MaxSegments     = 12
)

// ContextSegment is one slice of an asset's rolling working memory.
type ContextSegment struct {
	Kind        SegmentKind `json:"kind"`
	Content     string      `json:"content"`
	RefreshedAt time.Time   `json:"refreshed_at"`
}

// Context is the rolling per-asset working memory fed into prompt
// construction. It is a value type: processing steps take a Context in
// and hand an updated one back, and only the sequential loop persists
// it, so no locking is needed around mutation.
type Context struct {
	AssetID    string           `json:"asset_id"`
	Segments   []ContextSegment `json:"segments"`
	EventCount int              `json:"event_count"`
	UpdatedAt  time.Time        `json:"updated_at"`

	// LastEventID is the event whose thought was last folded in. On
	// redelivery it tells the loop whether the saved context already
	// reflects the event's thought or still needs the fold.
	LastEventID string `json:"last_event_id,omitempty"`
}

// EmptyContext returns a fresh context for an asset with no history.
func EmptyContext(assetID string) Context {
	return Context{AssetID: assetID}
}

// SegmentIndex returns the position of the segment with the given kind,
// or -1 when absent.
func (c Context) SegmentIndex(kind SegmentKind) int {
	for i, seg := range c.Segments {
		if seg.Kind == kind {
			return i
		}
	}
	return -1
}

// SetSegment replaces (or appends) the segment for a collector-owned
// kind with freshly pulled content.
func (c Context) SetSegment(kind SegmentKind, content string, refreshedAt time.Time) Context {
	seg := ContextSegment{Kind: kind, Content: truncateSegment(content), RefreshedAt: refreshedAt}
	if i := c.SegmentIndex(kind); i >= 0 {
		c.Segments = append([]ContextSegment{}, c.Segments...)
		c.Segments[i] = seg
		return c
	}
	c.Segments = append(append([]ContextSegment{}, c.Segments...), seg)
	return c
}

// AppendThought folds a generated thought back into the rolling memory.
// The thought lands in the segment owned by the event's kind; older
// content in that segment is kept as a truncated digest so a segment
// never exceeds MaxSegmentBytes.
func (c Context) AppendThought(kind EventKind, thought string, now time.Time) Context {
	segKind := kind.SegmentKind()
	digest := thought
	if len(digest) > 400 {
		digest = headRunes(digest, 400) + "..."
	}
	entry := fmt.Sprintf("[%s] %s", kind, digest)

	content := entry
	if i := c.SegmentIndex(segKind); i >= 0 && c.Segments[i].Content != "" {
		content = c.Segments[i].Content + "\n" + entry
	}

	c = c.SetSegment(segKind, content, now)
	c.EventCount++
	c.UpdatedAt = now

	if len(c.Segments) > MaxSegments {
		c.Segments = append([]ContextSegment{}, c.Segments[len(c.Segments)-MaxSegments:]...)
	}
	return c
}

// truncateSegment keeps the tail of oversized content. The newest lines
// live at the end, so the tail is the part worth keeping.
func truncateSegment(content string) string {
	return tailRunes(content, MaxSegmentBytes)
}

// headRunes cuts s to at most n bytes without splitting a rune.
func headRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// tailRunes keeps at most the last n bytes of s without splitting a rune.
func tailRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
