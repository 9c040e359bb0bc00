// Package correlate implements the find-then-patch protocol for chat
// messages. A message posted for a live stream embeds a correlation tag in
// its own text; later events (stream ended, raided out) locate that message
// by scanning recent history for the tag and splice an addition into it. No
// side store maps messages to stream sessions — the tag is the only link, so
// if history ages out of the search window, correlation silently stops.
package correlate

import (
	"strings"
	"time"
)

// Message is one candidate chat message. Callers supply candidates in
// chronological (oldest-first) order.
type Message struct {
	ID       string
	Content  string
	PostedAt time.Time
}

// Tag renders the correlation marker for a broadcaster fingerprint, e.g.
// "||[tu4a97d930]||\n". The trailing newline is part of the marker: patches
// splice cleanly around whole lines.
func Tag(userTag string) string {
	return "||[" + userTag + "]||\n"
}

// SessionTag renders the composite marker binding a broadcaster to one
// stream session, e.g. "||[tu4a97d930:tw492449fa]||\n".
func SessionTag(userTag, streamTag string) string {
	return "||[" + userTag + ":" + streamTag + "]||\n"
}

// FindTarget scans msgs (which must be chronological) and returns the index
// of the message to patch, or -1 if none qualifies. A message qualifies when
// it contains tag — an offset of zero counts — and does not already contain
// matchText. The last qualifying message wins: duplicate live posts can
// exist, and only the newest session should be patched. The scan is
// order-sensitive and must not be parallelized.
func FindTarget(msgs []Message, tag, matchText string) int {
	target := -1
	for i, msg := range msgs {
		if !strings.Contains(msg.Content, tag) {
			continue
		}
		if matchText != "" && strings.Contains(msg.Content, matchText) {
			// Already patched.
			continue
		}
		target = i
	}
	return target
}

// Patch splices addition into content at the tag's offset, producing
// before + addition + "\n" + after. With removeTag the tag is consumed —
// future scans for it stop matching this message; otherwise the tag stays in
// the after part and remains patchable. Content without the tag is returned
// unchanged.
func Patch(content, tag, addition string, removeTag bool) string {
	pos := strings.Index(content, tag)
	if pos < 0 {
		return content
	}
	before := content[:pos]
	after := content[pos:]
	if removeTag {
		after = content[pos+len(tag):]
	}
	return before + addition + "\n" + after
}
