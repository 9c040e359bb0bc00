package correlate

import (
	"strings"
	"testing"
	"time"
)

const (
	userTag   = "tu4a97d930"
	streamTag = "tw492449fa"
)

func msgAt(minutes int, content string) Message {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	return Message{
		ID:       time.Duration(minutes).String(),
		Content:  content,
		PostedAt: base.Add(time.Duration(minutes) * time.Minute),
	}
}

func TestTagRendering(t *testing.T) {
	if got := Tag(userTag); got != "||[tu4a97d930]||\n" {
		t.Errorf("Tag = %q", got)
	}
	if got := SessionTag(userTag, streamTag); got != "||[tu4a97d930:tw492449fa]||\n" {
		t.Errorf("SessionTag = %q", got)
	}
}

func TestFindTargetLastMatchWins(t *testing.T) {
	tag := Tag(userTag)
	msgs := []Message{
		msgAt(0, "**A** is live\n"+tag+"\nhttps://twitch.tv/a"),
		msgAt(10, "**A** is live again\n"+tag+"\nhttps://twitch.tv/a"),
		msgAt(20, "**A** is live a third time\n"+tag+"\nhttps://twitch.tv/a"),
	}
	if got := FindTarget(msgs, tag, " viewers raided out to "); got != 2 {
		t.Errorf("FindTarget = %d, want 2 (the most recent qualifying message)", got)
	}
}

func TestFindTargetSkipsAlreadyPatched(t *testing.T) {
	tag := Tag(userTag)
	match := " viewers raided out to "
	msgs := []Message{
		msgAt(0, "**A** is live\n"+tag+"\nhttps://twitch.tv/a"),
		msgAt(10, "**A** is live\n*12"+match+"https://twitch.tv/b *\n"+tag+"\nhttps://twitch.tv/a"),
	}
	if got := FindTarget(msgs, tag, match); got != 0 {
		t.Errorf("FindTarget = %d, want 0 (newer message already patched)", got)
	}
}

func TestFindTargetOffsetZero(t *testing.T) {
	// Tag at the very start of the content is a legitimate match.
	tag := Tag(userTag)
	msgs := []Message{msgAt(0, tag + "https://twitch.tv/a")}
	if got := FindTarget(msgs, tag, "ended"); got != 0 {
		t.Errorf("FindTarget = %d, want 0 (offset zero is valid)", got)
	}
}

func TestFindTargetNoQualifier(t *testing.T) {
	tag := Tag(userTag)
	msgs := []Message{
		msgAt(0, "unrelated chatter"),
		msgAt(5, "**A** is live\n"+Tag("tuffffffff")+"\nhttps://twitch.tv/a"),
	}
	if got := FindTarget(msgs, tag, "ended"); got != -1 {
		t.Errorf("FindTarget = %d, want -1", got)
	}
	if got := FindTarget(nil, tag, "ended"); got != -1 {
		t.Errorf("FindTarget(nil) = %d, want -1", got)
	}
}

func TestPatchKeepTag(t *testing.T) {
	tag := Tag(userTag)
	content := "**A** is now doing **Music** on Twitch:\njam session\n" + tag + "\nhttps://twitch.tv/a"
	addition := "*Stream has ended.*"

	got := Patch(content, tag, addition, false)
	wantPrefix := "**A** is now doing **Music** on Twitch:\njam session\n" + addition + "\n" + tag
	if !strings.HasPrefix(got, wantPrefix) {
		t.Errorf("Patch = %q, want prefix %q", got, wantPrefix)
	}
	if !strings.Contains(got, tag) {
		t.Error("tag must remain present with removeTag=false")
	}
}

func TestPatchRemoveTag(t *testing.T) {
	tag := Tag(userTag)
	before := "**A** is now doing **Music** on Twitch:\njam session\n"
	after := "\nhttps://twitch.tv/a"
	addition := "*12 viewers raided out to https://twitch.tv/b *"

	got := Patch(before+tag+after, tag, addition, true)
	want := before + addition + "\n" + after
	if got != want {
		t.Errorf("Patch = %q, want %q", got, want)
	}
	if strings.Contains(got, tag) {
		t.Error("tag must be consumed with removeTag=true")
	}
}

func TestPatchTagAtStart(t *testing.T) {
	tag := Tag(userTag)
	got := Patch(tag+"rest", tag, "addition", true)
	if got != "addition\nrest" {
		t.Errorf("Patch = %q, want %q", got, "addition\nrest")
	}
}

func TestPatchMissingTag(t *testing.T) {
	content := "no tag here"
	if got := Patch(content, Tag(userTag), "addition", false); got != content {
		t.Errorf("Patch without tag = %q, want unchanged content", got)
	}
}

func TestPatchThenFindTarget(t *testing.T) {
	// After an ended-marker patch (tag kept), the message still matches the
	// tag but is skipped once its own addition becomes the match text.
	tag := Tag(userTag)
	content := "**A** is live\n" + tag + "\nhttps://twitch.tv/a"
	patched := Patch(content, tag, "*Stream has ended.*", false)

	msgs := []Message{msgAt(0, patched)}
	if got := FindTarget(msgs, tag, "Stream has ended"); got != -1 {
		t.Errorf("FindTarget = %d, want -1 (already patched)", got)
	}
	// A different match text still qualifies it.
	if got := FindTarget(msgs, tag, " viewers raided out to "); got != 0 {
		t.Errorf("FindTarget = %d, want 0", got)
	}
}
