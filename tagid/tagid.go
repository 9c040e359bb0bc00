// Package tagid produces short, stable fingerprints of Twitch identifiers.
// The fingerprints are embedded in outbound posts (as hashtags and correlation
// tags) so later events can find content belonging to the same broadcaster or
// stream session. The recipe is fixed forever: tags already published in old
// posts must remain findable by any future version of the bot.
package tagid

import (
	"crypto/md5" //nolint:gosec // G401: addressing only, never authentication
	"encoding/hex"
)

// Category prefixes. Two characters, prepended verbatim to the digest.
const (
	PrefixUser   = "tu" // broadcaster / user identifiers
	PrefixStream = "tw" // stream session identifiers
)

// Hash returns prefix + first 8 hex characters of md5(id). Collisions are
// tolerated: the worst case is a missed dedup check or a redundant
// subscription attempt.
func Hash(prefix, id string) string {
	sum := md5.Sum([]byte(id)) //nolint:gosec
	return prefix + hex.EncodeToString(sum[:])[:8]
}

// UserTag fingerprints a broadcaster/user id.
func UserTag(id string) string { return Hash(PrefixUser, id) }

// StreamTag fingerprints a stream session id.
func StreamTag(id string) string { return Hash(PrefixStream, id) }
