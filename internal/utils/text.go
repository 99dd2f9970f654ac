package utils

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	customEmojiRegex = regexp.MustCompile(`<a?:[a-zA-Z0-9_]{2,32}:[0-9]{15,22}>`)
	// One match per displayed emoji: flag pairs, keycaps, and pictographs with
	// their variation selector, skin tone, tag sequence and ZWJ joins folded in.
	unicodeEmojiRegex = regexp.MustCompile(
		`[\x{1F1E6}-\x{1F1FF}]{2}` +
			`|[0-9#*]\x{FE0F}?\x{20E3}` +
			`|` + emojiElement + `(?:\x{200D}` + emojiElement + `)*`,
	)
	inviteRegex = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?(?:discord\.(?:gg|io|me|li)|discord(?:app)?\.com/invite)/[a-z0-9-]+`)
)

// emojiElement is one pictograph from the emoji blocks plus its modifiers.
const emojiElement = `[\x{1F000}-\x{1FAFF}\x{2600}-\x{27BF}\x{2300}-\x{23FF}\x{2B00}-\x{2BFF}\x{3030}\x{303D}\x{3297}\x{3299}]` +
	`\x{FE0F}?[\x{1F3FB}-\x{1F3FF}]?[\x{E0020}-\x{E007F}]*`

const SpoilerMarker = "||"

// FindEmojis returns custom emoji markup followed by unicode emoji found in
// content.
func FindEmojis(content string) []string {
	found := customEmojiRegex.FindAllString(content, -1)
	stripped := customEmojiRegex.ReplaceAllString(content, "")
	return append(found, unicodeEmojiRegex.FindAllString(stripped, -1)...)
}

func CountEmojis(content string) int {
	return len(FindEmojis(content))
}

func HasInvite(content string) bool {
	return inviteRegex.MatchString(content)
}

func CountUpper(content string) int {
	count := 0
	for _, r := range content {
		if unicode.IsUpper(r) {
			count++
		}
	}
	return count
}

func CountSpoilerMarkers(content string) int {
	return strings.Count(content, SpoilerMarker)
}

// HeaderWordCounts returns the word count of every markdown h1 line. The "#"
// itself counts as a word.
func HeaderWordCounts(content string) []int {
	var counts []int
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "# ") {
			counts = append(counts, len(strings.Fields(line)))
		}
	}
	return counts
}

// ParseCustomEmoji splits "<:name:id>" or "<a:name:id>" into its parts.
func ParseCustomEmoji(value string) (name, id string, animated, ok bool) {
	if !strings.HasPrefix(value, "<") || !strings.HasSuffix(value, ">") {
		return "", "", false, false
	}
	parts := strings.Split(strings.Trim(value, "<>"), ":")
	if len(parts) != 3 || parts[2] == "" {
		return "", "", false, false
	}
	return parts[1], parts[2], parts[0] == "a", true
}
