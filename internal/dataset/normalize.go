package dataset

import (
	"regexp"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

var (
	// Noise reduction regex
	noiseRegex = regexp.MustCompile(`(?i)\((official video|official audio|official music video|audio|video|lyrics|lyric video|HD|Remastered|Remaster(ed)?( \d{4})?)\)|\[(official video|official audio|audio|video|lyrics|HD|Remastered|Remaster(ed)?)\]`)
	featRegex  = regexp.MustCompile(`(?i)\s*[(\[]?\b(feat|ft)\.?\s[^)\]]*[)\]]?`)
	spaceRegex = regexp.MustCompile(`\s{2,}`)
	splitRegex = regexp.MustCompile(`\s+[-|–—:]\s+`)
	dashRegex  = regexp.MustCompile(`(?i)\s+-\s+(\d{4}\s+)?(remaster(ed)?|live|radio edit|mono|stereo).*$`)
)

// CleanTitle strips video noise, featured-artist credits and remaster
// suffixes so "Song (feat. X) - 2011 Remaster" compares as "Song".
func CleanTitle(title string) string {
	t := noiseRegex.ReplaceAllString(title, "")
	t = dashRegex.ReplaceAllString(t, "")
	t = featRegex.ReplaceAllString(t, "")
	t = spaceRegex.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// SplitVideoTitle splits "Artist - Title" video titles. When there is no
// separator the uploader is taken as the artist.
func SplitVideoTitle(rawTitle, uploader string) (artist, title string) {
	t := CleanTitle(rawTitle)
	parts := splitRegex.Split(t, 2)
	if len(parts) == 2 {
		left, right := parts[0], parts[1]
		if looksLikeArtist(left, right) {
			return left, right
		}
		return right, left
	}
	return strings.TrimSuffix(uploader, " - Topic"), t
}

// looksLikeArtist: left contains commas/ft or is short while right is longer
func looksLikeArtist(left, right string) bool {
	leftLower := strings.ToLower(left)
	if strings.Contains(left, ",") || strings.Contains(leftLower, "ft.") || strings.Contains(leftLower, "feat.") {
		return true
	}
	return len(strings.Fields(left)) <= 4 && len(strings.Fields(right)) >= 2
}

// Similarity is the Jaro-Winkler similarity of two "artist title" strings
// after cleaning and lower-casing.
func Similarity(artistA, titleA, artistB, titleB string) float64 {
	a := strings.ToLower(artistA + " " + CleanTitle(titleA))
	b := strings.ToLower(artistB + " " + CleanTitle(titleB))
	return strutil.Similarity(a, b, metrics.NewJaroWinkler())
}
