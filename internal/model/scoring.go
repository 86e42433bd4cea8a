package model

import (
	"math"
	"strings"

	"beacon/internal/util"
)

// SpamPhrases mark promotional posts that are never worth answering.
var SpamPhrases = []string{"giveaway", "win big", "click here", "promo", "ref code", "airdrop claim", "dm for collab"}

// OrganicScore estimates in [0,1] how organic a post looks. Links, bait
// engagement ratios and promotional phrases pull it down.
func OrganicScore(t Tweet) float64 {
	score := 0.5
	if !t.HasLink {
		score += 0.2
	}
	total := t.LikeCount + t.ReplyCount + t.RetweetCount + t.QuoteCount
	if total == 0 {
		score += 0.05
	} else {
		ratio := float64(t.ReplyCount+t.QuoteCount) / float64(total)
		if ratio >= 0.15 && ratio <= 0.55 {
			score += 0.15
		}
	}
	if util.ContainsAnyCaseInsensitive(t.Text, SpamPhrases) {
		score -= 0.25
	}
	if strings.Count(t.Text, "@") > 5 {
		score -= 0.2
	}
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*100) / 100
}

// DropSpam keeps the posts scoring at least min, preserving order.
func DropSpam(tweets []Tweet, min float64) []Tweet {
	if min <= 0 {
		return tweets
	}
	out := make([]Tweet, 0, len(tweets))
	for _, t := range tweets {
		if OrganicScore(t) >= min {
			out = append(out, t)
		}
	}
	return out
}
