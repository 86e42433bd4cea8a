package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeID(t *testing.T) {
	cases := map[string]string{
		"123":                                  "123",
		"tweetId:123":                          "123",
		"tweetId: 123":                         "123",
		"userId = 77":                          "77",
		"@someone":                             "someone",
		"username:@someone":                    "someone",
		`"456"`:                                "456",
		"https://x.com/agent/status/1789":      "1789",
		"https://twitter.com/a/statuses/42?s=1": "42",
		"":                                     "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeID(in), in)
	}
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"actions":[]}`, StripCodeFences("```json\n{\"actions\":[]}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences(`  {"a":1} `))
}

func TestTruncateAndHelpers(t *testing.T) {
	assert.Equal(t, "héllo", Truncate("héllo", 5))
	assert.Equal(t, "hé…", Truncate("héllo", 3))
	assert.True(t, IsNumeric("0123"))
	assert.False(t, IsNumeric("12a"))
	assert.False(t, IsNumeric(""))
	assert.Equal(t, "a b c", NormalizeWhitespace("  a\n\tb   c "))
	assert.True(t, ContainsAnyCaseInsensitive("Bitcoin ETF news", []string{"etf"}))
	assert.False(t, ContainsAnyCaseInsensitive("x", []string{""}))
}
