package theme

import (
	"bytes"
	"testing"

	"beacon/internal/auth"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestBannerPlain(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	var buf bytes.Buffer
	PrintBanner(&buf)
	assert.Contains(t, buf.String(), "BEACON")
	assert.NotContains(t, buf.String(), "\x1b[")
	assert.Equal(t, auth.Authenticated.String(), State(auth.Authenticated))
}
