package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPromptText(t *testing.T) {
	assert.Equal(t, "retry? [Y/n]:", promptText("retry?", yesNoConstraints))
	assert.Equal(t, "name", promptText("name", nil))
}

func TestMatch(t *testing.T) {
	assert.Equal(t, Yes, match("", yesNoConstraints))
	assert.Equal(t, No, match(" N ", yesNoConstraints))
	assert.Equal(t, No, match("maybe", noYesConstraints))
	assert.Equal(t, "free text", match("free text", nil))
}
