package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelsAndOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	SetLevel("warn")
	defer SetLevel("info")

	Infof("[test] hidden %d", 1)
	Warnf("[test] shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[test] shown 2")

	buf.Reset()
	SetLevel("bogus")
	Infof("[test] back to info")
	assert.Contains(t, buf.String(), "back to info")

	buf.Reset()
	SetJSON(true)
	defer SetJSON(false)
	With(map[string]any{"request_id": "abc"}).Info("hello")
	assert.Contains(t, buf.String(), `"request_id":"abc"`)
}
