package logger

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPrefixesEntries(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, Verbose: true, UTC: true})
	l.Print("hello")

	assert.Contains(t, buf.String(), "[RepDay] hello")
	assert.NotZero(t, l.Flags()&log.Lshortfile)
	assert.NotZero(t, l.Flags()&log.LUTC)
}

func TestNewDefaults(t *testing.T) {
	l := New(Config{})
	assert.Zero(t, l.Flags()&log.Lshortfile)
}
