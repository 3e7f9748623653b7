package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrDash(t *testing.T) {
	assert.Equal(t, "-", OrDash(""))
	assert.Equal(t, "x", OrDash("x"))
}

func TestFirstOrDash(t *testing.T) {
	assert.Equal(t, "-", FirstOrDash())
	assert.Equal(t, "-", FirstOrDash("", ""))
	assert.Equal(t, "b", FirstOrDash("", "b", "c"))
}

func TestJoinOrDash(t *testing.T) {
	assert.Equal(t, "-", JoinOrDash())
	assert.Equal(t, "a, b", JoinOrDash("a", "b"))
}

func TestFormatLocal(t *testing.T) {
	assert.Equal(t, "-", FormatLocal(time.Time{}))
	assert.NotEqual(t, "-", FormatLocal(time.Now()))
}
