package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCommaList(t *testing.T) {
	assert.Equal(t, []string{"dentist", "plumber"}, splitCommaList("dentist, plumber"))
	assert.Equal(t, []string{"dentist"}, splitCommaList("dentist"))
	assert.Nil(t, splitCommaList(""))
	assert.Nil(t, splitCommaList("   ,  ,"))
}
