package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLogLevelsMatchLogrusNames(t *testing.T) {
	for name, level := range logLevels {
		parsed, err := logrus.ParseLevel(name)
		assert.NoError(t, err)
		assert.Equal(t, level, parsed)
	}
	assert.Contains(t, logLevels, "info", "the default LOG_LEVEL must resolve")
}
