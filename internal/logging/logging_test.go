package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/ae-safety-server/internal/domain"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger(&domain.LoggingConfig{Level: "debug", Format: "json"})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestNewLogger_TextFormat(t *testing.T) {
	logger := NewLogger(&domain.LoggingConfig{Level: "warn", Format: "text"})
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestNewLogger_InvalidLevelFallsBack(t *testing.T) {
	logger := NewLogger(&domain.LoggingConfig{Level: "verbose"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
