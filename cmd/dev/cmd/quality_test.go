package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSmokeRuns(t *testing.T) {
	assert.Equal(t, [][]string{
		{"--adapter", "sim", "scan"},
		{"--adapter", "sim", "temperature"},
		{"--adapter", "sim", "gpio", "status"},
	}, smokeRuns("sim"))
	assert.Equal(t, [][]string{{"--adapter", "generic", "scan"}}, smokeRuns("generic"))
	assert.NotNil(t, SmokeCmd().Flags().Lookup("adapter"))
}
