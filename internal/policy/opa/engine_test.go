package opa

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/johnivansn/timelock/internal/policy"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schedulePriorityPolicy = `package timelock.decision

import rego.v1

default reason := "none"

reason := "schedule" if input.schedule

reason := "quota" if {
	input.quota
	not input.schedule
}
`

func writePolicy(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestDefaultPolicyMatchesBuiltin(t *testing.T) {
	engine, err := NewEngine("", zerolog.Nop())
	require.NoError(t, err)

	tests := []struct {
		quota, schedule, date bool
		want                  policy.Reason
	}{
		{false, false, false, policy.ReasonNone},
		{true, false, false, policy.ReasonQuota},
		{false, true, false, policy.ReasonSchedule},
		{false, false, true, policy.ReasonDate},
		{true, true, false, policy.ReasonCombined},
		{true, false, true, policy.ReasonCombined},
		{false, true, true, policy.ReasonCombined},
		{true, true, true, policy.ReasonCombined},
	}

	for _, tt := range tests {
		res := policy.Result{Package: "com.example.game", Quota: tt.quota, Schedule: tt.schedule, Date: tt.date}
		got, err := engine.Combine(context.Background(), res)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "quota=%v schedule=%v date=%v", tt.quota, tt.schedule, tt.date)
	}
}

func TestEngine_LoadsPolicyDir(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "decision.rego", schedulePriorityPolicy)
	writePolicy(t, dir, "notes.txt", "ignored")

	engine, err := NewEngine(dir, zerolog.Nop())
	require.NoError(t, err)

	got, err := engine.Combine(context.Background(), policy.Result{Quota: true, Schedule: true})
	require.NoError(t, err)
	assert.Equal(t, policy.ReasonSchedule, got)
}

func TestNewEngine_Errors(t *testing.T) {
	_, err := NewEngine(t.TempDir(), zerolog.Nop())
	assert.ErrorContains(t, err, "no policy files")

	dir := t.TempDir()
	writePolicy(t, dir, "broken.rego", "package timelock.decision\n\nreason := \n")
	_, err = NewEngine(dir, zerolog.Nop())
	assert.ErrorContains(t, err, "broken.rego")
}

func TestEngine_UndefinedDecision(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "other.rego", "package timelock.other\n\nimport rego.v1\n\nanswer := 42\n")

	engine, err := NewEngine(dir, zerolog.Nop())
	require.NoError(t, err)

	_, err = engine.Combine(context.Background(), policy.Result{Quota: true})
	assert.ErrorContains(t, err, DecisionQuery)
}

func TestEngine_UnknownReason(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "decision.rego", "package timelock.decision\n\nimport rego.v1\n\nreason := \"bedtime\"\n")

	engine, err := NewEngine(dir, zerolog.Nop())
	require.NoError(t, err)

	_, err = engine.Combine(context.Background(), policy.Result{Quota: true})
	assert.ErrorContains(t, err, "invalid reason")
}

func TestEngine_Reload(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "decision.rego", defaultPolicy)

	engine, err := NewEngine(dir, zerolog.Nop())
	require.NoError(t, err)

	both := policy.Result{Quota: true, Schedule: true}
	got, err := engine.Combine(context.Background(), both)
	require.NoError(t, err)
	assert.Equal(t, policy.ReasonCombined, got)

	writePolicy(t, dir, "decision.rego", schedulePriorityPolicy)
	require.NoError(t, engine.Reload())
	got, err = engine.Combine(context.Background(), both)
	require.NoError(t, err)
	assert.Equal(t, policy.ReasonSchedule, got)

	// A broken edit keeps the last good policy
	writePolicy(t, dir, "decision.rego", "package timelock.decision\n\nreason := \n")
	assert.Error(t, engine.Reload())
	got, err = engine.Combine(context.Background(), both)
	require.NoError(t, err)
	assert.Equal(t, policy.ReasonSchedule, got)
}
