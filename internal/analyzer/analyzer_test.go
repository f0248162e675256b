package analyzer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekigaharaEI/archon/internal/types"
)

func TestTranscriptAnalyzer_EmptyMessages(t *testing.T) {
	a := NewTranscriptAnalyzer(types.DefaultCriteriaConfig())
	result := a.AnalyzeMessages(nil)
	assert.Equal(t, "unknown", result.Status)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "no_data", result.Issues[0].Type)
}

func TestTranscriptAnalyzer_ToolErrorMarksStatusError(t *testing.T) {
	a := NewTranscriptAnalyzer(types.DefaultCriteriaConfig())
	messages := []types.TranscriptRecord{
		{Role: "assistant", Content: "running step 1", Timestamp: time.Now().UTC().Format(time.RFC3339)},
		{Role: "tool_result", Content: "permission denied", IsError: true, Timestamp: time.Now().UTC().Format(time.RFC3339)},
	}
	result := a.AnalyzeMessages(messages)
	assert.Equal(t, "error", result.Status)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "tool_error", result.Issues[0].Type)
}

func TestTranscriptAnalyzer_IdleThresholds(t *testing.T) {
	criteria := types.DefaultCriteriaConfig()

	stuck := []types.TranscriptRecord{
		{Role: "assistant", Content: "working", Timestamp: time.Now().Add(-90 * time.Minute).Format(time.RFC3339)},
	}
	result := NewTranscriptAnalyzer(criteria).AnalyzeMessages(stuck)
	assert.Equal(t, "stuck", result.Status)

	idle := []types.TranscriptRecord{
		{Role: "assistant", Content: "working", Timestamp: time.Now().Add(-20 * time.Minute).Format(time.RFC3339)},
	}
	result = NewTranscriptAnalyzer(criteria).AnalyzeMessages(idle)
	assert.Equal(t, "idle", result.Status)

	running := []types.TranscriptRecord{
		{Role: "assistant", Content: "working", Timestamp: time.Now().Add(-1 * time.Minute).Format(time.RFC3339)},
	}
	result = NewTranscriptAnalyzer(criteria).AnalyzeMessages(running)
	assert.Equal(t, "running", result.Status)
}

func TestTranscriptAnalyzer_CompletionKeywordOverridesStatus(t *testing.T) {
	criteria := types.CriteriaConfig{CompletionKeywords: []string{"ALL DONE"}}
	messages := []types.TranscriptRecord{
		{Role: "assistant", Content: "working on it", Timestamp: time.Now().Format(time.RFC3339)},
		{Role: "assistant", Content: "ALL DONE", Timestamp: time.Now().Format(time.RFC3339)},
	}
	result := NewTranscriptAnalyzer(criteria).AnalyzeMessages(messages)
	assert.Equal(t, "completed", result.Status)
}

func TestTranscriptAnalyzer_SuccessIndicatorsDriveFullProgress(t *testing.T) {
	criteria := types.CriteriaConfig{SuccessIndicators: []string{"tests passed"}}
	messages := []types.TranscriptRecord{
		{Role: "assistant", Content: "tests passed", Timestamp: time.Now().Format(time.RFC3339)},
	}
	result := NewTranscriptAnalyzer(criteria).AnalyzeMessages(messages)
	assert.Equal(t, 100, result.Progress)
	require.Len(t, result.Findings, 1)
}

func TestCronResultAnalyzer_JSONOutput(t *testing.T) {
	a := NewCronResultAnalyzer(types.DefaultNotificationRules())
	result := a.AnalyzeOutput(`{"status":"error","summary":"build failed"}`)
	assert.Equal(t, "error", result.Status)
	assert.Equal(t, "build failed", result.Summary)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "status_error", result.Issues[0].Type)
}

func TestCronResultAnalyzer_TextFallback(t *testing.T) {
	a := NewCronResultAnalyzer(types.DefaultNotificationRules())

	result := a.AnalyzeOutput("Step 3 failed with an Error")
	assert.Equal(t, "error", result.Status)

	result = a.AnalyzeOutput("completed with a minor warning")
	assert.Equal(t, "warning", result.Status)

	result = a.AnalyzeOutput("all good here")
	assert.Equal(t, "success", result.Status)
}

func TestCronResultAnalyzer_ShouldNotify(t *testing.T) {
	rules := types.DefaultNotificationRules()
	a := NewCronResultAnalyzer(rules)

	assert.True(t, a.ShouldNotify(types.AnalysisResult{Status: "error"}))
	assert.True(t, a.ShouldNotify(types.AnalysisResult{Status: "warning"}))
	assert.False(t, a.ShouldNotify(types.AnalysisResult{Status: "success"}))

	rules.EnableClaudeAnalysis = false
	a = NewCronResultAnalyzer(rules)
	assert.False(t, a.ShouldNotify(types.AnalysisResult{Status: "warning"}))
}

func TestReadTranscriptIncremental_MissingFile(t *testing.T) {
	result, err := ReadTranscriptIncremental(filepath.Join(t.TempDir(), "missing.jsonl"), 0)
	require.NoError(t, err)
	assert.Empty(t, result.Messages)
	assert.Zero(t, result.FileSize)
}

func TestReadTranscriptIncremental_NoGrowthReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"role":"assistant","content":"hi"}`+"\n"), 0o644))

	first, err := ReadTranscriptIncremental(path, 0)
	require.NoError(t, err)
	require.Len(t, first.Messages, 1)

	second, err := ReadTranscriptIncremental(path, first.NewOffset)
	require.NoError(t, err)
	assert.Empty(t, second.Messages)
	assert.Equal(t, first.NewOffset, second.NewOffset)
}

func TestReadTranscriptIncremental_AppendReadsOnlyNewLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"role":"user","content":"go"}`+"\n"), 0o644))

	first, err := ReadTranscriptIncremental(path, 0)
	require.NoError(t, err)
	require.Len(t, first.Messages, 1)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"role":"assistant","content":"done"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	second, err := ReadTranscriptIncremental(path, first.NewOffset)
	require.NoError(t, err)
	require.Len(t, second.Messages, 1)
	assert.Equal(t, "done", second.Messages[0].Content)
}

func TestReadTranscriptIncremental_RotationResetsToStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"role":"user","content":"one"}`+"\n"+
			`{"role":"user","content":"two"}`+"\n"+
			`{"role":"user","content":"three"}`+"\n"), 0o644))

	first, err := ReadTranscriptIncremental(path, 0)
	require.NoError(t, err)
	require.Len(t, first.Messages, 3)

	// Simulate rotation: the file is truncated to a single, fresh line.
	require.NoError(t, os.WriteFile(path, []byte(`{"role":"user","content":"fresh"}`+"\n"), 0o644))

	rotated, err := ReadTranscriptIncremental(path, first.NewOffset)
	require.NoError(t, err)
	require.Empty(t, rotated.Messages)
	require.Equal(t, int64(0), rotated.NewOffset)

	next, err := ReadTranscriptIncremental(path, rotated.NewOffset)
	require.NoError(t, err)
	require.Len(t, next.Messages, 1)
	assert.Equal(t, "fresh", next.Messages[0].Content)
}
