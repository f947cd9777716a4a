package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omoide-backend/internal/metrics"
	"omoide-backend/internal/models"
	"omoide-backend/internal/result"
)

// stubText is a scripted TextGenerator.
type stubText struct {
	configured bool
	reply      func(prompt string) (string, error)
	calls      atomic.Int32
}

func (s *stubText) Configured() bool { return s.configured }

func (s *stubText) Complete(_ context.Context, _, prompt string, _ int, _ float32) (string, error) {
	s.calls.Add(1)
	return s.reply(prompt)
}

func newCommentService(text TextGenerator, limits UsageLimits) *CommentService {
	return NewCommentService(NewCaptionGenerator(text), NewUsageRegistry(limits, nil), metrics.New())
}

func TestGenerateCaptionsDummyWithoutCredential(t *testing.T) {
	text := &stubText{}
	res := NewCaptionGenerator(text).GenerateCaptions(context.Background(), []map[string]any{{"faceDetected": true}})

	assert.Equal(t, result.KindSuccess, res.Kind)
	assert.Equal(t, result.SourceDummy, res.Source)
	require.Len(t, res.Value, 1)
	assert.Contains(t, res.Value[0], "ダミーコメント1")
	assert.Zero(t, text.calls.Load())
}

func TestGenerateCaptionsOpenAI(t *testing.T) {
	text := &stubText{configured: true, reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, `"index":1`) {
			return "「二枚目も" + strings.Repeat("いい", 40) + "」", nil
		}
		return "  元気な笑顔ですね  ", nil
	}}

	res := NewCaptionGenerator(text).GenerateCaptions(context.Background(), []map[string]any{
		{"index": 0}, {"index": 1},
	})

	assert.Equal(t, result.KindSuccess, res.Kind)
	assert.Equal(t, result.SourceOpenAI, res.Source)
	require.Len(t, res.Value, 2)
	assert.Equal(t, "元気な笑顔ですね", res.Value[0])
	assert.True(t, strings.HasPrefix(res.Value[1], "二枚目も"))
	assert.Equal(t, maxCaptionRunes, utf8.RuneCountInString(res.Value[1]))
	assert.EqualValues(t, 2, text.calls.Load())
}

// gaugeText tracks how many Complete calls run at once.
type gaugeText struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (g *gaugeText) Configured() bool { return true }

func (g *gaugeText) Complete(ctx context.Context, _, _ string, _ int, _ float32) (string, error) {
	g.calls.Add(1)
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-time.After(10 * time.Millisecond):
	case <-ctx.Done():
	}
	return "ok", nil
}

func TestGenerateCaptionsBoundsConcurrency(t *testing.T) {
	text := &gaugeText{}
	analysis := make([]map[string]any, MaxCaptionBatch)
	for i := range analysis {
		analysis[i] = map[string]any{"index": i}
	}

	res := NewCaptionGenerator(text).GenerateCaptions(context.Background(), analysis)

	assert.Equal(t, result.KindSuccess, res.Kind)
	assert.Len(t, res.Value, MaxCaptionBatch)
	assert.EqualValues(t, MaxCaptionBatch, text.calls.Load())
	assert.LessOrEqual(t, text.peak.Load(), int32(captionConcurrency))
	assert.Positive(t, text.peak.Load())
}

func TestGenerateCommentsForPhotosRejectsOversizedBatch(t *testing.T) {
	text := &stubText{configured: true, reply: func(string) (string, error) { return "ok", nil }}
	svc := newCommentService(text, DefaultUsageLimits())

	res := svc.GenerateCommentsForPhotos(context.Background(), "user-1", nil, make([]map[string]any, MaxCaptionBatch+1))

	assert.False(t, res.Success)
	assert.Empty(t, res.Comments)
	assert.Zero(t, text.calls.Load())
	assert.Equal(t, 0, svc.usage.For("user-1").GetUsageStats().DailyCount)
}

func TestGenerateCaptionsFallsBackToRuleBased(t *testing.T) {
	text := &stubText{configured: true, reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, `"index":2`) {
			return "", errors.New("upstream 500")
		}
		return "ok", nil
	}}
	analysis := []map[string]any{{"index": 0}, {"index": 1}, {"index": 2}}

	res := NewCaptionGenerator(text).GenerateCaptions(context.Background(), analysis)

	assert.Equal(t, result.KindDegraded, res.Kind)
	assert.Equal(t, result.SourceFree, res.Source)
	assert.Contains(t, res.Reason, "upstream 500")
	assert.Equal(t, RuleBasedCaptions(analysis), res.Value)
}

func TestRuleBasedCaptionsDeterministicAndEmotionAware(t *testing.T) {
	analysis := []map[string]any{
		{"faceDetected": true, "emotions": []any{"joy"}},
		{"faceDetected": true},
		{"faceDetected": false},
	}

	first := RuleBasedCaptions(analysis)
	assert.Equal(t, first, RuleBasedCaptions(analysis))
	require.Len(t, first, 3)

	assert.True(t, strings.HasPrefix(first[0], emotionAdjectives["joy"][0]))
	assert.True(t, strings.HasPrefix(first[1], captionAdjectives[1]))
	assert.Contains(t, first[2], sceneNouns[3%len(sceneNouns)])
	for _, c := range first {
		assert.NotEmpty(t, c)
	}
}

func TestGenerateCommentsForPhotosTagsPhotoIDs(t *testing.T) {
	svc := newCommentService(&stubText{}, UsageLimits{Daily: 5, Monthly: 10})
	photos := []models.Photo{{ID: "p-1"}}

	res := svc.GenerateCommentsForPhotos(context.Background(), "user-1", photos, []map[string]any{
		{"faceDetected": true}, {"faceDetected": true},
	})

	require.True(t, res.Success)
	assert.Equal(t, result.SourceDummy, res.Source)
	require.Len(t, res.Comments, 2)
	assert.Equal(t, "p-1", res.Comments[0].PhotoID)
	assert.Equal(t, "photo-1", res.Comments[1].PhotoID)
	assert.NotEmpty(t, res.Comments[0].ID)
	assert.False(t, res.Comments[0].IsEdited)

	// one batch counts as one request
	assert.Equal(t, 1, svc.usage.For("user-1").GetUsageStats().DailyCount)
}

func TestGenerateCommentsForPhotosQuotaExhausted(t *testing.T) {
	text := &stubText{configured: true, reply: func(string) (string, error) { return "ok", nil }}
	svc := newCommentService(text, UsageLimits{Daily: 1, Monthly: 10})

	first := svc.GenerateCommentsForPhotos(context.Background(), "user-1", nil, []map[string]any{{}})
	require.True(t, first.Success)

	second := svc.GenerateCommentsForPhotos(context.Background(), "user-1", nil, []map[string]any{{}})
	assert.False(t, second.Success)
	assert.Contains(t, second.Error, "本日")
	assert.Empty(t, second.Comments)
	assert.EqualValues(t, 1, text.calls.Load())
}

func TestGenerateCommentsForPhotosDegradedStillSucceeds(t *testing.T) {
	text := &stubText{configured: true, reply: func(string) (string, error) { return "", errors.New("timeout") }}
	svc := newCommentService(text, DefaultUsageLimits())

	res := svc.GenerateCommentsForPhotos(context.Background(), "user-1", nil, []map[string]any{{}, {}})

	assert.True(t, res.Success)
	assert.Equal(t, result.SourceFree, res.Source)
	assert.Len(t, res.Comments, 2)
}

func TestUpdateComment(t *testing.T) {
	comments := []models.GrowthComment{
		{ID: "a", Content: "first"},
		{ID: "b", Content: "second"},
	}

	edited := UpdateComment(comments, "b", "edited once")
	require.Len(t, edited, 2)
	assert.Equal(t, comments[0], edited[0])
	assert.True(t, edited[1].IsEdited)
	assert.Equal(t, "edited once", edited[1].Content)
	require.NotNil(t, edited[1].OriginalContent)
	assert.Equal(t, "second", *edited[1].OriginalContent)

	// input is not modified
	assert.False(t, comments[1].IsEdited)

	twice := UpdateComment(edited, "b", "edited twice")
	assert.Equal(t, "edited twice", twice[1].Content)
	assert.Equal(t, "second", *twice[1].OriginalContent)

	assert.Equal(t, comments, UpdateComment(comments, "missing", "x"))
}

func TestRemoveComment(t *testing.T) {
	comments := []models.GrowthComment{{ID: "a"}, {ID: "b"}}

	assert.Equal(t, []models.GrowthComment{{ID: "b"}}, RemoveComment(comments, "a"))
	assert.Equal(t, comments, RemoveComment(comments, "missing"))
}
