package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"omoide-backend/internal/metrics"
	"omoide-backend/internal/models"
	"omoide-backend/internal/result"
)

const (
	maxCaptionRunes    = 50
	captionMaxTokens   = 120
	captionTemperature = 0.8
	captionConcurrency = 4

	// MaxCaptionBatch caps the analysis elements of one caption request.
	MaxCaptionBatch = 10
)

const captionSystemPrompt = `あなたは子どもの成長記録アルバムに添えるコメントを書くアシスタントです。
写真の解析結果をもとに、親の目線で温かく短いコメントを日本語で1つだけ書いてください。
50文字以内で、絵文字や引用符は使わないでください。`

// TextGenerator produces text from a chat model
type TextGenerator interface {
	Configured() bool
	Complete(ctx context.Context, system, prompt string, maxTokens int, temperature float32) (string, error)
}

// CaptionGenerator turns photo analysis payloads into captions
type CaptionGenerator struct {
	text TextGenerator
}

// NewCaptionGenerator creates a caption generator
func NewCaptionGenerator(text TextGenerator) *CaptionGenerator {
	return &CaptionGenerator{text: text}
}

// GenerateCaptions returns one caption per analysis element. Without a usable
// credential it returns dummy captions; when the model fails it degrades to
// the rule-based generator.
func (g *CaptionGenerator) GenerateCaptions(ctx context.Context, analysis []map[string]any) result.Result[[]string] {
	if !g.text.Configured() {
		return result.Success(dummyCaptions(len(analysis)), result.SourceDummy)
	}

	captions := make([]string, len(analysis))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(captionConcurrency)
	for i, data := range analysis {
		eg.Go(func() error {
			payload, err := json.Marshal(data)
			if err != nil {
				return fmt.Errorf("encode analysis %d: %w", i, err)
			}
			reply, err := g.text.Complete(egCtx, captionSystemPrompt,
				"写真の解析結果: "+string(payload), captionMaxTokens, captionTemperature)
			if err != nil {
				return fmt.Errorf("caption %d: %w", i, err)
			}
			caption := cleanCaption(reply)
			if caption == "" {
				return fmt.Errorf("caption %d: empty reply", i)
			}
			captions[i] = caption
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		log.Warn().Err(err).Msg("AI caption generation failed, using rule-based captions")
		return result.Degraded(RuleBasedCaptions(analysis), result.SourceFree, err.Error())
	}
	return result.Success(captions, result.SourceOpenAI)
}

func dummyCaptions(n int) []string {
	captions := make([]string, n)
	for i := range captions {
		captions[i] = fmt.Sprintf("ダミーコメント%d: すてきな表情が写っていますね。", i+1)
	}
	return captions
}

// cleanCaption trims whitespace and quotes from a model reply and caps its length
func cleanCaption(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'「」『』")
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > maxCaptionRunes {
		runes = runes[:maxCaptionRunes]
	}
	return string(runes)
}

var (
	captionAdjectives = []string{"かわいい", "すてきな", "元気いっぱいの", "やさしい", "キラキラの", "のびのびとした"}
	captionNouns      = []string{"笑顔", "表情", "ひととき", "まなざし", "しぐさ", "一瞬"}
	captionClosings   = []string{"ですね！", "に癒されます。", "が心に残ります。", "をいつまでも大切に。", "にほっこりします。", "が輝いています。"}

	sceneNouns = []string{"思い出", "風景", "一日", "おでかけ"}

	emotionAdjectives = map[string][]string{
		"joy":      {"満面の", "はじけるような", "うれしそうな", "にこにこの"},
		"surprise": {"びっくりした", "目をまるくした", "おどろいた"},
		"sorrow":   {"ちょっぴりしょんぼりした", "さみしそうな", "しんみりした"},
		"anger":    {"ぷんぷんの", "ふくれっつらの", "ごきげんななめの"},
	}
)

// emotionOrder fixes which tag wins when several are present
var emotionOrder = []string{"joy", "surprise", "sorrow", "anger"}

// RuleBasedCaptions composes deterministic captions from fixed vocabulary.
// Detected emotion tags switch the adjective pool; photos without a face use
// scene nouns.
func RuleBasedCaptions(analysis []map[string]any) []string {
	captions := make([]string, len(analysis))
	for i, data := range analysis {
		adjectives := captionAdjectives
		nouns := captionNouns
		if emotion, ok := dominantEmotion(data); ok {
			adjectives = emotionAdjectives[emotion]
		}
		if detected, ok := data["faceDetected"].(bool); ok && !detected {
			nouns = sceneNouns
		}
		captions[i] = adjectives[i%len(adjectives)] +
			nouns[(i+1)%len(nouns)] +
			captionClosings[(i+2)%len(captionClosings)]
	}
	return captions
}

func dominantEmotion(data map[string]any) (string, bool) {
	raw, ok := data["emotions"].([]any)
	if !ok {
		if s, ok := data["emotions"].([]string); ok {
			raw = make([]any, len(s))
			for i, v := range s {
				raw[i] = v
			}
		}
	}
	present := make(map[string]bool, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			present[s] = true
		}
	}
	for _, e := range emotionOrder {
		if present[e] {
			return e, true
		}
	}
	return "", false
}

// CommentGenerationResult is the outcome of GenerateCommentsForPhotos
type CommentGenerationResult struct {
	Success  bool                   `json:"success"`
	Comments []models.GrowthComment `json:"comments"`
	Source   result.Source          `json:"source,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// CommentService runs the caption pipeline behind the usage tracker
type CommentService struct {
	captions *CaptionGenerator
	usage    *UsageRegistry
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewCommentService creates a comment service
func NewCommentService(captions *CaptionGenerator, usage *UsageRegistry, m *metrics.Metrics) *CommentService {
	return &CommentService{captions: captions, usage: usage, metrics: m, now: time.Now}
}

// GenerateCaptions runs the caption step alone, for callers that only need text
func (s *CommentService) GenerateCaptions(ctx context.Context, analysis []map[string]any) result.Result[[]string] {
	res := s.captions.GenerateCaptions(ctx, analysis)
	s.metrics.Generations.WithLabelValues("captions", string(res.Source)).Inc()
	return res
}

// GenerateCommentsForPhotos checks the user's quota, generates one caption per
// analysis element and tags each with the photo at the same position, or
// photo-{i} when photos is shorter. Batches larger than MaxCaptionBatch are
// rejected before the quota check. It never returns an error: failures are
// reported in the result.
func (s *CommentService) GenerateCommentsForPhotos(ctx context.Context, userID string, photos []models.Photo, analysis []map[string]any) CommentGenerationResult {
	if len(analysis) > MaxCaptionBatch {
		return CommentGenerationResult{
			Success:  false,
			Comments: []models.GrowthComment{},
			Error:    fmt.Sprintf("一度にコメントを作成できる写真は%d枚までです", MaxCaptionBatch),
		}
	}

	tracker := s.usage.For(userID)
	if decision := tracker.CanMakeRequest(); !decision.Allowed {
		s.metrics.QuotaRejections.Inc()
		log.Info().Str("user_id", userID).Msg("Comment generation rejected by usage limit")
		return CommentGenerationResult{Success: false, Comments: []models.GrowthComment{}, Error: decision.Reason}
	}

	res := s.GenerateCaptions(ctx, analysis)
	if !res.OK() {
		return CommentGenerationResult{Success: false, Comments: []models.GrowthComment{}, Error: res.Reason}
	}
	tracker.RecordRequest()

	now := s.now()
	comments := make([]models.GrowthComment, len(res.Value))
	for i, text := range res.Value {
		photoID := fmt.Sprintf("photo-%d", i)
		if i < len(photos) {
			photoID = photos[i].ID
		}
		comments[i] = models.GrowthComment{
			ID:          uuid.New().String(),
			PhotoID:     photoID,
			Content:     text,
			GeneratedAt: now,
		}
	}

	log.Info().
		Str("user_id", userID).
		Str("source", string(res.Source)).
		Int("count", len(comments)).
		Msg("Comments generated")

	return CommentGenerationResult{Success: true, Comments: comments, Source: res.Source}
}

// UpdateComment returns a copy of comments with the matching entry's content
// replaced and marked edited. The first edit keeps the generated text in
// OriginalContent; later edits leave it untouched.
func UpdateComment(comments []models.GrowthComment, id, content string) []models.GrowthComment {
	out := make([]models.GrowthComment, len(comments))
	copy(out, comments)
	for i := range out {
		if out[i].ID != id {
			continue
		}
		if out[i].OriginalContent == nil {
			original := out[i].Content
			out[i].OriginalContent = &original
		}
		out[i].Content = content
		out[i].IsEdited = true
	}
	return out
}

// RemoveComment returns a copy of comments without the entry with the given id
func RemoveComment(comments []models.GrowthComment, id string) []models.GrowthComment {
	out := make([]models.GrowthComment, 0, len(comments))
	for _, c := range comments {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}
