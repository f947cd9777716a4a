package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"omoide-backend/internal/ai"
	"omoide-backend/internal/apperr"
	"omoide-backend/internal/metrics"
	"omoide-backend/internal/models"
)

const audioContentType = "audio/mpeg"

// SpeechSynthesizer turns text into mp3 audio
type SpeechSynthesizer interface {
	Configured() bool
	Speak(ctx context.Context, text string, opts ai.SpeechOptions) ([]byte, error)
}

// AudioRequest is a narration request for free text or one storybook page
type AudioRequest struct {
	Text        string            `json:"text" validate:"required"`
	PageID      string            `json:"pageId,omitempty"`
	StorybookID string            `json:"storybookId,omitempty"`
	Options     *ai.SpeechOptions `json:"options,omitempty"`
}

// AudioResult is the stored narration
type AudioResult struct {
	AudioURL string `json:"audioUrl"`
	FileName string `json:"fileName"`
}

// NarrationService synthesizes narration and stores it in object storage
type NarrationService struct {
	speech  SpeechSynthesizer
	objects ObjectStore
	books   StorybookStore
	metrics *metrics.Metrics
}

// NewNarrationService creates a narration service
func NewNarrationService(speech SpeechSynthesizer, objects ObjectStore, books StorybookStore, m *metrics.Metrics) *NarrationService {
	return &NarrationService{speech: speech, objects: objects, books: books, metrics: m}
}

// GenerateAudio narrates req.Text. When both StorybookID and PageID are set
// the page's audio URL is saved on the storybook.
func (s *NarrationService) GenerateAudio(ctx context.Context, userID string, req AudioRequest) (*AudioResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperr.Validation("text is required").WithUserMessage("読み上げるテキストを入力してください")
	}
	if !s.speech.Configured() {
		return nil, apperr.Internal("speech synthesis is not configured").
			WithUserMessage("音声生成サービスが利用できません")
	}

	var book *models.Storybook
	pageIndex := -1
	if req.StorybookID != "" && req.PageID != "" {
		var err error
		book, err = s.books.GetByID(ctx, req.StorybookID)
		if err != nil {
			return nil, err
		}
		if book.UserID != userID {
			return nil, apperr.NotFoundf("storybook %s not found", req.StorybookID)
		}
		for i, p := range book.Pages {
			if p.ID == req.PageID {
				pageIndex = i
				break
			}
		}
		if pageIndex < 0 {
			return nil, apperr.NotFoundf("page %s not found", req.PageID)
		}
	}

	var opts ai.SpeechOptions
	if req.Options != nil {
		opts = *req.Options
	}
	audio, err := s.speech.Speak(ctx, req.Text, opts)
	if err != nil {
		s.metrics.Generations.WithLabelValues("audio", "error").Inc()
		return nil, apperr.Wrap(err, apperr.CodeUpstream, "speech synthesis failed").
			WithUserMessage("音声の生成に失敗しました。しばらくしてから再度お試しください")
	}
	s.metrics.Generations.WithLabelValues("audio", "openai").Inc()

	fileName := fmt.Sprintf("narration-%s.mp3", uuid.New().String())
	url, err := s.objects.Put(ctx, fmt.Sprintf("audio/%s/%s", userID, fileName), audioContentType, audio)
	if err != nil {
		return nil, fmt.Errorf("failed to store narration: %w", err)
	}

	if book != nil {
		pages := make([]models.StorybookPage, len(book.Pages))
		copy(pages, book.Pages)
		pages[pageIndex].AudioURL = url
		if err := s.books.UpdatePages(ctx, book.ID, pages); err != nil {
			return nil, fmt.Errorf("failed to save page audio: %w", err)
		}
	}

	log.Info().Str("user_id", userID).Str("file_name", fileName).Msg("Narration generated")
	return &AudioResult{AudioURL: url, FileName: fileName}, nil
}

// NarratePages adds narration to each page. A page whose narration fails is
// returned without audio.
func (s *NarrationService) NarratePages(ctx context.Context, keyPrefix string, pages []models.StorybookPage) []models.StorybookPage {
	out := make([]models.StorybookPage, len(pages))
	copy(out, pages)
	if !s.speech.Configured() {
		return out
	}

	for i := range out {
		audio, err := s.speech.Speak(ctx, out[i].Text, ai.SpeechOptions{})
		if err != nil {
			log.Warn().Err(err).Int("page", out[i].PageNumber).Msg("Page narration failed")
			continue
		}
		url, err := s.objects.Put(ctx, fmt.Sprintf("%s/page-%d.mp3", keyPrefix, out[i].PageNumber), audioContentType, audio)
		if err != nil {
			log.Warn().Err(err).Int("page", out[i].PageNumber).Msg("Failed to store page narration")
			continue
		}
		out[i].AudioURL = url
	}
	return out
}
