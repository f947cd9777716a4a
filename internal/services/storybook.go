package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"omoide-backend/internal/ai"
	"omoide-backend/internal/apperr"
	"omoide-backend/internal/config"
	"omoide-backend/internal/metrics"
	"omoide-backend/internal/models"
	"omoide-backend/internal/result"
)

const (
	storyMaxTokens   = 1500
	storyTemperature = 0.8
	maxStoryPages    = 6

	defaultStyle = "children-book"
	defaultMood  = "gentle"
)

const storySystemPrompt = `あなたは子ども向け絵本作家です。親が記録した1か月分の成長記録をもとに、やさしい日本語の絵本を作ってください。
次のJSONだけを出力してください。説明文は不要です。
{"title": "絵本のタイトル", "pages": [{"pageNumber": 1, "text": "本文", "illustrationPrompt": "English prompt for the illustration"}]}
ページ数は4〜6ページにしてください。`

var styleModifiers = map[string]string{
	"children-book": "children's picture book illustration, soft pastel colors, simple shapes",
	"watercolor":    "delicate watercolor painting, gentle brush strokes, paper texture",
	"cartoon":       "cute cartoon style, bold outlines, bright colors",
	"realistic":     "realistic digital painting, natural lighting, detailed",
}

var moodModifiers = map[string]string{
	"happy":    "joyful and cheerful atmosphere",
	"peaceful": "calm and peaceful atmosphere",
	"playful":  "playful and energetic atmosphere",
	"gentle":   "warm and gentle atmosphere",
}

// StoryPage is one page of a generated story, before illustration
type StoryPage struct {
	PageNumber         int    `json:"pageNumber"`
	Text               string `json:"text"`
	IllustrationPrompt string `json:"illustrationPrompt"`
}

// StoryData is the text of a storybook
type StoryData struct {
	Title string      `json:"title"`
	Pages []StoryPage `json:"pages"`
}

// StorybookOptions tune a generation run
type StorybookOptions struct {
	Style   string `json:"style,omitempty"`
	Mood    string `json:"mood,omitempty"`
	Narrate bool   `json:"narrate,omitempty"`
}

// MonthlyStorybookStatus says whether a storybook can be created for a month
type MonthlyStorybookStatus struct {
	Month              string `json:"month"`
	HasStorybook       bool   `json:"hasStorybook"`
	StorybookID        string `json:"storybookId,omitempty"`
	RecordCount        int    `json:"recordCount"`
	CommentCount       int    `json:"commentCount"`
	CanCreateStorybook bool   `json:"canCreateStorybook"`
	Message            string `json:"message"`
}

// ImageGenerator creates illustrations and fetches their bytes
type ImageGenerator interface {
	Configured() bool
	GenerateImage(ctx context.Context, prompt string) (string, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Notifier tells a user that a storybook is ready
type Notifier interface {
	NotifyStorybookReady(ctx context.Context, userID string, book *models.Storybook)
}

// StorybookDeps are the collaborators of StorybookService
type StorybookDeps struct {
	Records   RecordStore
	Books     StorybookStore
	Shares    ShareLinkStore
	Text      TextGenerator
	Images    ImageGenerator
	Narration *NarrationService
	Objects   ObjectStore
	Progress  ProgressPublisher
	Notifier  Notifier
	Metrics   *metrics.Metrics
}

// StorybookService turns a month of growth records into an illustrated storybook
type StorybookService struct {
	StorybookDeps
	limiter        *rate.Limiter
	loc            *time.Location
	placeholderURL string
	narrate        bool
	now            func() time.Time
}

// NewStorybookService creates a storybook service. Illustrations are paced
// by one shared limiter so concurrent generations respect the provider rate.
func NewStorybookService(deps StorybookDeps, cfg config.StorybookConfig) *StorybookService {
	return &StorybookService{
		StorybookDeps:  deps,
		limiter:        rate.NewLimiter(rate.Every(cfg.IllustrationInterval), 1),
		loc:            cfg.Location(),
		placeholderURL: cfg.PlaceholderImageURL,
		narrate:        cfg.Narrate,
		now:            time.Now,
	}
}

// CurrentMonth returns the current YYYY-MM month in the storybook timezone
func (s *StorybookService) CurrentMonth() string {
	return s.now().In(s.loc).Format(monthLayout)
}

// EvaluateMonthlyStatus decides from counts alone whether generation is allowed
func EvaluateMonthlyStatus(hasStorybook bool, recordCount, commentCount int) MonthlyStorybookStatus {
	status := MonthlyStorybookStatus{
		HasStorybook: hasStorybook,
		RecordCount:  recordCount,
		CommentCount: commentCount,
	}
	switch {
	case hasStorybook:
		status.Message = "この月の絵本はすでに作成されています"
	case recordCount == 0:
		status.Message = "この月の成長記録がありません。写真を追加してから絵本を作成してください"
	case commentCount == 0:
		status.Message = "この月の記録にコメントがありません。コメントを追加してから絵本を作成してください"
	default:
		status.CanCreateStorybook = true
		status.Message = "絵本を作成できます"
	}
	return status
}

// CheckMonthlyStorybookStatus reports whether userID can create a storybook
// for month. Invalid months and store failures yield a generic message.
func (s *StorybookService) CheckMonthlyStorybookStatus(ctx context.Context, userID, month string) MonthlyStorybookStatus {
	status, _, err := s.monthlyStatus(ctx, userID, month)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("month", month).Msg("Failed to check storybook status")
		return MonthlyStorybookStatus{Month: month, Message: "絵本の作成状況を確認できませんでした"}
	}
	return status
}

func (s *StorybookService) monthlyStatus(ctx context.Context, userID, month string) (MonthlyStorybookStatus, []*models.GrowthRecord, error) {
	from, to, err := monthBounds(month, s.loc)
	if err != nil {
		return MonthlyStorybookStatus{}, nil, err
	}

	existing, err := s.Books.FindByUserAndMonth(ctx, userID, month)
	if err != nil {
		return MonthlyStorybookStatus{}, nil, fmt.Errorf("failed to find storybook: %w", err)
	}

	records, err := s.Records.ListByUserBetween(ctx, userID, from, to)
	if err != nil {
		return MonthlyStorybookStatus{}, nil, fmt.Errorf("failed to list records: %w", err)
	}

	commentCount := 0
	for _, r := range records {
		commentCount += len(r.Comments)
	}

	status := EvaluateMonthlyStatus(existing != nil, len(records), commentCount)
	status.Month = month
	if existing != nil {
		status.StorybookID = existing.ID
	}
	return status, records, nil
}

// GenerateStoryFromRecords asks the text model for a story. It never fails:
// any error degrades to a fixed four-page story.
func (s *StorybookService) GenerateStoryFromRecords(ctx context.Context, records []*models.GrowthRecord) result.Result[StoryData] {
	if !s.Text.Configured() {
		return result.Degraded(fallbackStory(), result.SourceTemplate, "text model not configured")
	}

	reply, err := s.Text.Complete(ctx, storySystemPrompt, buildStoryPrompt(records, s.loc), storyMaxTokens, storyTemperature)
	if err != nil {
		log.Warn().Err(err).Msg("Story generation failed, using template story")
		return result.Degraded(fallbackStory(), result.SourceTemplate, err.Error())
	}

	story, err := parseStory(reply)
	if err != nil {
		log.Warn().Err(err).Msg("Story reply rejected, using template story")
		return result.Degraded(fallbackStory(), result.SourceTemplate, err.Error())
	}
	return result.Success(story, result.SourceOpenAI)
}

func buildStoryPrompt(records []*models.GrowthRecord, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("今月の成長記録:\n")
	for _, r := range records {
		fmt.Fprintf(&b, "\n日付: %s\n", r.CreatedAt.In(loc).Format("2006年1月2日"))
		for _, c := range r.Comments {
			fmt.Fprintf(&b, "- %s\n", c.Content)
		}
	}
	return b.String()
}

type rawStoryPage struct {
	PageNumber         *int    `json:"pageNumber"`
	Text               *string `json:"text"`
	IllustrationPrompt *string `json:"illustrationPrompt"`
}

type rawStory struct {
	Title *string        `json:"title"`
	Pages []rawStoryPage `json:"pages"`
}

// parseStory decodes and validates a model reply, tolerating code fences
func parseStory(reply string) (StoryData, error) {
	payload := ai.ExtractJSON(reply)
	if payload == "" {
		return StoryData{}, errors.New("story reply contains no JSON object")
	}

	var raw rawStory
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return StoryData{}, fmt.Errorf("decode story: %w", err)
	}

	if raw.Title == nil || strings.TrimSpace(*raw.Title) == "" {
		return StoryData{}, errors.New("story has no title")
	}
	if len(raw.Pages) == 0 {
		return StoryData{}, errors.New("story has no pages")
	}
	if len(raw.Pages) > maxStoryPages {
		raw.Pages = raw.Pages[:maxStoryPages]
	}

	story := StoryData{Title: strings.TrimSpace(*raw.Title), Pages: make([]StoryPage, len(raw.Pages))}
	for i, p := range raw.Pages {
		if p.PageNumber == nil || p.Text == nil || p.IllustrationPrompt == nil {
			return StoryData{}, fmt.Errorf("story page %d is incomplete", i+1)
		}
		story.Pages[i] = StoryPage{
			PageNumber:         *p.PageNumber,
			Text:               *p.Text,
			IllustrationPrompt: *p.IllustrationPrompt,
		}
	}
	return story, nil
}

func fallbackStory() StoryData {
	return StoryData{
		Title: "きらきら まいにち",
		Pages: []StoryPage{
			{
				PageNumber:         1,
				Text:               "あるひ、ちいさな たからものが にっこり わらいました。",
				IllustrationPrompt: "a small child smiling brightly in a sunny room",
			},
			{
				PageNumber:         2,
				Text:               "あたらしい ことに ちょうせん。どきどき わくわく、いっぽ ずつ。",
				IllustrationPrompt: "a small child trying something new with curiosity",
			},
			{
				PageNumber:         3,
				Text:               "かぞくと いっしょに すごす じかんは、いつだって ぽかぽか あたたかい。",
				IllustrationPrompt: "a warm family moment with a small child",
			},
			{
				PageNumber:         4,
				Text:               "きょうも すくすく おおきく なあれ。あしたも たのしい いちにちに なりますように。",
				IllustrationPrompt: "a small child sleeping peacefully under the stars",
			},
		},
	}
}

// EnhancePrompt appends style and mood modifiers to an illustration prompt.
// Unknown values fall back to children-book and gentle.
func EnhancePrompt(prompt, style, mood string) string {
	styleText, ok := styleModifiers[style]
	if !ok {
		styleText = styleModifiers[defaultStyle]
	}
	moodText, ok := moodModifiers[mood]
	if !ok {
		moodText = moodModifiers[defaultMood]
	}
	return fmt.Sprintf("%s, %s, %s, no text, suitable for young children", prompt, styleText, moodText)
}

// IllustrationOptions tune GenerateStorybookIllustrations
type IllustrationOptions struct {
	Style string
	Mood  string
	// KeyPrefix is the object storage prefix of the uploaded images
	KeyPrefix string
	// OnPage is called after each page with its 1-based number
	OnPage func(page, total int)
}

// GenerateStorybookIllustrations illustrates pages one at a time. Each image
// is copied into object storage; a page whose illustration fails gets the
// placeholder image and the loop continues.
func (s *StorybookService) GenerateStorybookIllustrations(ctx context.Context, pages []StoryPage, opts IllustrationOptions) []models.StorybookPage {
	out := make([]models.StorybookPage, len(pages))
	for i, p := range pages {
		page := models.StorybookPage{
			ID:         uuid.New().String(),
			Text:       p.Text,
			PageNumber: i + 1,
		}

		url, err := s.illustrate(ctx, p.IllustrationPrompt, opts, page.PageNumber)
		if err != nil {
			log.Warn().Err(err).Int("page", page.PageNumber).Msg("Illustration failed, using placeholder")
			s.Metrics.Illustrations.WithLabelValues("placeholder").Inc()
			url = s.placeholderURL
		} else {
			s.Metrics.Illustrations.WithLabelValues("generated").Inc()
		}
		page.IllustrationURL = url
		out[i] = page

		if opts.OnPage != nil {
			opts.OnPage(page.PageNumber, len(pages))
		}
	}
	return out
}

func (s *StorybookService) illustrate(ctx context.Context, prompt string, opts IllustrationOptions, pageNumber int) (string, error) {
	if !s.Images.Configured() {
		return "", errors.New("image model not configured")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for image slot: %w", err)
	}

	generatedURL, err := s.Images.GenerateImage(ctx, EnhancePrompt(prompt, opts.Style, opts.Mood))
	if err != nil {
		return "", err
	}

	data, contentType, err := s.Images.Download(ctx, generatedURL)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "image/png"
	}

	key := fmt.Sprintf("%s/page-%d.png", opts.KeyPrefix, pageNumber)
	return s.Objects.Put(ctx, key, contentType, data)
}

// GenerateStorybook creates the storybook of a month: status guard, story,
// illustrations, optional narration, then persistence. It returns a CONFLICT
// error when the month already has a storybook and a VALIDATION error when the
// month has no records or no comments. Every error is also published as a
// failed progress event.
func (s *StorybookService) GenerateStorybook(ctx context.Context, userID, month string, opts StorybookOptions) (*models.Storybook, error) {
	fail := func(err error) (*models.Storybook, error) {
		s.Progress.PublishProgress(userID, StorybookProgress{
			Month:   month,
			Stage:   StageFailed,
			Message: apperr.UserMessage(err, "絵本の作成に失敗しました"),
		})
		return nil, err
	}

	if _, err := parseMonth(month, s.loc); err != nil {
		return fail(apperr.Validationf("invalid month %q", month).
			WithUserMessage("月の指定が正しくありません（YYYY-MM形式）"))
	}
	status, records, err := s.monthlyStatus(ctx, userID, month)
	if err != nil {
		return fail(err)
	}
	if status.HasStorybook {
		return fail(apperr.Conflict("storybook already exists").WithUserMessage(status.Message))
	}
	if !status.CanCreateStorybook {
		return fail(apperr.Validation("storybook requirements not met").WithUserMessage(status.Message))
	}

	bookID := uuid.New().String()
	logger := log.With().Str("user_id", userID).Str("storybook_id", bookID).Str("month", month).Logger()

	s.Progress.PublishProgress(userID, StorybookProgress{Month: month, Stage: StageStory})
	story := s.GenerateStoryFromRecords(ctx, records)
	s.Metrics.Generations.WithLabelValues("story", string(story.Source)).Inc()
	logger.Info().Str("source", string(story.Source)).Int("pages", len(story.Value.Pages)).Msg("Story generated")

	pages := s.GenerateStorybookIllustrations(ctx, story.Value.Pages, IllustrationOptions{
		Style:     opts.Style,
		Mood:      opts.Mood,
		KeyPrefix: fmt.Sprintf("storybooks/%s/%s", userID, bookID),
		OnPage: func(page, total int) {
			s.Progress.PublishProgress(userID, StorybookProgress{
				Month: month, Stage: StageIllustrations, Page: page, TotalPages: total,
			})
		},
	})

	if (opts.Narrate || s.narrate) && s.Narration != nil {
		s.Progress.PublishProgress(userID, StorybookProgress{Month: month, Stage: StageNarration})
		pages = s.Narration.NarratePages(ctx, fmt.Sprintf("storybooks/%s/%s", userID, bookID), pages)
	}

	book := &models.Storybook{
		ID:        bookID,
		UserID:    userID,
		Title:     story.Value.Title,
		Month:     month,
		Pages:     pages,
		CreatedAt: s.now(),
	}
	if len(pages) > 0 {
		book.CoverImageURL = pages[0].IllustrationURL
	}

	if err := s.Books.Create(ctx, book); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return fail(apperr.Wrap(err, apperr.CodeConflict, "storybook already exists").
				WithUserMessage("この月の絵本はすでに作成されています"))
		}
		return fail(fmt.Errorf("failed to save storybook: %w", err))
	}

	s.Progress.PublishProgress(userID, StorybookProgress{Month: month, Stage: StageCompleted, StorybookID: bookID})
	s.Notifier.NotifyStorybookReady(ctx, userID, book)
	logger.Info().Msg("Storybook created")

	return book, nil
}

// ListStorybooks returns the storybooks of a user, newest month first
func (s *StorybookService) ListStorybooks(ctx context.Context, userID string) ([]*models.Storybook, error) {
	books, err := s.Books.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list storybooks: %w", err)
	}
	return books, nil
}

// GetStorybook returns a storybook owned by userID
func (s *StorybookService) GetStorybook(ctx context.Context, userID, id string) (*models.Storybook, error) {
	book, err := s.Books.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if book.UserID != userID {
		return nil, apperr.NotFoundf("storybook %s not found", id)
	}
	return book, nil
}

// DeleteStorybook deletes a storybook owned by userID and its share links
func (s *StorybookService) DeleteStorybook(ctx context.Context, userID, id string) error {
	if _, err := s.GetStorybook(ctx, userID, id); err != nil {
		return err
	}
	if err := s.Shares.DeleteByContent(ctx, models.ContentTypeStorybook, id); err != nil {
		return fmt.Errorf("failed to delete share links: %w", err)
	}
	if err := s.Books.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete storybook: %w", err)
	}
	log.Info().Str("user_id", userID).Str("storybook_id", id).Msg("Storybook deleted")
	return nil
}
