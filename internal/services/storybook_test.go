package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omoide-backend/internal/apperr"
	"omoide-backend/internal/config"
	"omoide-backend/internal/metrics"
	"omoide-backend/internal/models"
	"omoide-backend/internal/result"
)

const placeholderURL = "/images/storybook-placeholder.png"

type storybookFixture struct {
	svc      *StorybookService
	records  *memRecords
	books    *memBooks
	links    *memLinks
	text     *stubText
	images   *stubImages
	speech   *stubSpeech
	objects  *memObjects
	progress *recordingProgress
	notifier *recordingNotifier
}

func newStorybookFixture(records ...*models.GrowthRecord) *storybookFixture {
	f := &storybookFixture{
		records:  newMemRecords(records...),
		books:    newMemBooks(),
		links:    newMemLinks(),
		text:     &stubText{},
		images:   &stubImages{configured: true},
		speech:   &stubSpeech{configured: true},
		objects:  newMemObjects(),
		progress: &recordingProgress{},
		notifier: &recordingNotifier{},
	}
	m := metrics.New()
	f.svc = NewStorybookService(StorybookDeps{
		Records:   f.records,
		Books:     f.books,
		Shares:    f.links,
		Text:      f.text,
		Images:    f.images,
		Narration: NewNarrationService(f.speech, f.objects, f.books, m),
		Objects:   f.objects,
		Progress:  f.progress,
		Notifier:  f.notifier,
		Metrics:   m,
	}, config.StorybookConfig{PlaceholderImageURL: placeholderURL})
	f.svc.now = func() time.Time { return time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC) }
	return f
}

func mayRecord(id string, day int, comments ...string) *models.GrowthRecord {
	r := &models.GrowthRecord{
		ID:        id,
		UserID:    "user-1",
		Photos:    []models.Photo{{ID: id + "-photo"}},
		CreatedAt: time.Date(2024, 5, day, 10, 0, 0, 0, time.UTC),
	}
	for i, c := range comments {
		r.Comments = append(r.Comments, models.GrowthComment{ID: id + "-c" + string(rune('0'+i)), Content: c})
	}
	return r
}

const validStoryJSON = "```json\n" + `{
  "title": "はじめての おさんぽ",
  "pages": [
    {"pageNumber": 1, "text": "こうえんへ いこう", "illustrationPrompt": "a child walking to the park"},
    {"pageNumber": 2, "text": "はっぱが ひらひら", "illustrationPrompt": "leaves falling around a child"}
  ]
}` + "\n```"

func TestEvaluateMonthlyStatus(t *testing.T) {
	tests := []struct {
		name         string
		hasStorybook bool
		records      int
		comments     int
		want         bool
	}{
		{"already exists", true, 3, 5, false},
		{"no records", false, 0, 0, false},
		{"records without comments", false, 2, 0, false},
		{"ready", false, 2, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := EvaluateMonthlyStatus(tt.hasStorybook, tt.records, tt.comments)
			assert.Equal(t, tt.want, status.CanCreateStorybook)
			assert.NotEmpty(t, status.Message)
		})
	}
}

func TestCheckMonthlyStorybookStatus(t *testing.T) {
	f := newStorybookFixture(
		mayRecord("r1", 3, "はじめて歩いた"),
		mayRecord("r2", 20),
	)

	status := f.svc.CheckMonthlyStorybookStatus(context.Background(), "user-1", "2024-05")
	assert.True(t, status.CanCreateStorybook)
	assert.Equal(t, 2, status.RecordCount)
	assert.Equal(t, 1, status.CommentCount)
	assert.Equal(t, "2024-05", status.Month)

	empty := f.svc.CheckMonthlyStorybookStatus(context.Background(), "user-1", "2024-04")
	assert.False(t, empty.CanCreateStorybook)
	assert.Zero(t, empty.RecordCount)

	invalid := f.svc.CheckMonthlyStorybookStatus(context.Background(), "user-1", "2024-5")
	assert.False(t, invalid.CanCreateStorybook)
	assert.Equal(t, "絵本の作成状況を確認できませんでした", invalid.Message)
}

func TestParseStory(t *testing.T) {
	story, err := parseStory(validStoryJSON)
	require.NoError(t, err)
	assert.Equal(t, "はじめての おさんぽ", story.Title)
	require.Len(t, story.Pages, 2)
	assert.Equal(t, 2, story.Pages[1].PageNumber)

	invalid := []string{
		"not json at all",
		`{"title": "", "pages": [{"pageNumber": 1, "text": "a", "illustrationPrompt": "b"}]}`,
		`{"title": "t", "pages": []}`,
		`{"title": "t", "pages": [{"pageNumber": 1, "text": "a"}]}`,
		`{"title": "t", "pages": [{"pageNumber": "one", "text": "a", "illustrationPrompt": "b"}]}`,
	}
	for _, reply := range invalid {
		_, err := parseStory(reply)
		assert.Error(t, err, reply)
	}
}

func TestGenerateStoryFromRecords(t *testing.T) {
	records := []*models.GrowthRecord{mayRecord("r1", 3, "はじめて歩いた")}

	t.Run("model output", func(t *testing.T) {
		f := newStorybookFixture()
		f.text.configured = true
		var prompt string
		f.text.reply = func(p string) (string, error) {
			prompt = p
			return validStoryJSON, nil
		}

		res := f.svc.GenerateStoryFromRecords(context.Background(), records)
		assert.Equal(t, result.KindSuccess, res.Kind)
		assert.Equal(t, result.SourceOpenAI, res.Source)
		assert.Contains(t, prompt, "2024年5月3日")
		assert.Contains(t, prompt, "はじめて歩いた")
	})

	t.Run("invalid reply falls back to template", func(t *testing.T) {
		f := newStorybookFixture()
		f.text.configured = true
		f.text.reply = func(string) (string, error) { return `{"title": "x"}`, nil }

		res := f.svc.GenerateStoryFromRecords(context.Background(), records)
		assert.Equal(t, result.KindDegraded, res.Kind)
		assert.Equal(t, result.SourceTemplate, res.Source)
		assert.Len(t, res.Value.Pages, 4)
	})

	t.Run("api error falls back to template", func(t *testing.T) {
		f := newStorybookFixture()
		f.text.configured = true
		f.text.reply = func(string) (string, error) { return "", errors.New("rate limited") }

		res := f.svc.GenerateStoryFromRecords(context.Background(), records)
		assert.Equal(t, result.KindDegraded, res.Kind)
		assert.Equal(t, fallbackStory(), res.Value)
	})
}

func TestEnhancePrompt(t *testing.T) {
	got := EnhancePrompt("a child", "watercolor", "happy")
	assert.True(t, strings.HasPrefix(got, "a child, "))
	assert.Contains(t, got, styleModifiers["watercolor"])
	assert.Contains(t, got, moodModifiers["happy"])

	defaults := EnhancePrompt("a child", "", "grumpy")
	assert.Contains(t, defaults, styleModifiers["children-book"])
	assert.Contains(t, defaults, moodModifiers["gentle"])
}

func TestGenerateStorybookIllustrationsPlaceholderOnFailure(t *testing.T) {
	f := newStorybookFixture()
	f.images.failPrompt = "broken"

	var seen []int
	pages := f.svc.GenerateStorybookIllustrations(context.Background(), []StoryPage{
		{PageNumber: 1, Text: "one", IllustrationPrompt: "sunny park"},
		{PageNumber: 2, Text: "two", IllustrationPrompt: "broken prompt"},
		{PageNumber: 3, Text: "three", IllustrationPrompt: "starry night"},
	}, IllustrationOptions{
		KeyPrefix: "storybooks/u/b",
		OnPage:    func(page, _ int) { seen = append(seen, page) },
	})

	require.Len(t, pages, 3)
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, "https://cdn.example.com/storybooks/u/b/page-1.png", pages[0].IllustrationURL)
	assert.Equal(t, placeholderURL, pages[1].IllustrationURL)
	assert.Equal(t, "https://cdn.example.com/storybooks/u/b/page-3.png", pages[2].IllustrationURL)
	assert.Equal(t, "two", pages[1].Text)
	assert.Contains(t, f.objects.objects, "storybooks/u/b/page-3.png")
	assert.Len(t, f.images.prompts, 3)
}

// timedImages records when each illustration request starts and ends.
type timedImages struct {
	mu     sync.Mutex
	starts []time.Time
	ends   []time.Time
}

func (s *timedImages) Configured() bool { return true }

func (s *timedImages) GenerateImage(context.Context, string) (string, error) {
	s.mu.Lock()
	s.starts = append(s.starts, time.Now())
	s.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends = append(s.ends, time.Now())
	return fmt.Sprintf("https://images.example.com/%d.png", len(s.ends)), nil
}

func (s *timedImages) Download(_ context.Context, url string) ([]byte, string, error) {
	return []byte(url), "image/png", nil
}

func TestGenerateStorybookIllustrationsPacesRequests(t *testing.T) {
	const interval = 20 * time.Millisecond
	// rate.Limiter reserves a slot slightly before the request starts
	const slack = 2 * time.Millisecond

	f := newStorybookFixture()
	images := &timedImages{}
	deps := f.svc.StorybookDeps
	deps.Images = images
	svc := NewStorybookService(deps, config.StorybookConfig{
		IllustrationInterval: interval,
		PlaceholderImageURL:  placeholderURL,
	})

	pages := svc.GenerateStorybookIllustrations(context.Background(), []StoryPage{
		{PageNumber: 1, Text: "one", IllustrationPrompt: "sunrise"},
		{PageNumber: 2, Text: "two", IllustrationPrompt: "noon"},
		{PageNumber: 3, Text: "three", IllustrationPrompt: "sunset"},
	}, IllustrationOptions{KeyPrefix: "storybooks/u/b"})

	require.Len(t, pages, 3)
	for _, p := range pages {
		assert.NotEqual(t, placeholderURL, p.IllustrationURL)
	}

	require.Len(t, images.starts, 3)
	require.Len(t, images.ends, 3)
	for i := 1; i < len(images.starts); i++ {
		assert.False(t, images.starts[i].Before(images.ends[i-1]), "request %d overlaps the previous one", i+1)
		assert.GreaterOrEqual(t, images.starts[i].Sub(images.starts[i-1]), interval-slack, "request %d started too early", i+1)
	}
}

func TestGenerateStorybookIllustrationsWithoutImageModel(t *testing.T) {
	f := newStorybookFixture()
	f.images.configured = false

	pages := f.svc.GenerateStorybookIllustrations(context.Background(), fallbackStory().Pages, IllustrationOptions{})

	require.Len(t, pages, 4)
	for i, p := range pages {
		assert.Equal(t, placeholderURL, p.IllustrationURL)
		assert.Equal(t, i+1, p.PageNumber)
	}
	assert.Empty(t, f.images.prompts)
}

func TestGenerateStorybook(t *testing.T) {
	f := newStorybookFixture(mayRecord("r1", 3, "はじめて歩いた"))
	f.text.configured = true
	f.text.reply = func(string) (string, error) { return validStoryJSON, nil }

	book, err := f.svc.GenerateStorybook(context.Background(), "user-1", "2024-05", StorybookOptions{Style: "cartoon", Narrate: true})
	require.NoError(t, err)

	assert.Equal(t, "はじめての おさんぽ", book.Title)
	assert.Equal(t, "2024-05", book.Month)
	require.Len(t, book.Pages, 2)
	assert.Equal(t, book.Pages[0].IllustrationURL, book.CoverImageURL)
	assert.NotEmpty(t, book.Pages[0].AudioURL)
	assert.Contains(t, f.images.prompts[0], styleModifiers["cartoon"])

	stored, err := f.books.FindByUserAndMonth(context.Background(), "user-1", "2024-05")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, book.ID, stored.ID)

	assert.Equal(t, []string{StageStory, StageIllustrations, StageNarration, StageCompleted}, f.progress.stages())
	require.Len(t, f.notifier.books, 1)
	assert.Equal(t, book.ID, f.notifier.books[0].ID)

	_, err = f.svc.GenerateStorybook(context.Background(), "user-1", "2024-05", StorybookOptions{})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Equal(t, 409, apperr.Status(err))

	last := f.progress.events[len(f.progress.events)-1]
	assert.Equal(t, StageFailed, last.Stage)
	assert.Equal(t, "この月の絵本はすでに作成されています", last.Message)
}

func TestGenerateStorybookGuard(t *testing.T) {
	f := newStorybookFixture(mayRecord("r1", 3))

	_, err := f.svc.GenerateStorybook(context.Background(), "user-1", "2024-05", StorybookOptions{})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Contains(t, apperr.UserMessage(err, ""), "コメント")
	assert.Equal(t, []string{StageFailed}, f.progress.stages())
	assert.Contains(t, f.progress.events[0].Message, "コメント")
	assert.Equal(t, "2024-05", f.progress.events[0].Month)

	_, err = f.svc.GenerateStorybook(context.Background(), "user-1", "May", StorybookOptions{})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	require.Len(t, f.progress.events, 2)
	assert.Equal(t, StageFailed, f.progress.events[1].Stage)
	assert.Empty(t, f.notifier.books)
}

// brokenBooks fails every storybook lookup.
type brokenBooks struct {
	*memBooks
}

func (brokenBooks) FindByUserAndMonth(context.Context, string, string) (*models.Storybook, error) {
	return nil, errors.New("connection refused")
}

func TestGenerateStorybookStatusErrorPublishesFailure(t *testing.T) {
	f := newStorybookFixture(mayRecord("r1", 3, "にこにこ"))
	f.svc.Books = brokenBooks{f.books}

	_, err := f.svc.GenerateStorybook(context.Background(), "user-1", "2024-05", StorybookOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	require.Len(t, f.progress.events, 1)
	assert.Equal(t, StageFailed, f.progress.events[0].Stage)
	assert.Equal(t, "絵本の作成に失敗しました", f.progress.events[0].Message)
}

func TestGenerateStorybookConflictOnRace(t *testing.T) {
	f := newStorybookFixture(mayRecord("r1", 3, "にこにこ"))
	// simulate a concurrent request that created the book after the status check
	f.svc.Notifier = &recordingNotifier{}
	f.svc.Progress = progressFunc(func(_ string, p StorybookProgress) {
		if p.Stage == StageIllustrations && p.Page == 1 {
			_ = f.books.Create(context.Background(), &models.Storybook{ID: "other", UserID: "user-1", Month: "2024-05"})
		}
	})

	_, err := f.svc.GenerateStorybook(context.Background(), "user-1", "2024-05", StorybookOptions{})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

type progressFunc func(userID string, p StorybookProgress)

func (f progressFunc) PublishProgress(userID string, p StorybookProgress) { f(userID, p) }

func TestDeleteStorybookRemovesShareLinks(t *testing.T) {
	f := newStorybookFixture()
	require.NoError(t, f.books.Create(context.Background(), &models.Storybook{ID: "b1", UserID: "user-1", Month: "2024-05"}))
	require.NoError(t, f.links.Create(context.Background(), &models.ShareLink{ID: "s1", ContentID: "b1", ContentType: models.ContentTypeStorybook, IsActive: true}))

	err := f.svc.DeleteStorybook(context.Background(), "user-2", "b1")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	require.NoError(t, f.svc.DeleteStorybook(context.Background(), "user-1", "b1"))
	_, err = f.books.GetByID(context.Background(), "b1")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Empty(t, f.links.links)
}
