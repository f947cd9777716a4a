package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"omoide-backend/internal/ai"
	"omoide-backend/internal/apperr"
	"omoide-backend/internal/models"
)

type memRecords struct {
	mu      sync.Mutex
	records map[string]*models.GrowthRecord
}

func newMemRecords(records ...*models.GrowthRecord) *memRecords {
	m := &memRecords{records: map[string]*models.GrowthRecord{}}
	for _, r := range records {
		m.records[r.ID] = r
	}
	return m
}

func (m *memRecords) Create(_ context.Context, r *models.GrowthRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *memRecords) GetByID(_ context.Context, id string) (*models.GrowthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, apperr.NotFoundf("record %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (m *memRecords) ListByUserBetween(_ context.Context, userID string, from, to time.Time) ([]*models.GrowthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.GrowthRecord
	for _, r := range m.records {
		if r.UserID == userID && !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memRecords) UpdateComments(_ context.Context, id string, comments []models.GrowthComment, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return apperr.NotFoundf("record %s not found", id)
	}
	r.Comments = slices.Clone(comments)
	r.UpdatedAt = updatedAt
	return nil
}

func (m *memRecords) SetSharing(_ context.Context, id string, isShared bool, shareID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return apperr.NotFoundf("record %s not found", id)
	}
	r.IsShared = isShared
	r.ShareID = shareID
	return nil
}

func (m *memRecords) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

type memBooks struct {
	mu    sync.Mutex
	books map[string]*models.Storybook
}

func newMemBooks(books ...*models.Storybook) *memBooks {
	m := &memBooks{books: map[string]*models.Storybook{}}
	for _, b := range books {
		m.books[b.ID] = b
	}
	return m
}

func (m *memBooks) Create(_ context.Context, b *models.Storybook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.books {
		if existing.UserID == b.UserID && existing.Month == b.Month {
			return apperr.Conflict(fmt.Sprintf("storybook for %s already exists", b.Month))
		}
	}
	cp := *b
	m.books[b.ID] = &cp
	return nil
}

func (m *memBooks) GetByID(_ context.Context, id string) (*models.Storybook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return nil, apperr.NotFoundf("storybook %s not found", id)
	}
	cp := *b
	return &cp, nil
}

func (m *memBooks) FindByUserAndMonth(_ context.Context, userID, month string) (*models.Storybook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.books {
		if b.UserID == userID && b.Month == month {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memBooks) ListByUser(_ context.Context, userID string) ([]*models.Storybook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Storybook
	for _, b := range m.books {
		if b.UserID == userID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month > out[j].Month })
	return out, nil
}

func (m *memBooks) UpdatePages(_ context.Context, id string, pages []models.StorybookPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return apperr.NotFoundf("storybook %s not found", id)
	}
	b.Pages = slices.Clone(pages)
	return nil
}

func (m *memBooks) SetSharing(_ context.Context, id string, isShared bool, shareID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return apperr.NotFoundf("storybook %s not found", id)
	}
	b.IsShared = isShared
	b.ShareID = shareID
	return nil
}

func (m *memBooks) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
	return nil
}

type memLinks struct {
	mu    sync.Mutex
	links map[string]*models.ShareLink
}

func newMemLinks() *memLinks {
	return &memLinks{links: map[string]*models.ShareLink{}}
}

func (m *memLinks) Create(_ context.Context, l *models.ShareLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.links[l.ID] = &cp
	return nil
}

func (m *memLinks) GetByID(_ context.Context, id string) (*models.ShareLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	if !ok {
		return nil, apperr.NotFoundf("share link %s not found", id)
	}
	cp := *l
	return &cp, nil
}

func (m *memLinks) ListByContent(_ context.Context, contentType models.ContentType, contentID string, activeOnly bool) ([]*models.ShareLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ShareLink
	for _, l := range m.links {
		if l.ContentType == contentType && l.ContentID == contentID && (!activeOnly || l.IsActive) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memLinks) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	if !ok {
		return apperr.NotFoundf("share link %s not found", id)
	}
	l.IsActive = active
	return nil
}

func (m *memLinks) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[id]; !ok {
		return apperr.NotFoundf("share link %s not found", id)
	}
	delete(m.links, id)
	return nil
}

func (m *memLinks) DeleteByContent(_ context.Context, contentType models.ContentType, contentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, l := range m.links {
		if l.ContentType == contentType && l.ContentID == contentID {
			delete(m.links, id)
		}
	}
	return nil
}

type memDevices struct {
	mu      sync.Mutex
	tokens  map[string][]string
	removed []string
}

func (m *memDevices) Upsert(_ context.Context, d *models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = map[string][]string{}
	}
	if !slices.Contains(m.tokens[d.UserID], d.PushToken) {
		m.tokens[d.UserID] = append(m.tokens[d.UserID], d.PushToken)
	}
	return nil
}

func (m *memDevices) ListTokens(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.tokens[userID]), nil
}

func (m *memDevices) Delete(_ context.Context, userID, pushToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = slices.DeleteFunc(m.tokens[userID], func(t string) bool { return t == pushToken })
	m.removed = append(m.removed, pushToken)
	return nil
}

// memObjects records uploads and returns predictable URLs.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}}
}

func (m *memObjects) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return "", errors.New("storage unavailable")
	}
	m.objects[key] = data
	return m.PublicURL(key), nil
}

func (m *memObjects) PresignUpload(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://upload.example.com/" + key + "?signature=x", nil
}

func (m *memObjects) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

// stubImages is a scripted ImageGenerator.
type stubImages struct {
	configured bool
	failPrompt string
	prompts    []string
}

func (s *stubImages) Configured() bool { return s.configured }

func (s *stubImages) GenerateImage(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.failPrompt != "" && strings.HasPrefix(prompt, s.failPrompt) {
		return "", errors.New("content policy violation")
	}
	return fmt.Sprintf("https://images.example.com/%d.png", len(s.prompts)), nil
}

func (s *stubImages) Download(_ context.Context, url string) ([]byte, string, error) {
	return []byte("png:" + url), "image/png", nil
}

// stubSpeech is a scripted SpeechSynthesizer.
type stubSpeech struct {
	configured bool
	err        error
	texts      []string
}

func (s *stubSpeech) Configured() bool { return s.configured }

func (s *stubSpeech) Speak(_ context.Context, text string, _ ai.SpeechOptions) ([]byte, error) {
	s.texts = append(s.texts, text)
	if s.err != nil {
		return nil, s.err
	}
	return []byte("mp3:" + text), nil
}

// recordingProgress collects published progress events.
type recordingProgress struct {
	mu     sync.Mutex
	events []StorybookProgress
}

func (r *recordingProgress) PublishProgress(_ string, p StorybookProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *recordingProgress) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if len(out) == 0 || out[len(out)-1] != e.Stage {
			out = append(out, e.Stage)
		}
	}
	return out
}

// recordingNotifier collects storybook-ready notifications.
type recordingNotifier struct {
	books []*models.Storybook
}

func (r *recordingNotifier) NotifyStorybookReady(_ context.Context, _ string, book *models.Storybook) {
	r.books = append(r.books, book)
}
