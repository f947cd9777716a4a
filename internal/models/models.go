package models

import "time"

// Photo is an uploaded photo inside a growth record
type Photo struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	FileName     string    `json:"fileName"`
	UploadedAt   time.Time `json:"uploadedAt"`
	FaceDetected bool      `json:"faceDetected"`
	StorageKey   string    `json:"storageKey,omitempty"`
}

// GrowthComment is a caption attached to a photo. OriginalContent keeps the
// text that was there before the first user edit.
type GrowthComment struct {
	ID              string    `json:"id"`
	PhotoID         string    `json:"photoId"`
	Content         string    `json:"content"`
	GeneratedAt     time.Time `json:"generatedAt"`
	IsEdited        bool      `json:"isEdited"`
	OriginalContent *string   `json:"originalContent,omitempty"`
}

// GrowthRecord is a dated bundle of photos and comments
type GrowthRecord struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Photos    []Photo         `json:"photos"`
	Comments  []GrowthComment `json:"comments"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	IsShared  bool            `json:"isShared"`
	ShareID   *string         `json:"shareId,omitempty"`
}

// StorybookPage is one page of a generated storybook
type StorybookPage struct {
	ID              string `json:"id"`
	Text            string `json:"text"`
	IllustrationURL string `json:"illustrationUrl"`
	AudioURL        string `json:"audioUrl,omitempty"`
	PageNumber      int    `json:"pageNumber"`
}

// Storybook is a generated picture book for one month. There is at most one
// per (user, month).
type Storybook struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Title         string          `json:"title"`
	Month         string          `json:"month"`
	Pages         []StorybookPage `json:"pages"`
	CoverImageURL string          `json:"coverImageUrl,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	IsShared      bool            `json:"isShared"`
	ShareID       *string         `json:"shareId,omitempty"`
}

// ContentType is the kind of content a share link points at
type ContentType string

const (
	ContentTypeRecord    ContentType = "record"
	ContentTypeStorybook ContentType = "storybook"
)

// Valid reports whether t is a known content type
func (t ContentType) Valid() bool {
	return t == ContentTypeRecord || t == ContentTypeStorybook
}

// ShareLink grants public read access to one content item
type ShareLink struct {
	ID          string      `json:"id"`
	ContentID   string      `json:"contentId"`
	ContentType ContentType `json:"contentType"`
	CreatedBy   string      `json:"createdBy"`
	CreatedAt   time.Time   `json:"createdAt"`
	IsActive    bool        `json:"isActive"`
	ExpiresAt   *time.Time  `json:"expiresAt,omitempty"`
}

// UsageStats is the state of one usage tracker
type UsageStats struct {
	DailyCount      int     `json:"dailyCount"`
	MonthlyCount    int     `json:"monthlyCount"`
	LastRequestDate string  `json:"lastRequestDate"`
	Month           string  `json:"month"`
	EstimatedCost   float64 `json:"estimatedCost"`
}

// Device is a registered push notification target
type Device struct {
	UserID    string    `json:"userId"`
	PushToken string    `json:"pushToken"`
	CreatedAt time.Time `json:"createdAt"`
}
