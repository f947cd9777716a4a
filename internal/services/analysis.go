package services

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"omoide-backend/internal/metrics"
	"omoide-backend/internal/vision"
)

const (
	// MaxAnalyzeBatch caps the photos of one analysis request.
	MaxAnalyzeBatch = 10

	// faceConfidenceThreshold is the minimum detection confidence of a valid photo.
	faceConfidenceThreshold = 0.5

	analysisConcurrency = 4
)

// AnalysisError describes why one image could not be analyzed
type AnalysisError struct {
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions"`
	CanRetry    bool     `json:"canRetry"`
}

// Evaluation is the user-facing verdict on one analyzed photo
type Evaluation struct {
	IsValid     bool     `json:"isValid"`
	Confidence  float64  `json:"confidence"`
	Reason      string   `json:"reason"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// AnalysisResult is the outcome of face analysis for one image
type AnalysisResult struct {
	ImageURL     string         `json:"imageUrl"`
	Success      bool           `json:"success"`
	FaceDetected bool           `json:"faceDetected"`
	FaceCount    int            `json:"faceCount"`
	Confidence   float64        `json:"confidence"`
	Emotions     []string       `json:"emotions,omitempty"`
	Faces        []vision.Face  `json:"faces,omitempty"`
	Error        *AnalysisError `json:"error,omitempty"`
	Evaluation   *Evaluation    `json:"evaluation,omitempty"`
}

// AnalysisService runs face detection over batches of photos
type AnalysisService struct {
	detector vision.FaceDetector
	metrics  *metrics.Metrics
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(detector vision.FaceDetector, m *metrics.Metrics) *AnalysisService {
	return &AnalysisService{detector: detector, metrics: m}
}

// AnalyzeImages returns one result per URL in input order. A failing image
// yields a result carrying an AnalysisError; it never fails the batch.
func (s *AnalysisService) AnalyzeImages(ctx context.Context, urls []string) []AnalysisResult {
	results := make([]AnalysisResult, len(urls))

	var g errgroup.Group
	g.SetLimit(analysisConcurrency)
	for i, url := range urls {
		g.Go(func() error {
			results[i] = s.analyzeOne(ctx, url)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *AnalysisService) analyzeOne(ctx context.Context, url string) AnalysisResult {
	faces, err := s.detector.DetectFaces(ctx, url)
	if err != nil {
		log.Warn().Err(err).Str("image_url", url).Msg("Face detection failed")
		s.metrics.FaceAnalyses.WithLabelValues("error").Inc()
		return AnalysisResult{ImageURL: url, Error: describeAnalysisError(err)}
	}

	result := AnalysisResult{
		ImageURL:     url,
		Success:      true,
		FaceDetected: len(faces) > 0,
		FaceCount:    len(faces),
		Faces:        faces,
	}
	if best, ok := bestFace(faces); ok {
		result.Confidence = best.DetectionConfidence
		result.Emotions = best.Emotions()
		s.metrics.FaceAnalyses.WithLabelValues("face").Inc()
	} else {
		s.metrics.FaceAnalyses.WithLabelValues("no_face").Inc()
	}
	return result
}

func bestFace(faces []vision.Face) (vision.Face, bool) {
	if len(faces) == 0 {
		return vision.Face{}, false
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.DetectionConfidence > best.DetectionConfidence {
			best = f
		}
	}
	return best, true
}

// describeAnalysisError converts a detection failure into a structured,
// user-facing error.
func describeAnalysisError(err error) *AnalysisError {
	var apiErr *vision.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return &AnalysisError{
				Message:     "画像解析サービスの認証に失敗しました",
				Suggestions: []string{"しばらくしてから再度お試しください"},
				CanRetry:    false,
			}
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return &AnalysisError{
				Message:     "画像解析サービスが混み合っています",
				Suggestions: []string{"少し時間をおいてから再度お試しください"},
				CanRetry:    true,
			}
		case apiErr.StatusCode >= 500:
			return &AnalysisError{
				Message:     "画像解析サービスが一時的に利用できません",
				Suggestions: []string{"少し時間をおいてから再度お試しください"},
				CanRetry:    true,
			}
		case apiErr.Code == 4 || apiErr.Code == 14:
			// DEADLINE_EXCEEDED, UNAVAILABLE
			return &AnalysisError{
				Message:     "画像の解析がタイムアウトしました",
				Suggestions: []string{"再度お試しください"},
				CanRetry:    true,
			}
		default:
			return &AnalysisError{
				Message: "画像を読み込めませんでした",
				Suggestions: []string{
					"JPEGまたはPNG形式の写真をお使いください",
					"別の写真で試してください",
				},
				CanRetry: false,
			}
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &AnalysisError{
			Message:     "画像の解析がタイムアウトしました",
			Suggestions: []string{"通信環境の良い場所で再度お試しください"},
			CanRetry:    true,
		}
	}

	return &AnalysisError{
		Message:     "画像の解析中にエラーが発生しました",
		Suggestions: []string{"再度お試しください"},
		CanRetry:    true,
	}
}

// ProcessAnalysisResults attaches an Evaluation to each result
func ProcessAnalysisResults(results []AnalysisResult) []AnalysisResult {
	out := make([]AnalysisResult, len(results))
	for i, r := range results {
		eval := evaluate(r)
		r.Evaluation = &eval
		out[i] = r
	}
	return out
}

func evaluate(r AnalysisResult) Evaluation {
	switch {
	case r.Error != nil:
		return Evaluation{
			IsValid:     false,
			Reason:      r.Error.Message,
			Suggestions: r.Error.Suggestions,
		}
	case !r.FaceDetected:
		return Evaluation{
			IsValid: false,
			Reason:  "顔が検出されませんでした",
			Suggestions: []string{
				"お子さまの顔がはっきり写っている写真を選んでください",
				"明るい場所で撮影した写真がおすすめです",
			},
		}
	case r.Confidence < faceConfidenceThreshold:
		return Evaluation{
			IsValid:    false,
			Confidence: r.Confidence,
			Reason:     "顔をはっきり認識できませんでした",
			Suggestions: []string{
				"もう少し鮮明な写真をお試しください",
				"顔が正面を向いている写真がおすすめです",
			},
		}
	default:
		return Evaluation{
			IsValid:    true,
			Confidence: r.Confidence,
			Reason:     "顔が検出されました",
		}
	}
}
