package vision

import (
	"context"
	"fmt"
)

// Likelihood is the Cloud Vision bucketed probability of a face attribute.
type Likelihood string

const (
	LikelihoodUnknown      Likelihood = "UNKNOWN"
	LikelihoodVeryUnlikely Likelihood = "VERY_UNLIKELY"
	LikelihoodUnlikely     Likelihood = "UNLIKELY"
	LikelihoodPossible     Likelihood = "POSSIBLE"
	LikelihoodLikely       Likelihood = "LIKELY"
	LikelihoodVeryLikely   Likelihood = "VERY_LIKELY"
)

// AtLeastLikely reports whether l is LIKELY or VERY_LIKELY.
func (l Likelihood) AtLeastLikely() bool {
	return l == LikelihoodLikely || l == LikelihoodVeryLikely
}

// Face holds the attributes of one detected face.
type Face struct {
	DetectionConfidence float64    `json:"detectionConfidence"`
	Joy                 Likelihood `json:"joyLikelihood"`
	Sorrow              Likelihood `json:"sorrowLikelihood"`
	Anger               Likelihood `json:"angerLikelihood"`
	Surprise            Likelihood `json:"surpriseLikelihood"`
	Blurred             Likelihood `json:"blurredLikelihood"`
	UnderExposed        Likelihood `json:"underExposedLikelihood"`
}

// Emotions returns the emotion tags the face shows at LIKELY or above.
func (f Face) Emotions() []string {
	var tags []string
	if f.Joy.AtLeastLikely() {
		tags = append(tags, "joy")
	}
	if f.Sorrow.AtLeastLikely() {
		tags = append(tags, "sorrow")
	}
	if f.Anger.AtLeastLikely() {
		tags = append(tags, "anger")
	}
	if f.Surprise.AtLeastLikely() {
		tags = append(tags, "surprise")
	}
	return tags
}

// FaceDetector detects faces in a publicly reachable image.
type FaceDetector interface {
	DetectFaces(ctx context.Context, imageURL string) ([]Face, error)
}

// APIError is a non-success reply from the detection service.
type APIError struct {
	StatusCode int    // HTTP status, 0 when the error was reported per image
	Code       int    // google.rpc.Code, 0 when unknown
	Message    string // upstream message
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("vision returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("vision image error (code %d): %s", e.Code, e.Message)
}
