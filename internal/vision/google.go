package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://vision.googleapis.com/v1"

// maxFaces bounds the faces returned per image.
const maxFaces = 10

// request types mirror the images:annotate REST structure.
type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image    image     `json:"image"`
	Features []feature `json:"features"`
}

type image struct {
	Source imageSource `json:"source"`
}

type imageSource struct {
	ImageURI string `json:"imageUri"`
}

type feature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults"`
}

type annotateResponse struct {
	Responses []struct {
		FaceAnnotations []Face  `json:"faceAnnotations"`
		Error           *status `json:"error"`
	} `json:"responses"`
	Error *status `json:"error"`
}

type status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GoogleDetector calls Cloud Vision FACE_DETECTION with an API key.
type GoogleDetector struct {
	apiKey  string
	client  *http.Client
	baseURL string
}

func NewGoogleDetector(apiKey, baseURL string, timeout time.Duration) *GoogleDetector {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &GoogleDetector{
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (g *GoogleDetector) DetectFaces(ctx context.Context, imageURL string) ([]Face, error) {
	body := annotateRequest{
		Requests: []imageRequest{{
			Image:    image{Source: imageSource{ImageURI: imageURL}},
			Features: []feature{{Type: "FACE_DETECTION", MaxResults: maxFaces}},
		}},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := g.baseURL + "/images:annotate?key=" + url.QueryEscape(g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call vision: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close vision response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		var parsed annotateResponse
		msg := string(errBody)
		if json.Unmarshal(errBody, &parsed) == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	var respBody annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(respBody.Responses) == 0 {
		return nil, nil
	}
	first := respBody.Responses[0]
	if first.Error != nil {
		return nil, &APIError{Code: first.Error.Code, Message: first.Error.Message}
	}
	return first.FaceAnnotations, nil
}
