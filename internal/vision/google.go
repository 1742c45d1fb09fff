package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint 是 Google Vision 批量标注接口的默认地址。
const DefaultEndpoint = "https://vision.googleapis.com/v1/images:annotate"

// Client 通过 images:annotate REST 接口调用 Google Vision。
type Client struct {
	httpClient *http.Client
	apiKey     string
	endpoint   string
}

// NewClient 创建真实的 Vision 客户端。endpoint 为空时使用默认地址。
func NewClient(apiKey, endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     apiKey,
		endpoint:   endpoint,
	}
}

type annotateRequest struct {
	Requests []annotateRequestItem `json:"requests"`
}

type annotateRequestItem struct {
	Image    annotateImage     `json:"image"`
	Features []annotateFeature `json:"features"`
}

type annotateImage struct {
	Source annotateImageSource `json:"source"`
}

type annotateImageSource struct {
	ImageURI string `json:"imageUri"`
}

type annotateFeature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults,omitempty"`
}

type annotateResponse struct {
	Responses []annotateResult `json:"responses"`
	Error     *apiError        `json:"error"`
}

type annotateResult struct {
	LabelAnnotations []struct {
		Description string  `json:"description"`
		Score       float64 `json:"score"`
	} `json:"labelAnnotations"`
	FullTextAnnotation *struct {
		Text string `json:"text"`
	} `json:"fullTextAnnotation"`
	SafeSearchAnnotation *struct {
		Adult    string `json:"adult"`
		Spoof    string `json:"spoof"`
		Medical  string `json:"medical"`
		Violence string `json:"violence"`
		Racy     string `json:"racy"`
	} `json:"safeSearchAnnotation"`
	ImagePropertiesAnnotation *struct {
		DominantColors struct {
			Colors []struct {
				Color struct {
					Red   int `json:"red"`
					Green int `json:"green"`
					Blue  int `json:"blue"`
				} `json:"color"`
				Score         float64 `json:"score"`
				PixelFraction float64 `json:"pixelFraction"`
			} `json:"colors"`
		} `json:"dominantColors"`
	} `json:"imagePropertiesAnnotation"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Analyze 请求标签、OCR、内容安全和主色调四类标注。
// 服务不可用与实质性分析失败通过错误类型区分。
func (c *Client) Analyze(ctx context.Context, imageURL string) (*Result, error) {
	if c == nil || c.apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key", ErrUnavailable)
	}

	payload := annotateRequest{
		Requests: []annotateRequestItem{{
			Image: annotateImage{Source: annotateImageSource{ImageURI: imageURL}},
			Features: []annotateFeature{
				{Type: "IMAGE_PROPERTIES"},
				{Type: "LABEL_DETECTION", MaxResults: 10},
				{Type: "SAFE_SEARCH_DETECTION"},
				{Type: "TEXT_DETECTION"},
			},
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode annotate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?key="+c.apiKey, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build annotate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 网络层失败按服务不可用降级
		callsTotal.WithLabelValues(outcomeUnavailable).Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var decoded annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		callsTotal.WithLabelValues(outcomeUnavailable).Inc()
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	if decoded.Error != nil {
		return nil, countedAPIError(decoded.Error)
	}
	if len(decoded.Responses) == 0 {
		callsTotal.WithLabelValues(outcomeOK).Inc()
		return &Result{}, nil
	}
	if respErr := decoded.Responses[0].Error; respErr != nil {
		return nil, countedAPIError(respErr)
	}

	callsTotal.WithLabelValues(outcomeOK).Inc()
	return mapResult(decoded.Responses[0]), nil
}

func countedAPIError(apiErr *apiError) error {
	err := classifyAPIError(apiErr)
	if errors.Is(err, ErrUnavailable) {
		callsTotal.WithLabelValues(outcomeUnavailable).Inc()
	} else {
		callsTotal.WithLabelValues(outcomeError).Inc()
	}
	return err
}

// classifyAPIError 区分“服务没开通/没钱/被禁用”和真正的分析错误。
func classifyAPIError(apiErr *apiError) error {
	msg := apiErr.Message
	switch {
	case apiErr.Code == http.StatusForbidden,
		apiErr.Status == "PERMISSION_DENIED",
		strings.Contains(msg, "requires billing"),
		strings.Contains(msg, "is disabled"),
		strings.Contains(msg, "has not been used"):
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	default:
		return &ProviderError{Code: apiErr.Code, Message: msg}
	}
}

func mapResult(raw annotateResult) *Result {
	result := &Result{}

	for _, label := range raw.LabelAnnotations {
		result.Labels = append(result.Labels, Label{
			Description: label.Description,
			Score:       label.Score,
		})
	}

	if raw.FullTextAnnotation != nil {
		result.FullText = raw.FullTextAnnotation.Text
	}

	if raw.SafeSearchAnnotation != nil {
		result.SafeSearch = &SafeSearch{
			Adult:    raw.SafeSearchAnnotation.Adult,
			Spoof:    raw.SafeSearchAnnotation.Spoof,
			Medical:  raw.SafeSearchAnnotation.Medical,
			Violence: raw.SafeSearchAnnotation.Violence,
			Racy:     raw.SafeSearchAnnotation.Racy,
		}
	}

	if raw.ImagePropertiesAnnotation != nil {
		for _, c := range raw.ImagePropertiesAnnotation.DominantColors.Colors {
			result.DominantColors = append(result.DominantColors, Color{
				Red:           c.Color.Red,
				Green:         c.Color.Green,
				Blue:          c.Color.Blue,
				Score:         c.Score,
				PixelFraction: c.PixelFraction,
			})
		}
	}

	return result
}
