package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"text/template"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	pexelsBaseURL   = "https://api.pexels.com/v1"
	unsplashBaseURL = "https://api.unsplash.com"
	aiPhotographer  = "AI Generated"
)

var imagePromptTemplate = template.Must(template.New("image").Parse(imagePrompt))

// ImageQuery carries what a source may use to find or generate an image.
type ImageQuery struct {
	Text    string
	Item    WorkItem
	AltText string
}

// ImageSource finds an image for a query. It returns (nil, nil) when the
// provider has no match.
type ImageSource interface {
	Name() ImageProvider
	Search(ctx context.Context, q ImageQuery) (*ImageResult, error)
}

// ImageTier is one step of the waterfall.
type ImageTier struct {
	Source ImageSource
	Retry  bool
}

// ImageWaterfall tries each tier in order until one yields an image.
type ImageWaterfall struct {
	tiers           []ImageTier
	policy          RetryPolicy
	client          *http.Client
	downloadTimeout time.Duration
	logger          *slog.Logger
}

// NewImageWaterfall tries tiers in the given order.
func NewImageWaterfall(tiers []ImageTier, settings ImageSettings, logger *slog.Logger) *ImageWaterfall {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageWaterfall{
		tiers:           tiers,
		policy:          settings.Retry,
		client:          &http.Client{},
		downloadTimeout: settings.DownloadTimeout,
		logger:          logger,
	}
}

// newImageWaterfall registers Pexels and Unsplash when their keys are set,
// followed by DALL-E when an OpenAI key is set.
func newImageWaterfall(cfg *Config, logger *slog.Logger) (*ImageWaterfall, error) {
	settings := cfg.Settings.Images
	var tiers []ImageTier
	if cfg.Secrets.PexelsAPIKey != "" {
		tiers = append(tiers, ImageTier{Source: NewPexelsSource(cfg.Secrets.PexelsAPIKey, settings.Timeout), Retry: true})
	}
	if cfg.Secrets.UnsplashAccessKey != "" {
		tiers = append(tiers, ImageTier{Source: NewUnsplashSource(cfg.Secrets.UnsplashAccessKey, settings.Timeout), Retry: true})
	}
	if cfg.Secrets.OpenAIAPIKey != "" {
		dalle, err := NewDalleSource(cfg.Secrets.OpenAIAPIKey, settings)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, ImageTier{Source: dalle})
	}
	return NewImageWaterfall(tiers, settings, logger), nil
}

// Acquire returns the first image any tier produces, with altText attached.
func (w *ImageWaterfall) Acquire(ctx context.Context, item WorkItem, altText string) (*ImageResult, error) {
	w.logger.Info("→ searching for image", "topic", item.Topic)
	query := ImageQuery{Text: item.Topic, Item: item, AltText: altText}

	for _, tier := range w.tiers {
		name := tier.Source.Name()
		search := func(ctx context.Context) (*ImageResult, error) {
			return tier.Source.Search(ctx, query)
		}

		var img *ImageResult
		var err error
		if tier.Retry {
			img, err = Retry(ctx, w.policy, w.logger, string(name)+" search", search)
		} else {
			img, err = search(ctx)
		}

		switch {
		case err != nil:
			w.logger.Warn("image provider failed", "provider", name, "error", err)
		case img == nil:
			w.logger.Info("image provider had no match", "provider", name)
		default:
			img.AltText = altText
			w.logger.Info("✓ found image", "provider", name, "url", img.URL)
			return img, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, ErrImageNotFound
}

// Download fetches the image bytes.
func (w *ImageWaterfall) Download(ctx context.Context, img *ImageResult) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, w.downloadTimeout)
	defer cancel()

	data, err := getBytes(ctx, w.client, img.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("downloading image: %w", err)
	}
	w.logger.Info("downloaded image", "bytes", len(data))
	return data, nil
}

// PexelsSource searches the Pexels photo API.
type PexelsSource struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewPexelsSource returns a Pexels searcher with a per-request timeout.
func NewPexelsSource(apiKey string, timeout time.Duration) *PexelsSource {
	return &PexelsSource{apiKey: apiKey, baseURL: pexelsBaseURL, client: &http.Client{Timeout: timeout}}
}

// Name identifies the provider.
func (s *PexelsSource) Name() ImageProvider { return ProviderPexels }

// Search asks for one landscape photo and returns nil when nothing matches.
func (s *PexelsSource) Search(ctx context.Context, q ImageQuery) (*ImageResult, error) {
	var resp struct {
		Photos []struct {
			Photographer    string `json:"photographer"`
			PhotographerURL string `json:"photographer_url"`
			Src             struct {
				Large string `json:"large"`
			} `json:"src"`
		} `json:"photos"`
	}
	header := http.Header{"Authorization": {s.apiKey}}
	if err := getJSON(ctx, s.client, s.baseURL+"/search?"+searchParams(q.Text).Encode(), header, &resp); err != nil {
		return nil, err
	}
	if len(resp.Photos) == 0 || resp.Photos[0].Src.Large == "" {
		return nil, nil
	}
	photo := resp.Photos[0]
	return &ImageResult{
		URL:             photo.Src.Large,
		Provider:        ProviderPexels,
		Photographer:    photo.Photographer,
		PhotographerURL: photo.PhotographerURL,
	}, nil
}

// UnsplashSource searches the Unsplash photo API.
type UnsplashSource struct {
	accessKey string
	baseURL   string
	client    *http.Client
}

// NewUnsplashSource returns an Unsplash searcher with a per-request timeout.
func NewUnsplashSource(accessKey string, timeout time.Duration) *UnsplashSource {
	return &UnsplashSource{accessKey: accessKey, baseURL: unsplashBaseURL, client: &http.Client{Timeout: timeout}}
}

func (s *UnsplashSource) Name() ImageProvider { return ProviderUnsplash }

// Search returns the first landscape result, or nil when there is none.
func (s *UnsplashSource) Search(ctx context.Context, q ImageQuery) (*ImageResult, error) {
	var resp struct {
		Results []struct {
			URLs struct {
				Regular string `json:"regular"`
			} `json:"urls"`
			User struct {
				Name  string `json:"name"`
				Links struct {
					HTML string `json:"html"`
				} `json:"links"`
			} `json:"user"`
		} `json:"results"`
	}
	header := http.Header{"Authorization": {"Client-ID " + s.accessKey}}
	if err := getJSON(ctx, s.client, s.baseURL+"/search/photos?"+searchParams(q.Text).Encode(), header, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 || resp.Results[0].URLs.Regular == "" {
		return nil, nil
	}
	photo := resp.Results[0]
	return &ImageResult{
		URL:             photo.URLs.Regular,
		Provider:        ProviderUnsplash,
		Photographer:    photo.User.Name,
		PhotographerURL: photo.User.Links.HTML,
	}, nil
}

// DalleSource generates an image with the OpenAI images API.
type DalleSource struct {
	client          openai.Client
	model           string
	size            string
	quality         string
	promptMaxLength int
}

// NewDalleSource returns the generative fallback. opts are passed to the OpenAI client.
func NewDalleSource(apiKey string, settings ImageSettings, opts ...option.RequestOption) (*DalleSource, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key not set")
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &DalleSource{
		client:          openai.NewClient(opts...),
		model:           settings.Dalle.Model,
		size:            settings.Dalle.Size,
		quality:         settings.Dalle.Quality,
		promptMaxLength: settings.Dalle.PromptMaxLength,
	}, nil
}

func (s *DalleSource) Name() ImageProvider { return ProviderDalle }

// Search generates a single image from the query and alt text.
func (s *DalleSource) Search(ctx context.Context, q ImageQuery) (*ImageResult, error) {
	prompt, err := dallePrompt(q, s.promptMaxLength)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:  prompt,
		Model:   openai.ImageModel(s.model),
		Size:    openai.ImageGenerateParamsSize(s.size),
		Quality: openai.ImageGenerateParamsQuality(s.quality),
		N:       openai.Int(1),
	})
	if err != nil {
		return nil, fmt.Errorf("dall-e generation: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, fmt.Errorf("dall-e generation: no image in response: %w", ErrMalformedResponse)
	}
	return &ImageResult{
		URL:          resp.Data[0].URL,
		Provider:     ProviderDalle,
		Photographer: aiPhotographer,
	}, nil
}

// dallePrompt renders the image prompt and caps it to max runes.
func dallePrompt(q ImageQuery, max int) (string, error) {
	prompt, err := renderPrompt(imagePromptTemplate, q)
	if err != nil {
		return "", err
	}
	if runes := []rune(prompt); max > 0 && len(runes) > max {
		prompt = string(runes[:max])
	}
	return prompt, nil
}

func searchParams(query string) url.Values {
	return url.Values{
		"query":       {query},
		"per_page":    {"1"},
		"orientation": {"landscape"},
	}
}

// getBytes performs a GET and returns the body. Non-2xx responses become
// *HTTPError, client errors wrapped as permanent.
func getBytes(ctx context.Context, client *http.Client, rawURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyHTTP(&HTTPError{StatusCode: resp.StatusCode, URL: req.URL.Redacted(), Body: truncate(string(body), 200)})
	}
	return body, nil
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, header http.Header, out any) error {
	body, err := getBytes(ctx, client, rawURL, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return Permanent(fmt.Errorf("decoding response: %w: %v", ErrMalformedResponse, err))
	}
	return nil
}

func truncate(s string, n int) string {
	if runes := []rune(s); len(runes) > n {
		return string(runes[:n]) + "..."
	}
	return s
}
