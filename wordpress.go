package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PublishStage names the step of a publish that failed.
type PublishStage string

const (
	StageAuthenticate    PublishStage = "authenticate"
	StageUploadImage     PublishStage = "upload image"
	StageResolveTaxonomy PublishStage = "resolve taxonomy"
	StageCreatePost      PublishStage = "create post"
)

// PublishError wraps a failure with the stage it happened in.
type PublishError struct {
	Stage PublishStage
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed at %s: %v", e.Stage, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// TermKind is a WordPress taxonomy endpoint.
type TermKind string

const (
	TermCategories TermKind = "categories"
	TermTags       TermKind = "tags"
)

// WordPressClient talks to one site's REST API with an application password.
type WordPressClient struct {
	site   WordPressSite
	apiURL string
	client *http.Client
	policy RetryPolicy
	logger *slog.Logger
}

// NewWordPressClient builds a client for site. Every request is bounded by timeout.
func NewWordPressClient(site WordPressSite, timeout time.Duration, policy RetryPolicy, logger *slog.Logger) *WordPressClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WordPressClient{
		site:   site,
		apiURL: strings.TrimRight(site.URL, "/") + "/wp-json/wp/v2",
		client: &http.Client{Timeout: timeout},
		policy: policy,
		logger: logger.With("site", site.Name),
	}
}

// TestConnection checks the credentials. A rejected login is (false, nil);
// an unreachable site is (false, err).
func (c *WordPressClient) TestConnection(ctx context.Context) (bool, error) {
	var user struct {
		Name string `json:"name"`
	}
	err := c.do(ctx, http.MethodGet, "/users/me", nil, nil, &user)
	if err != nil {
		c.logger.Error("WordPress connection failed", "error", err)
		if _, ok := asHTTPError(err); ok {
			return false, nil
		}
		return false, err
	}
	c.logger.Info("connected to WordPress", "user", user.Name)
	return true, nil
}

// UploadMedia stores the image in the media library and sets its alt text.
func (c *WordPressClient) UploadMedia(ctx context.Context, data []byte, img *ImageResult) (int, error) {
	ext, contentType := "jpg", "image/jpeg"
	if strings.Contains(strings.ToLower(img.URL), "png") {
		ext, contentType = "png", "image/png"
	}
	filename := fmt.Sprintf("featured-image-%s.%s", uuid.NewSHA1(uuid.NameSpaceURL, []byte(img.URL)).String()[:8], ext)

	mediaID, err := Retry(ctx, c.policy, c.logger, "media upload", func(ctx context.Context) (int, error) {
		var media struct {
			ID int `json:"id"`
		}
		header := http.Header{
			"Content-Disposition": {fmt.Sprintf("attachment; filename=%q", filename)},
			"Content-Type":        {contentType},
		}
		if err := c.do(ctx, http.MethodPost, "/media", header, bytes.NewReader(data), &media); err != nil {
			return 0, err
		}
		if media.ID == 0 {
			return 0, Permanent(fmt.Errorf("media response without id: %w", ErrMalformedResponse))
		}
		return media.ID, nil
	})
	if err != nil {
		return 0, fmt.Errorf("uploading image: %w", err)
	}

	if img.AltText != "" {
		if err := c.postJSON(ctx, "/media/"+strconv.Itoa(mediaID), map[string]string{"alt_text": img.AltText}, nil); err != nil {
			c.logger.Warn("failed to set image alt text", "media_id", mediaID, "error", err)
		}
	}
	c.logger.Info("uploaded image", "media_id", mediaID, "filename", filename)
	return mediaID, nil
}

// ResolveTerms maps names to term ids, creating missing terms. Names that
// cannot be resolved are dropped; the order of the rest is kept.
func (c *WordPressClient) ResolveTerms(ctx context.Context, kind TermKind, names []string) []int {
	ids := make([]int, 0, len(names))
	for _, name := range names {
		id, err := c.resolveTerm(ctx, kind, name)
		if err != nil {
			c.logger.Warn("failed to resolve term", "kind", kind, "name", name, "error", err)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (c *WordPressClient) resolveTerm(ctx context.Context, kind TermKind, name string) (int, error) {
	var found []struct {
		ID int `json:"id"`
	}
	path := "/" + string(kind) + "?" + url.Values{"search": {name}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &found); err != nil {
		return 0, fmt.Errorf("searching: %w", err)
	}
	if len(found) > 0 {
		return found[0].ID, nil
	}

	var created struct {
		ID int `json:"id"`
	}
	if err := c.postJSON(ctx, "/"+string(kind), map[string]string{"name": name}, &created); err != nil {
		return 0, fmt.Errorf("creating: %w", err)
	}
	if created.ID == 0 {
		return 0, fmt.Errorf("created term without id: %w", ErrMalformedResponse)
	}
	c.logger.Info("created term", "kind", kind, "name", name)
	return created.ID, nil
}

type postPayload struct {
	Title         string            `json:"title"`
	Content       string            `json:"content"`
	Status        PostStatus        `json:"status"`
	Slug          string            `json:"slug,omitempty"`
	Excerpt       string            `json:"excerpt,omitempty"`
	FeaturedMedia int               `json:"featured_media,omitempty"`
	Categories    []int             `json:"categories,omitempty"`
	Tags          []int             `json:"tags,omitempty"`
	Meta          map[string]string `json:"meta"`
	YoastMeta     map[string]string `json:"yoast_meta"`
}

// CreatePost creates the post. categoryIDs and tagIDs must already be resolved.
func (c *WordPressClient) CreatePost(ctx context.Context, post *PublishedPost, mediaID int, categoryIDs, tagIDs []int) (*RemotePost, error) {
	payload := postPayload{
		Title:         post.SEO.Title,
		Content:       post.Content.HTML,
		Status:        post.Status,
		Slug:          post.SEO.Slug,
		Excerpt:       post.SEO.MetaDescription,
		FeaturedMedia: mediaID,
		Categories:    categoryIDs,
		Tags:          tagIDs,
		Meta:          map[string]string{"description": post.SEO.MetaDescription},
		YoastMeta: map[string]string{
			"yoast_wpseo_title":    post.SEO.MetaTitle,
			"yoast_wpseo_metadesc": post.SEO.MetaDescription,
		},
	}

	return Retry(ctx, c.policy, c.logger, "create post", func(ctx context.Context) (*RemotePost, error) {
		var resp struct {
			ID    int    `json:"id"`
			Link  string `json:"link"`
			Title struct {
				Rendered string `json:"rendered"`
			} `json:"title"`
		}
		if err := c.postJSON(ctx, "/posts", payload, &resp); err != nil {
			return nil, err
		}
		if resp.ID == 0 {
			return nil, Permanent(fmt.Errorf("post response without id: %w", ErrMalformedResponse))
		}
		c.logger.Info("created post", "id", resp.ID, "title", resp.Title.Rendered, "link", resp.Link)
		return &RemotePost{ID: resp.ID, Link: resp.Link, Title: resp.Title.Rendered}, nil
	})
}

// Publish uploads the image (if any), resolves taxonomy and creates the
// post. An image that fails to upload is dropped and the post goes out
// without featured media.
func (c *WordPressClient) Publish(ctx context.Context, post *PublishedPost, image []byte) (*RemotePost, error) {
	mediaID := 0
	if len(image) > 0 && post.Image != nil {
		id, err := c.UploadMedia(ctx, image, post.Image)
		if err != nil {
			c.logger.Error("publishing without featured image", "error", &PublishError{Stage: StageUploadImage, Err: err})
		} else {
			mediaID = id
		}
	}

	categoryIDs := c.ResolveTerms(ctx, TermCategories, post.Categories)
	tagIDs := c.ResolveTerms(ctx, TermTags, post.Tags)
	if err := ctx.Err(); err != nil {
		return nil, &PublishError{Stage: StageResolveTaxonomy, Err: err}
	}

	remote, err := c.CreatePost(ctx, post, mediaID, categoryIDs, tagIDs)
	if err != nil {
		return nil, &PublishError{Stage: StageCreatePost, Err: err}
	}
	return remote, nil
}

// RecentPosts returns the newest published posts.
func (c *WordPressClient) RecentPosts(ctx context.Context, limit int) ([]RemotePost, error) {
	var resp []struct {
		ID    int    `json:"id"`
		Link  string `json:"link"`
		Title struct {
			Rendered string `json:"rendered"`
		} `json:"title"`
	}
	query := url.Values{"per_page": {strconv.Itoa(limit)}, "orderby": {"date"}, "status": {"publish"}}
	if err := c.do(ctx, http.MethodGet, "/posts?"+query.Encode(), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing recent posts: %w", err)
	}
	posts := make([]RemotePost, 0, len(resp))
	for _, p := range resp {
		posts = append(posts, RemotePost{ID: p.ID, Link: p.Link, Title: p.Title.Rendered})
	}
	return posts, nil
}

func (c *WordPressClient) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, http.Header{"Content-Type": {"application/json"}}, bytes.NewReader(body), out)
}

func (c *WordPressClient) do(ctx context.Context, method, path string, header http.Header, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return Permanent(fmt.Errorf("creating request: %w", err))
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.SetBasicAuth(c.site.Username, c.site.AppPassword)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyHTTP(&HTTPError{StatusCode: resp.StatusCode, URL: c.apiURL + path, Body: truncate(string(data), 200)})
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return Permanent(fmt.Errorf("decoding %s response: %w: %v", path, ErrMalformedResponse, err))
	}
	return nil
}

func asHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	ok := errors.As(err, &httpErr)
	return httpErr, ok
}
