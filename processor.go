// processor.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ImageAcquirer finds and downloads a featured image.
type ImageAcquirer interface {
	Acquire(ctx context.Context, item WorkItem, altText string) (*ImageResult, error)
	Download(ctx context.Context, img *ImageResult) ([]byte, error)
}

// Publisher is one WordPress site.
type Publisher interface {
	TestConnection(ctx context.Context) (bool, error)
	Publish(ctx context.Context, post *PublishedPost, image []byte) (*RemotePost, error)
	RecentPosts(ctx context.Context, limit int) ([]RemotePost, error)
}

// BlogProcessor handles the main workflow
type BlogProcessor struct {
	cfg          *Config
	generator    *ContentGenerator
	images       ImageAcquirer
	tasks        TaskStore
	notify       *NotificationService
	newPublisher func(WordPressSite) Publisher
	now          func() time.Time
	logger       *slog.Logger
}

// NewBlogProcessor wires the pipeline. notify may be nil.
func NewBlogProcessor(cfg *Config, generator *ContentGenerator, images ImageAcquirer, tasks TaskStore, notify *NotificationService, logger *slog.Logger) *BlogProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	publishing := cfg.Settings.Publishing
	return &BlogProcessor{
		cfg:       cfg,
		generator: generator,
		images:    images,
		tasks:     tasks,
		notify:    notify,
		newPublisher: func(site WordPressSite) Publisher {
			return NewWordPressClient(site, publishing.Timeout, publishing.Retry, logger)
		},
		now:    time.Now,
		logger: logger,
	}
}

// ProcessBatch processes up to limit pending items one after another. A
// limit of zero or less processes every pending item.
func (p *BlogProcessor) ProcessBatch(ctx context.Context, limit int) (BatchStats, error) {
	p.logger.Info("starting batch processing", "limit", limit)

	items, err := p.tasks.PendingWorkItems(ctx, limit)
	if err != nil {
		return BatchStats{}, fmt.Errorf("reading pending topics: %w", err)
	}
	if len(items) == 0 {
		p.logger.Info("no pending topics found")
		return BatchStats{}, nil
	}

	stats := BatchStats{Total: len(items)}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("batch interrupted", "processed", i, "total", len(items))
			stats.Total = i
			return stats, err
		}
		p.logger.Info(fmt.Sprintf("[%d/%d] processing: %s", i+1, len(items), item.Topic))

		var result ProcessingResult
		if site, ok := p.cfg.FindSite(item.SiteDomain); ok {
			result = p.ProcessItem(ctx, item, site)
		} else {
			result = p.failUnmatched(ctx, item)
		}

		if result.Success() {
			stats.Success++
		} else {
			stats.Failed++
		}
	}

	p.logger.Info("batch processing complete", "success", stats.Success, "failed", stats.Failed, "total", stats.Total)
	return stats, nil
}

// ProcessItem runs the full pipeline for one item. Failures are recorded in
// the task store and returned in the result, never panicked or raised.
func (p *BlogProcessor) ProcessItem(ctx context.Context, item WorkItem, site WordPressSite) ProcessingResult {
	logger := p.logger.With("topic", item.Topic, "site", site.Name, "row", item.RowNumber)
	logger.Info("processing topic")

	p.markStatus(ctx, logger, item.RowNumber, TaskProcessing, "")

	post, err := p.publishItem(ctx, logger, item, site)
	if err != nil {
		p.recordFailure(ctx, logger, item, site.Name, err)
		return ProcessingResult{Item: item, Error: err}
	}

	p.markStatus(ctx, logger, item.RowNumber, TaskCompleted, post.RemoteURL)
	p.appendLog(ctx, logger, ResultLogEntry{
		Timestamp: p.now(),
		Site:      site.Name,
		Topic:     item.Topic,
		PostTitle: post.SEO.Title,
		PostURL:   post.RemoteURL,
		WordCount: post.Content.WordCount,
		Outcome:   OutcomeSuccess,
	})
	if p.cfg.Settings.Notifications.PerPost {
		p.notify.SendSuccess(ctx, site.Name, post.SEO.Title, post.RemoteURL)
	}

	logger.Info("✓ post published", "url", post.RemoteURL, "id", post.RemoteID)
	return ProcessingResult{Item: item, Post: post}
}

// GenerateDemo runs the generation steps only. Nothing is fetched, uploaded
// or written to the task store.
func (p *BlogProcessor) GenerateDemo(ctx context.Context, item WorkItem) (*PublishedPost, error) {
	p.logger.Info("generating demo content (not publishing)", "topic", item.Topic)
	return p.draft(ctx, p.logger.With("topic", item.Topic), item)
}

func (p *BlogProcessor) publishItem(ctx context.Context, logger *slog.Logger, item WorkItem, site WordPressSite) (*PublishedPost, error) {
	publisher := p.newPublisher(site)

	if p.cfg.Settings.Content.EnableInternalLinking && len(item.InternalURLs) == 0 {
		item.InternalURLs = p.recentLinks(ctx, logger, publisher)
	}

	post, err := p.draft(ctx, logger, item)
	if err != nil {
		return nil, err
	}

	logger.Info("→ acquiring featured image")
	var image []byte
	img, err := p.images.Acquire(ctx, item, post.AltText)
	switch {
	case errors.Is(err, ErrImageNotFound):
		logger.Warn("no image found, publishing without featured image")
	case err != nil:
		return nil, fmt.Errorf("acquiring image: %w", err)
	default:
		image, err = p.images.Download(ctx, img)
		if err != nil {
			logger.Warn("image download failed, publishing without featured image", "error", err)
		} else {
			post.Image = img
		}
	}

	logger.Info("→ publishing to WordPress")
	ok, err := publisher.TestConnection(ctx)
	if err != nil {
		return nil, &PublishError{Stage: StageAuthenticate, Err: fmt.Errorf("%w: %w", ErrConnectionFailed, err)}
	}
	if !ok {
		return nil, &PublishError{Stage: StageAuthenticate, Err: ErrConnectionFailed}
	}

	remote, err := publisher.Publish(ctx, post, image)
	if err != nil {
		return nil, err
	}
	post.RemoteID = remote.ID
	post.RemoteURL = remote.Link
	return post, nil
}

// draft runs SEO, content, taxonomy and alt text generation in order.
func (p *BlogProcessor) draft(ctx context.Context, logger *slog.Logger, item WorkItem) (*PublishedPost, error) {
	logger.Info("→ generating SEO metadata")
	seo, err := p.generator.GenerateSEOMetadata(ctx, item)
	if err != nil {
		return nil, err
	}

	logger.Info("→ writing article", "title", seo.Title)
	content, err := p.generator.GenerateContent(ctx, item, seo)
	if err != nil {
		return nil, err
	}

	logger.Info("→ generating categories and tags")
	categories, tags, err := p.generator.GenerateTaxonomy(ctx, item, content)
	if err != nil {
		return nil, err
	}

	logger.Info("→ generating alt text")
	altText, err := p.generator.GenerateAltText(ctx, item)
	if err != nil {
		return nil, err
	}

	return &PublishedPost{
		Item:       item,
		SEO:        *seo,
		Content:    *content,
		AltText:    altText,
		Categories: categories,
		Tags:       tags,
		Status:     p.cfg.Settings.Publishing.Status,
	}, nil
}

// recentLinks offers the site's newest posts as internal link candidates
// for items that list none. Failures leave the item without candidates.
func (p *BlogProcessor) recentLinks(ctx context.Context, logger *slog.Logger, publisher Publisher) []string {
	posts, err := publisher.RecentPosts(ctx, p.cfg.Settings.Content.MaxInternalLinks)
	if err != nil {
		logger.Warn("could not list recent posts for internal links", "error", err)
		return nil
	}
	links := make([]string, 0, len(posts))
	for _, post := range posts {
		if post.Link != "" {
			links = append(links, post.Link)
		}
	}
	logger.Debug("using recent posts as internal links", "count", len(links))
	return links
}

func (p *BlogProcessor) failUnmatched(ctx context.Context, item WorkItem) ProcessingResult {
	logger := p.logger.With("topic", item.Topic, "row", item.RowNumber)
	err := fmt.Errorf("%w: %q", ErrNoSiteForDomain, item.SiteDomain)
	p.recordFailure(ctx, logger, item, item.SiteDomain, err)
	return ProcessingResult{Item: item, Error: err}
}

func (p *BlogProcessor) recordFailure(ctx context.Context, logger *slog.Logger, item WorkItem, site string, err error) {
	logger.Error("✗ failed to process topic", "error", err)
	p.markStatus(ctx, logger, item.RowNumber, TaskFailed, "")
	p.appendLog(ctx, logger, ResultLogEntry{
		Timestamp: p.now(),
		Site:      site,
		Topic:     item.Topic,
		PostTitle: item.Topic,
		Outcome:   OutcomeFailed,
		Error:     err.Error(),
	})
	if p.cfg.Settings.Notifications.PerPost {
		p.notify.SendFailure(ctx, site, item.Topic, err)
	}
}

// markStatus and appendLog outlive a cancelled run so rows do not stay
// Processing. Their failures are logged only.
func (p *BlogProcessor) markStatus(ctx context.Context, logger *slog.Logger, row int, status TaskStatus, postURL string) {
	if err := p.tasks.MarkStatus(context.WithoutCancel(ctx), row, status, postURL); err != nil {
		logger.Error("failed to update topic status", "status", status, "error", err)
	}
}

func (p *BlogProcessor) appendLog(ctx context.Context, logger *slog.Logger, entry ResultLogEntry) {
	if err := p.tasks.AppendLog(context.WithoutCancel(ctx), entry); err != nil {
		logger.Error("failed to log result", "error", err)
	}
}
