package main

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrImageNotFound     = errors.New("no image found")
	ErrMalformedResponse = errors.New("malformed response")
	ErrNoSiteForDomain   = errors.New("no WordPress site configured for domain")
	ErrConnectionFailed  = errors.New("WordPress connection failed")
)

// HTTPError represents an HTTP error with status code
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d for %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// WorkItem is one row of the Topics sheet.
type WorkItem struct {
	Topic        string
	BusinessType string
	Location     string
	InternalURLs []string
	SiteDomain   string
	RowNumber    int
}

// SEOMetadata is the structured output of the SEO step.
type SEOMetadata struct {
	Title           string   `json:"title"`
	MetaTitle       string   `json:"meta_title"`
	MetaDescription string   `json:"meta_description"`
	Slug            string   `json:"slug"`
	Keywords        []string `json:"keywords"`
}

// GeneratedContent is the article body plus what was derived from it.
type GeneratedContent struct {
	HTML          string
	WordCount     int
	Headings      []string
	InternalLinks []string
	OutboundLink  string
}

// ImageProvider tags where an image came from.
type ImageProvider string

const (
	ProviderPexels   ImageProvider = "pexels"
	ProviderUnsplash ImageProvider = "unsplash"
	ProviderDalle    ImageProvider = "dalle"
)

// ImageResult is the winning image of the waterfall.
type ImageResult struct {
	URL             string
	Provider        ImageProvider
	AltText         string
	Photographer    string
	PhotographerURL string
}

// PostStatus is the WordPress post status.
type PostStatus string

const (
	PostPublish PostStatus = "publish"
	PostDraft   PostStatus = "draft"
)

// PublishedPost aggregates everything sent to WordPress. RemoteID and
// RemoteURL are only set once the post exists remotely.
type PublishedPost struct {
	Item       WorkItem
	SEO        SEOMetadata
	Content    GeneratedContent
	Image      *ImageResult
	AltText    string
	Categories []string
	Tags       []string
	Status     PostStatus
	RemoteID   int
	RemoteURL  string
}

// RemotePost is the subset of the WordPress post response we keep.
type RemotePost struct {
	ID    int
	Link  string
	Title string
}

// TaskStatus is the value written to the Status column.
type TaskStatus string

const (
	TaskPending    TaskStatus = ""
	TaskProcessing TaskStatus = "Processing"
	TaskCompleted  TaskStatus = "Completed"
	TaskFailed     TaskStatus = "Failed"
)

// Outcome of a processed item as written to the Logs sheet.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomeFailed  Outcome = "Failed"
)

// ResultLogEntry is one row of the Logs sheet.
type ResultLogEntry struct {
	Timestamp time.Time
	Site      string
	Topic     string
	PostTitle string
	PostURL   string
	WordCount int
	Outcome   Outcome
	Error     string
}

// ProcessingResult tracks the outcome of processing each work item
type ProcessingResult struct {
	Item  WorkItem
	Post  *PublishedPost
	Error error
}

// Success reports whether the item was published.
func (r ProcessingResult) Success() bool {
	return r.Error == nil
}

// BatchStats aggregates a batch run.
type BatchStats struct {
	Total   int
	Success int
	Failed  int
}
