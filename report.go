package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const previewLength = 500

var (
	reportTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	reportLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Width(18)
	reportBoxStyle   = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("#444444")).
				Padding(0, 1)
	reportPassStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5FD068"))
	reportFailStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	reportNoteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// ConnectionCheck is one line of the connection test table.
type ConnectionCheck struct {
	Name   string
	Err    error
	Detail string
}

// renderDemoReport shows a generated draft with a markdown preview of the body.
func renderDemoReport(post *PublishedPost) string {
	rows := [][2]string{
		{"SEO Title", post.SEO.Title},
		{"Meta Title", post.SEO.MetaTitle},
		{"Meta Description", post.SEO.MetaDescription},
		{"Slug", post.SEO.Slug},
		{"Word Count", strconv.Itoa(post.Content.WordCount)},
		{"Headings", strings.Join(firstN(post.Content.Headings, 3), ", ")},
		{"Internal Links", strconv.Itoa(len(post.Content.InternalLinks))},
		{"Outbound Link", orNone(post.Content.OutboundLink)},
		{"Categories", strings.Join(post.Categories, ", ")},
		{"Tags", strings.Join(post.Tags, ", ")},
		{"Alt Text", post.AltText},
	}

	lines := []string{reportTitleStyle.Render("DEMO POST GENERATED"), ""}
	for _, row := range rows {
		lines = append(lines, reportLabelStyle.Render(row[0])+row[1])
	}

	preview, err := markdownPreview(post.Content.HTML)
	if err != nil {
		preview = post.Content.HTML
	}
	lines = append(lines, "", reportTitleStyle.Render(fmt.Sprintf("Content Preview (first %d chars)", previewLength)), truncate(preview, previewLength))

	return reportBoxStyle.Render(strings.Join(lines, "\n"))
}

// renderConnectionReport renders one PASS/FAIL line per check.
func renderConnectionReport(checks []ConnectionCheck) string {
	lines := []string{reportTitleStyle.Render("CONNECTION TEST"), ""}
	for _, c := range checks {
		status := reportPassStyle.Render("PASS")
		detail := c.Detail
		if c.Err != nil {
			status = reportFailStyle.Render("FAIL")
			detail = c.Err.Error()
		}
		line := status + "  " + reportLabelStyle.Render(c.Name)
		if detail != "" {
			line += reportNoteStyle.Render(detail)
		}
		lines = append(lines, line)
	}
	return reportBoxStyle.Render(strings.Join(lines, "\n"))
}

// renderBatchReport summarizes a batch run.
func renderBatchReport(stats BatchStats) string {
	lines := []string{
		reportTitleStyle.Render("BATCH COMPLETE"),
		"",
		reportLabelStyle.Render("Total") + strconv.Itoa(stats.Total),
		reportLabelStyle.Render("Success") + reportPassStyle.Render(strconv.Itoa(stats.Success)),
		reportLabelStyle.Render("Failed") + reportFailStyle.Render(strconv.Itoa(stats.Failed)),
	}
	return reportBoxStyle.Render(strings.Join(lines, "\n"))
}

func allPassed(checks []ConnectionCheck) bool {
	for _, c := range checks {
		if c.Err != nil {
			return false
		}
	}
	return true
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
