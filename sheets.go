package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	sheetsDateLayout = "2006-01-02 15:04:05"
	valueInputRaw    = "RAW"
)

var (
	topicsHeader = []string{"Topic", "Business Type", "Location", "Internal Link URLs", "Site Domain", "Status", "Post URL"}
	logsHeader   = []string{"Date", "Site", "Topic", "Post Title", "Post URL", "Word Count", "Status", "Error"}
)

// TaskStore is the source of work items and the sink for their results.
type TaskStore interface {
	PendingWorkItems(ctx context.Context, limit int) ([]WorkItem, error)
	MarkStatus(ctx context.Context, row int, status TaskStatus, postURL string) error
	AppendLog(ctx context.Context, entry ResultLogEntry) error
}

// SheetsStore keeps work items in a Google spreadsheet: a Topics sheet read
// row by row and a Logs sheet that receives one row per processed item.
type SheetsStore struct {
	service       *sheets.Service
	spreadsheetID string
	settings      SheetsSettings
	logger        *slog.Logger

	mu     sync.Mutex
	exists map[string]bool
}

// NewSheetsStore authenticates with the service account credentials file.
func NewSheetsStore(ctx context.Context, secrets Secrets, settings SheetsSettings, logger *slog.Logger) (*SheetsStore, error) {
	return newSheetsStore(ctx, secrets.SheetID, settings, logger,
		option.WithCredentialsFile(secrets.SheetsCredentials),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
}

func newSheetsStore(ctx context.Context, spreadsheetID string, settings SheetsSettings, logger *slog.Logger, opts ...option.ClientOption) (*SheetsStore, error) {
	if spreadsheetID == "" {
		return nil, errors.New("spreadsheet id not set")
	}
	if logger == nil {
		logger = slog.Default()
	}
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}
	return &SheetsStore{
		service:       service,
		spreadsheetID: spreadsheetID,
		settings:      settings,
		logger:        logger.With("component", "sheets"),
		exists:        make(map[string]bool),
	}, nil
}

// Ping reads the spreadsheet title.
func (s *SheetsStore) Ping(ctx context.Context) error {
	doc, err := s.service.Spreadsheets.Get(s.spreadsheetID).Fields("properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("opening spreadsheet: %w", err)
	}
	title := ""
	if doc.Properties != nil {
		title = doc.Properties.Title
	}
	s.logger.Info("connected to Google Sheets", "title", title)
	return nil
}

// PendingWorkItems returns up to limit rows whose status is not yet final.
// A limit of zero or less returns every pending row.
func (s *SheetsStore) PendingWorkItems(ctx context.Context, limit int) ([]WorkItem, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, sheetRange(s.settings.TopicsSheet, "")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("reading %s sheet: %w", s.settings.TopicsSheet, err)
	}
	items, skipped, err := parseTopicRows(resp.Values, limit)
	if err != nil {
		return nil, err
	}
	for _, row := range skipped {
		s.logger.Warn("skipping row without topic", "row", row)
	}
	s.logger.Info("found pending topics", "count", len(items))
	return items, nil
}

// MarkStatus writes status (and postURL when set) to the item's row,
// adding the Status and Post URL columns if the sheet lacks them.
func (s *SheetsStore) MarkStatus(ctx context.Context, row int, status TaskStatus, postURL string) error {
	sheet := s.settings.TopicsSheet
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, sheetRange(sheet, "1:1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("reading %s header: %w", sheet, err)
	}
	var header []string
	if len(resp.Values) > 0 {
		header = cellStrings(resp.Values[0])
	}

	var data []*sheets.ValueRange
	column := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		header = append(header, name)
		idx := len(header) - 1
		s.logger.Warn("adding missing column", "sheet", sheet, "column", name)
		data = append(data, cellValue(sheet, idx, 1, name))
		return idx
	}

	statusCol := column("Status")
	data = append(data, cellValue(sheet, statusCol, row, string(status)))
	if postURL != "" {
		urlCol := column("Post URL")
		data = append(data, cellValue(sheet, urlCol, row, postURL))
	}

	_, err = s.service.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: valueInputRaw,
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("updating row %d: %w", row, err)
	}
	s.logger.Info("updated row", "row", row, "status", status)
	return nil
}

// AppendLog adds a row to the Logs sheet, creating the sheet on first use.
// It does nothing when sheet logging is disabled.
func (s *SheetsStore) AppendLog(ctx context.Context, entry ResultLogEntry) error {
	if !s.settings.LogToSheet {
		return nil
	}
	if err := s.ensureSheet(ctx, s.settings.LogsSheet, logsHeader, false); err != nil {
		return err
	}
	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, sheetRange(s.settings.LogsSheet, "A1"), &sheets.ValueRange{
		Values: [][]interface{}{logRow(entry)},
	}).ValueInputOption(valueInputRaw).InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("appending to %s sheet: %w", s.settings.LogsSheet, err)
	}
	s.logger.Debug("logged result", "title", entry.PostTitle)
	return nil
}

// CreateTemplate creates the Topics and Logs sheets if needed and writes
// their header rows.
func (s *SheetsStore) CreateTemplate(ctx context.Context) error {
	if err := s.ensureSheet(ctx, s.settings.TopicsSheet, topicsHeader, true); err != nil {
		return err
	}
	if err := s.ensureSheet(ctx, s.settings.LogsSheet, logsHeader, true); err != nil {
		return err
	}
	s.logger.Info("template sheets created")
	return nil
}

// ensureSheet adds the sheet when it is missing and writes header to it. An
// existing sheet only gets its header rewritten when overwrite is set.
func (s *SheetsStore) ensureSheet(ctx context.Context, title string, header []string, overwrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.exists[title] {
		doc, err := s.service.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("listing sheets: %w", err)
		}
		for _, sh := range doc.Sheets {
			if sh.Properties != nil {
				s.exists[sh.Properties.Title] = true
			}
		}
	}

	if !s.exists[title] {
		s.logger.Info("creating sheet", "sheet", title)
		_, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{
						Title:          title,
						GridProperties: &sheets.GridProperties{RowCount: 1000, ColumnCount: int64(len(header))},
					},
				},
			}},
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("creating %s sheet: %w", title, err)
		}
		s.exists[title] = true
		overwrite = true
	}

	if !overwrite {
		return nil
	}
	row := make([]interface{}, len(header))
	for i, h := range header {
		row[i] = h
	}
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, sheetRange(title, "A1:"+columnLetter(len(header))+"1"), &sheets.ValueRange{
		Values: [][]interface{}{row},
	}).ValueInputOption(valueInputRaw).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("writing %s header: %w", title, err)
	}
	return nil
}

// parseTopicRows maps the rows below the header to work items. Rows with a
// final status are left out; rows without a topic are reported in skipped.
// Row numbers are 1-based sheet rows, so the first data row is 2.
func parseTopicRows(values [][]interface{}, limit int) (items []WorkItem, skipped []int, err error) {
	if len(values) == 0 {
		return nil, nil, nil
	}
	index := make(map[string]int)
	for i, h := range cellStrings(values[0]) {
		index[h] = i
	}
	if _, ok := index["Topic"]; !ok {
		return nil, nil, errors.New("topics sheet has no Topic column")
	}

	for i, raw := range values[1:] {
		rowNumber := i + 2
		cells := cellStrings(raw)
		get := func(name string) string {
			if idx, ok := index[name]; ok && idx < len(cells) {
				return cells[idx]
			}
			return ""
		}

		switch strings.ToLower(get("Status")) {
		case "completed", "processing", "failed":
			continue
		}
		topic := get("Topic")
		if topic == "" {
			skipped = append(skipped, rowNumber)
			continue
		}

		items = append(items, WorkItem{
			Topic:        topic,
			BusinessType: get("Business Type"),
			Location:     get("Location"),
			InternalURLs: splitList(get("Internal Link URLs")),
			SiteDomain:   get("Site Domain"),
			RowNumber:    rowNumber,
		})
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, skipped, nil
}

// logRow renders entry in Logs column order.
func logRow(entry ResultLogEntry) []interface{} {
	postURL := entry.PostURL
	if postURL == "" {
		postURL = "N/A"
	}
	return []interface{}{
		entry.Timestamp.Format(sheetsDateLayout),
		entry.Site,
		entry.Topic,
		entry.PostTitle,
		postURL,
		strconv.Itoa(entry.WordCount),
		string(entry.Outcome),
		entry.Error,
	}
}

// columnLetter converts a 1-based column number to A1 notation.
func columnLetter(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// sheetRange builds an A1 range, quoting sheet names that need it.
func sheetRange(sheet, cells string) string {
	name := sheet
	if strings.ContainsAny(sheet, " '!:") {
		name = "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	}
	if cells == "" {
		return name
	}
	return name + "!" + cells
}

func cellValue(sheet string, col, row int, value string) *sheets.ValueRange {
	return &sheets.ValueRange{
		Range:  sheetRange(sheet, columnLetter(col+1)+strconv.Itoa(row)),
		Values: [][]interface{}{{value}},
	}
}

func cellStrings(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
