package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const testSpreadsheetID = "sheet-123"

// fakeSheets serves the handful of Sheets API calls SheetsStore makes.
type fakeSheets struct {
	mu       sync.Mutex
	titles   []string
	values   map[string][][]interface{}
	added    []string
	written  []*sheets.ValueRange
	appended []*sheets.ValueRange
}

func newFakeSheets(t *testing.T) (*fakeSheets, *SheetsStore) {
	t.Helper()
	fs := &fakeSheets{titles: []string{"Topics"}, values: map[string][][]interface{}{}}
	server := httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(server.Close)

	settings := defaultSettings().Sheets
	store, err := newSheetsStore(context.Background(), testSpreadsheetID, settings, nil,
		option.WithEndpoint(server.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)
	return fs, store
}

func (fs *fakeSheets) serve(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	prefix := "/v4/spreadsheets/" + testSpreadsheetID
	path := strings.TrimPrefix(r.URL.Path, prefix)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && path == "":
		var doc sheets.Spreadsheet
		doc.Properties = &sheets.SpreadsheetProperties{Title: "Blog Topics"}
		for _, title := range fs.titles {
			doc.Sheets = append(doc.Sheets, &sheets.Sheet{Properties: &sheets.SheetProperties{Title: title}})
		}
		json.NewEncoder(w).Encode(doc)

	case r.Method == http.MethodPost && path == ":batchUpdate":
		var req sheets.BatchUpdateSpreadsheetRequest
		json.NewDecoder(r.Body).Decode(&req)
		for _, sub := range req.Requests {
			if sub.AddSheet != nil {
				fs.added = append(fs.added, sub.AddSheet.Properties.Title)
				fs.titles = append(fs.titles, sub.AddSheet.Properties.Title)
			}
		}
		json.NewEncoder(w).Encode(sheets.BatchUpdateSpreadsheetResponse{SpreadsheetId: testSpreadsheetID})

	case r.Method == http.MethodPost && path == "/values:batchUpdate":
		var req sheets.BatchUpdateValuesRequest
		json.NewDecoder(r.Body).Decode(&req)
		fs.written = append(fs.written, req.Data...)
		json.NewEncoder(w).Encode(sheets.BatchUpdateValuesResponse{SpreadsheetId: testSpreadsheetID})

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		var vr sheets.ValueRange
		json.NewDecoder(r.Body).Decode(&vr)
		vr.Range = strings.TrimSuffix(strings.TrimPrefix(path, "/values/"), ":append")
		fs.appended = append(fs.appended, &vr)
		json.NewEncoder(w).Encode(sheets.AppendValuesResponse{SpreadsheetId: testSpreadsheetID})

	case r.Method == http.MethodPut && strings.HasPrefix(path, "/values/"):
		var vr sheets.ValueRange
		json.NewDecoder(r.Body).Decode(&vr)
		vr.Range = strings.TrimPrefix(path, "/values/")
		fs.written = append(fs.written, &vr)
		json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{SpreadsheetId: testSpreadsheetID})

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/values/"):
		rng := strings.TrimPrefix(path, "/values/")
		json.NewEncoder(w).Encode(sheets.ValueRange{Range: rng, Values: fs.values[rng]})

	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusNotFound)
	}
}

func sheetRow(cells ...interface{}) []interface{} { return cells }

func TestParseTopicRows(t *testing.T) {
	header := sheetRow("Topic", "Business Type", "Location", "Internal Link URLs", "Site Domain", "Status")
	values := [][]interface{}{
		header,
		sheetRow("Best Coffee Shops", "Coffee Shop", "San Francisco", "https://a.com/about, https://a.com/contact,", "a.com", ""),
		sheetRow("Done already", "Bakery", "Austin", "", "b.com", " Completed "),
		sheetRow("", "Bakery", "Austin", "", "b.com", ""),
		sheetRow("Still pending", "Bakery", "Austin", "", "b.com", "Pending"),
		sheetRow("Short row", "Gym"),
		sheetRow("Failed earlier", "Gym", "Oslo", "", "c.com", "failed"),
		sheetRow("In flight", "Gym", "Oslo", "", "c.com", "PROCESSING"),
		sheetRow("Lower pending", "Gym", "Oslo", "", "c.com", "pending"),
	}

	tests := []struct {
		name        string
		limit       int
		wantRows    []int
		wantSkipped []int
	}{
		{name: "no limit", limit: 0, wantRows: []int{2, 5, 6, 9}, wantSkipped: []int{4}},
		{name: "limit stops early", limit: 2, wantRows: []int{2, 5}, wantSkipped: []int{4}},
		{name: "limit one", limit: 1, wantRows: []int{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, skipped, err := parseTopicRows(values, tt.limit)
			require.NoError(t, err)

			var rows []int
			for _, item := range items {
				rows = append(rows, item.RowNumber)
			}
			assert.Equal(t, tt.wantRows, rows)
			assert.Equal(t, tt.wantSkipped, skipped)
		})
	}

	items, _, err := parseTopicRows(values, 1)
	require.NoError(t, err)
	assert.Equal(t, WorkItem{
		Topic:        "Best Coffee Shops",
		BusinessType: "Coffee Shop",
		Location:     "San Francisco",
		InternalURLs: []string{"https://a.com/about", "https://a.com/contact"},
		SiteDomain:   "a.com",
		RowNumber:    2,
	}, items[0])
}

func TestParseTopicRowsHeaderErrors(t *testing.T) {
	items, _, err := parseTopicRows(nil, 0)
	assert.NoError(t, err)
	assert.Empty(t, items)

	_, _, err = parseTopicRows([][]interface{}{sheetRow("Subject", "Location")}, 0)
	assert.Error(t, err)
}

func TestColumnLetter(t *testing.T) {
	tests := map[int]string{1: "A", 6: "F", 26: "Z", 27: "AA", 52: "AZ", 703: "AAA"}
	for n, want := range tests {
		assert.Equal(t, want, columnLetter(n), "column %d", n)
	}
}

func TestSheetRange(t *testing.T) {
	assert.Equal(t, "Topics", sheetRange("Topics", ""))
	assert.Equal(t, "Topics!F3", sheetRange("Topics", "F3"))
	assert.Equal(t, "'Blog Logs'!A1", sheetRange("Blog Logs", "A1"))
	assert.Equal(t, "'Bob''s'!A1", sheetRange("Bob's", "A1"))
}

func TestLogRow(t *testing.T) {
	ts := time.Date(2024, 3, 5, 9, 4, 0, 0, time.UTC)
	got := logRow(ResultLogEntry{
		Timestamp: ts,
		Site:      "Coffee Blog",
		Topic:     "Best Coffee Shops",
		PostTitle: "Best Coffee Shops in SF",
		WordCount: 912,
		Outcome:   OutcomeFailed,
		Error:     "boom",
	})
	assert.Equal(t, []interface{}{"2024-03-05 09:04:00", "Coffee Blog", "Best Coffee Shops", "Best Coffee Shops in SF", "N/A", "912", "Failed", "boom"}, got)
}

func TestSheetsStorePendingWorkItems(t *testing.T) {
	fs, store := newFakeSheets(t)
	fs.values["Topics"] = [][]interface{}{
		sheetRow("Topic", "Business Type", "Location", "Internal Link URLs", "Site Domain", "Status"),
		sheetRow("Best Coffee Shops", "Coffee Shop", "San Francisco", "", "a.com", ""),
		sheetRow("Done", "Coffee Shop", "San Francisco", "", "a.com", "Completed"),
	}

	items, err := store.PendingWorkItems(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Best Coffee Shops", items[0].Topic)
	assert.Equal(t, 2, items[0].RowNumber)
}

func TestSheetsStoreMarkStatus(t *testing.T) {
	tests := []struct {
		name    string
		header  []interface{}
		postURL string
		want    map[string]string
	}{
		{
			name:   "existing status column",
			header: sheetRow("Topic", "Business Type", "Location", "Internal Link URLs", "Site Domain", "Status", "Post URL"),
			want:   map[string]string{"Topics!F3": "Processing"},
		},
		{
			name:    "with post url",
			header:  sheetRow("Topic", "Business Type", "Location", "Internal Link URLs", "Site Domain", "Status", "Post URL"),
			postURL: "https://a.com/p/",
			want:    map[string]string{"Topics!F3": "Processing", "Topics!G3": "https://a.com/p/"},
		},
		{
			name:    "missing columns are added",
			header:  sheetRow("Topic", "Business Type", "Location", "Internal Link URLs", "Site Domain"),
			postURL: "https://a.com/p/",
			want: map[string]string{
				"Topics!F1": "Status",
				"Topics!F3": "Processing",
				"Topics!G1": "Post URL",
				"Topics!G3": "https://a.com/p/",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, store := newFakeSheets(t)
			fs.values["Topics!1:1"] = [][]interface{}{tt.header}

			require.NoError(t, store.MarkStatus(context.Background(), 3, TaskProcessing, tt.postURL))

			got := map[string]string{}
			for _, vr := range fs.written {
				got[vr.Range] = vr.Values[0][0].(string)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSheetsStoreAppendLogCreatesSheet(t *testing.T) {
	fs, store := newFakeSheets(t)
	entry := ResultLogEntry{Timestamp: time.Now(), Topic: "Best Coffee Shops", Outcome: OutcomeSuccess, PostURL: "https://a.com/p/"}

	require.NoError(t, store.AppendLog(context.Background(), entry))
	require.NoError(t, store.AppendLog(context.Background(), entry))

	assert.Equal(t, []string{"Logs"}, fs.added, "sheet is created once")
	require.Len(t, fs.written, 1)
	assert.Equal(t, "Logs!A1:H1", fs.written[0].Range)
	assert.Len(t, fs.written[0].Values[0], len(logsHeader))
	require.Len(t, fs.appended, 2)
	assert.Equal(t, "https://a.com/p/", fs.appended[0].Values[0][4])
}

func TestSheetsStoreAppendLogDisabled(t *testing.T) {
	fs, store := newFakeSheets(t)
	store.settings.LogToSheet = false

	require.NoError(t, store.AppendLog(context.Background(), ResultLogEntry{Topic: "x"}))
	assert.Empty(t, fs.appended)
	assert.Empty(t, fs.added)
}

func TestSheetsStoreCreateTemplate(t *testing.T) {
	fs, store := newFakeSheets(t)

	require.NoError(t, store.CreateTemplate(context.Background()))
	assert.Equal(t, []string{"Logs"}, fs.added)

	ranges := map[string]int{}
	for _, vr := range fs.written {
		ranges[vr.Range] = len(vr.Values[0])
	}
	assert.Equal(t, map[string]int{"Topics!A1:G1": 7, "Logs!A1:H1": 8}, ranges)
}

func TestSheetsStorePing(t *testing.T) {
	_, store := newFakeSheets(t)
	assert.NoError(t, store.Ping(context.Background()))
}
