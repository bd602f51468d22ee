package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfluence struct {
	pages       map[string]string // title -> id
	created     []string
	attachments map[string][]string // page id -> file names
}

func newFakeConfluence(pages map[string]string) *fakeConfluence {
	return &fakeConfluence{pages: pages, attachments: map[string][]string{}}
}

func (f *fakeConfluence) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /rest/api/content", func(w http.ResponseWriter, r *http.Request) {
		user, token, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "bot@example.com", user)
		assert.Equal(t, "secret-token", token)

		title := r.URL.Query().Get("title")
		results := []Page{}
		if id, ok := f.pages[title]; ok {
			results = append(results, Page{ID: id, Title: title})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	})

	mux.HandleFunc("POST /rest/api/content", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Title     string `json:"title"`
			Ancestors []struct {
				ID string `json:"id"`
			} `json:"ancestors"`
			Body struct {
				Storage struct {
					Value string `json:"value"`
				} `json:"storage"`
			} `json:"body"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.Ancestors, 1)
		assert.Contains(t, payload.Body.Storage.Value, "ac:name=\"attachments\"")

		id := fmt.Sprintf("page-%d", len(f.pages)+1)
		f.pages[payload.Title] = id
		f.created = append(f.created, payload.Title)
		_ = json.NewEncoder(w).Encode(Page{ID: id, Title: payload.Title})
	})

	mux.HandleFunc("PUT /rest/api/content/{id}/child/attachment", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "nocheck", r.Header.Get("X-Atlassian-Token"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		id := r.PathValue("id")
		f.attachments[id] = append(f.attachments[id], header.Filename)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{{"id": "att-1", "title": header.Filename}},
		})
	})

	return mux
}

func writeReport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.html")
	require.NoError(t, os.WriteFile(path, []byte("<html>findings</html>"), 0o644))
	return path
}

func newTestUploader(t *testing.T, fake *fakeConfluence) *Uploader {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "bot@example.com", "secret-token")
	up := NewUploader(client, "OPS", "")
	up.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return up
}

func TestUploadReport_CreatesPageOnFirstUpload(t *testing.T) {
	fake := newFakeConfluence(map[string]string{"Cost Reports": "parent-1"})
	up := newTestUploader(t, fake)

	err := up.UploadReport(context.Background(), "Account 111111111111", writeReport(t), "111111111111")
	require.NoError(t, err)

	assert.Equal(t, []string{"Account 111111111111"}, fake.created)
	assert.Equal(t, []string{"report.html"}, fake.attachments[fake.pages["Account 111111111111"]])
}

func TestUploadReport_ReusesExistingPage(t *testing.T) {
	fake := newFakeConfluence(map[string]string{
		"Cost Reports":         "parent-1",
		"Account 111111111111": "page-7",
	})
	up := newTestUploader(t, fake)

	err := up.UploadReport(context.Background(), "Account 111111111111", writeReport(t), "111111111111")
	require.NoError(t, err)

	assert.Empty(t, fake.created)
	assert.Equal(t, []string{"report.html"}, fake.attachments["page-7"])
}

func TestUploadReport_MissingParentPage(t *testing.T) {
	fake := newFakeConfluence(map[string]string{})
	up := newTestUploader(t, fake)

	err := up.UploadReport(context.Background(), "Account 111111111111", writeReport(t), "111111111111")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cost Reports")
}

func TestUploadReport_PageBodyMentionsAccountAndDate(t *testing.T) {
	fake := newFakeConfluence(map[string]string{"Cost Reports": "parent-1"})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/rest/api/content" {
			var payload struct {
				Body struct {
					Storage struct {
						Value string `json:"value"`
					} `json:"storage"`
				} `json:"body"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.True(t, strings.HasPrefix(payload.Body.Storage.Value, "Report for account 111111111111 on 08/01/2026"))
			_ = json.NewEncoder(w).Encode(Page{ID: "page-1"})
			return
		}
		fake.handler(t).ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "bot@example.com", "secret-token")
	up := NewUploader(client, "OPS", "")
	up.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

	err := up.UploadReport(context.Background(), "Account 111111111111", writeReport(t), "111111111111")
	require.NoError(t, err)
}
