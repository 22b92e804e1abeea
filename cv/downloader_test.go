package cv

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func calculateMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func serveBytes(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewModelDownloader(t *testing.T) {
	d := NewModelDownloader("models")
	if d.OutputDir != "models" {
		t.Errorf("Expected output dir models, got %s", d.OutputDir)
	}
	if d.Timeout != 10*time.Minute {
		t.Errorf("Expected default timeout 10m, got %v", d.Timeout)
	}
	if d.SkipVerification {
		t.Error("Expected SkipVerification to be false by default")
	}
}

func TestAvailableModels(t *testing.T) {
	for _, mirrors := range requiredModels {
		for _, key := range mirrors {
			model, ok := AvailableModels[key]
			if !ok {
				t.Errorf("Required model %q missing", key)
				continue
			}
			if model.Name == "" || model.URL == "" || model.Filename == "" {
				t.Errorf("Model %q is incomplete: %+v", key, model)
			}
		}
	}

	keys := ModelKeys()
	if len(keys) != len(AvailableModels) {
		t.Fatalf("Expected %d keys, got %v", len(AvailableModels), keys)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Errorf("Expected sorted keys, got %v", keys)
		}
	}
}

func TestDownloadModel(t *testing.T) {
	data := []byte("test model file content")
	server := serveBytes(t, data)

	tests := []struct {
		name    string
		md5     string
		skip    bool
		wantErr string
	}{
		{name: "correct checksum", md5: calculateMD5(data)},
		{name: "no checksum"},
		{name: "wrong checksum", md5: "incorrect", wantErr: "checksum"},
		{name: "verification skipped", md5: "incorrect", skip: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			d := NewModelDownloader(dir)
			d.SkipVerification = tt.skip

			err := d.DownloadModel(context.Background(), ModelInfo{
				Name:     "Test Model",
				URL:      server.URL,
				Filename: "model.dat",
				MD5:      tt.md5,
			})
			path := filepath.Join(dir, "model.dat")

			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Expected error mentioning %q, got %v", tt.wantErr, err)
				}
				if fileExists(path) {
					t.Error("Expected a failed download to leave no file")
				}
				return
			}
			if err != nil {
				t.Fatalf("DownloadModel: %v", err)
			}
			got, err := os.ReadFile(path)
			if err != nil || string(got) != string(data) {
				t.Errorf("Downloaded content mismatch: %q, %v", got, err)
			}
		})
	}
}

func TestDownloadModelProgress(t *testing.T) {
	data := make([]byte, 100*1024)
	for i := range data {
		data[i] = byte(i % 256)
	}
	server := serveBytes(t, data)

	d := NewModelDownloader(t.TempDir())
	var last DownloadProgress
	calls := 0
	d.OnProgress = func(p DownloadProgress) {
		calls++
		if p.Downloaded > p.Total {
			t.Errorf("Downloaded %d exceeds total %d", p.Downloaded, p.Total)
		}
		last = p
	}

	if err := d.DownloadModel(context.Background(), ModelInfo{Name: "big", URL: server.URL, Filename: "big.dat"}); err != nil {
		t.Fatalf("DownloadModel: %v", err)
	}
	if calls == 0 {
		t.Fatal("Progress callback was not called")
	}
	if last.Downloaded != int64(len(data)) || last.Percentage != 100 {
		t.Errorf("Expected final report of the whole file, got %+v", last)
	}
}

func TestDownloadModelKeepsExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "existing.dat")
	if err := os.WriteFile(path, []byte("existing content"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := NewModelDownloader(dir)
	// The URL is never contacted.
	err := d.DownloadModel(context.Background(), ModelInfo{Name: "x", URL: "http://127.0.0.1:1/model", Filename: "existing.dat"})
	if err != nil {
		t.Fatalf("DownloadModel: %v", err)
	}
	if got, _ := os.ReadFile(path); string(got) != "existing content" {
		t.Error("Existing file was modified")
	}
}

func TestDownloadModelFailures(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer notFound.Close()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name  string
		ctx   context.Context
		url   string
		proxy string
	}{
		{name: "http error", ctx: context.Background(), url: notFound.URL},
		{name: "network error", ctx: context.Background(), url: "http://127.0.0.1:1/model"},
		{name: "cancelled", ctx: cancelled, url: notFound.URL},
		{name: "bad proxy scheme", ctx: context.Background(), url: notFound.URL, proxy: "ftp://127.0.0.1:21"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewModelDownloader(t.TempDir())
			d.Timeout = 2 * time.Second
			d.ProxyURL = tt.proxy
			if err := d.DownloadModel(tt.ctx, ModelInfo{Name: "x", URL: tt.url, Filename: "x.dat"}); err == nil {
				t.Error("Expected an error")
			}
		})
	}

	if err := NewModelDownloader(t.TempDir()).Download(context.Background(), "non_existent_model"); err == nil {
		t.Error("Expected error for unknown model key")
	}
}

func TestCreateHTTPClientProxies(t *testing.T) {
	for _, u := range []string{"socks5://127.0.0.1:1080", "http://127.0.0.1:8080"} {
		d := NewModelDownloader("")
		d.ProxyURL = u
		client, err := d.createHTTPClient()
		if err != nil {
			t.Errorf("%s: %v", u, err)
			continue
		}
		if client.Transport == nil {
			t.Errorf("%s: expected a proxy transport", u)
		}
	}
}

func TestGetModelPath(t *testing.T) {
	path, err := GetModelPath("/models", "pigo-facefinder")
	if err != nil || path != filepath.Join("/models", "facefinder") {
		t.Errorf("Unexpected path %q, %v", path, err)
	}
	if _, err := GetModelPath("/models", "nope"); err == nil {
		t.Error("Expected error for unknown key")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if got := formatSpeed(2048); got != "2.0 KB/s" {
		t.Errorf("formatSpeed(2048) = %s", got)
	}
}
