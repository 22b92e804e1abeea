package cv

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/net/proxy"
)

// ModelInfo describes a downloadable model file.
type ModelInfo struct {
	Name        string
	URL         string
	Filename    string
	MD5         string // Optional checksum
	Size        int64  // Expected size in bytes
	Description string
	ModelType   ModelType
}

// AvailableModels are the models the downloader knows by key.
var AvailableModels = map[string]ModelInfo{
	"pigo-facefinder": {
		Name:        "Pigo Face Detector",
		URL:         "https://raw.githubusercontent.com/esimov/pigo/master/cascade/facefinder",
		Filename:    "facefinder",
		Size:        51764,
		Description: "Pigo cascade classifier for face detection",
	},
	"yunet": {
		Name:        "YuNet 2023mar",
		URL:         "https://github.com/opencv/opencv_zoo/raw/main/models/face_detection_yunet/face_detection_yunet_2023mar.onnx",
		Filename:    "face_detection_yunet_2023mar.onnx",
		Size:        232589,
		Description: "OpenCV YuNet face detector with five keypoints",
	},
	"openface": {
		Name:        "OpenFace nn4.small2.v1",
		URL:         "https://storage.cmusatyalab.org/openface-models/nn4.small2.v1.t7",
		Filename:    "nn4.small2.v1.t7",
		MD5:         "c95bfd8cc1adf05210e979ff623013b6",
		Size:        31510785,
		Description: "OpenFace face recognition model (96x96, 128-dim)",
		ModelType:   ModelOpenFace,
	},
	"openface-alternative": {
		Name:        "OpenFace nn4.small2.v1 (Mirror)",
		URL:         "https://raw.githubusercontent.com/pyannote/pyannote-data/master/openface.nn4.small2.v1.t7",
		Filename:    "nn4.small2.v1.t7",
		Size:        31510785,
		Description: "OpenFace model from alternative mirror",
		ModelType:   ModelOpenFace,
	},
	"openface-kde": {
		Name:        "OpenFace nn4.small2.v1 (KDE Mirror)",
		URL:         "https://files.kde.org/digikam/facesengine/dnnface/openface_nn4.small2.v1.t7",
		Filename:    "nn4.small2.v1.t7",
		Size:        31510785,
		Description: "OpenFace model from KDE mirror",
		ModelType:   ModelOpenFace,
	},
}

// requiredModels are fetched by DownloadRequired. Each entry lists
// mirrors tried in order.
var requiredModels = [][]string{
	{"pigo-facefinder"},
	{"openface", "openface-alternative", "openface-kde"},
}

// ModelKeys returns the keys of AvailableModels in sorted order.
func ModelKeys() []string {
	keys := maps.Keys(AvailableModels)
	slices.Sort(keys)
	return keys
}

// DownloadProgress represents download progress
type DownloadProgress struct {
	Total      int64
	Downloaded int64
	Percentage float64
	Speed      float64 // bytes per second
	Elapsed    time.Duration
}

// ProgressCallback is called during download to report progress
type ProgressCallback func(progress DownloadProgress)

// ModelDownloader handles model file downloads
type ModelDownloader struct {
	OutputDir        string
	OnProgress       ProgressCallback
	Timeout          time.Duration
	SkipVerification bool
	ProxyURL         string // socks5://, http:// or https:// proxy
	Logger           *slog.Logger
}

// NewModelDownloader creates a new model downloader
func NewModelDownloader(outputDir string) *ModelDownloader {
	return &ModelDownloader{
		OutputDir: outputDir,
		Timeout:   10 * time.Minute,
		Logger:    slog.Default(),
	}
}

func (md *ModelDownloader) logger() *slog.Logger {
	if md.Logger == nil {
		return slog.Default()
	}
	return md.Logger
}

// Download downloads a model by its key
func (md *ModelDownloader) Download(ctx context.Context, modelKey string) error {
	model, exists := AvailableModels[modelKey]
	if !exists {
		return fmt.Errorf("model '%s' not found in available models", modelKey)
	}
	return md.DownloadModel(ctx, model)
}

// DownloadModel downloads a specific model. An existing file is kept when
// it passes checksum verification.
func (md *ModelDownloader) DownloadModel(ctx context.Context, model ModelInfo) error {
	if err := os.MkdirAll(md.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	log := md.logger().With("model", model.Name)
	outputPath := filepath.Join(md.OutputDir, model.Filename)

	if fileExists(outputPath) {
		if md.SkipVerification || model.MD5 == "" {
			log.Debug("model already present", "path", outputPath)
			return nil
		}
		if md.verifyMD5(outputPath, model.MD5) {
			log.Debug("existing model verified", "path", outputPath)
			return nil
		}
		log.Warn("existing model failed verification, downloading again", "path", outputPath)
		os.Remove(outputPath)
	}

	log.Info("downloading model", "url", model.URL, "output", outputPath)

	client, err := md.createHTTPClient()
	if err != nil {
		return fmt.Errorf("failed to create HTTP client: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, model.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	err = md.downloadWithProgress(outFile, resp.Body, resp.ContentLength)
	if cerr := outFile.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outputPath)
		return fmt.Errorf("download failed: %w", err)
	}

	if !md.SkipVerification && model.MD5 != "" && !md.verifyMD5(outputPath, model.MD5) {
		os.Remove(outputPath)
		return fmt.Errorf("checksum verification failed for %s", model.Filename)
	}

	log.Info("model downloaded", "path", outputPath)
	return nil
}

// downloadWithProgress copies src to dst, reporting progress at most every
// 100ms and once at the end.
func (md *ModelDownloader) downloadWithProgress(dst io.Writer, src io.Reader, totalSize int64) error {
	startTime := time.Now()
	var downloaded int64

	report := func() {
		elapsed := time.Since(startTime)
		p := DownloadProgress{
			Total:      totalSize,
			Downloaded: downloaded,
			Elapsed:    elapsed,
		}
		if elapsed > 0 {
			p.Speed = float64(downloaded) / elapsed.Seconds()
		}
		if totalSize > 0 {
			p.Percentage = float64(downloaded) / float64(totalSize) * 100
		}
		if md.OnProgress != nil {
			md.OnProgress(p)
			return
		}
		md.logger().Debug("download progress",
			"downloaded", formatBytes(downloaded),
			"total", formatBytes(totalSize),
			"speed", formatSpeed(p.Speed))
	}

	buffer := make([]byte, 32*1024)
	lastUpdate := time.Now()

	for {
		n, err := src.Read(buffer)
		if n > 0 {
			if _, writeErr := dst.Write(buffer[:n]); writeErr != nil {
				return writeErr
			}
			downloaded += int64(n)

			if time.Since(lastUpdate) > 100*time.Millisecond {
				report()
				lastUpdate = time.Now()
			}
		}

		if err == io.EOF {
			report()
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// verifyMD5 verifies the MD5 checksum of a file
func (md *ModelDownloader) verifyMD5(path, expectedMD5 string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return false
	}
	return hex.EncodeToString(hash.Sum(nil)) == expectedMD5
}

// DownloadAll downloads every available model, continuing past failures.
func (md *ModelDownloader) DownloadAll(ctx context.Context) error {
	var failed []string
	for _, key := range ModelKeys() {
		if err := md.Download(ctx, key); err != nil {
			md.logger().Error("model download failed", "key", key, "err", err)
			failed = append(failed, key)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to download %d model(s): %v", len(failed), failed)
	}
	return nil
}

// DownloadRequired downloads the models the default cv engine needs,
// falling back to mirrors.
func (md *ModelDownloader) DownloadRequired(ctx context.Context) error {
	for _, mirrors := range requiredModels {
		var err error
		for _, key := range mirrors {
			if err = md.Download(ctx, key); err == nil {
				break
			}
			md.logger().Warn("mirror failed", "key", key, "err", err)
		}
		if err != nil {
			return fmt.Errorf("all mirrors failed for %s: %w", mirrors[0], err)
		}
	}
	return nil
}

// GetModelPath returns the expected path for a downloaded model
func GetModelPath(outputDir, modelKey string) (string, error) {
	model, exists := AvailableModels[modelKey]
	if !exists {
		return "", fmt.Errorf("model '%s' not found", modelKey)
	}
	return filepath.Join(outputDir, model.Filename), nil
}

// formatBytes formats bytes into human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatSpeed(bytesPerSecond float64) string {
	return fmt.Sprintf("%s/s", formatBytes(int64(bytesPerSecond)))
}

// createHTTPClient creates an HTTP client with proxy support
func (md *ModelDownloader) createHTTPClient() (*http.Client, error) {
	client := &http.Client{Timeout: md.Timeout}
	if md.ProxyURL == "" {
		return client, nil
	}

	proxyURL, err := url.Parse(md.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch proxyURL.Scheme {
	case "socks5":
		dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		client.Transport = &http.Transport{Dial: dialer.Dial}
	case "http", "https":
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s (supported: socks5, http, https)", proxyURL.Scheme)
	}
	md.logger().Debug("using proxy", "scheme", proxyURL.Scheme, "host", proxyURL.Host)
	return client, nil
}
