package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrOutsideRoot = errors.New("asset path escapes media root")

// AssetServer streams local video files for standalone sessions, honouring
// Range requests so the page can seek.
type AssetServer struct {
	root   string
	logger *slog.Logger
}

func NewAssetServer(root string, logger *slog.Logger) *AssetServer {
	return &AssetServer{root: root, logger: logger}
}

// Resolve maps a slash-separated asset path onto the media root.
func (s *AssetServer) Resolve(rel string) (string, error) {
	if s.root == "" {
		return "", fmt.Errorf("media root is not configured")
	}
	cleaned := path.Clean("/" + rel)
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", ErrOutsideRoot
		}
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func (s *AssetServer) ServeAsset(w http.ResponseWriter, r *http.Request, rel string) error {
	filePath, err := s.Resolve(rel)
	if err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open asset: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat asset: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}

	size := stat.Size()
	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	byteRange, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, ErrInvalidRange):
		// Malformed ranges are ignored and the whole file is served.
		byteRange = nil
	}

	if byteRange == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			io.Copy(w, file)
		}
		return nil
	}

	w.Header().Set("Content-Length", strconv.FormatInt(byteRange.Length(), 10))
	w.Header().Set("Content-Range", byteRange.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)

	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := file.Seek(byteRange.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek asset: %w", err)
	}
	io.CopyN(w, file, byteRange.Length())
	return nil
}
