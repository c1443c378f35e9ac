package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

// UploadRequest describes a multipart file upload.
type UploadRequest struct {
	Path        string
	Field       string
	Filename    string
	ContentType string
	Body        io.Reader
}

type uploadResponse struct {
	Path     string `json:"path"`
	URL      string `json:"url"`
	Logo     string `json:"logo"`
	Image    string `json:"image"`
	Filename string `json:"filename"`
}

func (u uploadResponse) storedPath() string {
	for _, candidate := range []string{u.Path, u.URL, u.Logo, u.Image, u.Filename} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// Upload posts a multipart/form-data file and returns the stored relative path.
func (c *Client) Upload(ctx context.Context, cookies []*http.Cookie, up UploadRequest) (string, error) {
	field := up.Field
	if field == "" {
		field = "file"
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, up.Filename))
	contentType := up.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("backend: create upload part: %w", err)
	}
	if _, err := io.Copy(part, up.Body); err != nil {
		return "", fmt.Errorf("backend: copy upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("backend: close upload: %w", err)
	}

	resp, err := c.send(ctx, request{
		method:      http.MethodPost,
		path:        up.Path,
		cookies:     cookies,
		body:        body,
		contentType: writer.FormDataContentType(),
	})
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	var out uploadResponse
	if err := decodeEnvelope(resp.Body, &out); err != nil {
		return "", err
	}
	stored := out.storedPath()
	if stored == "" {
		return "", fmt.Errorf("backend: upload response carried no path")
	}
	return stored, nil
}

// AssetURL resolves a stored relative path against the asset base URL.
// Absolute URLs are returned unchanged.
func AssetURL(base, stored string) string {
	if stored == "" {
		return ""
	}
	if u, err := url.Parse(stored); err == nil && u.IsAbs() {
		return stored
	}
	if base == "" {
		return "/" + strings.TrimLeft(stored, "/")
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(stored, "/")
}
