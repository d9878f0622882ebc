package httputil

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
)

const maxErrorBody = 2048

// ErrorBody returns a short, human-readable excerpt of a failed response.
// Gateways and proxies often answer with an HTML error page; those are
// reduced to their readable text.
func ErrorBody(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if len(raw) == 0 {
		return ""
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		if text := htmlText(raw, resp); text != "" {
			return clip(text)
		}
	}
	return clip(strings.TrimSpace(string(raw)))
}

func htmlText(raw []byte, resp *http.Response) string {
	pageURL := &url.URL{Scheme: "http", Host: "localhost"}
	if resp.Request != nil && resp.Request.URL != nil {
		pageURL = resp.Request.URL
	}
	article, err := readability.FromReader(bytes.NewReader(raw), pageURL)
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	if err := article.RenderText(&buf); err != nil {
		return ""
	}
	text := strings.Join(strings.Fields(buf.String()), " ")
	if title := article.Title(); title != "" && !strings.HasPrefix(text, title) {
		text = title + ": " + text
	}
	return strings.TrimSpace(text)
}

func clip(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody] + "... [truncated]"
}
