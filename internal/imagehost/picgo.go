// Package imagehost rehosts inline/remote images returned by the backend
// to an external PicGo/Chevereto-compatible image bed, so clients that
// expect a plain URL (rather than a base64 blob) still get one (§4.F).
// Every failure here is swallowed: rehosting is a cosmetic improvement,
// never a reason to fail the surrounding response.
package imagehost

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	log "github.com/sirupsen/logrus"
)

// Config controls whether rehosting runs and where it uploads to.
type Config struct {
	Enabled   bool
	UploadURL string
	APIKey    string
}

// Client uploads images to a Chevereto-style API.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient constructs a Client. UploadURL defaults to PicGo's public
// Chevereto-compatible endpoint when unset.
func NewClient(cfg Config) *Client {
	if cfg.UploadURL == "" {
		cfg.UploadURL = "https://www.picgo.net/api/1/upload"
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: 30 * time.Second}}
}

// UploadDataURI uploads a `data:<mime>;base64,<data>` image and returns
// its hosted URL, or "" if rehosting is disabled, misconfigured, or the
// upload fails.
func (c *Client) UploadDataURI(ctx context.Context, dataURI string) string {
	if !c.cfg.Enabled || c.cfg.APIKey == "" {
		return ""
	}
	mimeType, b64 := parseDataURI(dataURI)
	if b64 == "" {
		return ""
	}

	form := url.Values{
		"key":    {c.cfg.APIKey},
		"source": {fmt.Sprintf("data:%s;base64,%s", mimeType, b64)},
		"format": {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.UploadURL, strings.NewReader(form.Encode()))
	if err != nil {
		log.WithError(err).Debug("imagehost: build upload request failed")
		return ""
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Debug("imagehost: upload request failed")
		return ""
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).Debug("imagehost: read upload response failed")
		return ""
	}

	result := gjson.ParseBytes(body)
	for _, path := range []string{"image.url", "image.display_url", "image.url_viewer", "data.url", "data.display_url"} {
		if u := result.Get(path).String(); u != "" {
			return u
		}
	}
	log.WithField("body", truncate(string(body), 200)).Debug("imagehost: upload returned no url")
	return ""
}

// UploadRemote downloads a remote image and rehosts it through
// UploadDataURI, returning "" on any failure.
func (c *Client) UploadRemote(ctx context.Context, imageURL string) string {
	if !c.cfg.Enabled || c.cfg.APIKey == "" {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return ""
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Debug("imagehost: fetch remote image failed")
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	contentType := resp.Header.Get("Content-Type")
	mimeType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	if !strings.HasPrefix(mimeType, "image/") {
		if guessed := mime.TypeByExtension(extOf(imageURL)); guessed != "" {
			mimeType = guessed
		} else {
			mimeType = "image/png"
		}
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	dataURI := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(content))
	return c.UploadDataURI(ctx, dataURI)
}

func parseDataURI(dataURI string) (mimeType, b64 string) {
	rest := strings.TrimPrefix(strings.TrimSpace(dataURI), "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", ""
	}
	header := rest[:comma]
	if !strings.HasSuffix(header, ";base64") {
		return "", ""
	}
	return strings.TrimSuffix(header, ";base64"), rest[comma+1:]
}

func extOf(u string) string {
	if i := strings.LastIndexByte(u, '.'); i >= 0 {
		return u[i:]
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
