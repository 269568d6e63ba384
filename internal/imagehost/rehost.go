package imagehost

import (
	"context"
	"regexp"
)

var markdownDataURIImage = regexp.MustCompile(`!\[image\]\((data:[^)]+)\)`)

// RehostDataURIs scans content for inline data-URI image markdown
// (`![image](data:<mime>;base64,<data>)`) and replaces each occurrence
// with a hosted URL from c (§4.E/§4.F). Rehosting failures, a disabled
// client, or a nil client all leave the original markdown untouched
// rather than failing the response (ImageHostFailure is swallowed).
func RehostDataURIs(ctx context.Context, c *Client, content string) string {
	if c == nil || !c.cfg.Enabled || content == "" {
		return content
	}
	return markdownDataURIImage.ReplaceAllStringFunc(content, func(match string) string {
		sub := markdownDataURIImage.FindStringSubmatch(match)
		if len(sub) != 2 {
			return match
		}
		hosted := c.UploadDataURI(ctx, sub[1])
		if hosted == "" {
			return match
		}
		return "![image](" + hosted + ")"
	})
}
