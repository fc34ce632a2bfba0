package techdocs

import (
	"bytes"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
)

// ContentType picks the response type of a site file. Known extensions
// win since sniffing cannot tell CSS or JavaScript from plain text.
func ContentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return mimetype.Detect(data).String()
}

// IsHTML reports whether a content type is an HTML page
func IsHTML(contentType string) bool {
	return strings.HasPrefix(contentType, "text/html")
}

// NewSanitizer returns the policy applied to documentation pages. It keeps
// the page structure and styling hooks and drops scripts and handlers.
func NewSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("html", "head", "body", "title", "header", "footer",
		"nav", "main", "article", "section", "aside", "label", "details", "summary")
	p.AllowAttrs("class", "id", "title", "lang", "dir").Globally()
	p.AllowAttrs("charset", "name", "content").OnElements("meta")
	p.AllowAttrs("rel", "href", "type").OnElements("link")
	p.AllowElements("meta", "link")
	p.AllowAttrs("for").OnElements("label")
	p.AllowAttrs("open").OnElements("details")
	p.AllowAttrs("viewBox", "xmlns", "fill", "d").OnElements("svg", "path")
	p.AllowElements("svg", "path")
	p.AllowStyling()
	return p
}

const htmlDocType = "<!DOCTYPE html>"

// SanitizePage applies p to a page. The sanitizer always drops the doctype,
// so a page that declared one gets it back to stay in standards mode.
func SanitizePage(p *bluemonday.Policy, data []byte) []byte {
	clean := p.SanitizeBytes(data)
	head := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), " \t\r\n")
	if len(head) < len("<!doctype") || !bytes.EqualFold(head[:len("<!doctype")], []byte("<!doctype")) {
		return clean
	}
	out := make([]byte, 0, len(htmlDocType)+1+len(clean))
	out = append(out, htmlDocType...)
	out = append(out, '\n')
	return append(out, clean...)
}
