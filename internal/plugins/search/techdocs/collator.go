// Package techdocs indexes published documentation sites for search.
package techdocs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"

	"github.com/GriffinCanCode/devportal/backend/internal/plugins/search"
)

// DocumentType is the search type of documentation pages
const DocumentType = "techdocs"

// pagePattern matches namespace/kind/name/<any depth>/page.html
const pagePattern = "*/*/*/**/*.html"

// Collator turns every page of the publish directory into a document
type Collator struct {
	root string
	// locationPrefix is the frontend route of the docs reader
	locationPrefix string
}

// NewCollator creates a collator over root
func NewCollator(root, locationPrefix string) *Collator {
	if locationPrefix == "" {
		locationPrefix = "/docs"
	}
	return &Collator{root: root, locationPrefix: strings.TrimRight(locationPrefix, "/")}
}

func (c *Collator) Type() string { return DocumentType }

func (c *Collator) Collate(ctx context.Context) ([]search.Document, error) {
	fsys := os.DirFS(c.root)
	pages, err := doublestar.Glob(fsys, pagePattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}

	docs := make([]search.Document, 0, len(pages))
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := fsys.Open(page)
		if err != nil {
			return nil, err
		}
		doc, err := PageDocument(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", page, err)
		}

		parts := strings.SplitN(page, "/", 4)
		doc.Location = c.location(parts[0], parts[1], parts[2], parts[3])
		doc.Fields = map[string]string{
			"namespace": parts[0],
			"kind":      parts[1],
			"name":      parts[2],
			"path":      parts[3],
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// location maps a page file to its reader route; index pages map to their
// directory.
func (c *Collator) location(namespace, kind, name, file string) string {
	rel := file
	if path.Base(file) == "index.html" {
		rel = path.Dir(file)
		if rel == "." {
			rel = ""
		} else {
			rel += "/"
		}
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s", c.locationPrefix, namespace, kind, name, rel)
}

// PageDocument extracts the title and readable text of an HTML page.
// Pages that are not UTF-8 are decoded from their detected charset.
func PageDocument(r io.Reader) (search.Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return search.Document{}, err
	}
	page, err := goquery.NewDocumentFromReader(decodePage(raw))
	if err != nil {
		return search.Document{}, err
	}
	page.Find("script, style, nav, header, footer, .headerlink").Remove()

	title := strings.TrimSpace(page.Find("h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(page.Find("title").First().Text())
	}

	content := page.Find("article").First()
	if content.Length() == 0 {
		content = page.Find("main").First()
	}
	if content.Length() == 0 {
		content = page.Find("body")
	}

	return search.Document{
		Title: title,
		Text:  strings.Join(strings.Fields(content.Text()), " "),
	}, nil
}

func decodePage(raw []byte) io.Reader {
	if utf8.Valid(raw) {
		return bytes.NewReader(raw)
	}
	label := "windows-1252"
	if result, err := chardet.NewHtmlDetector().DetectBest(raw); err == nil && result != nil {
		label = strings.ToLower(result.Charset)
	}
	decoded, err := charset.NewReader(bytes.NewReader(raw), "text/html; charset="+label)
	if err != nil {
		return bytes.NewReader(raw)
	}
	return decoded
}
