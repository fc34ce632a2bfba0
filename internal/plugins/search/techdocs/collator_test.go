package techdocs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePage(t *testing.T, root, rel, body string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
}

func TestCollate(t *testing.T) {
	root := t.TempDir()
	writePage(t, root, "default/component/payments/index.html", `<html><head><title>Site</title></head><body>
<nav>Menu entries</nav>
<article><h1>Payments<a class="headerlink" href="#">¶</a></h1>
<p>Settles   card
payments.</p><script>var x = 1;</script></article></body></html>`)
	writePage(t, root, "default/component/payments/guide/index.html", `<html><head><title>Guide</title></head><body><main>Step one</main></body></html>`)
	writePage(t, root, "default/component/payments/faq.html", `<html><body><p>Questions</p></body></html>`)
	writePage(t, root, "default/component/payments/style.css", `body {}`)
	writePage(t, root, "stray.html", `<p>not a site page</p>`)

	docs, err := NewCollator(root, "").Collate(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 3)
	sort.Slice(docs, func(i, j int) bool { return docs[i].Location < docs[j].Location })

	assert.Equal(t, "/docs/default/component/payments/", docs[0].Location)
	assert.Equal(t, "Payments", docs[0].Title)
	assert.Equal(t, "Payments Settles card payments.", docs[0].Text)
	assert.Equal(t, "payments", docs[0].Fields["name"])
	assert.Equal(t, "component", docs[0].Fields["kind"])
	assert.NotContains(t, docs[0].Text, "Menu")

	assert.Equal(t, "/docs/default/component/payments/faq.html", docs[1].Location)
	assert.Equal(t, "Questions", docs[1].Text)

	assert.Equal(t, "/docs/default/component/payments/guide/", docs[2].Location)
	assert.Equal(t, "Guide", docs[2].Title)
	assert.Equal(t, "Step one", docs[2].Text)
}

func TestCollateMissingDirectory(t *testing.T) {
	docs, err := NewCollator(filepath.Join(t.TempDir(), "absent"), "/docs").Collate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestPageDocumentFallsBackToBody(t *testing.T) {
	doc, err := PageDocument(strings.NewReader(`<p>Only  body</p>`))
	require.NoError(t, err)
	assert.Empty(t, doc.Title)
	assert.Equal(t, "Only body", doc.Text)
}

func TestPageDocumentDecodesLatin1(t *testing.T) {
	// Latin-1 bytes, not valid UTF-8
	latin1 := []byte("<html><body><article><h1>Caf\xe9 cr\xe8me</h1><p>Br\xfbl\xe9e, na\xefve fa\xe7ade \xe0 la carte.</p></article></body></html>")

	doc, err := PageDocument(bytes.NewReader(latin1))
	require.NoError(t, err)
	assert.Equal(t, "Café crème", doc.Title)
	assert.Contains(t, doc.Text, "façade")
}
