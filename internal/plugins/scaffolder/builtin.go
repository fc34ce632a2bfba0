package scaffolder

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog"
	"github.com/GriffinCanCode/devportal/backend/internal/services/urlreader"
)

// URLReader reads template sources
type URLReader interface {
	Read(ctx context.Context, target string) ([]byte, error)
}

// LocationRegistrar registers catalog locations
type LocationRegistrar interface {
	AddLocation(ctx context.Context, typ, target string, dryRun bool) (*catalog.AddLocationResult, error)
}

// BuiltinActions returns debug:log, fetch:plain, fetch:template and
// catalog:register
func BuiltinActions(reader URLReader, renderer *Renderer, registrar LocationRegistrar) []*Action {
	f := &fetcher{reader: reader}
	return []*Action{
		{
			ID:          "debug:log",
			Description: "Writes a message to the task log",
			Schema: objectSchema(map[string]interface{}{
				"message":       stringProp("Message to log"),
				"listWorkspace": map[string]interface{}{"type": "boolean"},
			}),
			Handler: debugLog,
		},
		{
			ID:          "fetch:plain",
			Description: "Copies files from a location into the workspace",
			Schema: objectSchema(map[string]interface{}{
				"url":        stringProp("Relative path or absolute URL of the source"),
				"targetPath": stringProp("Target directory inside the workspace"),
			}, "url"),
			Handler: f.plain,
		},
		{
			ID:          "fetch:template",
			Description: "Copies a skeleton into the workspace, rendering ${{ values.* }} in paths and contents",
			Schema: objectSchema(map[string]interface{}{
				"url":                   stringProp("Relative path or absolute URL of the skeleton"),
				"targetPath":            stringProp("Target directory inside the workspace"),
				"values":                map[string]interface{}{"type": "object"},
				"copyWithoutTemplating": map[string]interface{}{"type": "array", "items": stringProp("Glob")},
			}, "url"),
			Handler: func(ctx context.Context, ac *ActionContext) error {
				return f.template(ctx, ac, renderer)
			},
		},
		{
			ID:          "catalog:register",
			Description: "Registers a catalog-info file with the catalog",
			Schema: objectSchema(map[string]interface{}{
				"catalogInfoUrl":  stringProp("Absolute URL of the catalog-info file"),
				"repoContentsUrl": stringProp("Contents URL of a repository"),
				"catalogInfoPath": stringProp("Path of the file inside repoContentsUrl"),
				"optional":        map[string]interface{}{"type": "boolean"},
			}),
			Handler: func(ctx context.Context, ac *ActionContext) error {
				return catalogRegister(ctx, ac, registrar)
			},
		},
	}
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"input": map[string]interface{}{"type": "object", "properties": props},
	}
	if len(required) > 0 {
		req := make([]interface{}, len(required))
		for i, r := range required {
			req[i] = r
		}
		s["input"].(map[string]interface{})["required"] = req
	}
	return s
}

func stringProp(title string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "title": title}
}

func debugLog(_ context.Context, ac *ActionContext) error {
	if msg := ac.String("message"); msg != "" {
		ac.Log("%s", msg)
	}
	if ac.Bool("listWorkspace", false) {
		files, err := WorkspaceFiles(ac.Workspace)
		if err != nil {
			return err
		}
		ac.Log("Workspace: %s", strings.Join(files, ", "))
	}
	return nil
}

type fetcher struct {
	reader URLReader
}

// fetch places the source named by the url input into dir
func (f *fetcher) fetch(ctx context.Context, ac *ActionContext, dir string) error {
	raw, err := ac.RequireString("url")
	if err != nil {
		return err
	}
	target := urlreader.Resolve(ac.BaseURL, raw)
	u, err := url.Parse(target)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		data, err := f.reader.Read(ctx, target)
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", target, err)
		}
		name := path.Base(u.Path)
		if name == "" || name == "/" || name == "." {
			return fmt.Errorf("%w: %s does not name a file", ErrInvalidInput, target)
		}
		ac.Log("Fetched %s", target)
		return writeFile(filepath.Join(dir, name), data, 0o644)
	}

	local := strings.TrimPrefix(target, "file://")
	info, err := os.Stat(local)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	if !info.IsDir() {
		return copyFile(local, filepath.Join(dir, filepath.Base(local)))
	}
	files, err := WorkspaceFiles(local)
	if err != nil {
		return err
	}
	for _, rel := range files {
		if err := copyFile(filepath.Join(local, filepath.FromSlash(rel)), filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
			return err
		}
	}
	ac.Log("Fetched %d files from %s", len(files), target)
	return nil
}

func (f *fetcher) plain(ctx context.Context, ac *ActionContext) error {
	dir, err := ac.WorkspacePath(ac.String("targetPath"))
	if err != nil {
		return err
	}
	return f.fetch(ctx, ac, dir)
}

func (f *fetcher) template(ctx context.Context, ac *ActionContext, renderer *Renderer) error {
	dir, err := ac.WorkspacePath(ac.String("targetPath"))
	if err != nil {
		return err
	}
	staging, err := os.MkdirTemp("", "skeleton-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if err := f.fetch(ctx, ac, staging); err != nil {
		return err
	}
	files, err := WorkspaceFiles(staging)
	if err != nil {
		return err
	}

	values := ac.Map("values")
	if values == nil {
		values = map[string]interface{}{}
	}
	scope := map[string]interface{}{"values": values}
	verbatim := ac.Strings("copyWithoutTemplating")
	for _, g := range verbatim {
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("%w: bad copyWithoutTemplating glob %q", ErrInvalidInput, g)
		}
	}

	for _, rel := range files {
		outRel, err := renderer.RenderString(rel, scope)
		if err != nil {
			return err
		}
		// a path rendering to an empty segment drops the file
		if outRel == "" || strings.HasSuffix(outRel, "/") || strings.Contains(outRel, "//") {
			continue
		}
		out, err := ac.WorkspacePath(path.Join(relTarget(dir, ac.Workspace), outRel))
		if err != nil {
			return err
		}
		src := filepath.Join(staging, filepath.FromSlash(rel))
		if matchesAny(verbatim, rel) {
			if err := copyFile(src, out); err != nil {
				return err
			}
			continue
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		if !utf8.Valid(data) {
			if err := copyFile(src, out); err != nil {
				return err
			}
			continue
		}
		text, err := renderer.RenderString(string(data), scope)
		if err != nil {
			return fmt.Errorf("failed to render %s: %w", rel, err)
		}
		info, err := os.Stat(src)
		if err != nil {
			return err
		}
		if err := writeFile(out, []byte(text), info.Mode().Perm()); err != nil {
			return err
		}
	}
	ac.Log("Templated %d files into %s", len(files), relTarget(dir, ac.Workspace))
	return nil
}

func relTarget(dir, workspace string) string {
	rel, err := filepath.Rel(workspace, dir)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func matchesAny(globs []string, name string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(strings.TrimPrefix(g, "./"), name); ok {
			return true
		}
	}
	return false
}

func catalogRegister(ctx context.Context, ac *ActionContext, registrar LocationRegistrar) error {
	target := ac.String("catalogInfoUrl")
	if target == "" {
		contents, err := ac.RequireString("repoContentsUrl")
		if err != nil {
			return fmt.Errorf("%w: catalogInfoUrl or repoContentsUrl is required", ErrInvalidInput)
		}
		infoPath := ac.String("catalogInfoPath")
		if infoPath == "" {
			infoPath = "/catalog-info.yaml"
		}
		target = strings.TrimRight(contents, "/") + "/" + strings.TrimLeft(infoPath, "/")
	}

	ac.Log("Registering %s in the catalog", target)
	res, err := registrar.AddLocation(ctx, "url", target, false)
	if err != nil {
		if ac.Bool("optional", false) {
			ac.Log("Registration of %s failed, continuing: %v", target, err)
			return nil
		}
		return fmt.Errorf("failed to register %s: %w", target, err)
	}

	ac.Output("catalogInfoUrl", target)
	if ref := primaryEntity(res.Entities); ref != "" {
		ac.Output("entityRef", ref)
	}
	return nil
}

// primaryEntity prefers a Component over whatever else the file declared
func primaryEntity(entities []*catalog.Entity) string {
	if len(entities) == 0 {
		return ""
	}
	for _, e := range entities {
		if strings.EqualFold(e.Kind, "Component") {
			return e.Ref().String()
		}
	}
	return entities[0].Ref().String()
}
