package dashboard

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/tdewolff/minify/v2"
	mincss "github.com/tdewolff/minify/v2/css"
	minhtml "github.com/tdewolff/minify/v2/html"
	minjs "github.com/tdewolff/minify/v2/js"
	minsvg "github.com/tdewolff/minify/v2/svg"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// MenuError is shown in place of the dish list when no menu could be loaded.
const MenuError = "Could not retrieve today's menu."

// PageData feeds templates/index.html.
type PageData struct {
	CanteenName string
	Menu        *Menu
	Error       string
	Time        string
	Date        string
	Weather     *Weather
	EInk        bool
}

// MenuDate is the menu day as dd.mm.yyyy.
func (d PageData) MenuDate() string {
	if d.Menu == nil {
		return ""
	}
	t, err := time.Parse(time.DateOnly, d.Menu.Date)
	if err != nil {
		return d.Menu.Date
	}
	return t.Format("02.01.2006")
}

// Asset is a minified embedded static file.
type Asset struct {
	Body        []byte
	ContentType string
	ETag        string
}

// Page renders the dashboard HTML and serves its static assets.
type Page struct {
	tmpl     *template.Template
	minifier *minify.M
	assets   map[string]Asset
}

var assetTypes = map[string]string{
	".css": "text/css",
	".js":  "application/javascript",
	".svg": "image/svg+xml",
}

func NewPage() (*Page, error) {
	funcs := template.FuncMap{
		"temp":  formatNumber,
		"clock": formatClock,
	}
	tmpl, err := template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	m := minify.New()
	m.AddFunc("text/css", mincss.Minify)
	m.AddFunc("application/javascript", minjs.Minify)
	m.AddFunc("image/svg+xml", minsvg.Minify)
	m.Add("text/html", &minhtml.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})

	p := &Page{tmpl: tmpl, minifier: m, assets: make(map[string]Asset)}
	if err := p.loadAssets(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Page) loadAssets() error {
	return fs.WalkDir(staticFS, "static", func(name string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		contentType, ok := assetTypes[path.Ext(name)]
		if !ok {
			return nil
		}
		raw, err := staticFS.ReadFile(name)
		if err != nil {
			return err
		}
		body, err := p.minifier.Bytes(contentType, raw)
		if err != nil {
			return fmt.Errorf("minify %s: %w", name, err)
		}
		sum := sha256.Sum256(body)
		p.assets["/"+name] = Asset{
			Body:        body,
			ContentType: contentType,
			ETag:        `"` + hex.EncodeToString(sum[:8]) + `"`,
		}
		return nil
	})
}

// Asset looks up a static file by request path, e.g. "/static/script.js".
func (p *Page) Asset(requestPath string) (Asset, bool) {
	a, ok := p.assets[requestPath]
	return a, ok
}

// Render executes the index template and minifies the result.
func (p *Page) Render(data PageData) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, "index.html", data); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	out, err := p.minifier.Bytes("text/html", buf.Bytes())
	if err != nil {
		return buf.Bytes(), nil
	}
	return out, nil
}

// formatNumber prints a measurement without trailing zeros, 12.0 as "12".
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatClock extracts HH:MM from an ISO local timestamp such as 2025-05-05T05:43.
func formatClock(iso string) string {
	if i := strings.IndexByte(iso, 'T'); i >= 0 && len(iso) >= i+6 {
		return iso[i+1 : i+6]
	}
	return iso
}
