// Package pagescript holds the JavaScript expressions the renderer evaluates
// inside the dashboard page. Every expression starts with a tag comment
// (/*inkdash:name*/ or /*inkdash:name:arg*/) naming the operation, which keeps
// protocol logs readable and lets fake drivers dispatch on it.
package pagescript

import (
	"encoding/json"
	"regexp"
	"strconv"
)

const (
	TagMeasure     = "measure"
	TagZoom        = "zoom"
	TagFonts       = "fonts"
	TagTextAbsent  = "text-absent"
	TagNumericText = "numeric-text"
	TagImagesReady = "images-ready"
	TagStripGlyphs = "strip-glyphs"
	TagBackground  = "background"
)

var tagRe = regexp.MustCompile(`^/\*inkdash:([a-z-]+)(?::([^*]*))?\*/`)

// Parse returns the tag and argument of a tagged expression.
func Parse(expression string) (tag string, arg string, ok bool) {
	m := tagRe.FindStringSubmatch(expression)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func tagged(tag, arg, body string) string {
	if arg != "" {
		return "/*inkdash:" + tag + ":" + arg + "*/" + body
	}
	return "/*inkdash:" + tag + "*/" + body
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Measure returns the rendered content height in CSS pixels: the larger of
// the container's bounding height and the document scroll height.
func Measure(container string) string {
	return tagged(TagMeasure, "", `(() => {
  const el = document.querySelector(`+quote(container)+`);
  const rect = el ? el.getBoundingClientRect().height : 0;
  const doc = document.documentElement ? document.documentElement.scrollHeight : 0;
  return Math.max(rect, doc, 0);
})()`)
}

// Zoom applies a CSS zoom to the container and compensates its layout box so
// the zoomed content still spans the viewport.
func Zoom(container string, zoom float64) string {
	z := strconv.FormatFloat(zoom, 'f', 4, 64)
	return tagged(TagZoom, z, `(() => {
  const el = document.querySelector(`+quote(container)+`);
  if (!el) return false;
  el.style.zoom = `+z+`;
  el.style.width = (100 / `+z+`) + 'vw';
  el.style.minHeight = (window.innerHeight / `+z+`) + 'px';
  return true;
})()`)
}

// FontsReady resolves once the document's fonts have loaded.
func FontsReady() string {
	return tagged(TagFonts, "", `(document.fonts && document.fonts.ready ? document.fonts.ready.then(() => true) : true)`)
}

// TextAbsent is true when no element matching selector contains text.
func TextAbsent(selector, text string) string {
	return tagged(TagTextAbsent, text, `Array.from(document.querySelectorAll(`+quote(selector)+`)).every(el => !(el.innerText || '').includes(`+quote(text)+`))`)
}

// NumericText is true when the element matching selector contains a digit.
func NumericText(selector string) string {
	return tagged(TagNumericText, "", `(() => {
  const el = document.querySelector(`+quote(selector)+`);
  return !!el && /\d/.test(el.textContent || '');
})()`)
}

// ImagesReady is true when at least one image matches selector and all of
// them finished loading with a non-zero size.
func ImagesReady(selector string) string {
	return tagged(TagImagesReady, "", `(() => {
  const imgs = Array.from(document.querySelectorAll(`+quote(selector)+`));
  return imgs.length > 0 && imgs.every(img => img.complete && img.naturalWidth > 0);
})()`)
}

// StripGlyphs removes emoji and pictographs the display fonts cannot draw,
// hides elements left without text or images and returns the number of text
// nodes changed.
func StripGlyphs(container string) string {
	return tagged(TagStripGlyphs, "", `(() => {
  const root = document.querySelector(`+quote(container)+`) || document.body;
  if (!root) return 0;
  const re = /[\u{1F000}-\u{1FAFF}\u{2600}-\u{27BF}\u{2B00}-\u{2BFF}\u{FE0F}\u{200D}]/gu;
  const walker = document.createTreeWalker(root, NodeFilter.SHOW_TEXT);
  const touched = new Set();
  let changed = 0;
  for (let n = walker.nextNode(); n; n = walker.nextNode()) {
    const next = n.nodeValue.replace(re, '');
    if (next !== n.nodeValue) {
      n.nodeValue = next;
      changed++;
      if (n.parentElement) touched.add(n.parentElement);
    }
  }
  touched.forEach(el => {
    if (!el.textContent.trim() && !el.querySelector('img,svg,canvas')) el.style.display = 'none';
  });
  return changed;
})()`)
}

// ForceBackground paints the document white so transparent areas rasterize
// as paper.
func ForceBackground() string {
	return tagged(TagBackground, "", `(() => {
  document.documentElement.style.background = '#ffffff';
  if (document.body) document.body.style.background = '#ffffff';
  return true;
})()`)
}
