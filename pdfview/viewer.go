/*
Package pdfview renders generated documents one page at a time.

PURPOSE:
  Whatever report produced the bytes, display is the same: parse once,
  show page k of n, move with next/prev clamped to [1, n], re-save the
  original bytes on demand. The viewer owns exactly one document at a
  time; loading a new one replaces the old wholesale.

STATE MACHINE:
  Empty -> Loading -> Loaded(page=1) -> Loaded(page=k)* -> Empty

  Load failures leave the viewer Empty. Out-of-range page requests are
  no-ops; surfaces should disable prev/next at the bounds via
  CanPrev/CanNext rather than rely on clamping.

SCALING:
  Every render recomputes a fit-to-width scale from the current
  container width and the page's intrinsic MediaBox size; the container
  may be resized between renders.
*/
package pdfview

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// State is the viewer lifecycle stage.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return "empty"
	}
}

// US Letter, the intrinsic size assumed when a page carries no
// MediaBox of its own or via its parents.
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

// DocumentParseError means the bytes are not a well-formed document of
// the supported format. The viewer stays Empty.
type DocumentParseError struct {
	Reason string
}

func (e *DocumentParseError) Error() string {
	return "document parse failed: " + e.Reason
}

// Render describes one displayed page.
type Render struct {
	Page      int
	PageCount int
	Width     float64 // intrinsic page width (PDF points)
	Height    float64 // intrinsic page height (PDF points)
	Scale     float64 // fit-to-width factor for the current container
}

// Viewer holds the single active document. Safe for concurrent use.
type Viewer struct {
	mu             sync.Mutex
	state          State
	raw            []byte
	filename       string
	reader         *pdf.Reader
	pageCount      int
	page           int
	containerWidth float64
	log            *zap.Logger
}

// New returns an Empty viewer.
func New(log *zap.Logger) *Viewer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Viewer{log: log}
}

// State returns the current lifecycle stage.
func (v *Viewer) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// SetContainerWidth records the display width used for fit-to-width
// scaling. Zero or negative widths disable scaling (factor 1).
func (v *Viewer) SetContainerWidth(w float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.containerWidth = w
}

// Load replaces the active document. It returns the page count, or a
// *DocumentParseError leaving the viewer Empty. The previous document,
// if any, is discarded either way.
func (v *Viewer) Load(data []byte, filename string) (pageCount int, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.discardLocked()
	v.state = StateLoading

	// The underlying reader panics on some malformed inputs; fold those
	// into the parse error contract.
	defer func() {
		if r := recover(); r != nil {
			v.discardLocked()
			err = &DocumentParseError{Reason: fmt.Sprint(r)}
		}
	}()

	reader, parseErr := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if parseErr != nil {
		v.discardLocked()
		return 0, &DocumentParseError{Reason: parseErr.Error()}
	}
	n := reader.NumPage()
	if n < 1 {
		v.discardLocked()
		return 0, &DocumentParseError{Reason: "document has no pages"}
	}

	v.raw = data
	v.filename = filename
	v.reader = reader
	v.pageCount = n
	v.page = 1
	v.state = StateLoaded

	v.log.Debug("document loaded",
		zap.String("filename", filename),
		zap.Int("pages", n),
		zap.Int("bytes", len(data)))
	return n, nil
}

// PageCount returns the loaded document's page count, 0 when Empty.
func (v *Viewer) PageCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pageCount
}

// Page returns the current page number, 0 when Empty.
func (v *Viewer) Page() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page
}

// CanPrev reports whether a previous page exists.
func (v *Viewer) CanPrev() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state == StateLoaded && v.page > 1
}

// CanNext reports whether a following page exists.
func (v *Viewer) CanNext() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state == StateLoaded && v.page < v.pageCount
}

// RenderPage displays page k. Valid only when Loaded; an out-of-range k
// is a no-op and the current page is rendered instead. The fit-to-width
// scale is recomputed on every call.
func (v *Viewer) RenderPage(k int) (Render, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateLoaded {
		return Render{}, fmt.Errorf("no document loaded")
	}
	if k >= 1 && k <= v.pageCount {
		v.page = k
	}
	return v.renderLocked(), nil
}

// Next advances one page, a no-op at the last page.
func (v *Viewer) Next() (Render, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateLoaded {
		return Render{}, fmt.Errorf("no document loaded")
	}
	if v.page < v.pageCount {
		v.page++
	}
	return v.renderLocked(), nil
}

// Prev steps back one page, a no-op at page 1.
func (v *Viewer) Prev() (Render, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateLoaded {
		return Render{}, fmt.Errorf("no document loaded")
	}
	if v.page > 1 {
		v.page--
	}
	return v.renderLocked(), nil
}

// Download re-emits the originally loaded bytes under the resolved
// filename, independent of the page position.
func (v *Viewer) Download() ([]byte, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateLoaded {
		return nil, "", fmt.Errorf("no document loaded")
	}
	out := make([]byte, len(v.raw))
	copy(out, v.raw)
	return out, v.filename, nil
}

// Close discards the active document and returns the viewer to Empty.
func (v *Viewer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.discardLocked()
}

func (v *Viewer) discardLocked() {
	v.raw = nil
	v.filename = ""
	v.reader = nil
	v.pageCount = 0
	v.page = 0
	v.state = StateEmpty
}

func (v *Viewer) renderLocked() Render {
	width, height := v.pageSizeLocked(v.page)
	scale := 1.0
	if v.containerWidth > 0 && width > 0 {
		scale = v.containerWidth / width
	}
	return Render{
		Page:      v.page,
		PageCount: v.pageCount,
		Width:     width,
		Height:    height,
		Scale:     scale,
	}
}

// pageSizeLocked reads the page MediaBox, walking parent nodes because
// the attribute is inheritable.
func (v *Viewer) pageSizeLocked(k int) (width, height float64) {
	defer func() {
		if recover() != nil {
			width, height = defaultPageWidth, defaultPageHeight
		}
	}()

	node := v.reader.Page(k).V
	for !node.IsNull() {
		if box := node.Key("MediaBox"); box.Len() == 4 {
			w := box.Index(2).Float64() - box.Index(0).Float64()
			h := box.Index(3).Float64() - box.Index(1).Float64()
			if w > 0 && h > 0 {
				return w, h
			}
		}
		node = node.Key("Parent")
	}
	return defaultPageWidth, defaultPageHeight
}
