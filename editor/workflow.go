// Package editor owns the image-edit workflow: the mode state machine that
// takes an upload through crop, region selection, and generation, plus the
// per-user registry of live workflows.
package editor

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"

	"retouch-complete/raster"
)

// Mode is the workflow phase. Transitions follow
// upload -> crop -> select <-> generating, with an explicit re-crop path
// from select back to crop.
type Mode string

const (
	ModeUpload     Mode = "upload"
	ModeCrop       Mode = "crop"
	ModeSelect     Mode = "select"
	ModeGenerating Mode = "generating"
)

var (
	// ErrInvalidState rejects an operation called outside its valid modes.
	ErrInvalidState = errors.New("operation not valid in current mode")
	// ErrBusy rejects state changes while a generation is in flight.
	ErrBusy = errors.New("a generation is already in progress")
	// ErrInvalidSelection rejects selections that cover no pixels.
	ErrInvalidSelection = errors.New("selection must cover a non-empty area")
	// ErrEmptyPrompt rejects generation without a prompt.
	ErrEmptyPrompt = errors.New("prompt must not be empty")
)

// Generator produces an edited image for an image/mask/prompt triple.
// The transparent region of the mask marks the pixels to regenerate.
type Generator interface {
	RequestEdit(ctx context.Context, img, mask image.Image, prompt string) (*image.NRGBA, error)
}

// Selection is a rectangle in working-image coordinates.
type Selection struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the selection to an image.Rectangle.
func (s Selection) Rect() image.Rectangle {
	return image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height)
}

// State is a read-only snapshot of a workflow, safe to serialize.
type State struct {
	Mode      Mode       `json:"mode"`
	HasImage  bool       `json:"hasImage"`
	Width     int        `json:"width,omitempty"`
	Height    int        `json:"height,omitempty"`
	History   []string   `json:"history"`
	Selection *Selection `json:"selection,omitempty"`
}

// Workflow is the edit state machine for a single user. All operations are
// mutually exclusive; the only one that blocks is Generate, which releases
// the lock for the duration of the network round trip while the generating
// mode guard keeps every state-changing operation out.
type Workflow struct {
	mu        sync.Mutex
	gen       Generator
	frameSize int

	mode      Mode
	source    *image.NRGBA // uploaded raster, the crop source
	working   *image.NRGBA // cropped frame under edit
	selection image.Rectangle
	history   []string

	// epoch invalidates in-flight generations after a Reset so a late
	// response cannot write into a recycled workflow.
	epoch uint64
}

// NewWorkflow returns a workflow in upload mode backed by gen.
func NewWorkflow(gen Generator) *Workflow {
	return &Workflow{
		gen:       gen,
		frameSize: raster.FrameSize,
		mode:      ModeUpload,
	}
}

// Upload decodes raw image bytes into a fresh crop source and enters crop
// mode. Decoding happens before any state is touched, so a bad upload
// leaves the workflow exactly as it was. Starting a new image discards the
// previous prompt history.
func (w *Workflow) Upload(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mode == ModeGenerating {
		return ErrBusy
	}
	img, err := raster.Rasterize(data)
	if err != nil {
		return err
	}
	w.source = img
	w.working = nil
	w.selection = image.Rectangle{}
	w.history = nil
	w.mode = ModeCrop
	return nil
}

// ConfirmCrop renders the crop source through the viewport transform into
// the fixed square working frame and enters select mode.
func (w *Workflow) ConfirmCrop(t raster.Transform) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mode == ModeGenerating {
		return ErrBusy
	}
	if w.mode != ModeCrop {
		return ErrInvalidState
	}
	frame, err := raster.CropToFrame(w.source, t, w.frameSize)
	if err != nil {
		return err
	}
	w.working = frame
	w.selection = image.Rectangle{}
	w.mode = ModeSelect
	return nil
}

// Recrop deliberately re-enters crop mode from select mode. The current
// working image becomes the new crop source, so accepted generations
// survive, and the prompt history that produced them is preserved.
func (w *Workflow) Recrop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mode == ModeGenerating {
		return ErrBusy
	}
	if w.mode != ModeSelect {
		return ErrInvalidState
	}
	w.source = w.working
	w.working = nil
	w.selection = image.Rectangle{}
	w.mode = ModeCrop
	return nil
}

// SetSelection replaces the selection rectangle. The rectangle is clamped
// to the working image bounds; a selection that covers no pixels after
// clamping is rejected. The selection is read-only while generating.
func (w *Workflow) SetSelection(sel Selection) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mode == ModeGenerating {
		return ErrBusy
	}
	if w.mode != ModeSelect {
		return ErrInvalidState
	}
	clamped := sel.Rect().Intersect(w.working.Bounds())
	if clamped.Empty() {
		return ErrInvalidSelection
	}
	w.selection = clamped
	return nil
}

// Generate sends the working image, the mask derived from the current
// selection, and the prompt to the generator. On success the returned image
// replaces the working image and the prompt is appended to the history; on
// any failure the workflow returns to select mode with image and history
// untouched. A second Generate while one is in flight fails with ErrBusy.
func (w *Workflow) Generate(ctx context.Context, prompt string) error {
	w.mu.Lock()
	if w.mode == ModeGenerating {
		w.mu.Unlock()
		return ErrBusy
	}
	if w.mode != ModeSelect {
		w.mu.Unlock()
		return ErrInvalidState
	}
	if w.selection.Empty() {
		w.mu.Unlock()
		return ErrInvalidSelection
	}
	if strings.TrimSpace(prompt) == "" {
		w.mu.Unlock()
		return ErrEmptyPrompt
	}

	mask, err := raster.BuildMask(w.working, w.selection)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	img := w.working
	epoch := w.epoch
	w.mode = ModeGenerating
	w.mu.Unlock()

	result, genErr := w.gen.RequestEdit(ctx, img, mask, prompt)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.epoch != epoch {
		// The workflow was reset while the request was in flight; the
		// response belongs to a retired instance and is discarded.
		return nil
	}
	w.mode = ModeSelect
	if genErr != nil {
		return genErr
	}
	w.working = result
	w.history = append(w.history, prompt)
	return nil
}

// Download serializes the image under edit to PNG without changing any
// state. In crop mode the supplied transform is applied to produce the
// would-be frame; in select or generating mode the (pre-generation) working
// image is encoded as is.
func (w *Workflow) Download(t raster.Transform) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.mode {
	case ModeCrop:
		frame, err := raster.CropToFrame(w.source, t, w.frameSize)
		if err != nil {
			return nil, err
		}
		return raster.Encode(frame, "image/png")
	case ModeSelect, ModeGenerating:
		return raster.Encode(w.working, "image/png")
	default:
		return nil, ErrInvalidState
	}
}

// Snapshot returns the working image as PNG together with a copy of the
// prompt history, for persisting into the gallery. Valid once a crop has
// been confirmed.
func (w *Workflow) Snapshot() ([]byte, []string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mode != ModeSelect && w.mode != ModeGenerating {
		return nil, nil, ErrInvalidState
	}
	encoded, err := raster.Encode(w.working, "image/png")
	if err != nil {
		return nil, nil, err
	}
	history := make([]string, len(w.history))
	copy(history, w.history)
	return encoded, history, nil
}

// State returns a snapshot of the workflow for status responses.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := State{
		Mode:     w.mode,
		HasImage: w.source != nil,
		History:  make([]string, len(w.history)),
	}
	copy(st.History, w.history)
	if w.working != nil {
		st.Width = w.working.Bounds().Dx()
		st.Height = w.working.Bounds().Dy()
	} else if w.source != nil {
		st.Width = w.source.Bounds().Dx()
		st.Height = w.source.Bounds().Dy()
	}
	if !w.selection.Empty() {
		st.Selection = &Selection{
			X:      w.selection.Min.X,
			Y:      w.selection.Min.Y,
			Width:  w.selection.Dx(),
			Height: w.selection.Dy(),
		}
	}
	return st
}

// Reset retires the workflow: any in-flight generation result is discarded
// on arrival and the machine returns to upload mode.
func (w *Workflow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.epoch++
	w.source = nil
	w.working = nil
	w.selection = image.Rectangle{}
	w.history = nil
	w.mode = ModeUpload
}
