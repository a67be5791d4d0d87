// Package upload sequences one photo from selection through identification to a saved plant record.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lehigh-university-libraries/herbarium/internal/models"
	"github.com/lehigh-university-libraries/herbarium/internal/providers"
	"github.com/lehigh-university-libraries/herbarium/internal/storage"
	"github.com/oklog/ulid/v2"
)

const DefaultIdentifyTimeout = 30 * time.Second

// Option configures a Workflow
type Option func(*Workflow)

// WithIdentifyTimeout bounds each identification call
func WithIdentifyTimeout(d time.Duration) Option {
	return func(w *Workflow) {
		if d > 0 {
			w.identifyTimeout = d
		}
	}
}

// Workflow is the state machine for a single upload attempt. Store and
// network calls run on goroutines owned by the workflow; outcomes are
// delivered to subscribers in the order they were committed.
type Workflow struct {
	ID string

	identifier      providers.Identifier
	plants          storage.PlantStore
	images          storage.ImageStore
	users           storage.UserContext
	identifyTimeout time.Duration

	mu        sync.Mutex
	state     State
	imagePath string
	result    *models.IdentificationResult
	record    *models.PlantRecord
	lastErr   error
	gen       uint64
	cancel    context.CancelFunc

	onComplete    func(*models.PlantRecord)
	onEscape      func()
	completeFired bool
	escapeFired   bool

	listeners []func(Event)
	pending   []func()
	draining  bool

	wg sync.WaitGroup
}

// New creates a workflow in the Selecting state
func New(identifier providers.Identifier, plants storage.PlantStore, images storage.ImageStore, users storage.UserContext, opts ...Option) *Workflow {
	w := &Workflow{
		ID:              ulid.Make().String(),
		identifier:      identifier,
		plants:          plants,
		images:          images,
		users:           users,
		identifyTimeout: DefaultIdentifyTimeout,
		state:           Selecting,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetCompletionCallback registers the callback fired once after a successful save
func (w *Workflow) SetCompletionCallback(fn func(*models.PlantRecord)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onComplete = fn
}

// SetEscapeCallback registers the callback fired once when the workflow is
// done, whether it was saved or cancelled.
func (w *Workflow) SetEscapeCallback(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onEscape = fn
}

// Subscribe adds a listener for workflow events
func (w *Workflow) Subscribe(fn func(Event)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Workflow) ImagePath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.imagePath
}

// Result is the identification shown to the user, nil until one succeeds
func (w *Workflow) Result() *models.IdentificationResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result == nil {
		return nil
	}
	r := *w.result
	return &r
}

// Record is the saved plant, nil until the workflow is Saved
func (w *Workflow) Record() *models.PlantRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.record == nil {
		return nil
	}
	r := *w.record
	return &r
}

// LastFailure is the error of the most recent failed operation
func (w *Workflow) LastFailure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Wait blocks until every goroutine started by the workflow has returned
func (w *Workflow) Wait() {
	w.wg.Wait()
}

// BeginConfirm records the chosen image
func (w *Workflow) BeginConfirm(imagePath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != Selecting {
		return illegal("confirm", w.state)
	}
	w.imagePath = imagePath
	w.setState(Confirming)
	return nil
}

// Identify sends the image to the identifier in the background. The outcome
// is published as EventIdentificationResolved: success moves to Resulted, any
// failure moves back to Confirming so the user can retry.
func (w *Workflow) Identify(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != Confirming {
		return illegal("identify", w.state)
	}

	w.gen++
	gen := w.gen
	workCtx, cancel := context.WithTimeout(ctx, w.identifyTimeout)
	w.cancel = cancel
	w.lastErr = nil
	w.setState(Identifying)

	w.wg.Add(1)
	go w.runIdentify(workCtx, cancel, gen, w.imagePath)
	return nil
}

func (w *Workflow) runIdentify(ctx context.Context, cancel context.CancelFunc, gen uint64, imagePath string) {
	defer w.wg.Done()
	defer cancel()

	start := time.Now()
	result, err := w.identify(ctx, imagePath)
	slog.Debug("Identification finished", "workflow", w.ID, "duration", time.Since(start), "error", err)

	w.mu.Lock()
	if gen != w.gen || w.state != Identifying {
		state := w.state
		w.mu.Unlock()
		slog.Debug("Discarding stale identification", "workflow", w.ID, "state", state)
		return
	}

	ev := Event{Kind: EventIdentificationResolved}
	if err != nil {
		w.lastErr = err
		w.setState(Confirming)
		ev.Err = err
		slog.Warn("Identification failed", "workflow", w.ID, "error", err)
	} else {
		w.result = result
		w.setState(Resulted)
		r := *result
		ev.Result = &r
	}
	ev.State = w.state
	w.cancel = nil
	w.enqueueEvent(ev)
	w.mu.Unlock()

	w.drain()
}

func (w *Workflow) identify(ctx context.Context, imagePath string) (*models.IdentificationResult, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", imagePath, err)
	}

	result, err := w.identifier.Identify(ctx, providers.Image{Name: filepath.Base(imagePath), Data: data})
	if err != nil {
		return nil, providers.AsFailure(err)
	}
	if result == nil {
		return nil, providers.NewMalformedFailure("identifier returned no result")
	}
	return result, nil
}

// Save stores the image and a plant record built from the current result.
// Only valid from Resulted. The outcome is published as EventSaveCompleted.
func (w *Workflow) Save(ctx context.Context, userNotes string, isPublic bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != Resulted {
		return illegal("save", w.state)
	}

	username := w.users.CurrentUsername()
	if username == "" {
		return fmt.Errorf("no active user")
	}

	w.gen++
	gen := w.gen
	workCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.lastErr = nil
	w.setState(Saving)

	record := &models.PlantRecord{
		CommonName:     w.result.CommonName,
		Family:         w.result.Family,
		ScientificName: w.result.ScientificName,
		OwnerUsername:  username,
		UserNotes:      userNotes,
		IsPublic:       isPublic,
	}

	w.wg.Add(1)
	go w.runSave(workCtx, cancel, gen, w.imagePath, record)
	return nil
}

func (w *Workflow) runSave(ctx context.Context, cancel context.CancelFunc, gen uint64, imagePath string, record *models.PlantRecord) {
	defer w.wg.Done()
	defer cancel()

	err := w.persist(ctx, imagePath, record)

	w.mu.Lock()
	if gen != w.gen || w.state != Saving {
		w.mu.Unlock()
		return
	}

	ev := Event{Kind: EventSaveCompleted}
	if err != nil {
		w.lastErr = err
		w.setState(Resulted)
		ev.Err = err
	} else {
		w.record = record
		w.setState(Saved)
		r := *record
		ev.Record = &r
	}
	ev.State = w.state
	w.cancel = nil
	w.enqueueEvent(ev)
	if err == nil {
		w.enqueueCompletion(record)
		w.enqueueEscape()
	}
	w.mu.Unlock()

	w.drain()
}

// persist writes the image then the record. The two writes are not atomic:
// when the record write fails the stored image is left behind.
func (w *Workflow) persist(ctx context.Context, imagePath string, record *models.PlantRecord) error {
	ref, err := w.images.AddImage(ctx, imagePath)
	if err != nil {
		slog.Error("Failed to store image", "workflow", w.ID, "path", imagePath, "error", err)
		return storage.Wrap("add image", err)
	}
	record.ImageRef = ref

	if err := w.plants.AddPlant(ctx, record); err != nil {
		slog.Error("Failed to store plant record, image left orphaned", "workflow", w.ID, "imageRef", ref, "error", err)
		return storage.Wrap("add plant", err)
	}

	slog.Info("Plant saved", "workflow", w.ID, "plant_id", record.ID, "owner", record.OwnerUsername, "common_name", record.CommonName)
	return nil
}

// Cancel abandons the workflow. An in-flight identification is cancelled and
// its result discarded. Cancel is rejected while a save is writing.
func (w *Workflow) Cancel() error {
	w.mu.Lock()

	if w.state.Terminal() || w.state == Saving {
		defer w.mu.Unlock()
		return illegal("cancel", w.state)
	}

	w.gen++
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.setState(Cancelled)
	w.enqueueEvent(Event{Kind: EventCancelled, State: Cancelled})
	w.enqueueEscape()
	w.mu.Unlock()

	w.drain()
	return nil
}

// Escape is Cancel under the name the caller's dismiss action uses
func (w *Workflow) Escape() error {
	return w.Cancel()
}

// setState must be called with mu held
func (w *Workflow) setState(s State) {
	slog.Debug("Workflow transition", "workflow", w.ID, "from", w.state, "to", s)
	w.state = s
}

// enqueueEvent must be called with mu held
func (w *Workflow) enqueueEvent(ev Event) {
	listeners := append([]func(Event){}, w.listeners...)
	w.pending = append(w.pending, func() {
		for _, fn := range listeners {
			fn(ev)
		}
	})
}

// enqueueCompletion must be called with mu held
func (w *Workflow) enqueueCompletion(record *models.PlantRecord) {
	if w.completeFired || w.onComplete == nil {
		return
	}
	w.completeFired = true
	fn := w.onComplete
	r := *record
	w.pending = append(w.pending, func() { fn(&r) })
}

// enqueueEscape must be called with mu held
func (w *Workflow) enqueueEscape() {
	if w.escapeFired || w.onEscape == nil {
		return
	}
	w.escapeFired = true
	w.pending = append(w.pending, w.onEscape)
}

// drain delivers queued notifications outside the lock. A notification that
// triggers another operation only queues it; the active drainer delivers it.
func (w *Workflow) drain() {
	w.mu.Lock()
	if w.draining {
		w.mu.Unlock()
		return
	}
	w.draining = true
	for len(w.pending) > 0 {
		fn := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()
		fn()
		w.mu.Lock()
	}
	w.draining = false
	w.mu.Unlock()
}
