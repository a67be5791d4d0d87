package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lehigh-university-libraries/herbarium/internal/models"
	"github.com/lehigh-university-libraries/herbarium/internal/plantnet"
	"github.com/lehigh-university-libraries/herbarium/internal/providers"
	"github.com/lehigh-university-libraries/herbarium/internal/storage"
	"github.com/lehigh-university-libraries/herbarium/internal/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var basil = &models.IdentificationResult{
	CommonName:     "Basil",
	ScientificName: "Ocimum basilicum",
	Family:         "Lamiaceae",
	Score:          0.87,
}

type staticIdentifier struct {
	result *models.IdentificationResult
	err    error
}

func (s staticIdentifier) Identify(ctx context.Context, img providers.Image) (*models.IdentificationResult, error) {
	return s.result, s.err
}

// responseIdentifier runs a canned service response through the PlantNet parser
type responseIdentifier string

func (r responseIdentifier) Identify(ctx context.Context, img providers.Image) (*models.IdentificationResult, error) {
	return plantnet.ParseResponse([]byte(r))
}

// gatedIdentifier answers only after release is closed and ignores cancellation
type gatedIdentifier struct {
	started chan struct{}
	release chan struct{}
}

func newGatedIdentifier() *gatedIdentifier {
	return &gatedIdentifier{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedIdentifier) Identify(ctx context.Context, img providers.Image) (*models.IdentificationResult, error) {
	close(g.started)
	<-g.release
	r := *basil
	return &r, nil
}

type slowIdentifier struct{}

func (slowIdentifier) Identify(ctx context.Context, img providers.Image) (*models.IdentificationResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type failingPlantStore struct {
	*memory.PlantStore
}

func (failingPlantStore) AddPlant(ctx context.Context, plant *models.PlantRecord) error {
	return errors.New("disk full")
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event{}, r.events...)
}

type fixture struct {
	wf        *Workflow
	plants    *memory.PlantStore
	images    *memory.ImageStore
	events    *recorder
	completed int
	escaped   int
	mu        sync.Mutex
}

func newFixture(t *testing.T, id providers.Identifier, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		plants: memory.NewPlantStore(),
		images: memory.NewImageStore(),
		events: &recorder{},
	}
	f.wf = New(id, f.plants, f.images, storage.StaticUser("alice"), opts...)
	f.wf.Subscribe(f.events.record)
	f.wf.SetCompletionCallback(func(*models.PlantRecord) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.completed++
	})
	f.wf.SetEscapeCallback(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.escaped++
	})
	return f
}

func (f *fixture) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed, f.escaped
}

func leafImage(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "leaf.jpg")
	require.NoError(t, os.WriteFile(p, []byte("\xff\xd8\xff\xe0 fake jpeg"), 0644))
	return p
}

func TestSaveEndToEnd(t *testing.T) {
	f := newFixture(t, staticIdentifier{result: basil})
	ctx := context.Background()

	assert.Equal(t, Selecting, f.wf.State())
	require.NoError(t, f.wf.BeginConfirm(leafImage(t)))
	assert.Equal(t, Confirming, f.wf.State())

	require.NoError(t, f.wf.Identify(ctx))
	f.wf.Wait()

	require.Equal(t, Resulted, f.wf.State())
	result := f.wf.Result()
	require.NotNil(t, result)
	assert.Equal(t, "Basil", result.CommonName)
	assert.Equal(t, "Ocimum basilicum", result.ScientificName)
	assert.Equal(t, "Lamiaceae", result.Family)
	assert.InDelta(t, 0.87, result.Score, 1e-9)

	require.NoError(t, f.wf.Save(ctx, "smells great", true))
	f.wf.Wait()
	assert.Equal(t, Saved, f.wf.State())

	plants, err := f.plants.GetUserPlants(ctx, "alice", 0, 15)
	require.NoError(t, err)
	require.Len(t, plants, 1)
	p := plants[0]
	assert.Equal(t, "alice", p.OwnerUsername)
	assert.Equal(t, "Basil", p.CommonName)
	assert.Equal(t, "Lamiaceae", p.Family)
	assert.Equal(t, "Ocimum basilicum", p.ScientificName)
	assert.Equal(t, "smells great", p.UserNotes)
	assert.True(t, p.IsPublic)

	img, err := f.images.GetImage(ctx, p.ImageRef)
	require.NoError(t, err)
	assert.NotEmpty(t, img)

	completed, escaped := f.counts()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, escaped)

	events := f.events.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventIdentificationResolved, events[0].Kind)
	assert.Equal(t, EventSaveCompleted, events[1].Kind)
	assert.NoError(t, events[1].Err)
	assert.Equal(t, p.ID, events[1].Record.ID)

	// nothing is accepted after Saved and callbacks do not fire again
	assert.ErrorIs(t, f.wf.Cancel(), ErrIllegalStateTransition)
	assert.ErrorIs(t, f.wf.Save(ctx, "again", false), ErrIllegalStateTransition)
	completed, escaped = f.counts()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, escaped)
}

func TestSaveRejectedBeforeResult(t *testing.T) {
	f := newFixture(t, staticIdentifier{result: basil})
	ctx := context.Background()

	assert.ErrorIs(t, f.wf.Save(ctx, "", false), ErrIllegalStateTransition)

	require.NoError(t, f.wf.BeginConfirm(leafImage(t)))
	assert.ErrorIs(t, f.wf.Save(ctx, "", false), ErrIllegalStateTransition)
	f.wf.Wait()

	n, err := f.plants.CountUserPlants(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, f.images.Len())
	assert.Equal(t, Confirming, f.wf.State())
	assert.Empty(t, f.events.all())
}

func TestIllegalTransitions(t *testing.T) {
	f := newFixture(t, staticIdentifier{result: basil})
	ctx := context.Background()

	assert.ErrorIs(t, f.wf.Identify(ctx), ErrIllegalStateTransition)
	require.NoError(t, f.wf.BeginConfirm(leafImage(t)))
	assert.ErrorIs(t, f.wf.BeginConfirm("other.jpg"), ErrIllegalStateTransition)
}

func TestIdentifyFailures(t *testing.T) {
	tests := []struct {
		name     string
		id       providers.Identifier
		sentinel error
		message  string
	}{
		{
			name:     "service reported error",
			id:       responseIdentifier(`{"error":true,"message":"rate limited"}`),
			sentinel: providers.ErrServiceReported,
			message:  "rate limited",
		},
		{
			name:     "no match",
			id:       responseIdentifier(`{"results":[]}`),
			sentinel: providers.ErrNoMatch,
		},
		{
			name:     "malformed",
			id:       responseIdentifier(`<html>bad gateway</html>`),
			sentinel: providers.ErrMalformedResponse,
		},
		{
			name:     "plain error becomes network failure",
			id:       staticIdentifier{err: errors.New("connection refused")},
			sentinel: providers.ErrNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.id)
			require.NoError(t, f.wf.BeginConfirm(leafImage(t)))
			require.NoError(t, f.wf.Identify(context.Background()))
			f.wf.Wait()

			assert.Equal(t, Confirming, f.wf.State())
			assert.Nil(t, f.wf.Result())

			events := f.events.all()
			require.Len(t, events, 1)
			assert.Equal(t, EventIdentificationResolved, events[0].Kind)
			assert.ErrorIs(t, events[0].Err, tt.sentinel)
			assert.ErrorIs(t, f.wf.LastFailure(), tt.sentinel)

			var failure *providers.Failure
			require.ErrorAs(t, events[0].Err, &failure)
			assert.NotEmpty(t, failure.UserMessage())
			if tt.message != "" {
				assert.Equal(t, tt.message, failure.UserMessage())
			}
		})
	}
}

func TestRetryAfterFailure(t *testing.T) {
	id := &switchingIdentifier{}
	f := newFixture(t, id)
	ctx := context.Background()

	require.NoError(t, f.wf.BeginConfirm(leafImage(t)))
	require.NoError(t, f.wf.Identify(ctx))
	f.wf.Wait()
	require.Equal(t, Confirming, f.wf.State())

	require.NoError(t, f.wf.Identify(ctx))
	f.wf.Wait()
	assert.Equal(t, Resulted, f.wf.State())
	assert.NoError(t, f.wf.LastFailure())
}

type switchingIdentifier struct {
	mu    sync.Mutex
	calls int
}

func (s *switchingIdentifier) Identify(ctx context.Context, img providers.Image) (*models.IdentificationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls == 1 {
		return nil, &providers.Failure{Kind: providers.NoMatch}
	}
	r := *basil
	return &r, nil
}

func TestIdentifyTimeout(t *testing.T) {
	f := newFixture(t, slowIdentifier{}, WithIdentifyTimeout(20*time.Millisecond))

	require.NoError(t, f.wf.BeginConfirm(leafImage(t)))
	require.NoError(t, f.wf.Identify(context.Background()))
	f.wf.Wait()

	assert.Equal(t, Confirming, f.wf.State())
	assert.ErrorIs(t, f.wf.LastFailure(), providers.ErrNetwork)
}

func TestMissingImageFile(t *testing.T) {
	f := newFixture(t, staticIdentifier{result: basil})

	require.NoError(t, f.wf.BeginConfirm(filepath.Join(t.TempDir(), "gone.jpg")))
	require.NoError(t, f.wf.Identify(context.Background()))
	f.wf.Wait()

	assert.Equal(t, Confirming, f.wf.State())
	assert.ErrorIs(t, f.wf.LastFailure(), os.ErrNotExist)
}

func TestCancelDuringIdentifyDiscardsLateResult(t *testing.T) {
	id := newGatedIdentifier()
	f := newFixture(t, id)

	require.NoError(t, f.wf.BeginConfirm(leafImage(t)))
	require.NoError(t, f.wf.Identify(context.Background()))
	<-id.started

	require.NoError(t, f.wf.Cancel())
	assert.Equal(t, Cancelled, f.wf.State())

	close(id.release)
	f.wf.Wait()

	assert.Equal(t, Cancelled, f.wf.State())
	assert.Nil(t, f.wf.Result())

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventCancelled, events[0].Kind)

	completed, escaped := f.counts()
	assert.Equal(t, 0, completed)
	assert.Equal(t, 1, escaped)
}

func TestCancelFiresEscapeOnce(t *testing.T) {
	f := newFixture(t, staticIdentifier{result: basil})

	require.NoError(t, f.wf.Escape())
	assert.ErrorIs(t, f.wf.Cancel(), ErrIllegalStateTransition)
	assert.ErrorIs(t, f.wf.BeginConfirm(leafImage(t)), ErrIllegalStateTransition)

	_, escaped := f.counts()
	assert.Equal(t, 1, escaped)
	assert.Equal(t, 0, f.images.Len())
}

func TestCancelFromResultedPersistsNothing(t *testing.T) {
	f := newFixture(t, staticIdentifier{result: basil})
	ctx := context.Background()

	require.NoError(t, f.wf.BeginConfirm(leafImage(t)))
	require.NoError(t, f.wf.Identify(ctx))
	f.wf.Wait()
	require.NoError(t, f.wf.Cancel())

	n, err := f.plants.CountUserPlants(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, f.images.Len())
}

func TestPlantStoreFailureLeavesOrphanImage(t *testing.T) {
	images := memory.NewImageStore()
	wf := New(staticIdentifier{result: basil}, failingPlantStore{memory.NewPlantStore()}, images, storage.StaticUser("alice"))
	events := &recorder{}
	wf.Subscribe(events.record)
	completed := 0
	wf.SetCompletionCallback(func(*models.PlantRecord) { completed++ })
	ctx := context.Background()

	require.NoError(t, wf.BeginConfirm(leafImage(t)))
	require.NoError(t, wf.Identify(ctx))
	wf.Wait()
	require.NoError(t, wf.Save(ctx, "notes", false))
	wf.Wait()

	assert.Equal(t, Resulted, wf.State())
	assert.Equal(t, 1, images.Len())
	assert.Equal(t, 0, completed)

	all := events.all()
	require.Len(t, all, 2)
	assert.Equal(t, EventSaveCompleted, all[1].Kind)
	assert.True(t, storage.IsStoreError(all[1].Err))
	assert.Nil(t, all[1].Record)

	var se *storage.StoreError
	require.ErrorAs(t, wf.LastFailure(), &se)
	assert.Equal(t, "add plant", se.Op)
}

func TestListenerMayCancel(t *testing.T) {
	f := newFixture(t, responseIdentifier(`{"results":[]}`))
	f.wf.Subscribe(func(ev Event) {
		if ev.Kind == EventIdentificationResolved && ev.Err != nil {
			_ = f.wf.Cancel()
		}
	})

	require.NoError(t, f.wf.BeginConfirm(leafImage(t)))
	require.NoError(t, f.wf.Identify(context.Background()))
	f.wf.Wait()

	assert.Equal(t, Cancelled, f.wf.State())
	events := f.events.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventIdentificationResolved, events[0].Kind)
	assert.Equal(t, EventCancelled, events[1].Kind)
}

// gatedImageStore holds AddImage until release is closed
type gatedImageStore struct {
	*memory.ImageStore
	started chan struct{}
	release chan struct{}
}

func (g *gatedImageStore) AddImage(ctx context.Context, localPath string) (string, error) {
	close(g.started)
	<-g.release
	return g.ImageStore.AddImage(ctx, localPath)
}

func TestCancelRejectedWhileSaving(t *testing.T) {
	images := &gatedImageStore{ImageStore: memory.NewImageStore(), started: make(chan struct{}), release: make(chan struct{})}
	plants := memory.NewPlantStore()
	wf := New(staticIdentifier{result: basil}, plants, images, storage.StaticUser("alice"))
	escaped := 0
	wf.SetEscapeCallback(func() { escaped++ })
	ctx := context.Background()

	require.NoError(t, wf.BeginConfirm(leafImage(t)))
	require.NoError(t, wf.Identify(ctx))
	wf.Wait()
	require.NoError(t, wf.Save(ctx, "", false))
	<-images.started

	assert.Equal(t, Saving, wf.State())
	assert.False(t, wf.State().Terminal())
	assert.ErrorIs(t, wf.Cancel(), ErrIllegalStateTransition)
	assert.ErrorIs(t, wf.Escape(), ErrIllegalStateTransition)

	close(images.release)
	wf.Wait()

	assert.Equal(t, Saved, wf.State())
	assert.Equal(t, 1, escaped)
	n, err := plants.CountUserPlants(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
