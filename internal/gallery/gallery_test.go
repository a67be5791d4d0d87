package gallery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lehigh-university-libraries/herbarium/internal/models"
	"github.com/lehigh-university-libraries/herbarium/internal/storage"
	"github.com/lehigh-university-libraries/herbarium/internal/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingStore counts page queries so boundary moves can be shown to skip fetching
type countingStore struct {
	*memory.PlantStore
	pageCalls atomic.Int32
	fail      atomic.Bool
}

func (c *countingStore) GetUserPlants(ctx context.Context, username string, skip, limit int) ([]models.PlantRecord, error) {
	c.pageCalls.Add(1)
	if c.fail.Load() {
		return nil, errors.New("connection lost")
	}
	return c.PlantStore.GetUserPlants(ctx, username, skip, limit)
}

type brokenStore struct {
	*memory.PlantStore
}

func (brokenStore) CountUserPlants(ctx context.Context, username string) (int, error) {
	return 0, errors.New("database is locked")
}

// gatedStore holds the first page-0 query until release is closed
type gatedStore struct {
	*memory.PlantStore
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedStore) GetUserPlants(ctx context.Context, username string, skip, limit int) ([]models.PlantRecord, error) {
	if skip == 0 {
		gated := false
		g.once.Do(func() { gated = true })
		if gated {
			close(g.started)
			<-g.release
		}
	}
	return g.PlantStore.GetUserPlants(ctx, username, skip, limit)
}

func seed(t *testing.T, plants storage.PlantStore, images *memory.ImageStore, owner string, n int, public bool) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		p := &models.PlantRecord{
			ImageRef:       images.Put([]byte(fmt.Sprintf("image-%s-%d", owner, i))),
			CommonName:     fmt.Sprintf("Plant %d", i),
			Family:         "Lamiaceae",
			ScientificName: "Ocimum basilicum",
			OwnerUsername:  owner,
			IsPublic:       public,
		}
		require.NoError(t, plants.AddPlant(context.Background(), p))
		ids = append(ids, p.ID)
	}
	return ids
}

type updates struct {
	mu   sync.Mutex
	list []Update
}

func (u *updates) add(up Update) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.list = append(u.list, up)
}

func (u *updates) all() []Update {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Update{}, u.list...)
}

func TestPageCount(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 1},
		{14, 1},
		{15, 1},
		{16, 2},
		{30, 2},
		{31, 3},
		{150, 10},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d", tt.n), func(t *testing.T) {
			assert.Equal(t, tt.want, PageCount(tt.n))
		})
	}
}

func TestFetchPageSixteenRecords(t *testing.T) {
	plants, images := memory.NewPlantStore(), memory.NewImageStore()
	ids := seed(t, plants, images, "alice", 16, false)
	seed(t, plants, images, "bob", 4, true)
	p := New(plants, images, User("alice"))
	ctx := context.Background()

	total, err := p.TotalPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	first, err := p.FetchPage(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, first.Items, PageSize)
	assert.Equal(t, ids[0], first.Items[0].Record.ID)
	assert.Equal(t, []byte("image-alice-0"), first.Items[0].Image)

	last, err := p.FetchPage(ctx, 1)
	require.NoError(t, err)
	require.Len(t, last.Items, 1)
	assert.Equal(t, 1, last.PageIndex)
	assert.Equal(t, 2, last.TotalPages)
	assert.Equal(t, ids[15], last.Items[0].Record.ID)

	for _, idx := range []int{2, 3, -1} {
		_, err := p.FetchPage(ctx, idx)
		assert.ErrorIs(t, err, ErrEmptyResult, "page %d", idx)
		assert.False(t, storage.IsStoreError(err))
	}
}

func TestFetchPageNoRecords(t *testing.T) {
	p := New(memory.NewPlantStore(), memory.NewImageStore(), User("carol"))
	ctx := context.Background()

	page, err := p.FetchPage(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 0, page.TotalPages)

	_, err = p.FetchPage(ctx, 1)
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestFetchPageStoreError(t *testing.T) {
	p := New(brokenStore{memory.NewPlantStore()}, memory.NewImageStore(), User("alice"))

	_, err := p.FetchPage(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, storage.IsStoreError(err))
	assert.NotErrorIs(t, err, ErrEmptyResult)

	var se *storage.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "count plants", se.Op)
}

func TestFetchPageDropsUnreadableImages(t *testing.T) {
	plants, images := memory.NewPlantStore(), memory.NewImageStore()
	ctx := context.Background()

	seed(t, plants, images, "alice", 1, false)
	require.NoError(t, plants.AddPlant(ctx, &models.PlantRecord{ImageRef: "missing", OwnerUsername: "alice", CommonName: "Ghost"}))
	seed(t, plants, images, "alice", 1, false)

	page, err := New(plants, images, User("alice"), WithHydrateLimit(1)).FetchPage(ctx, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, []byte("image-alice-0"), page.Items[0].Image)
	assert.Equal(t, []byte("image-alice-0"), page.Items[1].Image)
	for _, item := range page.Items {
		assert.NotEqual(t, "Ghost", item.Record.CommonName)
	}
}

func TestPublicScope(t *testing.T) {
	plants, images := memory.NewPlantStore(), memory.NewImageStore()
	seed(t, plants, images, "alice", 3, false)
	seed(t, plants, images, "bob", 2, true)

	page, err := New(plants, images, Public()).FetchPage(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalPages)
	require.Len(t, page.Items, 2)
	for _, item := range page.Items {
		assert.True(t, item.Record.IsPublic)
		assert.Equal(t, "bob", item.Record.OwnerUsername)
	}
}

func TestNewForUser(t *testing.T) {
	p := NewForUser(memory.NewPlantStore(), memory.NewImageStore(), storage.StaticUser("dana"))
	assert.Equal(t, "user:dana", p.Scope().String())
}

func TestNavigation(t *testing.T) {
	store := &countingStore{PlantStore: memory.NewPlantStore()}
	images := memory.NewImageStore()
	seed(t, store, images, "alice", 16, false)

	p := New(store, images, User("alice"))
	got := &updates{}
	p.Subscribe(got.add)
	ctx := context.Background()

	p.Load(ctx, 0)
	p.Wait()
	assert.Equal(t, 0, p.Cursor())
	calls := store.pageCalls.Load()

	assert.False(t, p.PreviousPage(ctx))
	p.Wait()
	assert.Equal(t, calls, store.pageCalls.Load())
	assert.Equal(t, 0, p.Cursor())

	assert.True(t, p.NextPage(ctx))
	p.Wait()
	assert.Equal(t, 1, p.Cursor())
	calls = store.pageCalls.Load()

	assert.False(t, p.NextPage(ctx))
	p.Wait()
	assert.Equal(t, calls, store.pageCalls.Load())
	assert.Equal(t, 1, p.Cursor())

	assert.True(t, p.PreviousPage(ctx))
	p.Wait()
	assert.Equal(t, 0, p.Cursor())

	all := got.all()
	require.Len(t, all, 3)
	assert.Len(t, all[0].Page.Items, 15)
	assert.Len(t, all[1].Page.Items, 1)
	assert.Equal(t, 0, all[2].Page.PageIndex)
}

func TestNextPageOnFreshPaginator(t *testing.T) {
	plants, images := memory.NewPlantStore(), memory.NewImageStore()
	seed(t, plants, images, "alice", 16, false)

	p := New(plants, images, User("alice"))
	got := &updates{}
	p.Subscribe(got.add)

	assert.True(t, p.NextPage(context.Background()))
	p.Wait()
	assert.Equal(t, 1, p.Cursor())

	all := got.all()
	require.Len(t, all, 1)
	require.NoError(t, all[0].Err)
	assert.Len(t, all[0].Page.Items, 1)
}

func TestNextPageSeesNewRecords(t *testing.T) {
	plants, images := memory.NewPlantStore(), memory.NewImageStore()
	seed(t, plants, images, "alice", 15, false)

	p := New(plants, images, User("alice"))
	ctx := context.Background()

	p.Load(ctx, 0)
	p.Wait()
	assert.False(t, p.NextPage(ctx))

	seed(t, plants, images, "alice", 1, false)
	total, err := p.TotalPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	assert.True(t, p.NextPage(ctx))
	p.Wait()
	assert.Equal(t, 1, p.Cursor())
}

func TestNextPageCountFailure(t *testing.T) {
	p := New(brokenStore{memory.NewPlantStore()}, memory.NewImageStore(), User("alice"))
	got := &updates{}
	p.Subscribe(got.add)

	assert.False(t, p.NextPage(context.Background()))
	p.Wait()
	assert.Equal(t, 0, p.Cursor())

	all := got.all()
	require.Len(t, all, 1)
	assert.True(t, storage.IsStoreError(all[0].Err))
	assert.Nil(t, all[0].Page)
}

func TestFailedMoveKeepsCursor(t *testing.T) {
	store := &countingStore{PlantStore: memory.NewPlantStore()}
	images := memory.NewImageStore()
	seed(t, store, images, "alice", 20, false)

	p := New(store, images, User("alice"))
	got := &updates{}
	p.Subscribe(got.add)
	ctx := context.Background()

	p.Load(ctx, 0)
	p.Wait()

	store.fail.Store(true)
	assert.True(t, p.NextPage(ctx))
	p.Wait()
	assert.Equal(t, 0, p.Cursor())

	all := got.all()
	require.Len(t, all, 2)
	assert.True(t, storage.IsStoreError(all[1].Err))
	assert.Nil(t, all[1].Page)

	store.fail.Store(false)
	assert.True(t, p.NextPage(ctx))
	p.Wait()
	assert.Equal(t, 1, p.Cursor())
}

func TestLoadPastEndPublishesEmptyResult(t *testing.T) {
	plants, images := memory.NewPlantStore(), memory.NewImageStore()
	seed(t, plants, images, "alice", 3, false)

	p := New(plants, images, User("alice"))
	got := &updates{}
	p.Subscribe(got.add)

	p.Load(context.Background(), 4)
	p.Wait()

	all := got.all()
	require.Len(t, all, 1)
	assert.ErrorIs(t, all[0].Err, ErrEmptyResult)
	assert.Equal(t, 0, p.Cursor())
}

func TestSupersededFetchIsDiscarded(t *testing.T) {
	store := &gatedStore{
		PlantStore: memory.NewPlantStore(),
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	images := memory.NewImageStore()
	seed(t, store, images, "alice", 16, false)

	p := New(store, images, User("alice"))
	got := &updates{}
	p.Subscribe(got.add)
	ctx := context.Background()

	p.Load(ctx, 0)
	<-store.started
	p.Load(ctx, 1)

	close(store.release)
	p.Wait()

	assert.Equal(t, 1, p.Cursor())
	all := got.all()
	require.Len(t, all, 1)
	require.NoError(t, all[0].Err)
	assert.Equal(t, 1, all[0].Page.PageIndex)
}

func TestCloseCancelsInFlight(t *testing.T) {
	store := &gatedStore{
		PlantStore: memory.NewPlantStore(),
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	images := memory.NewImageStore()
	seed(t, store, images, "alice", 2, false)

	p := New(store, images, User("alice"))
	got := &updates{}
	p.Subscribe(got.add)

	p.Load(context.Background(), 0)
	<-store.started
	p.Close()
	close(store.release)
	p.Wait()

	assert.Empty(t, got.all())
}

func TestUserMessage(t *testing.T) {
	errs := []error{
		ErrEmptyResult,
		&storage.StoreError{Op: "get plants", Err: errors.New("boom")},
		context.Canceled,
		errors.New("other"),
	}

	seen := map[string]bool{}
	for _, err := range errs {
		msg := UserMessage(err)
		assert.NotEmpty(t, msg)
		assert.False(t, seen[msg], "duplicate message %q", msg)
		seen[msg] = true
	}
	assert.Empty(t, UserMessage(nil))
}
