package metadata

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestStore starts a disposable mongo:7 container and returns a Store
// pointed at it, torn down when the test completes.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	store, err := Connect(ctx, uri, "vaultd_test", "files")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	return store
}

func TestUpsertAndGetByName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	obj := &FileObject{
		ID:               "hello.txt",
		Filename:         "hello.txt",
		Extension:        ".txt",
		Size:             6,
		Nonce:            []byte("123456789012"),
		Tag:              []byte("1234567890123456"),
		Encrypted:        true,
		OwnerFingerprint: strings.Repeat("a", 64),
		Public:           false,
		UploadedAt:       time.Now().UnixMilli(),
	}
	require.NoError(t, store.Upsert(ctx, obj))

	got, err := store.GetByName(ctx, "hello.txt")
	require.NoError(t, err)
	require.Equal(t, obj.Size, got.Size)
	require.Equal(t, obj.OwnerFingerprint, got.OwnerFingerprint)
	require.False(t, got.Deleted)
}

func TestGetByNameNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetByName(context.Background(), "nonexistent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendAuditCreatesDenseKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendAudit(ctx, "hello.txt", ChangeUpload, StatusSuccess))
	require.NoError(t, store.AppendAudit(ctx, "hello.txt", ChangeDownload, StatusSuccess))

	obj, err := store.GetByName(ctx, "hello.txt")
	require.NoError(t, err)
	require.Len(t, obj.Proc, 2)
	require.Contains(t, obj.Proc, "1")
	require.Contains(t, obj.Proc, "2")
	require.Equal(t, ChangeUpload, obj.Proc["1"].Info.TypeOfChanges)
	require.Equal(t, ChangeDownload, obj.Proc["2"].Info.TypeOfChanges)
}

func TestAppendAuditNotifiesRegisteredListener(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	type event struct {
		name, typeOfChanges, status string
	}
	var mu sync.Mutex
	var got []event
	store.SetAuditListener(func(name, typeOfChanges, status string, date int64) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, event{name, typeOfChanges, status})
	})

	require.NoError(t, store.AppendAudit(ctx, "hello.txt", ChangeUpload, StatusSuccess))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	require.Equal(t, event{"hello.txt", ChangeUpload, StatusSuccess}, got[0])
}

func TestAppendAuditConcurrentAppendersProduceDenseKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	const workers = 4
	const perWorker = 5

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				require.NoError(t, store.AppendAudit(ctx, "concurrent.bin", ChangeModified, StatusSuccess))
			}
		}()
	}
	wg.Wait()

	obj, err := store.GetByName(ctx, "concurrent.bin")
	require.NoError(t, err)
	require.Len(t, obj.Proc, workers*perWorker)
	for i := 1; i <= workers*perWorker; i++ {
		require.Contains(t, obj.Proc, fmt.Sprintf("%d", i))
	}
}

