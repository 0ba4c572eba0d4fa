package object

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelvault/service/internal/storage"
)

var primaryNamePattern = regexp.MustCompile(`^[0-9]+_[0-9A-Za-z]{8}\.obj$`)

func TestCreate_StoresBlobMatchingReportedSize(t *testing.T) {
	env := newTestEnv(t)
	in := validInput()

	obj, err := env.svc.Create(context.Background(), alice, in)
	require.NoError(t, err)

	assert.Regexp(t, primaryNamePattern, obj.FileRef)
	assert.Equal(t, storage.KindLocal, obj.Backend)
	assert.Equal(t, FileOBJ, obj.FileKind)
	assert.Equal(t, env.blobSize(t, obj.FileRef), obj.FileSize)
	assert.Equal(t, "http://localhost:8080/uploads/"+obj.FileRef, obj.FileURL)
	assert.Equal(t, "alice", obj.OwnerUsername)
	assert.NotNil(t, obj.RelatedFiles)
}

func TestCreate_ThenGetRoundTrips(t *testing.T) {
	env := newTestEnv(t)
	in := validInput()
	in.Related = []Upload{*upload("teapot.mtl", "newmtl red\n")}

	created, err := env.svc.Create(context.Background(), alice, in)
	require.NoError(t, err)

	got, err := env.svc.Get(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, created.Title, got.Title)
	require.NotNil(t, got.Description)
	assert.Equal(t, "Utah teapot", *got.Description)
	assert.Equal(t, created.FileKind, got.FileKind)
	assert.Len(t, got.RelatedFiles, len(created.RelatedFiles))
	assert.Equal(t, created.FileURL, got.FileURL)
	assert.Equal(t, created.RelatedFiles[0].FileURL, got.RelatedFiles[0].FileURL)
}

func TestCreate_RelatedFilesSkipDisallowedAndCountAccepted(t *testing.T) {
	env := newTestEnv(t)
	in := validInput()
	in.Related = []Upload{
		*upload("texture.png", "png"),
		*upload("teapot.mtl", "newmtl red\n"),
		*upload("notes.txt", "hello"),
		*upload("lod.GLB", "glTF"),
	}

	obj, err := env.svc.Create(context.Background(), alice, in)
	require.NoError(t, err)

	require.Len(t, obj.RelatedFiles, 2)
	id := strings.TrimSuffix(obj.FileRef, ".obj")
	assert.Equal(t, id+"_related_0.mtl", obj.RelatedFiles[0].FileRef)
	assert.Equal(t, id+"_related_1.glb", obj.RelatedFiles[1].FileRef)
	assert.Equal(t, "teapot.mtl", obj.RelatedFiles[0].OriginalName)
	assert.Equal(t, FileGLB, obj.RelatedFiles[1].FileKind)
	assert.EqualValues(t, 4, obj.RelatedFiles[1].FileSize)
	assert.Equal(t, "http://localhost:8080/uploads/"+id+"_related_0.mtl", obj.RelatedFiles[0].FileURL)
	assert.Len(t, env.files(t), 3)
}

func TestCreate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CreateInput)
		msg    string
	}{
		{"exe file type", func(in *CreateInput) { in.FileKind = "exe" }, "Missing or invalid required fields"},
		{"extension mismatch", func(in *CreateInput) { in.FileKind = "glb" }, "File extension does not match the selected file type"},
		{"disallowed extension", func(in *CreateInput) { in.Primary = upload("teapot.exe", "MZ") }, "Invalid file extension"},
		{"empty title", func(in *CreateInput) { in.Title = "   " }, "Missing or invalid required fields"},
		{"missing file", func(in *CreateInput) { in.Primary = nil }, "File upload error"},
		{"too large", func(in *CreateInput) { in.Primary.Size = testMaxFileSize + 1 }, "File size exceeds maximum allowed size"},
		{"empty file", func(in *CreateInput) { in.Primary = upload("empty.obj", "") }, "File upload error"},
		{"declared size but no content", func(in *CreateInput) {
			in.Primary = &Upload{Filename: "teapot.obj", Size: 64, Body: strings.NewReader("")}
		}, "File upload error"},
		{"understated size", func(in *CreateInput) {
			in.Primary = &Upload{Filename: "teapot.obj", Size: 16, Body: strings.NewReader(strings.Repeat("v", testMaxFileSize+10))}
		}, "File size exceeds maximum allowed size"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			in := validInput()
			tc.mutate(&in)

			_, err := env.svc.Create(context.Background(), alice, in)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))

			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tc.msg, e.Message)
			assert.Zero(t, env.records.count())
			assert.Empty(t, env.files(t))
		})
	}
}

func TestCreate_RequiresCaller(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Create(context.Background(), anonymous(), validInput())
	assert.Equal(t, KindUnauthenticated, KindOf(err))
	assert.Empty(t, env.files(t))
}

func TestCreate_PersistFailureRemovesBlobs(t *testing.T) {
	env := newTestEnv(t)
	env.records.failInsert = errDatabaseDown
	in := validInput()
	in.Related = []Upload{*upload("teapot.mtl", "newmtl red\n")}

	_, err := env.svc.Create(context.Background(), alice, in)
	require.Error(t, err)

	assert.Equal(t, KindPersist, KindOf(err))
	assert.ErrorIs(t, err, errDatabaseDown)
	assert.Empty(t, env.files(t))
}

func TestCreate_RelatedWriteFailureRemovesPrimary(t *testing.T) {
	env := newTestEnv(t)
	env.flaky.failOn = 2
	in := validInput()
	in.Related = []Upload{*upload("teapot.mtl", "newmtl red\n")}

	_, err := env.svc.Create(context.Background(), alice, in)
	require.Error(t, err)

	assert.Equal(t, KindBackendWrite, KindOf(err))
	assert.ErrorIs(t, err, storage.ErrUploadFailed)
	assert.Zero(t, env.records.count())
	assert.Empty(t, env.files(t))
}

func TestCreate_PrimaryWriteFailureWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.flaky.failOn = 1

	_, err := env.svc.Create(context.Background(), alice, validInput())

	assert.Equal(t, KindBackendWrite, KindOf(err))
	assert.Zero(t, env.records.count())
	assert.Empty(t, env.files(t))
}

func TestCreate_ConcurrentSameTitleProducesDistinctObjects(t *testing.T) {
	env := newTestEnv(t)
	const n = 8

	var wg sync.WaitGroup
	results := make([]*Object, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.svc.Create(context.Background(), alice, validInput())
		}(i)
	}
	wg.Wait()

	ids := map[int64]bool{}
	refs := map[string]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		ids[results[i].ID] = true
		refs[results[i].FileRef] = true
	}
	assert.Len(t, ids, n)
	assert.Len(t, refs, n)
	assert.Len(t, env.files(t), n)
}

func TestGet_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Get(context.Background(), 404)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestGet_IsPublic(t *testing.T) {
	env := newTestEnv(t)
	obj, err := env.svc.Create(context.Background(), alice, validInput())
	require.NoError(t, err)

	got, err := env.svc.Get(context.Background(), obj.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.UserID, got.OwnerID)
}

func TestGet_LegacyRemoteRefPassesThrough(t *testing.T) {
	env := newTestEnv(t)
	url := "https://proj.supabase.co/storage/v1/object/public/3d-objects/1600000000_legacy01.glb"
	legacy := &Object{OwnerID: alice.UserID, Title: "old", FileRef: url, FileKind: FileGLB, FileSize: 10}
	require.NoError(t, env.records.Insert(context.Background(), legacy))

	got, err := env.svc.Get(context.Background(), legacy.ID)
	require.NoError(t, err)
	assert.Equal(t, url, got.FileURL)
}

func TestList_OwnerScopedNewestFirstWithSearch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mk := func(caller string, title, desc string) {
		in := validInput()
		in.Title, in.Description = title, desc
		id := alice
		if caller == "bob" {
			id = bob
		}
		_, err := env.svc.Create(ctx, id, in)
		require.NoError(t, err)
	}
	mk("alice", "Chair", "wooden")
	mk("bob", "Chair", "bob's chair")
	mk("alice", "Table", "oak table with CHAIRS")
	mk("alice", "Lamp", "")

	all, err := env.svc.List(ctx, alice, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"Lamp", "Table", "Chair"}, titles(all))

	found, err := env.svc.List(ctx, alice, "chair")
	require.NoError(t, err)
	assert.Equal(t, []string{"Table", "Chair"}, titles(found))

	_, err = env.svc.List(ctx, anonymous(), "")
	assert.Equal(t, KindUnauthenticated, KindOf(err))
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.svc.Create(ctx, alice, validInput())
	require.NoError(t, err)
	b, err := env.svc.Create(ctx, alice, validInput())
	require.NoError(t, err)
	_, err = env.svc.Create(ctx, bob, validInput())
	require.NoError(t, err)

	st, err := env.svc.Stats(ctx, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.ObjectCount)
	assert.Equal(t, a.FileSize+b.FileSize, st.TotalBytes)
}

func TestUpdate_DescriptionOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := validInput()
	in.Related = []Upload{*upload("teapot.mtl", "newmtl red\n")}
	created, err := env.svc.Create(ctx, alice, in)
	require.NoError(t, err)

	desc := "now with lid"
	updated, err := env.svc.Update(ctx, alice, created.ID, UpdateInput{Description: &desc})
	require.NoError(t, err)

	assert.Equal(t, created.Title, updated.Title)
	assert.Equal(t, created.FileKind, updated.FileKind)
	assert.Equal(t, created.FileRef, updated.FileRef)
	assert.Equal(t, created.RelatedFiles, updated.RelatedFiles)
	require.NotNil(t, updated.Description)
	assert.Equal(t, desc, *updated.Description)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
}

func TestUpdate_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.svc.Create(ctx, alice, validInput())
	require.NoError(t, err)

	_, err = env.svc.Update(ctx, alice, created.ID, UpdateInput{})
	assert.Equal(t, KindNoFieldsProvided, KindOf(err))

	blank := "  "
	_, err = env.svc.Update(ctx, alice, created.ID, UpdateInput{Title: &blank})
	assert.Equal(t, KindValidation, KindOf(err))

	title := "  Renamed  "
	updated, err := env.svc.Update(ctx, alice, created.ID, UpdateInput{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
}

func TestUpdate_NonOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.svc.Create(ctx, alice, validInput())
	require.NoError(t, err)

	title := "stolen"
	_, err = env.svc.Update(ctx, bob, created.ID, UpdateInput{Title: &title})
	assert.Equal(t, KindNotFoundOrForbidden, KindOf(err))

	// Ownership is checked before the payload, so an empty update still looks missing.
	_, err = env.svc.Update(ctx, bob, created.ID, UpdateInput{})
	assert.Equal(t, KindNotFoundOrForbidden, KindOf(err))

	_, err = env.svc.Update(ctx, alice, 999, UpdateInput{Title: &title})
	assert.Equal(t, KindNotFoundOrForbidden, KindOf(err))

	got, err := env.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Teapot", got.Title)
}

func TestDelete_RemovesRowAndBlobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := validInput()
	in.Related = []Upload{*upload("teapot.mtl", "newmtl red\n")}
	created, err := env.svc.Create(ctx, alice, in)
	require.NoError(t, err)
	require.Len(t, env.files(t), 2)

	require.NoError(t, env.svc.Delete(ctx, alice, created.ID))

	assert.Empty(t, env.files(t))
	_, err = env.svc.Get(ctx, created.ID)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestDelete_SucceedsWhenBlobAlreadyGone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.svc.Create(ctx, alice, validInput())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(env.local.Root(), created.FileRef)))

	require.NoError(t, env.svc.Delete(ctx, alice, created.ID))
	assert.Zero(t, env.records.count())
}

func TestDelete_UnreachableRemoteDoesNotBlock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	url := "https://proj.supabase.co/storage/v1/object/public/3d-objects/1600000000_legacy01.glb"
	legacy := &Object{OwnerID: alice.UserID, Title: "old", FileRef: url, FileKind: FileGLB, FileSize: 10}
	require.NoError(t, env.records.Insert(ctx, legacy))

	require.NoError(t, env.svc.Delete(ctx, alice, legacy.ID))
	assert.Zero(t, env.records.count())
}

func TestDelete_NonOwnerLeavesEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.svc.Create(ctx, alice, validInput())
	require.NoError(t, err)

	err = env.svc.Delete(ctx, bob, created.ID)
	assert.Equal(t, KindNotFoundOrForbidden, KindOf(err))

	err = env.svc.Delete(ctx, bob, 999)
	assert.Equal(t, KindNotFoundOrForbidden, KindOf(err))

	assert.Equal(t, 1, env.records.count())
	assert.Equal(t, []string{created.FileRef}, env.files(t))
}

func TestPurgeOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := validInput()
	in.Related = []Upload{*upload("teapot.mtl", "newmtl red\n")}
	_, err := env.svc.Create(ctx, alice, in)
	require.NoError(t, err)
	kept, err := env.svc.Create(ctx, bob, validInput())
	require.NoError(t, err)

	require.NoError(t, env.svc.PurgeOwner(ctx, alice.UserID))

	assert.Equal(t, []string{kept.FileRef}, env.files(t))
}

func titles(objs []*Object) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.Title
	}
	return out
}
