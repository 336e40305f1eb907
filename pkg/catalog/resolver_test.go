package catalog

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	mock := newMockCatalog(t)
	ref := mock.addPage(1, 1)[0]
	resolver := NewResolver(mock.newCatalog())

	record, err := resolver.Resolve(context.Background(), ref, FormatCSV, true)
	require.NoError(t, err)

	assert.Equal(t, ref, record.Ref)
	assert.Equal(t, ref.Title, record.Metadata.Title)
	assert.Equal(t, "Test Publisher", record.Metadata.PublishedBy)
	require.NotNil(t, record.Selected)
	assert.Equal(t, "CSV", record.Selected.Format)
}

func TestResolveNoMatchingFormat(t *testing.T) {
	mock := newMockCatalog(t)
	ref := mock.addPage(1, 1)[0]
	resolver := NewResolver(mock.newCatalog())

	record, err := resolver.Resolve(context.Background(), ref, FormatZIP, true)
	require.NoError(t, err)

	// The record survives with its resources; only the selection is empty
	assert.Nil(t, record.Selected)
	assert.Len(t, record.Resources, 1)
}

func TestResolveMetadataOnly(t *testing.T) {
	mock := newMockCatalog(t)
	ref := mock.addPage(1, 1)[0]
	resolver := NewResolver(mock.newCatalog())

	record, err := resolver.Resolve(context.Background(), ref, FormatNone, true)
	require.NoError(t, err)
	assert.Nil(t, record.Selected)
}

func TestResolveCachedFetchOnce(t *testing.T) {
	mock := newMockCatalog(t)
	ref := mock.addPage(1, 1)[0]
	resolver := NewResolver(mock.newCatalog())
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, ref, FormatCSV, true)
	require.NoError(t, err)
	_, err = resolver.Resolve(ctx, ref, FormatCSV, true)
	require.NoError(t, err)

	assert.Equal(t, 1, mock.fetchCount(ref.Path))
}

func TestResolveConcurrentSameRef(t *testing.T) {
	mock := newMockCatalog(t)
	ref := mock.addPage(1, 1)[0]
	resolver := NewResolver(mock.newCatalog())

	const resolvers = 16
	records := make([]*DatasetRecord, resolvers)
	errs := make([]error, resolvers)

	var wg sync.WaitGroup
	for i := 0; i < resolvers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			records[i], errs[i] = resolver.Resolve(context.Background(), ref, FormatCSV, true)
		}(i)
	}
	wg.Wait()

	for i := 0; i < resolvers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ref.Title, records[i].Metadata.Title)
	}
	// All sixteen shared a single detail fetch
	assert.Equal(t, 1, mock.fetchCount(ref.Path))
}

func TestResolveDistinctRefsIndependent(t *testing.T) {
	mock := newMockCatalog(t)
	refs := mock.addPage(1, 4)
	resolver := NewResolver(mock.newCatalog())

	var wg sync.WaitGroup
	for _, ref := range refs {
		wg.Add(1)
		go func(ref DatasetRef) {
			defer wg.Done()
			_, err := resolver.Resolve(context.Background(), ref, FormatCSV, true)
			assert.NoError(t, err)
		}(ref)
	}
	wg.Wait()

	for _, ref := range refs {
		assert.Equal(t, 1, mock.fetchCount(ref.Path))
	}
}

func TestResolveFallsBackToRefTitle(t *testing.T) {
	mock := newMockCatalog(t)
	ref := DatasetRef{ID: "untitled", Title: "Search Row Title", Path: "/dataset/untitled/slug"}
	mock.details[ref.Path] = `<html><body><h1 property="dc:title"></h1></body></html>`
	resolver := NewResolver(mock.newCatalog())

	record, err := resolver.Resolve(context.Background(), ref, FormatNone, true)
	require.NoError(t, err)
	assert.Equal(t, "Search Row Title", record.Metadata.Title)
}

func TestResolveNotFound(t *testing.T) {
	mock := newMockCatalog(t)
	resolver := NewResolver(mock.newCatalog())

	_, err := resolver.Resolve(context.Background(),
		DatasetRef{ID: "missing", Path: "/dataset/missing/slug"}, FormatCSV, true)
	assert.Error(t, err)
}
