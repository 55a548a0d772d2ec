package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryIndex_ScoresPerMatchingField(t *testing.T) {
	//setup
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, Entry{ID: "a", Name: "Vertrag", OriginalFileName: "vertrag.pdf", OcrText: "Mietvertrag"}))
	require.NoError(t, idx.Index(ctx, Entry{ID: "b", Name: "Rechnung", OriginalFileName: "r.pdf", OcrText: "siehe Vertrag"}))
	require.NoError(t, idx.Index(ctx, Entry{ID: "c", Name: "Notiz"}))

	//test
	hits, err := idx.Search(ctx, "VERTRAG", 10)

	//assert
	require.NoError(t, err)
	require.Equal(t, []Hit{{ID: "a", Score: 3}, {ID: "b", Score: 1}}, hits)
}

func TestMemoryIndex_LimitsAndIgnoresEmpty(t *testing.T) {
	//setup
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, Entry{ID: "", Name: "x"}))
	require.NoError(t, idx.Index(ctx, Entry{ID: "a", Name: "x"}))
	require.NoError(t, idx.Index(ctx, Entry{ID: "b", Name: "x"}))

	//test
	hits, err := idx.Search(ctx, "x", 1)

	//assert
	require.NoError(t, err)
	require.Equal(t, []Hit{{ID: "a", Score: 1}}, hits)

	empty, err := idx.Search(ctx, " ", 10)
	require.NoError(t, err)
	require.Empty(t, empty)

	require.NoError(t, idx.Delete(ctx, "a"))
	_, ok := idx.Get("a")
	require.False(t, ok)
}
