package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedChunk(id, sourceRef string, seq int, embedding []float32) Chunk {
	return Chunk{
		ID:            id,
		Text:          "chunk " + id,
		SourceRef:     sourceRef,
		SequenceIndex: seq,
		Embedding:     embedding,
	}
}

func TestMemoryVectorStore_SearchOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()

	require.NoError(t, store.Upsert(ctx, []Chunk{
		storedChunk("a", "doc.txt", 0, []float32{1, 0}),
		storedChunk("b", "doc.txt", 1, []float32{0.8, 0.6}),
		storedChunk("c", "doc.txt", 2, []float32{0, 1}),
	}))

	matches, err := store.Search(ctx, SearchRequest{
		QueryEmbedding: []float32{1, 0},
		TopK:           3,
	})
	require.NoError(t, err)
	require.Len(t, matches, 3)

	// 分数非递增
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
	assert.Equal(t, "a", matches[0].Chunk.ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.Equal(t, "b", matches[1].Chunk.ID)
	assert.Equal(t, "c", matches[2].Chunk.ID)
}

func TestMemoryVectorStore_TopKAndMinScore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()

	require.NoError(t, store.Upsert(ctx, []Chunk{
		storedChunk("a", "doc.txt", 0, []float32{1, 0}),
		storedChunk("b", "doc.txt", 1, []float32{0.8, 0.6}),
		storedChunk("c", "doc.txt", 2, []float32{0, 1}),
	}))

	matches, err := store.Search(ctx, SearchRequest{
		QueryEmbedding: []float32{1, 0},
		TopK:           2,
	})
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	// min_score过滤掉相似度不足的chunk
	matches, err = store.Search(ctx, SearchRequest{
		QueryEmbedding: []float32{1, 0},
		TopK:           3,
		MinScore:       0.9,
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Chunk.ID)

	// 阈值高于全部分数时返回空结果而非错误
	matches, err = store.Search(ctx, SearchRequest{
		QueryEmbedding: []float32{1, 0},
		TopK:           3,
		MinScore:       1.1,
	})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMemoryVectorStore_TieBreak(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()

	// 三个chunk与查询向量相似度相同
	require.NoError(t, store.Upsert(ctx, []Chunk{
		storedChunk("x", "b.txt", 0, []float32{1, 0}),
		storedChunk("y", "a.txt", 0, []float32{1, 0}),
		storedChunk("z", "a.txt", 1, []float32{1, 0}),
	}))

	matches, err := store.Search(ctx, SearchRequest{
		QueryEmbedding: []float32{2, 0},
		TopK:           3,
	})
	require.NoError(t, err)
	require.Len(t, matches, 3)

	// 分数并列时先按序号升序，再按来源升序
	assert.Equal(t, "y", matches[0].Chunk.ID)
	assert.Equal(t, "x", matches[1].Chunk.ID)
	assert.Equal(t, "z", matches[2].Chunk.ID)
}

func TestMemoryVectorStore_ReplaceSource(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()

	require.NoError(t, store.Upsert(ctx, []Chunk{
		storedChunk("a1", "a.txt", 0, []float32{1, 0}),
		storedChunk("a2", "a.txt", 1, []float32{1, 0}),
		storedChunk("b1", "b.txt", 0, []float32{0, 1}),
	}))

	// 替换a.txt为单个chunk，b.txt不受影响
	require.NoError(t, store.ReplaceSource(ctx, "a.txt", []Chunk{
		storedChunk("a3", "a.txt", 0, []float32{1, 1}),
	}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	matches, err := store.Search(ctx, SearchRequest{QueryEmbedding: []float32{0, 1}, TopK: 10})
	require.NoError(t, err)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.Chunk.ID)
	}
	assert.ElementsMatch(t, []string{"a3", "b1"}, ids)
}

func TestMemoryVectorStore_UpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()

	chunks := []Chunk{
		storedChunk("a1", "a.txt", 0, []float32{1, 0}),
		storedChunk("a2", "a.txt", 1, []float32{0, 1}),
	}

	require.NoError(t, store.Upsert(ctx, chunks))
	require.NoError(t, store.Upsert(ctx, chunks))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemoryVectorStore_UpsertRejectsBatchAtomically(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()

	// 批次中第二个chunk缺少向量：整批拒绝，第一个也不写入
	err := store.Upsert(ctx, []Chunk{
		storedChunk("a1", "a.txt", 0, []float32{1, 0}),
		{ID: "a2", Text: "no embedding", SourceRef: "a.txt", SequenceIndex: 1},
	})
	require.Error(t, err)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMemoryVectorStore_ReplaceSourceRejectsBadBatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()

	require.NoError(t, store.Upsert(ctx, []Chunk{
		storedChunk("a1", "a.txt", 0, []float32{1, 0}),
	}))

	// 替换批次无效时旧chunk原样保留
	err := store.ReplaceSource(ctx, "a.txt", []Chunk{
		{ID: "a2", Text: "no embedding", SourceRef: "a.txt", SequenceIndex: 0},
	})
	require.Error(t, err)

	matches, err := store.Search(ctx, SearchRequest{QueryEmbedding: []float32{1, 0}, TopK: 10})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a1", matches[0].Chunk.ID)
}

func TestMemoryVectorStore_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()

	require.NoError(t, store.Upsert(ctx, []Chunk{
		storedChunk("a1", "a.txt", 0, []float32{1, 0}),
		storedChunk("b1", "b.txt", 0, []float32{0, 1}),
	}))

	require.NoError(t, store.DeleteSource(ctx, "a.txt"))
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.Clear(ctx))
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0}
	assert.InDelta(t, 1.0, cosineSimilarity(a, []float32{3, 0}, vectorNorm(a)), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity(a, []float32{0, 5}, vectorNorm(a)), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity(a, []float32{-2, 0}, vectorNorm(a)), 1e-9)
}
