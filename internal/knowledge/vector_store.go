package knowledge

import (
	"context"
	"sort"
)

// SearchMatch 检索结果，score为余弦相似度
type SearchMatch struct {
	Chunk Chunk
	Score float64
}

// SearchRequest 向量检索请求
type SearchRequest struct {
	QueryEmbedding []float32
	TopK           int
	MinScore       float64 // 相似度下限，仅返回 >= MinScore 的结果
}

// VectorStore 向量存储抽象
type VectorStore interface {
	// Upsert 按ID插入或整体覆盖
	Upsert(ctx context.Context, chunks []Chunk) error
	// ReplaceSource 原子地替换某来源的全部chunk，并发查询不会观察到半删除状态
	ReplaceSource(ctx context.Context, sourceRef string, chunks []Chunk) error
	Search(ctx context.Context, req SearchRequest) ([]SearchMatch, error)
	DeleteSource(ctx context.Context, sourceRef string) error
	// Clear 清空全部数据
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Ready() bool
}

// sortMatches 按分数降序排序，分数相同时按序号、来源升序保证确定性
func sortMatches(matches []SearchMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Chunk.SequenceIndex != matches[j].Chunk.SequenceIndex {
			return matches[i].Chunk.SequenceIndex < matches[j].Chunk.SequenceIndex
		}
		return matches[i].Chunk.SourceRef < matches[j].Chunk.SourceRef
	})
}
