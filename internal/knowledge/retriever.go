package knowledge

import (
	"context"
	"strings"

	"github.com/aihub/whatsbot-go/internal/logger"
	"go.uber.org/zap"
)

// Retriever 语义检索器，负责把查询文本变成向量并从索引取回最相关的chunk
type Retriever struct {
	embedder Embedder
	store    VectorStore
	topK     int
	minScore float64
}

// NewRetriever 创建检索器
func NewRetriever(embedder Embedder, store VectorStore, topK int, minScore float64) *Retriever {
	if topK <= 0 {
		topK = 3
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		topK:     topK,
		minScore: minScore,
	}
}

// Retrieve 检索与查询最相关的chunk。
// 索引为空或没有结果达到分数下限时返回空切片，这是正常情况而不是错误。
func (r *Retriever) Retrieve(ctx context.Context, queryText string) ([]SearchMatch, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, nil
	}

	embedding, err := r.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	matches, err := r.store.Search(ctx, SearchRequest{
		QueryEmbedding: embedding,
		TopK:           r.topK,
		MinScore:       r.minScore,
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("知识库检索完成",
		zap.Int("matches", len(matches)),
		zap.Int("top_k", r.topK),
		zap.Float64("min_score", r.minScore))
	return matches, nil
}
