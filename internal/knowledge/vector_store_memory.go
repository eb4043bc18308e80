package knowledge

import (
	"context"
	"math"
	"sync"

	apperrors "github.com/aihub/whatsbot-go/internal/errors"
)

// MemoryVectorStore 进程内向量存储，重启后数据丢失
type MemoryVectorStore struct {
	mu     sync.RWMutex
	chunks map[string]Chunk
}

// NewMemoryVectorStore 创建内存向量存储
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{
		chunks: make(map[string]Chunk),
	}
}

// validateChunks 整批校验，保证出错时存储未被改动
func validateChunks(chunks []Chunk) error {
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return apperrors.Newf(apperrors.ErrCodeIndexUnavailable, "chunk %s缺少向量", chunk.ID)
		}
	}
	return nil
}

func (s *MemoryVectorStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if err := validateChunks(chunks); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chunk := range chunks {
		s.chunks[chunk.ID] = chunk
	}
	return nil
}

// ReplaceSource 在同一把写锁内完成删除和重建
func (s *MemoryVectorStore) ReplaceSource(ctx context.Context, sourceRef string, chunks []Chunk) error {
	if err := validateChunks(chunks); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, chunk := range s.chunks {
		if chunk.SourceRef == sourceRef {
			delete(s.chunks, id)
		}
	}
	for _, chunk := range chunks {
		s.chunks[chunk.ID] = chunk
	}
	return nil
}

func (s *MemoryVectorStore) Search(ctx context.Context, req SearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, nil
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	queryNorm := vectorNorm(req.QueryEmbedding)
	if queryNorm == 0 {
		return nil, nil
	}

	s.mu.RLock()
	matches := make([]SearchMatch, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		score := cosineSimilarity(req.QueryEmbedding, chunk.Embedding, queryNorm)
		if score < req.MinScore {
			continue
		}
		matches = append(matches, SearchMatch{Chunk: chunk, Score: score})
	}
	s.mu.RUnlock()

	sortMatches(matches)
	if len(matches) > req.TopK {
		matches = matches[:req.TopK]
	}
	return matches, nil
}

func (s *MemoryVectorStore) DeleteSource(ctx context.Context, sourceRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, chunk := range s.chunks {
		if chunk.SourceRef == sourceRef {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *MemoryVectorStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make(map[string]Chunk)
	return nil
}

func (s *MemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func (s *MemoryVectorStore) Ready() bool {
	return true
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32, normA float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) != len(b) {
		// 维度不一致时按较短的对齐
		minLen := len(a)
		if len(b) < minLen {
			minLen = len(b)
		}
		a = a[:minLen]
		b = b[:minLen]
	}

	var dot float64
	var normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (normA * math.Sqrt(normB))
}
