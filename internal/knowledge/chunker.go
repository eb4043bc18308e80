package knowledge

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	apperrors "github.com/aihub/whatsbot-go/internal/errors"
)

// Chunk 表示知识库中一段已索引的文本
type Chunk struct {
	ID            string    // 由来源与偏移量派生，重复摄取时保持稳定
	Text          string
	SourceRef     string    // 来源文档标识
	SequenceIndex int       // 在来源文档中的序号
	Embedding     []float32 // 索引后填充
}

// Chunker 文本分块器，按固定窗口加重叠切分
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker 创建分块器，overlap >= chunkSize 视为配置错误
func NewChunker(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidConfig, "chunk_size必须大于0，当前为%d", chunkSize)
	}
	if overlap < 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidConfig, "overlap不能为负数，当前为%d", overlap)
	}
	if overlap >= chunkSize {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidConfig, "overlap(%d)必须小于chunk_size(%d)", overlap, chunkSize)
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
	}, nil
}

// Split 将文本切分为多个chunk，结果只由输入和配置决定。
// 窗口大小为chunkSize，步长为chunkSize-overlap，最后一个窗口可以更短但不为空。
func (c *Chunker) Split(text, sourceRef string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := c.chunkSize - c.chunkOverlap
	var chunks []Chunk

	for start := 0; start < len(runes); start += step {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}

		chunks = append(chunks, Chunk{
			ID:            chunkID(sourceRef, start),
			Text:          string(runes[start:end]),
			SourceRef:     sourceRef,
			SequenceIndex: len(chunks),
		})

		if end == len(runes) {
			break
		}
	}

	return chunks
}

// chunkID 根据来源和偏移量生成稳定ID
func chunkID(sourceRef string, offset int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s:%d", sourceRef, offset)))
	return hex.EncodeToString(sum[:])
}
