package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	apperrors "github.com/aihub/whatsbot-go/internal/errors"
	"github.com/aihub/whatsbot-go/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// 所有摄取路径（HTTP、CLI）都经过IngestText，在这里统一计数
var ingestedChunksTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "bot_ingested_chunks_total",
		Help: "Total number of chunks written to the vector index",
	},
)

// Ingestor 知识库摄取服务，负责文档解析、分块、向量化和入库
type Ingestor struct {
	chunker  *Chunker
	embedder Embedder
	store    VectorStore
	parsers  *FileParserManager

	// 按来源加锁，同一来源的替换对并发查询保持原子
	mu          sync.Mutex
	sourceLocks map[string]*sync.Mutex
}

// IngestReport 批量摄取结果
type IngestReport struct {
	Files   int
	Chunks  int
	Skipped []string
}

// NewIngestor 创建摄取服务
func NewIngestor(chunker *Chunker, embedder Embedder, store VectorStore) *Ingestor {
	return &Ingestor{
		chunker:     chunker,
		embedder:    embedder,
		store:       store,
		parsers:     NewFileParserManager(),
		sourceLocks: make(map[string]*sync.Mutex),
	}
}

func (in *Ingestor) lockSource(sourceRef string) *sync.Mutex {
	in.mu.Lock()
	defer in.mu.Unlock()
	lock, ok := in.sourceLocks[sourceRef]
	if !ok {
		lock = &sync.Mutex{}
		in.sourceLocks[sourceRef] = lock
	}
	return lock
}

// IngestText 摄取原始文本。同一sourceRef重复摄取会整体替换旧chunk而不是追加，
// 分块边界只由输入和配置决定，因此摄取是幂等的。
func (in *Ingestor) IngestText(ctx context.Context, text, sourceRef string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}
	if sourceRef == "" {
		sourceRef = "manual"
	}

	chunks := in.chunker.Split(text, sourceRef)
	for i := range chunks {
		embedding, err := in.embedder.Embed(ctx, chunks[i].Text)
		if err != nil {
			return 0, fmt.Errorf("向量化chunk %d失败: %w", i, err)
		}
		chunks[i].Embedding = embedding
	}

	lock := in.lockSource(sourceRef)
	lock.Lock()
	defer lock.Unlock()

	if err := in.store.ReplaceSource(ctx, sourceRef, chunks); err != nil {
		return 0, fmt.Errorf("写入向量索引失败: %w", err)
	}
	ingestedChunksTotal.Add(float64(len(chunks)))

	logger.Info("已摄取文本",
		zap.String("source_ref", sourceRef),
		zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// IngestFile 摄取单个文件，文件路径作为source_ref
func (in *Ingestor) IngestFile(ctx context.Context, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("打开文件失败: %w", err)
	}
	defer file.Close()

	text, err := in.parsers.ParseFile(file, path)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(text) == "" {
		logger.Warn("文件未提取到文本", zap.String("path", path))
		return 0, nil
	}

	return in.IngestText(ctx, text, path)
}

// IngestDirectory 摄取目录下所有受支持的文件。
// 单个文件失败不会中断批量摄取，失败文件记录在报告中。
func (in *Ingestor) IngestDirectory(ctx context.Context, dir string) (*IngestReport, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("目录不存在: %s", dir)
	}

	report := &IngestReport{}
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !in.parsers.Supports(path) {
			return nil
		}

		chunks, err := in.IngestFile(ctx, path)
		if err != nil {
			logger.Warn("跳过文件",
				zap.String("path", path),
				zap.Error(err))
			report.Skipped = append(report.Skipped, path)
			return nil
		}
		report.Files++
		report.Chunks += chunks
		return nil
	})
	if walkErr != nil {
		return report, fmt.Errorf("遍历目录失败: %w", walkErr)
	}

	logger.Info("目录摄取完成",
		zap.String("dir", dir),
		zap.Int("files", report.Files),
		zap.Int("chunks", report.Chunks),
		zap.Int("skipped", len(report.Skipped)))
	return report, nil
}

// ClearAll 清空知识库
func (in *Ingestor) ClearAll(ctx context.Context) error {
	if err := in.store.Clear(ctx); err != nil {
		return err
	}
	logger.Info("知识库已清空")
	return nil
}

// Count 知识库中chunk总数
func (in *Ingestor) Count(ctx context.Context) (int, error) {
	count, err := in.store.Count(ctx)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SupportedFormats 受支持的文件格式
func (in *Ingestor) SupportedFormats() []string {
	return in.parsers.SupportedFormats()
}

// IsUnsupportedFormat 判断错误是否为格式不支持
func IsUnsupportedFormat(err error) bool {
	return apperrors.HasCode(err, apperrors.ErrCodeUnsupportedFormat)
}
