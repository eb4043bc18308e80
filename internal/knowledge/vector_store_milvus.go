package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/aihub/whatsbot-go/internal/errors"
	"github.com/aihub/whatsbot-go/internal/logger"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Collection string
	Database   string
	VectorSize int
	UseTLS     bool
	Timeout    time.Duration
}

type milvusVectorStore struct {
	milvusClient client.Client
	collection   string
	vectorSize   int
}

// NewMilvusVectorStore 创建Milvus向量存储
func NewMilvusVectorStore(opts MilvusOptions) (VectorStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Collection == "" {
		opts.Collection = "kb_chunks"
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = 1536
	}
	if opts.Database == "" {
		opts.Database = "default"
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	milvusClient, err := client.NewClient(ctx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeIndexUnavailable, "failed to create milvus client", err)
	}

	store := &milvusVectorStore{
		milvusClient: milvusClient,
		collection:   opts.Collection,
		vectorSize:   opts.VectorSize,
	}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *milvusVectorStore) ensureCollection(ctx context.Context) error {
	hasCollection, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIndexUnavailable, "failed to check collection", err)
	}

	if !hasCollection {
		schema := &entity.Schema{
			CollectionName: s.collection,
			Description:    "knowledge base chunks",
			Fields: []*entity.Field{
				{
					Name:       "id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:       "source_ref",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "512"},
				},
				{
					Name:     "sequence_index",
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:       "content",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "65535"},
				},
				{
					Name:       "vector",
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": fmt.Sprintf("%d", s.vectorSize)},
				},
			},
		}

		if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeIndexUnavailable, "failed to create collection", err)
		}

		var index entity.Index
		index, indexErr := entity.NewIndexHNSW(entity.COSINE, 8, 64)
		if indexErr != nil {
			index, indexErr = entity.NewIndexIvfFlat(entity.COSINE, 128)
			if indexErr != nil {
				return apperrors.Wrap(apperrors.ErrCodeIndexUnavailable, "failed to create index", indexErr)
			}
		}
		if err := s.milvusClient.CreateIndex(ctx, s.collection, "vector", index, false); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeIndexUnavailable, "failed to create index", err)
		}
	}

	if err := s.milvusClient.LoadCollection(ctx, s.collection, false); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIndexUnavailable, "failed to load collection", err)
	}
	return nil
}

// buildChunkColumns 整批校验后构造插入列，维度不一致时截断或补零
func buildChunkColumns(chunks []Chunk, vectorSize int) ([]string, []entity.Column, error) {
	ids := make([]string, 0, len(chunks))
	sources := make([]string, 0, len(chunks))
	sequences := make([]int64, 0, len(chunks))
	contents := make([]string, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))

	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return nil, nil, apperrors.Newf(apperrors.ErrCodeIndexUnavailable, "chunk %s缺少向量", chunk.ID)
		}
		embedding := chunk.Embedding
		if len(embedding) != vectorSize {
			padded := make([]float32, vectorSize)
			copy(padded, embedding)
			embedding = padded
		}
		ids = append(ids, chunk.ID)
		sources = append(sources, chunk.SourceRef)
		sequences = append(sequences, int64(chunk.SequenceIndex))
		contents = append(contents, chunk.Text)
		vectors = append(vectors, embedding)
	}

	columns := []entity.Column{
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("source_ref", sources),
		entity.NewColumnInt64("sequence_index", sequences),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnFloatVector("vector", vectorSize, vectors),
	}
	return ids, columns, nil
}

func (s *milvusVectorStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	_, columns, err := buildChunkColumns(chunks, s.vectorSize)
	if err != nil {
		return err
	}

	// 按主键覆盖写入
	if _, err := s.milvusClient.Upsert(ctx, s.collection, "", columns...); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIndexUnavailable, "milvus upsert failed", err)
	}

	s.flush(ctx)
	return nil
}

// ReplaceSource 先按主键覆盖写入新chunk，再删除该来源中不属于新集合的旧chunk。
// 并发查询在任一时刻看到旧集合、新集合或两者的并集，不会看到半删除的来源。
func (s *milvusVectorStore) ReplaceSource(ctx context.Context, sourceRef string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return s.DeleteSource(ctx, sourceRef)
	}

	ids, columns, err := buildChunkColumns(chunks, s.vectorSize)
	if err != nil {
		return err
	}

	if _, err := s.milvusClient.Upsert(ctx, s.collection, "", columns...); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIndexUnavailable, "milvus upsert failed", err)
	}

	if err := s.milvusClient.Delete(ctx, s.collection, "", staleSourceExpr(sourceRef, ids)); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIndexUnavailable, "milvus delete failed", err)
	}

	s.flush(ctx)
	return nil
}

func (s *milvusVectorStore) DeleteSource(ctx context.Context, sourceRef string) error {
	expr := fmt.Sprintf("source_ref == %s", strconv.Quote(sourceRef))
	if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIndexUnavailable, "milvus delete failed", err)
	}

	s.flush(ctx)
	return nil
}

// flush 失败不影响已写入的数据，只记录警告
func (s *milvusVectorStore) flush(ctx context.Context) {
	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		logger.Warn("milvus flush失败", zap.String("collection", s.collection), zap.Error(err))
	}
}

func (s *milvusVectorStore) Search(ctx context.Context, req SearchRequest) ([]SearchMatch, error) {
	if len(req.QueryEmbedding) == 0 {
		return nil, nil
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	queryVector := entity.FloatVector(req.QueryEmbedding)
	searchResults, err := s.milvusClient.Search(
		ctx,
		s.collection,
		[]string{},
		"",
		[]string{"source_ref", "sequence_index", "content"},
		[]entity.Vector{queryVector},
		"vector",
		entity.COSINE,
		req.TopK,
		sp,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeIndexUnavailable, "milvus search failed", err)
	}

	if len(searchResults) == 0 {
		return []SearchMatch{}, nil
	}
	result := searchResults[0]
	if result.Err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeIndexUnavailable, "milvus search error", result.Err)
	}
	if result.ResultCount == 0 {
		return []SearchMatch{}, nil
	}

	var ids []string
	if idCol, ok := result.IDs.(*entity.ColumnVarChar); ok {
		ids = idCol.Data()
	}

	var sources []string
	var sequences []int64
	var contents []string
	for _, field := range result.Fields {
		switch field.Name() {
		case "source_ref":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				sources = col.Data()
			}
		case "sequence_index":
			if col, ok := field.(*entity.ColumnInt64); ok {
				sequences = col.Data()
			}
		case "content":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				contents = col.Data()
			}
		}
	}

	matches := make([]SearchMatch, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		chunk := Chunk{}
		if i < len(ids) {
			chunk.ID = ids[i]
		}
		if i < len(sources) {
			chunk.SourceRef = sources[i]
		}
		if i < len(sequences) {
			chunk.SequenceIndex = int(sequences[i])
		}
		if i < len(contents) {
			chunk.Text = contents[i]
		}

		score := float64(0)
		if i < len(result.Scores) {
			score = float64(result.Scores[i])
		}
		if score < req.MinScore {
			continue
		}
		matches = append(matches, SearchMatch{Chunk: chunk, Score: score})
	}

	sortMatches(matches)
	return matches, nil
}

// Clear 删除集合后重建
func (s *milvusVectorStore) Clear(ctx context.Context) error {
	if err := s.milvusClient.DropCollection(ctx, s.collection); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeIndexUnavailable, "milvus drop collection failed", err)
	}
	return s.ensureCollection(ctx)
}

func (s *milvusVectorStore) Count(ctx context.Context) (int, error) {
	stats, err := s.milvusClient.GetCollectionStatistics(ctx, s.collection)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrCodeIndexUnavailable, "milvus statistics failed", err)
	}
	count, err := strconv.Atoi(stats["row_count"])
	if err != nil {
		return 0, nil
	}
	return count, nil
}

func (s *milvusVectorStore) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}

// staleSourceExpr 匹配某来源中不在保留ID集合里的旧chunk
func staleSourceExpr(sourceRef string, keepIDs []string) string {
	quoted := make([]string, len(keepIDs))
	for i, id := range keepIDs {
		quoted[i] = strconv.Quote(id)
	}
	return fmt.Sprintf("source_ref == %s and id not in [%s]",
		strconv.Quote(sourceRef), strings.Join(quoted, ", "))
}
