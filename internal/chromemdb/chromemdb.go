package chromemdb

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

const collectionPrefix = "tenant_"

// Document is one chunk vector with the metadata needed to rank and scope it
type Document struct {
	ID        string
	PromptID  string
	ChunkID   string
	Content   string
	Position  int
	CreatedAt int64
	Embedding []float32
}

// Result is a ranked document
type Result struct {
	ID         string
	PromptID   string
	ChunkID    string
	Content    string
	Similarity float64

	createdAt int64
	position  int
}

// Index keeps one chromem collection per tenant
type Index struct {
	db *chromem.DB
	mu sync.Mutex

	// held for writing by Add and DeletePrompt so Query sees a stable document count
	docs sync.RWMutex
}

// NewIndex opens a persistent index under dbPath, or an in-memory one when inMemory is set
func NewIndex(dbPath string, inMemory bool) (*Index, error) {
	if inMemory {
		return &Index{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(dbPath, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector index: %v", err)
	}
	return &Index{db: db}, nil
}

func (x *Index) collection(tenantID string) (*chromem.Collection, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	c, err := x.db.GetOrCreateCollection(collectionPrefix+tenantID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %v", err)
	}
	return c, nil
}

// Add stores the documents of a tenant
func (x *Index) Add(ctx context.Context, tenantID string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	c, err := x.collection(tenantID)
	if err != nil {
		return err
	}
	chromemDocs := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		chromemDocs = append(chromemDocs, chromem.Document{
			ID:      d.ID,
			Content: d.Content,
			Metadata: map[string]string{
				"prompt_id":  d.PromptID,
				"chunk_id":   d.ChunkID,
				"position":   strconv.Itoa(d.Position),
				"created_at": strconv.FormatInt(d.CreatedAt, 10),
			},
			Embedding: append([]float32(nil), d.Embedding...),
		})
	}
	x.docs.Lock()
	defer x.docs.Unlock()
	if err := c.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %v", err)
	}
	return nil
}

// DeletePrompt drops every document of a prompt
func (x *Index) DeletePrompt(ctx context.Context, tenantID, promptID string) error {
	c, err := x.collection(tenantID)
	if err != nil {
		return err
	}
	x.docs.Lock()
	defer x.docs.Unlock()
	if c.Count() == 0 {
		return nil
	}
	if err := c.Delete(ctx, map[string]string{"prompt_id": promptID}, nil); err != nil {
		return fmt.Errorf("failed to delete documents: %v", err)
	}
	return nil
}

// Query ranks every document of the tenant, optionally restricted to one prompt.
// Equal similarities are ordered by insertion time and chunk position.
func (x *Index) Query(ctx context.Context, tenantID, promptID string, vector []float32) ([]Result, error) {
	c, err := x.collection(tenantID)
	if err != nil {
		return nil, err
	}
	var where map[string]string
	if promptID != "" {
		where = map[string]string{"prompt_id": promptID}
	}

	x.docs.RLock()
	n := c.Count()
	if n == 0 {
		x.docs.RUnlock()
		return nil, nil
	}
	found, err := c.QueryEmbedding(ctx, vector, n, where, nil)
	x.docs.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}
	log.Debug().Str("tenant_id", tenantID).Int("candidates", n).Int("results", len(found)).Msg("Queried vector index")

	results := make([]Result, 0, len(found))
	for _, r := range found {
		position, _ := strconv.Atoi(r.Metadata["position"])
		createdAt, _ := strconv.ParseInt(r.Metadata["created_at"], 10, 64)
		results = append(results, Result{
			ID:         r.ID,
			PromptID:   r.Metadata["prompt_id"],
			ChunkID:    r.Metadata["chunk_id"],
			Content:    r.Content,
			Similarity: float64(r.Similarity),
			createdAt:  createdAt,
			position:   position,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.createdAt != b.createdAt {
			return a.createdAt < b.createdAt
		}
		return a.position < b.position
	})
	return results, nil
}
