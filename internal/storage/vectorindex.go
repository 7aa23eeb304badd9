package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	opensearchapi "github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	pipelineerr "github.com/fankserver/meetcap/internal/errors"
)

// VectorIndex backs SPEC_FULL's supplemented hybrid search feature
// (keyword, semantic, and hybrid retrieval over segment embeddings).
// Grounded on iamprashant-voice-ai's OpenSearchConnector usage for its
// knowledge-document search (go.mod's opensearch-project/opensearch-go/v2
// dependency), generalized from document chunks to meeting segments.
type VectorIndex struct {
	client *opensearch.Client
	index  string
}

const segmentIndexMapping = `{
  "mappings": {
    "properties": {
      "session_id":   { "type": "keyword" },
      "sequence":     { "type": "long" },
      "speaker_id":   { "type": "keyword" },
      "text":         { "type": "text" },
      "key_phrases":  { "type": "keyword" },
      "topic_tags":   { "type": "keyword" },
      "overall_conf": { "type": "float" },
      "embedding": {
        "type": "knn_vector",
        "dimension": %d,
        "method": { "name": "hnsw", "space_type": "cosinesimil", "engine": "nmslib" }
      }
    }
  },
  "settings": { "index.knn": true }
}`

// NewVectorIndex connects to an OpenSearch cluster for hybrid search.
func NewVectorIndex(addresses []string, username, password, index string) (*VectorIndex, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, pipelineerr.Storage(false, "connecting to opensearch", err)
	}
	return &VectorIndex{client: client, index: index}, nil
}

// EnsureIndex creates the k-NN index if it does not already exist.
func (v *VectorIndex) EnsureIndex(ctx context.Context, embeddingDimension int) error {
	exists, err := v.client.Indices.Exists([]string{v.index}, v.client.Indices.Exists.WithContext(ctx))
	if err == nil && exists != nil && exists.StatusCode == 200 {
		return nil
	}

	body := fmt.Sprintf(segmentIndexMapping, embeddingDimension)
	res, err := v.client.Indices.Create(v.index,
		v.client.Indices.Create.WithBody(bytes.NewReader([]byte(body))),
		v.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return pipelineerr.Storage(true, "creating opensearch knn index", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return pipelineerr.Storage(true, fmt.Sprintf("creating opensearch knn index: %s", res.Status()), nil)
	}
	return nil
}

type indexedSegment struct {
	SessionID   string    `json:"session_id"`
	Sequence    uint64    `json:"sequence"`
	SpeakerID   string    `json:"speaker_id"`
	Text        string    `json:"text"`
	KeyPhrases  []string  `json:"key_phrases"`
	TopicTags   []string  `json:"topic_tags"`
	OverallConf float32   `json:"overall_conf"`
	Embedding   []float32 `json:"embedding"`
}

// IndexSegment upserts one segment into the k-NN index for retrieval.
func (v *VectorIndex) IndexSegment(ctx context.Context, seg SegmentRecord) error {
	doc := indexedSegment{
		SessionID:   seg.SessionID,
		Sequence:    seg.Sequence,
		SpeakerID:   seg.SpeakerID,
		Text:        seg.Text,
		OverallConf: seg.OverallConf,
		Embedding:   decodeEmbedding(seg.Embedding),
	}
	if seg.KeyPhrases != "" {
		doc.KeyPhrases = splitCSV(seg.KeyPhrases)
	}
	if seg.TopicTags != "" {
		doc.TopicTags = splitCSV(seg.TopicTags)
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return pipelineerr.Storage(false, "marshaling segment for index", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      v.index,
		DocumentID: seg.ID,
		Body:       bytes.NewReader(payload),
	}
	res, err := req.Do(ctx, v.client)
	if err != nil {
		return pipelineerr.Storage(true, "indexing segment", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return pipelineerr.Storage(true, fmt.Sprintf("indexing segment: %s", res.Status()), nil)
	}
	return nil
}

// SearchMode selects between keyword, semantic (k-NN), and hybrid ranking
// for the control surface's search operation.
type SearchMode int

const (
	SearchKeyword SearchMode = iota
	SearchSemantic
	SearchHybrid
)

// SearchHit is one ranked result from a segment search.
type SearchHit struct {
	SessionID string
	Sequence  uint64
	SpeakerID string
	Text      string
	Score     float64
}

// Search runs a keyword, semantic, or hybrid query over indexed segments,
// restricted to one session.
func (v *VectorIndex) Search(ctx context.Context, sessionID string, mode SearchMode, query string, embedding []float32, k int) ([]SearchHit, error) {
	var body map[string]interface{}

	switch mode {
	case SearchSemantic:
		body = map[string]interface{}{
			"size": k,
			"query": map[string]interface{}{
				"bool": map[string]interface{}{
					"filter": []interface{}{map[string]interface{}{"term": map[string]interface{}{"session_id": sessionID}}},
					"must": map[string]interface{}{
						"knn": map[string]interface{}{
							"embedding": map[string]interface{}{"vector": embedding, "k": k},
						},
					},
				},
			},
		}
	case SearchHybrid:
		body = map[string]interface{}{
			"size": k,
			"query": map[string]interface{}{
				"bool": map[string]interface{}{
					"filter": []interface{}{map[string]interface{}{"term": map[string]interface{}{"session_id": sessionID}}},
					"should": []interface{}{
						map[string]interface{}{"match": map[string]interface{}{"text": query}},
						map[string]interface{}{"knn": map[string]interface{}{"embedding": map[string]interface{}{"vector": embedding, "k": k}}},
					},
				},
			},
		}
	default:
		body = map[string]interface{}{
			"size": k,
			"query": map[string]interface{}{
				"bool": map[string]interface{}{
					"filter": []interface{}{map[string]interface{}{"term": map[string]interface{}{"session_id": sessionID}}},
					"must":   map[string]interface{}{"match": map[string]interface{}{"text": query}},
				},
			},
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pipelineerr.Storage(false, "marshaling search query", err)
	}

	res, err := v.client.Search(
		v.client.Search.WithContext(ctx),
		v.client.Search.WithIndex(v.index),
		v.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, pipelineerr.Storage(true, "searching segment index", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, pipelineerr.Storage(true, fmt.Sprintf("searching segment index: %s", res.Status()), nil)
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, pipelineerr.Storage(false, "decoding search response", err)
	}

	hits := make([]SearchHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, SearchHit{
			SessionID: h.Source.SessionID,
			Sequence:  h.Source.Sequence,
			SpeakerID: h.Source.SpeakerID,
			Text:      h.Source.Text,
			Score:     h.Score,
		})
	}
	return hits, nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64        `json:"_score"`
			Source indexedSegment `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
