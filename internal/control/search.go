package control

import (
	"context"
	"fmt"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fankserver/meetcap/internal/storage"
)

const defaultSearchLimit = 10

// rrfK is the reciprocal-rank-fusion smoothing constant (spec.md section 6
// "search", SPEC_FULL supplemented feature 3: hybrid mode merges the
// keyword and semantic result sets by reciprocal-rank fusion instead of a
// single combined query).
const rrfK = 60

func (s *Server) handleSearch(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[SearchInput]) (*mcp.CallToolResultFor[SearchOutput], error) {
	sess, err := s.activeSession()
	if err != nil {
		return nil, err
	}

	limit := params.Arguments.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var hits []SearchHitOutput
	switch params.Arguments.Mode {
	case "keyword":
		hits, err = s.searchKeyword(ctx, sess.ID(), params.Arguments.Query, limit)
	case "semantic":
		hits, err = s.searchSemantic(ctx, sess.ID(), params.Arguments.Query, limit)
	case "hybrid":
		hits, err = s.searchHybrid(ctx, sess.ID(), params.Arguments.Query, limit)
	default:
		return nil, fmt.Errorf("unknown search mode %q (expected keyword, semantic, or hybrid)", params.Arguments.Mode)
	}
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	return &mcp.CallToolResultFor[SearchOutput]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Found %d result(s)", len(hits))}},
	}, nil
}

func (s *Server) searchKeyword(ctx context.Context, sessionID, query string, limit int) ([]SearchHitOutput, error) {
	rows, err := s.store.SearchKeyword(ctx, sessionID, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]SearchHitOutput, len(rows))
	for i, r := range rows {
		out[i] = SearchHitOutput{Sequence: r.Sequence, SpeakerID: r.SpeakerID, Text: r.Text, Score: 1}
	}
	return out, nil
}

func (s *Server) searchSemantic(ctx context.Context, sessionID, query string, limit int) ([]SearchHitOutput, error) {
	embedding, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := s.vectorIndex.Search(ctx, sessionID, storage.SearchSemantic, query, embedding, limit)
	if err != nil {
		return nil, err
	}
	return toSearchHitOutputs(hits), nil
}

// searchHybrid runs the keyword and semantic searches independently and
// fuses their rankings with reciprocal-rank fusion, rather than the single
// combined bool.should query storage.VectorIndex.Search also supports —
// this keeps the keyword path on the row store's own full-text match
// instead of OpenSearch's, per SPEC_FULL's description of the two as
// separate result sets merged after the fact.
func (s *Server) searchHybrid(ctx context.Context, sessionID, query string, limit int) ([]SearchHitOutput, error) {
	keyword, err := s.searchKeyword(ctx, sessionID, query, limit)
	if err != nil {
		return nil, err
	}
	semantic, err := s.searchSemantic(ctx, sessionID, query, limit)
	if err != nil {
		return nil, err
	}

	scores := make(map[uint64]float64)
	bySeq := make(map[uint64]SearchHitOutput)
	for rank, hit := range keyword {
		scores[hit.Sequence] += 1.0 / float64(rrfK+rank+1)
		bySeq[hit.Sequence] = hit
	}
	for rank, hit := range semantic {
		scores[hit.Sequence] += 1.0 / float64(rrfK+rank+1)
		bySeq[hit.Sequence] = hit
	}

	fused := make([]SearchHitOutput, 0, len(scores))
	for seq, score := range scores {
		hit := bySeq[seq]
		hit.Score = score
		fused = append(fused, hit)
	}
	sort.Slice(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, nil
}

func (s *Server) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := s.embedProvider.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding provider returned no vectors")
	}
	return vecs[0], nil
}

func toSearchHitOutputs(hits []storage.SearchHit) []SearchHitOutput {
	out := make([]SearchHitOutput, len(hits))
	for i, h := range hits {
		out[i] = SearchHitOutput{Sequence: h.Sequence, SpeakerID: h.SpeakerID, Text: h.Text, Score: h.Score}
	}
	return out
}

func (s *Server) handleDatabase(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[DatabaseInput]) (*mcp.CallToolResultFor[DatabaseOutput], error) {
	switch params.Arguments.Operation {
	case "export":
		sess, err := s.activeSession()
		if err != nil {
			return nil, err
		}
		path, err := s.manager.ExportSession(sess.ID())
		if err != nil {
			return nil, fmt.Errorf("exporting session: %w", err)
		}
		return &mcp.CallToolResultFor[DatabaseOutput]{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Exported to %s", path)}},
		}, nil

	case "compact":
		swept, err := s.store.Compact(ctx)
		if err != nil {
			return nil, fmt.Errorf("compacting database: %w", err)
		}
		return &mcp.CallToolResultFor[DatabaseOutput]{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Compacted database, swept %d expired audio blob(s)", swept)}},
		}, nil

	case "verify":
		sess, err := s.activeSession()
		if err != nil {
			return nil, err
		}
		gaps, err := s.store.Verify(ctx, sess.ID())
		if err != nil {
			return nil, fmt.Errorf("verifying session: %w", err)
		}
		msg := "No sequence gaps found"
		if len(gaps) > 0 {
			msg = fmt.Sprintf("Found %d missing sequence number(s)", len(gaps))
		}
		return &mcp.CallToolResultFor[DatabaseOutput]{
			Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		}, nil

	default:
		return nil, fmt.Errorf("unknown database operation %q (expected export, compact, or verify)", params.Arguments.Operation)
	}
}
