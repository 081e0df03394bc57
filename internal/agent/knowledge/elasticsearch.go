package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agent-engine/internal/common/logger"
	"agent-engine/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// IndexMapping is the knowledge index mapping. companyId is a keyword so
// per-company filters and deletes are exact.
const IndexMapping = `{
  "mappings": {
    "properties": {
      "companyId": {"type": "keyword"},
      "entryId":   {"type": "keyword"},
      "question":  {"type": "text"},
      "keywords":  {"type": "text"}
    }
  }
}`

// entryDocument is the indexed form of one Q&A entry.
type entryDocument struct {
	CompanyID string   `json:"companyId"`
	EntryID   string   `json:"entryId"`
	Question  string   `json:"question"`
	Keywords  []string `json:"keywords,omitempty"`
}

// ElasticsearchMatcher narrows candidates with a full-text query, then
// re-scores them lexically so scores stay comparable with LexicalMatcher.
// Search failures degrade to a full lexical pass.
type ElasticsearchMatcher struct {
	client        *elasticsearch.Client
	index         string
	maxCandidates int
	lexical       *LexicalMatcher
	logger        logger.Logger
}

func NewElasticsearchMatcher(client *elasticsearch.Client, index string, log logger.Logger) *ElasticsearchMatcher {
	return &ElasticsearchMatcher{
		client:        client,
		index:         index,
		maxCandidates: 25,
		lexical:       NewLexicalMatcher(),
		logger:        log.WithFields(map[string]interface{}{"component": "es-matcher", "index": index}),
	}
}

func (m *ElasticsearchMatcher) Match(ctx context.Context, cfg *models.CompanyConfig, text string) []Match {
	if cfg == nil {
		return []Match{}
	}
	if normalize(text) == "" {
		return []Match{}
	}

	ids, err := m.candidates(ctx, cfg.CompanyID, text)
	if err != nil {
		m.logger.Warn("candidate search failed, using lexical matcher", map[string]interface{}{
			"companyId": cfg.CompanyID,
			"error":     err.Error(),
		})
		return m.lexical.Match(ctx, cfg, text)
	}

	// An exact or phrase hit must never be lost to retrieval recall, so
	// entries whose pattern is contained in the text are always candidates.
	input := normalize(text)
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	only := []int{}
	for i, e := range cfg.QAEntries {
		if _, ok := wanted[e.ID]; ok {
			only = append(only, i)
			continue
		}
		if p := normalize(e.Question); p != "" && containsPhrase(input, p) {
			only = append(only, i)
		}
	}
	return scoreEntries(cfg.QAEntries, only, text)
}

func (m *ElasticsearchMatcher) candidates(ctx context.Context, companyID, text string) ([]string, error) {
	queryBody := map[string]interface{}{
		"size":    m.maxCandidates,
		"_source": []string{"entryId"},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"companyId": companyID}},
				},
				"must": []interface{}{
					map[string]interface{}{
						"multi_match": map[string]interface{}{
							"query":  text,
							"fields": []string{"question^2", "keywords"},
							"type":   "best_fields",
						},
					},
				},
			},
		},
	}
	body, err := json.Marshal(queryBody)
	if err != nil {
		return nil, err
	}

	req := esapi.SearchRequest{
		Index: []string{m.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, m.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search failed: %s", res.Status())
	}

	var r struct {
		Hits struct {
			Hits []struct {
				Source entryDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	ids := make([]string, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		ids = append(ids, h.Source.EntryID)
	}
	return ids, nil
}

// IndexCompany replaces the indexed entries of one company.
func (m *ElasticsearchMatcher) IndexCompany(ctx context.Context, cfg *models.CompanyConfig) error {
	del := fmt.Sprintf(`{"query":{"term":{"companyId":%q}}}`, cfg.CompanyID)
	delReq := esapi.DeleteByQueryRequest{
		Index:   []string{m.index},
		Body:    strings.NewReader(del),
		Refresh: esapi.BoolPtr(true),
	}
	res, err := delReq.Do(ctx, m.client)
	if err != nil {
		return fmt.Errorf("failed to clear company entries: %w", err)
	}
	res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("failed to clear company entries: %s", res.Status())
	}

	for _, e := range cfg.QAEntries {
		doc, err := json.Marshal(entryDocument{
			CompanyID: cfg.CompanyID,
			EntryID:   e.ID,
			Question:  e.Question,
			Keywords:  e.Keywords,
		})
		if err != nil {
			return err
		}
		idxReq := esapi.IndexRequest{
			Index:      m.index,
			DocumentID: cfg.CompanyID + ":" + e.ID,
			Body:       bytes.NewReader(doc),
		}
		res, err := idxReq.Do(ctx, m.client)
		if err != nil {
			return fmt.Errorf("failed to index entry %s: %w", e.ID, err)
		}
		res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("failed to index entry %s: %s", e.ID, res.Status())
		}
	}

	m.logger.Info("company entries indexed", map[string]interface{}{
		"companyId": cfg.CompanyID,
		"entries":   len(cfg.QAEntries),
	})
	return nil
}
