package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agent-engine/internal/common/config"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticsearchClient holds the client and the knowledge index it serves.
type ElasticsearchClient struct {
	Client *elasticsearch.Client
	Index  string
}

func NewElasticsearch(cfg config.ElasticsearchConfig) (*ElasticsearchClient, error) {
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
	}
	if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &ElasticsearchClient{Client: es, Index: cfg.Index}, nil
}

// Ping tests the Elasticsearch connection
func (c *ElasticsearchClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := c.Client.Ping(c.Client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping error: %s", res.Status())
	}
	return nil
}

// EnsureIndex creates the index with mapping when it does not exist yet. An
// existing index is left untouched; mapping changes need a reindex.
func (c *ElasticsearchClient) EnsureIndex(ctx context.Context, mapping string) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{c.Index}}.Do(ctx, c.Client)
	if err != nil {
		return fmt.Errorf("check index %s: %w", c.Index, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = esapi.IndicesCreateRequest{Index: c.Index, Body: strings.NewReader(mapping)}.Do(ctx, c.Client)
	if err != nil {
		return fmt.Errorf("create index %s: %w", c.Index, err)
	}
	defer res.Body.Close()
	// A concurrent replica may win the race.
	if res.IsError() && res.StatusCode != 400 {
		return fmt.Errorf("create index %s: %s", c.Index, res.Status())
	}
	return nil
}
