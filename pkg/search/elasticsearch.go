package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/gobuffalo/packr"
	"github.com/sirupsen/logrus"
)

const DefaultIndexName = "documents"

var queryEscape = regexp.MustCompile(`([+\-=&|><!(){}\[\]^"~*?:\\/])`)

type ElasticIndex struct {
	client          *elasticsearch.Client
	index           string
	mappingOverride string
	mappings        *packr.Box
	logger          *logrus.Entry
}

var _ Index = (*ElasticIndex)(nil)

// NewElasticIndex connects to elasticsearch and creates the index (with mappings) when missing.
func NewElasticIndex(ctx context.Context, logger *logrus.Entry, endpoint string, index string, mappingOverride string) (*ElasticIndex, error) {
	if index == "" {
		index = DefaultIndexName
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{endpoint},
	})
	if err != nil {
		return nil, err
	}

	box := packr.NewBox("../../static/search")
	ei := &ElasticIndex{
		client:          es,
		index:           index,
		mappingOverride: mappingOverride,
		mappings:        &box,
		logger:          logger,
	}

	ei.logger.Debugln("Connect to ElasticSearch & ensure index exists")
	ei.logger.Debugln(elasticsearch.Version)

	if err := ei.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return ei, nil
}

func (ei *ElasticIndex) ensureIndex(ctx context.Context) error {
	ei.logger.Printf("Attempting to create %s index, if it does not exist", ei.index)
	resp, err := ei.client.Indices.Exists([]string{ei.index}, ei.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", ei.index, err)
	}
	resp.Body.Close()
	if resp.StatusCode == 200 {
		ei.logger.Println("Index already exists, skipping.")
		return nil
	}

	var mappingReader io.Reader
	if len(ei.mappingOverride) > 0 {
		f, err := os.Open(ei.mappingOverride)
		if err != nil {
			return fmt.Errorf("open mapping override %s: %w", ei.mappingOverride, err)
		}
		defer f.Close()
		mappingReader = bufio.NewReader(f)
	} else {
		mappings, err := ei.mappings.FindString("settings.json")
		if err != nil {
			return fmt.Errorf("find settings.json mapping: %w", err)
		}
		mappingReader = strings.NewReader(mappings)
	}

	createResp, err := ei.client.Indices.Create(ei.index,
		ei.client.Indices.Create.WithBody(mappingReader),
		ei.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", ei.index, err)
	}
	defer createResp.Body.Close()
	// 400 resource_already_exists when a concurrent worker won the race
	if createResp.IsError() && createResp.StatusCode != 400 {
		return fmt.Errorf("create index %s: %s", ei.index, createResp.String())
	}
	return nil
}

// Index upserts the entry and waits for the next refresh so it is searchable on return.
func (ei *ElasticIndex) Index(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		ei.logger.Warn("Skipping index request with empty document id")
		return nil
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	ei.logger.WithField("documentId", entry.ID).Debugln("Attempting to store document in elasticsearch")
	resp, err := ei.client.Index(ei.index, bytes.NewReader(payload),
		ei.client.Index.WithDocumentID(entry.ID),
		ei.client.Index.WithRefresh("wait_for"),
		ei.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index document %s: %w", entry.ID, err)
	}
	defer resp.Body.Close()
	ei.logger.Debugf("ES response: %v", resp)
	return ei.checkResponse(resp, "index document "+entry.ID)
}

func (ei *ElasticIndex) Delete(ctx context.Context, id string) error {
	resp, err := ei.client.Delete(ei.index, id,
		ei.client.Delete.WithRefresh("wait_for"),
		ei.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == 404 {
		return nil
	}
	return ei.checkResponse(resp, "delete document "+id)
}

// checkResponse fails on server errors so the caller can retry; client errors will not get
// better on retry and are only logged.
func (ei *ElasticIndex) checkResponse(resp *esapi.Response, action string) error {
	if !resp.IsError() {
		return nil
	}
	if resp.StatusCode >= 500 || resp.StatusCode == 429 {
		return fmt.Errorf("%s: %s", action, resp.String())
	}
	ei.logger.Warnf("Elasticsearch rejected %s: %s", action, resp.String())
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string  `json:"_id"`
			Score  float64 `json:"_score"`
			Source *Entry  `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a wildcard query_string over name, originalFileName and ocrText.
func (ei *ElasticIndex) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Hit{}, nil
	}

	body := map[string]interface{}{
		"query": map[string]interface{}{
			"query_string": map[string]interface{}{
				"query":            "*" + EscapeQuery(query) + "*",
				"fields":           []string{"name", "originalFileName", "ocrText"},
				"analyze_wildcard": true,
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := ei.client.Search(
		ei.client.Search.WithContext(ctx),
		ei.client.Search.WithIndex(ei.index),
		ei.client.Search.WithBody(bytes.NewReader(payload)),
		ei.client.Search.WithSize(maxResults),
	)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		ei.logger.Warnf("Elasticsearch search failed. Query=%s Response=%s", query, resp.String())
		return []Hit{}, nil
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := []Hit{}
	for _, h := range parsed.Hits.Hits {
		id := h.ID
		if h.Source != nil && h.Source.ID != "" {
			id = h.Source.ID
		}
		if id == "" {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: h.Score})
	}
	return hits, nil
}

// EscapeQuery backslash-escapes the query_string reserved characters.
func EscapeQuery(query string) string {
	return queryEscape.ReplaceAllString(query, `\$1`)
}
