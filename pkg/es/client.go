// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"talanoor-go/internal/config"
	"talanoor-go/internal/model"
	"talanoor-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName)
}

// 消息内容使用内置的 persian 分析器，管理员检索一般输入波斯语关键字。
const messageMapping = `{
	"mappings": {
		"properties": {
			"message_id": { "type": "long" },
			"chat_id": { "type": "keyword" },
			"content": {
				"type": "text",
				"analyzer": "persian"
			},
			"is_from_user": { "type": "boolean" },
			"is_guest": { "type": "boolean" },
			"user_id": { "type": "long" },
			"created_at": { "type": "date" }
		}
	}
}`

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	defer res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(messageMapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// MessageIndex 是聊天消息索引的读写入口。
type MessageIndex struct {
	Name string
}

// NewMessageIndex 创建一个指向指定索引的 MessageIndex。
func NewMessageIndex(name string) *MessageIndex {
	return &MessageIndex{Name: name}
}

// IndexMessage 将单条消息写入索引，文档 ID 即消息 ID，重复写入是覆盖。
func (idx *MessageIndex) IndexMessage(ctx context.Context, doc model.MessageDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      idx.Name,
		DocumentID: strconv.FormatUint(uint64(doc.MessageID), 10),
		Body:       bytes.NewReader(docBytes),
	}

	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引消息到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index message")
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Score     float64               `json:"_score"`
			Source    model.MessageDocument `json:"_source"`
			Highlight map[string][]string   `json:"highlight"`
		} `json:"hits"`
	} `json:"hits"`
}

// BuildSearchQuery 构造按内容全文检索、按时间倒序兜底排序的查询体。
func BuildSearchQuery(query string, from, size int) map[string]interface{} {
	return map[string]interface{}{
		"from": from,
		"size": size,
		"query": map[string]interface{}{
			"match": map[string]interface{}{
				"content": map[string]interface{}{
					"query":    query,
					"operator": "and",
				},
			},
		},
		"sort": []interface{}{
			"_score",
			map[string]interface{}{"created_at": map[string]string{"order": "desc"}},
		},
		"highlight": map[string]interface{}{
			"fields": map[string]interface{}{"content": map[string]interface{}{}},
		},
	}
}

// SearchMessages 在消息索引中全文检索，返回命中结果与总数。
func (idx *MessageIndex) SearchMessages(ctx context.Context, query string, from, size int) ([]model.MessageSearchHit, int64, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(BuildSearchQuery(query, from, size)); err != nil {
		return nil, 0, err
	}

	res, err := ESClient.Search(
		ESClient.Search.WithContext(ctx),
		ESClient.Search.WithIndex(idx.Name),
		ESClient.Search.WithBody(&buf),
		ESClient.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("Elasticsearch 检索出错: %s", res.String())
		return nil, 0, errors.New("failed to search messages")
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, 0, fmt.Errorf("解析检索结果失败: %w", err)
	}

	hits := make([]model.MessageSearchHit, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		hits = append(hits, model.MessageSearchHit{
			MessageDocument: h.Source,
			Score:           h.Score,
			Highlight:       h.Highlight["content"],
		})
	}
	return hits, sr.Hits.Total.Value, nil
}
