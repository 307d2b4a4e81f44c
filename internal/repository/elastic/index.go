package elastic

import (
	"context"
	"fmt"

	"bank-service/internal/client"
	"bank-service/internal/config"
	"bank-service/internal/events"
	"bank-service/internal/models"

	"github.com/google/uuid"
)

// transactionDoc adds the parties field so one term filter finds both sides.
type transactionDoc struct {
	models.TransactionRecord
	Parties []string `json:"parties"`
}

type searchResponse[T any] struct {
	Hits struct {
		Hits []struct {
			ID     string `json:"_id"`
			Source T      `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Index writes transactions, activity lines and assistant interactions to
// Elasticsearch and serves full-text history search and policy retrieval.
type Index struct {
	es  *client.ESClient
	cfg config.ElasticsearchConfig
}

var _ events.Sink = (*Index)(nil)

func NewIndex(es *client.ESClient, cfg config.ElasticsearchConfig) *Index {
	return &Index{es: es, cfg: cfg}
}

func (ix *Index) Name() string { return "elasticsearch" }

func (ix *Index) Handle(ctx context.Context, ev events.Event) error {
	switch ev.Kind {
	case events.KindTransaction:
		r := *ev.Transaction
		parties := []string{r.Sender}
		if r.ReceiverAcc != r.Sender {
			parties = append(parties, r.ReceiverAcc)
		}
		return ix.es.IndexDocument(ctx, ix.cfg.TransactionIndex, r.ID, transactionDoc{TransactionRecord: r, Parties: parties})
	case events.KindActivity:
		return ix.es.IndexDocument(ctx, ix.cfg.ActivityIndex, uuid.NewString(), ev.Activity)
	case events.KindInteraction:
		id := ev.Interaction.ID
		if id == "" {
			id = uuid.NewString()
		}
		return ix.es.IndexDocument(ctx, ix.cfg.InteractionIndex, id, ev.Interaction)
	}
	return nil
}

// SearchHistory returns the account's records matching text, newest first.
func (ix *Index) SearchHistory(ctx context.Context, accountNo, text string, limit int) ([]models.TransactionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := map[string]interface{}{
		"size": limit,
		"sort": []interface{}{map[string]interface{}{"seq": map[string]string{"order": "desc"}}},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"parties.keyword": accountNo}},
				},
				"must": []interface{}{
					map[string]interface{}{"multi_match": map[string]interface{}{
						"query":     text,
						"fields":    []string{"receiver_name^2", "receiver_acc", "type", "category", "status"},
						"fuzziness": "AUTO",
					}},
				},
			},
		},
	}

	res, err := ix.es.Search(ctx, ix.cfg.TransactionIndex, query)
	if err != nil {
		return nil, err
	}
	var body searchResponse[transactionDoc]
	if err := ix.es.ParseResponse(res, &body); err != nil {
		return nil, err
	}

	out := make([]models.TransactionRecord, 0, len(body.Hits.Hits))
	for _, h := range body.Hits.Hits {
		out = append(out, h.Source.TransactionRecord)
	}
	return out, nil
}

// PolicyRetriever looks up policy passages stored as {"content": "..."}.
type PolicyRetriever struct {
	es    *client.ESClient
	index string
}

func NewPolicyRetriever(es *client.ESClient, index string) *PolicyRetriever {
	return &PolicyRetriever{es: es, index: index}
}

func (p *PolicyRetriever) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	res, err := p.es.Search(ctx, p.index, map[string]interface{}{
		"size":  k,
		"query": map[string]interface{}{"match": map[string]interface{}{"content": query}},
	})
	if err != nil {
		return nil, err
	}
	var body searchResponse[struct {
		Content string `json:"content"`
	}]
	if err := p.es.ParseResponse(res, &body); err != nil {
		return nil, fmt.Errorf("policy search: %w", err)
	}

	out := make([]string, 0, len(body.Hits.Hits))
	for _, h := range body.Hits.Hits {
		if h.Source.Content != "" {
			out = append(out, h.Source.Content)
		}
	}
	return out, nil
}
