package backend

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/Zereker/ideahub/internal/domain"
	"github.com/Zereker/ideahub/pkg/log"
)

// cypherRunner pkg/graph.Neo4jStore 的子集
type cypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	RunWrite(ctx context.Context, cypher string, params map[string]any) error
}

// Graph accepted 连接在 Neo4j 中的投影：(:User)-[:CONNECTED {connection_id}]-(:User)
//
// 只有 accepted 产生边；其它状态与删除都会移除该连接对应的边。
type Graph struct {
	store  cypherRunner
	logger *slog.Logger
}

// NewGraph 创建投影
func NewGraph(store cypherRunner) *Graph {
	return &Graph{store: store, logger: log.Logger("graph-projection")}
}

// graphSchema 幂等的约束与索引
var graphSchema = []string{
	`CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.user_id IS UNIQUE`,
	`CREATE INDEX connected_connection_id IF NOT EXISTS FOR ()-[r:CONNECTED]-() ON (r.connection_id)`,
}

// EnsureSchema 创建投影需要的约束与索引
func (g *Graph) EnsureSchema(ctx context.Context) error {
	for _, stmt := range graphSchema {
		if err := g.store.RunWrite(ctx, stmt, nil); err != nil {
			return errors.WithMessage(err, "ensure graph schema")
		}
	}
	return nil
}

// Apply 将变更事件投影到图中，签名与 EventHandler 一致
func (g *Graph) Apply(ctx context.Context, event domain.ChangeEvent) {
	record, ok := event.Record()
	if !ok {
		return
	}

	var err error
	if event.Type != domain.EventDelete && record.Status == domain.StatusAccepted {
		err = g.connect(ctx, record)
	} else {
		err = g.disconnect(ctx, record.ID)
	}
	if err != nil {
		g.logger.Error("failed to project connection",
			"connection_id", record.ID,
			"type", event.Type,
			"error", err,
		)
	}
}

func (g *Graph) connect(ctx context.Context, c domain.Connection) error {
	cypher := `
		MERGE (a:User {user_id: $requester_id})
		MERGE (b:User {user_id: $recipient_id})
		MERGE (a)-[r:CONNECTED {connection_id: $connection_id}]->(b)
		SET r.since = $since
	`
	return errors.WithMessage(g.store.RunWrite(ctx, cypher, map[string]any{
		"requester_id":  c.RequesterID,
		"recipient_id":  c.RecipientID,
		"connection_id": c.ID,
		"since":         c.UpdatedAt,
	}), "merge connected edge")
}

func (g *Graph) disconnect(ctx context.Context, connectionID string) error {
	cypher := `
		MATCH ()-[r:CONNECTED {connection_id: $connection_id}]-()
		DELETE r
	`
	return errors.WithMessage(g.store.RunWrite(ctx, cypher, map[string]any{
		"connection_id": connectionID,
	}), "delete connected edge")
}

// MutualConnections 同时与 a、b 建立连接的用户
func (g *Graph) MutualConnections(ctx context.Context, a, b string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := g.store.Run(ctx, `
		MATCH (a:User {user_id: $a})-[:CONNECTED]-(m:User)-[:CONNECTED]-(b:User {user_id: $b})
		WHERE m.user_id <> $a AND m.user_id <> $b
		RETURN DISTINCT m.user_id AS user_id
		ORDER BY user_id
		LIMIT $limit
	`, map[string]any{"a": a, "b": b, "limit": limit})
	if err != nil {
		return nil, errors.WithMessage(err, "query mutual connections")
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if id, ok := row["user_id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
