package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ccxt-broker/internal/broker"
	"ccxt-broker/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS broker_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	order_id TEXT,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
)`

const schemaIndex = `CREATE INDEX IF NOT EXISTS idx_broker_events_type ON broker_events(event_type)`

// Service 负责持久化经纪层事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewService 初始化事件日志，创建所需表结构。
func NewService(ctx context.Context, st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := st.Migrate(ctx, schema, schemaIndex); err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}

	return &Service{
		db:     st.DB(),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	return s.record(ctx, event, "")
}

func (s *Service) record(ctx context.Context, event Event, orderID string) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}

	var id interface{}
	if orderID != "" {
		id = orderID
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO broker_events (event_type, order_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), id, string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordOrder 按订单状态记录订单事件。
func (s *Service) RecordOrder(ctx context.Context, order broker.Order) {
	ts := order.UpdatedAt
	if ts.IsZero() {
		ts = s.now().UTC()
	}
	if err := s.record(ctx, Event{
		Type:      EventTypeFor(order.Status),
		Timestamp: ts,
		Payload:   NewOrderPayload(order),
	}, order.ID); err != nil {
		s.logger.Warn("记录订单事件失败", zap.String("order_id", order.ID), zap.Error(err))
	}
}

// RecordAccount 记录账户状态。
func (s *Service) RecordAccount(ctx context.Context, account AccountPayload) {
	if err := s.Record(ctx, Event{
		Type:    EventAccount,
		Payload: account,
	}); err != nil {
		s.logger.Warn("记录账户事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Context: ctxMap,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	if recErr := s.Record(ctx, Event{
		Type:    EventError,
		Payload: payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件，eventType 为空时返回全部类型。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM broker_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	return s.query(ctx, query, args...)
}

// OrderHistory 返回某订单的全部事件，按写入顺序排列。
func (s *Service) OrderHistory(ctx context.Context, orderID string) ([]Event, error) {
	return s.query(ctx,
		`SELECT event_type, payload, created_at FROM broker_events WHERE order_id = ? ORDER BY id ASC`,
		orderID,
	)
}

func (s *Service) query(ctx context.Context, query string, args ...interface{}) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Time{}
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
