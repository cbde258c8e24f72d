// Package search mirrors migrated descriptors into the search index. The
// mirror is best effort: callers log its errors and carry on.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fs-converter/pkg/types"

	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantMirror sets payload fields on the point whose id equals the record id.
type QdrantMirror struct {
	conn       *grpc.ClientConn
	points     qdrant.PointsClient
	collection string
	timeout    time.Duration
}

// NewQdrantMirror dials the qdrant gRPC endpoint lazily; no request is made
// until the first update.
func NewQdrantMirror(cfg types.Search) (*QdrantMirror, error) {
	conn, err := grpc.NewClient(cfg.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create search client for %s: %w", cfg.Address, err)
	}
	return &QdrantMirror{
		conn:       conn,
		points:     qdrant.NewPointsClient(conn),
		collection: cfg.Collection,
		timeout:    cfg.Timeout,
	}, nil
}

// UpdateDocument merges fields into the point's payload. Existing payload keys
// that are not named in fields are left untouched.
func (m *QdrantMirror) UpdateDocument(ctx context.Context, id int64, fields map[string]any) error {
	if id < 0 {
		return fmt.Errorf("record id %d cannot be a point id", id)
	}
	if len(fields) == 0 {
		return nil
	}

	payload := make(map[string]*qdrant.Value, len(fields))
	for k, v := range fields {
		value, err := toValue(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		payload[k] = value
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	wait := true
	_, err := m.points.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: m.collection,
		Wait:           &wait,
		Payload:        payload,
		PointsSelector: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{{PointIdOptions: &qdrant.PointId_Num{Num: uint64(id)}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update document %d: %w", id, err)
	}
	return nil
}

// Close releases the gRPC connection.
func (m *QdrantMirror) Close() error {
	if m.conn == nil {
		return nil
	}
	return m.conn.Close()
}

func toValue(v any) (*qdrant.Value, error) {
	switch x := v.(type) {
	case nil:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{NullValue: qdrant.NullValue_NULL_VALUE}}, nil
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: x}}, nil
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: x}}, nil
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(x)}}, nil
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: x}}, nil
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: x}}, nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: n}}, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: f}}, nil
	case map[string]any:
		fields := make(map[string]*qdrant.Value, len(x))
		for k, item := range x {
			value, err := toValue(item)
			if err != nil {
				return nil, err
			}
			fields[k] = value
		}
		return &qdrant.Value{Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: fields}}}, nil
	case []any:
		values := make([]*qdrant.Value, 0, len(x))
		for _, item := range x {
			value, err := toValue(item)
			if err != nil {
				return nil, err
			}
			values = append(values, value)
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}, nil
	default:
		// Named map and slice types (descriptors) go through JSON once.
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("unsupported payload value %T: %w", v, err)
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return nil, err
		}
		return toValue(generic)
	}
}
