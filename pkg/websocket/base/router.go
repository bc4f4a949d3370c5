package base

import (
	"bytes"
	"errors"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/backtesting-org/sitewatch/pkg/websocket/performance"
	"github.com/backtesting-org/sitewatch/pkg/websocket/security"
)

// Drop reasons reported to metrics
const (
	DropMalformed = "malformed"
	DropMissingID = "missing_id"
)

// Router decodes socket frames and poll bodies into records and hands
// payloads to a delivery function. Heartbeats and malformed data never
// reach the delivery function.
type Router struct {
	validator security.MessageValidator
	metrics   performance.Metrics
	logger    *zap.Logger
}

func NewRouter(validator security.MessageValidator, metrics performance.Metrics, logger *zap.Logger) *Router {
	if validator == nil {
		validator = security.NewMessageValidator(security.DefaultValidationConfig())
	}
	if metrics == nil {
		metrics = performance.NoopMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		validator: validator,
		metrics:   metrics,
		logger:    logger.Named("router"),
	}
}

// Route decodes raw and calls deliver for payloads. It reports whether deliver ran.
func (r *Router) Route(raw []byte, deliver func([]Record)) bool {
	msg := r.Handle(raw)
	if msg.Kind != KindPayload {
		return false
	}
	deliver(msg.Records)
	return true
}

// Handle decodes raw, counting it and logging malformed data. Callers that
// need to tell a heartbeat from a drop use this instead of Route.
func (r *Router) Handle(raw []byte) Message {
	r.metrics.IncrementReceived()

	msg := r.Decode(raw)
	if msg.Kind == KindMalformed {
		r.metrics.IncrementDropped(DropMalformed)
		r.logger.Warn("Dropping malformed payload", zap.Error(msg.Err), zap.Int("bytes", len(raw)))
	}
	return msg
}

// Decode classifies raw inbound data. A single object is normalized to a
// one-element payload and a {"type":..,"data":..} envelope is unwrapped.
// Only a bare array is marked Full.
func (r *Router) Decode(raw []byte) Message {
	if err := r.validator.ValidateMessage(raw); err != nil {
		return malformed("invalid message", err)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return malformed("empty body", nil)
	}

	switch trimmed[0] {
	case '[':
		var items []any
		if err := decodeJSON(trimmed, &items); err != nil {
			return malformed("invalid JSON array", err)
		}
		msg := r.payload(items)
		msg.Full = msg.Kind == KindPayload
		return msg

	case '{':
		var obj map[string]any
		if err := decodeJSON(trimmed, &obj); err != nil {
			return malformed("invalid JSON object", err)
		}

		_, hasID := obj[FieldID]
		if t, _ := obj[FieldType].(string); t == TypeHeartbeat && !hasID {
			return Message{Kind: KindHeartbeat}
		}

		if data, ok := obj[FieldData]; ok && !hasID {
			switch inner := data.(type) {
			case []any:
				return r.payload(inner)
			case map[string]any:
				return r.payload([]any{inner})
			default:
				return malformed("envelope data is neither object nor array", nil)
			}
		}

		return r.payload([]any{obj})

	default:
		return malformed("expected JSON object or array", nil)
	}
}

func (r *Router) payload(items []any) Message {
	records := make([]Record, 0, len(items))

	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			r.metrics.IncrementDropped(DropMalformed)
			r.logger.Warn("Dropping non-object record")
			continue
		}

		if err := r.validator.ValidateRecord(obj); err != nil {
			r.metrics.IncrementDropped(DropMissingID)
			r.logger.Warn("Dropping record without identifier", zap.Error(err))
			continue
		}

		id, ok := normalizeID(obj[FieldID])
		if !ok {
			r.metrics.IncrementDropped(DropMissingID)
			r.logger.Warn("Dropping record with unusable identifier", zap.Any("id", obj[FieldID]))
			continue
		}

		record := Record(obj)
		record[FieldID] = id
		records = append(records, record)
	}

	if len(items) > 0 && len(records) == 0 {
		return malformed("no usable records", nil)
	}

	return Message{Kind: KindPayload, Records: records}
}

func malformed(reason string, err error) Message {
	return Message{Kind: KindMalformed, Err: &ParseError{Reason: reason, Err: err}}
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}
