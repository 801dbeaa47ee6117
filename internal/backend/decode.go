package backend

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/Zereker/ideahub/internal/domain"
)

// EncodeEvent 序列化变更事件
func EncodeEvent(event domain.ChangeEvent) ([]byte, error) {
	return json.Marshal(event)
}

// DecodeEvent 将推送消息解析为 ChangeEvent
//
// 兼容两种 payload 形态：本服务发布的 {event_type, old, new} 以及
// 常见 realtime 推送使用的 {eventType, old, new, commit_timestamp}，事件类型大小写不敏感。
func DecodeEvent(message []byte) (domain.ChangeEvent, error) {
	var raw map[string]any
	if err := json.Unmarshal(message, &raw); err != nil {
		return domain.ChangeEvent{}, errors.Wrap(err, "unmarshal change event")
	}

	for _, alias := range []string{"eventType", "type"} {
		if v, ok := raw[alias]; ok {
			if _, exists := raw["event_type"]; !exists {
				raw["event_type"] = v
			}
		}
	}
	// 空的 old/new 视为缺失
	for _, key := range []string{"old", "new"} {
		if m, ok := raw[key].(map[string]any); ok && len(m) == 0 {
			delete(raw, key)
		}
	}

	var event domain.ChangeEvent
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &event,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(eventTypeHook, timeHook),
	})
	if err != nil {
		return domain.ChangeEvent{}, errors.Wrap(err, "create decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return domain.ChangeEvent{}, errors.Wrap(err, "decode change event")
	}

	if event.Table == "" {
		event.Table = domain.ConnectionsTable
	}
	if err := validateEvent(event); err != nil {
		return domain.ChangeEvent{}, err
	}
	return event, nil
}

func validateEvent(event domain.ChangeEvent) error {
	switch event.Type {
	case domain.EventInsert, domain.EventUpdate:
		if event.New == nil || event.New.ID == "" {
			return fmt.Errorf("%s event without new record", event.Type)
		}
	case domain.EventDelete:
		if event.Old == nil || event.Old.ID == "" {
			return fmt.Errorf("DELETE event without old record")
		}
	default:
		return fmt.Errorf("unknown event type %q", event.Type)
	}
	return nil
}

// eventTypeHook 处理 "insert" -> EventInsert
func eventTypeHook(_, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(domain.EventType("")) {
		return data, nil
	}
	if str, ok := data.(string); ok {
		return domain.EventType(strings.ToUpper(str)), nil
	}
	return data, nil
}

// timeHook 处理 string -> time.Time 转换
func timeHook(_, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}

	if t, ok := data.(time.Time); ok {
		return t, nil
	}

	str, ok := data.(string)
	if !ok {
		return data, nil
	}
	if str == "" {
		return time.Time{}, nil
	}

	formats := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999Z07",
		"2006-01-02 15:04:05.999999999",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, str); err == nil {
			return t.UTC(), nil
		}
	}

	return data, fmt.Errorf("unable to parse time: %s", str)
}
