package codec

import (
	"encoding/json"
	"fmt"

	"github.com/layersync/layersync/internal/domain"
)

// wireAction is the JSON shape of one action on the wire:
//
//	{"action": "create"|"update"|"delete", "id": fid,
//	 "fields": [[field_id, value], ...], "geom": "<wkt|base64-wkb>"}
//
// The pagination marker uses {"action": "continue", "url": ...}.
type wireAction struct {
	Action string            `json:"action"`
	ID     *int64            `json:"id,omitempty"`
	Fields []json.RawMessage `json:"fields,omitempty"`
	Geom   *string           `json:"geom,omitempty"`
	URL    string            `json:"url,omitempty"`
}

// MarshalActions encodes an ordered action list as a JSON array.
func MarshalActions(actions []domain.Action) ([]byte, error) {
	wire := make([]wireAction, 0, len(actions))
	for _, a := range actions {
		wa, err := toWire(a)
		if err != nil {
			return nil, err
		}
		wire = append(wire, wa)
	}
	return json.Marshal(wire)
}

// UnmarshalActions decodes a JSON array of action objects, preserving order.
func UnmarshalActions(data []byte) ([]domain.Action, error) {
	var wire []wireAction
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse action list: %w", err)
	}

	actions := make([]domain.Action, 0, len(wire))
	for i, wa := range wire {
		a, err := fromWire(wa)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func toWire(a domain.Action) (wireAction, error) {
	switch act := a.(type) {
	case domain.FeatureCreate:
		id := int64(act.FID)
		geom := act.Geom
		fields, err := marshalFields(act.Fields)
		if err != nil {
			return wireAction{}, err
		}
		return wireAction{Action: "create", ID: &id, Fields: fields, Geom: &geom}, nil
	case domain.FeatureUpdate:
		id := int64(act.FID)
		fields, err := marshalFields(act.Fields)
		if err != nil {
			return wireAction{}, err
		}
		return wireAction{Action: "update", ID: &id, Fields: fields, Geom: act.Geom}, nil
	case domain.FeatureDelete:
		id := int64(act.FID)
		return wireAction{Action: "delete", ID: &id}, nil
	case domain.ContinueAction:
		return wireAction{Action: "continue", URL: act.URL}, nil
	}
	return wireAction{}, fmt.Errorf("unknown action type %T", a)
}

func fromWire(wa wireAction) (domain.Action, error) {
	switch wa.Action {
	case "create":
		if wa.ID == nil {
			return nil, fmt.Errorf("create action without id")
		}
		fields, err := unmarshalFields(wa.Fields)
		if err != nil {
			return nil, err
		}
		geom := ""
		if wa.Geom != nil {
			geom = *wa.Geom
		}
		return domain.FeatureCreate{FID: domain.FeatureID(*wa.ID), Fields: fields, Geom: geom}, nil
	case "update":
		if wa.ID == nil {
			return nil, fmt.Errorf("update action without id")
		}
		fields, err := unmarshalFields(wa.Fields)
		if err != nil {
			return nil, err
		}
		return domain.FeatureUpdate{FID: domain.FeatureID(*wa.ID), Fields: fields, Geom: wa.Geom}, nil
	case "delete":
		if wa.ID == nil {
			return nil, fmt.Errorf("delete action without id")
		}
		return domain.FeatureDelete{FID: domain.FeatureID(*wa.ID)}, nil
	case "continue":
		if wa.URL == "" {
			return nil, fmt.Errorf("continue action without url")
		}
		return domain.ContinueAction{URL: wa.URL}, nil
	}
	return nil, fmt.Errorf("unknown action %q", wa.Action)
}

// marshalFields encodes field values as [field_id, value] pairs.
func marshalFields(fields []domain.FieldValue) ([]json.RawMessage, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	out := make([]json.RawMessage, 0, len(fields))
	for _, fv := range fields {
		pair, err := json.Marshal([2]interface{}{int64(fv.ID), SerializeValue(fv.Value)})
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %d: %w", fv.ID, err)
		}
		out = append(out, pair)
	}
	return out, nil
}

func unmarshalFields(raw []json.RawMessage) ([]domain.FieldValue, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	fields := make([]domain.FieldValue, 0, len(raw))
	for _, pair := range raw {
		var elems [2]json.RawMessage
		if err := json.Unmarshal(pair, &elems); err != nil {
			return nil, fmt.Errorf("field entry is not a [id, value] pair: %w", err)
		}
		var id int64
		if err := json.Unmarshal(elems[0], &id); err != nil {
			return nil, fmt.Errorf("invalid field id: %w", err)
		}
		var value interface{}
		if elems[1] != nil {
			if err := json.Unmarshal(elems[1], &value); err != nil {
				return nil, fmt.Errorf("invalid value for field %d: %w", id, err)
			}
		}
		fields = append(fields, domain.FieldValue{ID: domain.FieldID(id), Value: value})
	}
	return fields, nil
}
