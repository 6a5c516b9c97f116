package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ActionKind is the wire discriminant of an Action.
type ActionKind string

const (
	KindQuery           ActionKind = "QueryAction"
	KindInstall         ActionKind = "InstallAction"
	KindModifyWorkspace ActionKind = "ModifyWorkspaceAction"
	KindListSource      ActionKind = "ListSourceAction"
	KindListEdb         ActionKind = "ListEdbAction"
	KindCardinality     ActionKind = "CardinalityAction"
	KindLoadData        ActionKind = "LoadDataAction"
)

// Action is one sub-operation of a transaction. The set of implementations is
// closed; see the Kind constants.
type Action interface {
	Kind() ActionKind
	// Mutating reports whether the action changes database state.
	Mutating() bool
	isAction()
}

// QueryAction evaluates Source and returns the requested Outputs.
type QueryAction struct {
	Source  Source     `json:"source"`
	Inputs  []Relation `json:"inputs"`
	Outputs []string   `json:"outputs"`
	Persist []string   `json:"persist"`
}

// InstallAction installs or replaces program sources.
type InstallAction struct {
	Sources []Source `json:"sources"`
}

// ModifyWorkspaceAction deletes installed sources.
type ModifyWorkspaceAction struct {
	DeleteSource []string `json:"delete_source"`
}

// ListSourceAction lists installed sources.
type ListSourceAction struct{}

// ListEdbAction lists base relations, optionally filtered by name.
type ListEdbAction struct {
	RelName string `json:"relname,omitempty"`
}

// CardinalityAction counts tuples, optionally for one relation.
type CardinalityAction struct {
	RelName string `json:"relname,omitempty"`
}

// LoadDataAction loads external data into relation Rel.
type LoadDataAction struct {
	Rel   string   `json:"rel"`
	Value LoadData `json:"value"`
}

// LoadData describes the data to load. Exactly one of Data and Path is set.
type LoadData struct {
	Type        string   `json:"type,omitempty"`
	ContentType string   `json:"content_type"`
	Data        string   `json:"data,omitempty"`
	Path        string   `json:"path,omitempty"`
	Key         []string `json:"key"`
}

func (QueryAction) Kind() ActionKind           { return KindQuery }
func (InstallAction) Kind() ActionKind         { return KindInstall }
func (ModifyWorkspaceAction) Kind() ActionKind { return KindModifyWorkspace }
func (ListSourceAction) Kind() ActionKind      { return KindListSource }
func (ListEdbAction) Kind() ActionKind         { return KindListEdb }
func (CardinalityAction) Kind() ActionKind     { return KindCardinality }
func (LoadDataAction) Kind() ActionKind        { return KindLoadData }

// Mutating is true for every query; a query's effective intent is decided by
// the transaction's readonly flag.
func (QueryAction) Mutating() bool           { return true }
func (InstallAction) Mutating() bool         { return true }
func (ModifyWorkspaceAction) Mutating() bool { return true }
func (ListSourceAction) Mutating() bool      { return false }
func (ListEdbAction) Mutating() bool         { return false }
func (CardinalityAction) Mutating() bool     { return false }
func (LoadDataAction) Mutating() bool        { return true }

func (QueryAction) isAction()           {}
func (InstallAction) isAction()         {}
func (ModifyWorkspaceAction) isAction() {}
func (ListSourceAction) isAction()      {}
func (ListEdbAction) isAction()         {}
func (CardinalityAction) isAction()     {}
func (LoadDataAction) isAction()        {}

// LabeledAction pairs an action with the name used to find its result.
type LabeledAction struct {
	Name   string
	Action Action
}

type labeledActionWire struct {
	Type   string          `json:"type"`
	Name   string          `json:"name"`
	Action json.RawMessage `json:"action"`
}

// MarshalJSON encodes the action with its "type" discriminant.
func (la LabeledAction) MarshalJSON() ([]byte, error) {
	body, err := encodeAction(la.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(labeledActionWire{Type: "LabeledAction", Name: la.Name, Action: body})
}

// UnmarshalJSON decodes the action variant named by its "type" field. Fields
// that do not belong to that variant are rejected.
func (la *LabeledAction) UnmarshalJSON(data []byte) error {
	var wire labeledActionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	action, err := decodeAction(wire.Action)
	if err != nil {
		return fmt.Errorf("action %q: %w", wire.Name, err)
	}
	la.Name = wire.Name
	la.Action = action
	return nil
}

func encodeAction(a Action) ([]byte, error) {
	switch v := a.(type) {
	case QueryAction:
		return json.Marshal(struct {
			Type string `json:"type"`
			QueryAction
		}{string(KindQuery), v})
	case InstallAction:
		return json.Marshal(struct {
			Type string `json:"type"`
			InstallAction
		}{string(KindInstall), v})
	case ModifyWorkspaceAction:
		return json.Marshal(struct {
			Type string `json:"type"`
			ModifyWorkspaceAction
		}{string(KindModifyWorkspace), v})
	case ListSourceAction:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{string(KindListSource)})
	case ListEdbAction:
		return json.Marshal(struct {
			Type string `json:"type"`
			ListEdbAction
		}{string(KindListEdb), v})
	case CardinalityAction:
		return json.Marshal(struct {
			Type string `json:"type"`
			CardinalityAction
		}{string(KindCardinality), v})
	case LoadDataAction:
		return json.Marshal(struct {
			Type string `json:"type"`
			LoadDataAction
		}{string(KindLoadData), v})
	case nil:
		return nil, fmt.Errorf("nil action")
	default:
		return nil, fmt.Errorf("unsupported action %T", a)
	}
}

func decodeAction(data []byte) (Action, error) {
	var head struct {
		Type ActionKind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case KindQuery:
		var w struct {
			Type string `json:"type"`
			QueryAction
		}
		err := decodeStrict(data, &w)
		return w.QueryAction, err
	case KindInstall:
		var w struct {
			Type string `json:"type"`
			InstallAction
		}
		err := decodeStrict(data, &w)
		return w.InstallAction, err
	case KindModifyWorkspace:
		var w struct {
			Type string `json:"type"`
			ModifyWorkspaceAction
		}
		err := decodeStrict(data, &w)
		return w.ModifyWorkspaceAction, err
	case KindListSource:
		var w struct {
			Type string `json:"type"`
		}
		err := decodeStrict(data, &w)
		return ListSourceAction{}, err
	case KindListEdb:
		var w struct {
			Type string `json:"type"`
			ListEdbAction
		}
		err := decodeStrict(data, &w)
		return w.ListEdbAction, err
	case KindCardinality:
		var w struct {
			Type string `json:"type"`
			CardinalityAction
		}
		err := decodeStrict(data, &w)
		return w.CardinalityAction, err
	case KindLoadData:
		var w struct {
			Type string `json:"type"`
			LoadDataAction
		}
		err := decodeStrict(data, &w)
		return w.LoadDataAction, err
	case "":
		return nil, fmt.Errorf("missing action type")
	default:
		return nil, fmt.Errorf("unknown action type %q", head.Type)
	}
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
