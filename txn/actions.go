package txn

import (
	"strings"

	"pkt.systems/relsdk/api"
)

// DefaultActionName labels actions built without an explicit name.
const DefaultActionName = "action"

// ContentTypeJSON is the content type used by LoadJSONAction.
const ContentTypeJSON = "application/json"

// querySourceName is the source name the service expects for ad-hoc queries.
const querySourceName = "query"

func label(name string, action api.Action) api.LabeledAction {
	if strings.TrimSpace(name) == "" {
		name = DefaultActionName
	}
	return api.LabeledAction{Name: name, Action: action}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// QueryAction builds a query over source returning outputs. inputs are bound
// as relations visible to the query; persist lists relations the service
// should keep after a write query.
func QueryAction(name, source string, outputs []string, inputs []api.Relation, persist ...string) (api.LabeledAction, error) {
	if strings.TrimSpace(source) == "" {
		return api.LabeledAction{}, invalid("source", "query source must be non-empty")
	}
	if len(outputs) == 0 {
		return api.LabeledAction{}, invalid("outputs", "outputs must be non-empty")
	}
	for _, out := range outputs {
		if strings.TrimSpace(out) == "" {
			return api.LabeledAction{}, invalid("outputs", "output relation names must be non-empty")
		}
	}
	if inputs == nil {
		inputs = []api.Relation{}
	}
	return label(name, api.QueryAction{
		Source: api.Source{
			Type:  "Source",
			Name:  querySourceName,
			Value: source,
		},
		Inputs:  inputs,
		Outputs: append([]string(nil), outputs...),
		Persist: nonNil(persist),
	}), nil
}

// InstallAction installs text as source sourceName. sourcePath defaults to
// sourceName.
func InstallAction(name, sourceName, text, sourcePath string) (api.LabeledAction, error) {
	if strings.TrimSpace(sourceName) == "" {
		return api.LabeledAction{}, invalid("source name", "source name must be non-empty")
	}
	if strings.TrimSpace(text) == "" {
		return api.LabeledAction{}, invalid("source", "install text must be non-empty")
	}
	if sourcePath == "" {
		sourcePath = sourceName
	}
	return label(name, api.InstallAction{
		Sources: []api.Source{{
			Type:  "Source",
			Name:  sourceName,
			Path:  sourcePath,
			Value: text,
		}},
	}), nil
}

// DeleteSourceAction removes the installed source sourceName.
func DeleteSourceAction(name, sourceName string) (api.LabeledAction, error) {
	if strings.TrimSpace(sourceName) == "" {
		return api.LabeledAction{}, invalid("source name", "source name must be non-empty")
	}
	return label(name, api.ModifyWorkspaceAction{DeleteSource: []string{sourceName}}), nil
}

// ListSourcesAction lists installed sources.
func ListSourcesAction(name string) api.LabeledAction {
	return label(name, api.ListSourceAction{})
}

// ListEDBAction lists base relations; an empty relName lists all of them.
func ListEDBAction(name, relName string) api.LabeledAction {
	return label(name, api.ListEdbAction{RelName: relName})
}

// CardinalityAction counts the tuples of relName, or of every relation when
// relName is empty.
func CardinalityAction(name, relName string) api.LabeledAction {
	return label(name, api.CardinalityAction{RelName: relName})
}

// LoadDataAction loads data into relation. Exactly one of data.Data and
// data.Path must be set.
func LoadDataAction(name, relation string, data api.LoadData) (api.LabeledAction, error) {
	if strings.TrimSpace(relation) == "" {
		return api.LabeledAction{}, invalid("relation", "target relation must be non-empty")
	}
	if strings.TrimSpace(data.ContentType) == "" {
		return api.LabeledAction{}, invalid("content type", "content type must be non-empty")
	}
	hasData := data.Data != ""
	hasPath := strings.TrimSpace(data.Path) != ""
	switch {
	case hasData && hasPath:
		return api.LabeledAction{}, invalid("data", "provide either data or path, not both")
	case !hasData && !hasPath:
		return api.LabeledAction{}, invalid("data", "one of data or path is required")
	}
	data.Type = "LoadData"
	data.Key = nonNil(data.Key)
	return label(name, api.LoadDataAction{Rel: relation, Value: data}), nil
}

// LoadJSONAction is LoadDataAction for JSON payloads.
func LoadJSONAction(name, relation, data, path string) (api.LabeledAction, error) {
	return LoadDataAction(name, relation, api.LoadData{ContentType: ContentTypeJSON, Data: data, Path: path})
}
