package domain

// ActionType discriminates the action variants on the wire.
type ActionType string

const (
	ActionCreate   ActionType = "create"
	ActionUpdate   ActionType = "update"
	ActionDelete   ActionType = "delete"
	ActionContinue ActionType = "continue"
)

// Action is a closed union over the four variants below. Every consumption
// point switches exhaustively over the concrete types; an action type the
// switch does not know is an invariant violation, not a silent fallthrough.
type Action interface {
	Type() ActionType
	isAction()
}

// FeatureCreate introduces a new feature with its full field and geometry
// state. Outbound creates carry the local fid (the server assigns the remote
// fid and reports the mapping back); inbound creates carry the remote fid.
type FeatureCreate struct {
	FID    FeatureID
	Fields []FieldValue
	Geom   string
}

// FeatureUpdate changes a subset of a feature's fields and/or geometry.
// Empty Fields means "no attribute change". Geom == nil means "no geometry
// change", which is distinct from a pointer to the empty string (an explicit
// empty-geometry value).
type FeatureUpdate struct {
	FID    FeatureID
	Fields []FieldValue
	Geom   *string
}

// FeatureDelete removes a feature.
type FeatureDelete struct {
	FID FeatureID
}

// ContinueAction is a pagination marker, not a feature action. It terminates
// a fetched page and carries the URL of the next page.
type ContinueAction struct {
	URL string
}

func (FeatureCreate) Type() ActionType  { return ActionCreate }
func (FeatureUpdate) Type() ActionType  { return ActionUpdate }
func (FeatureDelete) Type() ActionType  { return ActionDelete }
func (ContinueAction) Type() ActionType { return ActionContinue }

func (FeatureCreate) isAction()  {}
func (FeatureUpdate) isAction()  {}
func (FeatureDelete) isAction()  {}
func (ContinueAction) isAction() {}

// ActionFID returns the feature id an action refers to. Continue markers
// have no feature id.
func ActionFID(a Action) (FeatureID, bool) {
	switch act := a.(type) {
	case FeatureCreate:
		return act.FID, true
	case FeatureUpdate:
		return act.FID, true
	case FeatureDelete:
		return act.FID, true
	case ContinueAction:
		return 0, false
	}
	return 0, false
}

// FieldValueByID looks up a field value in an action's field list.
func FieldValueByID(fields []FieldValue, id FieldID) (interface{}, bool) {
	for _, fv := range fields {
		if fv.ID == id {
			return fv.Value, true
		}
	}
	return nil, false
}
