package rules

import (
	"fmt"
	"strings"
)

// Outcome is the free-form payload a rule produces when it fires.
type Outcome map[string]any

// OutcomeKind classifies an outcome by its declared type.
type OutcomeKind int

const (
	KindOther OutcomeKind = iota
	KindDocument
	KindField
	KindTask
	KindFlag
	KindWarning
)

func (k OutcomeKind) String() string {
	switch k {
	case KindDocument:
		return "DOCUMENT"
	case KindField:
		return "FIELD"
	case KindTask:
		return "TASK"
	case KindFlag:
		return "FLAG"
	case KindWarning:
		return "WARNING"
	default:
		return "OTHER"
	}
}

// Type returns the declared type, upper-cased. Empty when absent.
func (o Outcome) Type() string {
	return strings.ToUpper(strings.TrimSpace(o.Text("type")))
}

// Kind maps the declared type onto an OutcomeKind.
func (o Outcome) Kind() OutcomeKind {
	switch o.Type() {
	case "REQUIRED_DOCUMENT", "DOCUMENT":
		return KindDocument
	case "REQUIRED_FIELD", "FIELD":
		return KindField
	case "TASK":
		return KindTask
	case "FLAG":
		return KindFlag
	case "WARNING":
		return KindWarning
	default:
		return KindOther
	}
}

// Text returns the value at key if it is a non-empty string.
func (o Outcome) Text(key string) string {
	if o == nil {
		return ""
	}
	switch v := o[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		if f, ok := numericValue(v); ok {
			return fmt.Sprint(f)
		}
		return ""
	}
}

// firstString returns the first non-empty string among keys.
func (o Outcome) firstString(keys ...string) string {
	for _, k := range keys {
		if s := o.Text(k); s != "" {
			return s
		}
	}
	return ""
}

// ConflictKey derives the key used to group comparable hits.
func (o Outcome) ConflictKey() (string, bool) {
	key := o.firstString("conflictKey", "templateCode", "documentCode", "field")
	return key, key != ""
}

// ComparableValue is the part of the outcome compared for conflicts:
// value, else level, else the whole outcome.
func (o Outcome) ComparableValue() any {
	if v, ok := o["value"]; ok && v != nil {
		return v
	}
	if v, ok := o["level"]; ok && v != nil {
		return v
	}
	return map[string]any(o)
}

// Clone returns a shallow copy.
func (o Outcome) Clone() Outcome {
	if o == nil {
		return Outcome{}
	}
	out := make(Outcome, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Merge returns a copy of o with adjustment applied on top. Adjustment wins on key collision.
func (o Outcome) Merge(adjustment Outcome) Outcome {
	out := o.Clone()
	for k, v := range adjustment {
		out[k] = v
	}
	return out
}

// OutcomeDetail is the kind-specific view of an outcome.
// Concrete types: DocumentOutcome, FieldOutcome, TaskOutcome, FlagOutcome,
// WarningOutcome and OtherOutcome.
type OutcomeDetail interface {
	Kind() OutcomeKind
}

type DocumentOutcome struct {
	Code  string
	Title string
}

type FieldOutcome struct {
	Field        string
	TemplateCode string
	Required     bool
	Description  string
}

type TaskOutcome struct {
	TaskType    string
	Title       string
	Description string
}

type FlagOutcome struct {
	Level   string
	Message string
}

type WarningOutcome struct {
	Message string
}

type OtherOutcome struct {
	Type    string
	Message string
}

func (DocumentOutcome) Kind() OutcomeKind { return KindDocument }
func (FieldOutcome) Kind() OutcomeKind    { return KindField }
func (TaskOutcome) Kind() OutcomeKind     { return KindTask }
func (FlagOutcome) Kind() OutcomeKind     { return KindFlag }
func (WarningOutcome) Kind() OutcomeKind  { return KindWarning }
func (OtherOutcome) Kind() OutcomeKind    { return KindOther }

// Detail decodes the outcome into its kind-specific form. Missing values stay empty;
// defaults that depend on the rule are applied by the RequirementsBuilder.
func (o Outcome) Detail() OutcomeDetail {
	switch o.Kind() {
	case KindDocument:
		return DocumentOutcome{
			Code:  o.firstString("code", "documentCode", "templateCode"),
			Title: o.firstString("title", "name"),
		}
	case KindField:
		required := true
		if b, ok := o["required"].(bool); ok && !b {
			required = false
		}
		return FieldOutcome{
			Field:        o.firstString("field", "path"),
			TemplateCode: o.Text("templateCode"),
			Required:     required,
			Description:  o.firstString("description", "message"),
		}
	case KindTask:
		return TaskOutcome{
			TaskType:    o.firstString("taskType", "category"),
			Title:       o.firstString("title", "name"),
			Description: o.firstString("description", "message"),
		}
	case KindFlag:
		return FlagOutcome{
			Level:   o.Text("level"),
			Message: o.firstString("message", "description"),
		}
	case KindWarning:
		return WarningOutcome{Message: o.firstString("message", "description")}
	default:
		return OtherOutcome{
			Type:    o.Type(),
			Message: o.firstString("message", "description"),
		}
	}
}
