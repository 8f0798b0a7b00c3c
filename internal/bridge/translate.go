package bridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/nhle/crm-notifications/internal/model"
)

// Translation is the notification produced for one event row.
type Translation struct {
	Type     model.NotificationType
	Priority model.Priority
	Title    string
	Message  string
	Meta     map[string]string
}

type kindStyle struct {
	typ      model.NotificationType
	priority model.Priority
	title    string
}

// kindStyles maps each event kind to its notification type, priority and
// default title.
var kindStyles = map[model.EventKind]kindStyle{
	model.KindVisit:       {model.TypeInfo, model.PriorityLow, "New visit"},
	model.KindSale:        {model.TypeSuccess, model.PriorityHigh, "New sale"},
	model.KindGoal:        {model.TypeSuccess, model.PriorityCritical, "Goal reached"},
	model.KindDistributor: {model.TypeInfo, model.PriorityMedium, "New distributor"},
	model.KindGraduate:    {model.TypeSuccess, model.PriorityMedium, "New graduate"},
}

var unknownKind = kindStyle{model.TypeInfo, model.PriorityMedium, "New event"}

// Translate converts an event row into the notification the bridge
// publishes for it. The result carries the row id in its meta so repeated
// observations of the row can be recognized.
func Translate(row model.EventRow) Translation {
	style, ok := kindStyles[row.Type]
	if !ok {
		style = unknownKind
	}

	t := Translation{
		Type:     style.typ,
		Priority: style.priority,
		Title:    style.title,
		Message:  strings.TrimSpace(row.Message),
		Meta: map[string]string{
			model.MetaSource: model.SourceEventNotifications,
			model.MetaID:     row.ID,
			model.MetaKind:   string(row.Type),
		},
	}
	if row.EntityID != "" {
		t.Meta[model.MetaEntityID] = row.EntityID
	}

	if t.Message == "" {
		t.Message = strings.TrimSpace(fmt.Sprintf("%s %s", row.Type, row.EntityID))
	}

	switch row.Type {
	case model.KindSale:
		if amount, ok := number(row.Metadata["amount"]); ok {
			t.Message = fmt.Sprintf("$%s - %s", humanize.CommafWithDigits(amount, 2), t.Message)
		}
	case model.KindGoal:
		if name := text(row.Metadata["goal_name"]); name != "" {
			t.Title = "Goal reached: " + name
		}
	}

	return t
}

// number reads a numeric metadata value that may have been encoded as a
// JSON number or a string.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func text(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
