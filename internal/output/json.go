package output

import (
	"encoding/json"
)

// JSONFormatter formats events as JSON Lines, one object per event.
// Progress events are included; sources are not.
type JSONFormatter struct {
	preview bool // include the full replacement preview
}

// NewJSONFormatter creates a JSONFormatter.
func NewJSONFormatter(preview bool) *JSONFormatter {
	return &JSONFormatter{preview: preview}
}

type jsonEvent struct {
	Type      string      `json:"type"`
	Gen       uint64      `json:"gen"`
	Level     int         `json:"level"`
	File      string      `json:"file,omitempty"`
	Matches   []jsonMatch `json:"matches,omitempty"`
	Preview   string      `json:"preview,omitempty"`
	Error     string      `json:"error,omitempty"`
	Completed int         `json:"completed,omitempty"`
	Total     int         `json:"total,omitempty"`
	Matched   int         `json:"matched,omitempty"`
}

type jsonMatch struct {
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Line        int    `json:"line"`
	Column      int    `json:"column"`
	EndLine     int    `json:"end_line"`
	EndColumn   int    `json:"end_column"`
	Text        string `json:"text"`
	Replacement string `json:"replacement,omitempty"`
}

func (f *JSONFormatter) Format(buf []byte, ev Event) []byte {
	je := jsonEvent{
		Type:      ev.Type.String(),
		Gen:       ev.Gen,
		Level:     ev.Level,
		File:      ev.File,
		Completed: ev.Completed,
		Total:     ev.Total,
		Matched:   ev.Matched,
	}
	if ev.Err != nil {
		je.Error = ev.Err.Error()
	}
	if f.preview {
		je.Preview = ev.Preview
	}
	if len(ev.Matches) > 0 {
		je.Matches = make([]jsonMatch, len(ev.Matches))
		for i, m := range ev.Matches {
			jm := jsonMatch{
				Start:     m.Start,
				End:       m.End,
				Line:      m.LineStart + 1,
				Column:    m.ColStart + 1,
				EndLine:   m.LineEnd + 1,
				EndColumn: m.ColEnd + 1,
				Text:      m.Text(ev.Source),
			}
			if i < len(ev.Replacements) {
				jm.Replacement = ev.Replacements[i]
			}
			je.Matches[i] = jm
		}
	}

	data, _ := json.Marshal(je)
	buf = append(buf, data...)
	return append(buf, '\n')
}

// Ensure JSONFormatter implements Formatter.
var _ Formatter = (*JSONFormatter)(nil)
