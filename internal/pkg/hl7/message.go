package hl7

import (
	"errors"
	"fmt"
	"strings"
)

const (
	SegmentTerminator = "\r"
	FieldSeparator    = "|"
	ComponentSep      = "^"
	RepetitionSep     = "~"
	EncodingChars     = "^~\\&"

	SegmentMSH = "MSH"
)

var (
	ErrEmptyMessage = errors.New("hl7: message is empty")
	ErrMissingMSH   = errors.New("hl7: first segment must be MSH")
)

// Message is a parsed HL7v2 message. Only the MSH header is lifted into
// fields; everything else is addressed through Segment and Field lookups.
type Message struct {
	Type         string // MSH-9, e.g. ADT^A04
	ControlID    string // MSH-10
	ProcessingID string // MSH-11
	Version      string // MSH-12
	SendingApp   string
	SendingFac   string
	ReceivingApp string
	ReceivingFac string
	Segments     []Segment
}

type Segment struct {
	Name   string
	Fields []string
}

// NormalizeSegments rewrites \r\n and \n line endings to the HL7 segment
// terminator and drops blank lines.
func NormalizeSegments(text string) string {
	text = strings.ReplaceAll(text, "\r\n", SegmentTerminator)
	text = strings.ReplaceAll(text, "\n", SegmentTerminator)

	lines := strings.Split(text, SegmentTerminator)
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, SegmentTerminator)
}

func Parse(raw string) (*Message, error) {
	normalized := NormalizeSegments(raw)
	if normalized == "" {
		return nil, ErrEmptyMessage
	}

	lines := strings.Split(normalized, SegmentTerminator)
	if !strings.HasPrefix(lines[0], SegmentMSH) {
		return nil, ErrMissingMSH
	}

	msg := &Message{}
	for _, line := range lines {
		segment, err := parseSegment(strings.TrimSpace(line))
		if err != nil {
			return nil, err
		}
		msg.Segments = append(msg.Segments, segment)
	}

	msh := msg.Segments[0]
	msg.SendingApp = msh.Field(3)
	msg.SendingFac = msh.Field(4)
	msg.ReceivingApp = msh.Field(5)
	msg.ReceivingFac = msh.Field(6)
	msg.Type = msh.Field(9)
	msg.ControlID = msh.Field(10)
	msg.ProcessingID = msh.Field(11)
	msg.Version = msh.Field(12)
	return msg, nil
}

func parseSegment(line string) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("hl7: segment too short: %q", line)
	}
	name := line[:3]
	if len(line) == 3 {
		return Segment{Name: name}, nil
	}

	if name == SegmentMSH {
		// MSH-1 is the separator itself, so MSH-n lives at Fields[n-1].
		separator := string(line[3])
		rest := strings.Split(line[4:], separator)
		return Segment{Name: name, Fields: append([]string{separator}, rest...)}, nil
	}
	return Segment{Name: name, Fields: strings.Split(line[4:], FieldSeparator)}, nil
}

// Field returns the 1-based field, or "" when absent.
func (s Segment) Field(index int) string {
	if index < 1 || index > len(s.Fields) {
		return ""
	}
	return s.Fields[index-1]
}

// Component returns the 1-based component of a field, or "" when absent.
func (s Segment) Component(field, component int) string {
	value := s.Field(field)
	if value == "" {
		return ""
	}
	repetition := strings.SplitN(value, RepetitionSep, 2)[0]
	parts := strings.Split(repetition, ComponentSep)
	if component < 1 || component > len(parts) {
		return ""
	}
	return parts[component-1]
}

func (m *Message) Segment(name string) (Segment, bool) {
	for _, segment := range m.Segments {
		if segment.Name == name {
			return segment, true
		}
	}
	return Segment{}, false
}

// MessageCode is the first component of MSH-9, e.g. ADT or ORU.
func (m *Message) MessageCode() string {
	return strings.SplitN(m.Type, ComponentSep, 2)[0]
}

// TriggerEvent is the second component of MSH-9, e.g. A04.
func (m *Message) TriggerEvent() string {
	parts := strings.Split(m.Type, ComponentSep)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func (m *Message) String() string {
	lines := make([]string, 0, len(m.Segments))
	for _, segment := range m.Segments {
		if segment.Name == SegmentMSH && len(segment.Fields) > 0 {
			lines = append(lines, SegmentMSH+segment.Fields[0]+strings.Join(segment.Fields[1:], segment.Fields[0]))
			continue
		}
		lines = append(lines, segment.Name+FieldSeparator+strings.Join(segment.Fields, FieldSeparator))
	}
	return strings.Join(lines, SegmentTerminator)
}
