package serialmux

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/standoff/internal/control"
	"github.com/banshee-data/standoff/internal/perception"
)

// Topics carried on the link. Each line is "<topic> <value>...", and a
// leading slash on the topic is accepted.
const (
	TopicRange      = "dist_head"
	TopicTarget     = "pos_target"
	TopicForward    = "forward_prop"
	TopicSideTop    = "side_top_prop"
	TopicSideBottom = "side_bottom_prop"
	TopicAltitude   = "alt_prop"
)

const (
	EventTypeRange   = "range"
	EventTypeTarget  = "target"
	EventTypeCommand = "command"
	EventTypeUnknown = "unknown"
)

var ErrMalformedLine = errors.New("malformed line")

func splitLine(payload string) (topic string, fields []string) {
	f := strings.Fields(payload)
	if len(f) == 0 {
		return "", nil
	}
	return strings.TrimPrefix(f[0], "/"), f[1:]
}

// ClassifyPayload returns the event type of a line from its topic.
func ClassifyPayload(payload string) string {
	topic, _ := splitLine(payload)
	switch topic {
	case TopicRange:
		return EventTypeRange
	case TopicTarget:
		return EventTypeTarget
	case TopicForward, TopicSideTop, TopicSideBottom, TopicAltitude:
		return EventTypeCommand
	default:
		return EventTypeUnknown
	}
}

func parseFloats(fields []string, want int) ([]float64, error) {
	if len(fields) != want {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrMalformedLine, want, len(fields))
	}
	out := make([]float64, want)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
		}
		out[i] = v
	}
	return out, nil
}

// ParseRange parses "dist_head <metres>".
func ParseRange(payload string) (float64, error) {
	topic, fields := splitLine(payload)
	if topic != TopicRange {
		return 0, fmt.Errorf("%w: not a %s line", ErrMalformedLine, TopicRange)
	}
	v, err := parseFloats(fields, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// ParseTarget parses "pos_target <row> <col> <height> <width>". The detector
// sends all zeros when it has lost the target.
func ParseTarget(payload string) (perception.Observation, error) {
	topic, fields := splitLine(payload)
	if topic != TopicTarget {
		return perception.Observation{}, fmt.Errorf("%w: not a %s line", ErrMalformedLine, TopicTarget)
	}
	v, err := parseFloats(fields, 4)
	if err != nil {
		return perception.Observation{}, err
	}
	return perception.Observation{
		Pixel: perception.Pixel{Row: v[0], Col: v[1]},
		Size:  perception.Size{Height: v[2], Width: v[3]},
	}, nil
}

// FormatCommand renders cmd as one line per thruster, in emission order.
func FormatCommand(cmd control.Command) []string {
	c := cmd.Channels()
	topics := [4]string{TopicForward, TopicSideTop, TopicSideBottom, TopicAltitude}
	lines := make([]string, len(topics))
	for i, topic := range topics {
		lines[i] = topic + " " + strconv.FormatFloat(c[i], 'f', 4, 64)
	}
	return lines
}

// ParseCommandLine parses one thruster line back into its topic and value.
func ParseCommandLine(payload string) (string, float64, error) {
	topic, fields := splitLine(payload)
	if ClassifyPayload(payload) != EventTypeCommand {
		return "", 0, fmt.Errorf("%w: not a thruster line", ErrMalformedLine)
	}
	v, err := parseFloats(fields, 1)
	if err != nil {
		return "", 0, err
	}
	return topic, v[0], nil
}
