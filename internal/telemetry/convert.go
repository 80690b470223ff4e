package telemetry

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/standoff/internal/pipeline"
)

// ReportToStruct converts a tick report to its wire form. Non-finite values
// are sent as zero and listed under non_finite.
func ReportToStruct(r pipeline.TickReport) (*structpb.Struct, error) {
	raw, err := json.Marshal(r.Finite())
	if err != nil {
		return nil, fmt.Errorf("failed to encode tick %d: %w", r.Seq, err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode tick %d: %w", r.Seq, err)
	}
	return structpb.NewStruct(fields)
}

// StructToReport is the inverse of ReportToStruct.
func StructToReport(s *structpb.Struct) (pipeline.TickReport, error) {
	var r pipeline.TickReport
	raw, err := protojson.Marshal(s)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("failed to decode tick report: %w", err)
	}
	return r, nil
}
