// Package model holds the persisted data model: the endpoint metadata
// record and the typed result/metric event, together with the
// normalization of raw stream records into typed events.
package model

import (
	"encoding/json"
	"sort"
	"time"

	"gorm.io/datatypes"

	merr "modelmon/internal/errors"
)

// EndpointTableName is the relational table holding endpoint records.
const EndpointTableName = "model_endpoints"

// EndpointType distinguishes a directly served endpoint from a router and
// its children.
type EndpointType int

const (
	EndpointTypeNode   EndpointType = 1 // single model endpoint
	EndpointTypeRouter EndpointType = 2 // router over child endpoints
	EndpointTypeLeaf   EndpointType = 3 // child of a router
)

// ParseEndpointType validates an endpoint-type value.
func ParseEndpointType(v int) (EndpointType, error) {
	switch t := EndpointType(v); t {
	case EndpointTypeNode, EndpointTypeRouter, EndpointTypeLeaf:
		return t, nil
	default:
		return 0, merr.NewInvalidArgument("endpoint type", v, "1 (node), 2 (router), 3 (leaf)")
	}
}

// EndpointRecord is one deployed model endpoint. The id is caller-assigned
// and unique within a project; a record is the unit of CRUD and is never
// partially written.
type EndpointRecord struct {
	EndpointID string `gorm:"column:endpoint_id;primaryKey;size:64"`

	Project     string `gorm:"size:64;index"`
	FunctionURI string `gorm:"size:255"`
	Model       string `gorm:"size:255"`
	ModelClass  string `gorm:"size:255"`
	State       string `gorm:"size:16"`

	// Labels holds arbitrary key/value pairs attached at deploy time.
	Labels datatypes.JSONMap `gorm:"type:json"`

	// FeatureStats is the serialized baseline feature-statistics blob.
	FeatureStats string `gorm:"type:text"`

	MonitoringMode bool

	FirstRequest *time.Time
	LastRequest  *time.Time

	EndpointType EndpointType

	// ChildrenUIDs is a JSON-encoded list of child endpoint ids, set on
	// router endpoints.
	ChildrenUIDs string `gorm:"type:text"`

	// AppMetrics is the per-application auxiliary value map maintained
	// by the event writer: application name -> result/metric name ->
	// serialized latest event. Dashboard tooling reads it directly.
	AppMetrics string `gorm:"type:text"`
}

// TableName pins the gorm table name to the fixed constant.
func (EndpointRecord) TableName() string { return EndpointTableName }

// LabelsBlob returns the canonical serialized form of the label map.
// encoding/json sorts map keys, so semantically identical label sets always
// serialize identically regardless of insertion order.
func (r *EndpointRecord) LabelsBlob() string {
	if len(r.Labels) == 0 {
		return ""
	}
	b, err := json.Marshal(map[string]any(r.Labels))
	if err != nil {
		return ""
	}
	return string(b)
}

// Children decodes the child endpoint id list.
func (r *EndpointRecord) Children() []string {
	if r.ChildrenUIDs == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(r.ChildrenUIDs), &ids); err != nil {
		return nil
	}
	return ids
}

// SetChildren encodes the child endpoint id list.
func (r *EndpointRecord) SetChildren(ids []string) {
	if len(ids) == 0 {
		r.ChildrenUIDs = ""
		return
	}
	b, _ := json.Marshal(ids)
	r.ChildrenUIDs = string(b)
}

// UpdatableAttributes is the closed set of attribute keys accepted by a
// partial update. Unknown keys fail instead of silently adding columns.
var UpdatableAttributes = map[string]struct{}{
	"project":         {},
	"function_uri":    {},
	"model":           {},
	"model_class":     {},
	"state":           {},
	"labels":          {},
	"feature_stats":   {},
	"monitoring_mode": {},
	"first_request":   {},
	"last_request":    {},
	"endpoint_type":   {},
	"children_uids":   {},
	"app_metrics":     {},
}

// ValidateAttributes checks a partial-update attribute map against the
// declared column set.
func ValidateAttributes(attrs map[string]any) error {
	for key := range attrs {
		if _, ok := UpdatableAttributes[key]; !ok {
			return merr.NewInvalidArgument("update attribute", key, attributeList())
		}
	}
	return nil
}

func attributeList() string {
	keys := make([]string, 0, len(UpdatableAttributes))
	for k := range UpdatableAttributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += k
	}
	return out
}
