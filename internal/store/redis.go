package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	merr "modelmon/internal/errors"
	"modelmon/internal/model"
)

// RedisStore is the document variant: one hash per endpoint plus a
// project-level set indexing the endpoint ids. There is no schema to
// migrate, so writes need no table bootstrap.
type RedisStore struct {
	project string
	client  *redis.Client
	reader  MetricsReader
}

// NewRedisStore wraps an established Redis client.
func NewRedisStore(project string, client *redis.Client, reader MetricsReader) *RedisStore {
	return &RedisStore{project: project, client: client, reader: reader}
}

func (s *RedisStore) endpointKey(endpointID string) string {
	return fmt.Sprintf("modelmon:%s:endpoint:%s", s.project, endpointID)
}

func (s *RedisStore) indexKey() string {
	return fmt.Sprintf("modelmon:%s:endpoints", s.project)
}

func (s *RedisStore) Create(ctx context.Context, record *model.EndpointRecord) error {
	record.Project = s.project
	key := s.endpointKey(record.EndpointID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return merr.NewWriteFailure(key, err)
	}
	if exists > 0 {
		return merr.NewAlreadyExists("endpoint", record.EndpointID)
	}

	fields := recordToFields(record)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, s.indexKey(), record.EndpointID)
	if _, err := pipe.Exec(ctx); err != nil {
		return merr.NewWriteFailure(key, err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, endpointID string, attrs map[string]any) error {
	if err := model.ValidateAttributes(attrs); err != nil {
		return err
	}
	key := s.endpointKey(endpointID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return merr.NewWriteFailure(key, err)
	}
	if exists == 0 {
		return merr.NewNotFound("endpoint", endpointID)
	}

	fields := make(map[string]any, len(attrs))
	for k, v := range attrs {
		fields[k] = fieldValue(v)
	}
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return merr.NewWriteFailure(key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, endpointID string, opts GetOptions) (*Endpoint, error) {
	key := s.endpointKey(endpointID)
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, merr.NewQueryFailure(key, err)
	}
	if len(fields) == 0 {
		return nil, merr.NewNotFound("endpoint", endpointID)
	}
	record, err := fieldsToRecord(endpointID, fields)
	if err != nil {
		return nil, err
	}
	ep := &Endpoint{EndpointRecord: *record}
	if err := attachMetrics(ctx, s.reader, ep, opts); err != nil {
		return nil, err
	}
	return ep, nil
}

func (s *RedisStore) List(ctx context.Context, filter ListFilter) ([]Endpoint, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, merr.NewQueryFailure(s.indexKey(), err)
	}

	out := make([]Endpoint, 0, len(ids))
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, s.endpointKey(id)).Result()
		if err != nil {
			return nil, merr.NewQueryFailure(s.endpointKey(id), err)
		}
		if len(fields) == 0 {
			// Index entry outlived its hash; skip rather than fail the list.
			continue
		}
		record, err := fieldsToRecord(id, fields)
		if err != nil {
			log.Printf("skipping undecodable endpoint record %s: %v", id, err)
			continue
		}
		if !matchesFilter(record, filter) {
			continue
		}
		out = append(out, Endpoint{EndpointRecord: *record})
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, endpointID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.endpointKey(endpointID))
	pipe.SRem(ctx, s.indexKey(), endpointID)
	if _, err := pipe.Exec(ctx); err != nil {
		return merr.NewWriteFailure(s.endpointKey(endpointID), err)
	}
	return nil
}

// RegisterReadSchema publishes the field layout of the endpoint's hash so
// dashboard tooling can decode the per-application value map without
// hard-coding field names. Overwriting an existing schema is harmless.
func (s *RedisStore) RegisterReadSchema(ctx context.Context, endpointID string) error {
	key := fmt.Sprintf("modelmon:%s:schema:%s", s.project, endpointID)
	doc, err := json.Marshal(map[string]any{
		"version": 1,
		"fields":  attributeNames(),
	})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, doc, 0).Err(); err != nil {
		return merr.NewWriteFailure(key, err)
	}
	return nil
}

func attributeNames() []string {
	names := make([]string, 0, len(model.UpdatableAttributes))
	for name := range model.UpdatableAttributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *RedisStore) DeleteAll(ctx context.Context, endpointIDs []string) error {
	var errs []error
	for _, id := range endpointIDs {
		if err := s.Delete(ctx, id); err != nil {
			log.Printf("deleting endpoint %s failed: %v", id, err)
			errs = append(errs, fmt.Errorf("endpoint %s: %w", id, err))
		}
	}
	return merr.Join(errs...)
}

// recordToFields flattens a record into hash fields, using the same
// attribute names the partial-update path accepts.
func recordToFields(r *model.EndpointRecord) map[string]any {
	fields := map[string]any{
		"project":         r.Project,
		"function_uri":    r.FunctionURI,
		"model":           r.Model,
		"model_class":     r.ModelClass,
		"state":           r.State,
		"labels":          r.LabelsBlob(),
		"feature_stats":   r.FeatureStats,
		"monitoring_mode": strconv.FormatBool(r.MonitoringMode),
		"endpoint_type":   strconv.Itoa(int(r.EndpointType)),
		"children_uids":   r.ChildrenUIDs,
		"app_metrics":     r.AppMetrics,
	}
	if r.FirstRequest != nil {
		fields["first_request"] = r.FirstRequest.UTC().Format(time.RFC3339Nano)
	}
	if r.LastRequest != nil {
		fields["last_request"] = r.LastRequest.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

// fieldValue converts one attribute value into its stored hash form.
func fieldValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.UTC().Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// fieldsToRecord rebuilds a record from hash fields.
func fieldsToRecord(endpointID string, fields map[string]string) (*model.EndpointRecord, error) {
	r := &model.EndpointRecord{
		EndpointID:   endpointID,
		Project:      fields["project"],
		FunctionURI:  fields["function_uri"],
		Model:        fields["model"],
		ModelClass:   fields["model_class"],
		State:        fields["state"],
		FeatureStats: fields["feature_stats"],
		ChildrenUIDs: fields["children_uids"],
		AppMetrics:   fields["app_metrics"],
	}
	if v := fields["labels"]; v != "" {
		labels := map[string]any{}
		if err := json.Unmarshal([]byte(v), &labels); err != nil {
			return nil, fmt.Errorf("decoding labels of endpoint %s: %w", endpointID, merr.ErrSchema)
		}
		r.Labels = labels
	}
	if v := fields["monitoring_mode"]; v != "" {
		r.MonitoringMode, _ = strconv.ParseBool(v)
	}
	if v := fields["endpoint_type"]; v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			r.EndpointType = model.EndpointType(n)
		}
	}
	if t, ok := parseStoredTime(fields["first_request"]); ok {
		r.FirstRequest = &t
	}
	if t, ok := parseStoredTime(fields["last_request"]); ok {
		r.LastRequest = &t
	}
	return r, nil
}

func parseStoredTime(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
