package store

import (
	"context"
	"fmt"
	"log"
	"sync"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	merr "modelmon/internal/errors"
	"modelmon/internal/model"
)

// SQLStore is the relational variant, backed by gorm. Table creation is
// lazy: the first write migrates the schema. Reads issued before any
// write fail with the backend's missing-relation diagnostic wrapped as a
// query failure.
type SQLStore struct {
	project string
	db      *gorm.DB
	reader  MetricsReader

	migrate    sync.Once
	migrateErr error
}

// NewSQLStore wraps an established gorm connection. The connection must
// have been opened with TranslateError so duplicate keys surface as
// gorm.ErrDuplicatedKey.
func NewSQLStore(project string, db *gorm.DB, reader MetricsReader) *SQLStore {
	return &SQLStore{project: project, db: db, reader: reader}
}

// ensureTable migrates the endpoint table once per store instance.
func (s *SQLStore) ensureTable() error {
	s.migrate.Do(func() {
		s.migrateErr = s.db.AutoMigrate(&model.EndpointRecord{})
	})
	if s.migrateErr != nil {
		return merr.NewWriteFailure(model.EndpointTableName, s.migrateErr)
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, record *model.EndpointRecord) error {
	if err := s.ensureTable(); err != nil {
		return err
	}
	record.Project = s.project
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if merr.Is(err, gorm.ErrDuplicatedKey) {
			return merr.NewAlreadyExists("endpoint", record.EndpointID)
		}
		return merr.NewWriteFailure(model.EndpointTableName, err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, endpointID string, attrs map[string]any) error {
	if err := model.ValidateAttributes(attrs); err != nil {
		return err
	}
	if err := s.ensureTable(); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Model(&model.EndpointRecord{}).
		Where("endpoint_id = ? AND project = ?", endpointID, s.project).
		Updates(normalizeAttrs(attrs))
	if res.Error != nil {
		return merr.NewWriteFailure(model.EndpointTableName, res.Error)
	}
	if res.RowsAffected == 0 {
		return merr.NewNotFound("endpoint", endpointID)
	}
	return nil
}

// normalizeAttrs retypes the labels value so map-based updates go through
// the JSON column's serializer instead of handing the driver a bare map.
// The caller's map is left untouched.
func normalizeAttrs(attrs map[string]any) map[string]any {
	v, ok := attrs["labels"]
	if !ok {
		return attrs
	}
	m, ok := v.(map[string]any)
	if !ok {
		return attrs
	}
	out := make(map[string]any, len(attrs))
	for k, val := range attrs {
		out[k] = val
	}
	out["labels"] = datatypes.JSONMap(m)
	return out
}

func (s *SQLStore) Get(ctx context.Context, endpointID string, opts GetOptions) (*Endpoint, error) {
	var record model.EndpointRecord
	err := s.db.WithContext(ctx).
		Where("endpoint_id = ? AND project = ?", endpointID, s.project).
		First(&record).Error
	if err != nil {
		if merr.Is(err, gorm.ErrRecordNotFound) {
			return nil, merr.NewNotFound("endpoint", endpointID)
		}
		return nil, merr.NewQueryFailure(model.EndpointTableName, err)
	}
	ep := &Endpoint{EndpointRecord: record}
	if err := attachMetrics(ctx, s.reader, ep, opts); err != nil {
		return nil, err
	}
	return ep, nil
}

func (s *SQLStore) List(ctx context.Context, filter ListFilter) ([]Endpoint, error) {
	q := s.db.WithContext(ctx).Where("project = ?", s.project)
	if filter.Model != "" {
		q = q.Where("model = ?", filter.Model)
	}
	if filter.Function != "" {
		q = q.Where("function_uri = ?", filter.Function)
	}
	if filter.TopLevel {
		q = q.Where("endpoint_type IN ?", []model.EndpointType{
			model.EndpointTypeNode, model.EndpointTypeRouter,
		})
	}
	if len(filter.UIDs) > 0 {
		q = q.Where("endpoint_id IN ?", filter.UIDs)
	}

	var records []model.EndpointRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, merr.NewQueryFailure(model.EndpointTableName, err)
	}

	// Label matching compares canonical serialized blobs, which the SQL
	// layer cannot express portably, so it stays in memory.
	out := make([]Endpoint, 0, len(records))
	for i := range records {
		if filter.LabelBlob != "" && records[i].LabelsBlob() != filter.LabelBlob {
			continue
		}
		out = append(out, Endpoint{EndpointRecord: records[i]})
	}
	return out, nil
}

func (s *SQLStore) Delete(ctx context.Context, endpointID string) error {
	err := s.db.WithContext(ctx).
		Where("endpoint_id = ? AND project = ?", endpointID, s.project).
		Delete(&model.EndpointRecord{}).Error
	if err != nil {
		return merr.NewWriteFailure(model.EndpointTableName, err)
	}
	return nil
}

// RegisterReadSchema makes sure the relational schema backing reads is in
// place. The migration is idempotent and shared with the write path.
func (s *SQLStore) RegisterReadSchema(ctx context.Context, _ string) error {
	return s.ensureTable()
}

func (s *SQLStore) DeleteAll(ctx context.Context, endpointIDs []string) error {
	var errs []error
	for _, id := range endpointIDs {
		if err := s.Delete(ctx, id); err != nil {
			log.Printf("deleting endpoint %s failed: %v", id, err)
			errs = append(errs, fmt.Errorf("endpoint %s: %w", id, err))
		}
	}
	return merr.Join(errs...)
}
