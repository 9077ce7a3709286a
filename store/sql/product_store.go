package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-ingest/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const DefaultUpsertBatchSize = 5000

type ProductStore struct {
	db        *bun.DB
	repo      repository.Repository[*productRecord]
	batchSize int
	now       func() time.Time
}

func NewProductStore(db *bun.DB, batchSize int) (*ProductStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*productRecord](db, productHandlers())
	if err := validateRepository("product", repo); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = DefaultUpsertBatchSize
	}
	return &ProductStore{
		db:        db,
		repo:      repo,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *ProductStore) Create(ctx context.Context, product core.Product) (core.Product, error) {
	if s == nil || s.repo == nil {
		return core.Product{}, fmt.Errorf("sqlstore: product store is not configured")
	}
	product.ID = ""
	record := newProductRecord(product, s.now())
	if record.SKU == "" || record.Name == "" {
		return core.Product{}, core.NewValidationError("sku", "sku and name are required")
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Product{}, &core.DuplicateSKUError{SKU: record.SKU}
		}
		return core.Product{}, err
	}
	return created.toDomain(), nil
}

func (s *ProductStore) Get(ctx context.Context, id string) (core.Product, error) {
	if s == nil || s.db == nil {
		return core.Product{}, fmt.Errorf("sqlstore: product store is not configured")
	}
	return s.get(ctx, s.db, id)
}

func (s *ProductStore) Update(ctx context.Context, product core.Product) (core.Product, error) {
	if s == nil || s.db == nil {
		return core.Product{}, fmt.Errorf("sqlstore: product store is not configured")
	}
	id := strings.TrimSpace(product.ID)
	if !validUUID(id) {
		return core.Product{}, core.ErrProductNotFound
	}
	record := newProductRecord(product, s.now())
	result, err := s.db.NewUpdate().
		Model(record).
		Column("sku", "name", "description", "active", "updated_at").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Product{}, &core.DuplicateSKUError{SKU: record.SKU}
		}
		return core.Product{}, err
	}
	if rows, rowsErr := result.RowsAffected(); rowsErr == nil && rows == 0 {
		return core.Product{}, core.ErrProductNotFound
	}
	return s.get(ctx, s.db, id)
}

// Delete removes a product and returns the row as it was before deletion.
func (s *ProductStore) Delete(ctx context.Context, id string) (core.Product, error) {
	if s == nil || s.db == nil {
		return core.Product{}, fmt.Errorf("sqlstore: product store is not configured")
	}
	var deleted core.Product
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*productRecord)(nil)).
			Where("id = ?", current.ID).
			Exec(ctx); err != nil {
			return err
		}
		deleted = current
		return nil
	})
	if err != nil {
		return core.Product{}, err
	}
	return deleted, nil
}

func (s *ProductStore) DeleteMany(ctx context.Context, filter core.ProductDeleteFilter) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: product store is not configured")
	}
	query := s.db.NewDelete().Model((*productRecord)(nil))
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	} else {
		query = query.Where("1 = 1")
	}
	result, err := query.Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func (s *ProductStore) Upsert(ctx context.Context, row core.ProductUpsert) error {
	return s.UpsertBatch(ctx, []core.ProductUpsert{row})
}

// UpsertBatch applies rows in one transaction, keyed on sku. Existing rows
// keep their id and created_at; name, description, active and updated_at
// take the incoming values.
func (s *ProductStore) UpsertBatch(ctx context.Context, rows []core.ProductUpsert) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: product store is not configured")
	}
	records := s.upsertRecords(rows)
	if len(records) == 0 {
		return nil
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for start := 0; start < len(records); start += s.batchSize {
			end := min(start+s.batchSize, len(records))
			batch := records[start:end]
			if _, err := tx.NewInsert().
				Model(&batch).
				On("CONFLICT (sku) DO UPDATE").
				Set("name = EXCLUDED.name").
				Set("description = EXCLUDED.description").
				Set("active = EXCLUDED.active").
				Set("updated_at = EXCLUDED.updated_at").
				Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// upsertRecords normalizes rows and collapses repeated skus so one INSERT
// never touches the same key twice. The last occurrence wins.
func (s *ProductStore) upsertRecords(rows []core.ProductUpsert) []productRecord {
	now := s.now()
	index := make(map[string]int, len(rows))
	records := make([]productRecord, 0, len(rows))
	for _, row := range rows {
		sku := core.NormalizeSKU(row.SKU)
		name := strings.TrimSpace(row.Name)
		if sku == "" || name == "" {
			continue
		}
		record := productRecord{
			ID:          uuid.NewString(),
			SKU:         sku,
			Name:        name,
			Description: copyStringPtr(row.Description),
			Active:      row.Active,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if pos, ok := index[sku]; ok {
			record.ID = records[pos].ID
			records[pos] = record
			continue
		}
		index[sku] = len(records)
		records = append(records, record)
	}
	return records
}

func (s *ProductStore) get(ctx context.Context, db bun.IDB, id string) (core.Product, error) {
	id = strings.TrimSpace(id)
	if !validUUID(id) {
		return core.Product{}, core.ErrProductNotFound
	}
	record := &productRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Product{}, core.ErrProductNotFound
		}
		return core.Product{}, err
	}
	return record.toDomain(), nil
}
