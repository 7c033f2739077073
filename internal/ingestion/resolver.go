package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/healthdash-io/healthdash/internal/canonicalization"
	"github.com/healthdash-io/healthdash/internal/taxonomy"
	"github.com/healthdash-io/healthdash/internal/validation"
)

const (
	raceRetryInterval = 10 * time.Millisecond
	raceRetries       = 3
)

// ErrReferenceParentMismatch is returned, as a validation failure, when a reference given
// by id belongs to a different parent row than the one the payload resolves to.
var ErrReferenceParentMismatch = errors.New("referenced row belongs to a different parent")

// DimensionKeys are the foreign keys a fact row carries. The remaining dimensions
// are reachable through the metric and geography rows.
type DimensionKeys struct {
	MetricID    int64
	GeographyID int64
	StratumID   int64
	AgeID       int64
}

// ResolvedDimensions holds the id and stored name of every dimension of a record.
type ResolvedDimensions struct {
	ThemeID         int64
	SubThemeID      int64
	TopicID         int64
	GeographyTypeID int64
	GeographyID     int64
	MetricGroupID   int64
	MetricID        int64
	StratumID       int64
	AgeID           int64

	Theme         string
	SubTheme      string
	Topic         string
	GeographyType string
	Geography     string
	GeographyCode string
	MetricGroup   string
	Metric        string
	Stratum       string
	Age           string

	// Created is the number of reference rows this resolution inserted.
	Created int
}

// Keys returns the fact-row foreign keys.
func (d *ResolvedDimensions) Keys() DimensionKeys {
	return DimensionKeys{
		MetricID:    d.MetricID,
		GeographyID: d.GeographyID,
		StratumID:   d.StratumID,
		AgeID:       d.AgeID,
	}
}

// Resolver maps validated records to reference-row ids by get-or-create.
type Resolver struct {
	registry *Registry
	taxonomy *taxonomy.Taxonomy
	logger   *slog.Logger
}

// ResolverOption configures optional Resolver behavior.
type ResolverOption func(*Resolver)

// WithResolverTaxonomy sets the vocabulary resolved names are checked against.
// The embedded taxonomy is used by default.
func WithResolverTaxonomy(t *taxonomy.Taxonomy) ResolverOption {
	return func(r *Resolver) {
		if t != nil {
			r.taxonomy = t
		}
	}
}

// NewResolver returns a resolver over the registry's dimension stores.
// A nil logger discards output.
func NewResolver(registry *Registry, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := &Resolver{registry: registry, taxonomy: taxonomy.Default(), logger: logger}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve resolves every dimension of record in dependency order: theme, sub-theme,
// topic, geography type, geography, metric group, metric, stratum, age.
//
// A dimension referenced by id must already exist, belong to the parents resolved
// before it and pass the same taxonomy and format rules as a name would; failures
// are *FieldError matching ErrValidation. Store failures are returned as *StoreError
// matching ErrDimensionResolution. Rows created before a failure stay.
func (r *Resolver) Resolve(ctx context.Context, record Record) (*ResolvedDimensions, error) {
	return r.resolve(ctx, record.Base(), nil)
}

// NewBatch returns a batch-scoped resolver that resolves each distinct natural key
// once across all the records passed to it.
func (r *Resolver) NewBatch() *BatchResolver {
	return &BatchResolver{
		resolver: r,
		memo: &resolverMemo{
			ids:  make(map[string]int64),
			keys: make(map[string]NaturalKey),
		},
	}
}

// ResolveBatch resolves records with a shared memo. It returns the results in
// input order and stops at the first failing record.
func (r *Resolver) ResolveBatch(ctx context.Context, records []Record) ([]*ResolvedDimensions, error) {
	batch := r.NewBatch()
	results := make([]*ResolvedDimensions, 0, len(records))

	for i, record := range records {
		dims, err := batch.Resolve(ctx, record)
		if err != nil {
			return results, fmt.Errorf("record %d: %w", i, err)
		}

		results = append(results, dims)
	}

	return results, nil
}

// BatchResolver resolves records through a memo shared for its lifetime.
// It is not safe for concurrent use.
type BatchResolver struct {
	resolver *Resolver
	memo     *resolverMemo
}

// Resolve resolves record, reusing ids already resolved by this batch.
func (b *BatchResolver) Resolve(ctx context.Context, record Record) (*ResolvedDimensions, error) {
	return b.resolver.resolve(ctx, record.Base(), b.memo)
}

// StoreCalls returns how many store round trips the batch has made.
func (b *BatchResolver) StoreCalls() int {
	return b.memo.storeCalls
}

type resolverMemo struct {
	ids        map[string]int64
	keys       map[string]NaturalKey
	storeCalls int
}

func (r *Resolver) resolve(ctx context.Context, base *BaseRecord, memo *resolverMemo) (*ResolvedDimensions, error) {
	d := &ResolvedDimensions{GeographyCode: base.GeographyCode}
	rules := &referenceRules{taxonomy: r.taxonomy, base: base, dims: d}

	steps := []struct {
		dim   Dimension
		field string
		ref   RefValue
		key   func() NaturalKey
		id    *int64
		name  *string
		check func(NaturalKey) error
	}{
		{DimensionTheme, "parent_theme", base.ParentTheme, func() NaturalKey { return NaturalKey{} }, &d.ThemeID, &d.Theme, rules.theme},
		{DimensionSubTheme, "child_theme", base.ChildTheme, func() NaturalKey { return NaturalKey{ParentID: d.ThemeID} }, &d.SubThemeID, &d.SubTheme, rules.subTheme},
		{DimensionTopic, "topic", base.Topic, func() NaturalKey { return NaturalKey{ParentID: d.SubThemeID} }, &d.TopicID, &d.Topic, rules.topic},
		{DimensionGeographyType, "geography_type", base.GeographyType, func() NaturalKey { return NaturalKey{} }, &d.GeographyTypeID, &d.GeographyType, rules.geographyType},
		{
			DimensionGeography, "geography", base.Geography,
			func() NaturalKey { return NaturalKey{Code: base.GeographyCode, ParentID: d.GeographyTypeID} },
			&d.GeographyID, &d.Geography, rules.geography,
		},
		{DimensionMetricGroup, "metric_group", Ref(base.MetricGroup.String()), func() NaturalKey { return NaturalKey{ParentID: d.TopicID} }, &d.MetricGroupID, &d.MetricGroup, nil},
		{DimensionMetric, "metric", base.Metric, func() NaturalKey { return NaturalKey{ParentID: d.MetricGroupID, TopicID: d.TopicID} }, &d.MetricID, &d.Metric, rules.metric},
		{DimensionStratum, "stratum", base.Stratum, func() NaturalKey { return NaturalKey{} }, &d.StratumID, &d.Stratum, nil},
		{DimensionAge, "age", base.Age, func() NaturalKey { return NaturalKey{} }, &d.AgeID, &d.Age, rules.age},
	}

	for _, step := range steps {
		var (
			id      int64
			key     NaturalKey
			created bool
			err     error
		)

		want := step.key()

		if step.ref.IsID() {
			id = step.ref.ID

			key, err = r.lookup(ctx, step.dim, id, memo)
			if err != nil {
				return nil, err
			}

			// A referenced row must hang off the parents resolved before it.
			if key.ParentID != want.ParentID || key.TopicID != want.TopicID {
				return nil, invalidField(step.field, step.ref.String(),
					fmt.Errorf("%w: %s %q", ErrReferenceParentMismatch, step.dim, key.Name))
			}
		} else {
			key = want
			key.Name = step.ref.Name
		}

		// Rules run on the stored names of id references before anything below them is created.
		if step.check != nil {
			if err := step.check(key); err != nil {
				return nil, err
			}
		}

		if !step.ref.IsID() {
			id, created, err = r.getOrCreate(ctx, step.dim, key, memo)
			if err != nil {
				return nil, err
			}
		}

		*step.id = id
		*step.name = key.Name

		if created {
			d.Created++

			r.logger.Debug("Created reference row",
				slog.String("dimension", string(step.dim)),
				slog.String("name", key.Name),
				slog.Int64("id", id))
		}
	}

	return d, nil
}

// referenceRules re-applies the cross-field header rules to resolved names, so
// payloads carrying ids are held to the same hierarchy as payloads carrying names.
type referenceRules struct {
	taxonomy *taxonomy.Taxonomy
	base     *BaseRecord
	dims     *ResolvedDimensions
	geoType  taxonomy.GeographyType
}

func (rr *referenceRules) theme(key NaturalKey) error {
	if err := validation.ValidateParentTheme(rr.taxonomy, key.Name); err != nil {
		return invalidField("parent_theme", key.Name, err)
	}

	return nil
}

func (rr *referenceRules) subTheme(key NaturalKey) error {
	if err := validation.ValidateChildTheme(rr.taxonomy, rr.dims.Theme, key.Name); err != nil {
		return invalidField("child_theme", key.Name, err)
	}

	return nil
}

func (rr *referenceRules) topic(key NaturalKey) error {
	if err := validation.ValidateTopic(rr.taxonomy, rr.dims.SubTheme, key.Name); err != nil {
		return invalidField("topic", key.Name, err)
	}

	return nil
}

func (rr *referenceRules) geographyType(key NaturalKey) error {
	geographyType, err := validation.ParseGeographyType(key.Name)
	if err != nil {
		return invalidField("geography_type", key.Name, err)
	}

	rr.geoType = geographyType

	return nil
}

func (rr *referenceRules) geography(key NaturalKey) error {
	if key.Code != rr.base.GeographyCode {
		return invalidField("geography_code", rr.base.GeographyCode,
			fmt.Errorf("%w: geography %q has code %q", validation.ErrInvalidGeographyCode, key.Name, key.Code))
	}

	if err := validation.ValidateGeographyCode(rr.geoType, key.Code, key.Name); err != nil {
		return invalidField("geography_code", key.Code, err)
	}

	if err := validation.ValidateNotDeprecated(key.Code); err != nil {
		return invalidField("geography_code", key.Code, err)
	}

	rr.dims.GeographyCode = key.Code

	return nil
}

func (rr *referenceRules) metric(key NaturalKey) error {
	if err := validation.ValidateMetric(rr.taxonomy, rr.dims.Topic, rr.base.MetricGroup, key.Name); err != nil {
		return invalidField("metric", key.Name, err)
	}

	return nil
}

func (rr *referenceRules) age(key NaturalKey) error {
	if err := validation.ValidateAge(key.Name); err != nil {
		return invalidField("age", key.Name, err)
	}

	return nil
}

func (r *Resolver) getOrCreate(
	ctx context.Context,
	dim Dimension,
	key NaturalKey,
	memo *resolverMemo,
) (int64, bool, error) {
	cacheKey := canonicalization.DimensionCacheKey(string(dim), key.Name, key.Code, key.ParentID, key.TopicID)

	if memo != nil {
		if id, ok := memo.ids[cacheKey]; ok {
			return id, false, nil
		}
	}

	store := r.registry.Dimension(dim)

	var (
		id      int64
		created bool
	)

	// A lost uniqueness race is retried until the winning row is visible.
	op := func() error {
		if memo != nil {
			memo.storeCalls++
		}

		var err error

		id, created, err = store.GetOrCreate(ctx, key)
		if err != nil && !errors.Is(err, ErrConcurrentInsert) {
			return backoff.Permanent(err)
		}

		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(raceRetryInterval), raceRetries),
		ctx,
	)

	if err := backoff.Retry(op, policy); err != nil {
		return 0, false, &StoreError{Kind: ErrDimensionResolution, Op: "get-or-create " + string(dim), Err: err}
	}

	if memo != nil {
		memo.ids[cacheKey] = id
	}

	return id, created, nil
}

func (r *Resolver) lookup(ctx context.Context, dim Dimension, id int64, memo *resolverMemo) (NaturalKey, error) {
	cacheKey := canonicalization.DimensionCacheKey("id:"+string(dim), id)

	if memo != nil {
		if key, ok := memo.keys[cacheKey]; ok {
			return key, nil
		}

		memo.storeCalls++
	}

	key, err := r.registry.Dimension(dim).FindByID(ctx, id)
	if err != nil {
		return NaturalKey{}, &StoreError{
			Kind: ErrDimensionResolution,
			Op:   fmt.Sprintf("find %s #%d", dim, id),
			Err:  err,
		}
	}

	if memo != nil {
		memo.keys[cacheKey] = key
	}

	return key, nil
}
