package db

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/alderdb/alder/schema"
)

// Insert inserts the specified item into the specified collection.
func (d *Database) Insert(ctx context.Context, collection string, item any) error {
	_, err := d.collection(collection).InsertOne(ctx, item)
	return errors.Wrap(err, "inserting document")
}

// InsertMany inserts the specified items into the specified collection.
func (d *Database) InsertMany(ctx context.Context, collection string, items ...any) error {
	if len(items) == 0 {
		return nil
	}

	_, err := d.collection(collection).InsertMany(ctx, items)
	return errors.Wrap(err, "inserting documents")
}

// InsertManyUnordered inserts the specified items without stopping at
// the first failed document.
func (d *Database) InsertManyUnordered(ctx context.Context, collection string, items ...any) error {
	if len(items) == 0 {
		return nil
	}

	_, err := d.collection(collection).InsertMany(ctx, items, options.InsertMany().SetOrdered(false))
	return errors.Wrap(err, "inserting unordered documents")
}

// Remove removes one document matching the query.
func (d *Database) Remove(ctx context.Context, collection string, query any) error {
	_, err := d.collection(collection).DeleteOne(ctx, notNilFilter(query))
	return errors.Wrap(err, "deleting document")
}

// RemoveAll removes all documents matching the query.
func (d *Database) RemoveAll(ctx context.Context, collection string, query any) error {
	_, err := d.collection(collection).DeleteMany(ctx, notNilFilter(query))
	return errors.Wrap(err, "deleting documents")
}

// RemoveAllQ removes all documents matching the query described by q.
func (d *Database) RemoveAllQ(ctx context.Context, collection string, q Q) error {
	return d.RemoveAll(ctx, collection, q.assembledFilter())
}

// Update updates one matching document. A query matching nothing is
// reported as a not-found error.
func (d *Database) Update(ctx context.Context, collection string, query, update any) error {
	res, err := d.collection(collection).UpdateOne(ctx, notNilFilter(query), update)
	if err != nil {
		return errors.Wrap(err, "updating document")
	}
	if res.MatchedCount == 0 {
		return errors.WithStack(mongo.ErrNoDocuments)
	}
	return nil
}

// UpdateId updates the document with the given _id.
func (d *Database) UpdateId(ctx context.Context, collection string, id, update any) error {
	return d.Update(ctx, collection, bson.M{"_id": id}, update)
}

// UpdateAll updates every matching document, reporting how many
// matched.
func (d *Database) UpdateAll(ctx context.Context, collection string, query, update any) (*ChangeInfo, error) {
	res, err := d.collection(collection).UpdateMany(ctx, notNilFilter(query), update)
	if err != nil {
		return nil, errors.Wrap(err, "updating documents")
	}
	return &ChangeInfo{Updated: int(res.MatchedCount)}, nil
}

// Upsert updates one matching document, inserting it when nothing
// matches. Updates whose first key is a $ operator run as updates;
// plain documents replace the matched document wholesale.
func (d *Database) Upsert(ctx context.Context, collection string, query, update any) (*ChangeInfo, error) {
	doc, err := transformDocument(update)
	if err != nil {
		return nil, errors.Wrap(err, "transforming update document")
	}

	var res *mongo.UpdateResult
	if hasDollarKey(doc) {
		res, err = d.collection(collection).UpdateOne(ctx, notNilFilter(query), doc, options.Update().SetUpsert(true))
	} else {
		res, err = d.collection(collection).ReplaceOne(ctx, notNilFilter(query), doc, options.Replace().SetUpsert(true))
	}
	if err != nil {
		return nil, errors.Wrap(err, "upserting document")
	}

	return &ChangeInfo{Updated: int(res.MatchedCount), UpsertedId: res.UpsertedID}, nil
}

// FindOneQ runs a Q query against the given collection, applying the
// result to out. Only reads one document.
func (d *Database) FindOneQ(ctx context.Context, collection string, q Q, out any) error {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("alder.db.collection", collection),
	)

	if q.maxTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.maxTime)
		defer cancel()
	}

	res, err := d.findOne(ctx, collection, q)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(res.Decode(out), "decoding result")
}

// FindOneInstanceQ runs a Q query and decodes the single result
// through the query's bound schema, so documents come back as
// instances of the concrete type named by their discriminator.
func (d *Database) FindOneInstanceQ(ctx context.Context, collection string, q Q) (any, error) {
	if q.schema == nil {
		return nil, errors.New("query has no schema bound")
	}

	if q.maxTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.maxTime)
		defer cancel()
	}

	res, err := d.findOne(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	raw, err := res.Raw()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return schema.Decode(q.schema, raw)
}

func (d *Database) findOne(ctx context.Context, collection string, q Q) (*mongo.SingleResult, error) {
	projection, err := q.projection()
	if err != nil {
		return nil, err
	}

	opts := options.FindOne()
	if len(q.sort) > 0 {
		opts.SetSort(sortSpec(q.sort))
	}
	if q.skip > 0 {
		opts.SetSkip(int64(q.skip))
	}
	if projection != nil {
		opts.SetProjection(projection)
	}
	if q.hint != nil {
		opts.SetHint(q.hint)
	}

	return d.collection(collection).FindOne(ctx, notNilFilter(q.assembledFilter()), opts), nil
}

// FindAllQ runs a Q query against the given collection, applying the
// results to out, which must be a pointer to a slice.
func (d *Database) FindAllQ(ctx context.Context, collection string, q Q, out any) error {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("alder.db.collection", collection),
	)

	if q.maxTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.maxTime)
		defer cancel()
	}

	cursor, err := d.findAll(ctx, collection, q)
	if err != nil {
		return err
	}
	return errors.Wrap(cursor.All(ctx, out), "decoding results")
}

// FindAllInstancesQ runs a Q query and decodes every result through
// the query's bound schema.
func (d *Database) FindAllInstancesQ(ctx context.Context, collection string, q Q) ([]any, error) {
	if q.schema == nil {
		return nil, errors.New("query has no schema bound")
	}

	if q.maxTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.maxTime)
		defer cancel()
	}

	cursor, err := d.findAll(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []any
	for cursor.Next(ctx) {
		doc, err := schema.Decode(q.schema, cursor.Current)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating results")
	}
	return docs, nil
}

func (d *Database) findAll(ctx context.Context, collection string, q Q) (*mongo.Cursor, error) {
	projection, err := q.projection()
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if len(q.sort) > 0 {
		opts.SetSort(sortSpec(q.sort))
	}
	if q.skip > 0 {
		opts.SetSkip(int64(q.skip))
	}
	if q.limit > 0 {
		opts.SetLimit(int64(q.limit))
	}
	if projection != nil {
		opts.SetProjection(projection)
	}
	if q.hint != nil {
		opts.SetHint(q.hint)
	}

	cursor, err := d.collection(collection).Find(ctx, notNilFilter(q.assembledFilter()), opts)
	return cursor, errors.WithStack(err)
}

// CountQ counts the documents matching q, honoring its skip, limit,
// hint, and max-time terms.
func (d *Database) CountQ(ctx context.Context, collection string, q Q) (int, error) {
	return d.Count(ctx, collection, q.assembledFilter(), q.countOptions())
}

// Aggregate runs an aggregation pipeline, applying the results to out.
func (d *Database) Aggregate(ctx context.Context, collection string, pipeline, out any) error {
	cursor, err := d.collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return errors.Wrap(err, "running aggregation")
	}
	return errors.WithStack(cursor.All(ctx, out))
}

// CreateCollections creates the given collections, tolerating ones
// that already exist.
func (d *Database) CreateCollections(ctx context.Context, collections ...string) error {
	const namespaceExistsErrCode = 48
	for _, collection := range collections {
		err := d.db.CreateCollection(ctx, collection)
		if err == nil {
			continue
		}
		// If the collection already exists, this does not count as an
		// error.
		if mongoErr, ok := errors.Cause(err).(mongo.CommandError); ok && mongoErr.HasErrorCode(namespaceExistsErrCode) {
			continue
		}
		return errors.Wrapf(err, "creating collection '%s'", collection)
	}
	return nil
}

// Clear removes all documents from a specified collection.
func (d *Database) Clear(ctx context.Context, collection string) error {
	_, err := d.collection(collection).DeleteMany(ctx, bson.D{})
	return errors.Wrapf(err, "clearing collection '%s'", collection)
}

// ClearCollections clears all documents from all the specified
// collections, returning an error immediately if clearing any one of
// them fails.
func (d *Database) ClearCollections(ctx context.Context, collections ...string) error {
	for _, collection := range collections {
		if err := d.Clear(ctx, collection); err != nil {
			return err
		}
	}
	return nil
}

// DropCollections drops the specified collections, returning an error
// immediately if dropping any one of them fails.
func (d *Database) DropCollections(ctx context.Context, collections ...string) error {
	for _, collection := range collections {
		if err := d.collection(collection).Drop(ctx); err != nil {
			return errors.Wrapf(err, "dropping collection '%s'", collection)
		}
	}
	return nil
}
