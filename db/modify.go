package db

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Change describes what a find-and-modify should do with the matched
// document: apply an update document (or full replacement), or remove
// it. Upsert inserts when nothing matches; ReturnNew selects the
// post-modification image instead of the pre-image.
type Change struct {
	Update    any
	Remove    bool
	Upsert    bool
	ReturnNew bool
}

func (c Change) validate() error {
	if c.Remove {
		if c.Update != nil {
			return errors.WithStack(ErrRemoveAndUpdate)
		}
		if c.ReturnNew {
			return errors.WithStack(ErrRemoveAndReturnNew)
		}
		return nil
	}
	if c.Update == nil {
		return errors.WithStack(ErrEmptyChange)
	}
	return nil
}

// ChangeInfo reports what a find-and-modify did.
type ChangeInfo struct {
	// Updated counts matched documents for update changes.
	Updated int
	// Removed counts removed documents.
	Removed int
	// UpsertedId carries the _id of a document created by an upsert.
	UpsertedId any
}

// LastErrorObject is the server's account of a findAndModify, as
// carried by the raw command envelope.
type LastErrorObject struct {
	N               int  `bson:"n"`
	UpdatedExisting bool `bson:"updatedExisting"`
	Upserted        any  `bson:"upserted,omitempty"`
}

// ModifyEnvelope is the raw findAndModify command reply.
type ModifyEnvelope struct {
	Value     bson.RawValue   `bson:"value"`
	LastError LastErrorObject `bson:"lastErrorObject"`
	OK        float64         `bson:"ok"`
}

// Document returns the returned pre- or post-image, reporting false
// when the command matched nothing.
func (e *ModifyEnvelope) Document() (bson.Raw, bool) {
	if e.Value.Type != bson.TypeEmbeddedDocument {
		return nil, false
	}
	return e.Value.Value, true
}

// FindAndModifyQ atomically applies change to the first document
// matching q, decoding the selected image into out when a document is
// available. By default the pre-modification image is returned;
// ReturnNew selects the post-modification image. When nothing matches
// and no upsert was requested, both return values are nil and out is
// left untouched. Invalid requests fail before any traffic reaches the
// server.
func (d *Database) FindAndModifyQ(ctx context.Context, collection string, q Q, change Change, out any) (*ChangeInfo, error) {
	if err := change.validate(); err != nil {
		return nil, err
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("alder.db.collection", collection),
		attribute.Bool("alder.db.modify.remove", change.Remove),
		attribute.Bool("alder.db.modify.upsert", change.Upsert),
	)

	if q.maxTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.maxTime)
		defer cancel()
	}

	filter := notNilFilter(q.assembledFilter())
	projection, err := q.projection()
	if err != nil {
		return nil, err
	}

	if change.Remove {
		return d.findAndRemove(ctx, collection, filter, q, projection, out)
	}
	if change.Upsert {
		// The upserted id only travels in the command envelope, so
		// upserting changes run the command directly.
		return d.findAndModifyCmd(ctx, collection, q, change, out)
	}

	update, err := transformDocument(change.Update)
	if err != nil {
		return nil, errors.Wrap(err, "transforming update document")
	}

	var res *mongo.SingleResult
	if hasDollarKey(update) {
		opts := options.FindOneAndUpdate().SetReturnDocument(returnDocument(change.ReturnNew))
		if len(q.sort) > 0 {
			opts.SetSort(sortSpec(q.sort))
		}
		if projection != nil {
			opts.SetProjection(projection)
		}
		res = d.collection(collection).FindOneAndUpdate(ctx, filter, update, opts)
	} else {
		opts := options.FindOneAndReplace().SetReturnDocument(returnDocument(change.ReturnNew))
		if len(q.sort) > 0 {
			opts.SetSort(sortSpec(q.sort))
		}
		if projection != nil {
			opts.SetProjection(projection)
		}
		res = d.collection(collection).FindOneAndReplace(ctx, filter, update, opts)
	}

	if err := res.Err(); err != nil {
		if errors.Cause(err) == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "running find-and-modify on collection '%s'", collection)
	}
	if out != nil {
		if err := res.Decode(out); err != nil {
			return nil, errors.Wrap(err, "decoding find-and-modify result")
		}
	}
	return &ChangeInfo{Updated: 1}, nil
}

func (d *Database) findAndRemove(ctx context.Context, collection string, filter any, q Q, projection any, out any) (*ChangeInfo, error) {
	opts := options.FindOneAndDelete()
	if len(q.sort) > 0 {
		opts.SetSort(sortSpec(q.sort))
	}
	if projection != nil {
		opts.SetProjection(projection)
	}

	res := d.collection(collection).FindOneAndDelete(ctx, filter, opts)
	if err := res.Err(); err != nil {
		if errors.Cause(err) == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "running find-and-remove on collection '%s'", collection)
	}
	if out != nil {
		if err := res.Decode(out); err != nil {
			return nil, errors.Wrap(err, "decoding find-and-remove result")
		}
	}
	return &ChangeInfo{Removed: 1}, nil
}

func (d *Database) findAndModifyCmd(ctx context.Context, collection string, q Q, change Change, out any) (*ChangeInfo, error) {
	envelope, err := d.runFindAndModify(ctx, collection, q, change)
	if err != nil {
		return nil, err
	}

	info := &ChangeInfo{}
	switch {
	case change.Remove:
		info.Removed = envelope.LastError.N
	case envelope.LastError.UpdatedExisting:
		info.Updated = envelope.LastError.N
	default:
		info.UpsertedId = envelope.LastError.Upserted
	}

	doc, ok := envelope.Document()
	if !ok {
		if info.Updated == 0 && info.Removed == 0 && info.UpsertedId == nil {
			return nil, nil
		}
		return info, nil
	}
	if out != nil {
		if err := bson.Unmarshal(doc, out); err != nil {
			return nil, errors.Wrap(err, "decoding find-and-modify result")
		}
	}
	return info, nil
}

// FindAndModifyRawQ runs a find-and-modify and returns the server's
// raw command envelope instead of just the document image. Deployment
// tiers whose modify API no longer exposes the envelope reject the
// request before any traffic is sent.
func (d *Database) FindAndModifyRawQ(ctx context.Context, collection string, q Q, change Change) (*ModifyEnvelope, error) {
	if !d.caps.ModifyEnvelope() {
		return nil, errors.WithStack(ErrEnvelopeUnsupported)
	}
	if err := change.validate(); err != nil {
		return nil, err
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("alder.db.collection", collection),
		attribute.Bool("alder.db.modify.envelope", true),
	)

	if q.maxTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.maxTime)
		defer cancel()
	}

	return d.runFindAndModify(ctx, collection, q, change)
}

// runFindAndModify drives the findAndModify command by hand. The
// driver's helpers hide the command envelope, which both the raw path
// and upsert bookkeeping need.
func (d *Database) runFindAndModify(ctx context.Context, collection string, q Q, change Change) (*ModifyEnvelope, error) {
	projection, err := q.projection()
	if err != nil {
		return nil, err
	}

	cmd := bson.D{
		{Key: "findAndModify", Value: collection},
		{Key: "query", Value: notNilFilter(q.assembledFilter())},
	}
	if len(q.sort) > 0 {
		cmd = append(cmd, bson.E{Key: "sort", Value: sortSpec(q.sort)})
	}
	if change.Remove {
		cmd = append(cmd, bson.E{Key: "remove", Value: true})
	} else {
		cmd = append(cmd, bson.E{Key: "update", Value: change.Update})
		if change.Upsert {
			cmd = append(cmd, bson.E{Key: "upsert", Value: true})
		}
		if change.ReturnNew {
			cmd = append(cmd, bson.E{Key: "new", Value: true})
		}
	}
	if projection != nil {
		cmd = append(cmd, bson.E{Key: "fields", Value: projection})
	}

	res := d.db.RunCommand(ctx, cmd)
	if err := res.Err(); err != nil {
		return nil, errors.Wrapf(err, "running findAndModify on collection '%s'", collection)
	}

	envelope := &ModifyEnvelope{}
	if err := res.Decode(envelope); err != nil {
		return nil, errors.Wrap(err, "reading findAndModify reply")
	}
	return envelope, nil
}

func returnDocument(returnNew bool) options.ReturnDocument {
	if returnNew {
		return options.After
	}
	return options.Before
}

func transformDocument(val any) (bson.Raw, error) {
	if val == nil {
		return nil, errors.WithStack(mongo.ErrNilDocument)
	}

	b, err := bson.Marshal(val)
	if err != nil {
		return nil, errors.Wrapf(err, "marshalling document of type '%T'", val)
	}

	return bson.Raw(b), nil
}

func hasDollarKey(doc bson.Raw) bool {
	if elems, err := doc.Elements(); err == nil && len(elems) > 0 {
		return strings.HasPrefix(elems[0].Key(), "$")
	}
	return false
}
