package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Version is a server release identified by its first two version
// components.
type Version struct {
	Major int
	Minor int
}

// Server releases with behavior differences this layer cares about.
var (
	MongoDB34 = Version{3, 4}
	MongoDB36 = Version{3, 6}
	MongoDB42 = Version{4, 2}
	MongoDB44 = Version{4, 4}
	MongoDB50 = Version{5, 0}
	MongoDB60 = Version{6, 0}
	MongoDB70 = Version{7, 0}
)

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// AtLeast reports whether v is other or newer.
func (v Version) AtLeast(other Version) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	return v.Minor >= other.Minor
}

// Before reports whether v predates other.
func (v Version) Before(other Version) bool { return !v.AtLeast(other) }

// CapabilityTier buckets server generations into the behavior classes
// the operation paths switch on. The tier is computed exactly once per
// connection; individual operations never re-inspect the server.
type CapabilityTier int

const (
	// TierLegacy serves deployments older than 3.6.
	TierLegacy CapabilityTier = iota
	// TierStable serves 3.6 through 4.0.
	TierStable
	// TierModern serves 4.2 and newer.
	TierModern
)

func (t CapabilityTier) String() string {
	switch t {
	case TierLegacy:
		return "legacy"
	case TierStable:
		return "stable"
	case TierModern:
		return "modern"
	default:
		return "unknown"
	}
}

// Capabilities records the server release and the strategy tier chosen
// for it.
type Capabilities struct {
	Server Version
	Tier   CapabilityTier
}

// CapabilitiesFor maps a server release to its tier.
func CapabilitiesFor(v Version) Capabilities {
	caps := Capabilities{Server: v}
	switch {
	case v.AtLeast(MongoDB42):
		caps.Tier = TierModern
	case v.AtLeast(MongoDB36):
		caps.Tier = TierStable
	default:
		caps.Tier = TierLegacy
	}
	return caps
}

// LegacyCountFallback reports whether rejected count queries may be
// retried through the legacy count command.
func (c Capabilities) LegacyCountFallback() bool { return c.Tier != TierModern }

// ModifyEnvelope reports whether find-and-modify may return its raw
// command envelope to callers.
func (c Capabilities) ModifyEnvelope() bool { return c.Tier != TierModern }

// LegacyCollectionNames reports whether collection listing must drive
// the listCollections command by hand.
func (c Capabilities) LegacyCollectionNames() bool { return c.Tier == TierLegacy }

// DetectCapabilities asks the deployment for its release and fixes the
// capability tier for the life of the connection.
func DetectCapabilities(ctx context.Context, client *mongo.Client) (Capabilities, error) {
	res := client.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}})
	if err := res.Err(); err != nil {
		return Capabilities{}, errors.Wrap(err, "requesting server build info")
	}

	info := struct {
		VersionArray []int `bson:"versionArray"`
	}{}
	if err := res.Decode(&info); err != nil {
		return Capabilities{}, errors.Wrap(err, "reading server build info")
	}
	if len(info.VersionArray) < 2 {
		return Capabilities{}, errors.Errorf("server reported malformed version array %v", info.VersionArray)
	}

	return CapabilitiesFor(Version{Major: info.VersionArray[0], Minor: info.VersionArray[1]}), nil
}

// Operator rejections that older deployments raise for count queries
// executed as aggregations. Only these exact complaints are eligible
// for the legacy fallback.
var legacyCountMessages = []string{
	"$geoNear, $near, and $nearSphere are not allowed in this context",
	"$where is not allowed in this context",
}

func isCountOperatorRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, rejection := range legacyCountMessages {
		if strings.Contains(msg, rejection) {
			return true
		}
	}
	return false
}

// CountOptions adjusts how documents are counted. A non-nil Limit of
// zero answers zero immediately without contacting the server.
type CountOptions struct {
	Skip      int
	Limit     *int
	Hint      any
	Collation *options.Collation
	MaxTime   time.Duration
}

// onlyMaxTime reports whether the options leave the estimated-count
// strategy available.
func (o CountOptions) onlyMaxTime() bool {
	return o.Skip == 0 && o.Limit == nil && o.Hint == nil && o.Collation == nil
}

// Count counts the documents matching filter. Unrestricted counts
// outside of any session are answered from collection metadata;
// everything else runs an exact count, falling back to the legacy
// count command on older tiers when the server rejects an operator the
// exact count cannot serve.
func (d *Database) Count(ctx context.Context, collection string, filter any, opts CountOptions) (int, error) {
	if opts.Limit != nil && *opts.Limit == 0 {
		return 0, nil
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("alder.db.collection", collection),
	)

	if emptyFilter(filter) && opts.onlyMaxTime() && mongo.SessionFromContext(ctx) == nil {
		return d.EstimatedCount(ctx, collection, opts.MaxTime)
	}

	countOpts := options.Count()
	if opts.Skip > 0 {
		countOpts.SetSkip(int64(opts.Skip))
	}
	if opts.Limit != nil {
		countOpts.SetLimit(int64(*opts.Limit))
	}
	if opts.Hint != nil {
		countOpts.SetHint(opts.Hint)
	}
	if opts.Collation != nil {
		countOpts.SetCollation(opts.Collation)
	}
	if opts.MaxTime > 0 {
		countOpts.SetMaxTime(opts.MaxTime)
	}

	n, err := d.collection(collection).CountDocuments(ctx, notNilFilter(filter), countOpts)
	if err != nil {
		if d.caps.LegacyCountFallback() && isCountOperatorRejection(err) {
			grip.Debug(message.Fields{
				"message":    "falling back to legacy count command",
				"collection": collection,
				"database":   d.Name(),
				"cause":      err.Error(),
			})
			trace.SpanFromContext(ctx).SetAttributes(
				attribute.Bool("alder.db.count.fallback", true),
			)
			return d.legacyCount(ctx, collection, filter, opts)
		}
		return 0, errors.Wrapf(err, "counting documents in collection '%s'", collection)
	}
	return int(n), nil
}

// EstimatedCount answers a whole-collection count from collection
// metadata without scanning documents.
func (d *Database) EstimatedCount(ctx context.Context, collection string, maxTime time.Duration) (int, error) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Bool("alder.db.count.estimated", true),
	)

	opts := options.EstimatedDocumentCount()
	if maxTime > 0 {
		opts.SetMaxTime(maxTime)
	}
	n, err := d.collection(collection).EstimatedDocumentCount(ctx, opts)
	if err != nil {
		return 0, errors.Wrapf(err, "estimating document count for collection '%s'", collection)
	}
	return int(n), nil
}

func (d *Database) legacyCount(ctx context.Context, collection string, filter any, opts CountOptions) (int, error) {
	cmd := bson.D{
		{Key: "count", Value: collection},
		{Key: "query", Value: notNilFilter(filter)},
	}
	if opts.Skip > 0 {
		cmd = append(cmd, bson.E{Key: "skip", Value: opts.Skip})
	}
	if opts.Limit != nil {
		cmd = append(cmd, bson.E{Key: "limit", Value: *opts.Limit})
	}
	if opts.Hint != nil {
		cmd = append(cmd, bson.E{Key: "hint", Value: opts.Hint})
	}
	if opts.Collation != nil {
		cmd = append(cmd, bson.E{Key: "collation", Value: opts.Collation})
	}
	if opts.MaxTime > 0 {
		cmd = append(cmd, bson.E{Key: "maxTimeMS", Value: opts.MaxTime.Milliseconds()})
	}

	res := d.db.RunCommand(ctx, cmd)
	if err := res.Err(); err != nil {
		return 0, errors.Wrapf(err, "running legacy count on collection '%s'", collection)
	}
	out := struct {
		N int `bson:"n"`
	}{}
	if err := res.Decode(&out); err != nil {
		return 0, errors.Wrap(err, "reading legacy count reply")
	}
	return out.N, nil
}

func emptyFilter(filter any) bool {
	switch f := filter.(type) {
	case nil:
		return true
	case bson.M:
		return len(f) == 0
	case bson.D:
		return len(f) == 0
	case map[string]any:
		return len(f) == 0
	}
	return false
}

// CollectionNames lists the database's collections. Internal
// "system."-prefixed namespaces are dropped unless includeSystem is
// set. The legacy tier drives the listCollections cursor by hand;
// newer tiers use the driver's name listing.
func (d *Database) CollectionNames(ctx context.Context, includeSystem bool) ([]string, error) {
	var names []string
	var err error
	if d.caps.LegacyCollectionNames() {
		names, err = d.legacyCollectionNames(ctx)
	} else {
		names, err = d.db.ListCollectionNames(ctx, bson.D{})
	}
	if err != nil {
		return nil, errors.Wrapf(err, "listing collections in database '%s'", d.Name())
	}

	if includeSystem {
		return names, nil
	}
	filtered := make([]string, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		filtered = append(filtered, name)
	}
	return filtered, nil
}

func (d *Database) legacyCollectionNames(ctx context.Context) ([]string, error) {
	res := d.db.RunCommand(ctx, bson.D{
		{Key: "listCollections", Value: 1},
		{Key: "nameOnly", Value: true},
	})
	if err := res.Err(); err != nil {
		return nil, errors.Wrap(err, "running listCollections")
	}

	reply := struct {
		Cursor struct {
			ID         int64 `bson:"id"`
			FirstBatch []struct {
				Name string `bson:"name"`
			} `bson:"firstBatch"`
		} `bson:"cursor"`
	}{}
	if err := res.Decode(&reply); err != nil {
		return nil, errors.Wrap(err, "reading listCollections reply")
	}

	names := make([]string, 0, len(reply.Cursor.FirstBatch))
	for _, c := range reply.Cursor.FirstBatch {
		names = append(names, c.Name)
	}

	cursorID := reply.Cursor.ID
	for cursorID != 0 {
		more := d.db.RunCommand(ctx, bson.D{
			{Key: "getMore", Value: cursorID},
			{Key: "collection", Value: "$cmd.listCollections"},
		})
		if err := more.Err(); err != nil {
			return nil, errors.Wrap(err, "draining listCollections cursor")
		}
		batch := struct {
			Cursor struct {
				ID        int64 `bson:"id"`
				NextBatch []struct {
					Name string `bson:"name"`
				} `bson:"nextBatch"`
			} `bson:"cursor"`
		}{}
		if err := more.Decode(&batch); err != nil {
			return nil, errors.Wrap(err, "reading listCollections batch")
		}
		for _, c := range batch.Cursor.NextBatch {
			names = append(names, c.Name)
		}
		cursorID = batch.Cursor.ID
	}

	return names, nil
}
