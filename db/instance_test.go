package db_test

import (
	"testing"

	"github.com/alderdb/alder/db"
	"github.com/alderdb/alder/schema"
	"github.com/alderdb/alder/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

const eventCollection = "test_events"

type baseEvent struct {
	Id   string `bson:"_id"`
	Cls  string `bson:"_cls,omitempty"`
	Kind string `bson:"kind,omitempty"`
}

type clickEvent struct {
	baseEvent `bson:",inline"`
	Target    string `bson:"target,omitempty"`
	PageViews int    `bson:"page_views,omitempty"`
}

// eventSchemas declares a two-type hierarchy discriminated by _cls,
// with one field stored under a different name than callers use.
func eventSchemas() (base, click *schema.DocumentSchema) {
	base = schema.NewDocument("Event").
		WithDiscriminator("_cls").
		AddField("id", "_id").
		AddField("kind", "kind").
		WithFactory(func() any { return &baseEvent{} })
	click = base.Subclass("Event.Click").
		AddField("target", "target").
		AddField("pageViews", "page_views").
		WithFactory(func() any { return &clickEvent{} })
	return base, click
}

func TestSchemaBoundQueries(t *testing.T) {
	ctx := testutil.TestSpan(t.Context(), t)
	env := testutil.NewEnvironment(ctx, t)
	d := env.DB()

	base, click := eventSchemas()

	testutil.ClearCollections(ctx, t, d, eventCollection)
	require.NoError(t, d.InsertMany(ctx, eventCollection,
		baseEvent{Id: "e1", Cls: "Event", Kind: "generic"},
		clickEvent{baseEvent: baseEvent{Id: "e2", Cls: "Event.Click", Kind: "click"}, Target: "signup", PageViews: 4},
		clickEvent{baseEvent: baseEvent{Id: "e3", Cls: "Event.Click", Kind: "click"}, Target: "checkout", PageViews: 9},
		baseEvent{Id: "e4", Kind: "untyped"},
	))

	t.Run("BaseSchemaMatchesTheWholeHierarchy", func(t *testing.T) {
		docs, err := d.FindAllInstancesQ(ctx, eventCollection, db.Query(nil).WithSchema(base).Sort("_id"))
		require.NoError(t, err)
		require.Len(t, docs, 3)

		assert.IsType(t, &baseEvent{}, docs[0])
		assert.IsType(t, &clickEvent{}, docs[1])
		assert.IsType(t, &clickEvent{}, docs[2])
		assert.Equal(t, "signup", docs[1].(*clickEvent).Target)
	})
	t.Run("SubclassSchemaMatchesOnlyItself", func(t *testing.T) {
		docs, err := d.FindAllInstancesQ(ctx, eventCollection, db.Query(nil).WithSchema(click).Sort("_id"))
		require.NoError(t, err)
		require.Len(t, docs, 2)
		for _, doc := range docs {
			assert.IsType(t, &clickEvent{}, doc)
		}
	})
	t.Run("ExplicitDiscriminatorFilterWins", func(t *testing.T) {
		q := db.Query(bson.M{"_cls": "Event"}).WithSchema(base)
		docs, err := d.FindAllInstancesQ(ctx, eventCollection, q)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "e1", docs[0].(*baseEvent).Id)
	})
	t.Run("DeclaredNamesResolveToStorageNames", func(t *testing.T) {
		q := db.Query(bson.M{"_id": "e3"}).WithSchema(click).Only("pageViews")
		doc, err := d.FindOneInstanceQ(ctx, eventCollection, q)
		require.NoError(t, err)

		clicked, ok := doc.(*clickEvent)
		require.True(t, ok)
		assert.Equal(t, 9, clicked.PageViews)
		// projected away, not just empty in storage
		assert.Empty(t, clicked.Target)
		assert.Empty(t, clicked.Kind)
	})
	t.Run("ProjectionsCarryTheDiscriminator", func(t *testing.T) {
		docs, err := d.FindAllInstancesQ(ctx, eventCollection, db.Query(nil).WithSchema(base).Only("kind").Sort("_id"))
		require.NoError(t, err)
		require.Len(t, docs, 3)
		// the discriminator rode along, so subclass documents still
		// decode into their concrete type
		assert.IsType(t, &clickEvent{}, docs[1])
		assert.Equal(t, "click", docs[1].(*clickEvent).Kind)
		assert.Empty(t, docs[1].(*clickEvent).Target)
	})
	t.Run("UnknownFieldFailsBeforeTheServer", func(t *testing.T) {
		q := db.Query(nil).WithSchema(base).Only("DOES-NOT-EXIST")
		_, err := d.FindAllInstancesQ(ctx, eventCollection, q)
		require.Error(t, err)
		assert.True(t, schema.IsFieldLookup(err))
	})
	t.Run("SchemalessInstanceQueriesAreRejected", func(t *testing.T) {
		_, err := d.FindOneInstanceQ(ctx, eventCollection, db.Query(nil))
		assert.Error(t, err)
		_, err = d.FindAllInstancesQ(ctx, eventCollection, db.Query(nil))
		assert.Error(t, err)
	})
}

func TestSchemaWithoutInheritance(t *testing.T) {
	ctx := testutil.TestSpan(t.Context(), t)
	env := testutil.NewEnvironment(ctx, t)
	d := env.DB()

	plain := schema.NewDocument("Note").
		AddField("id", "_id").
		AddField("owner", "owner").
		AddField("rank", "rank").
		WithFactory(func() any { return &note{} })

	setupNotes(ctx, t, d,
		note{Id: "n1", Owner: "ursula", Rank: 1},
		note{Id: "n2", Owner: "vic", Rank: 2},
	)

	// no discriminator, so the filter is passed through untouched and
	// every document decodes as the base type
	docs, err := d.FindAllInstancesQ(ctx, noteCollection, db.Query(nil).WithSchema(plain).Sort("rank"))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "ursula", docs[0].(*note).Owner)

	doc, err := d.FindOneInstanceQ(ctx, noteCollection, db.Query(bson.M{"_id": "n2"}).WithSchema(plain))
	require.NoError(t, err)
	assert.Equal(t, "vic", doc.(*note).Owner)
}
