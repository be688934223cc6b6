package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestChangeValidation(t *testing.T) {
	for tName, tCase := range map[string]func(t *testing.T){
		"RejectsRemoveWithUpdate": func(t *testing.T) {
			err := Change{Remove: true, Update: bson.M{"$set": bson.M{"a": 1}}}.validate()
			assert.ErrorIs(t, err, ErrRemoveAndUpdate)
		},
		"RejectsRemoveWithReturnNew": func(t *testing.T) {
			err := Change{Remove: true, ReturnNew: true}.validate()
			assert.ErrorIs(t, err, ErrRemoveAndReturnNew)
		},
		"RejectsChangeWithNothingToDo": func(t *testing.T) {
			err := Change{}.validate()
			assert.ErrorIs(t, err, ErrEmptyChange)

			err = Change{Upsert: true}.validate()
			assert.ErrorIs(t, err, ErrEmptyChange)
		},
		"AcceptsPlainRemove": func(t *testing.T) {
			assert.NoError(t, Change{Remove: true}.validate())
		},
		"AcceptsUpdate": func(t *testing.T) {
			assert.NoError(t, Change{Update: bson.M{"$inc": bson.M{"n": 1}}}.validate())
			assert.NoError(t, Change{Update: bson.M{"$inc": bson.M{"n": 1}}, Upsert: true, ReturnNew: true}.validate())
		},
	} {
		t.Run(tName, tCase)
	}
}

func TestFindAndModifyFailsFastOnInvalidChanges(t *testing.T) {
	// Invalid changes are rejected before the database handle is ever
	// touched, so no server is needed.
	d := &Database{caps: CapabilitiesFor(MongoDB60)}

	info, err := d.FindAndModifyQ(t.Context(), "people", Query(nil), Change{Remove: true, Update: bson.M{"a": 1}}, nil)
	assert.ErrorIs(t, err, ErrRemoveAndUpdate)
	assert.Nil(t, info)

	info, err = d.FindAndModifyQ(t.Context(), "people", Query(nil), Change{}, nil)
	assert.ErrorIs(t, err, ErrEmptyChange)
	assert.Nil(t, info)
}

func TestFindAndModifyRawGating(t *testing.T) {
	for tName, tCase := range map[string]func(t *testing.T){
		"ModernTierRefusesTheEnvelope": func(t *testing.T) {
			d := &Database{caps: CapabilitiesFor(MongoDB42)}
			envelope, err := d.FindAndModifyRawQ(t.Context(), "people", Query(nil), Change{Remove: true})
			assert.ErrorIs(t, err, ErrEnvelopeUnsupported)
			assert.Nil(t, envelope)
		},
		"OlderTiersStillValidateTheChange": func(t *testing.T) {
			d := &Database{caps: CapabilitiesFor(MongoDB36)}
			_, err := d.FindAndModifyRawQ(t.Context(), "people", Query(nil), Change{Remove: true, ReturnNew: true})
			assert.ErrorIs(t, err, ErrRemoveAndReturnNew)
		},
	} {
		t.Run(tName, tCase)
	}
}

func TestModifyEnvelopeDocument(t *testing.T) {
	data, err := bson.Marshal(bson.M{"name": "ford"})
	require.NoError(t, err)

	envelope := ModifyEnvelope{Value: bson.RawValue{Type: bson.TypeEmbeddedDocument, Value: data}}
	doc, ok := envelope.Document()
	assert.True(t, ok)
	assert.Equal(t, "ford", doc.Lookup("name").StringValue())

	envelope = ModifyEnvelope{Value: bson.RawValue{Type: bson.TypeNull}}
	_, ok = envelope.Document()
	assert.False(t, ok)

	envelope = ModifyEnvelope{}
	_, ok = envelope.Document()
	assert.False(t, ok)
}

func TestTransformDocument(t *testing.T) {
	for tName, tCase := range map[string]func(t *testing.T){
		"DetectsOperatorDocuments": func(t *testing.T) {
			doc, err := transformDocument(bson.M{"$set": bson.M{"a": 1}})
			require.NoError(t, err)
			assert.True(t, hasDollarKey(doc))
		},
		"DetectsReplacementDocuments": func(t *testing.T) {
			doc, err := transformDocument(bson.M{"a": 1})
			require.NoError(t, err)
			assert.False(t, hasDollarKey(doc))
		},
		"UsesTheFirstKeyOnly": func(t *testing.T) {
			doc, err := transformDocument(bson.D{
				{Key: "a", Value: 1},
				{Key: "$set", Value: bson.M{"b": 2}},
			})
			require.NoError(t, err)
			assert.False(t, hasDollarKey(doc))
		},
		"EmptyDocumentHasNoDollarKey": func(t *testing.T) {
			doc, err := transformDocument(bson.M{})
			require.NoError(t, err)
			assert.False(t, hasDollarKey(doc))
		},
		"RejectsNilDocuments": func(t *testing.T) {
			_, err := transformDocument(nil)
			assert.Error(t, err)
		},
		"TransformsStructs": func(t *testing.T) {
			doc, err := transformDocument(struct {
				Name string `bson:"name"`
			}{Name: "ford"})
			require.NoError(t, err)
			assert.Equal(t, "ford", doc.Lookup("name").StringValue())
		},
	} {
		t.Run(tName, tCase)
	}
}
