package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestFieldListMerge(t *testing.T) {
	for tName, tCase := range map[string]func(t *testing.T){
		"EmptyListSelectsEverything": func(t *testing.T) {
			fl := NewFieldList()
			assert.True(t, fl.Empty())
			assert.Nil(t, fl.Projection())
		},
		"AlwaysIncludeAloneIsStillEmpty": func(t *testing.T) {
			fl := NewFieldList("_cls")
			assert.True(t, fl.Empty())
			assert.Nil(t, fl.Projection())
		},
		"IncludePlusIncludeUnions": func(t *testing.T) {
			fl := NewFieldList().Only("a", "b")
			assert.Equal(t, bson.M{"a": 1, "b": 1}, fl.Projection())

			fl = fl.Select(IncludeField("b"), IncludeField("c"))
			assert.Equal(t, bson.M{"a": 1, "b": 1, "c": 1}, fl.Projection())
		},
		"OnlyAfterPlainIncludesReplaces": func(t *testing.T) {
			fl := NewFieldList().Select(
				IncludeField("a"),
				IncludeField("b"),
				IncludeField("c"),
				IncludeField("d"),
				IncludeField("e"),
			)
			fl = fl.Only("b", "c")
			assert.Equal(t, bson.M{"b": 1, "c": 1}, fl.Projection())
		},
		"OnlyAfterOnlyUnions": func(t *testing.T) {
			fl := NewFieldList().Only("b", "c").Only("a")
			assert.Equal(t, bson.M{"a": 1, "b": 1, "c": 1}, fl.Projection())
		},
		"IncludePlusExcludeSubtracts": func(t *testing.T) {
			fl := NewFieldList().Only("a", "b").Exclude("b", "c")
			assert.Equal(t, bson.M{"a": 1}, fl.Projection())
		},
		"ExcludePlusExcludeUnions": func(t *testing.T) {
			fl := NewFieldList().Exclude("a", "b").Exclude("b", "c")
			assert.Equal(t, bson.M{"a": 0, "b": 0, "c": 0}, fl.Projection())
		},
		"ExcludePlusIncludeKeepsOnlyNeverExcluded": func(t *testing.T) {
			fl := NewFieldList().Exclude("a", "b")
			assert.Equal(t, bson.M{"a": 0, "b": 0}, fl.Projection())

			fl = fl.Only("b", "c")
			assert.Equal(t, bson.M{"c": 1}, fl.Projection())
		},
		"ExcludingEveryIncludedFieldSendsNothing": func(t *testing.T) {
			fl := NewFieldList().Only("a").Exclude("a")
			assert.Nil(t, fl.Projection())
			assert.False(t, fl.Empty())
		},
		"AlwaysIncludeJoinsIncludeProjections": func(t *testing.T) {
			fl := NewFieldList("x", "y").Exclude("a", "b", "x").Only("b", "c")
			assert.Equal(t, bson.M{"x": 1, "y": 1, "c": 1}, fl.Projection())
		},
		"AlwaysIncludeCannotBeExcluded": func(t *testing.T) {
			fl := NewFieldList("x").Exclude("a", "x")
			assert.Equal(t, bson.M{"a": 0}, fl.Projection())
		},
		"ResetKeepsAlwaysInclude": func(t *testing.T) {
			fl := NewFieldList("x", "y").Exclude("a", "b", "x").Only("b", "c")
			assert.Equal(t, bson.M{"x": 1, "y": 1, "c": 1}, fl.Projection())

			fl = fl.Reset()
			assert.True(t, fl.Empty())

			fl = fl.Only("b", "c")
			assert.Equal(t, bson.M{"x": 1, "y": 1, "b": 1, "c": 1}, fl.Projection())
		},
		"DirectivesDoNotMutateTheReceiver": func(t *testing.T) {
			base := NewFieldList().Only("a")
			derived := base.Exclude("a")

			assert.Equal(t, bson.M{"a": 1}, base.Projection())
			assert.Nil(t, derived.Projection())
		},
	} {
		t.Run(tName, tCase)
	}
}

func TestFieldListSlices(t *testing.T) {
	for tName, tCase := range map[string]func(t *testing.T){
		"SliceAloneProjectsJustTheSlice": func(t *testing.T) {
			fl := NewFieldList().Slice("a", 5)
			assert.Equal(t, bson.M{"a": bson.M{"$slice": 5}}, fl.Projection())
			assert.False(t, fl.Empty())
		},
		"SliceRangeRendersSkipAndLimit": func(t *testing.T) {
			fl := NewFieldList().SliceRange("a", 5, 1)
			assert.Equal(t, bson.M{"a": bson.M{"$slice": bson.A{5, 1}}}, fl.Projection())
		},
		"RepeatedSlicesOverwrite": func(t *testing.T) {
			fl := NewFieldList().Slice("a", 5).Slice("a", 10)
			assert.Equal(t, bson.M{"a": bson.M{"$slice": 10}}, fl.Projection())
		},
		"SliceOverridesTheIncludeEntryForItsField": func(t *testing.T) {
			fl := NewFieldList().
				Select(IncludeField("a"), IncludeField("b"), IncludeField("c"), IncludeField("d"), IncludeField("e")).
				Exclude("d", "e").
				Only("b", "c").
				Slice("b", 5)
			assert.Equal(t, bson.M{"b": bson.M{"$slice": 5}, "c": 1}, fl.Projection())

			fl = fl.SliceRange("c", 5, 1)
			assert.Equal(t, bson.M{
				"b": bson.M{"$slice": 5},
				"c": bson.M{"$slice": bson.A{5, 1}},
			}, fl.Projection())

			fl = fl.Exclude("c")
			assert.Equal(t, bson.M{"b": bson.M{"$slice": 5}}, fl.Projection())
		},
		"MixedSelectAppliesExcludesIncludesThenSlices": func(t *testing.T) {
			fl := NewFieldList().Select(
				IncludeField("a"),
				ExcludeField("b"),
				SliceField("c", 2),
			)
			assert.Equal(t, bson.M{"a": 1, "c": bson.M{"$slice": 2}}, fl.Projection())
		},
		"SliceSurvivesAnUnrelatedModeFlip": func(t *testing.T) {
			fl := NewFieldList().Slice("a", 5).Exclude("b")
			assert.Equal(t, bson.M{"b": 0, "a": bson.M{"$slice": 5}}, fl.Projection())
		},
		"SliceDroppedWhenItsOwnFieldIsExcluded": func(t *testing.T) {
			fl := NewFieldList().Slice("a", 5).Exclude("a")
			assert.Equal(t, bson.M{"a": 0}, fl.Projection())
		},
		"SliceRidesOnTopOfAnIncludeSetWithoutItsField": func(t *testing.T) {
			fl := NewFieldList().Slice("a", 5).Only("b")
			assert.Equal(t, bson.M{"b": 1, "a": bson.M{"$slice": 5}}, fl.Projection())
		},
		"SliceOnAnAlwaysIncludedFieldOutlivesItsExclusion": func(t *testing.T) {
			fl := NewFieldList("x").Slice("x", 3).Exclude("x")
			assert.Equal(t, bson.M{"x": bson.M{"$slice": 3}}, fl.Projection())
		},
	} {
		t.Run(tName, tCase)
	}
}

func TestFieldListIDHandling(t *testing.T) {
	for tName, tCase := range map[string]func(t *testing.T){
		"ExcludingIDProjectsZero": func(t *testing.T) {
			fl := NewFieldList().Exclude("_id")
			assert.Equal(t, bson.M{"_id": 0}, fl.Projection())
		},
		"IDDirectiveSurvivesModeFlip": func(t *testing.T) {
			fl := NewFieldList().Exclude("_id").Only("a")
			assert.Equal(t, bson.M{"a": 1, "_id": 0}, fl.Projection())
		},
		"IncludingIDKeepsItThroughExcludes": func(t *testing.T) {
			fl := NewFieldList().Only("_id", "a").Exclude("b")
			assert.Equal(t, bson.M{"_id": 1, "a": 1}, fl.Projection())
		},
		"ResetClearsTheIDDirective": func(t *testing.T) {
			fl := NewFieldList().Exclude("_id").Reset()
			assert.Nil(t, fl.Projection())
		},
	} {
		t.Run(tName, tCase)
	}
}
