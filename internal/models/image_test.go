package models_test

import (
	"testing"

	"imagevault/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestImageRecord_Version(t *testing.T) {
	rec := models.ImageRecord{Versions: []models.VersionEntry{
		{VersionID: 1, Filename: "a.png"},
		{VersionID: 2, Filename: "edit_a.png"},
	}}

	v, ok := rec.Version(2)
	assert.True(t, ok)
	assert.Equal(t, "edit_a.png", v.Filename)

	for _, id := range []int{0, -1, 3} {
		_, ok := rec.Version(id)
		assert.False(t, ok, id)
	}
}

func TestImageRecord_CloneIsDeep(t *testing.T) {
	rec := models.ImageRecord{
		Embedding: []float32{1, 2},
		Versions:  []models.VersionEntry{{VersionID: 1}},
	}

	c := rec.Clone()
	c.Embedding[0] = 9
	c.Versions[0].Note = "changed"

	assert.Equal(t, float32(1), rec.Embedding[0])
	assert.Empty(t, rec.Versions[0].Note)
	assert.Nil(t, models.ImageRecord{}.Clone().Embedding)
}
