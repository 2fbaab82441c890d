package mystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type record struct {
	UID       string
	Name      string
	Published bool
	CreatedAt time.Time
}

var (
	exampleRecord = record{UID: "123", Name: "first", CreatedAt: time.Date(2023, time.February, 27, 12, 0, 0, 0, time.UTC)}
)

func TestStore(t *testing.T) {
	c := context.TODO()
	rs, cleanup, err := NewInMemoryStore[record](c)
	assert.NoError(t, err)
	defer cleanup()

	t.Run("Get not found", func(t *testing.T) {
		_, found, err := rs.Get(c, exampleRecord.UID)
		assert.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Put", func(t *testing.T) {
		err = rs.Put(c, exampleRecord.UID, exampleRecord)
		assert.NoError(t, err)
	})

	t.Run("Get found", func(t *testing.T) {
		r, found, err := rs.Get(c, exampleRecord.UID)
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, exampleRecord, r)
	})

	t.Run("List", func(t *testing.T) {
		all, err := rs.List(c)
		assert.NoError(t, err)
		assert.Equal(t, []record{exampleRecord}, all)
	})

	t.Run("Query on equality with ordering", func(t *testing.T) {
		second := record{UID: "456", Name: "second", Published: true, CreatedAt: exampleRecord.CreatedAt.Add(time.Hour)}
		third := record{UID: "789", Name: "third", CreatedAt: exampleRecord.CreatedAt.Add(2 * time.Hour)}
		assert.NoError(t, rs.Put(c, second.UID, second))
		assert.NoError(t, rs.Put(c, third.UID, third))

		got, err := rs.Query(c, []Filter{{Field: "Published", Compare: "=", Value: false}}, "CreatedAt")
		assert.NoError(t, err)
		assert.Equal(t, []record{exampleRecord, third}, got)
	})

	t.Run("Delete", func(t *testing.T) {
		err := rs.Delete(c, exampleRecord.UID)
		assert.NoError(t, err)

		_, found, err := rs.Get(c, exampleRecord.UID)
		assert.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Error aborts transaction", func(t *testing.T) {
		err := rs.RunInTransaction(c, func(c context.Context) error {
			return assert.AnError
		})
		assert.Error(t, err)
	})
}
