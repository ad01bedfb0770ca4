package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{CreatedOn: time.Date(2025, 3, 1, 9, 30, 0, 1234, time.UTC), ID: uuid.New()}

	parsed, err := ParseCursor(c.Encode())
	require.NoError(t, err)
	require.NotNil(t, parsed)
	assert.True(t, c.CreatedOn.Equal(parsed.CreatedOn))
	assert.Equal(t, c.ID, parsed.ID)
}

func TestParseCursorEmptyIsFirstPage(t *testing.T) {
	parsed, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, parsed)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	_, err := ParseCursor("not-a-cursor!")
	assert.Error(t, err)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, 8, LimitWithBuffer(7))
}

type row struct {
	id uuid.UUID
	at time.Time
}

func TestPaginate(t *testing.T) {
	now := time.Now().UTC()
	rows := []row{{uuid.New(), now}, {uuid.New(), now.Add(-time.Minute)}, {uuid.New(), now.Add(-2 * time.Minute)}}
	key := func(r row) Cursor { return Cursor{CreatedOn: r.at, ID: r.id} }

	page := Paginate(rows, 2, key)
	require.Len(t, page.Items, 2)
	next, err := ParseCursor(page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, rows[1].id, next.ID)

	last := Paginate(rows[2:], 2, key)
	assert.Len(t, last.Items, 1)
	assert.Empty(t, last.NextCursor)

	empty := Paginate([]row(nil), 2, key)
	assert.NotNil(t, empty.Items)
}
