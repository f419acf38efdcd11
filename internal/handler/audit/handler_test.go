package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	from, err := parseDate("2024-05-10", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), *from)

	to, err := parseDate("2024-05-10", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 10, 23, 59, 59, 999999000, time.UTC), *to)
	assert.Equal(t, *to, to.Truncate(time.Microsecond))
	assert.True(t, to.Before(time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC)))

	exact, err := parseDate("2024-05-10T12:30:00Z", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 10, 12, 30, 0, 0, time.UTC), *exact)

	none, err := parseDate("", true)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = parseDate("10/05/2024", false)
	assert.Error(t, err)
}
