package facility

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mappingCSV = `orderingFacilityCode,orderingFacilityName,receivingFacilityCode,receivingFacilityName
100011,Kingston Public Hospital,KPH01,KPH Laboratory
100012, Spanish Town Hospital ,STH01,STH Laboratory
`

func TestLoadAndLookup(t *testing.T) {
	table, err := Load(strings.NewReader(mappingCSV))
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	t.Run("By Code", func(t *testing.T) {
		row, ok := table.Lookup("100011", "")
		require.True(t, ok)
		assert.Equal(t, "KPH01", row.ReceivingCode)
	})

	t.Run("Falls Back To Name", func(t *testing.T) {
		row, ok := table.Lookup("unknown", "spanish town hospital")
		require.True(t, ok)
		assert.Equal(t, "STH Laboratory", row.ReceivingName)
	})

	t.Run("Missing Row", func(t *testing.T) {
		_, ok := table.Lookup("", "")
		assert.False(t, ok)
	})
}

func TestLoadRejectsMalformedRows(t *testing.T) {
	_, err := Load(strings.NewReader("100011,Kingston Public Hospital\n"))
	assert.Error(t, err)
}
