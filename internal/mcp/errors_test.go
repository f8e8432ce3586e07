package mcp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moabualruz/rice-search/internal/rserr"
)

func TestMapError(t *testing.T) {
	assert.Nil(t, MapError(nil))

	var mcpErr *Error
	require.ErrorAs(t, MapError(rserr.Validation("bad input")), &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)

	require.ErrorAs(t, MapError(rserr.NotFound(rserr.CodeStoreNotFound, "store", "x")), &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)

	require.ErrorAs(t, MapError(errors.New("boom")), &mcpErr)
	assert.Equal(t, ErrCodeInternalError, mcpErr.Code)
}

func TestJSONResource(t *testing.T) {
	res, err := jsonResource("store://demo/stats", map[string]int{"files": 3})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "store://demo/stats", res.Contents[0].URI)
	assert.Equal(t, "application/json", res.Contents[0].MIMEType)
	assert.Contains(t, res.Contents[0].Text, `"files": 3`)
}
