package vectorstore

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
)

func TestIsBoundaryPoint(t *testing.T) {
	a := qdrant.NewIDUUID(pointUUID("chunk_0123456789abcdef"))
	b := qdrant.NewIDUUID(pointUUID("chunk_fedcba9876543210"))

	// The scroll offset point opens the next page and must be skipped
	// exactly once; everything else passes through.
	assert.True(t, isBoundaryPoint(a, a))
	assert.False(t, isBoundaryPoint(a, b))
	assert.False(t, isBoundaryPoint(nil, a))
	assert.False(t, isBoundaryPoint(a, nil))
}
