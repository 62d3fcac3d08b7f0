package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendContextFields_Enrichment(t *testing.T) {
	ctx := context.Background()
	ctx = context.WithValue(ctx, CorrelationIDKey, "cid-1")
	ctx = WithPeer(ctx, "peer-1")
	ctx = WithRoom(ctx, "room-1")

	fields := appendContextFields(ctx, nil)

	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	assert.ElementsMatch(t, []string{"correlation_id", "peer_id", "room_id", "service"}, keys)
}

func TestAppendContextFields_NilContext(t *testing.T) {
	assert.Empty(t, appendContextFields(nil, nil))
}

func TestGetLogger_BeforeInitialize(t *testing.T) {
	assert.NotNil(t, GetLogger())
}
