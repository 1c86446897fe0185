package qdrant

import (
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/docqa/backend/internal/vector"
	"github.com/docqa/backend/pkg/retry"
)

func TestPointIDIsStableUUID(t *testing.T) {
	assert.Equal(t, PointID("a:b:c"), PointID("a:b:c"))
	assert.NotEqual(t, PointID("a:b:c"), PointID("a:b:d"))
	assert.Len(t, PointID("a:b:c"), 36)
}

func TestToPointsStampsNamespaceAndRecordID(t *testing.T) {
	records := []vector.Record{{
		ID:       "ws:d1:c1",
		Vector:   []float32{0.5, 0.5},
		Metadata: vector.ChunkMetadata("other", "d1", "c1", 3, "a.txt"),
	}}

	points := toPoints("ws", records)
	require.Len(t, points, 1)

	p := points[0]
	assert.Equal(t, PointID("ws:d1:c1"), p.GetId().GetUuid())
	assert.Equal(t, "ws", p.GetPayload()[vector.MetaWorkspaceID].GetStringValue())
	assert.Equal(t, "ws:d1:c1", p.GetPayload()[payloadRecordID].GetStringValue())
	assert.Equal(t, "3", p.GetPayload()[vector.MetaIndex].GetStringValue())
	assert.Equal(t, "a.txt", p.GetPayload()[vector.MetaFilename].GetStringValue())
}

func TestFilterForScopesToNamespace(t *testing.T) {
	f := filterFor("ws", vector.Filter{})
	require.Len(t, f.GetMust(), 1)
	match := f.GetMust()[0].GetField()
	assert.Equal(t, vector.MetaWorkspaceID, match.GetKey())
	assert.Equal(t, "ws", match.GetMatch().GetKeyword())

	f = filterFor("ws", vector.Filter{DocumentID: "d1"})
	require.Len(t, f.GetMust(), 2)
	assert.Equal(t, vector.MetaDocumentID, f.GetMust()[1].GetField().GetKey())
	assert.Equal(t, "d1", f.GetMust()[1].GetField().GetMatch().GetKeyword())
}

func TestToMatchRestoresRecordID(t *testing.T) {
	p := &qdrant.ScoredPoint{
		Id:    qdrant.NewID(PointID("ws:d1:c1")),
		Score: 0.87,
		Payload: qdrant.NewValueMap(map[string]any{
			payloadRecordID:       "ws:d1:c1",
			vector.MetaChunkID:    "c1",
			vector.MetaDocumentID: "d1",
			vector.MetaIndex:      int64(3),
		}),
	}

	m := toMatch(p)
	assert.Equal(t, "ws:d1:c1", m.ID)
	assert.Equal(t, "c1", m.Metadata[vector.MetaChunkID])
	assert.Equal(t, "3", m.Metadata[vector.MetaIndex])
	assert.NotContains(t, m.Metadata, payloadRecordID)
	assert.InDelta(t, 0.87, m.Score, 1e-6)
}

func TestToMatchFallsBackToPointID(t *testing.T) {
	m := toMatch(&qdrant.ScoredPoint{Id: qdrant.NewIDNum(42)})
	assert.Equal(t, "42", m.ID)

	m = toMatch(&qdrant.ScoredPoint{Id: qdrant.NewID(PointID("x"))})
	assert.Equal(t, PointID("x"), m.ID)
}

func TestClassifyMarksRequestErrorsPermanent(t *testing.T) {
	assert.True(t, retry.IsPermanent(classify(status.Error(codes.InvalidArgument, "bad vector size"))))
	assert.True(t, retry.IsPermanent(classify(status.Error(codes.NotFound, "no collection"))))
	assert.False(t, retry.IsPermanent(classify(status.Error(codes.Unavailable, "down"))))
	assert.False(t, retry.IsPermanent(classify(errors.New("plain"))))
	assert.NoError(t, classify(nil))
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient(Options{Collection: "chunks"})
	assert.Error(t, err)
}
