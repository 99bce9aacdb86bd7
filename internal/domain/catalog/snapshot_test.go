package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storesync/internal/core/apperror"
)

func validErpSnap() *ErpSnapshot {
	return &ErpSnapshot{
		Kind:      KindProduct,
		ID:        101,
		Name:      "Desk Lamp",
		Active:    true,
		Published: true,
		WriteTime: time.Now().UTC(),
	}
}

func TestErpSnapshotValidate(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, validErpSnap().Validate(ctx))

	neg := decimal.NewFromInt(-1)
	parent := int64(7)

	tests := []struct {
		name   string
		mutate func(s *ErpSnapshot)
	}{
		{"unknown kind", func(s *ErpSnapshot) { s.Kind = "order" }},
		{"zero id", func(s *ErpSnapshot) { s.ID = 0 }},
		{"empty name", func(s *ErpSnapshot) { s.Name = "" }},
		{"zero write time", func(s *ErpSnapshot) { s.WriteTime = time.Time{} }},
		{"negative price", func(s *ErpSnapshot) { s.ListPrice = &neg }},
		{"attribute value without owner", func(s *ErpSnapshot) {
			s.Kind = KindAttributeValue
			s.ParentID = nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validErpSnap()
			tt.mutate(s)
			err := s.Validate(ctx)
			require.Error(t, err)
			appErr, ok := apperror.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperror.CodeValidation, appErr.Code)
			assert.False(t, appErr.Retryable)
		})
	}

	owned := validErpSnap()
	owned.Kind = KindAttributeValue
	owned.ParentID = &parent
	assert.NoError(t, owned.Validate(ctx))
}

func TestStoreSnapshotValidate(t *testing.T) {
	ctx := context.Background()

	s := &StoreSnapshot{
		Kind:        KindProduct,
		ID:          55,
		Name:        "Desk Lamp",
		Status:      "publish",
		UpdatedTime: time.Now().UTC(),
	}
	require.NoError(t, s.Validate(ctx))

	s.UpdatedTime = time.Time{}
	require.Error(t, s.Validate(ctx))
}

func TestStoreSnapshotPublished(t *testing.T) {
	assert.True(t, (&StoreSnapshot{Status: "publish"}).Published())
	// Kinds without a publication workflow report an empty status.
	assert.True(t, (&StoreSnapshot{Status: ""}).Published())
	assert.False(t, (&StoreSnapshot{Status: "draft"}).Published())
	assert.False(t, (&StoreSnapshot{Status: "private"}).Published())
}
