package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storesync/internal/core/apperror"
)

func TestParseTopic(t *testing.T) {
	tests := []struct {
		topic   string
		kind    Kind
		verb    Verb
		wantErr bool
	}{
		{"product.updated", KindProduct, VerbUpdated, false},
		{"category.created", KindCategory, VerbCreated, false},
		{"attribute_value.deleted", KindAttributeValue, VerbDeleted, false},
		{"price_list.restored", KindPriceList, VerbRestored, false},
		{"product", "", "", true},
		{"order.updated", "", "", true},
		{"product.exploded", "", "", true},
		{"", "", "", true},
	}

	for _, tc := range tests {
		kind, verb, err := ParseTopic(tc.topic)
		if tc.wantErr {
			require.Error(t, err, "topic %q", tc.topic)
			appErr, ok := apperror.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperror.CodeValidation, appErr.Code)
			continue
		}
		require.NoError(t, err, "topic %q", tc.topic)
		assert.Equal(t, tc.kind, kind)
		assert.Equal(t, tc.verb, verb)
	}
}

func TestKindsOrderTaxonomyFirst(t *testing.T) {
	kinds := Kinds()
	require.Len(t, kinds, 6)
	// Products depend on everything else existing first.
	assert.Equal(t, KindProduct, kinds[len(kinds)-1])
}
