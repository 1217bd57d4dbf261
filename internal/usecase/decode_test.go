package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myroom/internal/domain"
)

func TestDecode_SingleValue(t *testing.T) {
	var msg domain.DeleteRequest
	require.NoError(t, decode("delete", []byte(`{"catalog_ids":[1]}`+"\n  "), &msg))
	assert.Equal(t, []int64{1}, msg.CatalogIDs)
}

func TestDecode_RejectsTrailingData(t *testing.T) {
	for name, body := range map[string]string{
		"garbage":      `{"catalog_ids":[1]} garbage`,
		"second value": `{"catalog_ids":[1]}{"catalog_ids":[2]}`,
		"array after":  `{"catalog_ids":[1]} []`,
	} {
		t.Run(name, func(t *testing.T) {
			var msg domain.DeleteRequest
			err := decode("delete", []byte(body), &msg)
			require.Error(t, err)
			assert.Equal(t, domain.ClassValidation, domain.ClassOf(err))
		})
	}
}

func TestDecodeGenerationRequest_RejectsTrailingData(t *testing.T) {
	_, err := DecodeGenerationRequest([]byte(`{"source_image_url":"http://x/a.jpg","owner_id":1,"catalog_id":2} trailing`))
	assert.Equal(t, domain.ClassValidation, domain.ClassOf(err))
}
