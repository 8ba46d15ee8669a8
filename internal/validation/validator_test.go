package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cjerrors "crewjob/internal/errors"
)

type autoJobBody struct {
	JobID    string `json:"job_id" validate:"required,max=64"`
	Category string `json:"category" validate:"required,category"`
}

type crewBody struct {
	MemberIDs []string `json:"member_ids" validate:"required,min=1,dive,required"`
}

func TestValidate_OK(t *testing.T) {
	v := New()
	assert.NoError(t, v.Validate(autoJobBody{JobID: "courier", Category: "solo"}))
	assert.NoError(t, v.Validate(crewBody{MemberIDs: []string{"a", "b"}}))
}

func TestValidate_DetailsUseJSONNames(t *testing.T) {
	v := New()
	err := v.Validate(autoJobBody{Category: "raid"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cjerrors.ErrValidation)

	var ce *cjerrors.Error
	require.ErrorAs(t, err, &ce)
	details, ok := ce.Details.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["job_id"])
	assert.Equal(t, "must be solo or party", details["category"])
}

func TestValidate_EmptyMemberList(t *testing.T) {
	v := New()
	err := v.Validate(crewBody{})
	assert.ErrorIs(t, err, cjerrors.ErrValidation)

	err = v.Validate(crewBody{MemberIDs: []string{"a", ""}})
	var ce *cjerrors.Error
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Details.(map[string]string), "member_ids[1]")
}
