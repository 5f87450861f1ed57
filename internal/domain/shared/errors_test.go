package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Is(t *testing.T) {
	err := NewDomainError(CodeNotFound, "integration not found")
	wrapped := fmt.Errorf("loading: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrInvalidInput))
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := WrapDomainError(CodeExternalService, "SAP unreachable", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrExternalService)
	assert.Equal(t, "SAP unreachable: dial tcp: refused", err.Error())

	var de *DomainError
	assert.True(t, errors.As(fmt.Errorf("x: %w", err), &de))
	assert.Equal(t, CodeExternalService, de.Code)
}

func TestNewPaginated(t *testing.T) {
	p := NewPaginated([]int{1, 2}, 21, 1, 10)
	assert.Equal(t, 3, p.TotalPages)

	p = NewPaginated([]int{}, 0, 1, 0)
	assert.Equal(t, 0, p.TotalPages)
}

func TestFilter_Normalize(t *testing.T) {
	f := Filter{Page: 0, PageSize: 1000, OrderDir: "sideways"}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 200, f.PageSize)
	assert.Equal(t, "desc", f.OrderDir)
	assert.Equal(t, 0, f.Offset())

	f = Filter{Page: 3, PageSize: 20, OrderDir: "asc"}.Normalize()
	assert.Equal(t, 40, f.Offset())
	assert.Equal(t, "asc", f.OrderDir)
}
