package storemanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memstore "github.com/marmos91/turbocache/pkg/store/memory"
)

func TestRegisterAndGet(t *testing.T) {
	m := New()
	s := memstore.New(0)
	m.Register("CAS", s)

	got, err := m.Get("CAS")
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestGetUnknownNameErrors(t *testing.T) {
	m := New()
	_, err := m.Get("missing")
	assert.Error(t, err)
}

func TestNamesListsEverythingRegistered(t *testing.T) {
	m := New()
	m.Register("CAS", memstore.New(0))
	m.Register("AC", memstore.New(0))

	assert.ElementsMatch(t, []string{"CAS", "AC"}, m.Names())
}
