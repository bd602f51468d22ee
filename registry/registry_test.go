package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/types"
)

type FakeVolumeScanner struct {
	alias string
	label string
	scope Scope
}

func (f *FakeVolumeScanner) Alias() string { return f.alias }
func (f *FakeVolumeScanner) Label() string { return f.label }
func (f *FakeVolumeScanner) Scope() Scope  { return f.scope }
func (f *FakeVolumeScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	return nil, nil
}

func newPopulated(t *testing.T) *Registry {
	t.Helper()
	r := New()
	require.NoError(t, r.Register(&FakeVolumeScanner{alias: "ebs", label: "EBS Volumes"}))
	require.NoError(t, r.Register(&FakeVolumeScanner{alias: "ec2", label: "EC2 Instances"}))
	require.NoError(t, r.Register(&FakeVolumeScanner{alias: "iam_roles", label: "IAM Roles", scope: ScopeGlobal}))
	return r
}

func TestRegistry_Register_Validation(t *testing.T) {
	r := New()

	err := r.Register(&FakeVolumeScanner{alias: "", label: "Broken"})
	assert.Error(t, err, "empty alias must be rejected")

	require.NoError(t, r.Register(&FakeVolumeScanner{alias: "ebs", label: "EBS Volumes"}))
	err = r.Register(&FakeVolumeScanner{alias: "ebs", label: "Duplicate"})
	assert.Error(t, err, "duplicate alias must be rejected")
}

func TestRegistry_Register_AfterSeal(t *testing.T) {
	r := newPopulated(t)
	r.Seal()

	err := r.Register(&FakeVolumeScanner{alias: "late", label: "Too Late"})
	assert.Error(t, err)
}

func TestRegistry_Resolve_PriorityOrder(t *testing.T) {
	r := newPopulated(t)
	r.Seal()

	tests := []struct {
		name       string
		identifier string
	}{
		{"by alias", "ec2"},
		{"by label", "EBS Volumes"},
		{"by type name", "fakevolumescanner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := r.Resolve(tt.identifier)
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestRegistry_Resolve_NotFound(t *testing.T) {
	r := newPopulated(t)
	r.Seal()

	_, err := r.Resolve("bogus")
	require.Error(t, err)

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "bogus", notFound.Identifier)
}

func TestRegistry_List_Sorted(t *testing.T) {
	r := newPopulated(t)
	r.Seal()

	assert.Equal(t, []string{"ebs", "ec2", "iam_roles"}, r.List())
}
