package scanner

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emptyset-io/cloudsweep/registry"
	"github.com/emptyset-io/cloudsweep/session"
	"github.com/emptyset-io/cloudsweep/types"
)

type stubScanner struct {
	alias    string
	scope    registry.Scope
	findings []types.Finding
	err      error
	panics   bool
	regions  []string // regions the scanner observed
}

func (s *stubScanner) Alias() string         { return s.alias }
func (s *stubScanner) Label() string         { return "Stub " + s.alias }
func (s *stubScanner) Scope() registry.Scope { return s.scope }
func (s *stubScanner) Scan(ctx context.Context, sess session.Context) ([]types.Finding, error) {
	if s.panics {
		panic("boom")
	}
	s.regions = append(s.regions, sess.Region())
	return s.findings, s.err
}

func testSession() session.Context {
	return session.NewContext(aws.Config{Region: "us-east-1"}, "111111111111")
}

func TestAccountScanner_ScanResources(t *testing.T) {
	reg := registry.New()
	healthy := &stubScanner{
		alias:    "ebs",
		findings: []types.Finding{{ResourceID: "vol-1", Reason: "Unattached"}},
	}
	require.NoError(t, reg.Register(healthy))
	reg.Seal()

	s := NewAccountScanner(reg)
	results := s.ScanResources(context.Background(), testSession(), "111111111111", "dev",
		[]string{"us-east-1", "eu-west-1"}, []string{"ebs"})

	require.Len(t, results, 2)
	assert.Len(t, results["us-east-1"]["ebs"], 1)
	assert.Len(t, results["eu-west-1"]["ebs"], 1)
	assert.ElementsMatch(t, []string{"us-east-1", "eu-west-1"}, healthy.regions,
		"each region must be scanned with a region-scoped context")
}

func TestAccountScanner_IsolatesFailures(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(&stubScanner{alias: "broken", err: errors.New("api down")}))
	require.NoError(t, reg.Register(&stubScanner{alias: "panicky", panics: true}))
	require.NoError(t, reg.Register(&stubScanner{
		alias:    "ebs",
		findings: []types.Finding{{ResourceID: "vol-1"}},
	}))
	reg.Seal()

	s := NewAccountScanner(reg)
	results := s.ScanResources(context.Background(), testSession(), "111111111111", "dev",
		[]string{"us-east-1"}, []string{"broken", "panicky", "ebs", "unregistered"})

	region := results["us-east-1"]
	require.Len(t, region, 4, "every attempted cell must be present")
	assert.Empty(t, region["broken"])
	assert.Empty(t, region["panicky"])
	assert.Empty(t, region["unregistered"])
	assert.Len(t, region["ebs"], 1, "sibling scanners must still run")

	// Failed cells are recorded, not omitted.
	for _, alias := range []string{"broken", "panicky", "unregistered"} {
		_, attempted := region[alias]
		assert.True(t, attempted)
	}
}

func TestAccountScanner_GlobalRegionKeepsSession(t *testing.T) {
	reg := registry.New()
	global := &stubScanner{alias: "iam_roles", scope: registry.ScopeGlobal}
	require.NoError(t, reg.Register(global))
	reg.Seal()

	s := NewAccountScanner(reg)
	s.ScanResources(context.Background(), testSession(), "111111111111", "dev",
		[]string{types.GlobalRegion}, []string{"iam_roles"})

	require.Len(t, global.regions, 1)
	assert.Equal(t, "us-east-1", global.regions[0],
		"Global tasks reuse the session's own region binding")
}
