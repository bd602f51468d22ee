package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emptyset-io/cloudsweep/types"
)

const suppressS3Policy = `package cloudsweep
import rego.v1

suppress if input.finding.resource_type == "S3 Buckets"

suppress if input.account == "999999999999"
`

func TestSuppressor(t *testing.T) {
	ctx := context.Background()
	suppressor, err := New(ctx, "test.rego", suppressS3Policy)
	require.NoError(t, err)

	s3Finding := types.Finding{ResourceID: "arn:aws:s3:::b", ResourceType: "S3 Buckets", AccountID: "111111111111"}
	ec2Finding := types.Finding{ResourceID: "i-1", ResourceType: "EC2 Instances", AccountID: "111111111111"}
	sandboxFinding := types.Finding{ResourceID: "vol-1", ResourceType: "EBS Volumes", AccountID: "999999999999"}

	assert.True(t, suppressor.Suppressed(ctx, s3Finding))
	assert.False(t, suppressor.Suppressed(ctx, ec2Finding))
	assert.True(t, suppressor.Suppressed(ctx, sandboxFinding), "account-level suppression")
}

func TestSuppressor_Apply(t *testing.T) {
	ctx := context.Background()
	suppressor, err := New(ctx, "test.rego", suppressS3Policy)
	require.NoError(t, err)

	reports := []types.AccountReport{{
		AccountID: "111111111111",
		Results: map[string]types.RegionResults{
			"us-east-1": {
				"s3":  {{ResourceID: "arn:aws:s3:::b", ResourceType: "S3 Buckets", AccountID: "111111111111"}},
				"ec2": {{ResourceID: "i-1", ResourceType: "EC2 Instances", AccountID: "111111111111"}},
			},
		},
	}}

	filtered := suppressor.Apply(ctx, reports)

	require.Len(t, filtered, 1)
	cells := filtered[0].Results["us-east-1"]
	assert.Empty(t, cells["s3"], "suppressed cell stays present but empty")
	assert.Len(t, cells["ec2"], 1)
}

func TestNew_InvalidPolicy(t *testing.T) {
	_, err := New(context.Background(), "bad.rego", "this is not rego")
	assert.Error(t, err)
}
