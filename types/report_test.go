package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountReport_Empty(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]RegionResults
		want    bool
	}{
		{
			name:    "no regions",
			results: map[string]RegionResults{},
			want:    true,
		},
		{
			name: "attempted but clean",
			results: map[string]RegionResults{
				"us-east-1": {"ec2": {}},
			},
			want: true,
		},
		{
			name: "one finding",
			results: map[string]RegionResults{
				"us-east-1": {"ec2": {}},
				"eu-west-1": {
					"ebs": {{ResourceID: "vol-123", Reason: "Unattached"}},
				},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := AccountReport{AccountID: "111111111111", Results: tt.results}
			assert.Equal(t, tt.want, report.Empty())
		})
	}
}
