package cost

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const priceDoc = `{
	"terms": {
		"OnDemand": {
			"T1": {
				"priceDimensions": {
					"D1": {"pricePerUnit": {"USD": "0.0464"}}
				}
			}
		}
	}
}`

type mockPricing struct {
	calls     int
	priceList []string
	err       error
}

func (m *mockPricing) GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &pricing.GetProductsOutput{PriceList: m.priceList}, nil
}

func TestEstimate_Breakdown(t *testing.T) {
	client := &mockPricing{priceList: []string{priceDoc}}
	est := NewEstimatorWithClient(client)
	defer est.Close()

	breakdown, err := est.Estimate(context.Background(), "EC2", "t3.medium", 100)
	require.NoError(t, err)

	assert.InDelta(t, 0.0464, breakdown.Hourly, 1e-9)
	assert.InDelta(t, 0.0464*24, breakdown.Daily, 1e-9)
	assert.InDelta(t, 0.0464*24*30, breakdown.Monthly, 1e-9)
	assert.InDelta(t, 0.0464*24*365, breakdown.Yearly, 1e-9)
	assert.InDelta(t, 0.0464*100, breakdown.Lifetime, 1e-9)
}

func TestEstimate_CachesByTypeAndSize(t *testing.T) {
	client := &mockPricing{priceList: []string{priceDoc}}
	est := NewEstimatorWithClient(client)
	defer est.Close()

	ctx := context.Background()
	_, err := est.Estimate(ctx, "EC2", "t3.medium", 1)
	require.NoError(t, err)
	_, err = est.Estimate(ctx, "EC2", "t3.medium", 500)
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls, "second estimate must hit the cache")

	_, err = est.Estimate(ctx, "EC2", "m5.large", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls, "different size is a different price")
}

func TestEstimate_UnsupportedType(t *testing.T) {
	est := NewEstimatorWithClient(&mockPricing{})
	defer est.Close()

	_, err := est.Estimate(context.Background(), "QuantumCompute", "", 0)
	assert.ErrorContains(t, err, "unsupported resource type")
}

func TestEstimate_NoPricing(t *testing.T) {
	est := NewEstimatorWithClient(&mockPricing{priceList: nil})
	defer est.Close()

	_, err := est.Estimate(context.Background(), "EIP", "", 0)
	assert.ErrorIs(t, err, ErrNoPricing)
}

func TestPriceCache_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.db")

	cache, err := NewPriceCache(path)
	require.NoError(t, err)
	cache.Put("EC2|t3.medium", 0.0464)
	cache.Put("EIP|", 0.005)
	require.NoError(t, cache.Close())

	reopened, err := NewPriceCache(path)
	require.NoError(t, err)
	defer reopened.Close()

	price, ok := reopened.Get("EC2|t3.medium")
	require.True(t, ok)
	assert.InDelta(t, 0.0464, price, 1e-9)
	assert.Equal(t, 2, reopened.Len())
}

func TestPriceCache_ConcurrentLookupDuringPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.db")
	cache, err := NewPriceCache(path)
	require.NoError(t, err)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				cache.Put(fmt.Sprintf("EC2|type-%d-%d", n, j), float64(j))
			}
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				cache.Get("EC2|type-0-0")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, cache.Len())
}
