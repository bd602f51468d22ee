// Package cost estimates resource spend from live AWS Pricing API data,
// with a persistent price cache so repeated scans stay cheap.
package cost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"

	"github.com/emptyset-io/cloudsweep/telemetry"
	"github.com/emptyset-io/cloudsweep/types"
)

// The Pricing API is only served from a couple of regions; us-east-1 works
// regardless of where the scan itself runs.
const pricingRegion = "us-east-1"

// ErrNoPricing means the Pricing API returned no product for the query.
// Callers usually attach no cost to the finding and move on.
var ErrNoPricing = errors.New("no pricing information found")

// PricingAPI is the slice of the Pricing client the estimator uses.
type PricingAPI interface {
	GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

// serviceCodes maps a resource type to its Pricing API service code.
var serviceCodes = map[string]string{
	"EBS":           "AmazonEC2",
	"EC2":           "AmazonEC2",
	"EBS-Snapshots": "AmazonEC2",
	"RDS":           "AmazonRDS",
	"DynamoDB":      "AmazonDynamoDB",
	"EIP":           "AmazonEC2",
	"LoadBalancer":  "ElasticLoadBalancing",
}

// priceFilters returns the TERM_MATCH attributes for a resource type.
// size is the instance type for compute-shaped resources and ignored for
// the rest.
func priceFilters(resourceType, size string) map[string]string {
	switch resourceType {
	case "EBS":
		return map[string]string{"productFamily": "Storage", "volumeType": "General Purpose"}
	case "EC2":
		return map[string]string{"productFamily": "Compute Instance", "instanceType": size}
	case "EBS-Snapshots":
		return map[string]string{"productFamily": "Storage Snapshot"}
	case "RDS":
		return map[string]string{"productFamily": "Database Instance", "instanceType": size}
	case "DynamoDB":
		return map[string]string{"productFamily": "Non-relational Database"}
	case "EIP":
		return map[string]string{"productFamily": "IP Address"}
	case "LoadBalancer":
		return map[string]string{"productFamily": "Load Balancer"}
	}
	return nil
}

// Estimator resolves on-demand unit prices and turns them into cost
// breakdowns over standard time horizons.
type Estimator struct {
	client PricingAPI
	cache  *PriceCache
	logger *telemetry.Logger
}

// NewEstimator builds an estimator over cfg, persisting prices at
// cachePath (empty for memory-only).
func NewEstimator(cfg aws.Config, cachePath string) (*Estimator, error) {
	cache, err := NewPriceCache(cachePath)
	if err != nil {
		return nil, err
	}

	client := pricing.NewFromConfig(cfg, func(o *pricing.Options) {
		o.Region = pricingRegion
	})
	return &Estimator{
		client: client,
		cache:  cache,
		logger: telemetry.NewLogger("cost"),
	}, nil
}

// NewEstimatorWithClient is the test seam: any PricingAPI, memory-only cache.
func NewEstimatorWithClient(client PricingAPI) *Estimator {
	cache, _ := NewPriceCache("")
	return &Estimator{
		client: client,
		cache:  cache,
		logger: telemetry.NewLogger("cost"),
	}
}

// Close releases the price cache.
func (e *Estimator) Close() error {
	return e.cache.Close()
}

// Estimate computes the cost breakdown for one resource. hoursRunning
// feeds the lifetime figure; the rest are fixed projections of the hourly
// unit price.
func (e *Estimator) Estimate(ctx context.Context, resourceType, size string, hoursRunning float64) (*types.CostBreakdown, error) {
	serviceCode, ok := serviceCodes[resourceType]
	if !ok {
		return nil, fmt.Errorf("unsupported resource type: %s", resourceType)
	}
	filters := priceFilters(resourceType, size)

	hourly, err := e.unitPrice(ctx, serviceCode, resourceType, size, filters)
	if err != nil {
		return nil, err
	}

	daily := hourly * 24
	return &types.CostBreakdown{
		Hourly:   hourly,
		Daily:    daily,
		Monthly:  daily * 30,
		Yearly:   daily * 365,
		Lifetime: hourly * hoursRunning,
	}, nil
}

func (e *Estimator) unitPrice(ctx context.Context, serviceCode, resourceType, size string, filters map[string]string) (float64, error) {
	cacheKey := resourceType + "|" + size
	if price, ok := e.cache.Get(cacheKey); ok {
		return price, nil
	}

	price, err := e.fetchPrice(ctx, serviceCode, filters)
	if err != nil {
		return 0, err
	}

	e.cache.Put(cacheKey, price)
	return price, nil
}

func (e *Estimator) fetchPrice(ctx context.Context, serviceCode string, filters map[string]string) (float64, error) {
	// Sorted for stable request shape.
	fields := make([]string, 0, len(filters))
	for field := range filters {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	termMatch := make([]pricingtypes.Filter, 0, len(fields))
	for _, field := range fields {
		termMatch = append(termMatch, pricingtypes.Filter{
			Type:  pricingtypes.FilterTypeTermMatch,
			Field: aws.String(field),
			Value: aws.String(filters[field]),
		})
	}

	out, err := e.client.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String(serviceCode),
		Filters:     termMatch,
	})
	if err != nil {
		return 0, fmt.Errorf("pricing query for %s failed: %w", serviceCode, err)
	}
	if len(out.PriceList) == 0 {
		e.logger.WithContext(ctx).Warn().
			Str("service_code", serviceCode).
			Msg("no pricing information for query")
		return 0, ErrNoPricing
	}

	return parseOnDemandPrice(out.PriceList[0])
}

// parseOnDemandPrice digs the USD price per unit out of one Pricing API
// product document: terms.OnDemand.<term>.priceDimensions.<dim>.pricePerUnit.USD.
func parseOnDemandPrice(doc string) (float64, error) {
	var product struct {
		Terms struct {
			OnDemand map[string]struct {
				PriceDimensions map[string]struct {
					PricePerUnit map[string]string `json:"pricePerUnit"`
				} `json:"priceDimensions"`
			} `json:"OnDemand"`
		} `json:"terms"`
	}
	if err := json.Unmarshal([]byte(doc), &product); err != nil {
		return 0, fmt.Errorf("malformed pricing document: %w", err)
	}

	for _, term := range product.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			usd, ok := dim.PricePerUnit["USD"]
			if !ok {
				continue
			}
			price, err := strconv.ParseFloat(usd, 64)
			if err != nil {
				return 0, fmt.Errorf("malformed price %q: %w", usd, err)
			}
			return price, nil
		}
	}
	return 0, ErrNoPricing
}
