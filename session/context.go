// Package session manages the credential hierarchy for organization-wide
// scans: root identity, organization role, per-account runner roles, and
// region-scoped clones.
package session

import (
	"github.com/aws/aws-sdk-go-v2/aws"
)

// Context is an immutable credential bundle bound to one account and region.
// Deriving a new scope always produces a new value; a parent is never
// mutated, so contexts are safe to share across goroutines.
type Context struct {
	cfg       aws.Config
	accountID string
}

// NewContext wraps an AWS config and owning account into a Context.
func NewContext(cfg aws.Config, accountID string) Context {
	return Context{cfg: cfg, accountID: accountID}
}

// Config returns the AWS SDK config for building service clients.
func (c Context) Config() aws.Config {
	return c.cfg
}

// AccountID returns the owning account.
func (c Context) AccountID() string {
	return c.accountID
}

// Region returns the region this context is bound to.
func (c Context) Region() string {
	return c.cfg.Region
}

// WithRegion clones the context into a new one bound to another region.
// Credential material is shared; the receiver is left untouched.
func (c Context) WithRegion(region string) Context {
	cfg := c.cfg.Copy()
	cfg.Region = region
	return Context{cfg: cfg, accountID: c.accountID}
}
