// internal/storage/models/curve.go
package models

import (
	"errors"
	"time"

	"github.com/holiman/uint256"
)

// CurveRecord is a curve created through the bundler.
type CurveRecord struct {
	Curve     string
	Token     string
	Creator   string
	Name      string
	Symbol    string
	TokenURI  string
	DeployFee *uint256.Int
	CreatedAt time.Time
}

func (c *CurveRecord) Validate() error {
	if c == nil {
		return errors.New("nil curve record")
	}
	if c.Curve == "" || c.Token == "" {
		return errors.New("curve and token are required")
	}
	if c.DeployFee == nil {
		return errors.New("deploy_fee is required")
	}
	return nil
}

func (c *CurveRecord) Clone() *CurveRecord {
	cp := *c
	cp.DeployFee = c.DeployFee.Clone()
	return &cp
}
