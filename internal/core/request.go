package core

import (
	"github.com/google/uuid"

	prov "github.com/3cpo-dev/bootnode/internal/providers"
	"github.com/3cpo-dev/bootnode/pkg/api"
)

// NodeNamePrefix prefixes every generated node name.
const NodeNamePrefix = "node-"

// NodeRequest is the resolved input of one run.
type NodeRequest struct {
	Name   string
	Region string
	Image  string
}

// NewNodeName returns a fresh globally unique node name.
func NewNodeName() string { return NodeNamePrefix + uuid.NewString() }

// ResolveRequest substitutes defaults for empty fields. Supplied values are
// used as given.
func ResolveRequest(in api.NodeSpec, d prov.Defaults, newName func() string) NodeRequest {
	if newName == nil {
		newName = NewNodeName
	}
	req := NodeRequest{Name: in.Name, Region: in.Region, Image: in.Image}
	if req.Name == "" {
		req.Name = newName()
	}
	if req.Region == "" {
		req.Region = d.Region
	}
	if req.Image == "" {
		req.Image = d.Image
	}
	return req
}
