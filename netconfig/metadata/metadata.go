// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

// Package metadata fetches the instance view from the metadata service. The
// reconciliation engine only consumes the types defined here; the service
// itself is an external collaborator.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultEndpoint is the link-local metadata service address.
	DefaultEndpoint = "http://169.254.169.254/opc/v2"

	// The service rejects requests without the bearer header.
	authHeader = "Bearer Oracle"

	requestTimeout = 2 * time.Second
)

func mdLog() *logrus.Entry {
	return logrus.WithField("source", "netconfig/metadata")
}

// VNIC is one virtual network interface attachment as declared by the
// control plane.
type VNIC struct {
	MACAddr             string `json:"macAddr"`
	PrivateIP           string `json:"privateIp"`
	SubnetCIDRBlock     string `json:"subnetCidrBlock"`
	VirtualRouterIP     string `json:"virtualRouterIp"`
	VlanTag             int    `json:"vlanTag"`
	VnicID              string `json:"vnicId"`
	NicIndex            *int   `json:"nicIndex,omitempty"`
	IPv6SubnetCIDRBlock string `json:"ipv6SubnetCidrBlock,omitempty"`
	IPv6VirtualRouterIP string `json:"ipv6VirtualRouterIp,omitempty"`
}

// Instance carries the instance attributes the engine needs.
type Instance struct {
	ID    string `json:"id"`
	Shape string `json:"shape"`
}

// InstanceMetadata is a snapshot of the declared network topology.
type InstanceMetadata struct {
	Instance Instance
	VNICs    []VNIC
}

// IsBareMetal reports whether the instance shape wires VNICs through the
// virtual-function/macvlan/VLAN chain instead of plumbing them directly.
func (m *InstanceMetadata) IsBareMetal() bool {
	return strings.HasPrefix(m.Instance.Shape, "BM")
}

// FindVNIC returns the declared VNIC with the given id.
func (m *InstanceMetadata) FindVNIC(vnicID string) (VNIC, bool) {
	for _, v := range m.VNICs {
		if v.VnicID == vnicID {
			return v, true
		}
	}
	return VNIC{}, false
}

// Fetcher retrieves the instance metadata snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) (*InstanceMetadata, error)
}

// Client is the HTTP metadata service client.
type Client struct {
	Endpoint   string
	HTTPClient *http.Client
}

// NewClient returns a Client against the default endpoint.
func NewClient() *Client {
	return &Client{
		Endpoint:   DefaultEndpoint,
		HTTPClient: &http.Client{Timeout: requestTimeout},
	}
}

// Fetch retrieves the instance and vnics documents.
func (c *Client) Fetch(ctx context.Context) (*InstanceMetadata, error) {
	md := &InstanceMetadata{}

	if err := c.get(ctx, "/instance/", &md.Instance); err != nil {
		return nil, err
	}

	if err := c.get(ctx, "/vnics/", &md.VNICs); err != nil {
		return nil, err
	}

	mdLog().WithFields(logrus.Fields{
		"shape": md.Instance.Shape,
		"vnics": len(md.VNICs),
	}).Debug("Fetched instance metadata")

	return md, nil
}

func (c *Client) get(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequest("GET", c.Endpoint+path, nil)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", authHeader)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("metadata request %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata request %s failed: status %d", path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
