package client

import (
	"context"
	"net/http"
	"net/url"
)

// PartitionService manages the partition registry of a node.
type PartitionService struct {
	c *Client
}

// List returns every registered partition.
func (s *PartitionService) List(ctx context.Context) ([]Partition, error) {
	var resp struct {
		Items []Partition `json:"items"`
	}
	err := s.c.do(ctx, "list_partitions", http.MethodGet, "/api/v1/partitions", nil, &resp)
	return resp.Items, err
}

// Put creates or replaces a partition.
func (s *PartitionService) Put(ctx context.Context, p Partition) (Partition, error) {
	body := struct {
		Endpoint    string   `json:"endpoint,omitempty"`
		Keywords    []string `json:"keywords"`
		KeywordLoad int      `json:"keyword_load"`
		Status      string   `json:"status"`
	}{p.Endpoint, p.Keywords, p.KeywordLoad, string(p.Status)}

	var out Partition
	err := s.c.do(ctx, "put_partition", http.MethodPut, "/api/v1/partitions/"+url.PathEscape(p.ID), body, &out)
	return out, err
}
