package inventory

import "github.com/codewandler/inventory-es/core/es"

// Repository loads and saves inventory items.
type Repository = es.Repository[*Item]

func NewRepository(store es.EventStore, registry *es.Registry, opts ...es.RepositoryOption) *Repository {
	return es.NewRepository(store, registry, Streams, New, opts...)
}
