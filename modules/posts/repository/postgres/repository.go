package postgres

import (
	"github.com/mapfeed/mapfeed-indexer/internal/postgres"
	"github.com/mapfeed/mapfeed-indexer/modules/posts/datagateway"
)

// Repository implements the posts data gateway on PostgreSQL.
type Repository struct {
	db postgres.DB
}

func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

var _ datagateway.PostsDataGateway = (*Repository)(nil)
