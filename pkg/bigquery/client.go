package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/localcommerce-settlement/pkg/config"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	ErrNotInitialized = errors.New("bigquery client not initialized")
	errTableRequired  = errors.New("bigquery table name is required")
)

// Client wraps one dataset of the analytics warehouse.
type Client struct {
	bq      *bigquery.Client
	dataset *bigquery.Dataset
	tables  []string
	logg    *logger.Logger
}

// NewClient connects to the configured dataset and checks it exists. Tables
// are checked separately through EnsureTable so callers can create them.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	datasetID := strings.TrimSpace(cfg.Dataset)
	switch {
	case projectID == "":
		return nil, errors.New("gcp project id is required")
	case datasetID == "":
		return nil, errors.New("bigquery dataset is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}

	bq, err := bigquery.NewClient(ctx, projectID, gcp.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{bq: bq, dataset: bq.Dataset(datasetID), logg: logg}

	checkCtx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	if _, err := c.dataset.Metadata(checkCtx); err != nil {
		_ = bq.Close()
		if notFound(err) {
			return nil, fmt.Errorf("dataset %q does not exist", datasetID)
		}
		return nil, fmt.Errorf("checking dataset %q: %w", datasetID, err)
	}

	logg.Info(logg.WithField(ctx, "dataset", datasetID), "bigquery client initialized")
	return c, nil
}

// EnsureTable checks that a table exists. With create set, a missing table is
// created from schema, partitioned by day on partitionField when it is given.
// Ensured tables are re-checked by Ping.
func (c *Client) EnsureTable(ctx context.Context, name string, schema bigquery.Schema, partitionField string, create bool) error {
	if c == nil || c.dataset == nil {
		return ErrNotInitialized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errTableRequired
	}

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	table := c.dataset.Table(name)
	_, err := table.Metadata(ctx)
	switch {
	case err == nil:
	case notFound(err) && create:
		meta := &bigquery.TableMetadata{Schema: schema}
		if partitionField != "" {
			meta.TimePartitioning = &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: partitionField}
		}
		if err := table.Create(ctx, meta); err != nil && !alreadyExists(err) {
			return fmt.Errorf("creating table %q: %w", name, err)
		}
		c.logg.Info(c.logg.WithField(ctx, "table", name), "bigquery table created")
	case notFound(err):
		return fmt.Errorf("table %q does not exist", name)
	default:
		return fmt.Errorf("checking table %q: %w", name, err)
	}

	for _, known := range c.tables {
		if known == name {
			return nil
		}
	}
	c.tables = append(c.tables, name)
	return nil
}

// Ping re-reads the metadata of the dataset and every ensured table.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return ErrNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	if _, err := c.dataset.Metadata(ctx); err != nil {
		return fmt.Errorf("dataset %q: %w", c.dataset.DatasetID, err)
	}
	for _, name := range c.tables {
		if _, err := c.dataset.Table(name).Metadata(ctx); err != nil {
			return fmt.Errorf("table %q: %w", name, err)
		}
	}
	return nil
}

// InsertRows streams rows into a table of the dataset.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.dataset == nil {
		return ErrNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

func (c *Client) Close() error {
	if c == nil || c.bq == nil {
		return nil
	}
	return c.bq.Close()
}

func notFound(err error) bool {
	return apiStatus(err) == http.StatusNotFound
}

func alreadyExists(err error) bool {
	return apiStatus(err) == http.StatusConflict
}

func apiStatus(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
