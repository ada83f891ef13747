package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/localcommerce-settlement/internal/analytics/types"
)

// PartitionField is the column the settlements table is partitioned on.
const PartitionField = "occurred_at"

// RetryPolicy bounds streaming insert retries. Zero values take defaults.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 250 * time.Millisecond
	}
	if p.MaximumBackoff < p.InitialBackoff {
		p.MaximumBackoff = max(2*time.Second, p.InitialBackoff)
	}
	return p
}

type Config struct {
	SettlementsTable string
	RetryPolicy      RetryPolicy
}

type inserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter streams settlement rows one event at a time, so that a
// message is only acked once its row is stored.
type BigQueryWriter struct {
	client inserter
	table  string
	retry  RetryPolicy
}

func New(client inserter, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table := strings.TrimSpace(cfg.SettlementsTable)
	if table == "" {
		return nil, errors.New("settlements table is required")
	}
	return &BigQueryWriter{client: client, table: table, retry: cfg.RetryPolicy.withDefaults()}, nil
}

func (w *BigQueryWriter) Table() string { return w.table }

// InsertSettlement writes one row, retrying transient failures with
// capped exponential backoff.
func (w *BigQueryWriter) InsertSettlement(ctx context.Context, row types.SettlementRow) error {
	rows := []any{&row}
	attempts := 0
	err := retry.Do(ctx, w.backoff(), func(ctx context.Context) error {
		attempts++
		err := w.client.InsertRows(ctx, w.table, rows)
		if err != nil && Retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("insert into %s after %d attempt(s): %w", w.table, attempts, err)
	}
	return nil
}

func (w *BigQueryWriter) backoff() retry.Backoff {
	b := retry.NewExponential(w.retry.InitialBackoff)
	b = retry.WithCappedDuration(w.retry.MaximumBackoff, b)
	return retry.WithMaxRetries(uint64(w.retry.MaxAttempts-1), b)
}

// Retryable reports whether every failure inside err is transient. Row level
// errors are unwrapped; a single permanent row error makes the batch permanent.
func Retryable(err error) bool {
	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		return allRetryable(multi)
	}
	var putErr cbigquery.PutMultiError
	if errors.As(err, &putErr) {
		if len(putErr) == 0 {
			return false
		}
		for _, rowErr := range putErr {
			if !allRetryable(rowErr.Errors) {
				return false
			}
		}
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
			return true
		}
	}
	return false
}

func allRetryable(errs cbigquery.MultiError) bool {
	if len(errs) == 0 {
		return false
	}
	for _, inner := range errs {
		if !Retryable(inner) {
			return false
		}
	}
	return true
}

// SettlementSchema is the settlements table layout, matching types.SettlementRow.
func SettlementSchema() cbigquery.Schema {
	col := func(name string, typ cbigquery.FieldType, required bool) *cbigquery.FieldSchema {
		return &cbigquery.FieldSchema{Name: name, Type: typ, Required: required}
	}
	return cbigquery.Schema{
		col("event_id", cbigquery.StringFieldType, true),
		col("event_type", cbigquery.StringFieldType, true),
		col("outcome", cbigquery.StringFieldType, true),
		col("occurred_at", cbigquery.TimestampFieldType, true),
		col("order_id", cbigquery.StringFieldType, true),
		col("business_id", cbigquery.StringFieldType, false),
		col("user_id", cbigquery.StringFieldType, false),
		col("provider", cbigquery.StringFieldType, true),
		col("correlation_id", cbigquery.StringFieldType, false),
		col("currency", cbigquery.StringFieldType, false),
		col("gross_cents", cbigquery.IntegerFieldType, true),
		col("commission_cents", cbigquery.IntegerFieldType, true),
		col("business_amount_cents", cbigquery.IntegerFieldType, true),
		col("commission_rate", cbigquery.StringFieldType, false),
		col("commission_source", cbigquery.StringFieldType, false),
		col("commission_tier", cbigquery.StringFieldType, false),
		col("points_redeemed", cbigquery.IntegerFieldType, true),
		col("points_earned", cbigquery.IntegerFieldType, true),
		col("stock_shortages", cbigquery.IntegerFieldType, true),
		col("failure_reason", cbigquery.StringFieldType, false),
		col("items", cbigquery.JSONFieldType, false),
		col("payload", cbigquery.JSONFieldType, false),
	}
}

// EncodeJSON converts a value for a JSON column. Raw bytes pass through;
// nil and empty input give a NULL column.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	var raw []byte
	switch value := payload.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case cbigquery.NullJSON:
		return value, nil
	case json.RawMessage:
		raw = value
	case []byte:
		raw = value
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
		}
		raw = encoded
	}
	if len(raw) == 0 {
		return cbigquery.NullJSON{}, nil
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(raw)}, nil
}
