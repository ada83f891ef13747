package main

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/angelmondragon/localcommerce-settlement/internal/bootstrap"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

type fakeConsumer struct {
	ran bool
	err error
}

func (f *fakeConsumer) Run(context.Context) error {
	f.ran = true
	return f.err
}

func healthy(name string) bootstrap.Check {
	return bootstrap.Check{Name: name, Ping: func(context.Context) error { return nil }}
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard})
}

func TestRunConsumerStopsOnFailedReadiness(t *testing.T) {
	c := &fakeConsumer{}
	down := bootstrap.Check{Name: "redis", Ping: func(context.Context) error { return errors.New("refused") }}
	if err := runConsumer(context.Background(), quietLogger(), c, healthy("database"), down); err == nil {
		t.Fatalf("expected readiness error")
	}
	if c.ran {
		t.Fatalf("consumer must not start when a dependency is down")
	}
}

func TestRunConsumerReturnsConsumerError(t *testing.T) {
	c := &fakeConsumer{err: errors.New("subscription deleted")}
	err := runConsumer(context.Background(), quietLogger(), c, healthy("database"))
	if err == nil || err.Error() != "subscription deleted" {
		t.Fatalf("expected consumer error, got %v", err)
	}
}

func TestRunConsumerTreatsCancelAsClean(t *testing.T) {
	c := &fakeConsumer{err: context.Canceled}
	if err := runConsumer(context.Background(), quietLogger(), c, healthy("pubsub")); err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
	if !c.ran {
		t.Fatalf("consumer should have run")
	}
}

func TestRunConsumerRequiresConsumer(t *testing.T) {
	if err := runConsumer(context.Background(), quietLogger(), nil); err == nil {
		t.Fatalf("expected error without consumer")
	}
}
