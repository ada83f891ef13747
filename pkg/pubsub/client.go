package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/localcommerce-settlement/pkg/config"
	"github.com/angelmondragon/localcommerce-settlement/pkg/logger"
)

type resourceKind string

const (
	kindTopic        resourceKind = "topics"
	kindSubscription resourceKind = "subscriptions"
)

// Resource is a topic or subscription a process depends on. Names may be
// short ids or full resource names.
type Resource struct {
	kind resourceKind
	name string
}

func Topic(name string) Resource        { return Resource{kind: kindTopic, name: strings.TrimSpace(name)} }
func Subscription(name string) Resource { return Resource{kind: kindSubscription, name: strings.TrimSpace(name)} }

func (r Resource) path(projectID string) string {
	if strings.HasPrefix(r.name, "projects/") && strings.Contains(r.name, "/"+string(r.kind)+"/") {
		return r.name
	}
	return fmt.Sprintf("projects/%s/%s/%s", projectID, r.kind, r.name)
}

// Client is a Pub/Sub v2 client bound to the resources one process needs.
type Client struct {
	ps        *pubsub.Client
	projectID string
	required  []Resource
}

// NewClient connects and checks that every required resource exists. Ping
// repeats the same checks.
func NewClient(ctx context.Context, gcp config.GCPConfig, logg *logger.Logger, required ...Resource) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errors.New("gcp project id is required")
	}
	if len(required) == 0 {
		return nil, errors.New("at least one topic or subscription is required")
	}
	for _, res := range required {
		if res.name == "" {
			return nil, fmt.Errorf("pubsub %s name is required", strings.TrimSuffix(string(res.kind), "s"))
		}
	}

	ps, err := pubsub.NewClient(ctx, projectID, gcp.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{ps: ps, projectID: projectID, required: required}
	if err := c.Ping(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "resources", len(required)), "pubsub client initialized")
	}
	return c, nil
}

// Ping checks every required resource still exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.ps == nil {
		return errors.New("pubsub client not initialized")
	}
	for _, res := range c.required {
		if err := c.check(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) check(ctx context.Context, res Resource) error {
	path := res.path(c.projectID)
	var err error
	switch res.kind {
	case kindTopic:
		_, err = c.ps.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: path})
	default:
		_, err = c.ps.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: path})
	}
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s does not exist", path)
	default:
		return fmt.Errorf("checking %s: %w", path, err)
	}
}

// Subscriber returns a receive handle for a subscription id or path.
func (c *Client) Subscriber(name string) *pubsub.Subscriber {
	res := Subscription(name)
	if c == nil || c.ps == nil || res.name == "" {
		return nil
	}
	return c.ps.Subscriber(res.path(c.projectID))
}

// Publisher returns a batching publisher for a topic id or path.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	res := Topic(name)
	if c == nil || c.ps == nil || res.name == "" {
		return nil
	}
	return c.ps.Publisher(res.path(c.projectID))
}

func (c *Client) Close() error {
	if c == nil || c.ps == nil {
		return nil
	}
	return c.ps.Close()
}
