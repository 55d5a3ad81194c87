package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/inboxbell/internal/instrumentation"
)

const (
	// MaxAttachmentSize defines the maximum attachment size in bytes (25MB)
	MaxAttachmentSize = 25 * 1024 * 1024

	userID = "me"
)

// ErrNotFound is returned when a message or attachment does not exist or has no content.
var ErrNotFound = errors.New("not found")

// Mailbox is the read-only view of one tenant's mailbox.
type Mailbox interface {
	// ListRecent returns up to maxResults message ids, newest first.
	// An empty query lists the whole mailbox.
	ListRecent(ctx context.Context, query string, maxResults int64) ([]string, error)

	// FetchMessage returns the parsed message. A missing message yields ErrNotFound.
	FetchMessage(ctx context.Context, id string) (*Message, error)

	// FetchAttachment returns the decoded attachment payload.
	FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// HTTPClient must already carry the tenant's credentials.
	HTTPClient *http.Client

	// Metrics may be nil.
	Metrics *instrumentation.Metrics

	// Options are appended after the HTTP client option (tests use option.WithEndpoint).
	Options []option.ClientOption
}

// Client implements Mailbox on top of the Gmail Users service.
type Client struct {
	svc     *gmail.UsersService
	metrics *instrumentation.Metrics
}

var _ Mailbox = (*Client)(nil)

// NewClient creates a Gmail client that sends every request through cfg.HTTPClient.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.HTTPClient == nil {
		return nil, fmt.Errorf("gmail client requires an authenticated HTTP client")
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(cfg.HTTPClient)}, cfg.Options...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &Client{svc: svc.Users, metrics: cfg.Metrics}, nil
}

// ListRecent lists message ids in provider order.
func (c *Client) ListRecent(ctx context.Context, query string, maxResults int64) ([]string, error) {
	var ids []string
	err := c.observe(ctx, instrumentation.OperationList, nil, func(ctx context.Context) error {
		req := c.svc.Messages.List(userID).MaxResults(maxResults).Context(ctx)
		if query != "" {
			req = req.Q(query)
		}
		res, err := req.Do()
		if err != nil {
			return fmt.Errorf("failed to list messages: %w", err)
		}
		ids = make([]string, 0, len(res.Messages))
		for _, m := range res.Messages {
			ids = append(ids, m.Id)
		}
		return nil
	})
	return ids, err
}

// FetchMessage retrieves and parses a full message.
func (c *Client) FetchMessage(ctx context.Context, id string) (*Message, error) {
	if id == "" {
		return nil, fmt.Errorf("message id is required")
	}

	var msg *Message
	err := c.observe(ctx, instrumentation.OperationGet, []attribute.KeyValue{messageAttr(id)}, func(ctx context.Context) error {
		raw, err := c.svc.Messages.Get(userID, id).Format("full").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to get message %s: %w", id, notFound(err))
		}
		msg = ParseMessage(raw)
		return nil
	})
	return msg, err
}

// FetchAttachment retrieves the content of an attachment.
func (c *Client) FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	if messageID == "" {
		return nil, fmt.Errorf("messageID is required")
	}
	if attachmentID == "" {
		return nil, fmt.Errorf("attachmentID is required")
	}

	var data []byte
	err := c.observe(ctx, instrumentation.OperationGetAttachment, []attribute.KeyValue{messageAttr(messageID)}, func(ctx context.Context) error {
		att, err := c.svc.Messages.Attachments.Get(userID, messageID, attachmentID).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to get attachment %s: %w", attachmentID, notFound(err))
		}

		if att.Size > MaxAttachmentSize {
			return fmt.Errorf("attachment size %d exceeds maximum size %d", att.Size, MaxAttachmentSize)
		}
		if att.Data == "" {
			return fmt.Errorf("attachment %s has no data: %w", attachmentID, ErrNotFound)
		}

		data, err = decodeData(att.Data)
		if err != nil {
			return fmt.Errorf("failed to decode attachment data: %w", err)
		}
		return nil
	})
	return data, err
}

func (c *Client) observe(ctx context.Context, operation string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := instrumentation.StartAPISpan(ctx, instrumentation.ServiceGmail, operation, attrs...)
	start := time.Now()

	err := fn(ctx)

	c.metrics.RecordAPIOperation(ctx, instrumentation.ServiceGmail, operation, instrumentation.StatusFor(err), time.Since(start))
	instrumentation.EndSpan(span, err)
	return err
}

func messageAttr(id string) attribute.KeyValue {
	return attribute.String(instrumentation.SpanAttrMessageID, id)
}

// notFound maps a 404 from the API onto ErrNotFound, keeping the original error in the chain.
func notFound(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return errors.Join(ErrNotFound, err)
	}
	return err
}
