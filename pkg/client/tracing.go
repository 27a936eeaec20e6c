package client

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const loginSpanName = "kbengine.login"

// startLoginSpan opens the span covering one login attempt. An attempt still
// in flight is ended as superseded.
func (c *Client) startLoginSpan(ctx context.Context, kind string) {
	if c.loginSpan != nil {
		c.loginSpan.SetStatus(codes.Error, "superseded")
		c.loginSpan.End()
	}

	_, span := c.tracer.Start(ctx, loginSpanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("kbengine.attempt_id", uuid.NewString()),
			attribute.String("kbengine.client_id", c.id),
			attribute.String("kbengine.login_kind", kind),
			attribute.String("kbengine.account", c.username),
		))
	c.loginSpan = span
}

// endLoginSpan closes the current login span, if any.
func (c *Client) endLoginSpan(err error) {
	if c.loginSpan == nil {
		return
	}
	if err != nil {
		c.loginSpan.RecordError(err)
		c.loginSpan.SetStatus(codes.Error, err.Error())
	} else {
		c.loginSpan.SetStatus(codes.Ok, "")
	}
	c.loginSpan.End()
	c.loginSpan = nil
}
